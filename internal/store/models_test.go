package store

import (
	"context"
	"math"
	"testing"
)

func TestDecodeContent(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		check func(t *testing.T, c Content)
	}{
		{
			name: "post with string links",
			raw:  `{"type":"post","text":"hi","root":"%r","fork":"%f","branch":["%b1","%b2"]}`,
			check: func(t *testing.T, c Content) {
				if !c.HasText || c.Text != "hi" {
					t.Fatalf("unexpected text: %+v", c)
				}
				if c.Root != "%r" || c.Fork != "%f" || len(c.Branch) != 2 {
					t.Fatalf("unexpected links: %+v", c)
				}
			},
		},
		{
			name: "non string text",
			raw:  `{"type":"post","text":{"nested":true}}`,
			check: func(t *testing.T, c Content) {
				if c.HasText {
					t.Fatalf("expected HasText=false, got %+v", c)
				}
			},
		},
		{
			name: "recipients as objects",
			raw:  `{"type":"post","text":"dm","recps":["@a",{"link":"@b","name":"bee"}]}`,
			check: func(t *testing.T, c Content) {
				if len(c.Recipients) != 2 || c.Recipients[0] != "@a" || c.Recipients[1] != "@b" {
					t.Fatalf("unexpected recipients: %v", c.Recipients)
				}
			},
		},
		{
			name: "vote",
			raw:  `{"type":"vote","vote":{"link":"%m","value":1,"expression":"Like"}}`,
			check: func(t *testing.T, c Content) {
				if c.Vote == nil || c.Vote.Link != "%m" || c.Vote.Value != 1 {
					t.Fatalf("unexpected vote: %+v", c.Vote)
				}
			},
		},
		{
			name: "about with image object",
			raw:  `{"type":"about","about":"@a","name":"alice","image":{"link":"&img"},"publicWebHosting":true}`,
			check: func(t *testing.T, c Content) {
				if c.Name != "alice" || c.Image != "&img" || c.PublicWeb == nil || !*c.PublicWeb {
					t.Fatalf("unexpected about: %+v", c)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			content, err := DecodeContent([]byte(tc.raw))
			if err != nil {
				t.Fatalf("DecodeContent() error = %v", err)
			}
			tc.check(t, content)
		})
	}
}

func TestFoldProfileLastWriteWins(t *testing.T) {
	public := true
	profiles := map[string]Profile{}
	FoldProfile(profiles, Message{Author: "@a", Content: Content{Type: TypeAbout, About: "@a", Name: "old", Image: "&one"}})
	FoldProfile(profiles, Message{Author: "@a", Content: Content{Type: TypeAbout, About: "@a", Name: "new", PublicWeb: &public}})
	FoldProfile(profiles, Message{Author: "@b", Content: Content{Type: TypeAbout, About: "@a", Name: "impostor"}})

	got := profiles["@a"]
	if got.Name != "new" || got.Image != "&one" || !got.PublicWeb {
		t.Fatalf("unexpected profile: %+v", got)
	}
	if _, ok := profiles["@b"]; ok {
		t.Fatal("about messages describing others must be ignored")
	}
}

func TestCollectDrainsStream(t *testing.T) {
	items, err := Collect(context.Background(), NewSliceStream([]Message{{ID: "%1"}, {ID: "%2"}}))
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(items) != 2 || items[0].ID != "%1" || items[1].ID != "%2" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestVoteClamped(t *testing.T) {
	cases := []struct {
		value float64
		want  float64
	}{
		{value: 1, want: 1},
		{value: 5, want: 1},
		{value: -3, want: -1},
		{value: 0.5, want: 0.5},
		{value: 0, want: 0},
	}
	for _, tc := range cases {
		if got := (Vote{Value: tc.value}).Clamped(); got != tc.want {
			t.Fatalf("Clamped(%v) = %v, want %v", tc.value, got, tc.want)
		}
	}
	if got := (Vote{Value: math.NaN()}).Clamped(); got != 0 {
		t.Fatalf("Clamped(NaN) = %v", got)
	}
}
