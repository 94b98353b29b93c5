package store

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// Message types the core reads.
const (
	TypePost    = "post"
	TypeBlog    = "blog"
	TypeVote    = "vote"
	TypeAbout   = "about"
	TypeContact = "contact"
)

// Message is one immutable entry of an author's append-only log.
type Message struct {
	ID        string
	Author    string
	Sequence  int64
	Timestamp time.Time
	Content   Content
	// Private is set for messages addressed to recipients.
	Private bool
	// Encrypted is set when the content could not be unboxed for this reader.
	Encrypted bool
}

type Content struct {
	Type       string
	Text       string
	HasText    bool
	Root       string
	Fork       string
	Branch     []string
	Recipients []string
	Title      string
	Summary    string
	Blog       string
	Vote       *Vote
	About      string
	Name       string
	Image      string
	// Description is the profile text of an about message.
	Description string
	PublicWeb   *bool
}

// Vote is the payload of a vote message.
type Vote struct {
	Link       string
	Value      float64
	Expression string
}

// Profile is the folded identity information for one feed id.
type Profile struct {
	ID          string
	Name        string
	Image       string
	Description string
	PublicWeb   bool
}

type rawContent struct {
	Type        string          `json:"type"`
	Text        json.RawMessage `json:"text"`
	Root        json.RawMessage `json:"root"`
	Fork        json.RawMessage `json:"fork"`
	Branch      json.RawMessage `json:"branch"`
	Recps       json.RawMessage `json:"recps"`
	Title       string          `json:"title"`
	Summary     string          `json:"summary"`
	Blog        string          `json:"blog"`
	Vote        *rawVote        `json:"vote"`
	About       string          `json:"about"`
	Name        string          `json:"name"`
	Image       json.RawMessage `json:"image"`
	Description string          `json:"description"`
	PublicWeb   *bool           `json:"publicWebHosting"`
}

type rawVote struct {
	Link       string  `json:"link"`
	Value      float64 `json:"value"`
	Expression string  `json:"expression"`
}

// DecodeContent parses a JSON message content. Link fields may be encoded as
// a bare id, a {link} object or a list of either; only the first id of root
// and fork is kept.
func DecodeContent(data []byte) (Content, error) {
	var raw rawContent
	if err := json.Unmarshal(data, &raw); err != nil {
		return Content{}, err
	}
	content := Content{
		Type:        raw.Type,
		Title:       raw.Title,
		Summary:     raw.Summary,
		Blog:        raw.Blog,
		About:       raw.About,
		Name:        raw.Name,
		Description: raw.Description,
		PublicWeb:   raw.PublicWeb,
	}
	if len(raw.Text) > 0 {
		var text string
		if err := json.Unmarshal(raw.Text, &text); err == nil {
			content.Text = text
			content.HasText = true
		}
	}
	if links := decodeLinks(raw.Root); len(links) > 0 {
		content.Root = links[0]
	}
	if links := decodeLinks(raw.Fork); len(links) > 0 {
		content.Fork = links[0]
	}
	content.Branch = decodeLinks(raw.Branch)
	content.Recipients = decodeLinks(raw.Recps)
	if images := decodeLinks(raw.Image); len(images) > 0 {
		content.Image = images[0]
	}
	if raw.Vote != nil {
		content.Vote = &Vote{Link: raw.Vote.Link, Value: raw.Vote.Value, Expression: raw.Vote.Expression}
	}
	return content, nil
}

func decodeLinks(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if strings.TrimSpace(single) == "" {
			return nil
		}
		return []string{single}
	}
	var object struct {
		Link string `json:"link"`
	}
	if err := json.Unmarshal(raw, &object); err == nil && object.Link != "" {
		return []string{object.Link}
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}
	links := make([]string, 0, len(list))
	for _, item := range list {
		links = append(links, decodeLinks(item)...)
	}
	return links
}

// Clamped returns the vote value limited to [-1, 1]. Non-numeric values
// count as zero.
func (v Vote) Clamped() float64 {
	switch {
	case math.IsNaN(v.Value):
		return 0
	case v.Value > 1:
		return 1
	case v.Value < -1:
		return -1
	default:
		return v.Value
	}
}
