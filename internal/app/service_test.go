package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"tangle/api/internal/auth"
	"tangle/api/internal/config"
	"tangle/api/internal/identity"
	"tangle/api/internal/search"
	"tangle/api/internal/store"
	"tangle/api/internal/store/storetest"
)

var at = storetest.Epoch

type fakeSearch struct {
	ids       []string
	reindexed int
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	resp := search.Response{Query: q.Text, Results: []search.Result{}}
	for _, id := range f.ids {
		resp.Results = append(resp.Results, search.Result{ID: id})
	}
	return resp
}

func (f *fakeSearch) ReindexAllFromPG(context.Context) {
	f.reindexed++
}

func testConfig() config.Config {
	return config.Config{
		Viewer:         "@me",
		JWTSecret:      "secret",
		Workers:        2,
		FeedLimit:      20,
		RateLimitRPS:   100,
		RateLimitBurst: 100,
		CORSOrigin:     "*",
	}
}

// newWorld is a small social graph: @me follows @alice and @bob and blocks
// @troll. @alice opted into public display.
func newWorld() *storetest.Memory {
	mem := storetest.New(
		storetest.About("%aboutA", "@alice", "alice", "&img", true, at),
		storetest.About("%aboutB", "@bob", "bob", "", false, at),
		storetest.Post("%R", "@alice", "root", "", "", at.Add(time.Minute)),
		storetest.Post("%C1", "@bob", "reply one", "%R", "", at.Add(2*time.Minute)),
		storetest.Post("%C2", "@stranger", "reply two", "%R", "", at.Add(3*time.Minute)),
		storetest.Post("%T", "@troll", "spam", "", "", at.Add(4*time.Minute)),
		storetest.Post("%S", "@stranger", "hello world", "", "", at.Add(5*time.Minute)),
		storetest.Vote("%v1", "@me", "%R", 1, at.Add(6*time.Minute)),
	)
	mem.SetFriend("@me", "@alice", 1)
	mem.SetFriend("@me", "@bob", 0)
	mem.SetFriend("@me", "@troll", -1)
	return mem
}

func newTestServer(mem *storetest.Memory, cfg config.Config, searcher searchBackend) (*Service, http.Handler) {
	dir := identity.NewDirectory(identity.NewCache(mem, nil, 0), "/blob/")
	svc := New(cfg, mem, dir, nil, searcher)
	return svc, NewHTTPServer(svc, cfg.CORSOrigin).Handler()
}

func get(h http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
	return out
}

type itemsResponse struct {
	Items []MessageView `json:"items"`
}

func itemIDs(items []MessageView) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestThreadEndpoint(t *testing.T) {
	_, h := newTestServer(newWorld(), testConfig(), nil)

	rr := get(h, "/api/threads/"+url.PathEscape("%C1"), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	view := decode[ThreadView](t, rr)
	if view.Root != "%R" || view.Target != "%C1" {
		t.Fatalf("unexpected thread: %+v", view)
	}
	if got := itemIDs(view.Messages); !sameIDs(got, []string{"%R", "%C1", "%C2"}) {
		t.Fatalf("unexpected order: %v", got)
	}
	root, c1, c2 := view.Messages[0], view.Messages[1], view.Messages[2]
	if root.Depth != 0 || c1.Depth != 1 || c2.Depth != 1 {
		t.Fatalf("unexpected depths: %d %d %d", root.Depth, c1.Depth, c2.Depth)
	}
	if root.Target || !c1.Target || c2.Target {
		t.Fatal("expected only the requested message to be the target")
	}
	if root.PostKind != "root" || c1.PostKind != "comment" {
		t.Fatalf("unexpected kinds: %s %s", root.PostKind, c1.PostKind)
	}
	if root.AuthorName != "alice" || root.AuthorAvatar != "/blob/&img" {
		t.Fatalf("unexpected identity: %q %q", root.AuthorName, root.AuthorAvatar)
	}
	if !root.ViewerLiked || root.Likes != 1 {
		t.Fatalf("expected the viewer's like on the root, got %+v", root)
	}
}

func TestThreadEndpointNotFound(t *testing.T) {
	_, h := newTestServer(newWorld(), testConfig(), nil)

	rr := get(h, "/api/threads/"+url.PathEscape("%nope"), "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	body := decode[map[string]any](t, rr)
	if body["code"] != "NOT_FOUND" || body["error"] != "Message not found, try again later" {
		t.Fatalf("unexpected error body: %v", body)
	}
}

func TestThreadEndpointStoreUnavailable(t *testing.T) {
	mem := newWorld()
	mem.Errors["refs:%R"] = &store.UnavailableError{Op: "reverse references", Err: errors.New("connection reset")}
	_, h := newTestServer(mem, testConfig(), nil)

	rr := get(h, "/api/threads/"+url.PathEscape("%R"), "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	if body := decode[map[string]any](t, rr); body["code"] != "STORE_UNAVAILABLE" {
		t.Fatalf("unexpected error body: %v", body)
	}
}

func TestFeeds(t *testing.T) {
	cases := []struct {
		name string
		path string
		want []string
	}{
		{"latest", "/api/feeds/latest", []string{"%C1", "%R"}},
		{"extended", "/api/feeds/extended", []string{"%S", "%C2"}},
		{"topics", "/api/feeds/topics", []string{"%R"}},
		{"threads", "/api/feeds/threads", []string{"%R"}},
		{"profile", "/api/feeds/profile?author=" + url.QueryEscape("@bob"), []string{"%C1"}},
		{"blocked profile", "/api/feeds/profile?author=" + url.QueryEscape("@troll"), []string{}},
		{"limit", "/api/feeds/latest?limit=1", []string{"%C1"}},
		{"since", "/api/feeds/extended?since=" + url.QueryEscape(at.Add(4*time.Minute).Format(time.RFC3339)), []string{"%S"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, h := newTestServer(newWorld(), testConfig(), nil)
			rr := get(h, tc.path, "")
			if rr.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
			}
			if got := itemIDs(decode[itemsResponse](t, rr).Items); !sameIDs(got, tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSummariesFeedAttachesReplies(t *testing.T) {
	mem := newWorld()
	mem.Add(
		storetest.Post("%C3", "@alice", "reply three", "%R", "", at.Add(7*time.Minute)),
		storetest.Post("%C4", "@troll", "reply four", "%R", "", at.Add(8*time.Minute)),
	)
	_, h := newTestServer(mem, testConfig(), nil)

	rr := get(h, "/api/feeds/summaries", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	items := decode[itemsResponse](t, rr).Items
	if len(items) != 1 || items[0].ID != "%R" {
		t.Fatalf("unexpected topics: %v", itemIDs(items))
	}
	if got := itemIDs(items[0].Replies); !sameIDs(got, []string{"%C1", "%C2", "%C3"}) {
		t.Fatalf("unexpected replies: %v", got)
	}
}

func TestFeedRejectsBadInputBeforeQuerying(t *testing.T) {
	paths := []string{
		"/api/feeds/everything",
		"/api/feeds/profile",
		"/api/feeds/latest?limit=0x10",
		"/api/feeds/latest?limit=1000",
		"/api/feeds/latest?since=yesterday",
	}
	for _, path := range paths {
		mem := newWorld()
		_, h := newTestServer(mem, testConfig(), nil)
		rr := get(h, path, "")
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected status 400, got %d", path, rr.Code)
		}
		if body := decode[map[string]any](t, rr); body["code"] != "INVALID_USAGE" {
			t.Fatalf("%s: unexpected error body %v", path, body)
		}
		if mem.Calls() != 0 {
			t.Fatalf("%s: expected no store calls, got %d", path, mem.Calls())
		}
	}
}

func TestPopularEndpoint(t *testing.T) {
	now := time.Now()
	mem := storetest.New(
		storetest.Post("%M1", "@alice", "one", "", "", now.Add(-2*time.Hour)),
		storetest.Post("%M2", "@alice", "two", "", "", now.Add(-2*time.Hour)),
		storetest.Vote("%x1", "@X", "%M1", 1, now.Add(-time.Hour)),
		storetest.Vote("%x2", "@X", "%M2", 1, now.Add(-time.Hour)),
		storetest.Vote("%y1", "@Y", "%M1", 1, now.Add(-time.Hour)),
	)
	_, h := newTestServer(mem, testConfig(), nil)

	rr := get(h, "/api/popular/day", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := itemIDs(decode[itemsResponse](t, rr).Items); !sameIDs(got, []string{"%M1", "%M2"}) {
		t.Fatalf("unexpected ranking: %v", got)
	}
}

func TestPopularEndpointRejectsUnknownPeriod(t *testing.T) {
	mem := newWorld()
	_, h := newTestServer(mem, testConfig(), nil)

	rr := get(h, "/api/popular/century", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	body := decode[map[string]any](t, rr)
	if body["code"] != "INVALID_USAGE" {
		t.Fatalf("unexpected error body: %v", body)
	}
	if mem.Calls() != 0 {
		t.Fatalf("expected no store calls, got %d", mem.Calls())
	}
}

func TestSearchEndpoint(t *testing.T) {
	mem := newWorld()
	private := storetest.Post("%P", "@alice", "secret", "", "", at)
	private.Private = true
	mem.Add(private)
	_, h := newTestServer(mem, testConfig(), &fakeSearch{ids: []string{"%S", "%T", "%missing", "%P", "%v1"}})

	rr := get(h, "/api/search?q=hello", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := itemIDs(decode[itemsResponse](t, rr).Items); !sameIDs(got, []string{"%S"}) {
		t.Fatalf("unexpected results: %v", got)
	}

	if rr := get(h, "/api/search?q=+", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for blank query, got %d", rr.Code)
	}
}

func TestSearchWithoutBackend(t *testing.T) {
	_, h := newTestServer(newWorld(), testConfig(), nil)
	rr := get(h, "/api/search?q=hello", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	if body := decode[map[string]any](t, rr); body["code"] != "SEARCH_UNAVAILABLE" {
		t.Fatalf("unexpected error body: %v", body)
	}
}

func TestPublicModeRedactsNames(t *testing.T) {
	cfg := testConfig()
	cfg.PublicMode = true
	_, h := newTestServer(newWorld(), cfg, nil)

	rr := get(h, "/api/threads/"+url.PathEscape("%R"), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	msgs := decode[ThreadView](t, rr).Messages
	names := map[string]string{}
	for _, m := range msgs {
		names[m.Author] = m.AuthorName
	}
	if names["@alice"] != "alice" || names["@bob"] != "Redacted" || names["@stranger"] != "Redacted" {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestPublicModeHidesPrivateMessages(t *testing.T) {
	mem := newWorld()
	dm := storetest.Post("%DM", "@bob", "psst", "%R", "", at.Add(9*time.Minute))
	dm.Private = true
	dm.Content.Recipients = []string{"@bob", "@me"}
	mem.Add(dm)
	path := "/api/threads/" + url.PathEscape("%R")

	_, private := newTestServer(mem, testConfig(), nil)
	if got := itemIDs(decode[ThreadView](t, get(private, path, "")).Messages); !sameIDs(got, []string{"%R", "%C1", "%C2", "%DM"}) {
		t.Fatalf("unexpected private view: %v", got)
	}

	cfg := testConfig()
	cfg.PublicMode = true
	_, public := newTestServer(mem, cfg, nil)
	if got := itemIDs(decode[ThreadView](t, get(public, path, "")).Messages); !sameIDs(got, []string{"%R", "%C1", "%C2"}) {
		t.Fatalf("unexpected public view: %v", got)
	}
}

func TestThreadShowsPrivateMessagesToRecipientsOnly(t *testing.T) {
	mem := newWorld()
	dm := storetest.Post("%P", "@alice", "secret for carol", "%R", "", at.Add(9*time.Minute))
	dm.Private = true
	dm.Content.Recipients = []string{"@alice", "@carol"}
	mem.Add(dm)
	cfg := testConfig()
	_, h := newTestServer(mem, cfg, nil)

	tokenFor := func(viewer string) string {
		token, err := auth.IssueViewerToken([]byte(cfg.JWTSecret), viewer, time.Hour)
		if err != nil {
			t.Fatalf("IssueViewerToken() error = %v", err)
		}
		return token
	}

	cases := []struct {
		viewer string
		want   []string
	}{
		{viewer: "@bob", want: []string{"%R", "%C1", "%C2"}},
		{viewer: "@carol", want: []string{"%R", "%C1", "%C2", "%P"}},
		{viewer: "@alice", want: []string{"%R", "%C1", "%C2", "%P"}},
	}
	for _, tc := range cases {
		t.Run(tc.viewer, func(t *testing.T) {
			rr := get(h, "/api/threads/"+url.PathEscape("%R"), tokenFor(tc.viewer))
			if rr.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
			}
			if got := itemIDs(decode[ThreadView](t, rr).Messages); !sameIDs(got, tc.want) {
				t.Fatalf("unexpected thread for %s: %v", tc.viewer, got)
			}
		})
	}

	rr := get(h, "/api/threads/"+url.PathEscape("%P"), tokenFor("@bob"))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for a private root, got %d", rr.Code)
	}
}

func TestBearerTokenNamesViewer(t *testing.T) {
	cfg := testConfig()
	cfg.Viewer = "@instance"
	_, h := newTestServer(newWorld(), cfg, nil)
	path := "/api/threads/" + url.PathEscape("%R")

	anonymous := decode[ThreadView](t, get(h, path, ""))
	if anonymous.Messages[0].ViewerLiked {
		t.Fatal("expected the instance viewer not to have liked the root")
	}

	token, err := auth.IssueViewerToken([]byte(cfg.JWTSecret), "@me", time.Hour)
	if err != nil {
		t.Fatalf("IssueViewerToken() error = %v", err)
	}
	named := decode[ThreadView](t, get(h, path, token))
	if !named.Messages[0].ViewerLiked {
		t.Fatal("expected @me to have liked the root")
	}

	if rr := get(h, path, "forged.token"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for a bad token, got %d", rr.Code)
	}
}

func TestBootstrapReindexes(t *testing.T) {
	searcher := &fakeSearch{}
	svc, _ := newTestServer(newWorld(), testConfig(), searcher)
	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if searcher.reindexed != 1 {
		t.Fatalf("expected one reindex, got %d", searcher.reindexed)
	}
}

func TestInvalidateIdentity(t *testing.T) {
	mem := newWorld()
	svc, h := newTestServer(mem, testConfig(), nil)
	path := "/api/threads/" + url.PathEscape("%R")

	before := decode[ThreadView](t, get(h, path, ""))
	if before.Messages[0].AuthorName != "alice" {
		t.Fatalf("unexpected name %q", before.Messages[0].AuthorName)
	}

	mem.Add(storetest.About("%aboutA2", "@alice", "Alice Liddell", "", true, at.Add(time.Hour)))
	svc.InvalidateIdentity()

	after := decode[ThreadView](t, get(h, path, ""))
	if after.Messages[0].AuthorName != "Alice Liddell" {
		t.Fatalf("expected renamed author, got %q", after.Messages[0].AuthorName)
	}
}
