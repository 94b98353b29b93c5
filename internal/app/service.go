package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"slices"
	"strings"
	"time"

	"tangle/api/internal/apperr"
	"tangle/api/internal/auth"
	"tangle/api/internal/config"
	"tangle/api/internal/enrich"
	"tangle/api/internal/metrics"
	"tangle/api/internal/ranking"
	"tangle/api/internal/search"
	"tangle/api/internal/social"
	"tangle/api/internal/store"
	"tangle/api/internal/thread"
)

type dataStore interface {
	store.Reader
	Ping(ctx context.Context) error
}

type searchBackend interface {
	Search(ctx context.Context, q search.Query) search.Response
	ReindexAllFromPG(ctx context.Context)
}

type invalidator interface {
	Invalidate()
}

type Service struct {
	cfg      config.Config
	store    dataStore
	search   searchBackend
	identity enrich.Identity
	blobs    enrich.Blobs
	resolver *thread.Resolver
	ranking  *ranking.Engine
	enrich   *enrich.Pipeline
}

// New wires the feed core over data. blobs and searcher may be nil.
func New(cfg config.Config, data dataStore, identity enrich.Identity, blobs enrich.Blobs, searcher searchBackend) *Service {
	return &Service{
		cfg:      cfg,
		store:    data,
		search:   searcher,
		identity: identity,
		blobs:    blobs,
		resolver: thread.New(data, thread.Config{Workers: cfg.Workers, MaxDepth: cfg.ThreadDepth}),
		ranking:  ranking.New(data, ranking.Config{Limit: cfg.PopularLimit, Workers: cfg.Workers}),
		enrich:   enrich.New(data, identity, blobs, cfg.Workers),
	}
}

// Bootstrap fills the search index from Postgres.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.search == nil {
		return nil
	}
	s.search.ReindexAllFromPG(ctx)
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// BlobsHealthy reports blob storage reachability. configured is false when
// no blob backend with a health check is wired.
func (s *Service) BlobsHealthy(ctx context.Context) (healthy, configured bool) {
	checker, ok := s.blobs.(interface{ Healthy(context.Context) bool })
	if !ok {
		return false, false
	}
	return checker.Healthy(ctx), true
}

// InvalidateIdentity drops cached names and avatars.
func (s *Service) InvalidateIdentity() {
	if inv, ok := s.identity.(invalidator); ok {
		inv.Invalidate()
		log.Printf("identity: cache invalidated")
	}
}

// ViewerFromToken names the viewer a request is served for. Without a token
// the configured instance viewer is used, redacted in public mode.
func (s *Service) ViewerFromToken(token string) (enrich.Viewer, error) {
	if strings.TrimSpace(token) == "" {
		return enrich.Viewer{ID: s.cfg.Viewer, Public: s.cfg.PublicMode}, nil
	}
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return enrich.Viewer{}, err
	}
	return enrich.Viewer{ID: claims.Sub}, nil
}

// ThreadView is a resolved conversation, root ancestor first.
type ThreadView struct {
	Root     string        `json:"root"`
	Target   string        `json:"target"`
	Messages []MessageView `json:"messages"`
}

func (s *Service) ResolveThread(ctx context.Context, viewer enrich.Viewer, id string) (ThreadView, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return ThreadView{}, invalidUsage("id", "message id is required")
	}

	started := time.Now()
	t, err := s.resolver.Resolve(ctx, id)
	metrics.ThreadResolveSeconds.WithLabelValues(outcome(err)).Observe(time.Since(started).Seconds())
	if err != nil {
		return ThreadView{}, err
	}

	entries := t.Entries()
	metrics.ThreadSize.Observe(float64(len(entries)))
	if !canRead(viewer, t.Root.Message) {
		return ThreadView{}, &apperr.NotFound{ID: id}
	}
	entries = slices.DeleteFunc(entries, func(e thread.Entry) bool { return !canRead(viewer, e.Message) })
	msgs := make([]store.Message, len(entries))
	for i, e := range entries {
		msgs[i] = e.Message
	}

	snap, err := social.Load(ctx, s.store, viewer.ID)
	if err != nil {
		return ThreadView{}, err
	}
	enriched, err := s.enrich.Enrich(ctx, viewer, snap, msgs)
	if err != nil {
		return ThreadView{}, err
	}

	view := ThreadView{Root: t.Root.Message.ID, Target: t.TargetID, Messages: make([]MessageView, 0, len(entries))}
	for i, e := range enriched {
		if e == nil {
			continue
		}
		mv := newMessageView(e)
		mv.Depth = entries[i].Depth
		mv.Subtopic = entries[i].Subtopic
		mv.Target = entries[i].Target
		view.Messages = append(view.Messages, mv)
	}
	return view, nil
}

func (s *Service) Popular(ctx context.Context, viewer enrich.Viewer, period string) ([]MessageView, error) {
	msgs, err := s.ranking.Popular(ctx, viewer.ID, period)
	if err != nil {
		return nil, err
	}
	return s.render(ctx, viewer, msgs)
}

// Search runs the query through the search backend and re-reads each hit
// from the store, so only public posts and blogs by unblocked authors come
// back.
func (s *Service) Search(ctx context.Context, viewer enrich.Viewer, text string) ([]MessageView, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, invalidUsage("q", "search query is required")
	}
	if s.search == nil {
		return nil, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
	}

	resp := s.search.Search(ctx, search.Query{Text: text, Limit: s.cfg.FeedLimit})
	msgs := make([]store.Message, 0, len(resp.Results))
	for _, id := range resp.IDs() {
		msg, err := s.store.GetByID(ctx, id, store.GetOptions{IncludeMeta: true})
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if msg.Private || msg.Encrypted || !isPostOrBlog(msg) {
			continue
		}
		msgs = append(msgs, msg)
	}

	msgs, err := social.Filter(ctx, s.store, viewer.ID, social.NotBlocked(), msgs)
	if err != nil {
		return nil, err
	}
	return s.render(ctx, viewer, msgs)
}

// render enriches msgs for viewer, dropping the ones that fail.
func (s *Service) render(ctx context.Context, viewer enrich.Viewer, msgs []store.Message) ([]MessageView, error) {
	snap, err := social.Load(ctx, s.store, viewer.ID)
	if err != nil {
		return nil, err
	}
	return s.renderWith(ctx, viewer, snap, msgs)
}

func (s *Service) renderWith(ctx context.Context, viewer enrich.Viewer, snap social.Snapshot, msgs []store.Message) ([]MessageView, error) {
	enriched, err := s.enrich.Enrich(ctx, viewer, snap, msgs)
	if err != nil {
		return nil, err
	}
	views := make([]MessageView, 0, len(enriched))
	for _, e := range enrich.Compact(enriched) {
		views = append(views, newMessageView(e))
	}
	return views, nil
}

func isPostOrBlog(msg store.Message) bool {
	return msg.Content.Type == store.TypePost || msg.Content.Type == store.TypeBlog
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		var notFound *apperr.NotFound
		if errors.As(err, &notFound) {
			return "not_found"
		}
		return "error"
	}
}

// canRead reports whether viewer may see msg. Private messages are shown to
// their author and recipients only, and never on public pages.
func canRead(viewer enrich.Viewer, msg store.Message) bool {
	if !msg.Private {
		return true
	}
	if viewer.Public {
		return false
	}
	return msg.Author == viewer.ID || slices.Contains(msg.Content.Recipients, viewer.ID)
}
