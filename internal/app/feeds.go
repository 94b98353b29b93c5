package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"tangle/api/internal/classify"
	"tangle/api/internal/enrich"
	"tangle/api/internal/social"
	"tangle/api/internal/store"
)

const (
	FeedLatest    = "latest"
	FeedExtended  = "extended"
	FeedTopics    = "topics"
	FeedSummaries = "summaries"
	FeedThreads   = "threads"
	FeedProfile   = "profile"

	maxFeedLimit   = 100
	summaryReplies = 3
	// threadsFanIn is how many recent posts are read per thread shown.
	threadsFanIn = 4
)

type FeedQuery struct {
	Kind   string
	Author string
	Since  time.Time
	Limit  int
}

var followed = social.Options{Following: social.Bool(true), Blocking: social.Bool(false)}

// Feed lists recent messages of one kind, newest first.
func (s *Service) Feed(ctx context.Context, viewer enrich.Viewer, q FeedQuery) ([]MessageView, error) {
	limit, err := s.feedLimit(q.Limit)
	if err != nil {
		return nil, err
	}

	switch q.Kind {
	case FeedLatest:
		return s.recentFeed(ctx, viewer, q.Since, limit, followed, nil)
	case FeedExtended:
		opts := social.Options{Following: social.Bool(false), Blocking: social.Bool(false), IncludeSelf: social.Bool(false)}
		return s.recentFeed(ctx, viewer, q.Since, limit, opts, nil)
	case FeedTopics:
		return s.recentFeed(ctx, viewer, q.Since, limit, followed, isTopic)
	case FeedSummaries:
		return s.summariesFeed(ctx, viewer, q.Since, limit)
	case FeedThreads:
		return s.threadsFeed(ctx, viewer, q.Since, limit)
	case FeedProfile:
		author := strings.TrimSpace(q.Author)
		if author == "" {
			return nil, invalidUsage("author", "profile feed needs an author")
		}
		return s.profileFeed(ctx, viewer, author, q.Since, limit)
	default:
		return nil, invalidUsage("kind", fmt.Sprintf("unknown feed %q", q.Kind))
	}
}

func (s *Service) feedLimit(limit int) (int, error) {
	switch {
	case limit == 0:
		if s.cfg.FeedLimit > 0 {
			return s.cfg.FeedLimit, nil
		}
		return 20, nil
	case limit < 0 || limit > maxFeedLimit:
		return 0, invalidUsage("limit", fmt.Sprintf("limit must be between 1 and %d", maxFeedLimit))
	default:
		return limit, nil
	}
}

func isTopic(msg store.Message) bool {
	return classify.Classify(msg) == classify.Root
}

func (s *Service) recentPosts(ctx context.Context, snap social.Snapshot, since time.Time, limit int, opts social.Options, extra func(store.Message) bool) ([]store.Message, error) {
	stream, err := s.store.ByTimeRangeAndType(ctx, store.RangeQuery{
		Types:      []string{store.TypePost},
		Since:      since,
		PublicOnly: true,
	})
	if err != nil {
		return nil, err
	}
	visible := snap.Predicate(opts)
	return take(ctx, stream, limit, func(msg store.Message) bool {
		return visible(msg) && (extra == nil || extra(msg))
	})
}

func (s *Service) recentFeed(ctx context.Context, viewer enrich.Viewer, since time.Time, limit int, opts social.Options, extra func(store.Message) bool) ([]MessageView, error) {
	snap, err := social.Load(ctx, s.store, viewer.ID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.recentPosts(ctx, snap, since, limit, opts, extra)
	if err != nil {
		return nil, err
	}
	return s.renderWith(ctx, viewer, snap, msgs)
}

// summariesFeed lists topics, each with its most recent direct replies
// attached in chronological order.
func (s *Service) summariesFeed(ctx context.Context, viewer enrich.Viewer, since time.Time, limit int) ([]MessageView, error) {
	snap, err := social.Load(ctx, s.store, viewer.ID)
	if err != nil {
		return nil, err
	}
	topics, err := s.recentPosts(ctx, snap, since, limit, followed, isTopic)
	if err != nil {
		return nil, err
	}
	views, err := s.renderWith(ctx, viewer, snap, topics)
	if err != nil {
		return nil, err
	}

	visible := snap.Predicate(social.NotBlocked())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers())
	for i := range views {
		g.Go(func() error {
			replies, err := s.resolver.DirectReplies(gctx, views[i].ID)
			if err != nil {
				return err
			}
			recent := make([]store.Message, 0, len(replies))
			for _, reply := range replies {
				if !reply.Private && visible(reply) {
					recent = append(recent, reply)
				}
			}
			slices.SortStableFunc(recent, func(a, b store.Message) int {
				return b.Timestamp.Compare(a.Timestamp)
			})
			if len(recent) > summaryReplies {
				recent = recent[:summaryReplies]
			}
			slices.Reverse(recent)
			rendered, err := s.renderWith(gctx, viewer, snap, recent)
			if err != nil {
				return err
			}
			views[i].Replies = rendered
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return views, nil
}

// threadsFeed folds recent posts from followed feeds onto their root
// ancestors. A thread appears once, at its most recent activity.
func (s *Service) threadsFeed(ctx context.Context, viewer enrich.Viewer, since time.Time, limit int) ([]MessageView, error) {
	snap, err := social.Load(ctx, s.store, viewer.ID)
	if err != nil {
		return nil, err
	}
	recent, err := s.recentPosts(ctx, snap, since, limit*threadsFanIn, followed, nil)
	if err != nil {
		return nil, err
	}

	visible := snap.Predicate(social.NotBlocked())
	seen := make(map[string]struct{})
	roots := make([]store.Message, 0, limit)
	for _, msg := range recent {
		if len(roots) == limit {
			break
		}
		root, err := s.resolver.RootAncestor(ctx, msg)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[root.ID]; dup {
			continue
		}
		seen[root.ID] = struct{}{}
		if root.Private || !visible(root) {
			continue
		}
		roots = append(roots, root)
	}
	return s.renderWith(ctx, viewer, snap, roots)
}

func (s *Service) profileFeed(ctx context.Context, viewer enrich.Viewer, author string, since time.Time, limit int) ([]MessageView, error) {
	snap, err := social.Load(ctx, s.store, viewer.ID)
	if err != nil {
		return nil, err
	}
	stream, err := s.store.ByAuthor(ctx, author, store.AuthorQuery{Reverse: true, Since: since})
	if err != nil {
		return nil, err
	}
	visible := snap.Predicate(social.NotBlocked())
	msgs, err := take(ctx, stream, limit, func(msg store.Message) bool {
		return isPostOrBlog(msg) && visible(msg)
	})
	if err != nil {
		return nil, err
	}
	return s.renderWith(ctx, viewer, snap, msgs)
}

func (s *Service) workers() int {
	if s.cfg.Workers > 0 {
		return s.cfg.Workers
	}
	return 4
}

// take reads stream until limit messages passed keep, then closes it.
func take(ctx context.Context, stream store.Stream, limit int, keep func(store.Message) bool) ([]store.Message, error) {
	defer stream.Close()
	out := make([]store.Message, 0, limit)
	for len(out) < limit && stream.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if msg := stream.Message(); keep(msg) {
			out = append(out, msg)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
