// Package ranking orders messages by vote activity inside a time window.
package ranking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"tangle/api/internal/apperr"
	"tangle/api/internal/metrics"
	"tangle/api/internal/social"
	"tangle/api/internal/store"
)

const (
	DefaultLimit   = 64
	defaultWorkers = 4
)

var periods = map[string]time.Duration{
	"day":   24 * time.Hour,
	"week":  7 * 24 * time.Hour,
	"month": 30 * 24 * time.Hour,
	"year":  365 * 24 * time.Hour,
}

// ParsePeriod maps a period name to its window length.
func ParsePeriod(period string) (time.Duration, error) {
	window, ok := periods[period]
	if !ok {
		return 0, &apperr.InvalidUsage{Field: "period", Message: fmt.Sprintf("unsupported period %q, use day, week, month or year", period)}
	}
	return window, nil
}

type Config struct {
	Limit   int
	Workers int
}

type Engine struct {
	store   store.Reader
	limit   int
	workers int
	now     func() time.Time
}

func New(reader store.Reader, cfg Config) *Engine {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	return &Engine{store: reader, limit: cfg.Limit, workers: cfg.Workers, now: time.Now}
}

// Score is the aggregate for one target message.
type Score struct {
	ID    string
	Value float64
}

// Popular returns the most voted posts and blogs of the period, most popular
// first, filtered for blocked authors.
func (e *Engine) Popular(ctx context.Context, viewer, period string) ([]store.Message, error) {
	window, err := ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	metrics.PopularRequests.WithLabelValues(period).Inc()

	stream, err := e.store.ByTimeRangeAndType(ctx, store.RangeQuery{
		Types:      []string{store.TypeVote},
		Since:      e.now().Add(-window),
		PublicOnly: true,
	})
	if err != nil {
		return nil, err
	}
	votes, err := store.Collect(ctx, stream)
	if err != nil {
		return nil, err
	}

	scores := Rank(votes, viewer)
	if len(scores) > e.limit {
		scores = scores[:e.limit]
	}

	msgs, err := e.resolve(ctx, scores)
	if err != nil {
		return nil, err
	}
	return social.Filter(ctx, e.store, viewer, social.NotBlocked(), msgs)
}

// Rank aggregates votes into per-target scores, highest first. votes come in
// store order, newest first; a later vote by the same author on the same
// target replaces the earlier one. Each author's votes are divided by
// 1 + ln(number of distinct targets they voted on). The viewer's own votes
// count toward their normalization but not toward any score.
func Rank(votes []store.Message, viewer string) []Score {
	type key struct{ author, target string }
	latest := make(map[key]float64)
	targetsByAuthor := make(map[string]int)
	var order []string
	seenTarget := make(map[string]bool)

	for _, msg := range votes {
		vote := msg.Content.Vote
		if msg.Content.Type != store.TypeVote || vote == nil || vote.Link == "" {
			continue
		}
		if !seenTarget[vote.Link] {
			seenTarget[vote.Link] = true
			order = append(order, vote.Link)
		}
	}

	for i := len(votes) - 1; i >= 0; i-- {
		msg := votes[i]
		vote := msg.Content.Vote
		if msg.Content.Type != store.TypeVote || vote == nil || vote.Link == "" {
			continue
		}
		k := key{msg.Author, vote.Link}
		if _, ok := latest[k]; !ok {
			targetsByAuthor[msg.Author]++
		}
		latest[k] = vote.Clamped()
	}

	totals := make(map[string]float64, len(order))
	for k, value := range latest {
		if k.author == viewer {
			continue
		}
		totals[k.target] += value / Normalization(targetsByAuthor[k.author])
	}

	scores := make([]Score, 0, len(order))
	for _, id := range order {
		scores = append(scores, Score{ID: id, Value: totals[id]})
	}
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Value > scores[j].Value
	})
	return scores
}

// Normalization is the divisor applied to an author who voted on n distinct
// targets. It is never below 1.
func Normalization(n int) float64 {
	if n <= 1 {
		return 1
	}
	return 1 + math.Log(float64(n))
}

func (e *Engine) resolve(ctx context.Context, scores []Score) ([]store.Message, error) {
	found := make([]*store.Message, len(scores))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, score := range scores {
		g.Go(func() error {
			msg, err := e.store.GetByID(gctx, score.ID, store.GetOptions{IncludeMeta: true})
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if msg.Private || msg.Encrypted {
				return nil
			}
			if msg.Content.Type != store.TypePost && msg.Content.Type != store.TypeBlog {
				return nil
			}
			found[i] = &msg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make([]store.Message, 0, len(found))
	for _, msg := range found {
		if msg != nil {
			out = append(out, *msg)
		}
	}
	return out, nil
}
