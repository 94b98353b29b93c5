// Package social builds a viewer-relative view of the follow graph and
// filters message sequences with it.
package social

import (
	"context"
	"fmt"

	"tangle/api/internal/store"
)

// blockWeight is the signed weight the friend graph uses for a block.
const blockWeight = -1

// GraphReader fetches a viewer's one-hop relationships.
type GraphReader interface {
	FriendGraph(ctx context.Context, viewer string) (map[string]float64, error)
}

// Snapshot is the viewer's following and blocking sets at one point in time.
type Snapshot struct {
	Viewer    string
	Following map[string]struct{}
	Blocking  map[string]struct{}
}

// Options selects messages by relationship. A nil field matches any value;
// IncludeSelf defaults to true.
type Options struct {
	Following   *bool
	Blocking    *bool
	IncludeSelf *bool
}

// Bool returns a pointer for use in Options literals.
func Bool(v bool) *bool {
	return &v
}

// NotBlocked is the default used by ranking and search.
func NotBlocked() Options {
	return Options{Blocking: Bool(false)}
}

func Load(ctx context.Context, graph GraphReader, viewer string) (Snapshot, error) {
	weights, err := graph.FriendGraph(ctx, viewer)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load relationships of %s: %w", viewer, err)
	}
	return FromWeights(viewer, weights), nil
}

// FromWeights partitions a friend graph: weight >= 0 is following, -1 is
// blocking. The viewer never appears in either set.
func FromWeights(viewer string, weights map[string]float64) Snapshot {
	snap := Snapshot{
		Viewer:    viewer,
		Following: make(map[string]struct{}),
		Blocking:  make(map[string]struct{}),
	}
	for peer, weight := range weights {
		if peer == viewer {
			continue
		}
		switch {
		case weight >= 0:
			snap.Following[peer] = struct{}{}
		case weight == blockWeight:
			snap.Blocking[peer] = struct{}{}
		}
	}
	return snap
}

func (s Snapshot) IsFollowing(author string) bool {
	_, ok := s.Following[author]
	return ok
}

func (s Snapshot) IsBlocking(author string) bool {
	_, ok := s.Blocking[author]
	return ok
}

// Predicate returns the inclusion test for opts.
func (s Snapshot) Predicate(opts Options) func(store.Message) bool {
	includeSelf := opts.IncludeSelf == nil || *opts.IncludeSelf
	return func(msg store.Message) bool {
		if msg.Author == s.Viewer {
			return includeSelf
		}
		if opts.Following != nil && s.IsFollowing(msg.Author) != *opts.Following {
			return false
		}
		if opts.Blocking != nil && s.IsBlocking(msg.Author) != *opts.Blocking {
			return false
		}
		return true
	}
}

// Apply keeps the messages matching opts, in order.
func (s Snapshot) Apply(msgs []store.Message, opts Options) []store.Message {
	keep := s.Predicate(opts)
	out := make([]store.Message, 0, len(msgs))
	for _, msg := range msgs {
		if keep(msg) {
			out = append(out, msg)
		}
	}
	return out
}

// Filter loads the viewer's snapshot once and applies opts. A failed
// relationship fetch fails the whole call.
func Filter(ctx context.Context, graph GraphReader, viewer string, opts Options, msgs []store.Message) ([]store.Message, error) {
	snap, err := Load(ctx, graph, viewer)
	if err != nil {
		return nil, err
	}
	return snap.Apply(msgs, opts), nil
}
