// Package storetest provides an in-memory message store for tests.
package storetest

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"tangle/api/internal/store"
)

// Memory implements store.Reader over messages held in insertion order.
// Links are derived from root, fork, branch and vote content.
type Memory struct {
	mu       sync.RWMutex
	messages []store.Message
	byID     map[string]int
	friends  map[string]map[string]float64

	// Errors injects a failure for GetByID / ReverseReferences on an id.
	Errors map[string]error
	// GraphErr fails every FriendGraph call.
	GraphErr error
	// PingErr is returned by Ping.
	PingErr error

	calls atomic.Int64
}

func New(messages ...store.Message) *Memory {
	m := &Memory{
		byID:    make(map[string]int),
		friends: make(map[string]map[string]float64),
		Errors:  make(map[string]error),
	}
	m.Add(messages...)
	return m
}

func (m *Memory) Add(messages ...store.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range messages {
		if idx, ok := m.byID[item.ID]; ok {
			m.messages[idx] = item
			continue
		}
		m.byID[item.ID] = len(m.messages)
		m.messages = append(m.messages, item)
	}
}

// SetFriend records source's signed weight toward dest.
func (m *Memory) SetFriend(source, dest string, weight float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.friends[source] == nil {
		m.friends[source] = make(map[string]float64)
	}
	m.friends[source][dest] = weight
}

func (m *Memory) Ping(context.Context) error {
	return m.PingErr
}

// Calls reports how many store queries were issued.
func (m *Memory) Calls() int64 {
	return m.calls.Load()
}

func (m *Memory) GetByID(ctx context.Context, id string, opts store.GetOptions) (store.Message, error) {
	m.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return store.Message{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.Errors[id]; err != nil {
		return store.Message{}, err
	}
	idx, ok := m.byID[id]
	if !ok {
		return store.Message{}, store.ErrNotFound
	}
	item := m.messages[idx]
	if item.Private && !opts.IncludePrivate {
		return store.Message{}, store.ErrNotFound
	}
	return item, nil
}

func (m *Memory) ReverseReferences(ctx context.Context, target string, q store.RefQuery) (store.Stream, error) {
	m.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.Errors["refs:"+target]; err != nil {
		return nil, err
	}
	var out []store.Message
	for _, item := range m.messages {
		if !matchesType(item, q.Types) || !linksTo(item, target) {
			continue
		}
		out = append(out, item)
	}
	return store.NewSliceStream(out), nil
}

func (m *Memory) ByAuthor(ctx context.Context, author string, q store.AuthorQuery) (store.Stream, error) {
	m.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []store.Message
	for _, item := range m.messages {
		if item.Author != author || item.Private {
			continue
		}
		if !q.Since.IsZero() && item.Timestamp.Before(q.Since) {
			continue
		}
		out = append(out, item)
	}
	slices.SortStableFunc(out, func(a, b store.Message) int {
		if q.Reverse {
			return compare(b.Sequence, a.Sequence)
		}
		return compare(a.Sequence, b.Sequence)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return store.NewSliceStream(out), nil
}

func (m *Memory) ByTimeRangeAndType(ctx context.Context, q store.RangeQuery) (store.Stream, error) {
	m.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []store.Message
	for _, item := range m.messages {
		if !matchesType(item, q.Types) || !inRange(item.Timestamp, q.Since, q.Until) {
			continue
		}
		if q.PublicOnly && (item.Private || item.Encrypted) {
			continue
		}
		out = append(out, item)
	}
	slices.SortStableFunc(out, func(a, b store.Message) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return store.NewSliceStream(out), nil
}

func (m *Memory) FriendGraph(ctx context.Context, viewer string) (map[string]float64, error) {
	m.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.GraphErr != nil {
		return nil, m.GraphErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	graph := make(map[string]float64, len(m.friends[viewer]))
	for peer, weight := range m.friends[viewer] {
		graph[peer] = weight
	}
	return graph, nil
}

// Profiles folds the about messages held in memory.
func (m *Memory) Profiles(ctx context.Context) (map[string]store.Profile, error) {
	m.calls.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	profiles := make(map[string]store.Profile)
	for _, item := range m.messages {
		store.FoldProfile(profiles, item)
	}
	return profiles, nil
}

func matchesType(item store.Message, types []string) bool {
	return len(types) == 0 || slices.Contains(types, item.Content.Type)
}

func linksTo(item store.Message, target string) bool {
	if target == "" {
		return false
	}
	c := item.Content
	if c.Root == target || c.Fork == target || slices.Contains(c.Branch, target) {
		return true
	}
	return c.Vote != nil && c.Vote.Link == target
}

func inRange(ts, since, until time.Time) bool {
	if !since.IsZero() && ts.Before(since) {
		return false
	}
	return until.IsZero() || ts.Before(until)
}

func compare(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
