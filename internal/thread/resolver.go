// Package thread reconstructs conversations from the reply graph. A message
// links upward with root and fork; a fork starts a sibling subtree, so the
// graph is walked by id through the store rather than as a tree in memory.
package thread

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"tangle/api/internal/apperr"
	"tangle/api/internal/classify"
	"tangle/api/internal/store"
)

const (
	defaultWorkers  = 4
	defaultMaxDepth = 100
	defaultMaxHops  = 1000
)

// Reader is the part of the store the resolver queries.
type Reader interface {
	GetByID(ctx context.Context, id string, opts store.GetOptions) (store.Message, error)
	ReverseReferences(ctx context.Context, target string, q store.RefQuery) (store.Stream, error)
}

type Config struct {
	// Workers bounds concurrent reply queries within one level.
	Workers int
	// MaxDepth bounds how far below the root ancestor replies are explored.
	MaxDepth int
	// MaxHops bounds the upward walk.
	MaxHops int
}

type Entry struct {
	Message store.Message
	Depth   int
	// Subtopic is set on every entry below the root ancestor.
	Subtopic bool
	Target   bool
}

type Thread struct {
	Root        Entry
	Descendants []Entry
	TargetID    string
}

// Entries returns the root ancestor followed by its flattened descendants.
func (t Thread) Entries() []Entry {
	out := make([]Entry, 0, len(t.Descendants)+1)
	out = append(out, t.Root)
	return append(out, t.Descendants...)
}

type Resolver struct {
	store    Reader
	workers  int
	maxDepth int
	maxHops  int
}

func New(reader Reader, cfg Config) *Resolver {
	r := &Resolver{store: reader, workers: cfg.Workers, maxDepth: cfg.MaxDepth, maxHops: cfg.MaxHops}
	if r.workers <= 0 {
		r.workers = defaultWorkers
	}
	if r.maxDepth <= 0 {
		r.maxDepth = defaultMaxDepth
	}
	if r.maxHops <= 0 {
		r.maxHops = defaultMaxHops
	}
	return r
}

var fetchOptions = store.GetOptions{IncludeMeta: true, IncludePrivate: true}

// Resolve finds the root ancestor of id and flattens every reply below it.
func (r *Resolver) Resolve(ctx context.Context, id string) (Thread, error) {
	msg, err := r.store.GetByID(ctx, id, fetchOptions)
	if errors.Is(err, store.ErrNotFound) {
		return Thread{}, &apperr.NotFound{ID: id}
	}
	if err != nil {
		return Thread{}, err
	}

	root, err := r.RootAncestor(ctx, msg)
	if err != nil {
		return Thread{}, err
	}
	descendants, err := r.Descendants(ctx, root.ID)
	if err != nil {
		return Thread{}, err
	}

	thread := Thread{
		Root:        Entry{Message: root, Target: root.ID == id},
		Descendants: descendants,
		TargetID:    id,
	}
	for i := range thread.Descendants {
		if thread.Descendants[i].Message.ID == id {
			thread.Descendants[i].Target = true
		}
	}
	return thread, nil
}

// RootAncestor walks fork and root links upward from msg. The walk stops at
// a message with no resolvable link, at non-post content, on a revisited id,
// or after MaxHops steps.
func (r *Resolver) RootAncestor(ctx context.Context, msg store.Message) (store.Message, error) {
	visited := map[string]struct{}{msg.ID: {}}
	current := msg
	for hop := 0; hop < r.maxHops; hop++ {
		parent, ok, err := r.parent(ctx, current)
		if err != nil {
			return store.Message{}, err
		}
		if !ok {
			return current, nil
		}
		if _, seen := visited[parent.ID]; seen {
			return current, nil
		}
		visited[parent.ID] = struct{}{}
		current = parent
	}
	return current, nil
}

func (r *Resolver) parent(ctx context.Context, msg store.Message) (store.Message, bool, error) {
	if msg.Encrypted && msg.Content.Root == "" && msg.Content.Fork == "" {
		return store.Message{}, false, nil
	}
	if msg.Content.Type != store.TypePost {
		return store.Message{}, false, nil
	}
	switch classify.Classify(msg) {
	case classify.Subtopic:
		return r.lookup(ctx, msg.Content.Fork)
	case classify.Comment:
		return r.lookup(ctx, msg.Content.Root)
	default:
		return store.Message{}, false, nil
	}
}

// lookup treats a missing link target as a dead end rather than an error.
func (r *Resolver) lookup(ctx context.Context, id string) (store.Message, bool, error) {
	msg, err := r.store.GetByID(ctx, id, fetchOptions)
	if errors.Is(err, store.ErrNotFound) {
		return store.Message{}, false, nil
	}
	if err != nil {
		return store.Message{}, false, err
	}
	return msg, true, nil
}

// Descendants returns every reply below rootID in pre-order. Each level is
// fetched concurrently, then attached to the first parent that reached it
// in level order, so the result does not depend on query completion order.
func (r *Resolver) Descendants(ctx context.Context, rootID string) ([]Entry, error) {
	seen := map[string]struct{}{rootID: {}}
	children := make(map[string][]store.Message)
	frontier := []string{rootID}

	for depth := 1; len(frontier) > 0 && depth <= r.maxDepth; depth++ {
		replies, err := r.fetchLevel(ctx, frontier)
		if err != nil {
			return nil, err
		}
		var next []string
		for i, parentID := range frontier {
			for _, reply := range replies[i] {
				if _, dup := seen[reply.ID]; dup {
					continue
				}
				seen[reply.ID] = struct{}{}
				children[parentID] = append(children[parentID], reply)
				next = append(next, reply.ID)
			}
		}
		frontier = next
	}
	return flatten(rootID, children), nil
}

func (r *Resolver) fetchLevel(ctx context.Context, frontier []string) ([][]store.Message, error) {
	replies := make([][]store.Message, len(frontier))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, id := range frontier {
		g.Go(func() error {
			items, err := r.DirectReplies(gctx, id)
			if err != nil {
				return err
			}
			replies[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return replies, nil
}

// DirectReplies lists the posts and blogs whose root or fork is id, leaving
// out those forking from id: a fork boundary opens a sibling subtree.
func (r *Resolver) DirectReplies(ctx context.Context, id string) ([]store.Message, error) {
	stream, err := r.store.ReverseReferences(ctx, id, store.RefQuery{Types: []string{store.TypePost, store.TypeBlog}})
	if err != nil {
		return nil, fmt.Errorf("replies of %s: %w", id, err)
	}
	refs, err := store.Collect(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("replies of %s: %w", id, err)
	}
	out := make([]store.Message, 0, len(refs))
	for _, msg := range refs {
		// root or fork is id, minus the fork boundary, leaves root == id.
		if msg.ID == id || msg.Content.Root != id || msg.Content.Fork == id {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func flatten(rootID string, children map[string][]store.Message) []Entry {
	type frame struct {
		msg   store.Message
		depth int
	}
	var stack []frame
	push := func(parentID string, depth int) {
		kids := children[parentID]
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, frame{msg: kids[i], depth: depth})
		}
	}

	out := make([]Entry, 0)
	push(rootID, 1)
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, Entry{Message: top.msg, Depth: top.depth, Subtopic: true})
		push(top.msg.ID, top.depth+1)
	}
	return out
}
