package identity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tangle/api/internal/store"
)

type countingSource struct {
	calls    atomic.Int64
	delay    time.Duration
	err      error
	profiles map[string]store.Profile
}

func (s *countingSource) Profiles(context.Context) (map[string]store.Profile, error) {
	s.calls.Add(1)
	time.Sleep(s.delay)
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]store.Profile, len(s.profiles))
	for k, v := range s.profiles {
		out[k] = v
	}
	return out, nil
}

func TestCacheRebuildsOnceForConcurrentReaders(t *testing.T) {
	src := &countingSource{
		delay:    20 * time.Millisecond,
		profiles: map[string]store.Profile{"@a": {ID: "@a", Name: "alice"}},
	}
	cache := NewCache(src, nil, 0)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := cache.Profile(context.Background(), "@a")
			if err != nil || p.Name != "alice" {
				t.Errorf("Profile() = %+v, %v", p, err)
			}
		}()
	}
	wg.Wait()

	if got := src.calls.Load(); got != 1 {
		t.Fatalf("expected one rebuild, got %d", got)
	}
}

type gatedSource struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedSource) Profiles(ctx context.Context) (map[string]store.Profile, error) {
	s.once.Do(func() { close(s.started) })
	select {
	case <-s.release:
		return map[string]store.Profile{"@a": {ID: "@a", Name: "alice"}}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestCacheRebuildSurvivesCancelledLeader(t *testing.T) {
	src := &gatedSource{started: make(chan struct{}), release: make(chan struct{})}
	cache := NewCache(src, nil, 0)

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := cache.Profile(leaderCtx, "@a")
		leaderErr <- err
	}()
	<-src.started

	type result struct {
		profile store.Profile
		err     error
	}
	follower := make(chan result, 1)
	go func() {
		p, err := cache.Profile(context.Background(), "@a")
		follower <- result{p, err}
	}()

	cancel()
	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the cancelled reader to stop with context.Canceled, got %v", err)
	}
	close(src.release)

	got := <-follower
	if got.err != nil || got.profile.Name != "alice" {
		t.Fatalf("Profile() = %+v, %v", got.profile, got.err)
	}
}

func TestCacheInvalidate(t *testing.T) {
	src := &countingSource{profiles: map[string]store.Profile{"@a": {ID: "@a", Name: "alice"}}}
	cache := NewCache(src, nil, 0)
	ctx := context.Background()

	if _, err := cache.Profile(ctx, "@a"); err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if _, err := cache.Profile(ctx, "@a"); err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if src.calls.Load() != 1 {
		t.Fatalf("expected cached read, got %d loads", src.calls.Load())
	}

	src.profiles["@a"] = store.Profile{ID: "@a", Name: "alice v2"}
	cache.Invalidate()
	p, err := cache.Profile(ctx, "@a")
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if p.Name != "alice v2" || cache.Rebuilds() != 2 {
		t.Fatalf("expected rebuilt profile, got %+v after %d rebuilds", p, cache.Rebuilds())
	}
}

func TestCacheUnknownAndFailure(t *testing.T) {
	src := &countingSource{profiles: map[string]store.Profile{}}
	cache := NewCache(src, nil, 0)
	p, err := cache.Profile(context.Background(), "@nobody")
	if err != nil || p.ID != "@nobody" || p.Name != "" {
		t.Fatalf("Profile() = %+v, %v", p, err)
	}

	boom := errors.New("store down")
	failing := NewCache(&countingSource{err: boom}, nil, 0)
	if _, err := failing.Profile(context.Background(), "@a"); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestDirectory(t *testing.T) {
	src := &countingSource{profiles: map[string]store.Profile{
		"@alice.ed25519": {ID: "@alice.ed25519", Name: "alice", Image: "&img=.sha256", PublicWeb: true},
	}}
	dir := NewDirectory(NewCache(src, nil, 0), "/blob/")
	ctx := context.Background()

	if name, _ := dir.Name(ctx, "@alice.ed25519"); name != "alice" {
		t.Fatalf("Name() = %q", name)
	}
	if name, _ := dir.Name(ctx, "@0123456789abcdef.ed25519"); name != "@01234567" {
		t.Fatalf("Name() fallback = %q", name)
	}
	if avatar, _ := dir.Avatar(ctx, "@alice.ed25519"); avatar != "/blob/&img=.sha256" {
		t.Fatalf("Avatar() = %q", avatar)
	}
	if avatar, _ := dir.Avatar(ctx, "@bob"); avatar != DefaultAvatar {
		t.Fatalf("Avatar() default = %q", avatar)
	}
	if ok, _ := dir.PublicOptIn(ctx, "@alice.ed25519"); !ok {
		t.Fatal("expected alice to opt in")
	}
}
