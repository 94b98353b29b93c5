// Package identity resolves feed ids to display names and avatars from the
// about messages in the store.
package identity

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"tangle/api/internal/store"
)

const rebuildTimeout = 30 * time.Second

// ProfileSource folds every profile from the store.
type ProfileSource interface {
	Profiles(ctx context.Context) (map[string]store.Profile, error)
}

// Cache holds the folded profile set. It is rebuilt lazily after Invalidate,
// and only one rebuild runs at a time; concurrent readers wait for it.
type Cache struct {
	source ProfileSource
	remote *RedisCache
	ttl    time.Duration

	mu       sync.RWMutex
	profiles map[string]store.Profile

	dirty      atomic.Bool
	generation atomic.Int64
	// bypassRemote makes the next rebuild read the store and overwrite the
	// shared snapshot.
	bypassRemote atomic.Bool
	rebuild      singleflight.Group
	rebuilds     atomic.Int64
}

// NewCache builds a cache over source. remote may be nil.
func NewCache(source ProfileSource, remote *RedisCache, ttl time.Duration) *Cache {
	c := &Cache{source: source, remote: remote, ttl: ttl, profiles: map[string]store.Profile{}}
	c.dirty.Store(true)
	return c
}

// Invalidate marks the cache stale; the next read rebuilds it from the store.
func (c *Cache) Invalidate() {
	c.bypassRemote.Store(true)
	c.generation.Add(1)
	c.dirty.Store(true)
}

// Rebuilds reports how many rebuilds have completed.
func (c *Cache) Rebuilds() int64 {
	return c.rebuilds.Load()
}

func (c *Cache) Profile(ctx context.Context, id string) (store.Profile, error) {
	if err := c.ensure(ctx); err != nil {
		return store.Profile{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[id]
	if !ok {
		return store.Profile{ID: id}, nil
	}
	return p, nil
}

// ensure rebuilds a dirty cache. The rebuild outlives the request that
// started it so readers waiting on the same flight are not failed by another
// caller's cancellation; each reader still gives up on its own context.
func (c *Cache) ensure(ctx context.Context) error {
	if !c.dirty.Load() {
		return nil
	}
	ch := c.rebuild.DoChan("profiles", func() (any, error) {
		if !c.dirty.Load() {
			return nil, nil
		}
		rebuildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rebuildTimeout)
		defer cancel()

		started := c.generation.Load()
		profiles, err := c.load(rebuildCtx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.profiles = profiles
		c.mu.Unlock()
		// An Invalidate that landed mid-rebuild keeps the cache dirty.
		if c.generation.Load() == started {
			c.dirty.Store(false)
		}
		c.rebuilds.Add(1)
		return nil, nil
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Cache) load(ctx context.Context) (map[string]store.Profile, error) {
	bypass := c.bypassRemote.Swap(false)
	if c.remote != nil && !bypass {
		profiles, ok, err := c.remote.Load(ctx)
		if err != nil {
			log.Printf("identity: redis load failed, reading store: %v", err)
		} else if ok {
			return profiles, nil
		}
	}

	profiles, err := c.source.Profiles(ctx)
	if err != nil {
		c.bypassRemote.Store(bypass)
		return nil, err
	}
	if c.remote != nil {
		if err := c.remote.Save(ctx, profiles, c.ttl); err != nil {
			log.Printf("identity: redis save failed: %v", err)
		}
	}
	return profiles, nil
}
