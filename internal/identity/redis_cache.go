package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tangle/api/internal/store"
)

// RedisCache shares the folded profile set between API processes.
type RedisCache struct {
	client *redis.Client
	key    string
}

type cachedProfile struct {
	Name        string `json:"name,omitempty"`
	Image       string `json:"image,omitempty"`
	Description string `json:"description,omitempty"`
	PublicWeb   bool   `json:"public_web,omitempty"`
}

func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisCacheWithClient(client), nil
}

func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, key: "tangle:profiles"}
}

// Save replaces the shared snapshot. A non-positive ttl keeps it for an hour.
func (c *RedisCache) Save(ctx context.Context, profiles map[string]store.Profile, ttl time.Duration) error {
	payload := make(map[string]cachedProfile, len(profiles))
	for id, p := range profiles {
		payload[id] = cachedProfile{Name: p.Name, Image: p.Image, Description: p.Description, PublicWeb: p.PublicWeb}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal profiles: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if err := c.client.Set(ctx, c.key, data, ttl).Err(); err != nil {
		return fmt.Errorf("save profiles: %w", err)
	}
	return nil
}

// Load returns the shared snapshot; ok is false when none is stored.
func (c *RedisCache) Load(ctx context.Context) (map[string]store.Profile, bool, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load profiles: %w", err)
	}

	var payload map[string]cachedProfile
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, false, fmt.Errorf("unmarshal profiles: %w", err)
	}
	profiles := make(map[string]store.Profile, len(payload))
	for id, p := range payload {
		profiles[id] = store.Profile{ID: id, Name: p.Name, Image: p.Image, Description: p.Description, PublicWeb: p.PublicWeb}
	}
	return profiles, true, nil
}

// Clear drops the shared snapshot.
func (c *RedisCache) Clear(ctx context.Context) error {
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("clear profiles: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
