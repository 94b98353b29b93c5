package identity

import (
	"context"
	"net/url"
	"strings"
)

const DefaultAvatar = "/assets/images/default-avatar.png"

// Directory answers per-id identity questions from a Cache.
type Directory struct {
	cache      *Cache
	blobPrefix string
}

// NewDirectory serves avatars as blobPrefix + escaped blob id.
func NewDirectory(cache *Cache, blobPrefix string) *Directory {
	return &Directory{cache: cache, blobPrefix: blobPrefix}
}

// Name falls back to a shortened feed id when no name was published.
func (d *Directory) Name(ctx context.Context, id string) (string, error) {
	p, err := d.cache.Profile(ctx, id)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(p.Name) != "" {
		return p.Name, nil
	}
	return ShortID(id), nil
}

func (d *Directory) Avatar(ctx context.Context, id string) (string, error) {
	p, err := d.cache.Profile(ctx, id)
	if err != nil {
		return "", err
	}
	if p.Image == "" {
		return DefaultAvatar, nil
	}
	return d.blobPrefix + url.PathEscape(p.Image), nil
}

func (d *Directory) PublicOptIn(ctx context.Context, id string) (bool, error) {
	p, err := d.cache.Profile(ctx, id)
	if err != nil {
		return false, err
	}
	return p.PublicWeb, nil
}

// ShortID keeps the sigil and the first eight characters of a feed id.
func ShortID(id string) string {
	runes := []rune(id)
	if len(runes) <= 9 {
		return id
	}
	return string(runes[:9])
}

// Invalidate drops the cached profiles; the next lookup rebuilds them.
func (d *Directory) Invalidate() {
	d.cache.Invalidate()
}
