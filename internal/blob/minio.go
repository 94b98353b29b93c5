// Package blob reads blob bodies (blog posts, images) from an S3-compatible
// bucket that the replication layer mirrors blobs into.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotFound is returned when the blob has not been replicated yet.
var ErrNotFound = errors.New("blob not found")

const defaultMaxBytes = 5 << 20

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// MaxBytes caps how much of a blob is read.
	MaxBytes int64
}

type Minio struct {
	client   *minio.Client
	bucket   string
	maxBytes int64
}

func NewMinio(cfg Config) (*Minio, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Minio{client: client, bucket: cfg.Bucket, maxBytes: maxBytes}, nil
}

// Get returns the blob body as text.
func (m *Minio) Get(ctx context.Context, blobID string) (string, error) {
	key, err := ObjectKey(blobID)
	if err != nil {
		return "", err
	}
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("get blob %s: %w", blobID, err)
	}
	defer obj.Close()

	body, err := io.ReadAll(io.LimitReader(obj, m.maxBytes))
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read blob %s: %w", blobID, err)
	}
	return string(body), nil
}

// Healthy reports whether the bucket is reachable.
func (m *Minio) Healthy(ctx context.Context) bool {
	ok, err := m.client.BucketExists(ctx, m.bucket)
	return err == nil && ok
}

// ObjectKey maps a blob id ("&<base64 hash>.sha256") to its object key. The
// base64 alphabet's "/" is replaced so keys stay flat.
func ObjectKey(blobID string) (string, error) {
	trimmed := strings.TrimSpace(blobID)
	if !strings.HasPrefix(trimmed, "&") || len(trimmed) < 2 {
		return "", fmt.Errorf("invalid blob id %q", blobID)
	}
	return strings.ReplaceAll(strings.TrimPrefix(trimmed, "&"), "/", "_"), nil
}
