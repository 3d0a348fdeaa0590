package types

import (
	"context"
	"time"
)

// CacheManager is the two-tier read path: a bounded hot tier in front of the
// durable store. The durable tier is authoritative; the hot tier only holds
// entries under the configured size limit.
type CacheManager interface {
	LifecycleManager
	CacheResponse(ctx context.Context, key string, data []byte, opts *CacheOptions) error
	GetCachedResponse(ctx context.Context, key string) (*CacheEntry, error)
	Invalidate(ctx context.Context, keys ...string) error
	Clear(ctx context.Context) error
	Size(ctx context.Context) (int64, error)
	SweepExpired(ctx context.Context) (int, error)
}

// CacheTier is the hot-tier backend. Implementations are free to drop entries
// at any time; correctness never depends on a hot hit.
type CacheTier interface {
	LifecycleManager
	Get(ctx context.Context, key string) (*CacheEntry, bool)
	Set(ctx context.Context, entry *CacheEntry) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Len(ctx context.Context) int
}

type CacheTierCreator func(config interface{}) (CacheTier, error)

type CacheOptions struct {
	ContentType  string        `json:"content_type"`
	TTL          time.Duration `json:"ttl"`
	ETag         string        `json:"etag"`
	LastModified string        `json:"last_modified"`
}

type CacheEntry struct {
	Key          string    `json:"key"`
	Payload      []byte    `json:"payload"`
	ContentType  string    `json:"content_type"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	SizeBytes    int64     `json:"size_bytes"`
}

func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}
