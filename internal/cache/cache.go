// Package cache is the key-value layer session blobs are stored in.
package cache

import (
	"context"
	"time"
)

// Cache stores JSON values under string keys. A ttl of zero means no expiry.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Exists(ctx context.Context, keys ...string) (int64, error)
	Del(ctx context.Context, keys ...string) (int64, error)
}
