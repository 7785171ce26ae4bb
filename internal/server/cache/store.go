package cache

import (
	"context"
	"errors"
	"time"
)

// DefaultKeyPrefix namespaces every key written by the service.
const DefaultKeyPrefix = "watchtower:"

// ErrNotFound is returned by Get when a key is absent or expired.
var ErrNotFound = errors.New("cache: key not found")

// Store is a shared key/value cache. Set replaces the whole value
// atomically; there are no partial or merge operations.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}
