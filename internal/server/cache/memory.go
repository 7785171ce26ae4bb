package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is an in-process Store for single-instance deployments and tests.
type Memory struct {
	c      *gocache.Cache
	prefix string
}

// NewMemory creates an in-process store. Expired entries are swept every
// minute.
func NewMemory(prefix string) *Memory {
	return &Memory{
		c:      gocache.New(gocache.NoExpiration, time.Minute),
		prefix: prefix,
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.c.Get(m.prefix + key)
	if !ok {
		return nil, ErrNotFound
	}
	b := v.([]byte)
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	b := make([]byte, len(value))
	copy(b, value)
	m.c.Set(m.prefix+key, b, ttl)
	return nil
}

func (m *Memory) Close() error {
	m.c.Flush()
	return nil
}
