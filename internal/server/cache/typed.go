package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/watchtower-noc/watchtower/internal/model"
)

// schemaVersions is bumped whenever the Go type stored under a key changes
// shape, so values written by an older build are ignored instead of being
// decoded into the wrong type.
var schemaVersions = map[string]int{
	model.KeyDevices:        1,
	model.KeyDeviceStatus:   1,
	model.KeyInterfaces:     1,
	model.KeyProxmox:        1,
	model.KeyProxmoxVMs:     1,
	model.KeyAlerts:         1,
	model.KeySpeedTest:      1,
	model.KeyLastPoll:       1,
	model.KeyTopology:       1,
	model.KeyTopologyStatus: 1,
	model.KeyPollStats:      1,
}

// Schema returns the envelope schema tag of key, e.g. "devices/v1".
func Schema(key string) string {
	v, ok := schemaVersions[key]
	if !ok {
		v = 1
	}
	return fmt.Sprintf("%s/v%d", key, v)
}

// Envelope wraps every cached value.
type Envelope struct {
	Schema    string          `json:"schema"`
	WrittenAt time.Time       `json:"written_at"`
	Data      json.RawMessage `json:"data"`
}

// Client reads and writes enveloped JSON values on a Store.
type Client struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewClient(store Store, logger *zap.Logger) *Client {
	return &Client{
		store:  store,
		logger: logger.Named("cache"),
		now:    time.Now,
	}
}

// Store returns the underlying store.
func (c *Client) Store() Store { return c.store }

// Save encodes v, wraps it in the key's envelope and replaces the key.
func Save[T any](ctx context.Context, c *Client, key string, v T, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	raw, err := json.Marshal(Envelope{
		Schema:    Schema(key),
		WrittenAt: c.now().UTC(),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("failed to encode %s envelope: %w", key, err)
	}
	if err := c.store.Set(ctx, key, raw, ttl); err != nil {
		c.logger.Error("cache write failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// Load returns the value under key and when it was written. ok is false
// when the key is absent, the store fails, or the stored value does not
// carry the expected schema. Only the latter two are logged.
func Load[T any](ctx context.Context, c *Client, key string) (v T, writtenAt time.Time, ok bool) {
	raw, err := c.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return v, writtenAt, false
	}
	if err != nil {
		c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return v, writtenAt, false
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Warn("discarding undecodable cache value", zap.String("key", key), zap.Error(err))
		return v, writtenAt, false
	}
	if want := Schema(key); env.Schema != want {
		c.logger.Warn("discarding cache value with unexpected schema",
			zap.String("key", key),
			zap.String("schema", env.Schema),
			zap.String("expected", want),
		)
		return v, writtenAt, false
	}
	if err := json.Unmarshal(env.Data, &v); err != nil {
		c.logger.Warn("discarding undecodable cache payload", zap.String("key", key), zap.Error(err))
		var zero T
		return zero, writtenAt, false
	}
	return v, env.WrittenAt, true
}
