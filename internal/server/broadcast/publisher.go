package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/watchtower-noc/watchtower/internal/model"
	"github.com/watchtower-noc/watchtower/internal/server/cache"
)

// Sender delivers a message to every subscriber.
type Sender interface {
	Broadcast(msg interface{}) error
}

// Publisher is the single writer of the snapshot key. Each Publish builds a
// snapshot, swaps it into the cache and announces status transitions.
type Publisher struct {
	topology model.TopologyReader
	cache    *cache.Client
	sender   Sender
	ttl      time.Duration
	logger   *zap.Logger

	mu sync.Mutex
}

// NewPublisher creates a publisher that keeps snapshots for ttl.
func NewPublisher(topology model.TopologyReader, c *cache.Client, sender Sender, ttl time.Duration, logger *zap.Logger) *Publisher {
	return &Publisher{
		topology: topology,
		cache:    c,
		sender:   sender,
		ttl:      ttl,
		logger:   logger.Named("publisher"),
	}
}

// Publish is serialized so that the previous-digest read and the
// new-snapshot write of one call never interleave with another call. The
// previous state is read from the status digest, never from the full
// snapshot.
func (p *Publisher) Publish(ctx context.Context) ([]model.StatusChange, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next, err := p.topology.Topology(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build snapshot: %w", err)
	}
	digest := Digest(next)

	prev, _, havePrev := cache.Load[model.StatusDigest](ctx, p.cache, model.KeyTopologyStatus)

	if err := cache.Save(ctx, p.cache, model.KeyTopology, next, p.ttl); err != nil {
		return nil, fmt.Errorf("failed to store snapshot: %w", err)
	}
	// A failed digest write leaves the older digest in place, so the
	// transitions are announced by the next publish instead.
	if err := cache.Save(ctx, p.cache, model.KeyTopologyStatus, digest, p.ttl); err != nil {
		return nil, fmt.Errorf("failed to store status digest: %w", err)
	}

	if !havePrev {
		return nil, nil
	}
	changes := DiffDigest(prev, digest)
	if len(changes) == 0 {
		return nil, nil
	}

	msg := model.StatusChangeMessage{
		Type:    model.MessageDeviceStatusChange,
		Changes: changes,
	}
	if err := p.sender.Broadcast(msg); err != nil {
		p.logger.Error("failed to broadcast status changes", zap.Error(err))
	}
	p.logger.Info("device status changed", zap.Int("changes", len(changes)))
	return changes, nil
}
