package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/watchtower-noc/watchtower/internal/model"
	"github.com/watchtower-noc/watchtower/internal/server/cache"
)

// Service assembles snapshots from the skeleton and the cached live data.
type Service struct {
	skeleton model.SkeletonProvider
	cache    *cache.Client
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.RWMutex
	lastDiag *model.Diagnostics
}

// NewService creates a new aggregation service.
func NewService(skeleton model.SkeletonProvider, c *cache.Client, logger *zap.Logger) *Service {
	return &Service{
		skeleton: skeleton,
		cache:    c,
		logger:   logger.Named("aggregator"),
		now:      time.Now,
	}
}

// Topology builds a fresh snapshot. Only a missing skeleton is an error;
// absent live data just leaves devices unknown.
func (s *Service) Topology(ctx context.Context) (*model.Snapshot, error) {
	sk, err := s.skeleton.Skeleton(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load topology skeleton: %w", err)
	}

	in := s.inputs(ctx)
	snap, diag := Build(sk, in, s.now())

	if n := len(diag.Discrepancies); n > 0 {
		s.logger.Debug("source discrepancies", zap.Int("count", n))
	}
	if len(diag.DroppedConnections) > 0 {
		s.logger.Warn("dropped connections with missing endpoints",
			zap.Strings("connections", diag.DroppedConnections))
	}

	s.mu.Lock()
	s.lastDiag = &diag
	s.mu.Unlock()

	return &snap, nil
}

// Diagnostics returns the irregularities of the most recent aggregation,
// building one if none has happened yet.
func (s *Service) Diagnostics(ctx context.Context) (model.Diagnostics, error) {
	s.mu.RLock()
	d := s.lastDiag
	s.mu.RUnlock()
	if d != nil {
		return *d, nil
	}
	if _, err := s.Topology(ctx); err != nil {
		return model.Diagnostics{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.lastDiag, nil
}

func (s *Service) inputs(ctx context.Context) Inputs {
	var in Inputs
	if v, _, ok := cache.Load[[]model.DeviceReport](ctx, s.cache, model.KeyDeviceStatus); ok {
		in.Reports = v
	}
	if v, _, ok := cache.Load[model.InterfaceReport](ctx, s.cache, model.KeyInterfaces); ok {
		in.Interfaces = &v
	}
	if v, _, ok := cache.Load[model.ProxmoxInventory](ctx, s.cache, model.KeyProxmox); ok {
		in.Proxmox = &v
	}
	if v, _, ok := cache.Load[[]model.ProxmoxVM](ctx, s.cache, model.KeyProxmoxVMs); ok {
		in.VMs = v
	}
	if v, _, ok := cache.Load[[]model.UpstreamAlert](ctx, s.cache, model.KeyAlerts); ok {
		in.Alerts = v
	}
	return in
}
