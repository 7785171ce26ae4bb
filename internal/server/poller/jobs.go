package poller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/watchtower-noc/watchtower/internal/config"
	"github.com/watchtower-noc/watchtower/internal/model"
	"github.com/watchtower-noc/watchtower/internal/server/broadcast"
	"github.com/watchtower-noc/watchtower/internal/server/cache"
	"github.com/watchtower-noc/watchtower/internal/sources"
	"github.com/watchtower-noc/watchtower/internal/sources/librenms"
)

// LibreNMS is the part of the LibreNMS adapter the jobs use.
type LibreNMS interface {
	Devices(ctx context.Context) ([]librenms.Device, error)
	FetchInterfaces(ctx context.Context) (model.InterfaceReport, error)
	FetchAlerts(ctx context.Context) ([]model.UpstreamAlert, error)
}

// Publisher rebuilds the snapshot and announces status changes.
type Publisher interface {
	Publish(ctx context.Context) ([]model.StatusChange, error)
}

// Sources are the upstream adapters. Nil or empty fields are unconfigured.
type Sources struct {
	LibreNMS LibreNMS
	// Devices are additional liveness sources, e.g. Netdisco and SNMP.
	Devices     []model.DeviceSource
	Hypervisors []model.HypervisorSource
	SpeedTest   model.SpeedTester
}

// Jobs holds the per-category poll jobs.
type Jobs struct {
	src       Sources
	cache     *cache.Client
	publisher Publisher
	sender    broadcast.Sender
	polling   config.PollingConfig
	logger    *zap.Logger
	now       func() time.Time
}

func NewJobs(src Sources, c *cache.Client, publisher Publisher, sender broadcast.Sender, polling config.PollingConfig, logger *zap.Logger) *Jobs {
	return &Jobs{
		src:       src,
		cache:     c,
		publisher: publisher,
		sender:    sender,
		polling:   polling,
		logger:    logger.Named("jobs"),
		now:       time.Now,
	}
}

// Map returns the jobs keyed by category.
func (j *Jobs) Map() map[string]Job {
	return map[string]Job{
		config.CategoryDeviceStatus: j.DeviceStatus,
		config.CategoryInterfaces:   j.Interfaces,
		config.CategoryTopology:     j.Topology,
		config.CategoryAlerts:       j.Alerts,
		config.CategorySpeedTest:    j.SpeedTest,
	}
}

// publish rebuilds the snapshot. A failure is logged but does not fail the
// job whose data was already written.
func (j *Jobs) publish(ctx context.Context, category string) {
	if j.publisher == nil {
		return
	}
	changes, err := j.publisher.Publish(ctx)
	if err != nil {
		j.logger.Warn("snapshot publish failed", zap.String("category", category), zap.Error(err))
		return
	}
	if len(changes) > 0 {
		j.logger.Info("device status changed",
			zap.String("category", category),
			zap.Int("changes", len(changes)),
		)
	}
}

// sourceErrors collects the failures of isolated sources.
type sourceErrors struct {
	mu         sync.Mutex
	configured int
	failed     []string
	names      map[string]bool
}

func (e *sourceErrors) add(name string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if errors.Is(err, sources.ErrNotConfigured) {
		return
	}
	e.configured++
	if err != nil {
		e.failed = append(e.failed, fmt.Sprintf("%s: %v", name, err))
		if e.names == nil {
			e.names = make(map[string]bool)
		}
		e.names[name] = true
	}
}

// failedSources returns the sources that were configured but failed.
func (e *sourceErrors) failedSources() map[string]bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.names
}

// err fails only when every configured source failed.
func (e *sourceErrors) err() error {
	if e.configured == 0 {
		return sources.ErrNotConfigured
	}
	if len(e.failed) == e.configured {
		return fmt.Errorf("all sources failed: %s", strings.Join(e.failed, "; "))
	}
	return nil
}

// DeviceStatus polls every liveness source concurrently and writes the raw
// LibreNMS list and the merged reports.
func (j *Jobs) DeviceStatus(ctx context.Context) error {
	var (
		mu      sync.Mutex
		reports []model.DeviceReport
		raw     []librenms.Device
		haveRaw bool
		errs    sourceErrors
	)
	g, gctx := errgroup.WithContext(ctx)

	if j.src.LibreNMS != nil {
		g.Go(func() error {
			devices, err := j.src.LibreNMS.Devices(gctx)
			errs.add(model.SourceLibreNMS, err)
			if err != nil {
				j.logger.Warn("device source failed", zap.String("source", model.SourceLibreNMS), zap.Error(err))
				return nil
			}
			converted := librenms.ToReports(devices, j.now().UTC())
			mu.Lock()
			raw, haveRaw = devices, true
			reports = append(reports, converted...)
			mu.Unlock()
			return nil
		})
	}
	for _, src := range j.src.Devices {
		src := src
		g.Go(func() error {
			got, err := src.FetchDevices(gctx)
			errs.add(src.Name(), err)
			if err != nil {
				if !errors.Is(err, sources.ErrNotConfigured) {
					j.logger.Warn("device source failed", zap.String("source", src.Name()), zap.Error(err))
				}
				return nil
			}
			mu.Lock()
			reports = append(reports, got...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := errs.err(); err != nil {
		return err
	}
	ttl := j.polling.TTL(config.CategoryDeviceStatus)
	reports = append(reports, j.staleReports(ctx, errs.failedSources(), ttl)...)

	if haveRaw {
		if err := cache.Save(ctx, j.cache, model.KeyDevices, raw, ttl); err != nil {
			return err
		}
	}
	if err := cache.Save(ctx, j.cache, model.KeyDeviceStatus, reports, ttl); err != nil {
		return err
	}
	j.logger.Debug("device status polled", zap.Int("reports", len(reports)))

	j.publish(ctx, config.CategoryDeviceStatus)
	return nil
}

// staleReports returns the cached reports of sources that failed this run,
// so a failing source leaves its last observations in place. Reports older
// than ttl are dropped, as the whole key would have expired by then.
func (j *Jobs) staleReports(ctx context.Context, failed map[string]bool, ttl time.Duration) []model.DeviceReport {
	if len(failed) == 0 {
		return nil
	}
	prev, _, ok := cache.Load[[]model.DeviceReport](ctx, j.cache, model.KeyDeviceStatus)
	if !ok {
		return nil
	}
	cutoff := j.now().Add(-ttl)
	var kept []model.DeviceReport
	for _, r := range prev {
		if failed[r.Source] && r.ObservedAt.After(cutoff) {
			kept = append(kept, r)
		}
	}
	if len(kept) > 0 {
		j.logger.Debug("keeping last reports of failed sources", zap.Int("reports", len(kept)))
	}
	return kept
}

// Interfaces polls per-port state.
func (j *Jobs) Interfaces(ctx context.Context) error {
	if j.src.LibreNMS == nil {
		return sources.ErrNotConfigured
	}
	rep, err := j.src.LibreNMS.FetchInterfaces(ctx)
	if err != nil {
		return err
	}
	if err := cache.Save(ctx, j.cache, model.KeyInterfaces, rep, j.polling.TTL(config.CategoryInterfaces)); err != nil {
		return err
	}
	j.publish(ctx, config.CategoryInterfaces)
	return nil
}

// Topology polls every hypervisor instance concurrently and writes the node
// inventory and the VM list.
func (j *Jobs) Topology(ctx context.Context) error {
	if len(j.src.Hypervisors) == 0 {
		return sources.ErrNotConfigured
	}

	var (
		mu    sync.Mutex
		nodes []model.ProxmoxNode
		vms   []model.ProxmoxVM
		errs  sourceErrors
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, hv := range j.src.Hypervisors {
		hv := hv
		g.Go(func() error {
			n, err := hv.FetchNodes(gctx)
			if err == nil {
				var v []model.ProxmoxVM
				v, err = hv.FetchVMs(gctx, n)
				if err == nil {
					mu.Lock()
					nodes = append(nodes, n...)
					vms = append(vms, v...)
					mu.Unlock()
				}
			}
			if err != nil && !errors.Is(err, sources.ErrNotConfigured) {
				j.logger.Warn("hypervisor failed", zap.String("instance", hv.Name()), zap.Error(err))
			}
			errs.add(hv.Name(), err)
			return nil
		})
	}
	_ = g.Wait()

	if err := errs.err(); err != nil {
		return err
	}

	ttl := j.polling.TTL(config.CategoryTopology)
	staleNodes, staleVMs := j.staleInventory(ctx, errs.failedSources(), ttl)
	nodes = append(nodes, staleNodes...)
	vms = append(vms, staleVMs...)

	if err := cache.Save(ctx, j.cache, model.KeyProxmox, model.NewProxmoxInventory(nodes), ttl); err != nil {
		return err
	}
	if err := cache.Save(ctx, j.cache, model.KeyProxmoxVMs, vms, ttl); err != nil {
		return err
	}
	j.logger.Debug("hypervisors polled", zap.Int("nodes", len(nodes)), zap.Int("vms", len(vms)))

	j.publish(ctx, config.CategoryTopology)
	return nil
}

// staleInventory returns the cached nodes and VMs of instances that failed
// this run. Nodes older than ttl are dropped together with their VMs.
func (j *Jobs) staleInventory(ctx context.Context, failed map[string]bool, ttl time.Duration) ([]model.ProxmoxNode, []model.ProxmoxVM) {
	if len(failed) == 0 {
		return nil, nil
	}
	inv, _, ok := cache.Load[model.ProxmoxInventory](ctx, j.cache, model.KeyProxmox)
	if !ok {
		return nil, nil
	}
	cutoff := j.now().Add(-ttl)
	var nodes []model.ProxmoxNode
	live := make(map[string]bool)
	for key, n := range inv.Nodes {
		if failed[n.Instance] && n.ObservedAt.After(cutoff) {
			nodes = append(nodes, n)
			live[key] = true
		}
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	sort.Slice(nodes, func(a, b int) bool {
		if nodes[a].Instance != nodes[b].Instance {
			return nodes[a].Instance < nodes[b].Instance
		}
		return nodes[a].Node < nodes[b].Node
	})

	prevVMs, _, _ := cache.Load[[]model.ProxmoxVM](ctx, j.cache, model.KeyProxmoxVMs)
	var vms []model.ProxmoxVM
	for _, vm := range prevVMs {
		if live[vm.Instance+":"+vm.Node] {
			vms = append(vms, vm)
		}
	}
	return nodes, vms
}

// Alerts polls the upstream alert feed.
func (j *Jobs) Alerts(ctx context.Context) error {
	if j.src.LibreNMS == nil {
		return sources.ErrNotConfigured
	}
	alerts, err := j.src.LibreNMS.FetchAlerts(ctx)
	if err != nil {
		return err
	}
	if err := cache.Save(ctx, j.cache, model.KeyAlerts, alerts, j.polling.TTL(config.CategoryAlerts)); err != nil {
		return err
	}
	j.publish(ctx, config.CategoryAlerts)
	return nil
}

// SpeedTest stores the latest speed test and pushes it to subscribers.
func (j *Jobs) SpeedTest(ctx context.Context) error {
	if j.src.SpeedTest == nil {
		return sources.ErrNotConfigured
	}
	res, err := j.src.SpeedTest.LatestResult(ctx)
	if err != nil {
		return err
	}
	if err := cache.Save(ctx, j.cache, model.KeySpeedTest, res, j.polling.TTL(config.CategorySpeedTest)); err != nil {
		return err
	}
	if j.sender != nil {
		msg := model.SpeedTestMessage{
			Type:      model.MessageSpeedTestResult,
			Timestamp: j.now().UTC(),
			Result:    res,
		}
		if err := j.sender.Broadcast(msg); err != nil {
			j.logger.Warn("speedtest broadcast failed", zap.Error(err))
		}
	}
	return nil
}
