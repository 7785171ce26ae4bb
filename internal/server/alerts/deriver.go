package alerts

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/watchtower-noc/watchtower/internal/model"
	"github.com/watchtower-noc/watchtower/internal/server/cache"
)

// ErrAlertNotFound is returned by Get for an id no current alert carries.
var ErrAlertNotFound = errors.New("alert not found")

// Deriver builds the unified alert feed from the current snapshot and the
// cached upstream alerts.
type Deriver struct {
	topology model.TopologyReader
	cache    *cache.Client
	state    StateStore
	logger   *zap.Logger
	now      func() time.Time
}

func NewDeriver(topology model.TopologyReader, c *cache.Client, state StateStore, logger *zap.Logger) *Deriver {
	return &Deriver{
		topology: topology,
		cache:    c,
		state:    state,
		logger:   logger.Named("alerts"),
		now:      time.Now,
	}
}

// List returns every current alert, newest first, optionally restricted to
// one status. It never changes lifecycle state.
func (d *Deriver) List(ctx context.Context, q model.AlertQuery) []model.Alert {
	all := append(d.deviceDownAlerts(ctx), d.upstreamAlerts(ctx)...)
	if q.Status != nil {
		want := *q.Status
		all = lo.Filter(all, func(a model.Alert, _ int) bool { return a.Status == want })
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.After(all[j].Timestamp)
	})
	return all
}

// Get returns the current alert with the given id.
func (d *Deriver) Get(ctx context.Context, id string) (model.Alert, error) {
	a, ok := lo.Find(d.List(ctx, model.AlertQuery{}), func(a model.Alert) bool { return a.ID == id })
	if !ok {
		return model.Alert{}, ErrAlertNotFound
	}
	return a, nil
}

// Acknowledge marks id acknowledged. Repeating it is a no-op.
func (d *Deriver) Acknowledge(id string) {
	d.state.Acknowledge(id)
	d.logger.Info("alert acknowledged", zap.String("id", id))
}

// Resolve clears the acknowledgement of id. The alert itself reappears as
// active while its condition persists.
func (d *Deriver) Resolve(id string) {
	d.state.Clear(id)
	d.logger.Info("alert resolved", zap.String("id", id))
}

func (d *Deriver) deviceDownAlerts(ctx context.Context) []model.Alert {
	snap, err := d.topology.Topology(ctx)
	if err != nil {
		d.logger.Warn("device-down alerts unavailable", zap.Error(err))
		return nil
	}

	var out []model.Alert
	for id, dev := range snap.Devices {
		if dev.Status != model.StatusDown {
			continue
		}
		alertID := "device-down-" + id
		ip := dev.IP
		if ip == "" {
			ip = "unknown"
		}
		ts := d.now().UTC()
		if dev.LastSeen != nil {
			ts = *dev.LastSeen
		}
		out = append(out, model.Alert{
			ID:        alertID,
			DeviceID:  id,
			Severity:  model.SeverityCritical,
			Message:   "Device unreachable: " + dev.DisplayName,
			Details:   "IP: " + ip,
			Status:    d.state.Status(alertID),
			Source:    "device",
			Timestamp: ts,
		})
	}
	return out
}

func (d *Deriver) upstreamAlerts(ctx context.Context) []model.Alert {
	cached, _, ok := cache.Load[[]model.UpstreamAlert](ctx, d.cache, model.KeyAlerts)
	if !ok {
		return nil
	}

	out := make([]model.Alert, 0, len(cached))
	for _, u := range cached {
		upstreamID := u.ID
		if upstreamID == "" {
			upstreamID = "unknown"
		}
		alertID := model.SourceLibreNMS + "-" + upstreamID

		deviceID := u.Hostname
		if deviceID == "" {
			deviceID = u.DeviceID
		}
		if deviceID == "" {
			deviceID = "unknown"
		}

		msg, _ := lo.Coalesce(u.Name, u.Rule, "LibreNMS Alert")

		out = append(out, model.Alert{
			ID:        alertID,
			DeviceID:  deviceID,
			Severity:  model.MapUpstreamSeverity(u.Severity),
			Message:   msg,
			Details:   u.Notes,
			Status:    d.state.Status(alertID),
			Source:    model.SourceLibreNMS,
			Timestamp: d.parseTimestamp(u.Timestamp),
		})
	}
	return out
}

// parseTimestamp accepts RFC 3339 and "2006-01-02 15:04:05" among the
// layouts cast understands, falling back to now.
func (d *Deriver) parseTimestamp(raw string) time.Time {
	if raw == "" {
		return d.now().UTC()
	}
	ts, err := cast.ToTimeE(raw)
	if err != nil {
		return d.now().UTC()
	}
	return ts.UTC()
}
