// Package snmp probes skeleton devices directly over SNMP. A device that
// answers is reported up; one that does not is not reported at all, so a
// network problem on the poller side never marks devices down.
package snmp

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/watchtower-noc/watchtower/internal/config"
	"github.com/watchtower-noc/watchtower/internal/model"
	"github.com/watchtower-noc/watchtower/internal/sources"
)

const (
	oidSysUpTime = "1.3.6.1.2.1.1.3.0"
	oidSysName   = "1.3.6.1.2.1.1.5.0"

	maxConcurrentProbes = 16
)

// Result is what one successful probe learned about a device.
type Result struct {
	SysName string
	// Uptime in seconds.
	Uptime int64
}

// getFunc performs one SNMP GET against target.
type getFunc func(ctx context.Context, target string, oids []string) ([]gosnmp.SnmpPDU, error)

// Prober polls sysUpTime and sysName of every skeleton device with an IP.
type Prober struct {
	cfg      config.SNMPConfig
	skeleton model.SkeletonProvider
	logger   *zap.Logger
	get      getFunc
	now      func() time.Time
}

func New(cfg config.SNMPConfig, skeleton model.SkeletonProvider, logger *zap.Logger) *Prober {
	p := &Prober{
		cfg:      cfg,
		skeleton: skeleton,
		logger:   logger.Named("snmp"),
		now:      time.Now,
	}
	p.get = p.snmpGet
	return p
}

func (p *Prober) Name() string { return model.SourceSNMP }

func (p *Prober) version() gosnmp.SnmpVersion {
	switch strings.ToLower(p.cfg.Version) {
	case "1", "v1":
		return gosnmp.Version1
	default:
		return gosnmp.Version2c
	}
}

func (p *Prober) snmpGet(ctx context.Context, target string, oids []string) ([]gosnmp.SnmpPDU, error) {
	g := &gosnmp.GoSNMP{
		Target:    target,
		Port:      p.cfg.Port,
		Community: p.cfg.Community,
		Version:   p.version(),
		Timeout:   p.cfg.Timeout,
		Retries:   p.cfg.Retries,
		Context:   ctx,
	}
	if err := g.Connect(); err != nil {
		return nil, errors.Wrapf(err, "snmp connect %s", target)
	}
	defer g.Conn.Close()

	pkt, err := g.Get(oids)
	if err != nil {
		return nil, errors.Wrapf(err, "snmp get %s", target)
	}
	if pkt.Error != gosnmp.NoError {
		return nil, errors.Errorf("snmp get %s: error status %v", target, pkt.Error)
	}
	return pkt.Variables, nil
}

// Probe queries one target.
func (p *Prober) Probe(ctx context.Context, target string) (Result, error) {
	vars, err := p.get(ctx, target, []string{oidSysUpTime, oidSysName})
	if err != nil {
		return Result{}, err
	}
	return ParseResult(vars)
}

// ParseResult extracts uptime and sysName from GET variables. A response
// without sysUpTime is treated as no answer.
func ParseResult(vars []gosnmp.SnmpPDU) (Result, error) {
	var (
		res    Result
		uptime bool
	)
	for _, v := range vars {
		switch strings.TrimPrefix(v.Name, ".") {
		case oidSysUpTime:
			if v.Type == gosnmp.NoSuchObject || v.Type == gosnmp.NoSuchInstance || v.Value == nil {
				continue
			}
			// TimeTicks are hundredths of a second.
			res.Uptime = gosnmp.ToBigInt(v.Value).Int64() / 100
			uptime = true
		case oidSysName:
			if b, ok := v.Value.([]byte); ok {
				res.SysName = string(b)
			}
		}
	}
	if !uptime {
		return Result{}, errors.New("no sysUpTime in response")
	}
	return res, nil
}

// FetchDevices implements model.DeviceSource. Probes run concurrently;
// unreachable devices are logged at debug level and left out.
func (p *Prober) FetchDevices(ctx context.Context) ([]model.DeviceReport, error) {
	if !p.cfg.Enabled {
		return nil, sources.ErrNotConfigured
	}
	sk, err := p.skeleton.Skeleton(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "snmp: load skeleton")
	}

	var (
		mu      sync.Mutex
		reports []model.DeviceReport
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentProbes)
	for _, d := range sk.Devices {
		if d.IP == "" {
			continue
		}
		d := d
		g.Go(func() error {
			res, err := p.Probe(gctx, d.IP)
			if err != nil {
				p.logger.Debug("probe failed", zap.String("device", d.ID), zap.Error(err))
				return nil
			}
			host := res.SysName
			if host == "" {
				host = d.IP
			}
			up := res.Uptime
			r := model.DeviceReport{
				Source:     model.SourceSNMP,
				ID:         d.ID,
				Hostname:   host,
				IP:         d.IP,
				Status:     model.StatusUp,
				Uptime:     &up,
				ObservedAt: p.now().UTC(),
			}
			mu.Lock()
			reports = append(reports, r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	sort.Slice(reports, func(i, j int) bool { return reports[i].ID < reports[j].ID })

	if err := ctx.Err(); err != nil {
		return reports, err
	}
	return reports, nil
}
