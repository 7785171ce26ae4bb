// Package proxmox adapts the Proxmox VE API of one cluster instance.
package proxmox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/watchtower-noc/watchtower/internal/config"
	"github.com/watchtower-noc/watchtower/internal/model"
	"github.com/watchtower-noc/watchtower/internal/sources"
)

type node struct {
	Node   string      `json:"node"`
	Status string      `json:"status"`
	CPU    interface{} `json:"cpu"`
	MaxCPU interface{} `json:"maxcpu"`
	Mem    interface{} `json:"mem"`
	MaxMem interface{} `json:"maxmem"`
	Uptime interface{} `json:"uptime"`
}

type guest struct {
	VMID   interface{} `json:"vmid"`
	Name   string      `json:"name"`
	Status string      `json:"status"`
	CPU    interface{} `json:"cpu"`
	CPUs   interface{} `json:"cpus"`
	Mem    interface{} `json:"mem"`
	MaxMem interface{} `json:"maxmem"`
	Uptime interface{} `json:"uptime"`
	NetIn  interface{} `json:"netin"`
	NetOut interface{} `json:"netout"`
}

// Client talks to one Proxmox VE instance with an API token.
type Client struct {
	rc     *resty.Client
	cfg    config.ProxmoxConfig
	logger *zap.Logger
	now    func() time.Time
}

func New(cfg config.ProxmoxConfig, logger *zap.Logger) *Client {
	rc := sources.NewHTTPClient(sources.HTTPConfig{
		BaseURL:   cfg.URL + "/api2/json",
		Timeout:   cfg.Timeout,
		VerifySSL: cfg.VerifySSL,
	}).SetHeader("Authorization", "PVEAPIToken="+cfg.TokenID+"="+cfg.TokenSecret)

	return &Client{
		rc:     rc,
		cfg:    cfg,
		logger: logger.Named("proxmox").With(zap.String("instance", cfg.Name)),
		now:    time.Now,
	}
}

// Name returns the configured instance name.
func (c *Client) Name() string { return c.cfg.Name }

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	if c.cfg.URL == "" || c.cfg.TokenID == "" {
		return sources.ErrNotConfigured
	}
	var body struct {
		Data interface{} `json:"data"`
	}
	body.Data = out
	resp, err := c.rc.R().SetContext(ctx).Get(path)
	return sources.Decode("proxmox "+path, resp, err, &body)
}

// FetchNodes implements model.HypervisorSource. CPU and memory are
// converted to percentages.
func (c *Client) FetchNodes(ctx context.Context) ([]model.ProxmoxNode, error) {
	var nodes []node
	if err := c.get(ctx, "/nodes", &nodes); err != nil {
		return nil, err
	}
	now := c.now().UTC()
	out := make([]model.ProxmoxNode, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, model.ProxmoxNode{
			Node:       n.Node,
			Instance:   c.cfg.Name,
			Status:     n.Status,
			CPU:        model.Round2(cast.ToFloat64(n.CPU) * 100),
			Memory:     model.Percent(cast.ToFloat64(n.Mem), cast.ToFloat64(n.MaxMem)),
			MaxCPU:     cast.ToInt(n.MaxCPU),
			MaxMem:     cast.ToInt64(n.MaxMem),
			Uptime:     cast.ToInt64(n.Uptime),
			ObservedAt: now,
		})
	}
	return out, nil
}

// FetchVMs implements model.HypervisorSource. Guests of offline nodes are
// skipped; a failing guest listing on one node is logged and skipped.
func (c *Client) FetchVMs(ctx context.Context, nodes []model.ProxmoxNode) ([]model.ProxmoxVM, error) {
	var (
		mu  sync.Mutex
		vms []model.ProxmoxVM
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, n := range nodes {
		if n.Status != "online" {
			continue
		}
		for _, kind := range []string{"qemu", "lxc"} {
			nodeName, kind := n.Node, kind
			g.Go(func() error {
				var guests []guest
				if err := c.get(gctx, "/nodes/"+nodeName+"/"+kind, &guests); err != nil {
					c.logger.Warn("failed to list guests",
						zap.String("node", nodeName),
						zap.String("type", kind),
						zap.Error(err),
					)
					return nil
				}
				converted := make([]model.ProxmoxVM, 0, len(guests))
				for _, vm := range guests {
					converted = append(converted, model.ProxmoxVM{
						VMID:     cast.ToInt(vm.VMID),
						Name:     vm.Name,
						Node:     nodeName,
						Instance: c.cfg.Name,
						Type:     kind,
						Status:   vm.Status,
						CPU:      model.Round2(cast.ToFloat64(vm.CPU) * 100),
						Memory:   model.Percent(cast.ToFloat64(vm.Mem), cast.ToFloat64(vm.MaxMem)),
						CPUs:     cast.ToInt(vm.CPUs),
						MaxMem:   cast.ToInt64(vm.MaxMem),
						Uptime:   cast.ToInt64(vm.Uptime),
						NetIn:    cast.ToInt64(vm.NetIn),
						NetOut:   cast.ToInt64(vm.NetOut),
					})
				}
				mu.Lock()
				vms = append(vms, converted...)
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(vms, func(i, j int) bool {
		if vms[i].Node != vms[j].Node {
			return vms[i].Node < vms[j].Node
		}
		return vms[i].VMID < vms[j].VMID
	})
	return vms, nil
}

// Check verifies connectivity and returns the node count.
func (c *Client) Check(ctx context.Context) (int, error) {
	var version map[string]interface{}
	if err := c.get(ctx, "/version", &version); err != nil {
		return 0, errors.Wrapf(err, "proxmox %s check", c.cfg.Name)
	}
	nodes, err := c.FetchNodes(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "proxmox %s check", c.cfg.Name)
	}
	return len(nodes), nil
}
