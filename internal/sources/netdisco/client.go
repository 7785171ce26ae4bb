// Package netdisco adapts the Netdisco v1 API. Netdisco knows which devices
// exist and how they identify themselves but not whether they are reachable,
// so its reports carry an unknown status.
package netdisco

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/watchtower-noc/watchtower/internal/config"
	"github.com/watchtower-noc/watchtower/internal/model"
	"github.com/watchtower-noc/watchtower/internal/sources"
)

// Device is a device as returned by the device search.
type Device struct {
	IP       string      `json:"ip"`
	DNS      string      `json:"dns"`
	Name     string      `json:"name"`
	Vendor   string      `json:"vendor"`
	Model    string      `json:"model"`
	OS       string      `json:"os"`
	Location string      `json:"location"`
	Uptime   interface{} `json:"uptime"`
}

// Client talks to one Netdisco instance.
type Client struct {
	rc     *resty.Client
	cfg    config.NetdiscoConfig
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	apiKey string
}

func New(cfg config.NetdiscoConfig, logger *zap.Logger) *Client {
	return &Client{
		rc: sources.NewHTTPClient(sources.HTTPConfig{
			BaseURL:   cfg.URL,
			Timeout:   cfg.Timeout,
			VerifySSL: true,
		}),
		cfg:    cfg,
		logger: logger.Named("netdisco"),
		now:    time.Now,
		apiKey: cfg.APIKey,
	}
}

func (c *Client) Name() string { return model.SourceNetdisco }

func (c *Client) configured() error {
	if c.cfg.URL == "" {
		return sources.ErrNotConfigured
	}
	if c.cfg.APIKey == "" && (c.cfg.Username == "" || c.cfg.Password == "") {
		return sources.ErrNotConfigured
	}
	return nil
}

// key returns the API key, logging in with username and password when no
// static key is configured.
func (c *Client) key(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.apiKey != "" {
		return c.apiKey, nil
	}

	var body struct {
		APIKey string `json:"api_key"`
	}
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBasicAuth(c.cfg.Username, c.cfg.Password).
		Post("/login")
	if err := sources.Decode("netdisco login", resp, err, &body); err != nil {
		return "", err
	}
	if body.APIKey == "" {
		return "", errors.New("netdisco login returned no api key")
	}
	c.apiKey = body.APIKey
	c.logger.Info("obtained netdisco api key")
	return c.apiKey, nil
}

// Devices lists every device Netdisco has discovered.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}
	key, err := c.key(ctx)
	if err != nil {
		return nil, err
	}

	var devices []Device
	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeader("Authorization", key).
		SetQueryParams(map[string]string{"q": "%", "matchall": "false"}).
		Get("/api/v1/search/device")
	if err == nil && resp.StatusCode() == http.StatusUnauthorized && c.cfg.APIKey == "" {
		// session key expired; log in again on the next poll
		c.mu.Lock()
		c.apiKey = ""
		c.mu.Unlock()
	}
	if err := sources.Decode("netdisco devices", resp, err, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// FetchDevices implements model.DeviceSource.
func (c *Client) FetchDevices(ctx context.Context) ([]model.DeviceReport, error) {
	devices, err := c.Devices(ctx)
	if err != nil {
		return nil, err
	}
	now := c.now().UTC()
	out := make([]model.DeviceReport, 0, len(devices))
	for _, d := range devices {
		host := d.DNS
		if host == "" {
			host = d.IP
		}
		r := model.DeviceReport{
			Source:     model.SourceNetdisco,
			ID:         model.CleanDeviceID(d.Name, host),
			Hostname:   host,
			IP:         d.IP,
			Status:     model.StatusUnknown,
			Location:   d.Location,
			ObservedAt: now,
		}
		if d.Uptime != nil {
			// Netdisco stores sysUpTime in hundredths of a second.
			up := cast.ToInt64(d.Uptime) / 100
			r.Uptime = &up
		}
		out = append(out, r)
	}
	return out, nil
}

// Check verifies connectivity and returns the device count.
func (c *Client) Check(ctx context.Context) (int, error) {
	devices, err := c.Devices(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "netdisco check")
	}
	return len(devices), nil
}
