// Package speedtest reads the latest result from a Speedtest Tracker
// instance.
package speedtest

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/watchtower-noc/watchtower/internal/config"
	"github.com/watchtower-noc/watchtower/internal/model"
	"github.com/watchtower-noc/watchtower/internal/sources"
)

// Client talks to the Speedtest Tracker API with a bearer token.
type Client struct {
	rc     *resty.Client
	cfg    config.SpeedTestConfig
	logger *zap.Logger
}

func New(cfg config.SpeedTestConfig, logger *zap.Logger) *Client {
	rc := sources.NewHTTPClient(sources.HTTPConfig{
		BaseURL:   cfg.URL,
		Timeout:   cfg.Timeout,
		VerifySSL: true,
	})
	if cfg.APIToken != "" {
		rc.SetAuthToken(cfg.APIToken)
	}
	return &Client{rc: rc, cfg: cfg, logger: logger.Named("speedtest")}
}

// LatestResult implements model.SpeedTester.
func (c *Client) LatestResult(ctx context.Context) (model.SpeedTestResult, error) {
	if c.cfg.URL == "" {
		return model.SpeedTestResult{}, sources.ErrNotConfigured
	}
	var body struct {
		Data map[string]interface{} `json:"data"`
	}
	resp, err := c.rc.R().SetContext(ctx).Get("/api/v1/results/latest")
	if err := sources.Decode("speedtest latest", resp, err, &body); err != nil {
		return model.SpeedTestResult{}, err
	}
	if len(body.Data) == 0 {
		return model.SpeedTestResult{}, errors.New("speedtest: no results yet")
	}
	return ParseResult(body.Data), nil
}

// ParseResult converts one Speedtest Tracker result. Rates are given in
// bits/s and converted to Mbps; the nested "data" object carries the
// Ookla details.
func ParseResult(raw map[string]interface{}) model.SpeedTestResult {
	details := cast.ToStringMap(raw["data"])
	server := cast.ToStringMap(details["server"])
	result := cast.ToStringMap(details["result"])
	ping := cast.ToStringMap(details["ping"])

	res := model.SpeedTestResult{
		DownloadMbps:   mbps(raw["download_bits"]),
		UploadMbps:     mbps(raw["upload_bits"]),
		PingMs:         model.Round2(cast.ToFloat64(raw["ping"])),
		JitterMs:       model.Round2(cast.ToFloat64(ping["jitter"])),
		PacketLoss:     model.Round2(cast.ToFloat64(details["packetLoss"])),
		ServerName:     cast.ToString(server["name"]),
		ServerLocation: cast.ToString(server["location"]),
		ServerID:       cast.ToInt64(server["id"]),
		ISP:            cast.ToString(details["isp"]),
		ResultURL:      cast.ToString(result["url"]),
		Indicator:      "normal",
	}
	if healthy, ok := raw["healthy"]; ok && healthy != nil && !cast.ToBool(healthy) {
		res.Indicator = "degraded"
	}
	if ts, err := cast.ToTimeE(raw["created_at"]); err == nil {
		res.Timestamp = ts.UTC()
	} else {
		res.Timestamp = time.Now().UTC()
	}
	return res
}

func mbps(bits interface{}) float64 {
	v, _ := decimal.NewFromFloat(cast.ToFloat64(bits)).
		Div(decimal.NewFromInt(1_000_000)).
		Round(2).
		Float64()
	return v
}

// Check verifies connectivity. It reports 1 when a result exists.
func (c *Client) Check(ctx context.Context) (int, error) {
	if _, err := c.LatestResult(ctx); err != nil {
		return 0, errors.Wrap(err, "speedtest check")
	}
	return 1, nil
}
