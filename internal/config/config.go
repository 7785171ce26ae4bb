package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override, e.g.
// WATCHTOWER_DATA_SOURCES__LIBRENMS__API_KEY.
const EnvPrefix = "WATCHTOWER_"

// Poll category names.
const (
	CategoryDeviceStatus = "device_status"
	CategoryInterfaces   = "interfaces"
	CategoryTopology     = "topology"
	CategoryAlerts       = "alerts"
	CategorySpeedTest    = "speedtest"
)

// Categories lists every poll category in scheduling order.
var Categories = []string{
	CategoryDeviceStatus,
	CategoryInterfaces,
	CategoryTopology,
	CategoryAlerts,
	CategorySpeedTest,
}

type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Log         LogConfig         `koanf:"log"`
	Cache       CacheConfig       `koanf:"cache"`
	Topology    TopologyConfig    `koanf:"topology"`
	Polling     PollingConfig     `koanf:"polling"`
	DataSources DataSourcesConfig `koanf:"data_sources"`
}

type ServerConfig struct {
	Listen      string        `koanf:"listen"`
	DevMode     bool          `koanf:"dev_mode"`
	CORSOrigins []string      `koanf:"cors_origins"`
	ReadTimeout time.Duration `koanf:"read_timeout"`
}

type LogConfig struct {
	Development bool `koanf:"development"`
}

type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend   string `koanf:"backend"`
	RedisURL  string `koanf:"redis_url"`
	KeyPrefix string `koanf:"key_prefix"`
}

type TopologyConfig struct {
	Path string `koanf:"path"`
}

// CategoryConfig schedules one poll category. A zero Interval disables it.
type CategoryConfig struct {
	Interval time.Duration `koanf:"interval"`
	Timeout  time.Duration `koanf:"timeout"`
}

type PollingConfig struct {
	DeviceStatus CategoryConfig `koanf:"device_status"`
	Interfaces   CategoryConfig `koanf:"interfaces"`
	Topology     CategoryConfig `koanf:"topology"`
	Alerts       CategoryConfig `koanf:"alerts"`
	SpeedTest    CategoryConfig `koanf:"speedtest"`
}

// Category returns the schedule of the named category.
func (p PollingConfig) Category(name string) (CategoryConfig, bool) {
	switch name {
	case CategoryDeviceStatus:
		return p.DeviceStatus, true
	case CategoryInterfaces:
		return p.Interfaces, true
	case CategoryTopology:
		return p.Topology, true
	case CategoryAlerts:
		return p.Alerts, true
	case CategorySpeedTest:
		return p.SpeedTest, true
	}
	return CategoryConfig{}, false
}

// TTL is how long a value written by the named category stays cached:
// three poll intervals, so one missed cycle never empties the cache.
func (p PollingConfig) TTL(name string) time.Duration {
	cc, ok := p.Category(name)
	if !ok || cc.Interval <= 0 {
		return 10 * time.Minute
	}
	ttl := 3 * cc.Interval
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return ttl
}

// ShortestInterval returns the smallest enabled category interval.
func (p PollingConfig) ShortestInterval() time.Duration {
	var shortest time.Duration
	for _, name := range Categories {
		cc, _ := p.Category(name)
		if cc.Interval > 0 && (shortest == 0 || cc.Interval < shortest) {
			shortest = cc.Interval
		}
	}
	return shortest
}

type LibreNMSConfig struct {
	URL     string        `koanf:"url"`
	APIKey  string        `koanf:"api_key"`
	Timeout time.Duration `koanf:"timeout"`
}

type NetdiscoConfig struct {
	URL      string        `koanf:"url"`
	APIKey   string        `koanf:"api_key"`
	Username string        `koanf:"username"`
	Password string        `koanf:"password"`
	Timeout  time.Duration `koanf:"timeout"`
}

type ProxmoxConfig struct {
	Name        string        `koanf:"name"`
	URL         string        `koanf:"url"`
	TokenID     string        `koanf:"token_id"`
	TokenSecret string        `koanf:"token_secret"`
	VerifySSL   bool          `koanf:"verify_ssl"`
	Timeout     time.Duration `koanf:"timeout"`
}

type SNMPConfig struct {
	Enabled   bool          `koanf:"enabled"`
	Community string        `koanf:"community"`
	Version   string        `koanf:"version"`
	Port      uint16        `koanf:"port"`
	Timeout   time.Duration `koanf:"timeout"`
	Retries   int           `koanf:"retries"`
}

// PaloAltoConfig declares a firewall. Only the listing uses it; no API
// calls are made.
type PaloAltoConfig struct {
	Name   string `koanf:"name"`
	Host   string `koanf:"host"`
	Model  string `koanf:"model"`
	APIKey string `koanf:"api_key"`
}

type SpeedTestConfig struct {
	URL      string        `koanf:"url"`
	APIToken string        `koanf:"api_token"`
	Timeout  time.Duration `koanf:"timeout"`
}

type DataSourcesConfig struct {
	LibreNMS  LibreNMSConfig   `koanf:"librenms"`
	Netdisco  NetdiscoConfig   `koanf:"netdisco"`
	Proxmox   []ProxmoxConfig  `koanf:"proxmox"`
	SNMP      SNMPConfig       `koanf:"snmp"`
	SpeedTest SpeedTestConfig `koanf:"speedtest"`
	PaloAlto  []PaloAltoConfig `koanf:"palo_alto"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"server.listen":       ":8000",
		"server.read_timeout": "15s",
		"cache.backend":       "memory",
		"cache.key_prefix":    "watchtower:",
		"topology.path":       "topology.yaml",

		"polling.device_status.interval": "30s",
		"polling.device_status.timeout":  "20s",
		"polling.interfaces.interval":    "60s",
		"polling.interfaces.timeout":     "45s",
		"polling.topology.interval":      "300s",
		"polling.topology.timeout":       "60s",
		"polling.alerts.interval":        "30s",
		"polling.alerts.timeout":         "20s",
		"polling.speedtest.interval":     "1h",
		"polling.speedtest.timeout":      "30s",

		"data_sources.librenms.timeout":  "15s",
		"data_sources.netdisco.timeout":  "15s",
		"data_sources.snmp.community":    "public",
		"data_sources.snmp.version":      "2c",
		"data_sources.snmp.port":         161,
		"data_sources.snmp.timeout":      "3s",
		"data_sources.snmp.retries":      1,
		"data_sources.speedtest.timeout": "15s",
	}
}

// Load reads defaults, then the YAML file at path (if non-empty), then
// WATCHTOWER_ environment overrides.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("cache.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	for _, name := range Categories {
		cc, _ := c.Polling.Category(name)
		if cc.Interval < 0 || cc.Timeout < 0 {
			return fmt.Errorf("polling.%s: negative duration", name)
		}
	}
	for i, p := range c.DataSources.Proxmox {
		if p.URL == "" {
			return fmt.Errorf("data_sources.proxmox[%d]: url is required", i)
		}
		if p.Name == "" {
			c.DataSources.Proxmox[i].Name = fmt.Sprintf("proxmox-%d", i)
		}
	}
	for i, fw := range c.DataSources.PaloAlto {
		if fw.Host == "" {
			return fmt.Errorf("data_sources.palo_alto[%d]: host is required", i)
		}
		if fw.Name == "" {
			c.DataSources.PaloAlto[i].Name = fw.Host
		}
	}
	return nil
}
