package model

import (
	"net"
	"regexp"
	"strings"
	"time"
)

// DeviceStatus is the finite operational state of a device or port.
type DeviceStatus string

const (
	StatusUp       DeviceStatus = "up"
	StatusDown     DeviceStatus = "down"
	StatusDegraded DeviceStatus = "degraded"
	StatusUnknown  DeviceStatus = "unknown"
)

// ParseDeviceStatus maps the status vocabularies used by the upstream
// platforms onto DeviceStatus. Unrecognized input yields StatusUnknown.
func ParseDeviceStatus(raw string) DeviceStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "up", "1", "online", "running", "ok", "true":
		return StatusUp
	case "down", "0", "offline", "stopped", "false", "lowerlayerdown":
		return StatusDown
	case "degraded", "warning", "partial", "paused":
		return StatusDegraded
	default:
		return StatusUnknown
	}
}

// Valid reports whether s is one of the defined statuses.
func (s DeviceStatus) Valid() bool {
	switch s {
	case StatusUp, StatusDown, StatusDegraded, StatusUnknown:
		return true
	}
	return false
}

// DeviceType classifies a device for presentation and type-specific stats.
type DeviceType string

const (
	TypeSwitch      DeviceType = "switch"
	TypeRouter      DeviceType = "router"
	TypeFirewall    DeviceType = "firewall"
	TypeServer      DeviceType = "server"
	TypeAccessPoint DeviceType = "access_point"
	TypeNetwork     DeviceType = "network"
	TypeWireless    DeviceType = "wireless"
	TypeUnknown     DeviceType = "unknown"
)

// DeviceStats holds the generic health counters of a device.
type DeviceStats struct {
	CPU    float64 `json:"cpu"`
	Memory float64 `json:"memory"`
	Uptime int64   `json:"uptime"`
}

type SwitchStats struct {
	PortsUp   int `json:"ports_up"`
	PortsDown int `json:"ports_down"`
}

// FirewallStats are derived from the firewall's interfaces. Throughput is
// the sum over its up ports in bits per second. Session and threat counts
// need a firewall API and stay nil until a source reports them.
type FirewallStats struct {
	SessionsActive    *int64 `json:"sessions_active,omitempty"`
	ThroughputIn      int64  `json:"throughput_in"`
	ThroughputOut     int64  `json:"throughput_out"`
	ThreatsBlocked24h *int64 `json:"threats_blocked_24h,omitempty"`
}

type ProxmoxStats struct {
	VMsRunning        int `json:"vms_running"`
	VMsStopped        int `json:"vms_stopped"`
	ContainersRunning int `json:"containers_running"`
	ContainersStopped int `json:"containers_stopped"`
}

// Interface is the state of a single port on a device.
type Interface struct {
	PortID      int64        `json:"port_id,omitempty"`
	Name        string       `json:"name"`
	Alias       string       `json:"alias,omitempty"`
	Description string       `json:"description,omitempty"`
	Status      DeviceStatus `json:"status"`
	AdminStatus string       `json:"admin_status,omitempty"`
	// Speed in Mbps.
	Speed       int64   `json:"speed"`
	InBps       int64   `json:"in_bps"`
	OutBps      int64   `json:"out_bps"`
	Utilization float64 `json:"utilization"`
}

// Device is one member of a topology snapshot.
type Device struct {
	ID            string         `json:"id"`
	DisplayName   string         `json:"display_name"`
	Type          DeviceType     `json:"device_type"`
	IP            string         `json:"ip,omitempty"`
	Model         string         `json:"model,omitempty"`
	Location      string         `json:"location,omitempty"`
	Status        DeviceStatus   `json:"status"`
	ClusterID     string         `json:"cluster_id,omitempty"`
	Stats         DeviceStats    `json:"stats"`
	SwitchStats   *SwitchStats   `json:"switch_stats,omitempty"`
	FirewallStats *FirewallStats `json:"firewall_stats,omitempty"`
	ProxmoxStats  *ProxmoxStats  `json:"proxmox_stats,omitempty"`
	Interfaces    []Interface    `json:"interfaces"`
	LastSeen      *time.Time     `json:"last_seen,omitempty"`
	Sources       []string       `json:"sources,omitempty"`
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeID turns a hostname, sysName or display name into the device id
// scheme shared by every source: domain stripped, lowercased, runs of
// non-alphanumeric characters collapsed to a single '-', no leading or
// trailing '-'. IP literals keep all their octets.
func NormalizeID(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ""
	}
	if net.ParseIP(name) == nil {
		if i := strings.IndexByte(name, '.'); i > 0 {
			name = name[:i]
		}
	}
	name = nonAlnum.ReplaceAllString(name, "-")
	return strings.Trim(name, "-")
}

// CleanDeviceID derives a device id from a sysName, falling back to the
// hostname and finally to a "device-" prefixed fragment of the hostname.
func CleanDeviceID(sysName, hostname string) string {
	name := sysName
	if strings.TrimSpace(name) == "" {
		name = hostname
	}
	if id := NormalizeID(name); id != "" {
		return id
	}
	frag := hostname
	if len(frag) > 8 {
		frag = frag[:8]
	}
	return "device-" + frag
}
