package model

import "time"

// Position places a cluster on the dashboard canvas.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Cluster groups devices for presentation. Immutable once loaded.
type Cluster struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	ClusterType string   `json:"cluster_type"`
	Icon        string   `json:"icon"`
	Position    Position `json:"position"`
	DeviceIDs   []string `json:"device_ids"`
}

// ConnectionEndpoint is one side of a link: a device and an optional port.
type ConnectionEndpoint struct {
	Device string `json:"device"`
	Port   string `json:"port,omitempty"`
}

// Connection is an internal edge between two devices of the same snapshot.
type Connection struct {
	ID             string             `json:"id"`
	Source         ConnectionEndpoint `json:"source"`
	Target         ConnectionEndpoint `json:"target"`
	ConnectionType string             `json:"connection_type"`
	// Speed in Mbps.
	Speed       int64        `json:"speed"`
	Status      DeviceStatus `json:"status"`
	Utilization float64      `json:"utilization"`
	InBps       int64        `json:"in_bps"`
	OutBps      int64        `json:"out_bps"`
}

// ExternalTarget is the far end of an external link (ISP, remote site).
type ExternalTarget struct {
	Label string `json:"label"`
	Type  string `json:"type"`
	Icon  string `json:"icon,omitempty"`
}

// ExternalLink connects a device port to a network outside the topology.
type ExternalLink struct {
	ID          string             `json:"id"`
	Source      ConnectionEndpoint `json:"source"`
	Target      ExternalTarget     `json:"target"`
	Provider    string             `json:"provider,omitempty"`
	Speed       int64              `json:"speed"`
	Status      DeviceStatus       `json:"status"`
	Utilization float64            `json:"utilization"`
	InBps       int64              `json:"in_bps"`
	OutBps      int64              `json:"out_bps"`
}

// SkeletonDevice is an operator-declared device before live overlay.
type SkeletonDevice struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	Type        DeviceType `json:"device_type"`
	IP          string     `json:"ip,omitempty"`
	Model       string     `json:"model,omitempty"`
	Location    string     `json:"location,omitempty"`
	ClusterID   string     `json:"cluster_id,omitempty"`
	// Aliases are extra names the device is known by upstream, e.g. the
	// LibreNMS hostname or the Proxmox node name.
	Aliases []string `json:"aliases,omitempty"`
}

// Skeleton is the static topology that live polls annotate.
type Skeleton struct {
	Clusters      []Cluster        `json:"clusters"`
	Devices       []SkeletonDevice `json:"devices"`
	Connections   []Connection     `json:"connections"`
	ExternalLinks []ExternalLink   `json:"external_links"`
}

// Snapshot is one complete, internally consistent view of the network.
// The summary counters are derived from Devices at assembly time.
type Snapshot struct {
	Clusters        []Cluster         `json:"clusters"`
	Devices         map[string]Device `json:"devices"`
	Connections     []Connection      `json:"connections"`
	ExternalLinks   []ExternalLink    `json:"external_links"`
	TotalDevices    int               `json:"total_devices"`
	DevicesUp       int               `json:"devices_up"`
	DevicesDown     int               `json:"devices_down"`
	DevicesDegraded int               `json:"devices_degraded"`
	DevicesUnknown  int               `json:"devices_unknown"`
	ActiveAlerts    int               `json:"active_alerts"`
	GeneratedAt     time.Time         `json:"generated_at"`
}

// StatusDigest is the id to status view of a snapshot. It is stored next to
// the snapshot so a publish compares against it without decoding the full
// previous snapshot. Fingerprint 0 means the digest could not be hashed.
type StatusDigest struct {
	Fingerprint uint64                 `json:"fingerprint"`
	Devices     map[string]DeviceState `json:"devices"`
}

// DeviceState is one device's entry in a StatusDigest.
type DeviceState struct {
	Status DeviceStatus `json:"status"`
	Name   string       `json:"name"`
}
