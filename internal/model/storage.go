package model

import "context"

// Cache keys. Each holds one whole JSON value and is only ever replaced in
// full.
const (
	KeyDevices      = "devices"
	KeyDeviceStatus = "device_status"
	KeyInterfaces   = "interfaces"
	KeyProxmox      = "proxmox"
	KeyProxmoxVMs   = "proxmox_vms"
	KeyAlerts       = "alerts"
	KeySpeedTest    = "speedtest"
	KeyLastPoll     = "last_poll"
	KeyTopology     = "topology"
	KeyPollStats    = "poll_stats"

	// KeyTopologyStatus holds the StatusDigest of the snapshot under
	// KeyTopology.
	KeyTopologyStatus = "topology_status"
)

// SkeletonProvider returns the operator-declared topology.
type SkeletonProvider interface {
	Skeleton(ctx context.Context) (Skeleton, error)
}

// TopologyReader returns the current aggregated snapshot.
type TopologyReader interface {
	Topology(ctx context.Context) (*Snapshot, error)
}

// DeviceSource reports device liveness.
type DeviceSource interface {
	Name() string
	FetchDevices(ctx context.Context) ([]DeviceReport, error)
}

// InterfaceSource reports per-port state.
type InterfaceSource interface {
	FetchInterfaces(ctx context.Context) (InterfaceReport, error)
}

// AlertSource reports the upstream alert feed.
type AlertSource interface {
	FetchAlerts(ctx context.Context) ([]UpstreamAlert, error)
}

// HypervisorSource reports hypervisor nodes and their guests.
type HypervisorSource interface {
	Name() string
	FetchNodes(ctx context.Context) ([]ProxmoxNode, error)
	// FetchVMs lists the guests of the given nodes, as returned by
	// FetchNodes in the same cycle.
	FetchVMs(ctx context.Context, nodes []ProxmoxNode) ([]ProxmoxVM, error)
}

// SpeedTester returns the latest speed test measurement.
type SpeedTester interface {
	LatestResult(ctx context.Context) (SpeedTestResult, error)
}
