package model

import "time"

// Source names used in reports, alert ids and poll records.
const (
	SourceLibreNMS = "librenms"
	SourceNetdisco = "netdisco"
	SourceProxmox  = "proxmox"
	SourceSNMP     = "snmp"
)

// DeviceReport is one live observation of a device by one source.
// ID is already normalized with NormalizeID. Optional counters are pointers
// so that "not reported" differs from zero.
type DeviceReport struct {
	Source     string       `json:"source"`
	ID         string       `json:"id"`
	Hostname   string       `json:"hostname"`
	IP         string       `json:"ip,omitempty"`
	Type       DeviceType   `json:"device_type,omitempty"`
	Status     DeviceStatus `json:"status"`
	CPU        *float64     `json:"cpu,omitempty"`
	Memory     *float64     `json:"memory,omitempty"`
	Uptime     *int64       `json:"uptime,omitempty"`
	Location   string       `json:"location,omitempty"`
	ObservedAt time.Time    `json:"observed_at"`
}

// InterfaceReport maps normalized device ids to their port states.
type InterfaceReport struct {
	Devices    map[string][]Interface `json:"devices"`
	ObservedAt time.Time              `json:"observed_at"`
}

// ProxmoxNode is a hypervisor node as reported by one Proxmox instance.
type ProxmoxNode struct {
	Node     string `json:"node"`
	Instance string `json:"instance"`
	Status   string `json:"status"`
	// CPU and Memory are percentages rounded to two decimals.
	CPU        float64   `json:"cpu"`
	Memory     float64   `json:"memory"`
	MaxCPU     int       `json:"maxcpu"`
	MaxMem     int64     `json:"maxmem"`
	Uptime     int64     `json:"uptime"`
	ObservedAt time.Time `json:"observed_at"`
}

// ProxmoxVM is a QEMU VM or LXC container.
type ProxmoxVM struct {
	VMID     int    `json:"vmid"`
	Name     string `json:"name"`
	Node     string `json:"node"`
	Instance string `json:"instance"`
	Type     string `json:"type"`
	Status   string `json:"status"`
	// CPU and Memory are percentages rounded to two decimals.
	CPU    float64 `json:"cpu"`
	Memory float64 `json:"memory"`
	CPUs   int     `json:"cpus,omitempty"`
	MaxMem int64   `json:"maxmem,omitempty"`
	Uptime int64   `json:"uptime,omitempty"`
	NetIn  int64   `json:"netin,omitempty"`
	NetOut int64   `json:"netout,omitempty"`
}

// ProxmoxInventory holds every node keyed by "instance:node" plus an index
// from normalized node name to those keys. The index is built once when the
// inventory is created, so lookups never fall back to fuzzy matching.
type ProxmoxInventory struct {
	Nodes map[string]ProxmoxNode `json:"nodes"`
	Index map[string][]string    `json:"index"`
}

// NewProxmoxInventory keys nodes and builds the normalized-name index.
func NewProxmoxInventory(nodes []ProxmoxNode) ProxmoxInventory {
	inv := ProxmoxInventory{
		Nodes: make(map[string]ProxmoxNode, len(nodes)),
		Index: make(map[string][]string, len(nodes)),
	}
	for _, n := range nodes {
		key := n.Instance + ":" + n.Node
		inv.Nodes[key] = n
		norm := NormalizeID(n.Node)
		inv.Index[norm] = append(inv.Index[norm], key)
	}
	return inv
}

// Lookup returns the nodes whose normalized name equals NormalizeID(name).
func (inv ProxmoxInventory) Lookup(name string) []ProxmoxNode {
	keys := inv.Index[NormalizeID(name)]
	out := make([]ProxmoxNode, 0, len(keys))
	for _, k := range keys {
		if n, ok := inv.Nodes[k]; ok {
			out = append(out, n)
		}
	}
	return out
}

// SpeedTestResult is the latest internet speed measurement.
type SpeedTestResult struct {
	Timestamp      time.Time `json:"timestamp"`
	DownloadMbps   float64   `json:"download_mbps"`
	UploadMbps     float64   `json:"upload_mbps"`
	PingMs         float64   `json:"ping_ms"`
	JitterMs       float64   `json:"jitter_ms"`
	PacketLoss     float64   `json:"packet_loss"`
	ServerName     string    `json:"server_name,omitempty"`
	ServerLocation string    `json:"server_location,omitempty"`
	ServerID       int64     `json:"server_id,omitempty"`
	ISP            string    `json:"isp,omitempty"`
	ResultURL      string    `json:"result_url,omitempty"`
	Indicator      string    `json:"indicator,omitempty"`
}

// PollRecord describes the most recent run of one poll category.
type PollRecord struct {
	Category     string    `json:"category"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	DurationMs   int64     `json:"duration_ms"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
	SkippedTotal int64     `json:"skipped_total"`
}

// PollStats summarizes the runs of one category over one stats window.
// Durations are estimated from a histogram, in milliseconds.
type PollStats struct {
	Category    string    `json:"category"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Runs        uint64    `json:"runs"`
	Failures    uint64    `json:"failures"`
	Skipped     uint64    `json:"skipped"`
	MeanMs      float64   `json:"mean_ms"`
	P50Ms       float64   `json:"p50_ms"`
	P95Ms       float64   `json:"p95_ms"`
	P99Ms       float64   `json:"p99_ms"`
}
