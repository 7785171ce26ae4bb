package model

// AlertQuery filters the unified alert feed. A nil Status lists everything.
type AlertQuery struct {
	Status *AlertStatus `json:"status,omitempty"`
}

// VMSummary aggregates the cached VM list.
type VMSummary struct {
	TotalRunning  int     `json:"total_running"`
	TotalQemu     int     `json:"total_qemu"`
	TotalLXC      int     `json:"total_lxc"`
	TotalCPUs     int     `json:"total_cpus"`
	TotalMemoryGB float64 `json:"total_memory_gb"`
	TotalMemory   string  `json:"total_memory"`
}

// SchedulerStatus is the poll scheduler's control-surface view.
type SchedulerStatus struct {
	Running   bool                  `json:"running"`
	Intervals map[string]int64      `json:"intervals"`
	LastPoll  map[string]PollRecord `json:"last_poll"`
	// Stats covers the current stats window.
	Stats []PollStats `json:"stats,omitempty"`
}

// Discrepancy records two live sources disagreeing about one field of the
// same device.
type Discrepancy struct {
	DeviceID string            `json:"device_id"`
	Field    string            `json:"field"`
	Values   map[string]string `json:"values"`
	Chosen   string            `json:"chosen"`
}

// Diagnostics collects the non-fatal irregularities of one aggregation.
type Diagnostics struct {
	Discrepancies      []Discrepancy `json:"discrepancies"`
	AmbiguousKeys      []string      `json:"ambiguous_keys,omitempty"`
	UnmatchedReports   []string      `json:"unmatched_reports,omitempty"`
	DroppedConnections []string      `json:"dropped_connections,omitempty"`
}

// PortMatch is one port found by a port search, with its owning device.
type PortMatch struct {
	DeviceID string `json:"device_id"`
	Hostname string `json:"device_hostname"`
	Interface
	InMbps  float64 `json:"in_mbps"`
	OutMbps float64 `json:"out_mbps"`
}

// PortSearchResult answers a port search. Total counts every match; Ports
// holds at most the requested limit.
type PortSearchResult struct {
	Query string      `json:"query"`
	Total int         `json:"total"`
	Ports []PortMatch `json:"ports"`
}

// AliasCount is how many port aliases contain a keyword.
type AliasCount struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// Firewall is a configured firewall as listed by the API. Credentials are
// never included.
type Firewall struct {
	Name  string `json:"name"`
	Host  string `json:"host"`
	Model string `json:"model,omitempty"`
}
