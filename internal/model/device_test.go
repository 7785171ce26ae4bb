package model

import "testing"

func TestParseDeviceStatus(t *testing.T) {
	tests := []struct {
		raw  string
		want DeviceStatus
	}{
		{"up", StatusUp},
		{"1", StatusUp},
		{"Online", StatusUp},
		{"running", StatusUp},
		{"down", StatusDown},
		{"0", StatusDown},
		{"stopped", StatusDown},
		{"lowerLayerDown", StatusDown},
		{"warning", StatusDegraded},
		{"partial", StatusDegraded},
		{"", StatusUnknown},
		{"rebooting", StatusUnknown},
	}
	for _, tt := range tests {
		if got := ParseDeviceStatus(tt.raw); got != tt.want {
			t.Errorf("ParseDeviceStatus(%q) = %q, want %q", tt.raw, got, tt.want)
		}
		if !ParseDeviceStatus(tt.raw).Valid() {
			t.Errorf("ParseDeviceStatus(%q) produced invalid status", tt.raw)
		}
	}
}

func TestNormalizeID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Core-SW-1.example.net", "core-sw-1"},
		{"  FW_1  ", "fw-1"},
		{"pve node 02", "pve-node-02"},
		{"10.0.0.1", "10-0-0-1"},
		{"--edge--", "edge"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeID(tt.in); got != tt.want {
			t.Errorf("NormalizeID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCleanDeviceID(t *testing.T) {
	if got := CleanDeviceID("Core-SW-1", "10.0.0.2"); got != "core-sw-1" {
		t.Errorf("sysName not preferred: %q", got)
	}
	if got := CleanDeviceID("", "edge-router.lan"); got != "edge-router" {
		t.Errorf("hostname fallback: %q", got)
	}
	if got := CleanDeviceID("***", "!!!!!!!!!!"); got != "device-!!!!!!!!" {
		t.Errorf("fragment fallback: %q", got)
	}
}

func TestProxmoxInventoryLookup(t *testing.T) {
	inv := NewProxmoxInventory([]ProxmoxNode{
		{Node: "PVE-01", Instance: "dc1"},
		{Node: "pve-01", Instance: "dc2"},
		{Node: "pve-02", Instance: "dc1"},
	})
	if len(inv.Nodes) != 3 {
		t.Fatalf("nodes = %d", len(inv.Nodes))
	}
	if got := inv.Lookup("pve_01"); len(got) != 2 {
		t.Errorf("Lookup(pve_01) = %d nodes, want 2", len(got))
	}
	if got := inv.Lookup("pve-03"); len(got) != 0 {
		t.Errorf("Lookup(pve-03) = %v", got)
	}
}
