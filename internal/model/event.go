package model

import "time"

// Message types pushed to websocket subscribers.
const (
	MessageDeviceStatusChange = "device_status_change"
	MessageSpeedTestResult    = "speedtest_result"
)

// StatusChange is one device transition between two consecutive snapshots.
type StatusChange struct {
	DeviceID  string       `json:"device_id"`
	Hostname  string       `json:"hostname"`
	OldStatus DeviceStatus `json:"old_status"`
	NewStatus DeviceStatus `json:"new_status"`
}

// StatusChangeMessage groups every change of one comparison.
type StatusChangeMessage struct {
	Type    string         `json:"type"`
	Changes []StatusChange `json:"changes"`
}

// SpeedTestMessage announces a fresh speed test result.
type SpeedTestMessage struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Result    SpeedTestResult `json:"result"`
}
