package model

import (
	"strings"
	"time"
)

type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "critical"
	SeverityWarning  AlertSeverity = "warning"
	SeverityInfo     AlertSeverity = "info"
	SeverityRecovery AlertSeverity = "recovery"
)

type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// ParseAlertStatus returns the status named by raw and whether it is known.
func ParseAlertStatus(raw string) (AlertStatus, bool) {
	switch s := AlertStatus(raw); s {
	case AlertActive, AlertAcknowledged, AlertResolved:
		return s, true
	}
	return "", false
}

// Alert is one entry of the unified alert feed. The id is derived from the
// alert's source so that re-deriving yields the same id for the same
// condition.
type Alert struct {
	ID        string        `json:"id"`
	DeviceID  string        `json:"device_id"`
	Severity  AlertSeverity `json:"severity"`
	Message   string        `json:"message"`
	Details   string        `json:"details,omitempty"`
	Status    AlertStatus   `json:"status"`
	Source    string        `json:"source"`
	Timestamp time.Time     `json:"timestamp"`
}

// UpstreamAlert is an alert as cached from the upstream monitoring platform.
// Fields keep the upstream's loose typing; the alert deriver maps them.
type UpstreamAlert struct {
	ID        string `json:"id"`
	DeviceID  string `json:"device_id,omitempty"`
	Hostname  string `json:"hostname,omitempty"`
	Severity  string `json:"severity,omitempty"`
	Name      string `json:"name,omitempty"`
	Rule      string `json:"rule,omitempty"`
	Notes     string `json:"notes,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// MapUpstreamSeverity translates the upstream platform's severity words.
// Anything unrecognized is treated as a warning.
func MapUpstreamSeverity(raw string) AlertSeverity {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "critical":
		return SeverityCritical
	case "warning":
		return SeverityWarning
	case "ok":
		return SeverityRecovery
	case "info":
		return SeverityInfo
	default:
		return SeverityWarning
	}
}
