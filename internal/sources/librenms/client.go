// Package librenms adapts the LibreNMS v0 REST API.
package librenms

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/watchtower-noc/watchtower/internal/config"
	"github.com/watchtower-noc/watchtower/internal/model"
	"github.com/watchtower-noc/watchtower/internal/sources"
)

// osTypes maps the LibreNMS "os" field to a device type.
var osTypes = map[string]model.DeviceType{
	"panos":         model.TypeFirewall,
	"fortigate":     model.TypeFirewall,
	"asa":           model.TypeFirewall,
	"checkpoint":    model.TypeFirewall,
	"pfsense":       model.TypeFirewall,
	"opnsense":      model.TypeFirewall,
	"iosxe":         model.TypeNetwork,
	"ios":           model.TypeNetwork,
	"nxos":          model.TypeNetwork,
	"junos":         model.TypeNetwork,
	"aruba-os":      model.TypeNetwork,
	"arubaos-cx":    model.TypeNetwork,
	"routeros":      model.TypeNetwork,
	"edgeos":        model.TypeNetwork,
	"vyos":          model.TypeNetwork,
	"proxmox":       model.TypeServer,
	"vmware":        model.TypeServer,
	"hyperv":        model.TypeServer,
	"esxi":          model.TypeServer,
	"truenas":       model.TypeServer,
	"freenas":       model.TypeServer,
	"aruba-instant": model.TypeWireless,
	"unifi":         model.TypeWireless,
	"ruckus":        model.TypeWireless,
	"meraki":        model.TypeWireless,
}

// Device is a device record as returned by /api/v0/devices. Numeric fields
// arrive as numbers or strings depending on the LibreNMS version.
type Device struct {
	DeviceID interface{} `json:"device_id"`
	Hostname string      `json:"hostname"`
	SysName  string      `json:"sysName"`
	IP       string      `json:"ip"`
	OS       string      `json:"os"`
	Hardware string      `json:"hardware"`
	Location string      `json:"location"`
	Status   interface{} `json:"status"`
	Uptime   interface{} `json:"uptime"`
}

// Port is a port record as returned by /api/v0/ports.
type Port struct {
	PortID          interface{} `json:"port_id"`
	DeviceID        interface{} `json:"device_id"`
	IfName          string      `json:"ifName"`
	IfAlias         string      `json:"ifAlias"`
	IfDescr         string      `json:"ifDescr"`
	IfSpeed         interface{} `json:"ifSpeed"`
	IfOperStatus    string      `json:"ifOperStatus"`
	IfAdminStatus   string      `json:"ifAdminStatus"`
	IfInOctetsRate  interface{} `json:"ifInOctets_rate"`
	IfOutOctetsRate interface{} `json:"ifOutOctets_rate"`
}

type alert struct {
	ID        interface{} `json:"id"`
	DeviceID  interface{} `json:"device_id"`
	Hostname  string      `json:"hostname"`
	Severity  string      `json:"severity"`
	Name      string      `json:"name"`
	Rule      string      `json:"rule"`
	Notes     string      `json:"notes"`
	Timestamp string      `json:"timestamp"`
}

// Client talks to one LibreNMS instance.
type Client struct {
	rc     *resty.Client
	cfg    config.LibreNMSConfig
	logger *zap.Logger
	now    func() time.Time
}

func New(cfg config.LibreNMSConfig, logger *zap.Logger) *Client {
	rc := sources.NewHTTPClient(sources.HTTPConfig{
		BaseURL:   cfg.URL,
		Timeout:   cfg.Timeout,
		VerifySSL: true,
		Retries:   1,
	}).SetHeader("X-Auth-Token", cfg.APIKey)

	return &Client{
		rc:     rc,
		cfg:    cfg,
		logger: logger.Named("librenms"),
		now:    time.Now,
	}
}

func (c *Client) Name() string { return model.SourceLibreNMS }

func (c *Client) configured() error {
	if c.cfg.URL == "" || c.cfg.APIKey == "" {
		return sources.ErrNotConfigured
	}
	return nil
}

// Devices returns the raw device list.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}
	var body struct {
		Devices []Device `json:"devices"`
	}
	resp, err := c.rc.R().SetContext(ctx).Get("/api/v0/devices")
	if err := sources.Decode("librenms devices", resp, err, &body); err != nil {
		return nil, err
	}
	return body.Devices, nil
}

// FetchDevices implements model.DeviceSource. LibreNMS status 1 is up,
// anything else down.
func (c *Client) FetchDevices(ctx context.Context) ([]model.DeviceReport, error) {
	devices, err := c.Devices(ctx)
	if err != nil {
		return nil, err
	}
	return ToReports(devices, c.now().UTC()), nil
}

// ToReports converts raw devices into reports observed at now.
func ToReports(devices []Device, now time.Time) []model.DeviceReport {
	out := make([]model.DeviceReport, 0, len(devices))
	for _, d := range devices {
		status := model.StatusDown
		if cast.ToInt(d.Status) == 1 {
			status = model.StatusUp
		}
		r := model.DeviceReport{
			Source:     model.SourceLibreNMS,
			ID:         model.CleanDeviceID(d.SysName, d.Hostname),
			Hostname:   d.Hostname,
			IP:         d.IP,
			Type:       deviceType(d),
			Status:     status,
			Location:   d.Location,
			ObservedAt: now,
		}
		if d.Uptime != nil {
			up := cast.ToInt64(d.Uptime)
			r.Uptime = &up
		}
		out = append(out, r)
	}
	return out
}

func deviceType(d Device) model.DeviceType {
	if t, ok := osTypes[strings.ToLower(d.OS)]; ok {
		return t
	}
	hw := strings.ToLower(d.Hardware)
	switch {
	case strings.Contains(hw, "palo") || strings.Contains(hw, "pa-"):
		return model.TypeFirewall
	case strings.Contains(hw, "catalyst") || strings.Contains(hw, "switch"):
		return model.TypeNetwork
	case strings.Contains(hw, "poweredge") || strings.Contains(hw, "proliant"):
		return model.TypeServer
	}
	return ""
}

// FetchInterfaces implements model.InterfaceSource. Ports are keyed by the
// normalized id of their owning device.
func (c *Client) FetchInterfaces(ctx context.Context) (model.InterfaceReport, error) {
	devices, err := c.Devices(ctx)
	if err != nil {
		return model.InterfaceReport{}, err
	}

	var body struct {
		Ports []Port `json:"ports"`
	}
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParam("columns", "port_id,device_id,ifName,ifAlias,ifDescr,ifSpeed,ifOperStatus,ifAdminStatus,ifInOctets_rate,ifOutOctets_rate").
		Get("/api/v0/ports")
	if err := sources.Decode("librenms ports", resp, err, &body); err != nil {
		return model.InterfaceReport{}, err
	}

	return ToInterfaceReport(devices, body.Ports, c.now().UTC()), nil
}

// ToInterfaceReport groups ports by device. Rates are converted from
// octets/s to bits/s and utilization is the busier direction's share of
// the port speed.
func ToInterfaceReport(devices []Device, ports []Port, now time.Time) model.InterfaceReport {
	owner := make(map[string]string, len(devices))
	for _, d := range devices {
		owner[cast.ToString(d.DeviceID)] = model.CleanDeviceID(d.SysName, d.Hostname)
	}

	rep := model.InterfaceReport{
		Devices:    make(map[string][]model.Interface),
		ObservedAt: now,
	}
	for _, p := range ports {
		id, ok := owner[cast.ToString(p.DeviceID)]
		if !ok {
			continue
		}
		name := p.IfName
		if name == "" {
			name = p.IfDescr
		}
		speedBps := cast.ToFloat64(p.IfSpeed)
		in := int64(cast.ToFloat64(p.IfInOctetsRate) * 8)
		out := int64(cast.ToFloat64(p.IfOutOctetsRate) * 8)
		busiest := in
		if out > busiest {
			busiest = out
		}
		rep.Devices[id] = append(rep.Devices[id], model.Interface{
			PortID:      cast.ToInt64(p.PortID),
			Name:        name,
			Alias:       p.IfAlias,
			Description: p.IfDescr,
			Status:      model.ParseDeviceStatus(p.IfOperStatus),
			AdminStatus: p.IfAdminStatus,
			Speed:       int64(speedBps / 1_000_000),
			InBps:       in,
			OutBps:      out,
			Utilization: model.Percent(float64(busiest), speedBps),
		})
	}
	return rep
}

// FetchAlerts implements model.AlertSource with the currently open alerts.
func (c *Client) FetchAlerts(ctx context.Context) ([]model.UpstreamAlert, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}
	var body struct {
		Alerts []alert `json:"alerts"`
	}
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParam("state", "1").
		Get("/api/v0/alerts")
	if err := sources.Decode("librenms alerts", resp, err, &body); err != nil {
		return nil, err
	}

	out := make([]model.UpstreamAlert, 0, len(body.Alerts))
	for _, a := range body.Alerts {
		out = append(out, model.UpstreamAlert{
			ID:        cast.ToString(a.ID),
			DeviceID:  cast.ToString(a.DeviceID),
			Hostname:  a.Hostname,
			Severity:  a.Severity,
			Name:      a.Name,
			Rule:      a.Rule,
			Notes:     a.Notes,
			Timestamp: a.Timestamp,
		})
	}
	return out, nil
}

// Check verifies connectivity and returns the device count.
func (c *Client) Check(ctx context.Context) (int, error) {
	devices, err := c.Devices(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "librenms check")
	}
	return len(devices), nil
}
