package aggregator

import (
	"sort"
	"strings"
	"time"

	"github.com/watchtower-noc/watchtower/internal/model"
)

// Inputs are the latest cached values of every live category. A nil or
// empty field means the category has no data yet.
type Inputs struct {
	Reports    []model.DeviceReport
	Interfaces *model.InterfaceReport
	Proxmox    *model.ProxmoxInventory
	VMs        []model.ProxmoxVM
	Alerts     []model.UpstreamAlert
}

// observation is the merged live view of one device. A device without one
// is reported as unknown.
type observation struct {
	winner  model.DeviceReport
	reports []model.DeviceReport
}

// Build merges the skeleton with the live inputs into one snapshot. It does
// no I/O and its output depends only on its arguments.
func Build(sk model.Skeleton, in Inputs, now time.Time) (model.Snapshot, model.Diagnostics) {
	var diag model.Diagnostics

	idx := NewKeyIndex(sk.Devices)
	diag.AmbiguousKeys = idx.Ambiguous()

	reports := append([]model.DeviceReport(nil), in.Reports...)
	if in.Proxmox != nil {
		reports = append(reports, proxmoxReports(*in.Proxmox)...)
	}

	matched := make(map[string][]model.DeviceReport)
	for _, r := range reports {
		id, ok := idx.Resolve(r.ID)
		if !ok && r.Hostname != "" {
			id, ok = idx.Resolve(r.Hostname)
		}
		if !ok {
			diag.UnmatchedReports = append(diag.UnmatchedReports, r.Source+":"+r.ID)
			continue
		}
		matched[id] = append(matched[id], r)
	}

	snap := model.Snapshot{
		Clusters:    append([]model.Cluster(nil), sk.Clusters...),
		Devices:     make(map[string]model.Device, len(sk.Devices)),
		GeneratedAt: now.UTC(),
	}

	for _, sd := range sk.Devices {
		var obs *observation
		if rs := matched[sd.ID]; len(rs) > 0 {
			obs = observe(rs)
		}
		dev, discrepancies := overlay(sd, obs)
		diag.Discrepancies = append(diag.Discrepancies, discrepancies...)
		snap.Devices[sd.ID] = dev
	}

	if in.Interfaces != nil {
		applyInterfaces(snap.Devices, idx, *in.Interfaces)
	}
	applyVMCounts(snap.Devices, idx, in.VMs)

	for _, c := range sk.Connections {
		_, srcOK := snap.Devices[c.Source.Device]
		_, dstOK := snap.Devices[c.Target.Device]
		if !srcOK || !dstOK {
			diag.DroppedConnections = append(diag.DroppedConnections, c.ID)
			continue
		}
		iface := findInterface(snap.Devices[c.Source.Device], c.Source.Port)
		c.Status = model.StatusUnknown
		if iface != nil {
			c.Status = iface.Status
			c.InBps = iface.InBps
			c.OutBps = iface.OutBps
			c.Utilization = iface.Utilization
		}
		snap.Connections = append(snap.Connections, c)
	}

	for _, l := range sk.ExternalLinks {
		l.Status = model.StatusUnknown
		if dev, ok := snap.Devices[l.Source.Device]; ok {
			if iface := findInterface(dev, l.Source.Port); iface != nil {
				l.Status = iface.Status
				l.InBps = iface.InBps
				l.OutBps = iface.OutBps
				l.Utilization = iface.Utilization
			}
		}
		snap.ExternalLinks = append(snap.ExternalLinks, l)
	}

	countStatuses(&snap)
	for _, a := range in.Alerts {
		if model.MapUpstreamSeverity(a.Severity) != model.SeverityRecovery {
			snap.ActiveAlerts++
		}
	}
	snap.ActiveAlerts += snap.DevicesDown

	if diag.Discrepancies == nil {
		diag.Discrepancies = []model.Discrepancy{}
	}
	return snap, diag
}

// observe picks the winning report: the most recently observed one among
// reports that carry a definite status, else the most recent overall.
func observe(rs []model.DeviceReport) *observation {
	sorted := append([]model.DeviceReport(nil), rs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ObservedAt.After(sorted[j].ObservedAt)
	})
	winner := sorted[0]
	for _, r := range sorted {
		if r.Status.Valid() && r.Status != model.StatusUnknown {
			winner = r
			break
		}
	}
	return &observation{winner: winner, reports: sorted}
}

func overlay(sd model.SkeletonDevice, obs *observation) (model.Device, []model.Discrepancy) {
	dev := model.Device{
		ID:          sd.ID,
		DisplayName: sd.DisplayName,
		Type:        sd.Type,
		IP:          sd.IP,
		Model:       sd.Model,
		Location:    sd.Location,
		ClusterID:   sd.ClusterID,
		Status:      model.StatusUnknown,
		Interfaces:  []model.Interface{},
	}
	if dev.Type == "" {
		dev.Type = model.TypeUnknown
	}
	if obs == nil {
		return dev, nil
	}

	w := obs.winner
	dev.Status = w.Status
	if !dev.Status.Valid() {
		dev.Status = model.StatusUnknown
	}
	if dev.Type == model.TypeUnknown && w.Type != "" {
		dev.Type = w.Type
	}
	if dev.IP == "" {
		dev.IP = w.IP
	}
	if dev.Location == "" {
		dev.Location = w.Location
	}

	seen := make(map[string]struct{})
	var lastSeen time.Time
	for _, r := range obs.reports {
		if _, ok := seen[r.Source]; !ok {
			seen[r.Source] = struct{}{}
			dev.Sources = append(dev.Sources, r.Source)
		}
		if r.ObservedAt.After(lastSeen) {
			lastSeen = r.ObservedAt
		}
	}
	sort.Strings(dev.Sources)
	if !lastSeen.IsZero() {
		dev.LastSeen = &lastSeen
	}

	dev.Stats = stats(w, obs.reports)

	var out []model.Discrepancy
	if d, ok := disagreement(sd.ID, "type", string(dev.Type), obs.reports, func(r model.DeviceReport) string {
		return string(r.Type)
	}); ok {
		out = append(out, d)
	}
	if d, ok := disagreement(sd.ID, "ip", dev.IP, obs.reports, func(r model.DeviceReport) string {
		return r.IP
	}); ok {
		out = append(out, d)
	}
	return dev, out
}

// stats takes each counter from the winner, falling back to the most recent
// report that has it.
func stats(w model.DeviceReport, rs []model.DeviceReport) model.DeviceStats {
	var st model.DeviceStats
	cpu, mem, up := w.CPU, w.Memory, w.Uptime
	for _, r := range rs {
		if cpu == nil {
			cpu = r.CPU
		}
		if mem == nil {
			mem = r.Memory
		}
		if up == nil {
			up = r.Uptime
		}
	}
	if cpu != nil {
		st.CPU = model.Round2(*cpu)
	}
	if mem != nil {
		st.Memory = model.Round2(*mem)
	}
	if up != nil {
		st.Uptime = *up
	}
	return st
}

func disagreement(id, field, chosen string, rs []model.DeviceReport, get func(model.DeviceReport) string) (model.Discrepancy, bool) {
	values := make(map[string]string)
	distinct := make(map[string]struct{})
	for _, r := range rs {
		v := get(r)
		if v == "" {
			continue
		}
		if _, ok := values[r.Source]; !ok {
			values[r.Source] = v
		}
		distinct[v] = struct{}{}
	}
	if len(distinct) < 2 {
		return model.Discrepancy{}, false
	}
	return model.Discrepancy{
		DeviceID: id,
		Field:    field,
		Values:   values,
		Chosen:   chosen,
	}, true
}

// proxmoxReports turns hypervisor nodes into device observations.
func proxmoxReports(inv model.ProxmoxInventory) []model.DeviceReport {
	keys := make([]string, 0, len(inv.Nodes))
	for k := range inv.Nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]model.DeviceReport, 0, len(keys))
	for _, k := range keys {
		n := inv.Nodes[k]
		cpu, mem, uptime := n.CPU, n.Memory, n.Uptime
		out = append(out, model.DeviceReport{
			Source:     model.SourceProxmox,
			ID:         model.NormalizeID(n.Node),
			Hostname:   n.Node,
			Type:       model.TypeServer,
			Status:     model.ParseDeviceStatus(n.Status),
			CPU:        &cpu,
			Memory:     &mem,
			Uptime:     &uptime,
			ObservedAt: n.ObservedAt,
		})
	}
	return out
}

func applyInterfaces(devices map[string]model.Device, idx *KeyIndex, rep model.InterfaceReport) {
	for name, ifaces := range rep.Devices {
		id, ok := idx.Resolve(name)
		if !ok {
			continue
		}
		dev := devices[id]
		dev.Interfaces = append([]model.Interface(nil), ifaces...)
		sort.Slice(dev.Interfaces, func(i, j int) bool {
			return dev.Interfaces[i].Name < dev.Interfaces[j].Name
		})
		if isSwitching(dev.Type) {
			st := &model.SwitchStats{}
			for _, it := range dev.Interfaces {
				switch it.Status {
				case model.StatusUp:
					st.PortsUp++
				case model.StatusDown:
					st.PortsDown++
				}
			}
			dev.SwitchStats = st
		}
		if dev.Type == model.TypeFirewall {
			fw := &model.FirewallStats{}
			for _, it := range dev.Interfaces {
				if it.Status == model.StatusUp {
					fw.ThroughputIn += it.InBps
					fw.ThroughputOut += it.OutBps
				}
			}
			dev.FirewallStats = fw
		}
		devices[id] = dev
	}
}

func applyVMCounts(devices map[string]model.Device, idx *KeyIndex, vms []model.ProxmoxVM) {
	for _, vm := range vms {
		id, ok := idx.Resolve(vm.Node)
		if !ok {
			continue
		}
		dev := devices[id]
		if dev.ProxmoxStats == nil {
			dev.ProxmoxStats = &model.ProxmoxStats{}
		}
		running := model.ParseDeviceStatus(vm.Status) == model.StatusUp
		switch {
		case vm.Type == "lxc" && running:
			dev.ProxmoxStats.ContainersRunning++
		case vm.Type == "lxc":
			dev.ProxmoxStats.ContainersStopped++
		case running:
			dev.ProxmoxStats.VMsRunning++
		default:
			dev.ProxmoxStats.VMsStopped++
		}
		devices[id] = dev
	}
}

func isSwitching(t model.DeviceType) bool {
	return t == model.TypeSwitch || t == model.TypeNetwork
}

// findInterface matches a declared port against interface names and
// aliases, ignoring case.
func findInterface(dev model.Device, port string) *model.Interface {
	if port == "" {
		return nil
	}
	for i := range dev.Interfaces {
		it := &dev.Interfaces[i]
		if strings.EqualFold(it.Name, port) || (it.Alias != "" && strings.EqualFold(it.Alias, port)) {
			return it
		}
	}
	return nil
}

func countStatuses(snap *model.Snapshot) {
	snap.TotalDevices = len(snap.Devices)
	for _, d := range snap.Devices {
		switch d.Status {
		case model.StatusUp:
			snap.DevicesUp++
		case model.StatusDown:
			snap.DevicesDown++
		case model.StatusDegraded:
			snap.DevicesDegraded++
		default:
			snap.DevicesUnknown++
		}
	}
}
