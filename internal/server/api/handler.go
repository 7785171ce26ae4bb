package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"github.com/samber/lo"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/watchtower-noc/watchtower/internal/config"
	"github.com/watchtower-noc/watchtower/internal/model"
	"github.com/watchtower-noc/watchtower/internal/server/alerts"
	"github.com/watchtower-noc/watchtower/internal/server/cache"
	"github.com/watchtower-noc/watchtower/internal/server/poller"
	"github.com/watchtower-noc/watchtower/internal/sources"
	"github.com/watchtower-noc/watchtower/internal/sources/librenms"
)

const (
	defaultPortLimit = 100
	maxPortLimit     = 500
	maxAliasWords    = 50
)

// TopologyService builds snapshots and reports aggregation diagnostics.
type TopologyService interface {
	Topology(ctx context.Context) (*model.Snapshot, error)
	Diagnostics(ctx context.Context) (model.Diagnostics, error)
}

// AlertService is the unified alert feed.
type AlertService interface {
	List(ctx context.Context, q model.AlertQuery) []model.Alert
	Get(ctx context.Context, id string) (model.Alert, error)
	Acknowledge(id string)
	Resolve(id string)
}

// Scheduler is the poll control surface.
type Scheduler interface {
	Status(ctx context.Context) model.SchedulerStatus
	PollNow(ctx context.Context) ([]string, error)
}

// Subscribers serves the websocket endpoint.
type Subscribers interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
	Count() int
}

// Checker tests connectivity to one upstream source and returns how many
// objects it sees.
type Checker interface {
	Check(ctx context.Context) (int, error)
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) (int, error)

func (f CheckerFunc) Check(ctx context.Context) (int, error) { return f(ctx) }

// Handler serves the watchtower REST API and the websocket endpoint.
type Handler struct {
	topology  TopologyService
	alerts    AlertService
	scheduler Scheduler
	subs      Subscribers
	cache     *cache.Client
	checkers  map[string]Checker
	cfg       *config.Config
	logger    *zap.Logger

	router *mux.Router
}

// NewHandler creates a new API handler with all routes registered.
func NewHandler(
	topology TopologyService,
	alertService AlertService,
	scheduler Scheduler,
	subs Subscribers,
	c *cache.Client,
	checkers map[string]Checker,
	cfg *config.Config,
	logger *zap.Logger,
) *Handler {
	h := &Handler{
		topology:  topology,
		alerts:    alertService,
		scheduler: scheduler,
		subs:      subs,
		cache:     c,
		checkers:  checkers,
		cfg:       cfg,
		logger:    logger.Named("api"),
	}

	h.router = mux.NewRouter()
	h.registerRoutes()

	return h
}

// Router returns the configured HTTP router.
func (h *Handler) Router() http.Handler {
	return corsMiddleware(h.cfg.Server.CORSOrigins, h.router)
}

// -----------------------------------------------------------------------
// Route registration
// -----------------------------------------------------------------------

func (h *Handler) registerRoutes() {
	h.router.HandleFunc("/health", h.handleHealth).Methods("GET")
	h.router.HandleFunc("/ws/updates", h.subs.ServeWS)

	api := h.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/config", h.handleAppConfig).Methods("GET")

	api.HandleFunc("/topology", h.handleGetTopology).Methods("GET")
	api.HandleFunc("/devices", h.handleListDevices).Methods("GET")
	api.HandleFunc("/device/{id}", h.handleGetDevice).Methods("GET")

	api.HandleFunc("/alerts", h.handleListAlerts).Methods("GET")
	api.HandleFunc("/alert/{id}", h.handleGetAlert).Methods("GET")
	api.HandleFunc("/alert/{id}/acknowledge", h.handleAcknowledgeAlert).Methods("POST")
	api.HandleFunc("/alert/{id}/resolve", h.handleResolveAlert).Methods("POST")

	api.HandleFunc("/vms", h.handleListVMs).Methods("GET")
	api.HandleFunc("/vms/summary", h.handleVMSummary).Methods("GET")
	api.HandleFunc("/vms/node/{name}", h.handleNodeVMs).Methods("GET")

	api.HandleFunc("/speedtest", h.handleSpeedTest).Methods("GET")

	api.HandleFunc("/ports/search", h.handleSearchPorts).Methods("GET")
	api.HandleFunc("/ports/aliases", h.handlePortAliases).Methods("GET")
	api.HandleFunc("/paloalto/firewalls", h.handleListFirewalls).Methods("GET")

	diag := api.PathPrefix("/diagnostics").Subrouter()
	diag.HandleFunc("/config", h.handleDiagnosticsConfig).Methods("GET")
	diag.HandleFunc("/scheduler", h.handleSchedulerStatus).Methods("GET")
	diag.HandleFunc("/poll/now", h.handlePollNow).Methods("POST")
	diag.HandleFunc("/poll-stats", h.handlePollStats).Methods("GET")
	diag.HandleFunc("/discrepancies", h.handleDiscrepancies).Methods("GET")
	diag.HandleFunc("/test/{source}", h.handleTestSource).Methods("GET")
	diag.HandleFunc("/cache/devices", h.handleCachedDevices).Methods("GET")
	diag.HandleFunc("/cache/alerts", h.handleCachedAlerts).Methods("GET")
	diag.HandleFunc("/cache/proxmox", h.handleCachedProxmox).Methods("GET")
	diag.HandleFunc("/cache/proxmox/vms", h.handleCachedProxmoxVMs).Methods("GET")
}

// -----------------------------------------------------------------------
// Health and app config
// -----------------------------------------------------------------------

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "healthy",
		"service":           "watchtower",
		"websocket_clients": h.subs.Count(),
	})
}

func (h *Handler) handleAppConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"dev_mode": h.cfg.Server.DevMode,
	})
}

// -----------------------------------------------------------------------
// Topology and devices
// -----------------------------------------------------------------------

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) (*model.Snapshot, bool) {
	snap, err := h.topology.Topology(r.Context())
	if err != nil {
		h.logger.Error("failed to build topology", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to build topology")
		return nil, false
	}
	return snap, true
}

func (h *Handler) handleGetTopology(w http.ResponseWriter, r *http.Request) {
	if snap, ok := h.snapshot(w, r); ok {
		writeJSON(w, http.StatusOK, snap)
	}
}

func (h *Handler) handleListDevices(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	devices := lo.Values(snap.Devices)
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	writeJSON(w, http.StatusOK, devices)
}

func (h *Handler) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	dev, found := snap.Devices[id]
	if !found {
		dev, found = snap.Devices[model.NormalizeID(id)]
	}
	if !found {
		writeError(w, http.StatusNotFound, "device '"+id+"' not found")
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// -----------------------------------------------------------------------
// Alerts
// -----------------------------------------------------------------------

func (h *Handler) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	var q model.AlertQuery
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, ok := model.ParseAlertStatus(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid status '"+raw+"'")
			return
		}
		q.Status = &st
	}
	list := h.alerts.List(r.Context(), q)
	if list == nil {
		list = []model.Alert{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	a, err := h.alerts.Get(r.Context(), id)
	if errors.Is(err, alerts.ErrAlertNotFound) {
		writeError(w, http.StatusNotFound, "alert '"+id+"' not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get alert", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get alert")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h.alerts.Acknowledge(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged", "alert_id": id})
}

func (h *Handler) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h.alerts.Resolve(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved", "alert_id": id})
}

// -----------------------------------------------------------------------
// VMs
// -----------------------------------------------------------------------

type vmListResponse struct {
	VMs     []model.ProxmoxVM `json:"vms"`
	Summary model.VMSummary   `json:"summary"`
}

func (h *Handler) runningVMs(ctx context.Context) []model.ProxmoxVM {
	vms, _, _ := cache.Load[[]model.ProxmoxVM](ctx, h.cache, model.KeyProxmoxVMs)
	running := lo.Filter(vms, func(vm model.ProxmoxVM, _ int) bool { return vm.Status == "running" })
	sort.SliceStable(running, func(i, j int) bool {
		return strings.ToLower(running[i].Name) < strings.ToLower(running[j].Name)
	})
	return running
}

// summarize totals the given VMs. Memory is reported both in GiB rounded to
// one decimal and as a human readable size.
func summarize(vms []model.ProxmoxVM) model.VMSummary {
	var (
		s   model.VMSummary
		mem int64
	)
	for _, vm := range vms {
		s.TotalRunning++
		switch vm.Type {
		case "qemu":
			s.TotalQemu++
		case "lxc":
			s.TotalLXC++
		}
		s.TotalCPUs += vm.CPUs
		mem += vm.MaxMem
	}
	s.TotalMemoryGB = float64(int64(float64(mem)/(1<<30)*10+0.5)) / 10
	s.TotalMemory = humanize.IBytes(uint64(mem))
	return s
}

func (h *Handler) handleListVMs(w http.ResponseWriter, r *http.Request) {
	vms := h.runningVMs(r.Context())
	writeJSON(w, http.StatusOK, vmListResponse{VMs: vms, Summary: summarize(vms)})
}

func (h *Handler) handleVMSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, summarize(h.runningVMs(r.Context())))
}

// handleNodeVMs lists the VMs of every Proxmox node whose normalized name
// matches, across instances.
func (h *Handler) handleNodeVMs(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	inv, _, _ := cache.Load[model.ProxmoxInventory](r.Context(), h.cache, model.KeyProxmox)
	nodes := inv.Lookup(name)
	if len(nodes) == 0 {
		writeError(w, http.StatusNotFound, "node '"+name+"' not found")
		return
	}
	keys := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		keys[n.Instance+":"+n.Node] = struct{}{}
	}

	vms, _, _ := cache.Load[[]model.ProxmoxVM](r.Context(), h.cache, model.KeyProxmoxVMs)
	matched := lo.Filter(vms, func(vm model.ProxmoxVM, _ int) bool {
		_, ok := keys[vm.Instance+":"+vm.Node]
		return ok
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"nodes":   nodes,
		"vms":     matched,
		"summary": summarize(lo.Filter(matched, func(vm model.ProxmoxVM, _ int) bool { return vm.Status == "running" })),
	})
}

// -----------------------------------------------------------------------
// Speed test
// -----------------------------------------------------------------------

func (h *Handler) handleSpeedTest(w http.ResponseWriter, r *http.Request) {
	res, _, ok := cache.Load[model.SpeedTestResult](r.Context(), h.cache, model.KeySpeedTest)
	if !ok {
		writeError(w, http.StatusNotFound, "no speed test result available")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// -----------------------------------------------------------------------
// Diagnostics
// -----------------------------------------------------------------------

func configuredURL(url string) string {
	if url == "" {
		return "(not configured)"
	}
	return url
}

// handleDiagnosticsConfig shows the configured sources without secrets.
func (h *Handler) handleDiagnosticsConfig(w http.ResponseWriter, r *http.Request) {
	ds := h.cfg.DataSources
	proxmox := make([]map[string]interface{}, 0, len(ds.Proxmox))
	for _, p := range ds.Proxmox {
		proxmox = append(proxmox, map[string]interface{}{
			"name":       p.Name,
			"url":        configuredURL(p.URL),
			"has_token":  p.TokenID != "" && p.TokenSecret != "",
			"verify_ssl": p.VerifySSL,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"librenms": map[string]interface{}{
			"url":         configuredURL(ds.LibreNMS.URL),
			"has_api_key": ds.LibreNMS.APIKey != "",
		},
		"netdisco": map[string]interface{}{
			"url":          configuredURL(ds.Netdisco.URL),
			"has_api_key":  ds.Netdisco.APIKey != "",
			"has_password": ds.Netdisco.Username != "" && ds.Netdisco.Password != "",
		},
		"proxmox": proxmox,
		"snmp": map[string]interface{}{
			"enabled": ds.SNMP.Enabled,
			"version": ds.SNMP.Version,
		},
		"speedtest": map[string]interface{}{
			"url":       configuredURL(ds.SpeedTest.URL),
			"has_token": ds.SpeedTest.APIToken != "",
		},
		"cache": map[string]interface{}{
			"backend": h.cfg.Cache.Backend,
		},
	})
}

func (h *Handler) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduler.Status(r.Context()))
}

func (h *Handler) handlePollNow(w http.ResponseWriter, r *http.Request) {
	skipped, err := h.scheduler.PollNow(r.Context())
	if errors.Is(err, poller.ErrStopped) {
		writeError(w, http.StatusServiceUnavailable, "scheduler is stopped")
		return
	}
	if err != nil {
		h.logger.Error("manual poll failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "poll failed")
		return
	}
	if skipped == nil {
		skipped = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"message": "poll completed",
		"skipped": skipped,
	})
}

// handlePollStats returns the last flushed stats window.
func (h *Handler) handlePollStats(w http.ResponseWriter, r *http.Request) {
	stats, _, ok := cache.Load[[]model.PollStats](r.Context(), h.cache, model.KeyPollStats)
	if !ok {
		writeJSON(w, http.StatusOK, emptyCache("no poll stats window flushed yet"))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleDiscrepancies(w http.ResponseWriter, r *http.Request) {
	diag, err := h.topology.Diagnostics(r.Context())
	if err != nil {
		h.logger.Error("failed to get diagnostics", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get diagnostics")
		return
	}
	writeJSON(w, http.StatusOK, diag)
}

type checkResult struct {
	Status  string `json:"status"`
	Count   int    `json:"count"`
	Message string `json:"message,omitempty"`
}

func (h *Handler) check(ctx context.Context, name string, c Checker) checkResult {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	n, err := c.Check(ctx)
	switch {
	case err == nil:
		return checkResult{Status: "ok", Count: n}
	case errors.Is(err, sources.ErrNotConfigured):
		return checkResult{Status: "not_configured", Message: name + " is not configured"}
	default:
		h.logger.Warn("connectivity test failed", zap.String("source", name), zap.Error(err))
		return checkResult{Status: "error", Message: "connection failed, check server logs for details"}
	}
}

// handleTestSource checks one source, or every source for "all".
func (h *Handler) handleTestSource(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["source"]
	if name != "all" {
		c, ok := h.checkers[name]
		if !ok {
			writeError(w, http.StatusNotFound, "unknown source '"+name+"'")
			return
		}
		writeJSON(w, http.StatusOK, h.check(r.Context(), name, c))
		return
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]checkResult, len(h.checkers))
	)
	for name, c := range h.checkers {
		name, c := name, c
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := h.check(r.Context(), name, c)
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}()
	}
	wg.Wait()

	configured := lo.CountBy(lo.Values(results), func(c checkResult) bool { return c.Status != "not_configured" })
	connected := lo.CountBy(lo.Values(results), func(c checkResult) bool { return c.Status == "ok" })
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"configured": configured,
		"connected":  connected,
		"sources":    results,
	})
}

func (h *Handler) handleCachedDevices(w http.ResponseWriter, r *http.Request) {
	devices, writtenAt, ok := cache.Load[json.RawMessage](r.Context(), h.cache, model.KeyDevices)
	reports, _, _ := cache.Load[[]model.DeviceReport](r.Context(), h.cache, model.KeyDeviceStatus)
	if !ok && len(reports) == 0 {
		writeJSON(w, http.StatusOK, emptyCache("no cached device data, trigger POST /api/diagnostics/poll/now"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"written_at":    writtenAt,
		"devices":       devices,
		"device_status": reports,
		"report_count":  len(reports),
	})
}

func (h *Handler) handleCachedAlerts(w http.ResponseWriter, r *http.Request) {
	upstream, writtenAt, ok := cache.Load[[]model.UpstreamAlert](r.Context(), h.cache, model.KeyAlerts)
	if !ok {
		writeJSON(w, http.StatusOK, emptyCache("no cached alert data"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"written_at":  writtenAt,
		"alert_count": len(upstream),
		"alerts":      upstream,
	})
}

func (h *Handler) handleCachedProxmox(w http.ResponseWriter, r *http.Request) {
	inv, writtenAt, ok := cache.Load[model.ProxmoxInventory](r.Context(), h.cache, model.KeyProxmox)
	if !ok || len(inv.Nodes) == 0 {
		writeJSON(w, http.StatusOK, emptyCache("no cached Proxmox data"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"written_at": writtenAt,
		"node_count": len(inv.Nodes),
		"nodes":      inv.Nodes,
	})
}

func (h *Handler) handleCachedProxmoxVMs(w http.ResponseWriter, r *http.Request) {
	vms, writtenAt, ok := cache.Load[[]model.ProxmoxVM](r.Context(), h.cache, model.KeyProxmoxVMs)
	if !ok || len(vms) == 0 {
		writeJSON(w, http.StatusOK, emptyCache("no cached VM data"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"written_at": writtenAt,
		"vm_count":   len(vms),
		"vms":        vms,
	})
}

func emptyCache(message string) map[string]string {
	return map[string]string{"status": "empty", "message": message}
}

// -----------------------------------------------------------------------
// Ports
// -----------------------------------------------------------------------

// handleSearchPorts matches q case-insensitively against port aliases and
// descriptions in the cached interface report.
func (h *Handler) handleSearchPorts(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	status := strings.ToLower(r.URL.Query().Get("status"))
	switch status {
	case "", "all", string(model.StatusUp), string(model.StatusDown), string(model.StatusDegraded), string(model.StatusUnknown):
	default:
		writeError(w, http.StatusBadRequest, "invalid status '"+status+"'")
		return
	}
	limit := defaultPortLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := cast.ToIntE(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxPortLimit)
	}

	rep, _, _ := cache.Load[model.InterfaceReport](r.Context(), h.cache, model.KeyInterfaces)
	hostnames := h.portHostnames(r.Context())
	needle := strings.ToLower(q)

	matches := []model.PortMatch{}
	for id, ifaces := range rep.Devices {
		for _, it := range ifaces {
			if !strings.Contains(strings.ToLower(it.Alias), needle) &&
				!strings.Contains(strings.ToLower(it.Description), needle) {
				continue
			}
			if status != "" && status != "all" && string(it.Status) != status {
				continue
			}
			host, ok := hostnames[id]
			if !ok {
				host = id
			}
			matches = append(matches, model.PortMatch{
				DeviceID:  id,
				Hostname:  host,
				Interface: it,
				InMbps:    model.Round2(float64(it.InBps) / 1_000_000),
				OutMbps:   model.Round2(float64(it.OutBps) / 1_000_000),
			})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Hostname != matches[j].Hostname {
			return matches[i].Hostname < matches[j].Hostname
		}
		return matches[i].Name < matches[j].Name
	})

	writeJSON(w, http.StatusOK, model.PortSearchResult{
		Query: q,
		Total: len(matches),
		Ports: lo.Slice(matches, 0, limit),
	})
}

// portHostnames maps device ids to LibreNMS hostnames from the cached
// device list.
func (h *Handler) portHostnames(ctx context.Context) map[string]string {
	devices, _, _ := cache.Load[[]librenms.Device](ctx, h.cache, model.KeyDevices)
	out := make(map[string]string, len(devices))
	for _, d := range devices {
		out[model.CleanDeviceID(d.SysName, d.Hostname)] = d.Hostname
	}
	return out
}

// handlePortAliases counts the keywords of every port alias. Words shorter
// than three characters and plain numbers are ignored.
func (h *Handler) handlePortAliases(w http.ResponseWriter, r *http.Request) {
	rep, _, _ := cache.Load[model.InterfaceReport](r.Context(), h.cache, model.KeyInterfaces)

	var words []string
	for _, ifaces := range rep.Devices {
		for _, it := range ifaces {
			for _, word := range strings.Fields(strings.ToLower(it.Alias)) {
				if len(word) < 3 || lo.EveryBy([]rune(word), unicode.IsDigit) {
					continue
				}
				words = append(words, word)
			}
		}
	}

	counts := lo.MapToSlice(lo.CountValues(words), func(word string, n int) model.AliasCount {
		return model.AliasCount{Word: word, Count: n}
	})
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Word < counts[j].Word
	})
	writeJSON(w, http.StatusOK, lo.Slice(counts, 0, maxAliasWords))
}

// handleListFirewalls lists the configured firewalls. No firewall API is
// called.
func (h *Handler) handleListFirewalls(w http.ResponseWriter, r *http.Request) {
	fws := lo.Map(h.cfg.DataSources.PaloAlto, func(fw config.PaloAltoConfig, _ int) model.Firewall {
		return model.Firewall{Name: fw.Name, Host: fw.Host, Model: fw.Model}
	})
	writeJSON(w, http.StatusOK, fws)
}

// -----------------------------------------------------------------------
// JSON response helpers
// -----------------------------------------------------------------------

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; nothing useful to do on failure.
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// -----------------------------------------------------------------------
// CORS middleware
// -----------------------------------------------------------------------

// corsMiddleware allows the configured origins, or any origin when none are
// configured.
func corsMiddleware(origins []string, next http.Handler) http.Handler {
	allowed := lo.SliceToMap(origins, func(o string) (string, struct{}) { return o, struct{}{} })
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case len(allowed) == 0:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "":
			if _, ok := allowed[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
