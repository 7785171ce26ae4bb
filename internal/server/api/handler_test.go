package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/watchtower-noc/watchtower/internal/config"
	"github.com/watchtower-noc/watchtower/internal/model"
	"github.com/watchtower-noc/watchtower/internal/server/alerts"
	"github.com/watchtower-noc/watchtower/internal/server/cache"
	"github.com/watchtower-noc/watchtower/internal/sources"
	"github.com/watchtower-noc/watchtower/internal/sources/librenms"
)

type fakeTopology struct{ snap *model.Snapshot }

func (f fakeTopology) Topology(context.Context) (*model.Snapshot, error) { return f.snap, nil }

func (f fakeTopology) Diagnostics(context.Context) (model.Diagnostics, error) {
	return model.Diagnostics{Discrepancies: []model.Discrepancy{{DeviceID: "fw-1", Field: "ip"}}}, nil
}

type fakeScheduler struct {
	polled  int
	skipped []string
}

func (f *fakeScheduler) Status(context.Context) model.SchedulerStatus {
	return model.SchedulerStatus{Running: true, Intervals: map[string]int64{"alerts": 30}}
}

func (f *fakeScheduler) PollNow(context.Context) ([]string, error) {
	f.polled++
	return f.skipped, nil
}

type fakeSubs struct{}

func (fakeSubs) ServeWS(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) }
func (fakeSubs) Count() int                                     { return 3 }

func testSnapshot() *model.Snapshot {
	return &model.Snapshot{
		Devices: map[string]model.Device{
			"fw-1":      {ID: "fw-1", DisplayName: "FW-1", Status: model.StatusDown, IP: "10.0.0.1"},
			"core-sw-1": {ID: "core-sw-1", DisplayName: "Core SW", Status: model.StatusUp},
		},
		TotalDevices: 2,
	}
}

type testEnv struct {
	h     *Handler
	cache *cache.Client
	sched *fakeScheduler
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	c := cache.NewClient(cache.NewMemory(cache.DefaultKeyPrefix), zap.NewNop())
	topo := fakeTopology{snap: testSnapshot()}
	deriver := alerts.NewDeriver(topo, c, alerts.NewMemoryStateStore(), zap.NewNop())
	sched := &fakeScheduler{}
	checkers := map[string]Checker{
		"librenms": CheckerFunc(func(context.Context) (int, error) { return 12, nil }),
		"netdisco": CheckerFunc(func(context.Context) (int, error) { return 0, sources.ErrNotConfigured }),
		"proxmox":  CheckerFunc(func(context.Context) (int, error) { return 0, errors.New("tls: bad certificate") }),
	}
	cfg := &config.Config{}
	cfg.DataSources.LibreNMS = config.LibreNMSConfig{URL: "https://librenms.example.net", APIKey: "secret-key"}
	h := NewHandler(topo, deriver, sched, fakeSubs{}, c, checkers, cfg, zap.NewNop())
	return &testEnv{h: h, cache: c, sched: sched}
}

func (e *testEnv) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.h.Router().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, "GET", "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var body map[string]interface{}
	decode(t, rec, &body)
	if body["status"] != "healthy" || body["websocket_clients"] != float64(3) {
		t.Errorf("body = %v", body)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}

func TestDevices(t *testing.T) {
	e := newEnv(t)

	var devices []model.Device
	decode(t, e.do(t, "GET", "/api/devices"), &devices)
	if len(devices) != 2 || devices[0].ID != "core-sw-1" {
		t.Errorf("devices = %+v", devices)
	}

	rec := e.do(t, "GET", "/api/device/FW-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("device by display-style id: code = %d", rec.Code)
	}
	if rec := e.do(t, "GET", "/api/device/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown device code = %d", rec.Code)
	}
}

func TestAlertLifecycle(t *testing.T) {
	e := newEnv(t)

	var list []model.Alert
	decode(t, e.do(t, "GET", "/api/alerts"), &list)
	if len(list) != 1 || list[0].ID != "device-down-fw-1" {
		t.Fatalf("alerts = %+v", list)
	}

	if rec := e.do(t, "POST", "/api/alert/device-down-fw-1/acknowledge"); rec.Code != http.StatusOK {
		t.Fatalf("ack code = %d", rec.Code)
	}
	var acked []model.Alert
	decode(t, e.do(t, "GET", "/api/alerts?status=acknowledged"), &acked)
	if len(acked) != 1 {
		t.Errorf("acknowledged = %+v", acked)
	}

	e.do(t, "POST", "/api/alert/device-down-fw-1/resolve")
	var active []model.Alert
	decode(t, e.do(t, "GET", "/api/alerts?status=active"), &active)
	if len(active) != 1 {
		t.Errorf("active after resolve = %+v", active)
	}

	if rec := e.do(t, "GET", "/api/alerts?status=bogus"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad status code = %d", rec.Code)
	}
	if rec := e.do(t, "GET", "/api/alert/librenms-999"); rec.Code != http.StatusNotFound {
		t.Errorf("missing alert code = %d", rec.Code)
	}
}

func TestVMs(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	inv := model.NewProxmoxInventory([]model.ProxmoxNode{
		{Node: "pve1", Instance: "lab", Status: "online"},
		{Node: "pve1", Instance: "dr", Status: "online"},
	})
	vms := []model.ProxmoxVM{
		{VMID: 101, Name: "web", Node: "pve1", Instance: "lab", Type: "qemu", Status: "running", CPUs: 2, MaxMem: 2 << 30},
		{VMID: 102, Name: "Backup", Node: "pve1", Instance: "dr", Type: "lxc", Status: "running", CPUs: 1, MaxMem: 1 << 30},
		{VMID: 103, Name: "old", Node: "pve1", Instance: "lab", Type: "qemu", Status: "stopped", CPUs: 4, MaxMem: 8 << 30},
	}
	if err := cache.Save(ctx, e.cache, model.KeyProxmox, inv, time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := cache.Save(ctx, e.cache, model.KeyProxmoxVMs, vms, time.Minute); err != nil {
		t.Fatal(err)
	}

	var list vmListResponse
	decode(t, e.do(t, "GET", "/api/vms"), &list)
	if len(list.VMs) != 2 || list.VMs[0].Name != "Backup" {
		t.Errorf("vms = %+v", list.VMs)
	}
	want := model.VMSummary{TotalRunning: 2, TotalQemu: 1, TotalLXC: 1, TotalCPUs: 3, TotalMemoryGB: 3, TotalMemory: "3.0 GiB"}
	if list.Summary != want {
		t.Errorf("summary = %+v, want %+v", list.Summary, want)
	}

	var node struct {
		Nodes []model.ProxmoxNode `json:"nodes"`
		VMs   []model.ProxmoxVM   `json:"vms"`
	}
	decode(t, e.do(t, "GET", "/api/vms/node/PVE1"), &node)
	if len(node.Nodes) != 2 || len(node.VMs) != 3 {
		t.Errorf("node lookup = %+v", node)
	}
	if rec := e.do(t, "GET", "/api/vms/node/pve9"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown node code = %d", rec.Code)
	}
}

func TestSpeedTest(t *testing.T) {
	e := newEnv(t)
	if rec := e.do(t, "GET", "/api/speedtest"); rec.Code != http.StatusNotFound {
		t.Errorf("empty speedtest code = %d", rec.Code)
	}
	res := model.SpeedTestResult{DownloadMbps: 480.5}
	if err := cache.Save(context.Background(), e.cache, model.KeySpeedTest, res, time.Minute); err != nil {
		t.Fatal(err)
	}
	var got model.SpeedTestResult
	decode(t, e.do(t, "GET", "/api/speedtest"), &got)
	if got.DownloadMbps != 480.5 {
		t.Errorf("speedtest = %+v", got)
	}
}

func TestDiagnostics(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, "GET", "/api/diagnostics/config")
	if strings.Contains(rec.Body.String(), "secret-key") {
		t.Error("config leaks the api key")
	}
	var cfg map[string]map[string]interface{}
	decode(t, rec, &cfg)
	if cfg["librenms"]["has_api_key"] != true || cfg["netdisco"]["url"] != "(not configured)" {
		t.Errorf("config = %v", cfg)
	}

	e.sched.skipped = []string{"alerts"}
	var poll map[string]interface{}
	decode(t, e.do(t, "POST", "/api/diagnostics/poll/now"), &poll)
	if e.sched.polled != 1 || poll["skipped"].([]interface{})[0] != "alerts" {
		t.Errorf("poll = %v", poll)
	}

	var diag model.Diagnostics
	decode(t, e.do(t, "GET", "/api/diagnostics/discrepancies"), &diag)
	if len(diag.Discrepancies) != 1 {
		t.Errorf("diagnostics = %+v", diag)
	}

	var empty map[string]string
	decode(t, e.do(t, "GET", "/api/diagnostics/cache/alerts"), &empty)
	if empty["status"] != "empty" {
		t.Errorf("cache/alerts = %v", empty)
	}
}

func TestSourceChecks(t *testing.T) {
	e := newEnv(t)

	var one checkResult
	decode(t, e.do(t, "GET", "/api/diagnostics/test/librenms"), &one)
	if one.Status != "ok" || one.Count != 12 {
		t.Errorf("librenms = %+v", one)
	}
	if rec := e.do(t, "GET", "/api/diagnostics/test/zabbix"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown source code = %d", rec.Code)
	}

	var all struct {
		Configured int                    `json:"configured"`
		Connected  int                    `json:"connected"`
		Sources    map[string]checkResult `json:"sources"`
	}
	decode(t, e.do(t, "GET", "/api/diagnostics/test/all"), &all)
	if all.Configured != 2 || all.Connected != 1 {
		t.Errorf("all = %+v", all)
	}
	if all.Sources["netdisco"].Status != "not_configured" || all.Sources["proxmox"].Status != "error" {
		t.Errorf("sources = %+v", all.Sources)
	}
}

func TestCORSOrigins(t *testing.T) {
	e := newEnv(t)
	e.h.cfg.Server.CORSOrigins = []string{"https://noc.example.net"}

	req := httptest.NewRequest("OPTIONS", "/api/topology", nil)
	req.Header.Set("Origin", "https://noc.example.net")
	rec := httptest.NewRecorder()
	e.h.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "https://noc.example.net" {
		t.Errorf("preflight = %d %v", rec.Code, rec.Header())
	}

	req = httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	e.h.Router().ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unlisted origin allowed")
	}
}

func TestWebsocketRoute(t *testing.T) {
	e := newEnv(t)
	if rec := e.do(t, "GET", "/ws/updates"); rec.Code != http.StatusTeapot {
		t.Errorf("ws route not wired, code = %d", rec.Code)
	}
}

func TestPollStats(t *testing.T) {
	e := newEnv(t)

	var empty map[string]string
	decode(t, e.do(t, "GET", "/api/diagnostics/poll-stats"), &empty)
	if empty["status"] != "empty" {
		t.Errorf("poll-stats before flush = %v", empty)
	}

	stats := []model.PollStats{{Category: "alerts", Runs: 4, Failures: 1, P95Ms: 420}}
	if err := cache.Save(context.Background(), e.cache, model.KeyPollStats, stats, time.Minute); err != nil {
		t.Fatal(err)
	}
	var got []model.PollStats
	decode(t, e.do(t, "GET", "/api/diagnostics/poll-stats"), &got)
	if len(got) != 1 || got[0].Runs != 4 || got[0].P95Ms != 420 {
		t.Errorf("poll-stats = %+v", got)
	}
}

func seedPorts(t *testing.T, e *testEnv) {
	t.Helper()
	ctx := context.Background()
	rep := model.InterfaceReport{Devices: map[string][]model.Interface{
		"core-sw-1": {
			{PortID: 3, Name: "Gi1/0/3", Alias: "Printer 2nd floor", Status: model.StatusUp, InBps: 1_500_000},
			{PortID: 1, Name: "Gi1/0/1", Alias: "WAP lobby", Status: model.StatusDown},
			{PortID: 2, Name: "Gi1/0/2", Description: "printer-uplink", Status: model.StatusDown},
		},
		"access-sw-2": {
			{PortID: 9, Name: "Gi1/0/9", Alias: "PRINTER copy room 42", Status: model.StatusUp},
			{PortID: 8, Name: "Gi1/0/8", Alias: "wap hallway", Status: model.StatusUp},
		},
	}}
	if err := cache.Save(ctx, e.cache, model.KeyInterfaces, rep, time.Minute); err != nil {
		t.Fatal(err)
	}
	devices := []librenms.Device{{DeviceID: 1, Hostname: "core-sw-1.example.net"}}
	if err := cache.Save(ctx, e.cache, model.KeyDevices, devices, time.Minute); err != nil {
		t.Fatal(err)
	}
}

func TestSearchPorts(t *testing.T) {
	e := newEnv(t)
	seedPorts(t, e)

	var res model.PortSearchResult
	decode(t, e.do(t, "GET", "/api/ports/search?q=printer"), &res)
	if res.Query != "printer" || res.Total != 3 || len(res.Ports) != 3 {
		t.Fatalf("result = %+v", res)
	}
	// Sorted by hostname, then port name; unknown hostnames fall back to the device id.
	got := []string{res.Ports[0].Name, res.Ports[1].Name, res.Ports[2].Name}
	want := []string{"Gi1/0/9", "Gi1/0/2", "Gi1/0/3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	if res.Ports[0].Hostname != "access-sw-2" || res.Ports[1].Hostname != "core-sw-1.example.net" {
		t.Errorf("hostnames = %q %q", res.Ports[0].Hostname, res.Ports[1].Hostname)
	}
	if res.Ports[2].InMbps != 1.5 || res.Ports[2].PortID != 3 {
		t.Errorf("port = %+v", res.Ports[2])
	}

	decode(t, e.do(t, "GET", "/api/ports/search?q=PRINTER&status=down"), &res)
	if res.Total != 1 || res.Ports[0].Name != "Gi1/0/2" {
		t.Errorf("down filter = %+v", res)
	}

	decode(t, e.do(t, "GET", "/api/ports/search?q=printer&limit=1"), &res)
	if res.Total != 3 || len(res.Ports) != 1 {
		t.Errorf("limit = %+v", res)
	}

	decode(t, e.do(t, "GET", "/api/ports/search?q=nothing"), &res)
	if res.Total != 0 || res.Ports == nil {
		t.Errorf("no match = %+v", res)
	}

	for _, path := range []string{
		"/api/ports/search",
		"/api/ports/search?q=wap&status=flapping",
		"/api/ports/search?q=wap&limit=0",
		"/api/ports/search?q=wap&limit=many",
	} {
		if rec := e.do(t, "GET", path); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", path, rec.Code)
		}
	}
}

func TestSearchPortsCapsLimit(t *testing.T) {
	e := newEnv(t)
	ifaces := make([]model.Interface, 0, 600)
	for i := 0; i < 600; i++ {
		ifaces = append(ifaces, model.Interface{Name: "port", Alias: "camera", Status: model.StatusUp})
	}
	rep := model.InterfaceReport{Devices: map[string][]model.Interface{"cam-sw": ifaces}}
	if err := cache.Save(context.Background(), e.cache, model.KeyInterfaces, rep, time.Minute); err != nil {
		t.Fatal(err)
	}
	var res model.PortSearchResult
	decode(t, e.do(t, "GET", "/api/ports/search?q=camera&limit=10000"), &res)
	if res.Total != 600 || len(res.Ports) != 500 {
		t.Errorf("total=%d ports=%d", res.Total, len(res.Ports))
	}
}

func TestPortAliases(t *testing.T) {
	e := newEnv(t)
	seedPorts(t, e)

	var counts []model.AliasCount
	decode(t, e.do(t, "GET", "/api/ports/aliases"), &counts)
	want := []model.AliasCount{
		{Word: "printer", Count: 2},
		{Word: "wap", Count: 2},
		{Word: "2nd", Count: 1},
		{Word: "copy", Count: 1},
		{Word: "floor", Count: 1},
		{Word: "hallway", Count: 1},
		{Word: "lobby", Count: 1},
		{Word: "room", Count: 1},
	}
	if len(counts) != len(want) {
		t.Fatalf("counts = %+v", counts)
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("count %d = %+v, want %+v", i, counts[i], want[i])
		}
	}
}

func TestListFirewalls(t *testing.T) {
	e := newEnv(t)

	var fws []model.Firewall
	decode(t, e.do(t, "GET", "/api/paloalto/firewalls"), &fws)
	if fws == nil || len(fws) != 0 {
		t.Errorf("unconfigured firewalls = %+v", fws)
	}

	e.h.cfg.DataSources.PaloAlto = []config.PaloAltoConfig{{Name: "edge", Host: "10.0.0.1", Model: "PA-440", APIKey: "top-secret"}}
	rec := e.do(t, "GET", "/api/paloalto/firewalls")
	if strings.Contains(rec.Body.String(), "top-secret") {
		t.Error("firewall listing leaks the api key")
	}
	decode(t, rec, &fws)
	if len(fws) != 1 || fws[0] != (model.Firewall{Name: "edge", Host: "10.0.0.1", Model: "PA-440"}) {
		t.Errorf("firewalls = %+v", fws)
	}
}
