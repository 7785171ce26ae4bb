package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/watchtower-noc/watchtower/internal/model"
	"github.com/watchtower-noc/watchtower/internal/server/cache"
)

func snapshot(statuses map[string]model.DeviceStatus) *model.Snapshot {
	s := &model.Snapshot{Devices: make(map[string]model.Device)}
	for id, st := range statuses {
		s.Devices[id] = model.Device{ID: id, DisplayName: strings.ToUpper(id), Status: st}
	}
	return s
}

func TestDiff(t *testing.T) {
	prev := snapshot(map[string]model.DeviceStatus{
		"fw-1":  model.StatusUnknown,
		"sw-1":  model.StatusUp,
		"sw-2":  model.StatusUp,
		"old-1": model.StatusUp,
	})
	next := snapshot(map[string]model.DeviceStatus{
		"fw-1":  model.StatusDown,
		"sw-1":  model.StatusUp,
		"sw-2":  model.StatusDegraded,
		"new-1": model.StatusUp,
	})

	got := Diff(prev, next)
	want := []model.StatusChange{
		{DeviceID: "fw-1", Hostname: "FW-1", OldStatus: model.StatusUnknown, NewStatus: model.StatusDown},
		{DeviceID: "old-1", Hostname: "OLD-1", OldStatus: model.StatusUp, NewStatus: model.StatusUnknown},
		{DeviceID: "sw-2", Hostname: "SW-2", OldStatus: model.StatusUp, NewStatus: model.StatusDegraded},
	}
	if len(got) != len(want) {
		t.Fatalf("Diff = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("change %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestDiffIdenticalAndFirst(t *testing.T) {
	a := snapshot(map[string]model.DeviceStatus{"fw-1": model.StatusUp})
	b := snapshot(map[string]model.DeviceStatus{"fw-1": model.StatusUp})
	if got := Diff(a, b); len(got) != 0 {
		t.Errorf("identical snapshots: %+v", got)
	}
	if got := Diff(nil, b); len(got) != 0 {
		t.Errorf("first snapshot: %+v", got)
	}
}

// fakeConn records writes. A blocking conn never finishes its first write
// until closed.
type fakeConn struct {
	mu       sync.Mutex
	writes   [][]byte
	blocking bool
	fail     bool

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{closed: make(chan struct{})}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	if c.fail {
		return errors.New("broken pipe")
	}
	if c.blocking {
		<-c.closed
		return errors.New("closed")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, errors.New("closed")
}

func (c *fakeConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	h := NewHub(4, time.Second, zap.NewNop())
	defer h.Close()

	fast := newFakeConn()
	slow := newFakeConn()
	slow.blocking = true
	h.add(fast)
	h.add(slow)

	for i := 1; i <= 8; i++ {
		if err := h.Broadcast(map[string]int{"seq": i}); err != nil {
			t.Fatal(err)
		}
		n := i
		eventually(t, "fast subscriber delivery", func() bool { return fast.count() == n })
	}

	eventually(t, "slow subscriber removal", func() bool { return h.Count() == 1 })
	if !slow.isClosed() {
		t.Error("slow subscriber connection not closed")
	}
	if fast.isClosed() {
		t.Error("fast subscriber was dropped")
	}
}

func TestHubDropsFailedWriter(t *testing.T) {
	h := NewHub(0, 0, zap.NewNop())
	defer h.Close()

	bad := newFakeConn()
	bad.fail = true
	h.add(bad)

	if err := h.Broadcast(model.StatusChangeMessage{Type: model.MessageDeviceStatusChange}); err != nil {
		t.Fatal(err)
	}
	eventually(t, "failed subscriber removal", func() bool { return h.Count() == 0 })
	if !bad.isClosed() {
		t.Error("connection not closed")
	}
}

func TestHubClose(t *testing.T) {
	h := NewHub(0, 0, zap.NewNop())
	a, b := newFakeConn(), newFakeConn()
	h.add(a)
	h.add(b)

	h.Close()
	if h.Count() != 0 || !a.isClosed() || !b.isClosed() {
		t.Error("subscribers survived Close")
	}

	late := newFakeConn()
	if h.add(late) != nil || !late.isClosed() {
		t.Error("closed hub accepted a subscriber")
	}
}

func TestServeWS(t *testing.T) {
	h := NewHub(0, 0, zap.NewNop())
	defer h.Close()

	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	eventually(t, "subscription", func() bool { return h.Count() == 1 })

	msg := model.StatusChangeMessage{
		Type: model.MessageDeviceStatusChange,
		Changes: []model.StatusChange{
			{DeviceID: "fw-1", Hostname: "Edge Firewall", OldStatus: model.StatusUnknown, NewStatus: model.StatusDown},
		},
	}
	if err := h.Broadcast(msg); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got model.StatusChangeMessage
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != model.MessageDeviceStatusChange || len(got.Changes) != 1 || got.Changes[0].NewStatus != model.StatusDown {
		t.Errorf("message = %+v", got)
	}

	conn.Close()
	eventually(t, "unsubscription", func() bool { return h.Count() == 0 })
}

// recordingSender captures broadcast messages.
type recordingSender struct {
	mu   sync.Mutex
	msgs []interface{}
}

func (s *recordingSender) Broadcast(msg interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

// sequence returns the queued snapshots one per call, repeating the last.
type sequence struct {
	snaps []*model.Snapshot
	i     int
}

func (s *sequence) Topology(context.Context) (*model.Snapshot, error) {
	snap := s.snaps[s.i]
	if s.i < len(s.snaps)-1 {
		s.i++
	}
	return snap, nil
}

func TestPublisherAnnouncesTransitions(t *testing.T) {
	ctx := context.Background()
	c := cache.NewClient(cache.NewMemory(""), zaptest.NewLogger(t))
	sender := &recordingSender{}
	topo := &sequence{snaps: []*model.Snapshot{
		snapshot(map[string]model.DeviceStatus{"fw-1": model.StatusUnknown}),
		snapshot(map[string]model.DeviceStatus{"fw-1": model.StatusDown}),
		snapshot(map[string]model.DeviceStatus{"fw-1": model.StatusDown}),
	}}
	p := NewPublisher(topo, c, sender, time.Minute, zaptest.NewLogger(t))

	if changes, err := p.Publish(ctx); err != nil || len(changes) != 0 {
		t.Fatalf("first publish: changes=%v err=%v", changes, err)
	}

	changes, err := p.Publish(ctx)
	if err != nil {
		t.Fatalf("second publish: %v", err)
	}
	if len(changes) != 1 || changes[0].OldStatus != model.StatusUnknown || changes[0].NewStatus != model.StatusDown {
		t.Fatalf("changes = %+v", changes)
	}

	if changes, err := p.Publish(ctx); err != nil || len(changes) != 0 {
		t.Fatalf("third publish: changes=%v err=%v", changes, err)
	}

	if len(sender.msgs) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(sender.msgs))
	}
	msg, ok := sender.msgs[0].(model.StatusChangeMessage)
	if !ok || msg.Type != model.MessageDeviceStatusChange {
		t.Errorf("message = %#v", sender.msgs[0])
	}

	stored, _, ok := cache.Load[model.Snapshot](ctx, c, model.KeyTopology)
	if !ok || stored.Devices["fw-1"].Status != model.StatusDown {
		t.Errorf("stored snapshot = %+v", stored)
	}
}

func TestDigestFingerprint(t *testing.T) {
	a := Digest(snapshot(map[string]model.DeviceStatus{"fw-1": model.StatusUp, "sw-1": model.StatusDown}))
	b := Digest(snapshot(map[string]model.DeviceStatus{"sw-1": model.StatusDown, "fw-1": model.StatusUp}))
	c := Digest(snapshot(map[string]model.DeviceStatus{"fw-1": model.StatusDown, "sw-1": model.StatusDown}))
	if a.Fingerprint == 0 || a.Fingerprint != b.Fingerprint {
		t.Errorf("equal status maps hash differently: %d %d", a.Fingerprint, b.Fingerprint)
	}
	if a.Fingerprint == c.Fingerprint {
		t.Error("different statuses share a fingerprint")
	}
	if a.Devices["fw-1"].Name != "FW-1" {
		t.Errorf("digest = %+v", a.Devices)
	}
}

func TestPublisherComparesAgainstDigest(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemory("")
	c := cache.NewClient(mem, zaptest.NewLogger(t))

	// Only the digest is read; an undecodable snapshot must not matter.
	prev := Digest(snapshot(map[string]model.DeviceStatus{"fw-1": model.StatusUp}))
	if err := cache.Save(ctx, c, model.KeyTopologyStatus, prev, time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := mem.Set(ctx, model.KeyTopology, []byte("not json"), time.Minute); err != nil {
		t.Fatal(err)
	}

	sender := &recordingSender{}
	topo := &sequence{snaps: []*model.Snapshot{snapshot(map[string]model.DeviceStatus{"fw-1": model.StatusDown})}}
	p := NewPublisher(topo, c, sender, time.Minute, zaptest.NewLogger(t))

	changes, err := p.Publish(ctx)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(changes) != 1 || changes[0].OldStatus != model.StatusUp || changes[0].Hostname != "FW-1" {
		t.Errorf("changes = %+v", changes)
	}
	stored, _, ok := cache.Load[model.StatusDigest](ctx, c, model.KeyTopologyStatus)
	if !ok || stored.Devices["fw-1"].Status != model.StatusDown {
		t.Errorf("stored digest = %+v", stored)
	}
}
