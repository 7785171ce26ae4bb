package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap/zaptest"

	"github.com/watchtower-noc/watchtower/internal/model"
)

func newRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedis(context.Background(), RedisConfig{
		URL:       "redis://" + mr.Addr(),
		KeyPrefix: DefaultKeyPrefix,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r, mr
}

func TestStores(t *testing.T) {
	r, _ := newRedis(t)
	stores := map[string]Store{
		"memory": NewMemory(DefaultKeyPrefix),
		"redis":  r,
	}
	ctx := context.Background()

	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get missing: err = %v, want ErrNotFound", err)
			}
			if err := s.Set(ctx, "k", []byte("one"), time.Minute); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := s.Set(ctx, "k", []byte("two"), time.Minute); err != nil {
				t.Fatalf("Set: %v", err)
			}
			got, err := s.Get(ctx, "k")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if string(got) != "two" {
				t.Errorf("Get = %q, want whole-value replace", got)
			}
		})
	}
}

func TestRedisPrefixAndTTL(t *testing.T) {
	r, mr := newRedis(t)
	ctx := context.Background()

	if err := r.Set(ctx, model.KeyDevices, []byte("[]"), 90*time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !mr.Exists("watchtower:devices") {
		t.Fatal("key not written under prefix")
	}
	if ttl := mr.TTL("watchtower:devices"); ttl != 90*time.Second {
		t.Errorf("ttl = %v, want 90s", ttl)
	}

	mr.FastForward(91 * time.Second)
	if _, err := r.Get(ctx, model.KeyDevices); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired key: err = %v, want ErrNotFound", err)
	}
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemory("")
	ctx := context.Background()
	if err := m.Set(ctx, "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	c := NewClient(NewMemory(DefaultKeyPrefix), zaptest.NewLogger(t))
	ctx := context.Background()

	reports := []model.DeviceReport{{Source: model.SourceLibreNMS, ID: "fw-1", Status: model.StatusUp}}
	if err := Save(ctx, c, model.KeyDeviceStatus, reports, time.Minute); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, writtenAt, ok := Load[[]model.DeviceReport](ctx, c, model.KeyDeviceStatus)
	if !ok {
		t.Fatal("Load: not found")
	}
	if len(got) != 1 || got[0].ID != "fw-1" || got[0].Status != model.StatusUp {
		t.Errorf("Load = %+v", got)
	}
	if writtenAt.IsZero() {
		t.Error("written_at not set")
	}
}

func TestLoadRejectsSchemaMismatch(t *testing.T) {
	store := NewMemory("")
	c := NewClient(store, zaptest.NewLogger(t))
	ctx := context.Background()

	stale := []byte(`{"schema":"device_status/v0","written_at":"2024-01-01T00:00:00Z","data":[{"id":"fw-1"}]}`)
	if err := store.Set(ctx, model.KeyDeviceStatus, stale, time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, _, ok := Load[[]model.DeviceReport](ctx, c, model.KeyDeviceStatus); ok {
		t.Error("value with old schema was accepted")
	}

	if err := store.Set(ctx, model.KeyDeviceStatus, []byte("not json"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, _, ok := Load[[]model.DeviceReport](ctx, c, model.KeyDeviceStatus); ok {
		t.Error("undecodable value was accepted")
	}
}

func TestLoadTreatsStoreErrorAsAbsent(t *testing.T) {
	r, mr := newRedis(t)
	c := NewClient(r, zaptest.NewLogger(t))
	mr.Close()

	if _, _, ok := Load[[]model.UpstreamAlert](context.Background(), c, model.KeyAlerts); ok {
		t.Error("expected no data when the store is unreachable")
	}
}
