package speedtest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/watchtower-noc/watchtower/internal/config"
	"github.com/watchtower-noc/watchtower/internal/sources"
)

func TestLatestResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/results/latest" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"data":{
			"id":42,
			"ping":"9.876",
			"download_bits":487654321,
			"upload_bits":"123456789",
			"healthy":true,
			"created_at":"2024-05-01T11:00:00Z",
			"data":{
				"isp":"Example ISP",
				"packetLoss":0,
				"ping":{"jitter":1.234},
				"server":{"id":12345,"name":"Example Server","location":"New York, NY"},
				"result":{"url":"https://www.speedtest.net/result/c/abc"}
			}
		}}`))
	}))
	defer srv.Close()

	c := New(config.SpeedTestConfig{URL: srv.URL, APIToken: "tok", Timeout: time.Second}, zaptest.NewLogger(t))
	res, err := c.LatestResult(context.Background())
	if err != nil {
		t.Fatalf("LatestResult: %v", err)
	}
	if res.DownloadMbps != 487.65 || res.UploadMbps != 123.46 {
		t.Errorf("rates = %v / %v", res.DownloadMbps, res.UploadMbps)
	}
	if res.PingMs != 9.88 || res.JitterMs != 1.23 {
		t.Errorf("ping = %v jitter = %v", res.PingMs, res.JitterMs)
	}
	if res.ServerID != 12345 || res.ServerName != "Example Server" || res.ISP != "Example ISP" {
		t.Errorf("server = %+v", res)
	}
	if res.Indicator != "normal" {
		t.Errorf("indicator = %q", res.Indicator)
	}
	if !res.Timestamp.Equal(time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)) {
		t.Errorf("timestamp = %v", res.Timestamp)
	}
}

func TestParseResultUnhealthy(t *testing.T) {
	res := ParseResult(map[string]interface{}{"healthy": false, "download_bits": 0})
	if res.Indicator != "degraded" {
		t.Errorf("indicator = %q", res.Indicator)
	}
	if res.Timestamp.IsZero() {
		t.Error("missing created_at should fall back to now")
	}
}

func TestNotConfigured(t *testing.T) {
	c := New(config.SpeedTestConfig{}, zaptest.NewLogger(t))
	if _, err := c.LatestResult(context.Background()); !errors.Is(err, sources.ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}
