// Package sources holds what the upstream adapters share: the not-configured
// sentinel and the resty client setup.
package sources

import (
	"crypto/tls"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// ErrNotConfigured is returned by adapters whose URL or credentials are
// missing. Jobs skip such sources instead of counting them as failures.
var ErrNotConfigured = errors.New("source not configured")

// HTTPConfig configures the client of one upstream API.
type HTTPConfig struct {
	BaseURL   string
	Timeout   time.Duration
	VerifySSL bool
	Retries   int
}

// NewHTTPClient returns a JSON client rooted at cfg.BaseURL.
func NewHTTPClient(cfg HTTPConfig) *resty.Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(500 * time.Millisecond)
	if !cfg.VerifySSL {
		rc.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}) //nolint:gosec
	}
	return rc
}

// Decode checks a resty result and unmarshals the body into out.
func Decode(what string, resp *resty.Response, err error, out interface{}) error {
	if err != nil {
		return errors.Wrapf(err, "%s request failed", what)
	}
	if resp.StatusCode() != http.StatusOK {
		body := string(resp.Body())
		if len(body) > 200 {
			body = body[:200]
		}
		return errors.Errorf("%s: httpcode=%d body=%s", what, resp.StatusCode(), body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return errors.Wrapf(err, "%s: decode response", what)
	}
	return nil
}
