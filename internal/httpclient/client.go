// Package httpclient builds the HTTP client used for model provider calls:
// pooled connections, a User-Agent and an observer for logging.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

const (
	// DefaultTimeout bounds a whole request, body included.
	DefaultTimeout = 60 * time.Second

	defaultMaxIdleConnsPerHost = 16
	defaultIdleConnTimeout     = 90 * time.Second
	defaultTLSHandshakeTimeout = 10 * time.Second
	defaultDialTimeout         = 30 * time.Second
	defaultUserAgent           = "entityindex"
)

// Observer is called once per round trip. resp is nil when err is set.
type Observer func(req *http.Request, resp *http.Response, err error, elapsed time.Duration)

// Config configures New. Zero values use the defaults.
type Config struct {
	Timeout             time.Duration
	UserAgent           string
	MaxIdleConnsPerHost int
	Observer            Observer

	// Transport replaces the pooled transport, used by tests.
	Transport http.RoundTripper
}

// New returns an *http.Client suitable for handing to SDK clients.
func New(cfg Config) *http.Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = defaultMaxIdleConnsPerHost
	}

	base := cfg.Transport
	if base == nil {
		base = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: 30 * time.Second}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
			IdleConnTimeout:       defaultIdleConnTimeout,
			TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
			ExpectContinueTimeout: time.Second,
		}
	}

	return &http.Client{
		Timeout: cfg.Timeout,
		Transport: &transport{
			base:      base,
			userAgent: cfg.UserAgent,
			observe:   cfg.Observer,
		},
	}
}

type transport struct {
	base      http.RoundTripper
	userAgent string
	observe   Observer
}

// RoundTrip sets the User-Agent on a copy of req and reports the outcome.
func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	if t.observe != nil {
		t.observe(req, resp, err, time.Since(start))
	}
	return resp, err
}
