package httpclient

import (
	"net/http"
	"time"
)

const (
	// DefaultTimeout bounds every device-facing HTTP call (SOAP posts,
	// AirPlay requests, description fetches).
	DefaultTimeout         = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
	MaxIdleConnsPerHost    = 4
)

var defaultClient *http.Client

func init() {
	defaultClient = &http.Client{
		Timeout: DefaultTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        32,
			MaxIdleConnsPerHost: MaxIdleConnsPerHost,
			IdleConnTimeout:     DefaultIdleConnTimeout,
		},
	}
}

// Default returns the shared tuned HTTP client used for DLNA SOAP calls,
// AirPlay requests and SSDP description fetches. Devices on the LAN keep
// connections alive poorly, hence the small per-host idle pool.
func Default() *http.Client {
	return defaultClient
}

// WithTimeout returns a client with the given timeout sharing the default
// transport configuration.
func WithTimeout(timeout time.Duration) *http.Client {
	t, ok := defaultClient.Transport.(*http.Transport)
	if !ok {
		return &http.Client{Timeout: timeout}
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: t.Clone(),
	}
}
