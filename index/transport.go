package index

import (
	"net"
	"net/http"
	"time"
)

// newHTTPClient returns the client used when Config.HTTPClient is nil. A run
// talks to one index host sequentially, so a single idle connection is kept.
func newHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         dialer.DialContext,
			ForceAttemptHTTP2:   true,
			MaxIdleConnsPerHost: 1,
			IdleConnTimeout:     timeout,
			TLSHandshakeTimeout: timeout,
		},
	}
}
