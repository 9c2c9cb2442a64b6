// Package index looks up the latest published version of a package on a
// NuGet v2 style package index such as the Chocolatey community repository.
//
// Two protocols are supported: the JSON package-detail endpoint (ModeJSON)
// and the OData feed query (ModeFeed). Both share one Client and differ only
// in the request URL and the body extractor.
package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the Chocolatey community package index.
	DefaultBaseURL = "https://community.chocolatey.org"
	// DefaultTimeout bounds one request.
	DefaultTimeout = 30 * time.Second
	// DefaultUserAgent is sent when Config.UserAgent is empty.
	DefaultUserAgent = "toolversions"

	maxResponseBytes = 8 << 20
)

// Doer sends HTTP requests. *http.Client satisfies it; tests substitute
// recorded responses.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a Client.
type Config struct {
	BaseURL   string
	Mode      Mode
	Timeout   time.Duration
	UserAgent string
	// HTTPClient overrides the default client. Timeout is ignored when set.
	HTTPClient Doer
	Logger     *slog.Logger
}

// Client fetches package versions from the index, one request per call.
type Client struct {
	baseURL   string
	protocol  Protocol
	userAgent string
	http      Doer
	logger    *slog.Logger
}

// NewClient validates cfg and creates a client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("index: invalid base URL %q: %w", baseURL, err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("index: base URL %q must be an absolute http(s) URL", baseURL)
	}

	protocol, err := ProtocolFor(cfg.Mode)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	doer := cfg.HTTPClient
	if doer == nil {
		doer = newHTTPClient(timeout)
	}

	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		protocol:  protocol,
		userAgent: userAgent,
		http:      doer,
		logger:    logger,
	}, nil
}

// Mode returns the protocol mode the client queries with.
func (c *Client) Mode() Mode {
	return c.protocol.Mode()
}

// LatestVersion asks the index for the current version of the named package.
// Every failure is returned as *FetchError.
func (c *Client) LatestVersion(ctx context.Context, name string) (string, error) {
	if c == nil {
		return "", errors.New("index: client is nil")
	}

	endpoint := c.protocol.RequestURL(c.baseURL, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", newFetchError(name, ErrorCodeInvalidRequest, err)
	}
	req.Header.Set("Accept", c.protocol.Accept())
	req.Header.Set("User-Agent", c.userAgent)

	c.logger.Debug("querying package index", "tool", name, "url", endpoint)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", newFetchError(name, transportErrorCode(err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return "", &FetchError{Tool: name, Code: ErrorCodeUpstreamStatus, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return "", newFetchError(name, transportErrorCode(err), fmt.Errorf("read response: %w", err))
	}
	if len(body) > maxResponseBytes {
		return "", newFetchError(name, ErrorCodeDecodeFailure, fmt.Errorf("response exceeds %d bytes", maxResponseBytes))
	}

	extractor := extractorForContentType(resp.Header.Get("Content-Type"))
	if extractor == nil {
		extractor = c.protocol
	}
	version, err := extractor.ExtractVersion(body)
	if errors.Is(err, ErrVersionNotFound) {
		return "", newFetchError(name, ErrorCodeVersionNotFound, err)
	}
	if err != nil {
		return "", newFetchError(name, ErrorCodeDecodeFailure, err)
	}
	return version, nil
}

func transportErrorCode(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCodeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorCodeTimeout
	}
	return ErrorCodeTransportFailure
}
