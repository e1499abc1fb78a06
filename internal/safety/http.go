package safety

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

// ErrBodyTooLarge is returned when a body exceeds its read limit.
var ErrBodyTooLarge = errors.New("body too large")

// NewHTTPClient returns a client for posting log entries. Each stage of a
// request has its own deadline so a stalled server cannot hold a transfer
// worker past timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			TLSHandshakeTimeout:   5 * time.Second,
			ResponseHeaderTimeout: timeout,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConns:          16,
			MaxIdleConnsPerHost:   8,
		},
	}
}

// ReadAllWithLimit reads r to the end, failing with ErrBodyTooLarge once more
// than limit bytes arrive.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("invalid read limit: %d", limit)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}

// ValidateHTTPURL checks a log server base URL. Paths are appended to it,
// so a query, fragment or embedded credentials are rejected.
func ValidateHTTPURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	switch {
	case u.Scheme != "http" && u.Scheme != "https":
		return nil, fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	case u.Host == "":
		return nil, fmt.Errorf("URL host is required")
	case u.User != nil:
		return nil, fmt.Errorf("URL userinfo is not allowed")
	case u.RawQuery != "" || u.Fragment != "":
		return nil, fmt.Errorf("URL must not carry a query or fragment")
	}
	return u, nil
}
