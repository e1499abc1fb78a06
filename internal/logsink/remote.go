package logsink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BadgerOps/easysave/internal/safety"
)

// RemoteError reports a failed POST to the ingestion server.
type RemoteError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("posting log entry to %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("posting log entry to %s: unexpected status %d", e.URL, e.StatusCode)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// RemoteSink posts entries as JSON to <base>/Logs.
type RemoteSink struct {
	mu      sync.RWMutex
	baseURL string
	client  *http.Client
}

// NewRemoteSink creates a sink for baseURL. An empty baseURL leaves the sink
// unconfigured until SetBaseURL is called.
func NewRemoteSink(baseURL string, timeout time.Duration) (*RemoteSink, error) {
	s := &RemoteSink{client: safety.NewHTTPClient(timeout)}
	if err := s.SetBaseURL(baseURL); err != nil {
		return nil, err
	}
	return s, nil
}

// SetBaseURL replaces the server address.
func (s *RemoteSink) SetBaseURL(raw string) error {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if raw != "" {
		if _, err := safety.ValidateHTTPURL(raw); err != nil {
			return fmt.Errorf("invalid log server URL: %w", err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseURL = raw
	return nil
}

// BaseURL returns the configured server address.
func (s *RemoteSink) BaseURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseURL
}

// Post sends e. Any non-2xx status or transport failure is a *RemoteError.
func (s *RemoteSink) Post(ctx context.Context, e Entry) error {
	base := s.BaseURL()
	if base == "" {
		return &RemoteError{Err: fmt.Errorf("log server URL not configured")}
	}
	url := base + "/Logs"

	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding log entry: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &RemoteError{URL: url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return &RemoteError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RemoteError{URL: url, StatusCode: resp.StatusCode}
	}
	return nil
}
