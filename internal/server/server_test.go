package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BadgerOps/easysave/internal/logsink"
	"github.com/BadgerOps/easysave/internal/store"
)

func newTestServer(t *testing.T, opts Options) (*Server, *store.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.New(":memory:", logger)
	if err != nil {
		t.Fatalf("store.New() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	srv := NewServer(st, opts, logger)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return srv, st
}

func postEntry(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/Logs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIngestLogEntry(t *testing.T) {
	srv, st := newTestServer(t, Options{})
	h := srv.Handler()

	body := `{"Name":"docs","Source":"/src/a.txt","Target":"/dst/a.txt","Size":12,
		"TransferTime":4,"EncryptionTime":-1,"Timestamp":"2026-03-04T10:00:00Z",
		"MachineIdentity":"host1","UserIdentity":"alice","RunID":"run-1"}`
	rec := postEntry(t, h, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /Logs status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var got logEntryJSON
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if got.ID == "" || got.Name != "docs" || got.EncryptionTime != -1 || got.RunID != "run-1" {
		t.Errorf("response = %+v", got)
	}

	n, err := st.CountLogEntries()
	if err != nil || n != 1 {
		t.Errorf("CountLogEntries() = %d, %v", n, err)
	}
}

func TestIngestLogEntryValidation(t *testing.T) {
	srv, st := newTestServer(t, Options{})
	h := srv.Handler()

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{"Name":`},
		{"array", `[1,2]`},
		{"missing name", `{"Source":"a","Target":"b"}`},
		{"numeric name", `{"Name":3,"Source":"a","Target":"b"}`},
		{"string size", `{"Name":"n","Source":"a","Target":"b","Size":"12"}`},
		{"negative size", `{"Name":"n","Source":"a","Target":"b","Size":-5}`},
		{"bad timestamp", `{"Name":"n","Source":"a","Target":"b","Timestamp":"yesterday"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postEntry(t, h, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
			}
		})
	}

	if n, _ := st.CountLogEntries(); n != 0 {
		t.Errorf("invalid entries stored: %d", n)
	}
}

func TestIngestLogEntryTooLarge(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	big := `{"Name":"n","Source":"` + strings.Repeat("a", MaxBodyBytes) + `","Target":"b"}`
	rec := postEntry(t, srv.Handler(), big)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestListLogs(t *testing.T) {
	srv, st := newTestServer(t, Options{})
	base := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	for i, name := range []string{"docs", "photos", "docs"} {
		e := logsink.Entry{Name: name, Source: "s", Target: "t", Timestamp: base.Add(time.Duration(i) * time.Second)}
		if _, err := st.InsertLogEntry(e, "10.0.0.1:1"); err != nil {
			t.Fatal(err)
		}
	}
	h := srv.Handler()

	tests := []struct {
		query string
		code  int
		count int
	}{
		{"", http.StatusOK, 3},
		{"?limit=2", http.StatusOK, 2},
		{"?name=docs", http.StatusOK, 2},
		{"?limit=0", http.StatusBadRequest, 0},
		{"?limit=abc", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/Logs"+tt.query, nil))
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d", rec.Code, tt.code)
			}
			if tt.code != http.StatusOK {
				return
			}
			var got []logEntryJSON
			if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.count {
				t.Errorf("got %d entries, want %d", len(got), tt.count)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"entries":0`) {
		t.Errorf("GET /healthz = %d %s", rec.Code, rec.Body.String())
	}
}

func TestRateLimitPerClient(t *testing.T) {
	srv, _ := newTestServer(t, Options{RequestsPerSecond: 0.001, Burst: 2})
	h := srv.Handler()

	do := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = ip + ":1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := do("10.0.0.1"); code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, code)
		}
	}
	if code := do("10.0.0.1"); code != http.StatusTooManyRequests {
		t.Errorf("over budget status = %d, want 429", code)
	}
	if code := do("10.0.0.2"); code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		remote string
		want   string
	}{
		{"remote addr", nil, "192.0.2.1:5000", "192.0.2.1"},
		{"forwarded for", map[string]string{"X-Forwarded-For": "198.51.100.7, 10.0.0.1"}, "10.0.0.1:1", "198.51.100.7"},
		{"real ip", map[string]string{"X-Real-IP": "203.0.113.9"}, "10.0.0.1:1", "203.0.113.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, CleanupInterval: time.Hour, MaxAge: time.Minute})
	defer rl.Stop()
	rl.get("a")
	rl.cleanup(time.Now().Add(2 * time.Minute))
	rl.mu.Lock()
	n := len(rl.limiters)
	rl.mu.Unlock()
	if n != 0 {
		t.Errorf("limiters after cleanup = %d, want 0", n)
	}
}

func TestRemoteSinkAgainstServer(t *testing.T) {
	srv, st := newTestServer(t, Options{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	sink, err := logsink.NewRemoteSink(ts.URL, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	e := logsink.Entry{Name: "docs", Source: "/a", Target: "/b", Size: 3, Timestamp: time.Now().UTC()}
	if err := sink.Post(context.Background(), e); err != nil {
		t.Fatalf("Post() failed: %v", err)
	}
	records, err := st.ListLogEntries("docs", 0)
	if err != nil || len(records) != 1 {
		t.Fatalf("stored records = %v, %v", records, err)
	}
	if !strings.Contains(records[0].RemoteAddr, "127.0.0.1") {
		t.Errorf("RemoteAddr = %q", records[0].RemoteAddr)
	}
}
