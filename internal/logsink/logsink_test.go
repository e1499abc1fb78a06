package logsink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleEntry(name string) Entry {
	return Entry{
		Name:           name,
		Source:         "/src/" + name,
		Target:         "/dst/" + name,
		Size:           42,
		TransferTime:   7,
		EncryptionTime: 3,
		Timestamp:      time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
	}
}

func TestParseTargetAndFormat(t *testing.T) {
	for in, want := range map[string]Target{"": TargetLocal, "Local": TargetLocal, "server": TargetServer, " BOTH ": TargetBoth} {
		got, err := ParseTarget(in)
		if err != nil || got != want {
			t.Errorf("ParseTarget(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseTarget("cloud"); err == nil {
		t.Error("ParseTarget(cloud) should fail")
	}
	for in, want := range map[string]Format{"": FormatJSON, "JSON": FormatJSON, "xml": FormatXML} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("yaml"); err == nil {
		t.Error("ParseFormat(yaml) should fail")
	}
}

func TestFileSinkFormats(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatXML} {
		t.Run(string(format), func(t *testing.T) {
			dir := t.TempDir()
			sink := NewFileSink(dir, format)
			sink.now = func() time.Time { return time.Date(2026, 3, 4, 12, 0, 0, 0, time.Local) }

			failed := sampleEntry("b")
			failed.Error = "io error"
			for _, e := range []Entry{sampleEntry("a"), failed} {
				if err := sink.Write(e); err != nil {
					t.Fatalf("Write() error: %v", err)
				}
			}

			path := filepath.Join(dir, "2026-03-04."+string(format))
			if sink.Path(sink.now()) != path {
				t.Errorf("Path() = %s, want %s", sink.Path(sink.now()), path)
			}
			got, err := ReadFile(path)
			if err != nil {
				t.Fatalf("ReadFile() error: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("read %d entries, want 2", len(got))
			}
			if got[0].Name != "a" || got[0].Size != 42 || got[0].TransferTime != 7 || got[0].EncryptionTime != 3 {
				t.Errorf("first entry = %+v", got[0])
			}
			if !got[0].Timestamp.Equal(sampleEntry("a").Timestamp) {
				t.Errorf("timestamp = %v", got[0].Timestamp)
			}
			if got[0].Failed() || !got[1].Failed() {
				t.Error("failure flag not preserved")
			}

			files, err := sink.Files()
			if err != nil || len(files) != 1 || files[0] != path {
				t.Errorf("Files() = %v, %v", files, err)
			}
		})
	}
}

func TestFileSinkMissingDirHasNoFiles(t *testing.T) {
	sink := NewFileSink(filepath.Join(t.TempDir(), "none"), FormatJSON)
	files, err := sink.Files()
	if err != nil || len(files) != 0 {
		t.Errorf("Files() = %v, %v", files, err)
	}
}

type ingest struct {
	mu      sync.Mutex
	entries []Entry
	status  int
}

func (i *ingest) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/Logs" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var e Entry
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		i.mu.Lock()
		i.entries = append(i.entries, e)
		status := i.status
		i.mu.Unlock()
		if status == 0 {
			status = http.StatusCreated
		}
		w.WriteHeader(status)
	}
}

func (i *ingest) setStatus(code int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.status = code
}

func (i *ingest) get(n int) Entry {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.entries[n]
}

func (i *ingest) count() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.entries)
}

func TestRemoteSinkPost(t *testing.T) {
	in := &ingest{}
	srv := httptest.NewServer(in.handler(t))
	defer srv.Close()

	sink, err := NewRemoteSink(srv.URL+"/", 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if sink.BaseURL() != srv.URL {
		t.Errorf("BaseURL() = %s, want trailing slash trimmed", sink.BaseURL())
	}
	if err := sink.Post(context.Background(), sampleEntry("a")); err != nil {
		t.Fatalf("Post() error: %v", err)
	}
	if in.count() != 1 || in.get(0).Name != "a" {
		t.Errorf("server received %d entries", in.count())
	}

	in.setStatus(http.StatusInternalServerError)
	err = sink.Post(context.Background(), sampleEntry("b"))
	var re *RemoteError
	if !errors.As(err, &re) || re.StatusCode != http.StatusInternalServerError {
		t.Errorf("Post() on 500 = %v, want *RemoteError with status", err)
	}
}

func TestRemoteSinkRejectsBadURL(t *testing.T) {
	if _, err := NewRemoteSink("ftp://example.com", time.Second); err == nil {
		t.Error("expected error for non-http URL")
	}
	sink, err := NewRemoteSink("", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	var re *RemoteError
	if err := sink.Post(context.Background(), sampleEntry("a")); !errors.As(err, &re) {
		t.Errorf("Post() without URL = %v, want *RemoteError", err)
	}
}

func TestDispatcherTargets(t *testing.T) {
	in := &ingest{}
	srv := httptest.NewServer(in.handler(t))
	defer srv.Close()

	dir := t.TempDir()
	local := NewFileSink(dir, FormatJSON)
	remote, err := NewRemoteSink(srv.URL, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	d := NewDispatcher(TargetLocal, local, remote, testLogger())

	localCount := func() int {
		files, _ := local.Files()
		n := 0
		for _, f := range files {
			recs, _ := ReadFile(f)
			n += len(recs)
		}
		return n
	}

	if err := d.Dispatch(context.Background(), sampleEntry("l")); err != nil {
		t.Fatal(err)
	}
	if localCount() != 1 || in.count() != 0 {
		t.Errorf("local target: local=%d remote=%d", localCount(), in.count())
	}

	d.SetTarget(TargetServer)
	if err := d.Dispatch(context.Background(), sampleEntry("s")); err != nil {
		t.Fatal(err)
	}
	if localCount() != 1 || in.count() != 1 {
		t.Errorf("server target: local=%d remote=%d", localCount(), in.count())
	}

	d.SetTarget(TargetBoth)
	if err := d.Dispatch(context.Background(), sampleEntry("b")); err != nil {
		t.Fatal(err)
	}
	if localCount() != 2 || in.count() != 2 {
		t.Errorf("both target: local=%d remote=%d", localCount(), in.count())
	}

	got := in.get(1)
	if got.MachineIdentity == "" || got.UserIdentity == "" {
		t.Errorf("identity not stamped: %+v", got)
	}
}

func TestDispatcherSwallowsRemoteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	local := NewFileSink(t.TempDir(), FormatJSON)
	remote, err := NewRemoteSink(srv.URL, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	d := NewDispatcher(TargetBoth, local, remote, testLogger())
	if err := d.Dispatch(context.Background(), sampleEntry("x")); err != nil {
		t.Fatalf("remote failure must not surface: %v", err)
	}
	if d.RemoteFailures() != 1 {
		t.Errorf("RemoteFailures() = %d, want 1", d.RemoteFailures())
	}
	files, _ := local.Files()
	if len(files) != 1 {
		t.Error("local write should still happen")
	}
}

func TestDispatcherLocalErrorSurfaces(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	d := NewDispatcher(TargetLocal, NewFileSink(filepath.Join(blocker, "logs"), FormatJSON), nil, testLogger())
	if err := d.Dispatch(context.Background(), sampleEntry("x")); err == nil {
		t.Error("expected error when log directory cannot be created")
	}
}
