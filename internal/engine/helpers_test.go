package engine

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/BadgerOps/easysave/internal/logsink"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sliceJobs resolves 1-based indices against a fixed list.
type sliceJobs []BackupJob

func (s sliceJobs) GetJob(index int) (BackupJob, bool) {
	if index < 1 || index > len(s) {
		return BackupJob{}, false
	}
	return s[index-1], true
}

// copyGate is a plain copying Gate with hooks for blocking and failing.
type copyGate struct {
	block   chan struct{}
	entered chan FileTask
	delay   time.Duration
	fail    map[string]error
}

func newCopyGate() *copyGate {
	return &copyGate{entered: make(chan FileTask, 256), fail: map[string]error{}}
}

func (g *copyGate) ShouldEncrypt(string) bool { return false }

func (g *copyGate) TransferFile(_ context.Context, task FileTask) (TransferResult, error) {
	g.entered <- task
	if g.block != nil {
		<-g.block
	}
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	if err := g.fail[filepath.Base(task.SourcePath)]; err != nil {
		return TransferResult{}, err
	}

	start := time.Now()
	data, err := os.ReadFile(task.SourcePath)
	if err != nil {
		return TransferResult{}, err
	}
	if err := os.MkdirAll(filepath.Dir(task.DestinationPath), 0o755); err != nil {
		return TransferResult{}, err
	}
	if err := os.WriteFile(task.DestinationPath, data, 0o644); err != nil {
		return TransferResult{}, err
	}
	info, err := os.Stat(task.SourcePath)
	if err != nil {
		return TransferResult{}, err
	}
	if err := os.Chtimes(task.DestinationPath, info.ModTime(), info.ModTime()); err != nil {
		return TransferResult{}, err
	}
	return TransferResult{Bytes: int64(len(data)), TransferTime: time.Since(start)}, nil
}

// memLogs records dispatched entries.
type memLogs struct {
	mu      sync.Mutex
	entries []logsink.Entry
}

func (m *memLogs) Dispatch(_ context.Context, e logsink.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memLogs) all() []logsink.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]logsink.Entry(nil), m.entries...)
}

// memPersister keeps the last snapshot set written.
type memPersister struct {
	mu     sync.Mutex
	last   []BackupJobState
	writes int
}

func (p *memPersister) UpdateState(states []BackupJobState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = states
	p.writes++
	return nil
}

func (p *memPersister) snapshot() ([]BackupJobState, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.writes
}

// sourceRecorder collects CurrentSourceFile values seen by a subscriber.
type sourceRecorder struct {
	mu     sync.Mutex
	job    string
	values []string
}

func (r *sourceRecorder) observe(s BackupJobState) {
	if r.job != "" && s.Name != r.job {
		return
	}
	if s.CurrentSourceFile == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.values); n > 0 && r.values[n-1] == s.CurrentSourceFile {
		return
	}
	r.values = append(r.values, s.CurrentSourceFile)
}

func (r *sourceRecorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.values...)
}

// fakeWatcher lets tests raise interruptions directly.
type fakeWatcher struct {
	mu  sync.Mutex
	fns []func(string)
}

func (w *fakeWatcher) Subscribe(fn func(string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fns = append(w.fns, fn)
}

func (w *fakeWatcher) Run(ctx context.Context) { <-ctx.Done() }

func (w *fakeWatcher) fire(name string) {
	w.mu.Lock()
	fns := append([]func(string){}, w.fns...)
	w.mu.Unlock()
	for _, fn := range fns {
		fn(name)
	}
}

// writeTree creates files (relative path -> size in bytes) under dir.
func writeTree(t *testing.T, dir string, files map[string]int) {
	t.Helper()
	for rel, size := range files {
		p := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		data := make([]byte, size)
		for i := range data {
			data[i] = byte('a' + i%26)
		}
		if err := os.WriteFile(p, data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitErr(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("ExecuteBackup did not return")
		return nil
	}
}
