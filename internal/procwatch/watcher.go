// Package procwatch polls the host process list and signals when a watched
// process starts running.
package procwatch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	ps "github.com/mitchellh/go-ps"
)

// DefaultPollInterval is used when NewWatcher gets a non-positive interval.
const DefaultPollInterval = 2 * time.Second

// commLen is how many bytes of an executable name Linux keeps in
// /proc/<pid>/stat, which is where HostLister gets names from.
const commLen = 15

// truncatedNames reports whether listed names may be cut to commLen.
var truncatedNames = runtime.GOOS == "linux"

// Lister returns the executable names of running processes.
type Lister interface {
	Processes() ([]string, error)
}

// HostLister lists processes on the local host.
type HostLister struct{}

// Processes implements Lister.
func (HostLister) Processes() ([]string, error) {
	procs, err := ps.Processes()
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}
	names := make([]string, 0, len(procs))
	for _, p := range procs {
		names = append(names, p.Executable())
	}
	return names, nil
}

// Normalize reduces a process name to its lower-cased base name without
// extension, so "C:\Tools\Calc.EXE" and "calc" match.
func Normalize(name string) string {
	name = baseName(name)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func baseName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	return strings.ToLower(name)
}

// runningSet indexes listed process names for isRunning.
type runningSet struct {
	names map[string]bool
	cut   []string
}

func newRunningSet(names []string) runningSet {
	rs := runningSet{names: make(map[string]bool, len(names))}
	for _, name := range names {
		rs.names[Normalize(name)] = true
		if base := baseName(name); truncatedNames && len(base) == commLen {
			rs.cut = append(rs.cut, base)
		}
	}
	return rs
}

// isRunning matches a watched name against the listing. A listed name of
// exactly commLen bytes also matches any longer watched name it starts.
func (rs runningSet) isRunning(normalized, added string) bool {
	if rs.names[normalized] {
		return true
	}
	full := baseName(added)
	for _, cut := range rs.cut {
		if len(full) > commLen && strings.HasPrefix(full, cut) {
			return true
		}
	}
	return false
}

// Watcher polls a Lister and fires subscribers once each time a watched
// process goes from absent to present.
type Watcher struct {
	lister   Lister
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	watched map[string]string // normalized -> name as added
	present map[string]bool

	subMu sync.RWMutex
	subs  []func(process string)
}

// NewWatcher creates a watcher. A nil lister uses HostLister.
func NewWatcher(lister Lister, interval time.Duration, logger *slog.Logger) *Watcher {
	if lister == nil {
		lister = HostLister{}
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		lister:   lister,
		interval: interval,
		logger:   logger,
		watched:  make(map[string]string),
		present:  make(map[string]bool),
	}
}

// Add starts watching name from the next poll.
func (w *Watcher) Add(name string) {
	n := Normalize(name)
	if n == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.watched[n]; !ok {
		w.watched[n] = strings.TrimSpace(name)
	}
}

// Remove stops watching name.
func (w *Watcher) Remove(name string) {
	n := Normalize(name)
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.watched, n)
	delete(w.present, n)
}

// List returns the watched names as added, sorted.
func (w *Watcher) List() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.watched))
	for _, name := range w.watched {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Subscribe registers fn for interruption signals.
func (w *Watcher) Subscribe(fn func(process string)) {
	w.subMu.Lock()
	defer w.subMu.Unlock()
	w.subs = append(w.subs, fn)
}

// Run polls until ctx is cancelled. The first poll happens immediately.
// Presence tracking restarts with every call.
func (w *Watcher) Run(ctx context.Context) {
	w.mu.Lock()
	w.present = make(map[string]bool)
	w.mu.Unlock()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		w.Poll()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Poll lists processes once and fires for every watched process that was
// not present on the previous poll. It returns the names that fired.
func (w *Watcher) Poll() []string {
	names, err := w.lister.Processes()
	if err != nil {
		w.logger.Warn("process poll failed", "error", err)
		return nil
	}
	running := newRunningSet(names)

	var fired []string
	w.mu.Lock()
	for n, name := range w.watched {
		up := running.isRunning(n, name)
		if up && !w.present[n] {
			fired = append(fired, name)
		}
		w.present[n] = up
	}
	w.mu.Unlock()
	sort.Strings(fired)

	if len(fired) == 0 {
		return nil
	}
	w.subMu.RLock()
	subs := w.subs
	w.subMu.RUnlock()
	for _, name := range fired {
		w.logger.Info("watched process detected", "process", name)
		for _, fn := range subs {
			fn(name)
		}
	}
	return fired
}
