package logsink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Dispatcher routes entries according to the configured Target.
//
// Local writes are returned to the caller. Remote failures are logged and
// counted, never returned.
type Dispatcher struct {
	mu     sync.RWMutex
	target Target

	local  *FileSink
	remote *RemoteSink

	machine string
	user    string

	remoteFailures atomic.Int64
	logger         *slog.Logger
}

// NewDispatcher creates a dispatcher. Either sink may be nil when the target
// never uses it.
func NewDispatcher(target Target, local *FileSink, remote *RemoteSink, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if target == "" {
		target = TargetLocal
	}
	machine, user := Identity()
	return &Dispatcher{
		target:  target,
		local:   local,
		remote:  remote,
		machine: machine,
		user:    user,
		logger:  logger,
	}
}

// SetTarget changes routing for subsequent entries.
func (d *Dispatcher) SetTarget(t Target) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.target = t
}

// Target returns the current routing.
func (d *Dispatcher) Target() Target {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.target
}

// RemoteFailures returns how many remote posts have failed.
func (d *Dispatcher) RemoteFailures() int64 {
	return d.remoteFailures.Load()
}

// Dispatch stamps e with the machine and user identity and routes it.
func (d *Dispatcher) Dispatch(ctx context.Context, e Entry) error {
	if e.MachineIdentity == "" {
		e.MachineIdentity = d.machine
	}
	if e.UserIdentity == "" {
		e.UserIdentity = d.user
	}

	switch d.Target() {
	case TargetServer:
		d.sendRemote(ctx, e)
		return nil
	case TargetBoth:
		err := d.writeLocal(e)
		d.sendRemote(ctx, e)
		return err
	default:
		return d.writeLocal(e)
	}
}

func (d *Dispatcher) writeLocal(e Entry) error {
	if d.local == nil {
		return fmt.Errorf("local log sink not configured")
	}
	return d.local.Write(e)
}

func (d *Dispatcher) sendRemote(ctx context.Context, e Entry) {
	if d.remote == nil {
		d.remoteFailures.Add(1)
		d.logger.Warn("remote log sink not configured, entry dropped", "job", e.Name, "source", e.Source)
		return
	}
	if err := d.remote.Post(ctx, e); err != nil {
		d.remoteFailures.Add(1)
		d.logger.Warn("failed to send log entry to server", "job", e.Name, "source", e.Source, "error", err)
	}
}
