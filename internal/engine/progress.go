package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// StatePersister stores the full set of tracked job states. Each call
// replaces what the previous call wrote.
type StatePersister interface {
	UpdateState(states []BackupJobState) error
}

// trackedJob holds one live BackupJobState.
//
// mu guards state. emitMu serializes publication so subscribers and the
// persister see a job's updates in the order they were applied.
type trackedJob struct {
	emitMu sync.Mutex
	mu     sync.Mutex
	state  BackupJobState
}

// StateReporter owns the live BackupJobState instances of a run, turns
// mutations into immutable snapshots for subscribers and persists the whole
// snapshot set after every change.
type StateReporter struct {
	mu    sync.RWMutex
	jobs  map[string]*trackedJob
	order []string

	persistMu sync.Mutex
	persister StatePersister

	subMu       sync.RWMutex
	subscribers []func(BackupJobState)

	async  sync.WaitGroup
	logger *slog.Logger
}

// NewStateReporter creates a reporter. persister may be nil.
func NewStateReporter(persister StatePersister, logger *slog.Logger) *StateReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateReporter{
		jobs:      make(map[string]*trackedJob),
		persister: persister,
		logger:    logger,
	}
}

// Subscribe registers fn for ProgressChanged notifications. fn runs on the
// goroutine that produced the update and must return quickly.
func (r *StateReporter) Subscribe(fn func(BackupJobState)) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

// Track starts tracking job for a new run, replacing any state left by a
// previous run of the same job.
func (r *StateReporter) Track(id int, job BackupJob, runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.Name]; !ok {
		r.order = append(r.order, job.Name)
	}
	r.jobs[job.Name] = &trackedJob{state: BackupJobState{
		ID:                  id,
		RunID:               runID,
		Name:                job.Name,
		SourcePath:          job.SourceDir,
		TargetPath:          job.TargetDir,
		Type:                job.Type,
		State:               StateInactive,
		LastActionTimestamp: time.Now(),
	}}
}

// Snapshot returns a copy of the named job's state.
func (r *StateReporter) Snapshot(name string) (BackupJobState, bool) {
	tj := r.get(name)
	if tj == nil {
		return BackupJobState{}, false
	}
	tj.mu.Lock()
	defer tj.mu.Unlock()
	return snapshotOf(tj.state), true
}

// Snapshots returns copies of every tracked state in tracking order.
func (r *StateReporter) Snapshots() []BackupJobState {
	r.mu.RLock()
	jobs := make([]*trackedJob, 0, len(r.order))
	for _, name := range r.order {
		jobs = append(jobs, r.jobs[name])
	}
	r.mu.RUnlock()

	out := make([]BackupJobState, 0, len(jobs))
	for _, tj := range jobs {
		tj.mu.Lock()
		out = append(out, snapshotOf(tj.state))
		tj.mu.Unlock()
	}
	return out
}

// Flush waits for asynchronous publications to finish.
func (r *StateReporter) Flush() {
	r.async.Wait()
}

func (r *StateReporter) get(name string) *trackedJob {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.jobs[name]
}

func snapshotOf(s BackupJobState) BackupJobState {
	s.ProgressPercentage = s.Progress()
	if s.State == StateCompleted {
		s.ProgressPercentage = 100
	}
	return s
}

// mutate applies fn to the live state without publishing.
func (r *StateReporter) mutate(name string, fn func(*BackupJobState) error) error {
	tj := r.get(name)
	if tj == nil {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	tj.mu.Lock()
	defer tj.mu.Unlock()
	if err := fn(&tj.state); err != nil {
		return err
	}
	tj.state.LastActionTimestamp = time.Now()
	return nil
}

// transition moves a job through the state machine without publishing.
func (r *StateReporter) transition(name string, to JobState) error {
	return r.mutate(name, func(s *BackupJobState) error {
		if err := checkTransition(s.State, to); err != nil {
			return err
		}
		s.State = to
		return nil
	})
}

func (r *StateReporter) state(name string) JobState {
	if s, ok := r.Snapshot(name); ok {
		return s.State
	}
	return ""
}

// publish notifies subscribers with the job's current state and persists
// the full snapshot set.
func (r *StateReporter) publish(name string) {
	tj := r.get(name)
	if tj == nil {
		return
	}
	tj.emitMu.Lock()
	defer tj.emitMu.Unlock()

	tj.mu.Lock()
	snap := snapshotOf(tj.state)
	tj.mu.Unlock()

	r.subMu.RLock()
	subs := r.subscribers
	r.subMu.RUnlock()
	for _, fn := range subs {
		fn(snap)
	}

	r.persist()
}

// publishAsync publishes from a new goroutine, for callers that may be
// running inside a subscriber.
func (r *StateReporter) publishAsync(name string) {
	r.async.Add(1)
	go func() {
		defer r.async.Done()
		r.publish(name)
	}()
}

func (r *StateReporter) persist() {
	if r.persister == nil {
		return
	}
	r.persistMu.Lock()
	defer r.persistMu.Unlock()
	if err := r.persister.UpdateState(r.Snapshots()); err != nil {
		r.logger.Warn("failed to persist job states", "error", err)
	}
}

// begin records that task was handed to a worker.
func (r *StateReporter) begin(task FileTask) {
	err := r.mutate(task.JobName, func(s *BackupJobState) error {
		s.CurrentSourceFile = task.SourcePath
		s.CurrentTargetFile = task.DestinationPath
		return nil
	})
	if err != nil {
		r.logger.Warn("failed to record dispatch", "job", task.JobName, "error", err)
		return
	}
	r.publish(task.JobName)
}

// finish records the outcome of task, successful or not.
func (r *StateReporter) finish(task FileTask, failed bool) {
	err := r.mutate(task.JobName, func(s *BackupJobState) error {
		if s.RemainingFiles > 0 {
			s.RemainingFiles--
		}
		s.RemainingSize -= task.FileSize
		if s.RemainingSize < 0 {
			s.RemainingSize = 0
		}
		if failed {
			s.FailedFiles++
		}
		s.CurrentSourceFile = task.SourcePath
		s.CurrentTargetFile = task.DestinationPath
		return nil
	})
	if err != nil {
		r.logger.Warn("failed to record completion", "job", task.JobName, "error", err)
		return
	}
	r.publish(task.JobName)
}
