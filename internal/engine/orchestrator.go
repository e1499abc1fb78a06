package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BadgerOps/easysave/internal/logsink"
	"github.com/BadgerOps/easysave/internal/safety"
)

// ErrNotRunning is returned by control calls when no run is in progress.
var ErrNotRunning = errors.New("no backup run in progress")

// JobSource resolves 1-based job indices to definitions.
type JobSource interface {
	GetJob(index int) (BackupJob, bool)
}

// TransferResult describes one copied file.
type TransferResult struct {
	Bytes          int64
	TransferTime   time.Duration
	EncryptionTime time.Duration
	Encrypted      bool
}

// Gate copies files, transforming the ones selected for encryption.
type Gate interface {
	ShouldEncrypt(path string) bool
	TransferFile(ctx context.Context, task FileTask) (TransferResult, error)
}

// LogDispatcher receives one entry per finished transfer.
type LogDispatcher interface {
	Dispatch(ctx context.Context, e logsink.Entry) error
}

// Watcher raises interruption signals for watched processes while Run is
// active.
type Watcher interface {
	Subscribe(fn func(process string))
	Run(ctx context.Context)
}

// Options tunes scheduling.
type Options struct {
	// MaxSimultaneousJobs bounds both admitted jobs and small-lane transfers.
	MaxSimultaneousJobs int
	// LargeFileThreshold in bytes routes files to the single large lane.
	LargeFileThreshold int64
	PriorityExtensions []string

	// OnLaneEnter and OnLaneExit bracket every transfer. Optional.
	OnLaneEnter func(lane Lane, task FileTask)
	OnLaneExit  func(lane Lane, task FileTask)
}

const (
	DefaultMaxSimultaneousJobs = 3
	DefaultLargeFileThreshold  = 10 * 1024 * 1024
)

// Orchestrator runs backup jobs across bounded lanes and exposes global and
// per-job pause, resume and stop.
type Orchestrator struct {
	jobs     JobSource
	reporter *StateReporter
	gate     Gate
	logs     LogDispatcher
	watcher  Watcher
	opts     Options
	logger   *slog.Logger

	// execMu serializes ExecuteBackup calls.
	execMu sync.Mutex

	// ctrlMu guards the fields below and orders state transitions.
	ctrlMu       sync.Mutex
	sched        *scheduler
	runs         map[string]*jobRun
	globalPaused bool

	subMu         sync.RWMutex
	interruptSubs []func(process string)
}

// NewOrchestrator creates an orchestrator. logs may be nil.
func NewOrchestrator(jobs JobSource, reporter *StateReporter, gate Gate, logs LogDispatcher, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if reporter == nil {
		reporter = NewStateReporter(nil, logger)
	}
	if opts.MaxSimultaneousJobs <= 0 {
		opts.MaxSimultaneousJobs = DefaultMaxSimultaneousJobs
	}
	if opts.LargeFileThreshold <= 0 {
		opts.LargeFileThreshold = DefaultLargeFileThreshold
	}
	return &Orchestrator{
		jobs:     jobs,
		reporter: reporter,
		gate:     gate,
		logs:     logs,
		opts:     opts,
		logger:   logger,
	}
}

// SetWatcher installs the process watcher consulted during runs.
func (o *Orchestrator) SetWatcher(w Watcher) {
	o.watcher = w
	w.Subscribe(o.interrupt)
}

// Reporter returns the state reporter for snapshots.
func (o *Orchestrator) Reporter() *StateReporter {
	return o.reporter
}

// OnProgress registers a ProgressChanged subscriber.
func (o *Orchestrator) OnProgress(fn func(BackupJobState)) {
	o.reporter.Subscribe(fn)
}

// OnInterruption registers a ProcessInterruptionDetected subscriber.
func (o *Orchestrator) OnInterruption(fn func(process string)) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	o.interruptSubs = append(o.interruptSubs, fn)
}

// ExecuteBackup runs the jobs at the given 1-based indices and blocks until
// every scheduled job is completed, stopped or failed. The returned error
// joins the reasons jobs could not start; per-file failures only show up in
// progress and log data. Cancelling ctx stops all jobs after their in-flight
// files.
func (o *Orchestrator) ExecuteBackup(ctx context.Context, indices []int) error {
	o.execMu.Lock()
	defer o.execMu.Unlock()

	runID := uuid.NewString()
	var (
		errs []error
		runs []*jobRun
	)
	byName := make(map[string]*jobRun)
	for _, idx := range indices {
		job, ok := o.jobs.GetJob(idx)
		if !ok {
			errs = append(errs, &Error{Kind: KindConfiguration, Err: fmt.Errorf("job index %d does not exist", idx)})
			continue
		}
		if _, dup := byName[job.Name]; dup {
			o.logger.Debug("job selected more than once", "job", job.Name, "index", idx)
			continue
		}
		run := newJobRun(idx, job)
		runs = append(runs, run)
		byName[job.Name] = run
		o.reporter.Track(idx, job, runID)
	}

	sched := newScheduler()
	o.ctrlMu.Lock()
	o.sched = sched
	o.runs = byName
	o.globalPaused = false
	o.ctrlMu.Unlock()

	o.logger.Info("starting backup run", "run_id", runID, "jobs", len(runs), "max_jobs", o.opts.MaxSimultaneousJobs)
	stopOnCancel := context.AfterFunc(ctx, func() {
		o.logger.Info("run cancelled, stopping jobs", "run_id", runID)
		_ = o.StopAll()
	})
	defer stopOnCancel()

	// Transfers run to completion even when ctx is cancelled.
	workCtx := context.WithoutCancel(ctx)

	var workers sync.WaitGroup
	for i := 0; i < o.opts.MaxSimultaneousJobs; i++ {
		workers.Add(1)
		go o.worker(workCtx, sched, LaneSmall, runID, &workers)
	}
	workers.Add(1)
	go o.worker(workCtx, sched, LaneLarge, runID, &workers)

	watchCtx, cancelWatch := context.WithCancel(workCtx)
	var watching sync.WaitGroup
	if o.watcher != nil {
		watching.Add(1)
		go func() {
			defer watching.Done()
			o.watcher.Run(watchCtx)
		}()
	}

	results := make([]error, len(runs))
	slots := make(chan struct{}, o.opts.MaxSimultaneousJobs)
	// The first batch is admitted together so a fast job cannot start its
	// normal files before a slower one has listed its priority files.
	initial := min(len(runs), o.opts.MaxSimultaneousJobs)
	for _, run := range runs[:initial] {
		sched.admit(run)
	}
	var jobs sync.WaitGroup
	for i, run := range runs {
		slots <- struct{}{}
		sched.admit(run)
		jobs.Add(1)
		go func(i int, run *jobRun) {
			defer func() {
				<-slots
				jobs.Done()
			}()
			results[i] = o.runJob(sched, run)
		}(i, run)
	}
	jobs.Wait()

	cancelWatch()
	watching.Wait()
	sched.close()
	workers.Wait()

	// Control calls fail with ErrNotRunning from here on, so nothing can
	// publish after Flush returns.
	o.ctrlMu.Lock()
	o.sched = nil
	o.runs = nil
	o.globalPaused = false
	o.ctrlMu.Unlock()
	o.reporter.Flush()

	for _, err := range results {
		if err != nil {
			errs = append(errs, err)
		}
	}
	o.logger.Info("backup run finished", "run_id", runID, "errors", len(errs))
	return errors.Join(errs...)
}

// runJob validates, enumerates and schedules one job, then waits for it.
func (o *Orchestrator) runJob(sched *scheduler, run *jobRun) error {
	job := run.job
	defer sched.enumerated(run)
	if sched.isStopped(run) {
		return nil
	}

	if err := prepareJob(job); err != nil {
		return o.failJob(job, err)
	}
	enum := Enumerator{PriorityExtensions: o.opts.PriorityExtensions, Logger: o.logger.With("job", job.Name)}
	if o.gate != nil {
		enum.Encrypted = o.gate.ShouldEncrypt
	}
	tasks, totalFiles, totalSize, err := enum.Enumerate(job)
	if err != nil {
		return o.failJob(job, err)
	}

	_ = o.reporter.mutate(job.Name, func(s *BackupJobState) error {
		s.TotalFiles = totalFiles
		s.TotalSize = totalSize
		s.RemainingFiles = totalFiles
		s.RemainingSize = totalSize
		return nil
	})

	o.ctrlMu.Lock()
	if sched.isStopped(run) {
		o.ctrlMu.Unlock()
		return nil
	}
	if err := o.reporter.transition(job.Name, StateActive); err != nil {
		o.ctrlMu.Unlock()
		return o.failJob(job, err)
	}
	if o.globalPaused {
		_ = o.reporter.transition(job.Name, StatePaused)
	}
	sched.submit(run, tasks, o.opts.LargeFileThreshold)
	o.ctrlMu.Unlock()
	o.reporter.publish(job.Name)

	o.logger.Info("job started", "job", job.Name, "type", job.Type, "files", totalFiles, "bytes", totalSize, "skipped", len(enum.Skipped))

	<-run.done

	o.ctrlMu.Lock()
	final := o.reporter.state(job.Name)
	if !final.Terminal() {
		if err := o.reporter.transition(job.Name, StateCompleted); err != nil {
			o.logger.Error("failed to complete job", "job", job.Name, "error", err)
		}
		final = StateCompleted
	}
	o.ctrlMu.Unlock()
	o.reporter.publish(job.Name)

	snap, _ := o.reporter.Snapshot(job.Name)
	o.logger.Info("job finished",
		"job", job.Name,
		"state", final,
		"remaining_files", snap.RemainingFiles,
		"failed_files", snap.FailedFiles,
	)
	return nil
}

// failJob moves a job that could not start to the error state.
func (o *Orchestrator) failJob(job BackupJob, cause error) error {
	o.ctrlMu.Lock()
	if err := o.reporter.transition(job.Name, StateError); err != nil {
		o.logger.Debug("job already left inactive", "job", job.Name, "error", err)
	}
	o.ctrlMu.Unlock()
	o.reporter.publish(job.Name)

	o.logger.Error("job could not start", "job", job.Name, "error", cause)
	return &Error{Kind: KindConfiguration, Job: job.Name, Err: cause}
}

// prepareJob checks the source directory and creates the target.
func prepareJob(job BackupJob) error {
	info, err := os.Stat(job.SourceDir)
	if err != nil {
		return fmt.Errorf("source directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source %s is not a directory", job.SourceDir)
	}
	if err := safety.CheckDisjoint(job.SourceDir, job.TargetDir); err != nil {
		return err
	}
	if err := os.MkdirAll(job.TargetDir, 0o755); err != nil {
		return fmt.Errorf("target directory: %w", err)
	}
	return nil
}

func (o *Orchestrator) worker(ctx context.Context, sched *scheduler, lane Lane, runID string, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		q, seq, ok := sched.next(lane)
		if !ok {
			return
		}
		sched.announced.do(seq, func() { o.reporter.begin(q.task) })
		o.transfer(ctx, q, runID)
		sched.taskDone(q.run)
	}
}

// transfer copies one file and records the outcome. Failures are recorded
// against the file; they never end the job.
func (o *Orchestrator) transfer(ctx context.Context, q queued, runID string) {
	task := q.task
	if o.opts.OnLaneEnter != nil {
		o.opts.OnLaneEnter(q.lane, task)
	}
	res, err := o.copyFile(ctx, task)
	if o.opts.OnLaneExit != nil {
		o.opts.OnLaneExit(q.lane, task)
	}

	entry := logsink.Entry{
		Name:           task.JobName,
		Source:         task.SourcePath,
		Target:         task.DestinationPath,
		Size:           res.Bytes,
		TransferTime:   res.TransferTime.Milliseconds(),
		EncryptionTime: res.EncryptionTime.Milliseconds(),
		Timestamp:      time.Now(),
		RunID:          runID,
	}
	if err != nil {
		kind := KindOf(err)
		if kind == 0 {
			kind = KindIO
			err = &Error{Kind: KindIO, Job: task.JobName, Path: task.SourcePath, Err: err}
		}
		entry.Error = err.Error()
		o.logger.Warn("file transfer failed", "job", task.JobName, "path", task.SourcePath, "kind", kind, "error", err)
	} else {
		o.logger.Debug("file transferred", "job", task.JobName, "path", task.SourcePath, "lane", q.lane, "bytes", res.Bytes)
	}

	o.reporter.finish(task, err != nil)

	if o.logs != nil {
		if lerr := o.logs.Dispatch(ctx, entry); lerr != nil {
			o.logger.Warn("failed to write transfer log", "job", task.JobName, "error", lerr)
		}
	}
}

func (o *Orchestrator) copyFile(ctx context.Context, task FileTask) (res TransferResult, err error) {
	if o.gate == nil {
		return res, fmt.Errorf("no transfer gate configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transfer panicked: %v", r)
		}
	}()
	return o.gate.TransferFile(ctx, task)
}

// lookup returns the named run. Caller holds ctrlMu.
func (o *Orchestrator) lookup(name string) (*jobRun, error) {
	if o.sched == nil {
		return nil, ErrNotRunning
	}
	run, ok := o.runs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return run, nil
}

// Pause stops dispatching new files for one job. In-flight files finish.
func (o *Orchestrator) Pause(name string) error {
	o.ctrlMu.Lock()
	defer o.ctrlMu.Unlock()

	run, err := o.lookup(name)
	if err != nil {
		return err
	}
	if o.reporter.state(name) == StatePaused {
		o.sched.setJobPaused(run, true)
		return nil
	}
	if err := o.reporter.transition(name, StatePaused); err != nil {
		return err
	}
	o.sched.setJobPaused(run, true)
	o.reporter.publishAsync(name)
	o.logger.Info("job paused", "job", name)
	return nil
}

// Resume continues dispatch for one job from its next undispatched file.
func (o *Orchestrator) Resume(name string) error {
	o.ctrlMu.Lock()
	defer o.ctrlMu.Unlock()

	run, err := o.lookup(name)
	if err != nil {
		return err
	}
	if o.globalPaused {
		return fmt.Errorf("cannot resume %s while all jobs are paused", name)
	}
	if err := o.reporter.transition(name, StateActive); err != nil {
		return err
	}
	o.sched.setJobPaused(run, false)
	o.reporter.publishAsync(name)
	o.logger.Info("job resumed", "job", name)
	return nil
}

// Stop discards a job's remaining files once its in-flight files finish.
func (o *Orchestrator) Stop(name string) error {
	o.ctrlMu.Lock()
	defer o.ctrlMu.Unlock()

	run, err := o.lookup(name)
	if err != nil {
		return err
	}
	return o.stopLocked(name, run)
}

func (o *Orchestrator) stopLocked(name string, run *jobRun) error {
	if err := o.reporter.transition(name, StateStopped); err != nil {
		return err
	}
	dropped := o.sched.stop(run)
	o.reporter.publishAsync(name)
	o.logger.Info("job stopped", "job", name, "discarded", dropped)
	return nil
}

// PauseAll stops dispatch for every job of the current run.
func (o *Orchestrator) PauseAll() error {
	o.ctrlMu.Lock()
	defer o.ctrlMu.Unlock()

	if o.sched == nil {
		return ErrNotRunning
	}
	o.globalPaused = true
	o.sched.setPaused(true)
	for name := range o.runs {
		if o.reporter.state(name) != StateActive {
			continue
		}
		if err := o.reporter.transition(name, StatePaused); err == nil {
			o.reporter.publishAsync(name)
		}
	}
	o.logger.Info("all jobs paused")
	return nil
}

// ResumeAll lifts the global pause and every per-job pause.
func (o *Orchestrator) ResumeAll() error {
	o.ctrlMu.Lock()
	defer o.ctrlMu.Unlock()

	if o.sched == nil {
		return ErrNotRunning
	}
	o.globalPaused = false
	o.sched.resumeAll(o.runs)
	for name := range o.runs {
		if o.reporter.state(name) != StatePaused {
			continue
		}
		if err := o.reporter.transition(name, StateActive); err == nil {
			o.reporter.publishAsync(name)
		}
	}
	o.logger.Info("all jobs resumed")
	return nil
}

// StopAll stops every job that has not reached a terminal state.
func (o *Orchestrator) StopAll() error {
	o.ctrlMu.Lock()
	defer o.ctrlMu.Unlock()

	if o.sched == nil {
		return ErrNotRunning
	}
	for name, run := range o.runs {
		if o.reporter.state(name).Terminal() {
			continue
		}
		if err := o.stopLocked(name, run); err != nil {
			o.logger.Warn("failed to stop job", "job", name, "error", err)
		}
	}
	return nil
}

// Paused reports whether a global pause is in effect.
func (o *Orchestrator) Paused() bool {
	o.ctrlMu.Lock()
	defer o.ctrlMu.Unlock()
	return o.globalPaused
}

// interrupt handles a watcher signal: pause everything and notify. There is
// no automatic resume.
func (o *Orchestrator) interrupt(process string) {
	o.logger.Warn("watched process detected, pausing all jobs", "process", process)
	if err := o.PauseAll(); err != nil && !errors.Is(err, ErrNotRunning) {
		o.logger.Error("failed to pause after interruption", "process", process, "error", err)
	}

	o.subMu.RLock()
	subs := o.interruptSubs
	o.subMu.RUnlock()
	for _, fn := range subs {
		fn(process)
	}
}
