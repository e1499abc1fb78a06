package engine

import (
	"slices"
	"sync"
)

// Lane is a concurrency-bounded class of transfers.
type Lane int

const (
	// LaneSmall runs up to MaxSimultaneousJobs transfers at once.
	LaneSmall Lane = iota
	// LaneLarge runs a single transfer at a time across the whole process.
	LaneLarge
)

func (l Lane) String() string {
	if l == LaneLarge {
		return "large"
	}
	return "small"
}

// Classify routes task to a lane by size and reports its priority flag.
// A threshold <= 0 sends everything to the small lane.
func Classify(task FileTask, threshold int64) (Lane, bool) {
	if threshold > 0 && task.FileSize >= threshold {
		return LaneLarge, task.IsPriority
	}
	return LaneSmall, task.IsPriority
}

// jobRun is the scheduler-side bookkeeping for one job of a run. Fields
// below done are guarded by scheduler.mu.
type jobRun struct {
	index int
	job   BackupJob
	done  chan struct{}

	pending     int
	inflight    int
	paused      bool
	stopped     bool
	finished    bool
	admitted    bool
	enumerating bool
}

func newJobRun(index int, job BackupJob) *jobRun {
	return &jobRun{index: index, job: job, done: make(chan struct{})}
}

type queued struct {
	run  *jobRun
	task FileTask
	lane Lane
}

// scheduler holds the global priority and normal queues shared by all jobs
// of a run. Workers block in next until a task for their lane is eligible.
//
// enumerating counts admitted jobs whose tasks are not queued yet. Any of
// them may still produce priority tasks, so normal tasks wait for it to
// reach zero.
type scheduler struct {
	mu          sync.Mutex
	cond        *sync.Cond
	priority    []queued
	normal      []queued
	paused      bool
	closed      bool
	seq         uint64
	enumerating int

	announced turnstile
}

func newScheduler() *scheduler {
	s := &scheduler{}
	s.cond = sync.NewCond(&s.mu)
	s.announced.cond = sync.NewCond(&s.announced.mu)
	return s
}

// admit records that run holds a job slot and is about to enumerate.
func (s *scheduler) admit(run *jobRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.stopped || run.admitted {
		return
	}
	run.admitted = true
	run.enumerating = true
	s.enumerating++
}

// enumerated releases run's hold on normal dispatch. It is a no-op once the
// hold is gone.
func (s *scheduler) enumerated(run *jobRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enumeratedLocked(run)
}

func (s *scheduler) enumeratedLocked(run *jobRun) {
	if !run.enumerating {
		return
	}
	run.enumerating = false
	s.enumerating--
	s.cond.Broadcast()
}

// submit enqueues a job's tasks in enumeration order. A job with nothing to
// do finishes immediately.
func (s *scheduler) submit(run *jobRun, tasks []FileTask, threshold int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enumeratedLocked(run)

	for _, t := range tasks {
		lane, prio := Classify(t, threshold)
		q := queued{run: run, task: t, lane: lane}
		if prio {
			s.priority = append(s.priority, q)
		} else {
			s.normal = append(s.normal, q)
		}
	}
	run.pending += len(tasks)
	s.maybeFinish(run)
	s.cond.Broadcast()
}

// next blocks until a task is eligible for lane, returning it with its
// dispatch sequence number. ok is false once the scheduler is closed.
func (s *scheduler) next(lane Lane) (queued, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.closed {
			return queued{}, 0, false
		}
		if q, ok := s.pick(lane); ok {
			q.run.pending--
			q.run.inflight++
			seq := s.seq
			s.seq++
			return q, seq, true
		}
		s.cond.Wait()
	}
}

// pick removes the first eligible task for lane. Normal tasks are held back
// while any admitted job is still enumerating, and while any priority task
// of a non-paused job is still queued, even one bound for the other lane.
// Caller holds s.mu.
func (s *scheduler) pick(lane Lane) (queued, bool) {
	if s.paused {
		return queued{}, false
	}
	blocked := false
	for i, q := range s.priority {
		if q.run.paused {
			continue
		}
		blocked = true
		if q.lane == lane {
			s.priority = slices.Delete(s.priority, i, i+1)
			return q, true
		}
	}
	if blocked || s.enumerating > 0 {
		return queued{}, false
	}
	for i, q := range s.normal {
		if q.run.paused || q.lane != lane {
			continue
		}
		s.normal = slices.Delete(s.normal, i, i+1)
		return q, true
	}
	return queued{}, false
}

// taskDone accounts for a finished transfer.
func (s *scheduler) taskDone(run *jobRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.inflight--
	s.maybeFinish(run)
	s.cond.Broadcast()
}

// maybeFinish closes run.done once nothing is queued or in flight. Caller
// holds s.mu.
func (s *scheduler) maybeFinish(run *jobRun) {
	if run.finished || run.pending > 0 || run.inflight > 0 {
		return
	}
	run.finished = true
	close(run.done)
}

func (s *scheduler) setPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
	s.cond.Broadcast()
}

func (s *scheduler) setJobPaused(run *jobRun, paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.paused = paused
	s.cond.Broadcast()
}

// resumeAll clears the global pause and every per-job pause.
func (s *scheduler) resumeAll(runs map[string]*jobRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	for _, run := range runs {
		run.paused = false
	}
	s.cond.Broadcast()
}

// stop discards a job's queued tasks and returns how many were dropped.
// In-flight transfers are left to finish.
func (s *scheduler) stop(run *jobRun) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	keep := func(qs []queued) []queued {
		return slices.DeleteFunc(qs, func(q queued) bool { return q.run == run })
	}
	before := len(s.priority) + len(s.normal)
	s.priority = keep(s.priority)
	s.normal = keep(s.normal)
	dropped := before - len(s.priority) - len(s.normal)

	run.stopped = true
	run.pending = 0
	s.enumeratedLocked(run)
	s.maybeFinish(run)
	s.cond.Broadcast()
	return dropped
}

func (s *scheduler) isStopped(run *jobRun) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return run.stopped
}

func (s *scheduler) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
}

// turnstile runs callbacks in dispatch sequence order even though the
// workers that picked the tasks race to get there.
type turnstile struct {
	mu   sync.Mutex
	cond *sync.Cond
	next uint64
}

func (t *turnstile) do(seq uint64, fn func()) {
	t.mu.Lock()
	for t.next != seq {
		t.cond.Wait()
	}
	t.mu.Unlock()

	fn()

	t.mu.Lock()
	t.next++
	t.cond.Broadcast()
	t.mu.Unlock()
}
