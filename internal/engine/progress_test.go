package engine

import (
	"errors"
	"testing"
)

func TestStateReporterTrackAndFinish(t *testing.T) {
	p := &memPersister{}
	r := NewStateReporter(p, testLogger())

	var events []BackupJobState
	r.Subscribe(func(s BackupJobState) { events = append(events, s) })

	job := BackupJob{Name: "docs", SourceDir: "/src", TargetDir: "/dst", Type: TypeComplete}
	r.Track(1, job, "run-1")
	_ = r.mutate("docs", func(s *BackupJobState) error {
		s.TotalFiles, s.RemainingFiles = 2, 2
		s.TotalSize, s.RemainingSize = 300, 300
		return nil
	})
	if err := r.transition("docs", StateActive); err != nil {
		t.Fatal(err)
	}

	r.finish(FileTask{JobName: "docs", SourcePath: "/src/a", DestinationPath: "/dst/a", FileSize: 100}, false)
	r.finish(FileTask{JobName: "docs", SourcePath: "/src/b", DestinationPath: "/dst/b", FileSize: 200}, true)

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	first := events[0]
	if first.RemainingFiles != 1 || first.RemainingSize != 200 {
		t.Errorf("first event remaining = (%d, %d), want (1, 200)", first.RemainingFiles, first.RemainingSize)
	}
	if first.CurrentSourceFile != "/src/a" || first.CurrentTargetFile != "/dst/a" {
		t.Errorf("first event current files = %s -> %s", first.CurrentSourceFile, first.CurrentTargetFile)
	}
	wantPct := float64(100) / 300 * 100
	if first.ProgressPercentage != wantPct {
		t.Errorf("first event progress = %v, want %v", first.ProgressPercentage, wantPct)
	}

	last := events[1]
	if last.RemainingFiles != 0 || last.RemainingSize != 0 || last.FailedFiles != 1 {
		t.Errorf("last event = %+v", last)
	}
	if last.RunID != "run-1" || last.ID != 1 {
		t.Errorf("last event ids = (%d, %q)", last.ID, last.RunID)
	}

	states, writes := p.snapshot()
	if writes != 2 || len(states) != 1 || states[0].RemainingFiles != 0 {
		t.Errorf("persisted %d writes, states %+v", writes, states)
	}
}

func TestStateReporterSnapshotsAreCopies(t *testing.T) {
	r := NewStateReporter(nil, testLogger())
	r.Track(1, BackupJob{Name: "a"}, "")
	r.Track(2, BackupJob{Name: "b"}, "")

	snaps := r.Snapshots()
	if len(snaps) != 2 || snaps[0].Name != "a" || snaps[1].Name != "b" {
		t.Fatalf("Snapshots() = %+v", snaps)
	}
	snaps[0].Name = "changed"
	if s, _ := r.Snapshot("a"); s.Name != "a" {
		t.Error("mutating a snapshot changed the live state")
	}
	if _, ok := r.Snapshot("missing"); ok {
		t.Error("Snapshot of unknown job should report false")
	}
}

func TestStateReporterTrackReplacesPreviousRun(t *testing.T) {
	r := NewStateReporter(nil, testLogger())
	r.Track(1, BackupJob{Name: "a"}, "run-1")
	_ = r.transition("a", StateActive)
	_ = r.transition("a", StateCompleted)

	r.Track(1, BackupJob{Name: "a"}, "run-2")
	s, _ := r.Snapshot("a")
	if s.State != StateInactive || s.RunID != "run-2" {
		t.Errorf("state after retrack = %s/%s", s.State, s.RunID)
	}
	if n := len(r.Snapshots()); n != 1 {
		t.Errorf("Snapshots() has %d entries, want 1", n)
	}
}

func TestStateReporterCompletedEmptyJobIsFull(t *testing.T) {
	r := NewStateReporter(nil, testLogger())
	r.Track(1, BackupJob{Name: "empty"}, "")
	_ = r.transition("empty", StateActive)
	s, _ := r.Snapshot("empty")
	if s.ProgressPercentage != 0 {
		t.Errorf("active empty job progress = %v, want 0", s.ProgressPercentage)
	}
	_ = r.transition("empty", StateCompleted)
	s, _ = r.Snapshot("empty")
	if s.ProgressPercentage != 100 {
		t.Errorf("completed empty job progress = %v, want 100", s.ProgressPercentage)
	}
}

func TestStateReporterRejectsInvalidTransition(t *testing.T) {
	r := NewStateReporter(nil, testLogger())
	r.Track(1, BackupJob{Name: "a"}, "")
	if err := r.transition("a", StatePaused); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Inactive -> Paused error = %v, want ErrInvalidTransition", err)
	}
	if err := r.transition("nope", StateActive); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("unknown job error = %v, want ErrUnknownJob", err)
	}
}
