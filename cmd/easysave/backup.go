package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/BadgerOps/easysave/internal/config"
	"github.com/BadgerOps/easysave/internal/crypto"
	"github.com/BadgerOps/easysave/internal/engine"
	"github.com/BadgerOps/easysave/internal/logsink"
	"github.com/BadgerOps/easysave/internal/procwatch"
	"github.com/BadgerOps/easysave/internal/store"
)

// backupStack is everything one backup run needs, built from config.
type backupStack struct {
	orch       *engine.Orchestrator
	dispatcher *logsink.Dispatcher
	watcher    *procwatch.Watcher
	state      *store.StateFile
}

// remoteTimeout bounds one POST to the log server.
const remoteTimeout = 10 * time.Second

func newDispatcher(cfg *config.Config, logger *slog.Logger) (*logsink.Dispatcher, error) {
	target, err := logsink.ParseTarget(cfg.Logging.Target)
	if err != nil {
		return nil, err
	}
	format, err := logsink.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	remote, err := logsink.NewRemoteSink(cfg.Logging.ServerURL, remoteTimeout)
	if err != nil {
		return nil, err
	}
	local := logsink.NewFileSink(cfg.LogDir(), format)
	return logsink.NewDispatcher(target, local, remote, logger), nil
}

func newBackupStack(cfg *config.Config, jobs engine.JobSource, lister procwatch.Lister, logger *slog.Logger) (*backupStack, error) {
	threshold, err := cfg.LargeFileThreshold()
	if err != nil {
		return nil, fmt.Errorf("invalid large file threshold: %w", err)
	}
	dispatcher, err := newDispatcher(cfg, logger)
	if err != nil {
		return nil, err
	}

	state := store.NewStateFile(cfg.StateFilePath())
	reporter := engine.NewStateReporter(state, logger)
	gate := crypto.NewGate(crypto.NewSettings(cfg.Encryption.Key, cfg.Encryption.Extensions), logger)

	orch := engine.NewOrchestrator(jobs, reporter, gate, dispatcher, engine.Options{
		MaxSimultaneousJobs: cfg.Engine.MaxSimultaneousJobs,
		LargeFileThreshold:  threshold,
		PriorityExtensions:  cfg.Engine.PriorityExtensions,
	}, logger)

	watcher := procwatch.NewWatcher(lister, cfg.Processes.PollInterval, logger)
	for _, name := range cfg.Processes.Watched {
		watcher.Add(name)
	}
	orch.SetWatcher(watcher)

	return &backupStack{
		orch:       orch,
		dispatcher: dispatcher,
		watcher:    watcher,
		state:      state,
	}, nil
}

// summarizeRun fills the counters of rec from the final job states.
func summarizeRun(rec *store.RunRecord, states []engine.BackupJobState, runErr error) {
	status := "completed"
	for _, s := range states {
		if rec.RunID == "" {
			rec.RunID = s.RunID
		}
		rec.FilesFailed += s.FailedFiles
		rec.FilesCopied += s.TotalFiles - s.RemainingFiles - s.FailedFiles
		rec.BytesCopied += s.TotalSize - s.RemainingSize
		switch s.State {
		case engine.StateError:
			status = "failed"
		case engine.StateStopped:
			if status != "failed" {
				status = "stopped"
			}
		}
	}
	if runErr != nil {
		status = "failed"
		rec.ErrorMessage = runErr.Error()
	}
	rec.Status = status
}
