package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/easysave/internal/engine"
	"github.com/BadgerOps/easysave/internal/procwatch"
	"github.com/BadgerOps/easysave/internal/store"
)

var (
	runControl bool
	runAll     bool
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [SELECTION...]",
		Short: "Run backup jobs",
		Long: `Run one or more backup jobs, identified by their 1-based position in
'easysave jobs list'. A selection is a single index, a range such as 1-3,
or a list such as "1;3". Several selections may be given.

With --control, commands are read from stdin while the run is in progress:
  pause [JOB]    pause one job, or all jobs
  resume [JOB]   resume one job, or all jobs
  stop [JOB]     stop one job, or all jobs

SIGINT or SIGTERM stops all jobs after their in-flight files finish.`,
		Example: `  easysave run 1
  easysave run 1-3
  easysave run "1;3" --control
  easysave run --all`,
		RunE: runRun,
	}

	cmd.Flags().BoolVar(&runControl, "control", false, "read pause/resume/stop commands from stdin")
	cmd.Flags().BoolVar(&runAll, "all", false, "run every defined job")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	if globalStore == nil {
		return fmt.Errorf("store not initialized")
	}

	var (
		indices []int
		err     error
	)
	if runAll {
		n, err := globalStore.CountJobs()
		if err != nil {
			return err
		}
		for i := 1; i <= n; i++ {
			indices = append(indices, i)
		}
		if len(indices) == 0 {
			return fmt.Errorf("no jobs defined; add one with 'easysave jobs add'")
		}
	} else {
		indices, err = parseSelection(args)
		if err != nil {
			return err
		}
	}

	stack, err := newBackupStack(globalCfg, globalStore, procwatch.HostLister{}, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var stdin io.Reader
	if runControl {
		stdin = os.Stdin
	}
	return executeRun(ctx, stack, globalStore, indices, stdin, os.Stdout, logger)
}

// executeRun performs one backup run, prints progress to out, and records
// the run in st.
func executeRun(ctx context.Context, stack *backupStack, st *store.Store, indices []int, control io.Reader, w io.Writer, log *slog.Logger) error {
	out := &syncWriter{w: w}
	var names []string
	for _, idx := range indices {
		if job, ok := st.GetJob(idx); ok {
			names = append(names, job.Name)
		}
	}

	events := engine.NewEventBuffer(256)
	events.Attach(stack.orch)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printEvents(events.Events(), out)
	}()

	rec := &store.RunRecord{
		Jobs:      strings.Join(names, ","),
		StartTime: time.Now().UTC(),
		Status:    "running",
	}
	if err := st.CreateRun(rec); err != nil {
		log.Warn("failed to record run start", "error", err)
	}

	controlCtx, cancelControl := context.WithCancel(ctx)
	if control != nil {
		fmt.Fprintln(out, "Control: type pause, resume or stop, optionally followed by a job name.")
		go controlLoop(controlCtx, stack.orch, control, out)
	}

	runErr := stack.orch.ExecuteBackup(ctx, indices)
	cancelControl()
	events.Close()
	<-printed

	var states []engine.BackupJobState
	for _, name := range names {
		if s, ok := stack.orch.Reporter().Snapshot(name); ok {
			states = append(states, s)
		}
	}
	rec.EndTime = time.Now().UTC()
	summarizeRun(rec, states, runErr)
	if rec.ID != 0 {
		if err := st.UpdateRun(rec); err != nil {
			log.Warn("failed to record run result", "error", err)
		}
	}

	printSummary(out, states, rec)
	if dropped := events.Dropped(); dropped > 0 {
		log.Debug("progress events dropped", "count", dropped)
	}
	if n := stack.dispatcher.RemoteFailures(); n > 0 {
		fmt.Fprintf(out, "Warning: %d log entries could not be sent to %s\n", n, globalLogServer())
	}

	if runErr != nil {
		return runErr
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("run interrupted")
	}
	return nil
}

// syncWriter serializes writes from the progress printer and control loop.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func globalLogServer() string {
	if globalCfg == nil || globalCfg.Logging.ServerURL == "" {
		return "the log server"
	}
	return globalCfg.Logging.ServerURL
}

// printEvents writes state changes and every tenth percent of progress.
func printEvents(events <-chan engine.Event, out io.Writer) {
	type seen struct {
		state  engine.JobState
		decile int
	}
	last := make(map[string]seen)
	for ev := range events {
		switch ev.Kind {
		case engine.EventInterruption:
			fmt.Fprintf(out, "Paused: %s is running. Resume with 'resume' once it has closed.\n", ev.Process)
		case engine.EventProgress:
			s := ev.State
			decile := int(s.ProgressPercentage) / 10
			prev, ok := last[s.Name]
			if ok && prev.state == s.State && prev.decile == decile {
				continue
			}
			last[s.Name] = seen{state: s.State, decile: decile}
			fmt.Fprintf(out, "[%s] %-9s %5.1f%%  %d/%d files left, %s left\n",
				s.Name, s.State, s.ProgressPercentage, s.RemainingFiles, s.TotalFiles,
				engine.FormatSize(s.RemainingSize))
		}
	}
}

func printSummary(out io.Writer, states []engine.BackupJobState, rec *store.RunRecord) {
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Run %s: %s\n", rec.RunID, rec.Status)
	for _, s := range states {
		fmt.Fprintf(out, "  %-20s %-9s %d files, %s, %d failed\n",
			s.Name, s.State, s.TotalFiles, engine.FormatSize(s.TotalSize), s.FailedFiles)
	}
	fmt.Fprintf(out, "  Copied %d files (%s) in %s\n",
		rec.FilesCopied, engine.FormatSize(rec.BytesCopied), rec.EndTime.Sub(rec.StartTime).Round(time.Millisecond))
}
