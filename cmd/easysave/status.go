package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/easysave/internal/engine"
	"github.com/BadgerOps/easysave/internal/store"
)

var (
	statusJob  string
	statusRuns int
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the progress of the latest backup run",
		Long: `Show the state of every job tracked by the most recent backup run, read
from the state file. While a run is in progress the file is rewritten on
every change, so repeated calls show live progress.`,
		Example: `  easysave status
  easysave status --job docs
  easysave status --runs 10`,
		Args: cobra.NoArgs,
		RunE: statusRun,
	}
	cmd.Flags().StringVar(&statusJob, "job", "", "show only this job")
	cmd.Flags().IntVar(&statusRuns, "runs", 0, "list the N most recent runs instead of job progress")
	return cmd
}

func statusRun(cmd *cobra.Command, args []string) error {
	if statusRuns > 0 {
		return printRuns(statusRuns)
	}
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	states, err := store.NewStateFile(globalCfg.StateFilePath()).Load()
	if err != nil {
		return err
	}
	printStates(states, statusJob)
	return nil
}

func printStates(states []engine.BackupJobState, only string) {
	if len(states) == 0 {
		fmt.Println("No backup has run yet.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tJOB\tSTATE\tPROGRESS\tFILES LEFT\tSIZE LEFT\tFAILED\tLAST ACTION\tCURRENT FILE")
	shown := 0
	for _, s := range states {
		if only != "" && s.Name != only {
			continue
		}
		shown++
		fmt.Fprintf(w, "%d\t%s\t%s\t%.1f%%\t%d/%d\t%s\t%d\t%s\t%s\n",
			s.ID, s.Name, s.State, s.ProgressPercentage,
			s.RemainingFiles, s.TotalFiles, engine.FormatSize(s.RemainingSize),
			s.FailedFiles, s.LastActionTimestamp.Local().Format("2006-01-02 15:04:05"),
			s.CurrentSourceFile)
	}
	w.Flush()
	if shown == 0 {
		fmt.Printf("No state recorded for job %q.\n", only)
	}
}

func printRuns(limit int) error {
	if globalStore == nil {
		return fmt.Errorf("store not initialized")
	}
	runs, err := globalStore.ListRuns(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No backup runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tDURATION\tSTATUS\tJOBS\tCOPIED\tFAILED\tBYTES\tERROR")
	for _, r := range runs {
		duration := "-"
		if !r.EndTime.IsZero() {
			duration = r.EndTime.Sub(r.StartTime).Round(time.Millisecond).String()
		}
		id := r.RunID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			id, r.StartTime.Local().Format("2006-01-02 15:04:05"), duration, r.Status,
			r.Jobs, r.FilesCopied, r.FilesFailed, engine.FormatSize(r.BytesCopied), r.ErrorMessage)
	}
	return w.Flush()
}
