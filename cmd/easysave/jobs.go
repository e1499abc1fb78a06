package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/easysave/internal/engine"
)

var (
	jobsAddType string

	jobsUpdateName   string
	jobsUpdateSource string
	jobsUpdateTarget string
	jobsUpdateType   string
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage backup job definitions",
		Long: `Manage backup job definitions. Jobs are numbered from 1 in the order they
were added; 'easysave run' selects them by that number.`,
		Example: `  easysave jobs list
  easysave jobs add docs ~/Documents /mnt/backup/docs --type differential
  easysave jobs update docs --target /mnt/nas/docs
  easysave jobs remove docs`,
	}

	cmd.AddCommand(
		newJobsListCmd(),
		newJobsAddCmd(),
		newJobsUpdateCmd(),
		newJobsRemoveCmd(),
	)

	return cmd
}

func newJobsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List backup jobs with their indices",
		Args:  cobra.NoArgs,
		RunE:  jobsListRun,
	}
}

func jobsListRun(cmd *cobra.Command, args []string) error {
	if globalStore == nil {
		return fmt.Errorf("store not initialized")
	}
	jobs, err := globalStore.ListJobs()
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No jobs defined. Add one with 'easysave jobs add NAME SOURCE TARGET'.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tNAME\tTYPE\tSOURCE\tTARGET")
	for i, j := range jobs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i+1, j.Name, j.Type, j.SourceDir, j.TargetDir)
	}
	return w.Flush()
}

func newJobsAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add NAME SOURCE TARGET",
		Short: "Define a new backup job",
		Long: `Define a new backup job. The source directory must exist. A complete job
copies every file; a differential job copies only files that are missing
from the target or newer in the source.`,
		Args: cobra.ExactArgs(3),
		RunE: jobsAddRun,
	}
	cmd.Flags().StringVar(&jobsAddType, "type", "complete", "backup type (complete or differential)")
	return cmd
}

func jobsAddRun(cmd *cobra.Command, args []string) error {
	if globalStore == nil {
		return fmt.Errorf("store not initialized")
	}
	source, err := filepath.Abs(args[1])
	if err != nil {
		return err
	}
	target, err := filepath.Abs(args[2])
	if err != nil {
		return err
	}

	rec, err := globalStore.CreateJob(engine.BackupJob{
		Name:      args[0],
		SourceDir: source,
		TargetDir: target,
		Type:      engine.JobType(jobsAddType),
	})
	if err != nil {
		return fmt.Errorf("adding job: %w", err)
	}
	n, err := globalStore.CountJobs()
	if err != nil {
		return err
	}
	fmt.Printf("Added job %d: %s (%s) %s -> %s\n", n, rec.Name, rec.Type, rec.SourceDir, rec.TargetDir)
	return nil
}

func newJobsUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update NAME",
		Short: "Change an existing backup job",
		Long: `Change an existing backup job. Only the given flags are applied; the job
keeps its index.`,
		Args: cobra.ExactArgs(1),
		RunE: jobsUpdateRun,
	}
	cmd.Flags().StringVar(&jobsUpdateName, "name", "", "rename the job")
	cmd.Flags().StringVar(&jobsUpdateSource, "source", "", "new source directory")
	cmd.Flags().StringVar(&jobsUpdateTarget, "target", "", "new target directory")
	cmd.Flags().StringVar(&jobsUpdateType, "type", "", "new backup type (complete or differential)")
	return cmd
}

func jobsUpdateRun(cmd *cobra.Command, args []string) error {
	if globalStore == nil {
		return fmt.Errorf("store not initialized")
	}
	rec, err := globalStore.GetJobByName(args[0])
	if err != nil {
		return err
	}
	job := engine.BackupJob{
		Name:      rec.Name,
		SourceDir: rec.SourceDir,
		TargetDir: rec.TargetDir,
		Type:      engine.JobType(rec.Type),
	}
	if jobsUpdateName != "" {
		job.Name = jobsUpdateName
	}
	if jobsUpdateSource != "" {
		if job.SourceDir, err = filepath.Abs(jobsUpdateSource); err != nil {
			return err
		}
	}
	if jobsUpdateTarget != "" {
		if job.TargetDir, err = filepath.Abs(jobsUpdateTarget); err != nil {
			return err
		}
	}
	if jobsUpdateType != "" {
		job.Type = engine.JobType(jobsUpdateType)
	}

	if err := globalStore.UpdateJob(args[0], job); err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	fmt.Printf("Updated job %s: %s (%s) %s -> %s\n", args[0], job.Name, job.Type, job.SourceDir, job.TargetDir)
	return nil
}

func newJobsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove NAME",
		Short: "Delete a backup job definition",
		Long:  `Delete a backup job definition. Jobs after it move up one index.`,
		Args:  cobra.ExactArgs(1),
		RunE:  jobsRemoveRun,
	}
}

func jobsRemoveRun(cmd *cobra.Command, args []string) error {
	if globalStore == nil {
		return fmt.Errorf("store not initialized")
	}
	if err := globalStore.RemoveJob(args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed job %s\n", args[0])
	return nil
}
