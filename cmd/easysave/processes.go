package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/easysave/internal/procwatch"
)

func newProcessesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "processes",
		Short: "Manage the business applications that pause backups",
		Long: `Manage the list of watched processes. While any of them is running, a
backup run pauses every job. Names are matched case-insensitively without
path or extension, so "Calc.exe" and "calc" are the same entry.`,
		Example: `  easysave processes add calc
  easysave processes list
  easysave processes check`,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List watched processes",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return processesList(newConfiguredWatcher())
			},
		},
		&cobra.Command{
			Use:   "add NAME...",
			Short: "Watch one or more processes",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return processesUpdate(args, (*procwatch.Watcher).Add)
			},
		},
		&cobra.Command{
			Use:   "remove NAME...",
			Short: "Stop watching one or more processes",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return processesUpdate(args, (*procwatch.Watcher).Remove)
			},
		},
		&cobra.Command{
			Use:   "check",
			Short: "Report which watched processes are running now",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return processesCheck(newConfiguredWatcher())
			},
		},
	)
	return cmd
}

func newConfiguredWatcher() *procwatch.Watcher {
	w := procwatch.NewWatcher(procwatch.HostLister{}, globalCfg.Processes.PollInterval, logger)
	for _, name := range globalCfg.Processes.Watched {
		w.Add(name)
	}
	return w
}

func processesList(w *procwatch.Watcher) error {
	names := w.List()
	if len(names) == 0 {
		fmt.Println("No processes are watched.")
		return nil
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

// processesUpdate applies op to each name and saves the normalized list.
func processesUpdate(names []string, op func(*procwatch.Watcher, string)) error {
	w := newConfiguredWatcher()
	for _, n := range names {
		op(w, n)
	}
	globalCfg.Processes.Watched = w.List()
	path := configWritePath()
	if err := globalCfg.Save(path); err != nil {
		return err
	}
	fmt.Printf("Watched processes saved to %s: %v\n", path, globalCfg.Processes.Watched)
	return nil
}

func processesCheck(w *procwatch.Watcher) error {
	running := w.Poll()
	if len(w.List()) == 0 {
		fmt.Println("No processes are watched.")
		return nil
	}
	if len(running) == 0 {
		fmt.Println("None of the watched processes is running.")
		return nil
	}
	for _, n := range running {
		fmt.Printf("%s is running; backups would pause\n", n)
	}
	return nil
}
