package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/easysave/internal/config"
)

var configInitForce bool

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage easysave configuration. Subcommands allow viewing and modifying
configuration settings.`,
		Example: `  easysave config show
  easysave config init
  easysave config set engine.max_simultaneous_jobs 4
  easysave config set encryption.extensions .txt,.docx`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigInitCmd(),
		newConfigSetCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the current configuration in YAML format. If a config file
is loaded, shows the loaded configuration with any command-line overrides
applied. The encryption key is masked.`,
		RunE: configShowRun,
	}
}

func configShowRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	shown := *globalCfg
	if shown.Encryption.Key != "" {
		shown.Encryption.Key = "********"
	}
	data, err := yaml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if cfgPath != "" {
		fmt.Printf("# %s\n", cfgPath)
	} else {
		fmt.Println("# defaults (no config file found)")
	}
	fmt.Print(string(data))
	return nil
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with default values",
		Long: `Write the default configuration to --config, or to
~/.config/easysave/easysave.yaml when no path is given.`,
		Args: cobra.NoArgs,
		RunE: configInitRun,
	}
	cmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
	return cmd
}

func configInitRun(cmd *cobra.Command, args []string) error {
	path := configWritePath()
	if path == "" {
		return fmt.Errorf("cannot determine config path; use --config")
	}
	if _, err := os.Stat(path); err == nil && !configInitForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	cfg := config.DefaultConfig()
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Printf("Wrote default configuration to %s\n", path)
	return nil
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set a configuration value",
		Long: `Set a configuration value using dot-notation for nested keys.
Changes are written back to the config file. List values are separated
by commas; an empty string clears the list.

Keys:
  data_dir, db_path, state_path
  engine.max_simultaneous_jobs, engine.large_file_threshold,
  engine.priority_extensions
  encryption.key, encryption.extensions
  processes.watched, processes.poll_interval
  logging.target, logging.format, logging.dir, logging.server_url
  server.listen, server.requests_per_second, server.burst`,
		Example: `  easysave config set logging.target both
  easysave config set logging.server_url http://logs.example.com:8080
  easysave config set engine.large_file_threshold 50MB`,
		Args: cobra.ExactArgs(2),
		RunE: configSetRun,
	}
}

func configSetRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	key, value := args[0], args[1]
	updated := *globalCfg
	if err := setConfigValue(&updated, key, value); err != nil {
		return err
	}
	if err := updated.Validate(); err != nil {
		return err
	}

	path := configWritePath()
	if err := updated.Save(path); err != nil {
		return err
	}
	*globalCfg = updated
	log.Info("configuration updated", "key", key, "path", path)
	fmt.Printf("Set %s in %s\n", key, path)
	return nil
}

// setConfigValue assigns value to the dot-notation key in cfg.
func setConfigValue(cfg *config.Config, key, value string) error {
	var err error
	switch strings.ToLower(key) {
	case "data_dir":
		cfg.DataDir = value
	case "db_path":
		cfg.DBPath = value
	case "state_path":
		cfg.StatePath = value
	case "engine.max_simultaneous_jobs":
		cfg.Engine.MaxSimultaneousJobs, err = strconv.Atoi(value)
	case "engine.large_file_threshold":
		cfg.Engine.LargeFileThreshold = value
	case "engine.priority_extensions":
		cfg.Engine.PriorityExtensions = splitList(value)
	case "encryption.key":
		cfg.Encryption.Key = value
	case "encryption.extensions":
		cfg.Encryption.Extensions = splitList(value)
	case "processes.watched":
		cfg.Processes.Watched = splitList(value)
	case "processes.poll_interval":
		cfg.Processes.PollInterval, err = time.ParseDuration(value)
	case "logging.target":
		cfg.Logging.Target = value
	case "logging.format":
		cfg.Logging.Format = value
	case "logging.dir":
		cfg.Logging.Dir = value
	case "logging.server_url":
		cfg.Logging.ServerURL = value
	case "server.listen":
		cfg.Server.Listen = value
	case "server.requests_per_second":
		cfg.Server.RequestsPerSecond, err = strconv.ParseFloat(value, 64)
	case "server.burst":
		cfg.Server.Burst, err = strconv.Atoi(value)
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
