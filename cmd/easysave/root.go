package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/easysave/internal/config"
	"github.com/BadgerOps/easysave/internal/store"
)

var (
	// Global flags
	cfgPath   string
	dataDir   string
	logLevel  string
	logFormat string
	quiet     bool
	globalCfg *config.Config
	logger    *slog.Logger

	// Global components
	globalStore *store.Store
)

// initializeComponents opens the job repository.
func initializeComponents() error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	if err := os.MkdirAll(globalCfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	st, err := store.New(globalCfg.DatabasePath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	globalStore = st

	logger.Debug("components initialized", "db", globalCfg.DatabasePath())
	return nil
}

// shouldSkipComponentInit checks if a command should skip component initialization
func shouldSkipComponentInit(cmd *cobra.Command) bool {
	skipInitCmds := map[string]bool{
		"help":       true,
		"version":    true,
		"completion": true,
		"config":     true,
		"status":     true,
		"decrypt":    true,
		"import":     true,
		"processes":  true,
	}
	for c := cmd; c != nil; c = c.Parent() {
		if skipInitCmds[c.Name()] {
			return true
		}
	}
	return false
}

// closeStore closes the global store connection
func closeStore() {
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
		globalStore = nil
	}
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "easysave",
		Short: "Concurrent, resumable file-tree backups",
		Long: `easysave copies directory trees to backup targets. Jobs run concurrently
with priority extensions first, large files in their own lane, optional
encryption of selected extensions, and an automatic pause whenever a
watched business application is running.`,
		Example: `  easysave jobs add docs ~/Documents /mnt/backup/docs --type differential
  easysave run 1-3
  easysave run "1;3" --control
  easysave status
  easysave serve --listen 0.0.0.0:8080
  easysave export --to /mnt/usb`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			if err := loadConfig(); err != nil {
				return err
			}

			if !shouldSkipComponentInit(cmd) {
				if err := initializeComponents(); err != nil {
					return fmt.Errorf("failed to initialize components: %w", err)
				}
			}

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeStore()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override data directory")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	cmd.AddCommand(
		newRunCmd(),
		newJobsCmd(),
		newStatusCmd(),
		newServeCmd(),
		newExportCmd(),
		newImportCmd(),
		newDecryptCmd(),
		newProcessesCmd(),
		newConfigCmd(),
	)

	return cmd
}

// loadConfig discovers and loads the config, applying flag overrides.
func loadConfig() error {
	if cfgPath == "" {
		var err error
		cfgPath, err = config.FindConfigFile()
		if err != nil {
			logger.Debug("config file not found, using defaults", "error", err)
		}
	}

	if cfgPath != "" {
		var err error
		globalCfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	} else {
		globalCfg = config.DefaultConfig()
	}

	if dataDir != "" {
		globalCfg.DataDir = dataDir
	}
	if err := globalCfg.Validate(); err != nil {
		return err
	}

	if !quiet {
		logger.Debug("config loaded", "path", cfgPath, "data_dir", globalCfg.DataDir)
	}
	return nil
}

// configWritePath is where mutating commands save the config.
func configWritePath() string {
	if cfgPath != "" {
		return cfgPath
	}
	return config.UserConfigPath()
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if quiet && level < slog.LevelError {
		level = slog.LevelError
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":       true,
		"version":    true,
		"completion": true,
	}
	return skipConfigCmds[cmdName]
}
