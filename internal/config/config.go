package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/easysave/internal/engine"
	"github.com/BadgerOps/easysave/internal/logsink"
)

// Config is the top-level configuration
type Config struct {
	DataDir    string           `yaml:"data_dir"`
	DBPath     string           `yaml:"db_path"`
	StatePath  string           `yaml:"state_path"`
	Engine     EngineConfig     `yaml:"engine"`
	Encryption EncryptionConfig `yaml:"encryption"`
	Processes  ProcessConfig    `yaml:"processes"`
	Logging    LoggingConfig    `yaml:"logging"`
	Server     ServerConfig     `yaml:"server"`
}

// EngineConfig holds scheduling settings
type EngineConfig struct {
	MaxSimultaneousJobs int      `yaml:"max_simultaneous_jobs"`
	LargeFileThreshold  string   `yaml:"large_file_threshold"`
	PriorityExtensions  []string `yaml:"priority_extensions"`
}

// EncryptionConfig holds the content key and the extensions it applies to
type EncryptionConfig struct {
	Key        string   `yaml:"key"`
	Extensions []string `yaml:"extensions"`
}

// ProcessConfig lists the business processes that interrupt backups
type ProcessConfig struct {
	Watched      []string      `yaml:"watched"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// LoggingConfig selects where transfer log entries go
type LoggingConfig struct {
	Target    string `yaml:"target"`
	Format    string `yaml:"format"`
	Dir       string `yaml:"dir"`
	ServerURL string `yaml:"server_url"`
}

// ServerConfig holds log ingestion server settings
type ServerConfig struct {
	Listen            string  `yaml:"listen"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// DefaultDataDir returns the per-user data directory.
func DefaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "easysave")
	}
	return "easysave-data"
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		Engine: EngineConfig{
			MaxSimultaneousJobs: engine.DefaultMaxSimultaneousJobs,
			LargeFileThreshold:  "10MB",
		},
		Processes: ProcessConfig{
			PollInterval: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Target: string(logsink.TargetLocal),
			Format: string(logsink.FormatJSON),
		},
		Server: ServerConfig{
			Listen:            "0.0.0.0:8080",
			RequestsPerSecond: 10,
			Burst:             20,
		},
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Save writes the config as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"easysave.yaml",
		"/etc/easysave/easysave.yaml",
	}

	if p := UserConfigPath(); p != "" {
		searchPaths = append(searchPaths, p)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// UserConfigPath is where `config init` writes by default.
func UserConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "easysave", "easysave.yaml")
}

// Validate checks values that cannot be repaired by defaults.
func (c *Config) Validate() error {
	var problems []string
	if c.Engine.MaxSimultaneousJobs < 1 {
		problems = append(problems, "engine.max_simultaneous_jobs must be at least 1")
	}
	if _, err := c.LargeFileThreshold(); err != nil {
		problems = append(problems, fmt.Sprintf("engine.large_file_threshold: %v", err))
	}
	if _, err := logsink.ParseTarget(c.Logging.Target); err != nil {
		problems = append(problems, "logging.target: "+err.Error())
	}
	if _, err := logsink.ParseFormat(c.Logging.Format); err != nil {
		problems = append(problems, "logging.format: "+err.Error())
	}
	if t, _ := logsink.ParseTarget(c.Logging.Target); t == logsink.TargetServer || t == logsink.TargetBoth {
		if strings.TrimSpace(c.Logging.ServerURL) == "" {
			problems = append(problems, "logging.server_url is required when logging.target is "+string(t))
		}
	}
	if c.Processes.PollInterval < 0 {
		problems = append(problems, "processes.poll_interval must not be negative")
	}
	if c.Server.RequestsPerSecond < 0 || c.Server.Burst < 0 {
		problems = append(problems, "server rate limits must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// LargeFileThreshold parses engine.large_file_threshold into bytes.
func (c *Config) LargeFileThreshold() (int64, error) {
	if strings.TrimSpace(c.Engine.LargeFileThreshold) == "" {
		return engine.DefaultLargeFileThreshold, nil
	}
	n, err := engine.ParseSize(c.Engine.LargeFileThreshold)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("threshold must be positive")
	}
	return n, nil
}

// DatabasePath returns db_path, defaulting under the data directory.
func (c *Config) DatabasePath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.DataDir, "easysave.db")
}

// StateFilePath returns state_path, defaulting under the data directory.
func (c *Config) StateFilePath() string {
	if c.StatePath != "" {
		return c.StatePath
	}
	return filepath.Join(c.DataDir, "state.json")
}

// LogDir returns logging.dir, defaulting under the data directory.
func (c *Config) LogDir() string {
	if c.Logging.Dir != "" {
		return c.Logging.Dir
	}
	return filepath.Join(c.DataDir, "logs")
}
