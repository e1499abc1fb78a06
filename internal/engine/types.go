package engine

import (
	"fmt"
	"strings"
	"time"
)

// JobType selects how a job's file set is computed.
type JobType string

const (
	TypeComplete     JobType = "complete"
	TypeDifferential JobType = "differential"
)

// ParseJobType accepts the type names used in config files and on the CLI.
func ParseJobType(s string) (JobType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "complete", "full":
		return TypeComplete, nil
	case "differential", "diff":
		return TypeDifferential, nil
	default:
		return "", fmt.Errorf("unknown backup type %q (want complete or differential)", s)
	}
}

// BackupJob is an immutable job definition.
type BackupJob struct {
	Name      string  `json:"name"`
	SourceDir string  `json:"source_dir"`
	TargetDir string  `json:"target_dir"`
	Type      JobType `json:"type"`
}

// FileTask is one file transfer produced by the enumerator.
type FileTask struct {
	SourcePath      string
	DestinationPath string
	JobName         string
	IsEncrypted     bool
	IsPriority      bool
	FileSize        int64
}

// BackupJobState is the progress record of one tracked job. Values handed to
// callers are copies; the live instances belong to the StateReporter.
type BackupJobState struct {
	ID                  int       `json:"id"`
	RunID               string    `json:"run_id,omitempty"`
	Name                string    `json:"name"`
	SourcePath          string    `json:"source_path"`
	TargetPath          string    `json:"target_path"`
	Type                JobType   `json:"type"`
	State               JobState  `json:"state"`
	LastActionTimestamp time.Time `json:"last_action_timestamp"`
	TotalFiles          int       `json:"total_files"`
	TotalSize           int64     `json:"total_size"`
	RemainingFiles      int       `json:"remaining_files"`
	RemainingSize       int64     `json:"remaining_size"`
	FailedFiles         int       `json:"failed_files"`
	CurrentSourceFile   string    `json:"current_source_file,omitempty"`
	CurrentTargetFile   string    `json:"current_target_file,omitempty"`
	ProgressPercentage  float64   `json:"progress_percentage"`
}

// Progress returns (TotalSize-RemainingSize)/TotalSize*100, or 0 when
// TotalSize is 0.
func (s BackupJobState) Progress() float64 {
	if s.TotalSize == 0 {
		return 0
	}
	return float64(s.TotalSize-s.RemainingSize) / float64(s.TotalSize) * 100
}
