package store

import "time"

// JobRecord is a persisted backup job definition. Position in the list
// (ordered by ID) is the job's 1-based index.
type JobRecord struct {
	ID        int64
	Name      string
	SourceDir string
	TargetDir string
	Type      string // "complete" or "differential"
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RunRecord summarizes one backup run launched from this machine.
type RunRecord struct {
	ID           int64
	RunID        string
	Jobs         string // comma-separated job names
	StartTime    time.Time
	EndTime      time.Time
	FilesCopied  int
	FilesFailed  int
	BytesCopied  int64
	Status       string // "running", "completed", "stopped", "failed"
	ErrorMessage string
}

// LogRecord is a transfer log entry received by the ingestion server.
type LogRecord struct {
	ID              string
	RunID           string
	Name            string
	Source          string
	Target          string
	Size            int64
	TransferTime    int64
	EncryptionTime  int64
	Timestamp       time.Time
	MachineIdentity string
	UserIdentity    string
	Error           string
	RemoteAddr      string
	ReceivedAt      time.Time
}
