package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/BadgerOps/easysave/internal/engine"
	"github.com/BadgerOps/easysave/internal/logsink"
	"github.com/BadgerOps/easysave/internal/safety"
)

var (
	// ErrJobExists is returned when creating a job whose name is taken.
	ErrJobExists = errors.New("job already exists")
	// ErrJobNotFound is returned for operations on an unknown job name.
	ErrJobNotFound = errors.New("job not found")
)

// Store provides SQLite-backed persistence
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps :memory: databases intact and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("store initialized", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// ============================================================================
// Backup Job Operations
// ============================================================================

// ValidateJob checks a job definition before it is stored.
func ValidateJob(job engine.BackupJob) (engine.BackupJob, error) {
	job.Name = strings.TrimSpace(job.Name)
	if job.Name == "" {
		return job, fmt.Errorf("job name is required")
	}
	if strings.ContainsAny(job.Name, ",;") {
		return job, fmt.Errorf("job name %q must not contain ',' or ';'", job.Name)
	}
	t, err := engine.ParseJobType(string(job.Type))
	if err != nil {
		return job, err
	}
	job.Type = t

	if job.SourceDir == "" || job.TargetDir == "" {
		return job, fmt.Errorf("source and target directories are required")
	}
	info, err := os.Stat(job.SourceDir)
	if err != nil {
		return job, fmt.Errorf("source directory: %w", err)
	}
	if !info.IsDir() {
		return job, fmt.Errorf("source %s is not a directory", job.SourceDir)
	}
	if err := safety.CheckDisjoint(job.SourceDir, job.TargetDir); err != nil {
		return job, err
	}
	return job, nil
}

// CreateJob validates and appends a job to the list.
func (s *Store) CreateJob(job engine.BackupJob) (*JobRecord, error) {
	job, err := ValidateJob(job)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetJobByName(job.Name); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobExists, job.Name)
	} else if !errors.Is(err, ErrJobNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	const query = `
		INSERT INTO backup_jobs (name, source_dir, target_dir, type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.Exec(query, job.Name, job.SourceDir, job.TargetDir, string(job.Type), now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert job: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}
	return &JobRecord{
		ID:        id,
		Name:      job.Name,
		SourceDir: job.SourceDir,
		TargetDir: job.TargetDir,
		Type:      string(job.Type),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// UpdateJob replaces the definition of the named job, keeping its position.
func (s *Store) UpdateJob(name string, job engine.BackupJob) error {
	job, err := ValidateJob(job)
	if err != nil {
		return err
	}
	const query = `
		UPDATE backup_jobs SET name = ?, source_dir = ?, target_dir = ?, type = ?, updated_at = ?
		WHERE name = ?
	`
	result, err := s.db.Exec(query, job.Name, job.SourceDir, job.TargetDir, string(job.Type), time.Now().UTC(), name)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("%w: %s", ErrJobExists, job.Name)
		}
		return fmt.Errorf("failed to update job: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return nil
}

// RemoveJob deletes the named job. Later jobs move up one index.
func (s *Store) RemoveJob(name string) error {
	result, err := s.db.Exec("DELETE FROM backup_jobs WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return nil
}

// ListJobs returns every job in index order.
func (s *Store) ListJobs() ([]JobRecord, error) {
	const query = `
		SELECT id, name, source_dir, target_dir, type, created_at, updated_at
		FROM backup_jobs ORDER BY id
	`
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []JobRecord
	for rows.Next() {
		var j JobRecord
		if err := rows.Scan(&j.ID, &j.Name, &j.SourceDir, &j.TargetDir, &j.Type, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}
	return jobs, nil
}

// GetJobByName returns the named job record.
func (s *Store) GetJobByName(name string) (*JobRecord, error) {
	const query = `
		SELECT id, name, source_dir, target_dir, type, created_at, updated_at
		FROM backup_jobs WHERE name = ?
	`
	var j JobRecord
	err := s.db.QueryRow(query, name).Scan(&j.ID, &j.Name, &j.SourceDir, &j.TargetDir, &j.Type, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
		}
		return nil, fmt.Errorf("failed to query job: %w", err)
	}
	return &j, nil
}

// GetJob resolves a 1-based index to a job definition.
func (s *Store) GetJob(index int) (engine.BackupJob, bool) {
	if index < 1 {
		return engine.BackupJob{}, false
	}
	const query = `
		SELECT name, source_dir, target_dir, type
		FROM backup_jobs ORDER BY id LIMIT 1 OFFSET ?
	`
	var (
		job engine.BackupJob
		typ string
	)
	err := s.db.QueryRow(query, index-1).Scan(&job.Name, &job.SourceDir, &job.TargetDir, &typ)
	if err != nil {
		if err != sql.ErrNoRows {
			s.logger.Error("failed to load job", "index", index, "error", err)
		}
		return engine.BackupJob{}, false
	}
	job.Type = engine.JobType(typ)
	return job, true
}

// CountJobs returns the number of defined jobs.
func (s *Store) CountJobs() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM backup_jobs").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return n, nil
}

// ToBackupJob converts a record to the engine definition.
func (j JobRecord) ToBackupJob() engine.BackupJob {
	return engine.BackupJob{Name: j.Name, SourceDir: j.SourceDir, TargetDir: j.TargetDir, Type: engine.JobType(j.Type)}
}

// ============================================================================
// Backup Run Operations
// ============================================================================

// CreateRun inserts a new RunRecord and sets its ID
func (s *Store) CreateRun(run *RunRecord) error {
	const query = `
		INSERT INTO backup_runs (
			run_id, jobs, start_time, end_time, files_copied, files_failed,
			bytes_copied, status, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.Exec(
		query,
		run.RunID, run.Jobs, run.StartTime, run.EndTime, run.FilesCopied,
		run.FilesFailed, run.BytesCopied, run.Status, run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	run.ID = id
	return nil
}

// UpdateRun updates an existing RunRecord by ID
func (s *Store) UpdateRun(run *RunRecord) error {
	const query = `
		UPDATE backup_runs SET
			run_id = ?, jobs = ?, start_time = ?, end_time = ?, files_copied = ?,
			files_failed = ?, bytes_copied = ?, status = ?, error_message = ?
		WHERE id = ?
	`
	result, err := s.db.Exec(
		query,
		run.RunID, run.Jobs, run.StartTime, run.EndTime, run.FilesCopied,
		run.FilesFailed, run.BytesCopied, run.Status, run.ErrorMessage, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("run not found: %d", run.ID)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	query := `
		SELECT id, run_id, jobs, start_time, end_time, files_copied, files_failed,
		       bytes_copied, status, error_message
		FROM backup_runs ORDER BY start_time DESC, id DESC
	`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		err := rows.Scan(
			&r.ID, &r.RunID, &r.Jobs, &r.StartTime, &r.EndTime, &r.FilesCopied,
			&r.FilesFailed, &r.BytesCopied, &r.Status, &r.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// ============================================================================
// Ingested Log Operations
// ============================================================================

// InsertLogEntry stores an entry received from remoteAddr and returns the
// stored record with its generated ID.
func (s *Store) InsertLogEntry(e logsink.Entry, remoteAddr string) (*LogRecord, error) {
	rec := &LogRecord{
		ID:              uuid.NewString(),
		RunID:           e.RunID,
		Name:            e.Name,
		Source:          e.Source,
		Target:          e.Target,
		Size:            e.Size,
		TransferTime:    e.TransferTime,
		EncryptionTime:  e.EncryptionTime,
		Timestamp:       e.Timestamp.UTC(),
		MachineIdentity: e.MachineIdentity,
		UserIdentity:    e.UserIdentity,
		Error:           e.Error,
		RemoteAddr:      remoteAddr,
		ReceivedAt:      time.Now().UTC(),
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = rec.ReceivedAt
	}

	const query = `
		INSERT INTO log_entries (
			id, run_id, name, source, target, size, transfer_ms, encryption_ms,
			timestamp, machine, username, error, remote_addr, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(
		query,
		rec.ID, rec.RunID, rec.Name, rec.Source, rec.Target, rec.Size,
		rec.TransferTime, rec.EncryptionTime, rec.Timestamp, rec.MachineIdentity,
		rec.UserIdentity, rec.Error, rec.RemoteAddr, rec.ReceivedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert log entry: %w", err)
	}
	return rec, nil
}

// ListLogEntries returns stored entries, newest first, optionally filtered
// by job name.
func (s *Store) ListLogEntries(job string, limit int) ([]LogRecord, error) {
	query := `
		SELECT id, run_id, name, source, target, size, transfer_ms, encryption_ms,
		       timestamp, machine, username, error, remote_addr, received_at
		FROM log_entries
	`
	var args []interface{}
	if job != "" {
		query += " WHERE name = ?"
		args = append(args, job)
	}
	query += " ORDER BY timestamp DESC, received_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query log entries: %w", err)
	}
	defer rows.Close()

	var out []LogRecord
	for rows.Next() {
		var r LogRecord
		err := rows.Scan(
			&r.ID, &r.RunID, &r.Name, &r.Source, &r.Target, &r.Size,
			&r.TransferTime, &r.EncryptionTime, &r.Timestamp, &r.MachineIdentity,
			&r.UserIdentity, &r.Error, &r.RemoteAddr, &r.ReceivedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating log entries: %w", err)
	}
	return out, nil
}

// CountLogEntries returns how many entries have been stored.
func (s *Store) CountLogEntries() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM log_entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count log entries: %w", err)
	}
	return n, nil
}

// ToEntry converts a stored record back to a log entry.
func (r LogRecord) ToEntry() logsink.Entry {
	return logsink.Entry{
		Name:            r.Name,
		Source:          r.Source,
		Target:          r.Target,
		Size:            r.Size,
		TransferTime:    r.TransferTime,
		EncryptionTime:  r.EncryptionTime,
		Timestamp:       r.Timestamp,
		MachineIdentity: r.MachineIdentity,
		UserIdentity:    r.UserIdentity,
		RunID:           r.RunID,
		Error:           r.Error,
	}
}
