package store

import (
	"fmt"
)

// migrate runs all pending migrations
func (s *Store) migrate() error {
	createMigrationsTableSQL := `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`
	if _, err := s.db.Exec(createMigrationsTableSQL); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}
	s.logger.Debug("current schema version", "version", currentVersion)

	migrations := []struct {
		version int
		sql     string
	}{
		{
			version: 1,
			sql: `
				CREATE TABLE backup_jobs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL UNIQUE,
					source_dir TEXT NOT NULL,
					target_dir TEXT NOT NULL,
					type TEXT NOT NULL,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				);

				CREATE TABLE backup_runs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					run_id TEXT,
					jobs TEXT NOT NULL,
					start_time DATETIME NOT NULL,
					end_time DATETIME,
					files_copied INTEGER DEFAULT 0,
					files_failed INTEGER DEFAULT 0,
					bytes_copied INTEGER DEFAULT 0,
					status TEXT DEFAULT 'running',
					error_message TEXT
				);
			`,
		},
		{
			version: 2,
			sql: `
				CREATE TABLE log_entries (
					id TEXT PRIMARY KEY,
					run_id TEXT,
					name TEXT NOT NULL,
					source TEXT NOT NULL,
					target TEXT NOT NULL,
					size INTEGER DEFAULT 0,
					transfer_ms INTEGER DEFAULT 0,
					encryption_ms INTEGER DEFAULT 0,
					timestamp DATETIME NOT NULL,
					machine TEXT,
					username TEXT,
					error TEXT,
					remote_addr TEXT,
					received_at DATETIME NOT NULL
				);

				CREATE INDEX idx_log_entries_timestamp ON log_entries(timestamp);
				CREATE INDEX idx_log_entries_name ON log_entries(name);
			`,
		},
	}

	for _, mig := range migrations {
		if mig.version > currentVersion {
			s.logger.Info("running migration", "version", mig.version)
			if err := s.runMigration(mig.version, mig.sql); err != nil {
				return fmt.Errorf("failed to run migration %d: %w", mig.version, err)
			}
		}
	}

	return nil
}

// runMigration executes a migration and records it
func (s *Store) runMigration(version int, sql string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(sql); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO migrations (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration transaction: %w", err)
	}
	return nil
}
