package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BadgerOps/easysave/internal/engine"
)

// StateFile persists the full list of job states as one JSON document.
// Every write replaces the previous content atomically.
type StateFile struct {
	mu   sync.Mutex
	path string
}

// NewStateFile creates a state file at path.
func NewStateFile(path string) *StateFile {
	return &StateFile{path: path}
}

// SetPath changes the location used by subsequent writes.
func (f *StateFile) SetPath(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.path = path
}

// Path returns the current location.
func (f *StateFile) Path() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.path
}

// UpdateState writes states, replacing the previous snapshot.
func (f *StateFile) UpdateState(states []engine.BackupJobState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if states == nil {
		states = []engine.BackupJobState{}
	}
	data, err := json.MarshalIndent(states, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("writing state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("closing state: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}

// Load reads the last snapshot. A missing file yields no states.
func (f *StateFile) Load() ([]engine.BackupJobState, error) {
	data, err := os.ReadFile(f.Path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state file: %w", err)
	}
	var states []engine.BackupJobState
	if err := json.Unmarshal(data, &states); err != nil {
		return nil, fmt.Errorf("parsing state file: %w", err)
	}
	return states, nil
}
