package logsink

import (
	"bufio"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileSink appends entries to one file per day under a directory.
type FileSink struct {
	mu     sync.Mutex
	dir    string
	format Format
	now    func() time.Time
}

// NewFileSink creates a sink writing format files under dir.
func NewFileSink(dir string, format Format) *FileSink {
	if format == "" {
		format = FormatJSON
	}
	return &FileSink{dir: dir, format: format, now: time.Now}
}

// SetDir changes the directory used for subsequent writes.
func (s *FileSink) SetDir(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dir = dir
}

// Dir returns the current log directory.
func (s *FileSink) Dir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir
}

// SetFormat changes the encoding used for subsequent writes.
func (s *FileSink) SetFormat(format Format) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.format = format
}

// Path returns the file an entry written at t goes to.
func (s *FileSink) Path(t time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pathLocked(t)
}

func (s *FileSink) pathLocked(t time.Time) string {
	return filepath.Join(s.dir, t.Format("2006-01-02")+"."+string(s.format))
}

// Write appends e to today's file.
func (s *FileSink) Write(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch s.format {
	case FormatXML:
		data, err = xml.MarshalIndent(e, "", "  ")
	default:
		data, err = json.Marshal(e)
	}
	if err != nil {
		return fmt.Errorf("encoding log entry: %w", err)
	}
	data = append(data, '\n')

	path := s.pathLocked(s.now())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing log file: %w", err)
	}
	return f.Close()
}

// Files lists the daily log files in the directory, oldest first.
func (s *FileSink) Files() ([]string, error) {
	dir := s.Dir()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var files []string
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		ext := filepath.Ext(de.Name())
		if ext == ".json" || ext == ".xml" {
			files = append(files, filepath.Join(dir, de.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// ReadFile decodes every entry in a daily log file of either format.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	if strings.HasSuffix(path, ".xml") {
		dec := xml.NewDecoder(f)
		for {
			var e Entry
			if err := dec.Decode(&e); err != nil {
				if errors.Is(err, io.EOF) {
					return entries, nil
				}
				return nil, fmt.Errorf("decoding %s: %w", path, err)
			}
			entries = append(entries, e)
		}
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}
