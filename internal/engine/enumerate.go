package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BadgerOps/easysave/internal/safety"
)

// Enumerator builds the ordered task list for one run of a job.
type Enumerator struct {
	// PriorityExtensions marks tasks that must be dispatched before any other.
	PriorityExtensions []string
	// Encrypted reports whether a source path will go through the cipher.
	// Nil means nothing is encrypted.
	Encrypted func(path string) bool
	// Logger receives a warning for every entry left out of the walk.
	Logger *slog.Logger

	// Skipped lists the paths the last Enumerate left out: unreadable
	// directories and files, symlinks and other non-regular entries.
	Skipped []string
}

// NormalizeExtension lower-cases ext and ensures a leading dot.
func NormalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// Enumerate walks job.SourceDir in lexical order and returns the tasks to
// transfer along with their count and total size. For differential jobs a
// file is included only when its mirror under TargetDir is missing or older.
func (e *Enumerator) Enumerate(job BackupJob) ([]FileTask, int, int64, error) {
	priority := make(map[string]struct{}, len(e.PriorityExtensions))
	for _, ext := range e.PriorityExtensions {
		if n := NormalizeExtension(ext); n != "" {
			priority[n] = struct{}{}
		}
	}

	var (
		tasks     []FileTask
		totalSize int64
	)
	e.Skipped = nil
	err := filepath.WalkDir(job.SourceDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == job.SourceDir {
				return walkErr
			}
			e.skip(path, "unreadable", walkErr)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			e.skip(path, "not a regular file", nil)
			return nil
		}

		info, err := d.Info()
		if err != nil {
			e.skip(path, "unreadable", err)
			return nil
		}
		rel, err := filepath.Rel(job.SourceDir, path)
		if err != nil {
			return err
		}
		dest, err := safety.SafeJoinUnder(job.TargetDir, rel)
		if err != nil {
			return err
		}

		if job.Type == TypeDifferential {
			changed, err := needsCopy(info, dest)
			if err != nil {
				return err
			}
			if !changed {
				return nil
			}
		}

		_, isPriority := priority[NormalizeExtension(filepath.Ext(path))]
		task := FileTask{
			SourcePath:      path,
			DestinationPath: dest,
			JobName:         job.Name,
			IsPriority:      isPriority,
			FileSize:        info.Size(),
		}
		if e.Encrypted != nil {
			task.IsEncrypted = e.Encrypted(path)
		}
		tasks = append(tasks, task)
		totalSize += info.Size()
		return nil
	})
	if err != nil {
		return nil, 0, 0, fmt.Errorf("enumerating %s: %w", job.SourceDir, err)
	}
	return tasks, len(tasks), totalSize, nil
}

func (e *Enumerator) skip(path, reason string, err error) {
	e.Skipped = append(e.Skipped, path)
	if e.Logger == nil {
		return
	}
	if err != nil {
		e.Logger.Warn("skipping source entry", "path", path, "reason", reason, "error", err)
	} else {
		e.Logger.Warn("skipping source entry", "path", path, "reason", reason)
	}
}

// needsCopy applies the differential rule: destination absent, or source
// modified strictly after destination.
func needsCopy(src fs.FileInfo, dest string) (bool, error) {
	dst, err := os.Stat(dest)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return src.ModTime().After(dst.ModTime()), nil
}
