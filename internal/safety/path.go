// Package safety keeps backup copies and unpacked bundles inside their
// destination trees, and bounds what the log client and server exchange.
package safety

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrEscapesRoot is returned when a path would land outside its root.
var ErrEscapesRoot = errors.New("path escapes root")

// CleanRelativePath normalizes rel for joining under a destination root.
// Empty, absolute and parent-traversing paths are rejected.
func CleanRelativePath(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("relative path is empty")
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	switch {
	case clean == ".":
		return "", fmt.Errorf("relative path %q names the root itself", rel)
	case filepath.IsAbs(clean):
		return "", fmt.Errorf("%w: %q is absolute", ErrEscapesRoot, rel)
	case isParentRel(clean):
		return "", fmt.Errorf("%w: %q", ErrEscapesRoot, rel)
	}
	return clean, nil
}

// SafeJoinUnder joins rel below root and returns the absolute result.
func SafeJoinUnder(root, rel string) (string, error) {
	clean, err := CleanRelativePath(rel)
	if err != nil {
		return "", err
	}
	joined := filepath.Join(root, clean)
	inside, err := Within(root, joined)
	if err != nil {
		return "", err
	}
	if !inside {
		return "", fmt.Errorf("%w: %q", ErrEscapesRoot, rel)
	}
	return filepath.Abs(joined)
}

// Within reports whether path is root itself or lies below it. Both are
// made absolute first; symlinks are not resolved.
func Within(root, path string) (bool, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return false, fmt.Errorf("resolving %s: %w", root, err)
	}
	pathAbs, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("resolving %s: %w", path, err)
	}
	rel, err := filepath.Rel(rootAbs, pathAbs)
	if err != nil {
		return false, nil
	}
	return !isParentRel(rel), nil
}

// CheckDisjoint rejects a backup target that is the source directory or
// lies inside it, since the copy would then feed on itself.
func CheckDisjoint(source, target string) error {
	inside, err := Within(source, target)
	if err != nil {
		return err
	}
	if inside {
		return fmt.Errorf("target %s is inside source %s", target, source)
	}
	return nil
}

func isParentRel(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
