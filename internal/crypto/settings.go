// Package crypto decides which files are encrypted during a backup and
// streams their content through AES-256-CTR keyed from a passphrase.
package crypto

import (
	"errors"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/crypto/argon2"

	"github.com/BadgerOps/easysave/internal/engine"
)

// Argon2id parameters for deriving the content key.
const (
	argon2Time    = 3
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4
	argon2KeyLen  = 32 // AES-256
)

// keySalt is fixed so the same passphrase always yields the same key and
// backups stay decryptable from the passphrase alone.
var keySalt = []byte("easysave/content-key/v1")

// ErrNoKey is returned when a file must be encrypted but no key is set.
var ErrNoKey = errors.New("encryption key not configured")

// DeriveKey derives an AES-256 key from a passphrase using Argon2id.
func DeriveKey(passphrase string) []byte {
	return argon2.IDKey([]byte(passphrase), keySalt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
}

// Settings is the shared, mutable encryption configuration. It is safe for
// concurrent use; every file reads it afresh.
type Settings struct {
	mu         sync.RWMutex
	passphrase string
	derived    []byte
	extensions map[string]struct{}
}

// NewSettings creates settings with the given passphrase and extension set.
func NewSettings(passphrase string, extensions []string) *Settings {
	s := &Settings{passphrase: passphrase, extensions: make(map[string]struct{})}
	for _, ext := range extensions {
		s.addLocked(ext)
	}
	return s
}

// SetKey replaces the passphrase. The derived key is recomputed on next use.
func (s *Settings) SetKey(passphrase string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if passphrase != s.passphrase {
		s.passphrase = passphrase
		s.derived = nil
	}
}

// Key returns the configured passphrase.
func (s *Settings) Key() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.passphrase
}

// SetExtensions replaces the extension set.
func (s *Settings) SetExtensions(extensions []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extensions = make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		s.addLocked(ext)
	}
}

// AddExtension adds ext (with or without leading dot) to the set.
func (s *Settings) AddExtension(ext string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(ext)
}

// RemoveExtension removes ext from the set.
func (s *Settings) RemoveExtension(ext string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.extensions, engine.NormalizeExtension(ext))
}

func (s *Settings) addLocked(ext string) {
	if n := engine.NormalizeExtension(ext); n != "" {
		s.extensions[n] = struct{}{}
	}
}

// Extensions returns the extension set, sorted.
func (s *Settings) Extensions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.extensions))
	for ext := range s.extensions {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// ShouldEncrypt reports whether path's extension is in the set.
func (s *Settings) ShouldEncrypt(path string) bool {
	ext := engine.NormalizeExtension(filepath.Ext(path))
	if ext == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.extensions[ext]
	return ok
}

// contentKey returns the derived key, deriving it once per passphrase.
func (s *Settings) contentKey() ([]byte, error) {
	s.mu.RLock()
	key, pass := s.derived, s.passphrase
	s.mu.RUnlock()
	if key != nil {
		return key, nil
	}
	if pass == "" {
		return nil, ErrNoKey
	}

	key = DeriveKey(pass)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.passphrase == pass {
		s.derived = key
	}
	return key, nil
}
