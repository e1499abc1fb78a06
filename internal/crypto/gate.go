package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BadgerOps/easysave/internal/engine"
)

// Encrypted files start with magic followed by a random CTR IV.
const (
	magic     = "ESV1"
	ivLen     = aes.BlockSize
	headerLen = len(magic) + ivLen
)

// ErrCipher marks failures of the content cipher.
var ErrCipher = errors.New("content cipher failed")

// ErrNotEncrypted is returned when decrypting a file without the header.
var ErrNotEncrypted = errors.New("file is not an encrypted backup")

// Gate copies backup files, encrypting those whose extension is selected by
// Settings.
type Gate struct {
	settings *Settings
	bufSize  int
	logger   *slog.Logger
}

// NewGate creates a gate reading settings for every file.
func NewGate(settings *Settings, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if settings == nil {
		settings = NewSettings("", nil)
	}
	return &Gate{settings: settings, bufSize: 256 * 1024, logger: logger}
}

// Settings returns the shared settings the gate reads.
func (g *Gate) Settings() *Settings {
	return g.settings
}

// ShouldEncrypt reports whether path will be encrypted.
func (g *Gate) ShouldEncrypt(path string) bool {
	return g.settings.ShouldEncrypt(path)
}

// TransferFile copies task.SourcePath to task.DestinationPath. Content goes
// to a temporary file that replaces the destination only once complete, and
// the destination takes the source's modification time. Failures are
// *engine.Error values of kind IO or Encryption; the result then reflects
// the partial attempt.
func (g *Gate) TransferFile(ctx context.Context, task engine.FileTask) (res engine.TransferResult, err error) {
	if err := ctx.Err(); err != nil {
		return res, g.ioError(task, err)
	}
	start := time.Now()
	defer func() { res.TransferTime = time.Since(start) }()

	encrypt := g.settings.ShouldEncrypt(task.SourcePath)
	var stream cipher.Stream
	var iv []byte
	if encrypt {
		key, err := g.settings.contentKey()
		if err != nil {
			return res, g.cipherError(task, err)
		}
		iv = make([]byte, ivLen)
		if _, err := io.ReadFull(rand.Reader, iv); err != nil {
			return res, g.cipherError(task, err)
		}
		stream, err = newStream(key, iv)
		if err != nil {
			return res, g.cipherError(task, err)
		}
		res.Encrypted = true
	}

	src, err := os.Open(task.SourcePath)
	if err != nil {
		return res, g.ioError(task, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return res, g.ioError(task, err)
	}

	dir := filepath.Dir(task.DestinationPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return res, g.ioError(task, fmt.Errorf("creating %s: %w", dir, err))
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(task.DestinationPath)+".*.part")
	if err != nil {
		return res, g.ioError(task, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	var w io.Writer = tmp
	var timed *timedStream
	if encrypt {
		if _, err := tmp.Write(append([]byte(magic), iv...)); err != nil {
			return res, g.ioError(task, err)
		}
		timed = &timedStream{stream: stream}
		w = &cipher.StreamWriter{S: timed, W: tmp}
	}

	buf := make([]byte, g.bufSize)
	n, err := io.CopyBuffer(w, src, buf)
	res.Bytes = n
	if timed != nil {
		res.EncryptionTime = timed.elapsed
	}
	if err != nil {
		return res, g.ioError(task, fmt.Errorf("copying: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return res, g.ioError(task, err)
	}
	if err := os.Chtimes(tmp.Name(), info.ModTime(), info.ModTime()); err != nil {
		return res, g.ioError(task, err)
	}
	if err := os.Rename(tmp.Name(), task.DestinationPath); err != nil {
		return res, g.ioError(task, err)
	}
	committed = true

	g.logger.Debug("file copied", "path", task.SourcePath, "bytes", n, "encrypted", encrypt)
	return res, nil
}

func (g *Gate) ioError(task engine.FileTask, err error) error {
	return &engine.Error{Kind: engine.KindIO, Job: task.JobName, Path: task.SourcePath, Err: err}
}

func (g *Gate) cipherError(task engine.FileTask, err error) error {
	return &engine.Error{Kind: engine.KindEncryption, Job: task.JobName, Path: task.SourcePath, Err: fmt.Errorf("%w: %w", ErrCipher, err)}
}

func newStream(key, iv []byte) (cipher.Stream, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewCTR(block, iv), nil
}

// timedStream accumulates the time spent in the cipher.
type timedStream struct {
	stream  cipher.Stream
	elapsed time.Duration
}

func (t *timedStream) XORKeyStream(dst, src []byte) {
	start := time.Now()
	t.stream.XORKeyStream(dst, src)
	t.elapsed += time.Since(start)
}

// IsEncryptedFile reports whether path starts with the encryption header.
func IsEncryptedFile(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	head := make([]byte, len(magic))
	if _, err := io.ReadFull(f, head); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, err
	}
	return string(head) == magic, nil
}

// Decrypt streams an encrypted backup from r to w using key.
func Decrypt(w io.Writer, r io.Reader, key []byte) (int64, error) {
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, ErrNotEncrypted
	}
	if string(header[:len(magic)]) != magic {
		return 0, ErrNotEncrypted
	}
	stream, err := newStream(key, header[len(magic):])
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCipher, err)
	}
	return io.Copy(w, &cipher.StreamReader{S: stream, R: r})
}

// DecryptFile restores an encrypted backup at src to dst with the key
// derived from settings.
func DecryptFile(settings *Settings, src, dst string) error {
	key, err := settings.contentKey()
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := Decrypt(out, in, key); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("decrypting %s: %w", src, err)
	}
	return out.Close()
}
