package logsink

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/BadgerOps/easysave/internal/safety"
)

const (
	manifestName   = "easysave-manifest.json"
	archivePattern = "easysave-logs-%03d.tar.%s"
)

// Archive compression codecs.
const (
	CompressionZstd = "zstd"
	CompressionXZ   = "xz"
)

func compressionExt(codec string) (string, error) {
	switch codec {
	case "", CompressionZstd:
		return "zst", nil
	case CompressionXZ:
		return "xz", nil
	}
	return "", fmt.Errorf("unsupported compression %q (want zstd or xz)", codec)
}

func newCompressor(codec string, w io.Writer) (io.WriteCloser, error) {
	if codec == CompressionXZ {
		return xz.NewWriter(w)
	}
	return zstd.NewWriter(w)
}

func newDecompressor(codec string, r io.Reader) (io.Reader, func(), error) {
	if codec == CompressionXZ {
		xr, err := xz.NewReader(r)
		return xr, func() {}, err
	}
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, nil, err
	}
	return zr, zr.Close, nil
}

// ExportOptions configures a log bundle export.
type ExportOptions struct {
	OutputDir string
	SplitSize int64
	LogFiles  []string
	// StateFile is included when set and present on disk.
	StateFile string
	// Compression is zstd (default) or xz.
	Compression string
}

// ExportReport summarizes a completed export.
type ExportReport struct {
	Archives     []BundleArchive
	TotalFiles   int
	TotalSize    int64
	ManifestPath string
	Duration     time.Duration
}

type bundleInput struct {
	kind    string
	tarPath string
	absPath string
	size    int64
	sha256  string
}

// Export packs daily log files and the state snapshot into split tar.zst
// (or tar.xz) archives with sha256 sidecars and a JSON manifest.
func Export(ctx context.Context, opts ExportOptions, logger *slog.Logger) (*ExportReport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	startTime := time.Now()

	if opts.SplitSize <= 0 {
		return nil, fmt.Errorf("split size must be positive")
	}
	ext, err := compressionExt(opts.Compression)
	if err != nil {
		return nil, err
	}
	codec := opts.Compression
	if codec == "" {
		codec = CompressionZstd
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	var (
		inputs  []bundleInput
		entries int
		failed  int
	)
	add := func(kind, path string) error {
		hash, size, err := hashFile(path)
		if err != nil {
			return fmt.Errorf("hashing %s: %w", path, err)
		}
		inputs = append(inputs, bundleInput{
			kind:    kind,
			tarPath: kind + "/" + filepath.Base(path),
			absPath: path,
			size:    size,
			sha256:  hash,
		})
		return nil
	}
	for _, path := range opts.LogFiles {
		if err := add("log", path); err != nil {
			return nil, err
		}
		recs, err := ReadFile(path)
		if err != nil {
			logger.Warn("log file could not be parsed, packing as-is", "path", path, "error", err)
			continue
		}
		entries += len(recs)
		for _, r := range recs {
			if r.Failed() {
				failed++
			}
		}
	}
	if opts.StateFile != "" {
		if _, err := os.Stat(opts.StateFile); err == nil {
			if err := add("state", opts.StateFile); err != nil {
				return nil, err
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("state file: %w", err)
		}
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no files to export")
	}

	w := &splitWriter{dir: opts.OutputDir, num: 1, codec: codec, ext: ext}
	for _, in := range inputs {
		select {
		case <-ctx.Done():
			w.abort()
			return nil, ctx.Err()
		default:
		}

		// A single oversized file still goes into its own archive.
		if w.tw != nil && w.size > 0 && w.size+in.size > opts.SplitSize {
			if err := w.closeArchive(); err != nil {
				return nil, err
			}
		}
		if w.tw == nil {
			if err := w.openArchive(); err != nil {
				return nil, err
			}
		}
		if err := addFileToTar(w.tw, in.absPath, in.tarPath); err != nil {
			w.abort()
			return nil, fmt.Errorf("adding %s to archive: %w", in.tarPath, err)
		}
		w.files = append(w.files, in.tarPath)
		w.size += in.size
	}
	if err := w.closeArchive(); err != nil {
		return nil, err
	}

	hostname, _ := os.Hostname()
	manifest := &BundleManifest{
		Version:       "1.0",
		Created:       time.Now().UTC(),
		SourceHost:    hostname,
		Compression:   codec,
		Archives:      w.archives,
		TotalArchives: len(w.archives),
		EntryCount:    entries,
		FailedEntries: failed,
	}
	for _, in := range inputs {
		manifest.Files = append(manifest.Files, BundleFile{Kind: in.kind, Path: in.tarPath, Size: in.size, SHA256: in.sha256})
		manifest.TotalSize += in.size
	}

	manifestPath := filepath.Join(opts.OutputDir, manifestName)
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling manifest: %w", err)
	}
	if err := os.WriteFile(manifestPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing manifest: %w", err)
	}
	if err := writeSidecar(manifestPath); err != nil {
		return nil, err
	}

	duration := time.Since(startTime)
	logger.Info("log export completed",
		"archives", len(w.archives),
		"files", len(inputs),
		"entries", entries,
		"total_size", manifest.TotalSize,
		"duration", duration,
	)
	return &ExportReport{
		Archives:     w.archives,
		TotalFiles:   len(inputs),
		TotalSize:    manifest.TotalSize,
		ManifestPath: manifestPath,
		Duration:     duration,
	}, nil
}

// splitWriter rolls compressed tar archives as the size budget fills.
type splitWriter struct {
	dir      string
	num      int
	codec    string
	ext      string
	path     string
	file     *os.File
	zw       io.WriteCloser
	tw       *tar.Writer
	size     int64
	files    []string
	archives []BundleArchive
}

func (w *splitWriter) openArchive() error {
	w.path = filepath.Join(w.dir, fmt.Sprintf(archivePattern, w.num, w.ext))
	f, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("creating archive %s: %w", filepath.Base(w.path), err)
	}
	zw, err := newCompressor(w.codec, f)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("creating %s writer: %w", w.codec, err)
	}
	w.file, w.zw, w.tw = f, zw, tar.NewWriter(zw)
	w.size = 0
	w.files = nil
	return nil
}

func (w *splitWriter) closeArchive() error {
	if w.tw == nil {
		return nil
	}
	if err := w.tw.Close(); err != nil {
		return fmt.Errorf("closing tar writer: %w", err)
	}
	if err := w.zw.Close(); err != nil {
		return fmt.Errorf("closing %s writer: %w", w.codec, err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("closing archive file: %w", err)
	}
	hash, size, err := hashFile(w.path)
	if err != nil {
		return fmt.Errorf("hashing archive: %w", err)
	}
	if err := writeSidecar(w.path); err != nil {
		return err
	}
	w.archives = append(w.archives, BundleArchive{
		Name:   filepath.Base(w.path),
		Size:   size,
		SHA256: hash,
		Files:  w.files,
	})
	w.tw, w.zw, w.file = nil, nil, nil
	w.num++
	return nil
}

func (w *splitWriter) abort() {
	if w.tw != nil {
		_ = w.tw.Close()
		_ = w.zw.Close()
		_ = w.file.Close()
		w.tw = nil
	}
}

// VerifyBundle checks every archive listed in dir's manifest against its
// recorded sha256 and returns the manifest.
func VerifyBundle(dir string) (*BundleManifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m BundleManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	var errs []error
	for _, a := range m.Archives {
		hash, _, err := hashFile(filepath.Join(dir, a.Name))
		if err != nil {
			errs = append(errs, fmt.Errorf("hashing %s: %w", a.Name, err))
			continue
		}
		if hash != a.SHA256 {
			errs = append(errs, fmt.Errorf("%s: expected sha256 %s, got %s", a.Name, a.SHA256, hash))
		}
	}
	return &m, errors.Join(errs...)
}

// ExtractBundle verifies the bundle in dir and unpacks it under dest.
// Returns the number of files written.
func ExtractBundle(ctx context.Context, dir, dest string) (int, error) {
	m, err := VerifyBundle(dir)
	if err != nil {
		return 0, err
	}
	extracted := 0
	for _, a := range m.Archives {
		if err := ctx.Err(); err != nil {
			return extracted, err
		}
		n, err := extractArchive(filepath.Join(dir, a.Name), m.Compression, dest)
		extracted += n
		if err != nil {
			return extracted, fmt.Errorf("extracting %s: %w", a.Name, err)
		}
	}
	return extracted, nil
}

func extractArchive(archivePath, codec, dest string) (int, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return 0, fmt.Errorf("opening archive: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	zr, release, err := newDecompressor(codec, f)
	if err != nil {
		return 0, fmt.Errorf("creating %s reader: %w", codec, err)
	}
	defer release()

	tr := tar.NewReader(zr)
	extracted := 0
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return extracted, nil
		}
		if err != nil {
			return extracted, fmt.Errorf("reading tar entry: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			return extracted, fmt.Errorf("unsupported tar entry type for %s: %c", header.Name, header.Typeflag)
		}

		destPath, err := safety.SafeJoinUnder(dest, header.Name)
		if err != nil {
			return extracted, fmt.Errorf("unsafe path in archive %q: %w", header.Name, err)
		}
		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return extracted, fmt.Errorf("creating directory: %w", err)
		}
		out, err := os.Create(destPath)
		if err != nil {
			return extracted, err
		}
		_, err = io.Copy(out, tr)
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		if err != nil {
			return extracted, fmt.Errorf("extracting %s: %w", header.Name, err)
		}
		extracted++
	}
}

func addFileToTar(tw *tar.Writer, srcPath, tarPath string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	stat, err := f.Stat()
	if err != nil {
		return err
	}
	header := &tar.Header{
		Name:    tarPath,
		Size:    stat.Size(),
		Mode:    int64(stat.Mode().Perm()),
		ModTime: stat.ModTime(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

func writeSidecar(path string) error {
	hash, _, err := hashFile(path)
	if err != nil {
		return fmt.Errorf("hashing %s: %w", filepath.Base(path), err)
	}
	content := fmt.Sprintf("%s  %s\n", hash, filepath.Base(path))
	if err := os.WriteFile(path+".sha256", []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing sha256 sidecar: %w", err)
	}
	return nil
}

// hashFile computes the SHA256 of a file, returning hex string and size.
func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer func() {
		_ = f.Close()
	}()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}
