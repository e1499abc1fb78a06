package logsink

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeLogs(t *testing.T, dir string, days int, perDay int) *FileSink {
	t.Helper()
	sink := NewFileSink(dir, FormatJSON)
	for d := 0; d < days; d++ {
		day := time.Date(2026, 1, 1+d, 9, 0, 0, 0, time.Local)
		sink.now = func() time.Time { return day }
		for i := 0; i < perDay; i++ {
			e := sampleEntry("job")
			if i == 0 {
				e.Error = "failed"
			}
			if err := sink.Write(e); err != nil {
				t.Fatal(err)
			}
		}
	}
	return sink
}

func TestExportAndExtract(t *testing.T) {
	sink := writeLogs(t, t.TempDir(), 3, 20)
	files, err := sink.Files()
	if err != nil || len(files) != 3 {
		t.Fatalf("Files() = %v, %v", files, err)
	}
	state := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(state, []byte(`[{"name":"job"}]`), 0o644); err != nil {
		t.Fatal(err)
	}

	out := t.TempDir()
	info, _ := os.Stat(files[0])
	report, err := Export(context.Background(), ExportOptions{
		OutputDir: out,
		SplitSize: info.Size() + 1,
		LogFiles:  files,
		StateFile: state,
	}, testLogger())
	if err != nil {
		t.Fatalf("Export() error: %v", err)
	}
	if report.TotalFiles != 4 {
		t.Errorf("TotalFiles = %d, want 4", report.TotalFiles)
	}
	if len(report.Archives) < 2 {
		t.Errorf("expected split archives, got %d", len(report.Archives))
	}
	for _, a := range report.Archives {
		if !strings.HasSuffix(a.Name, ".tar.zst") {
			t.Errorf("archive name %s", a.Name)
		}
		if _, err := os.Stat(filepath.Join(out, a.Name+".sha256")); err != nil {
			t.Errorf("missing sidecar for %s", a.Name)
		}
	}

	m, err := VerifyBundle(out)
	if err != nil {
		t.Fatalf("VerifyBundle() error: %v", err)
	}
	if m.EntryCount != 60 || m.FailedEntries != 3 {
		t.Errorf("manifest counts = %d/%d, want 60/3", m.EntryCount, m.FailedEntries)
	}

	dest := t.TempDir()
	n, err := ExtractBundle(context.Background(), out, dest)
	if err != nil {
		t.Fatalf("ExtractBundle() error: %v", err)
	}
	if n != 4 {
		t.Errorf("extracted %d files, want 4", n)
	}
	recs, err := ReadFile(filepath.Join(dest, "log", filepath.Base(files[1])))
	if err != nil || len(recs) != 20 {
		t.Errorf("extracted log has %d entries, %v", len(recs), err)
	}
	if _, err := os.Stat(filepath.Join(dest, "state", "state.json")); err != nil {
		t.Errorf("state snapshot not extracted: %v", err)
	}
}

func TestVerifyBundleDetectsCorruption(t *testing.T) {
	sink := writeLogs(t, t.TempDir(), 1, 5)
	files, _ := sink.Files()
	out := t.TempDir()
	report, err := Export(context.Background(), ExportOptions{OutputDir: out, SplitSize: 1 << 20, LogFiles: files}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	archive := filepath.Join(out, report.Archives[0].Name)
	if err := os.WriteFile(archive, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := VerifyBundle(out); err == nil {
		t.Error("expected checksum mismatch")
	}
	if _, err := ExtractBundle(context.Background(), out, t.TempDir()); err == nil {
		t.Error("extract should refuse a corrupt bundle")
	}
}

func TestExportValidation(t *testing.T) {
	if _, err := Export(context.Background(), ExportOptions{OutputDir: t.TempDir(), SplitSize: 0}, testLogger()); err == nil {
		t.Error("expected error for zero split size")
	}
	if _, err := Export(context.Background(), ExportOptions{OutputDir: t.TempDir(), SplitSize: 10}, testLogger()); err == nil {
		t.Error("expected error with nothing to export")
	}
}

func TestExportXZ(t *testing.T) {
	sink := writeLogs(t, t.TempDir(), 2, 10)
	files, _ := sink.Files()
	out := t.TempDir()
	report, err := Export(context.Background(), ExportOptions{
		OutputDir:   out,
		SplitSize:   1 << 20,
		LogFiles:    files,
		Compression: CompressionXZ,
	}, testLogger())
	if err != nil {
		t.Fatalf("Export() error: %v", err)
	}
	if len(report.Archives) != 1 || !strings.HasSuffix(report.Archives[0].Name, ".tar.xz") {
		t.Fatalf("archives = %+v", report.Archives)
	}

	dest := t.TempDir()
	n, err := ExtractBundle(context.Background(), out, dest)
	if err != nil {
		t.Fatalf("ExtractBundle() error: %v", err)
	}
	if n != 2 {
		t.Errorf("extracted %d files, want 2", n)
	}
	recs, err := ReadFile(filepath.Join(dest, "log", filepath.Base(files[0])))
	if err != nil || len(recs) != 10 {
		t.Errorf("extracted log has %d entries, %v", len(recs), err)
	}
}

func TestExportUnknownCompression(t *testing.T) {
	sink := writeLogs(t, t.TempDir(), 1, 1)
	files, _ := sink.Files()
	_, err := Export(context.Background(), ExportOptions{
		OutputDir:   t.TempDir(),
		SplitSize:   1 << 20,
		LogFiles:    files,
		Compression: "lz4",
	}, testLogger())
	if err == nil {
		t.Error("expected error for unsupported compression")
	}
}
