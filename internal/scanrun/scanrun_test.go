package scanrun

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/mesdx/filescan/internal/descriptor"
	"github.com/mesdx/filescan/internal/parsers"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestRunScanProducesIndexAndStats(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, filepath.Join(root, "a.txt"), "hello world")
	writeTestFile(t, filepath.Join(root, "sub", "b.txt"), "another file")

	out := t.TempDir()
	result, err := RunScan(Options{
		Root:        root,
		Output:      out,
		Threads:     2,
		Depth:       -1,
		ArchiveMode: parsers.ArchiveRecurse,
		ContentSize: 1024,
	})
	if err != nil {
		t.Fatalf("RunScan: %v", err)
	}
	if result.Emitted != 2 {
		t.Fatalf("expected 2 documents emitted, got %d", result.Emitted)
	}
	if result.FilesVisited != 2 {
		t.Fatalf("expected 2 files visited, got %d", result.FilesVisited)
	}

	if _, err := os.Stat(filepath.Join(out, descriptor.FileName)); err != nil {
		t.Fatalf("expected a descriptor.json to be written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, thumbsFile)); err != nil {
		t.Fatalf("expected a thumbs store to be created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, metaFile)); err != nil {
		t.Fatalf("expected a meta store to be created: %v", err)
	}
}

func TestRunScanRespectsExcludeRegex(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, filepath.Join(root, "keep.txt"), "keep me")
	writeTestFile(t, filepath.Join(root, "skip.log"), "drop me")

	out := t.TempDir()
	excludeRe := regexp.MustCompile(`\.log$`)
	result, err := RunScan(Options{
		Root:        root,
		Output:      out,
		Threads:     1,
		Depth:       -1,
		ArchiveMode: parsers.ArchiveRecurse,
		ContentSize: 1024,
		ExcludeRe:   excludeRe,
	})
	if err != nil {
		t.Fatalf("RunScan: %v", err)
	}
	if result.Emitted != 1 {
		t.Fatalf("expected 1 document emitted, got %d", result.Emitted)
	}
	if result.Excluded != 1 {
		t.Fatalf("expected 1 excluded file, got %d", result.Excluded)
	}
}

func TestRunScanIncrementalSkipsUnchangedFiles(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, filepath.Join(root, "a.txt"), "stable content")

	first := t.TempDir()
	if _, err := RunScan(Options{
		Root:        root,
		Output:      first,
		Threads:     1,
		Depth:       -1,
		ArchiveMode: parsers.ArchiveRecurse,
		ContentSize: 1024,
	}); err != nil {
		t.Fatalf("first RunScan: %v", err)
	}

	second := t.TempDir()
	result, err := RunScan(Options{
		Root:        root,
		Output:      second,
		Threads:     1,
		Depth:       -1,
		ArchiveMode: parsers.ArchiveRecurse,
		ContentSize: 1024,
		Incremental: first,
	})
	if err != nil {
		t.Fatalf("second RunScan: %v", err)
	}
	if result.Skipped != 1 {
		t.Fatalf("expected the unchanged file to be skipped on rescan, got skipped=%d", result.Skipped)
	}
	// The skipped file's row is still carried forward into the new
	// index's _index_original shard, so it shows up in the final
	// document count even though it was never re-dispatched.
	if result.Emitted != 1 {
		t.Fatalf("expected the carried-forward row to appear in the final index, got emitted=%d", result.Emitted)
	}
}
