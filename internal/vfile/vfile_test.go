package vfile

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFromPathReadAndChecksum(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	f := FromPath(path, info, true)
	data, err := io.ReadAll(readerFunc(f.Read))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("unexpected content: %q", data)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	sum, ok := f.Checksum()
	if !ok || sum == "" {
		t.Fatalf("expected a checksum after closing a read file")
	}
}

func TestFromPathResetRewinds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "b.txt")
	if err := os.WriteFile(path, []byte("abcdef"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	info, _ := os.Stat(path)
	f := FromPath(path, info, false)

	buf := make([]byte, 3)
	n, err := f.Read(buf)
	if err != nil || n != 3 {
		t.Fatalf("first read: n=%d err=%v", n, err)
	}
	if err := f.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	n, err = f.Read(buf)
	if err != nil || string(buf[:n]) != "abc" {
		t.Fatalf("expected abc after reset, got %q err=%v", buf[:n], err)
	}
	_ = f.Close()
}

func TestArchiveEntryRewindableUntilBufferExceeded(t *testing.T) {
	content := strings.Repeat("x", MagicBufSize+10)
	f := FromArchiveEntry("inner/file.bin", strings.NewReader(content), int64(len(content)), time.Now(), false)

	small := make([]byte, 10)
	if _, err := f.ReadRewindable(small); err != nil {
		t.Fatalf("ReadRewindable: %v", err)
	}
	if err := f.Reset(); err != nil {
		t.Fatalf("expected reset to still work within the buffer window: %v", err)
	}

	// Drain past MagicBufSize via ReadRewindable to exceed the buffer cap.
	big := make([]byte, MagicBufSize+5)
	if _, err := f.ReadRewindable(big); err != nil {
		t.Fatalf("ReadRewindable (large): %v", err)
	}
	if err := f.Reset(); err == nil {
		t.Fatalf("expected reset to fail once the rewind buffer window has elapsed")
	}
	_ = f.Close()
}

func TestArchiveEntryReadVoidsRewindability(t *testing.T) {
	f := FromArchiveEntry("e.txt", strings.NewReader("data"), 4, time.Now(), false)
	buf := make([]byte, 4)
	if _, err := f.Read(buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := f.Reset(); err == nil {
		t.Fatalf("expected reset to fail after a plain Read on an archive entry")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.txt")
	if err := os.WriteFile(path, []byte("z"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	info, _ := os.Stat(path)
	f := FromPath(path, info, false)
	if err := f.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second close should be a no-op: %v", err)
	}
}

type readerFunc func(p []byte) (int, error)

func (r readerFunc) Read(p []byte) (int, error) { return r(p) }
