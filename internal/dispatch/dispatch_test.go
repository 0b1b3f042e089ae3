package dispatch

import (
	"crypto/sha1" //nolint:gosec // mirrors the scanner's content fingerprint
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/mesdx/filescan/internal/docstream"
	"github.com/mesdx/filescan/internal/document"
	"github.com/mesdx/filescan/internal/incremental"
	"github.com/mesdx/filescan/internal/logx"
	"github.com/mesdx/filescan/internal/mimetable"
	"github.com/mesdx/filescan/internal/parsectx"
	"github.com/mesdx/filescan/internal/parsers"
	"github.com/mesdx/filescan/internal/walker"
)

type recordingWriter struct {
	docs []any
}

func (w *recordingWriter) Write(doc any) { w.docs = append(w.docs, doc) }

type fakeThumbs struct{ writes int }

func (f *fakeThumbs) WriteThumb(idHex string, data []byte) error { f.writes++; return nil }

type fakeMeta struct{ writes int }

func (f *fakeMeta) WriteMeta(idHex string, data []byte) error { f.writes++; return nil }

func newTestEnv(t *testing.T) (*Env, *recordingWriter, *fakeThumbs, *fakeMeta) {
	t.Helper()
	w := &recordingWriter{}
	thumbs := &fakeThumbs{}
	meta := &fakeMeta{}
	env := &Env{
		Mimes:  mimetable.Std(),
		Tables: incremental.New(),
		Writer: w,
		Thumbs: thumbs,
		Meta:   meta,
		Ctx:    parsectx.Default(),
		Log:    logx.New(io.Discard, false, false),
		Opts:   Options{ArchiveMode: parsers.ArchiveRecurse},
	}
	return env, w, thumbs, meta
}

func writeJob(t *testing.T, dir, name, content string) walker.Job {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	return walker.Job{
		Path:       path,
		Info:       info,
		BaseOffset: len(dir) + 1,
		ExtOffset:  walker.ExtOffset(path),
	}
}

func TestDispatchEmitsTextDocument(t *testing.T) {
	dir := t.TempDir()
	env, w, _, meta := newTestEnv(t)
	job := writeJob(t, dir, "a.txt", "hello world")

	if err := Dispatch(env, job); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(w.docs) != 1 {
		t.Fatalf("expected 1 document emitted, got %d", len(w.docs))
	}
	if meta.writes != 1 {
		t.Fatalf("expected a metadata sidecar write, got %d", meta.writes)
	}
}

func TestDispatchRoutesMarkupSeparatelyFromText(t *testing.T) {
	dir := t.TempDir()
	env, w, _, _ := newTestEnv(t)
	job := writeJob(t, dir, "page.html", "<p>hi</p>")

	if err := Dispatch(env, job); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(w.docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(w.docs))
	}
	doc := w.docs[0].(*document.Document)
	var parser string
	for _, m := range doc.Meta {
		if m.Key == "parser" {
			parser = m.Str
		}
	}
	if parser != "markup" {
		t.Fatalf("expected the markup parser to handle .html, got %q", parser)
	}
}

func TestDispatchChecksumCoversWholeFile(t *testing.T) {
	dir := t.TempDir()
	env, w, _, _ := newTestEnv(t)
	env.Opts.Checksums = true

	// An unknown extension forces the sniff path (ReadRewindable +
	// Reset) before the parser re-reads from the start; the digest must
	// still come out as SHA1(file bytes), not double-count the sniffed
	// prefix or stop at the parser's read window.
	content := "hello checksum world"
	job := writeJob(t, dir, "blob.bin", content)

	if err := Dispatch(env, job); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(w.docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(w.docs))
	}
	doc := w.docs[0].(*document.Document)
	want := hex.EncodeToString(func() []byte { s := sha1.Sum([]byte(content)); return s[:] }())
	if doc.Checksum != want {
		t.Fatalf("expected checksum %s, got %s", want, doc.Checksum)
	}
}

func TestDispatchEmptyFileIsEmptyMime(t *testing.T) {
	dir := t.TempDir()
	env, w, _, _ := newTestEnv(t)
	job := writeJob(t, dir, "empty.txt", "")

	if err := Dispatch(env, job); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(w.docs) != 1 {
		t.Fatalf("expected an empty-file document to still be emitted")
	}
	if doc := w.docs[0].(*document.Document); doc.MimeID != mimetable.Empty {
		t.Fatalf("expected a zero-byte file to resolve to the empty mime, got %v", doc.MimeID)
	}
}

func TestDispatchIncrementalShortCircuit(t *testing.T) {
	dir := t.TempDir()
	job := writeJob(t, dir, "a.txt", "hello")
	relPath := job.Path[job.BaseOffset:]

	// Seed a prior index directory whose single row matches this file's
	// path hash and mtime exactly, as incremental.Load expects to find.
	priorDir := t.TempDir()
	priorWriter, err := docstream.NewWriter(priorDir, 0)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	priorDoc := &document.Document{
		PathHash: document.PathHash(relPath),
		FilePath: job.Path,
		MtimeSec: job.Info.ModTime().Unix(),
	}
	priorWriter.Write(priorDoc)
	if err := priorWriter.Drain(); err != nil {
		t.Fatalf("drain: %v", err)
	}

	tables, err := incremental.Load(priorDir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	env, w, _, _ := newTestEnv(t)
	env.Tables = tables

	if err := Dispatch(env, job); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(w.docs) != 0 {
		t.Fatalf("expected an unchanged file to be skipped, not emitted")
	}
	snap := env.Snapshot()
	if snap.Skipped != 1 {
		t.Fatalf("expected skipped counter to be 1, got %d", snap.Skipped)
	}
	if !env.Tables.IsMarkedForCopy(priorDoc.IDHex()) {
		t.Fatalf("expected the unchanged file's hash to be marked for copy")
	}
}

func TestDispatchSidecarMimeFreesDocumentWithoutEmitting(t *testing.T) {
	dir := t.TempDir()
	env, w, thumbs, meta := newTestEnv(t)

	// Build a private table so a real extension maps straight to the
	// reserved sidecar mime, the way a caller re-importing a prior
	// run's exported sidecar file would see it.
	tbl := mimetable.New()
	sidecar := tbl.Register("application/x-filescan-sidecar", mimetable.Sidecar, 0, ".s2meta")
	env.Mimes = tbl

	job := writeJob(t, dir, "a.s2meta", `{"k":"v"}`)
	if err := Dispatch(env, job); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(w.docs) != 0 {
		t.Fatalf("expected the sidecar mime to free the document without emitting, got %d docs", len(w.docs))
	}
	if thumbs.writes != 0 || meta.writes != 0 {
		t.Fatalf("expected no thumbnail/meta side effects for a sidecar document")
	}
	_ = sidecar
}

func TestBumpExcludedIncrementsCounter(t *testing.T) {
	env, _, _, _ := newTestEnv(t)
	env.BumpExcluded()
	env.BumpExcluded()
	if got := env.Snapshot().Excluded; got != 2 {
		t.Fatalf("expected excluded=2, got %d", got)
	}
}
