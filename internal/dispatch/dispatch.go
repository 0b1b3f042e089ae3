// Package dispatch implements the parse dispatcher, the heart of a
// scan: resolve a job's MIME type, pick the first matching parser rule,
// run it, and hand the finished document to the writer.
package dispatch

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mesdx/filescan/internal/document"
	"github.com/mesdx/filescan/internal/incremental"
	"github.com/mesdx/filescan/internal/logx"
	"github.com/mesdx/filescan/internal/mimetable"
	"github.com/mesdx/filescan/internal/parsectx"
	"github.com/mesdx/filescan/internal/parsers"
	"github.com/mesdx/filescan/internal/store"
	"github.com/mesdx/filescan/internal/vfile"
	"github.com/mesdx/filescan/internal/walker"
)

// Blob store bucket names, shared by scanrun when it creates the
// underlying stores.
const (
	KindThumbs = store.Kind("thumbs")
	KindMeta   = store.Kind("meta")
)

// Writer is the narrow capability Dispatch needs from
// internal/docstream.Writer: enqueue one document for serialization.
// Declared here (rather than importing docstream.Writer directly) so
// a test can substitute a recording fake without pulling in zstd.
type Writer interface {
	Write(doc any)
}

// Thumbs is the narrow capability a stand-in parser needs to record a
// synthetic thumbnail, satisfied by internal/store.Store via the small
// adapter scanrun builds.
type Thumbs interface {
	WriteThumb(idHex string, data []byte) error
}

// MetaStore is the narrow capability the dispatcher needs to persist a
// per-document metadata sidecar blob, distinct from the meta fields
// embedded inline in the document JSON itself.
type MetaStore interface {
	WriteMeta(idHex string, data []byte) error
}

// Options configures dispatch behavior for a run, mirroring the CLI
// flags that affect the dispatcher directly.
type Options struct {
	Fast        bool
	Checksums   bool
	VeryVerbose bool
	ArchiveMode parsers.ArchiveMode
	ArchiveFilterRe func(name string) bool // nil means "never recurse into filter archives"
}

// Env bundles every per-run collaborator the dispatcher needs. It is
// assembled once by scanrun.RunScan and shared read-only (aside from
// Counters, which is internally synchronized) by every parse worker.
type Env struct {
	Mimes  *mimetable.Table
	Tables *incremental.Tables
	Writer Writer
	Thumbs Thumbs
	Meta   MetaStore // nil is valid; sidecar persistence is then skipped
	Ctx    *parsectx.Registry
	Log    *logx.Logger
	Opts   Options

	countersMu sync.Mutex
	skipped    int
	excluded   int
	failed     int
}

// Counters is a point-in-time snapshot of the dispatcher's bookkeeping.
type Counters struct {
	Skipped  int
	Excluded int
	Failed   int
}

// Snapshot returns the current counter values.
func (e *Env) Snapshot() Counters {
	e.countersMu.Lock()
	defer e.countersMu.Unlock()
	return Counters{Skipped: e.skipped, Excluded: e.excluded, Failed: e.failed}
}

func (e *Env) bumpSkipped()  { e.countersMu.Lock(); e.skipped++; e.countersMu.Unlock() }
func (e *Env) bumpExcluded() { e.countersMu.Lock(); e.excluded++; e.countersMu.Unlock() }
func (e *Env) bumpFailed()   { e.countersMu.Lock(); e.failed++; e.countersMu.Unlock() }

// BumpExcluded records one more regex-excluded file, for callers
// (scanrun's walker callback) outside this package that decide
// exclusion before a job ever reaches Dispatch.
func (e *Env) BumpExcluded() { e.bumpExcluded() }

// Dispatch runs a top-level walker job: stats the file, opens it as a
// filesystem vfile, and dispatches it. This is the entry point
// scanrun submits to the parse pool for every walked file.
func Dispatch(env *Env, job walker.Job) error {
	info := job.Info
	if info == nil {
		st, err := os.Stat(job.Path)
		if err != nil {
			env.bumpFailed()
			env.Log.Errorf(job.Path, "stat: %v", err)
			return err
		}
		info = st
	}
	vf := vfile.FromPath(job.Path, info, env.Opts.Checksums)
	return dispatchEntry(env, vf, job, "", 0)
}

// dispatchEntry is the shared core used both for top-level jobs and
// for archive children re-entering through ArchiveCtx.Parse.
func dispatchEntry(env *Env, vf *vfile.File, job walker.Job, parentIDHex string, depth int) error {
	relPath := job.Path
	if job.BaseOffset > 0 && job.BaseOffset <= len(job.Path) {
		relPath = job.Path[job.BaseOffset:]
	}
	doc := &document.Document{
		PathHash:   document.PathHash(relPath),
		FilePath:   job.Path,
		ExtOffset:  job.ExtOffset,
		BaseOffset: job.BaseOffset,
		Size:       vf.Size(),
		MtimeSec:   vf.Mtime().Unix(),
	}

	if env.Opts.VeryVerbose {
		env.Log.Debugf(job.Path, "job start, path_hash=%s depth=%d", doc.IDHex(), depth)
	}

	// Step 2: incremental short-circuit.
	if env.Tables != nil && env.Tables.Unchanged(doc.IDHex(), doc.MtimeSec) {
		env.Tables.MarkForCopy(doc.IDHex())
		env.bumpSkipped()
		vf.Close()
		return nil
	}

	// Step 3: MIME resolution.
	mimeID, err := resolveMime(env, vf, job, doc)
	if err != nil {
		env.bumpFailed()
		env.Log.Errorf(job.Path, "mime resolution: %v", err)
		vf.Close()
		return err
	}
	doc.MimeID = mimeID

	// The sidecar mime is special-cased ahead of the rest of the
	// dispatch table: a sidecar never becomes a document of its own,
	// so it must not fall through to the meta/checksum/write steps.
	if env.Mimes.IsSidecar(doc.MimeID) {
		vf.Close()
		return nil
	}

	// Step 4: dispatch table, first match wins.
	if err := runParser(env, vf, doc, depth); err != nil {
		env.Log.Warningf(job.Path, "parser: %v", err)
	}

	// Step 5: parent linkage.
	if parentIDHex != "" {
		doc.HasParent = true
		if raw, err := parentHashBytes(parentIDHex); err == nil {
			doc.AppendMetaHash(document.MetaParent, raw)
		}
	}

	// Step 6: close, finalize checksum. When checksums were requested,
	// drain whatever the parser left unread first, so the digest always
	// covers the whole stream rather than the parser's read window.
	if env.Opts.Checksums {
		_, _ = io.Copy(io.Discard, vf)
	}
	vf.Close()
	if sum, ok := vf.Checksum(); ok {
		doc.Checksum = sum
		doc.AppendMeta(document.MetaChecksum, sum)
	}

	// Step 6b: persist the metadata sidecar blob, if any meta was collected.
	if env.Meta != nil && len(doc.Meta) > 0 {
		if sidecar, err := json.Marshal(doc.Meta); err == nil {
			if err := env.Meta.WriteMeta(doc.IDHex(), sidecar); err != nil {
				env.Log.Warningf(job.Path, "write meta sidecar: %v", err)
			}
		}
	}

	// Step 7: emit.
	env.Writer.Write(doc)
	return nil
}

func parentHashBytes(idHex string) ([16]byte, error) {
	var out [16]byte
	if len(idHex) != 32 {
		return out, fmt.Errorf("dispatch: malformed parent id %q", idHex)
	}
	for i := 0; i < 16; i++ {
		var b byte
		if _, err := fmt.Sscanf(idHex[i*2:i*2+2], "%02x", &b); err != nil {
			return out, err
		}
		out[i] = b
	}
	return out, nil
}

func resolveMime(env *Env, vf *vfile.File, job walker.Job, doc *document.Document) (mimetable.ID, error) {
	if doc.Size == 0 {
		return mimetable.Empty, nil
	}
	if job.ExtOffset >= 0 && job.ExtOffset < len(job.Path)-1 {
		ext := job.Path[job.ExtOffset:]
		if id, ok := env.Mimes.ByExt(ext); ok {
			return id, nil
		}
	}
	if env.Opts.Fast {
		return mimetable.Empty, nil
	}

	buf := make([]byte, vfile.MagicBufSize)
	n, err := vf.ReadRewindable(buf)
	if err != nil && n == 0 {
		return 0, fmt.Errorf("sniff read: %w", err)
	}
	sniffed := mimetable.Sniff(buf[:n])
	if err := vf.Reset(); err != nil {
		env.Log.Warningf(job.Path, "reset after sniff: %v", err)
	}
	if id, ok := env.Mimes.ByString(sniffed); ok {
		return id, nil
	}
	env.Log.Warningf(job.Path, "unmapped sniffed mime %q", sniffed)
	return mimetable.Empty, nil
}

func runParser(env *Env, vf *vfile.File, doc *document.Document, depth int) error {
	m := env.Mimes
	major := mimetable.Major(doc.MimeID)

	switch {
	case !m.ShouldParse(doc.MimeID):
		return nil

	case m.IsRaw(doc.MimeID):
		return parsers.Raw(&env.Ctx.Raw, env.Thumbs, vf, doc)

	case (major == mimetable.Video && doc.Size >= 64*1024) ||
		(major == mimetable.Image && doc.Size >= 512) ||
		major == mimetable.Audio:
		return parsers.Media(&env.Ctx.Media, env.Thumbs, vf, doc)

	case m.IsPDF(doc.MimeID):
		return parsers.Ebook(&env.Ctx.Ebook, env.Thumbs, vf, doc)

	case !env.Opts.Fast && major == mimetable.Text && env.Ctx.Text.ContentSize > 0 && m.IsMarkup(doc.MimeID):
		return parsers.Markup(&env.Ctx.Text, vf, doc)

	case !env.Opts.Fast && major == mimetable.Text && env.Ctx.Text.ContentSize > 0:
		return parsers.Text(&env.Ctx.Text, vf, doc)

	case m.IsFont(doc.MimeID):
		return parsers.Font(&env.Ctx.Font, env.Thumbs, vf, doc)

	case env.Opts.ArchiveMode != parsers.ArchiveSkip && archiveEligible(env, m, doc):
		return parsers.Archive(&env.Ctx.Archive, env.Opts.ArchiveMode, vf, doc, depth)

	case m.IsDoc(doc.MimeID) && (env.Ctx.OOXML.ContentSize > 0 || env.Ctx.Media.ThumbnailMax > 0):
		return parsers.OOXML(&env.Ctx.OOXML, vf, doc)

	case m.IsCBR(doc.MimeID) || m.IsCBZ(doc.MimeID):
		return parsers.Comic(&env.Ctx.Comic, env.Thumbs, vf, doc)

	case m.IsMobi(doc.MimeID):
		return parsers.Mobi(&env.Ctx.Mobi, env.Thumbs, vf, doc)

	case m.IsMSDoc(doc.MimeID):
		return parsers.MSDoc(&env.Ctx.MSDoc, vf, doc)

	case m.IsJSON(doc.MimeID):
		return parsers.JSON(&env.Ctx.JSON, vf, doc)

	case m.IsNDJSON(doc.MimeID):
		return parsers.NDJSON(&env.Ctx.JSON, vf, doc)

	default:
		return nil
	}
}

func archiveEligible(env *Env, m *mimetable.Table, doc *document.Document) bool {
	if m.IsArchive(doc.MimeID) {
		return true
	}
	if !m.IsArchiveFilter(doc.MimeID) {
		return false
	}
	if env.Opts.ArchiveFilterRe == nil {
		return false
	}
	return env.Opts.ArchiveFilterRe(strings.ToLower(doc.FilePath))
}

// WireArchiveParse returns a parsectx.ParseFunc that re-enters the
// shared dispatch core for archive entries, used by scanrun to wire
// ArchiveCtx.Parse without creating an import cycle back into this
// package (parsectx only knows the func signature, not this type).
func WireArchiveParse(env *Env) func(vf *vfile.File, job walker.Job, parentIDHex string, depth int) error {
	return func(vf *vfile.File, job walker.Job, parentIDHex string, depth int) error {
		return dispatchEntry(env, vf, job, parentIDHex, depth)
	}
}
