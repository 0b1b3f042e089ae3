// Package scanrun is the scan coordinator: it builds every per-run
// collaborator (stores, mime table, incremental tables, parser
// contexts, the two thread pools) into one explicit value, wires them
// together, and drives a full scan from an Options value through to a
// finished, statted index directory.
//
// Nothing here is package-level mutable state: two concurrent RunScan
// calls (e.g. in tests) never interfere with each other.
package scanrun

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/mesdx/filescan/internal/descriptor"
	"github.com/mesdx/filescan/internal/dispatch"
	"github.com/mesdx/filescan/internal/docstream"
	"github.com/mesdx/filescan/internal/document"
	"github.com/mesdx/filescan/internal/incremental"
	"github.com/mesdx/filescan/internal/logx"
	"github.com/mesdx/filescan/internal/mimetable"
	"github.com/mesdx/filescan/internal/parsectx"
	"github.com/mesdx/filescan/internal/parsers"
	"github.com/mesdx/filescan/internal/stats"
	"github.com/mesdx/filescan/internal/store"
	"github.com/mesdx/filescan/internal/tpool"
	"github.com/mesdx/filescan/internal/walker"
)

// Version is compared, byte for byte, against a prior index's
// descriptor before that index is trusted for an incremental scan.
const Version = "v0.1.0"

// Blob store file names within an index directory.
const (
	thumbsFile = "thumbs.db"
	metaFile   = "meta.db"
	tagsFile   = "tags.db"
)

const tagsKind = store.Kind("tags")

// Options configures one scan, covering every `scan` CLI flag.
type Options struct {
	Root       string // scanned directory; ignored when ListFile is set
	Output     string // index directory to create/overwrite
	Name       string
	RewriteURL string

	Threads     int // parse-pool worker count, >=1
	Depth       int // -1 unlimited, 0 root only, N descends N levels
	ExcludeRe   *regexp.Regexp

	Quality          float64
	ThumbnailSize    int
	ContentSize      int
	ArchiveMode      parsers.ArchiveMode
	ArchivePassphrase string
	ArchiveFilterRe  func(name string) bool

	OCRLang       string
	OCRImages     bool
	OCREbooks     bool
	ReadSubtitles bool
	FastEPUB      bool
	MemBufferBytes int64

	Fast             bool
	Checksums        bool
	Verbose          bool
	VeryVerbose      bool
	TreemapThreshold float64
	ShardMaxBytes    int64

	ListFile    string // "-" or a path; empty means walk Root
	Incremental string // prior index directory; empty means a full scan
}

func (o Options) threads() int {
	if o.Threads < 1 {
		return 1
	}
	return o.Threads
}

// storeThumbs adapts internal/store.Store to dispatch.Thumbs.
type storeThumbs struct{ s *store.Store }

func (t storeThumbs) WriteThumb(idHex string, data []byte) error {
	return t.s.Write(dispatch.KindThumbs, idHex, data)
}

// storeMeta adapts internal/store.Store to dispatch.MetaStore.
type storeMeta struct{ s *store.Store }

func (m storeMeta) WriteMeta(idHex string, data []byte) error {
	return m.s.Write(dispatch.KindMeta, idHex, data)
}

// RunScan drives one full scan: descriptor, stores, pools, walk,
// dispatch, drain, incremental copy, and final stats, in that order.
func RunScan(opts Options) (stats.Stats, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return stats.Stats{}, fmt.Errorf("scanrun: resolve root: %w", err)
	}
	if err := os.MkdirAll(opts.Output, 0o755); err != nil { //nolint:gosec // index dir, not secret material
		return stats.Stats{}, fmt.Errorf("scanrun: create output dir: %w", err)
	}

	log := logx.New(os.Stderr, opts.Verbose, opts.VeryVerbose)

	if opts.Incremental != "" {
		prior, err := descriptor.Read(opts.Incremental)
		if err != nil {
			return stats.Stats{}, fmt.Errorf("scanrun: read prior descriptor: %w", err)
		}
		if err := descriptor.CheckVersion(prior, Version); err != nil {
			log.Fatalf(opts.Incremental, "%v", err)
			return stats.Stats{}, err
		}
	}

	desc := descriptor.New(root, opts.Name, opts.RewriteURL, Version, time.Now().Unix())
	if err := descriptor.Write(opts.Output, desc); err != nil {
		return stats.Stats{}, fmt.Errorf("scanrun: write descriptor: %w", err)
	}

	tables, err := loadIncremental(opts.Incremental)
	if err != nil {
		return stats.Stats{}, fmt.Errorf("scanrun: load incremental tables: %w", err)
	}

	thumbsStore, err := store.Open(filepath.Join(opts.Output, thumbsFile))
	if err != nil {
		return stats.Stats{}, fmt.Errorf("scanrun: open thumbs store: %w", err)
	}
	defer thumbsStore.Close()
	if err := thumbsStore.Create(dispatch.KindThumbs); err != nil {
		return stats.Stats{}, fmt.Errorf("scanrun: create thumbs bucket: %w", err)
	}

	metaStore, err := store.Open(filepath.Join(opts.Output, metaFile))
	if err != nil {
		return stats.Stats{}, fmt.Errorf("scanrun: open meta store: %w", err)
	}
	defer metaStore.Close()
	if err := metaStore.Create(dispatch.KindMeta); err != nil {
		return stats.Stats{}, fmt.Errorf("scanrun: create meta bucket: %w", err)
	}

	tagsStore, err := store.Open(filepath.Join(opts.Output, tagsFile))
	if err != nil {
		return stats.Stats{}, fmt.Errorf("scanrun: open tags store: %w", err)
	}
	defer tagsStore.Close()
	if err := tagsStore.Create(tagsKind); err != nil {
		return stats.Stats{}, fmt.Errorf("scanrun: create tags bucket: %w", err)
	}

	writer, err := docstream.NewWriter(opts.Output, opts.ShardMaxBytes)
	if err != nil {
		return stats.Stats{}, fmt.Errorf("scanrun: open document writer: %w", err)
	}

	ctx := buildRegistry(opts)

	env := &dispatch.Env{
		Mimes:  mimetable.Std(),
		Tables: tables,
		Writer: writer,
		Thumbs: storeThumbs{thumbsStore},
		Meta:   storeMeta{metaStore},
		Ctx:    ctx,
		Log:    log,
		Opts: dispatch.Options{
			Fast:            opts.Fast,
			Checksums:       opts.Checksums,
			VeryVerbose:     opts.VeryVerbose,
			ArchiveMode:     opts.ArchiveMode,
			ArchiveFilterRe: opts.ArchiveFilterRe,
		},
	}
	ctx.Archive.Parse = dispatch.WireArchiveParse(env)

	if err := runJobs(opts, env, root); err != nil {
		return stats.Stats{}, err
	}

	if opts.Incremental != "" {
		if err := copyIncremental(opts, tables, writer, thumbsStore, tagsStore); err != nil {
			return stats.Stats{}, fmt.Errorf("scanrun: incremental copy: %w", err)
		}
	}

	if err := writer.Drain(); err != nil {
		return stats.Stats{}, fmt.Errorf("scanrun: drain writer: %w", err)
	}

	docs, err := readBackDocs(opts.Output)
	if err != nil {
		return stats.Stats{}, fmt.Errorf("scanrun: read back index: %w", err)
	}
	counters := env.Snapshot()
	return stats.Compute(docs, stats.Counters{
		Skipped:  counters.Skipped,
		Excluded: counters.Excluded,
		Failed:   counters.Failed,
	}, opts.TreemapThreshold), nil
}

func loadIncremental(priorDir string) (*incremental.Tables, error) {
	if priorDir == "" {
		return incremental.New(), nil
	}
	return incremental.Load(priorDir)
}

func buildRegistry(opts Options) *parsectx.Registry {
	ctx := parsectx.Default()
	if opts.ThumbnailSize > 0 {
		ctx.Ebook.ThumbnailMax = opts.ThumbnailSize
		ctx.Media.ThumbnailMax = opts.ThumbnailSize
		ctx.Raw.ThumbnailMax = opts.ThumbnailSize
	}
	if opts.Quality > 0 {
		ctx.Media.ThumbnailQuality = int(opts.Quality * 100 / 3) // --quality 3.0 maps to JPEG quality 100
	}
	if opts.ContentSize > 0 {
		ctx.Text.ContentSize = opts.ContentSize
		ctx.Ebook.ContentSize = opts.ContentSize
		ctx.OOXML.ContentSize = opts.ContentSize
		ctx.Mobi.ContentSize = opts.ContentSize
		ctx.MSDoc.ContentSize = opts.ContentSize
		ctx.JSON.ContentSize = opts.ContentSize
	}
	ctx.Archive.MaxDepth = 8
	ctx.Archive.Passphrase = opts.ArchivePassphrase
	ctx.Archive.Checksums = opts.Checksums

	ctx.Media.BufferLimitBytes = opts.MemBufferBytes
	ctx.Media.ReadSubtitles = opts.ReadSubtitles
	ctx.Media.OCRImages = opts.OCRImages
	ctx.Media.OCRLang = opts.OCRLang
	ctx.Ebook.FastEPUB = opts.FastEPUB
	ctx.Ebook.OCREbooks = opts.OCREbooks
	ctx.Ebook.OCRLang = opts.OCRLang

	return ctx
}

// runJobs produces jobs (walk or list file) and drives them through
// the parse pool to completion.
func runJobs(opts Options, env *dispatch.Env, root string) error {
	pool := tpool.New(opts.threads(), nil)
	pool.Start()

	jobs := make(chan walker.Job, opts.threads()*4)
	produceErrCh := make(chan error, 1)

	go func() {
		if opts.ListFile != "" {
			produceErrCh <- produceFromList(opts.ListFile, jobs)
			return
		}
		produceErrCh <- walker.Walk(walker.Options{
			Root:         root,
			MaxDepth:     opts.Depth,
			ExcludeRegex: opts.ExcludeRe,
			OnExclude:    func(string) { env.BumpExcluded() },
		}, jobs)
	}()

	for job := range jobs {
		j := job
		pool.SubmitLabeled(j.Path, func() {
			_ = dispatch.Dispatch(env, j) // per-file errors are logged and counted inside Dispatch
		})
	}

	if err := <-produceErrCh; err != nil {
		return fmt.Errorf("scanrun: walk: %w", err)
	}

	pool.Wait()
	pool.Close()
	return nil
}

func produceFromList(listFile string, out chan<- walker.Job) error {
	r, err := walker.OpenFileListSource(listFile)
	if err != nil {
		return err
	}
	if listFile != "-" {
		defer r.Close()
	}
	return walker.IterateFileList(r, out)
}

// copyIncremental runs the post-scan incremental-copy step: rows
// marked for copy during the scan are appended verbatim to
// _index_original.ndjson.zst, their thumbnails are copied from the
// prior thumbs store, and the tags store is copied wholesale.
func copyIncremental(opts Options, tables *incremental.Tables, writer *docstream.Writer, newThumbs, newTags *store.Store) error {
	marks := tables.CopyMarks()
	markSet := make(map[string]bool, len(marks))
	for _, h := range marks {
		markSet[h] = true
	}

	rows := make(chan *docstream.RawRow, 64)
	errCh := make(chan error, 1)
	go func() { errCh <- docstream.IterateIndexDir(opts.Incremental, rows) }()
	for row := range rows {
		if markSet[row.PathHash] {
			writer.WriteOriginalRaw(row.Raw)
		}
	}
	if err := <-errCh; err != nil {
		return err
	}

	oldThumbs, err := store.Open(filepath.Join(opts.Incremental, thumbsFile))
	if err != nil {
		return err
	}
	defer oldThumbs.Close()
	all, err := oldThumbs.ReadAll(dispatch.KindThumbs)
	if err != nil {
		return err
	}
	carried := make(map[string][]byte, len(marks))
	for k, v := range all {
		if markSet[k] {
			carried[k] = v
		}
	}
	if len(carried) > 0 {
		if err := newThumbs.CopyTo(dispatch.KindThumbs, carried); err != nil {
			return err
		}
	}

	oldTags, err := store.Open(filepath.Join(opts.Incremental, tagsFile))
	if err != nil {
		return err
	}
	defer oldTags.Close()
	oldTagData, err := oldTags.ReadAll(tagsKind)
	if err != nil {
		return err
	}
	if len(oldTagData) > 0 {
		if err := newTags.CopyTo(tagsKind, oldTagData); err != nil {
			return err
		}
	}

	return nil
}

func readBackDocs(dir string) ([]*document.Document, error) {
	rows := make(chan *docstream.RawRow, 64)
	errCh := make(chan error, 1)
	go func() { errCh <- docstream.IterateIndexDir(dir, rows) }()

	var docs []*document.Document
	for row := range rows {
		var d document.Document
		if err := d.UnmarshalJSON(row.Raw); err != nil {
			continue
		}
		docs = append(docs, &d)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return docs, nil
}
