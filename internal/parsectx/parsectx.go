// Package parsectx holds the per-type parser configuration blocks:
// read-only value structs populated once by the scan coordinator and
// shared by every worker, with one exception (EbookCtx) that guards a
// non-reentrant stand-in library with a mutex.
package parsectx

import (
	"sync"

	"github.com/mesdx/filescan/internal/vfile"
	"github.com/mesdx/filescan/internal/walker"
)

// ParseFunc is the recursive-parse callback archives invoke on each
// entry they contain, re-entering the full dispatch pipeline (MIME
// resolution, rule match, meta, checksum, write) for vf as if it were
// its own job. It is declared here, not in internal/dispatch, so
// ArchiveCtx can hold one without this package depending on the
// dispatcher (which itself depends on parsectx for the Registry
// type). parentIDHex is the enclosing archive document's _id.
type ParseFunc func(vf *vfile.File, job walker.Job, parentIDHex string, depth int) error

// ArchiveCtx configures archive parsing.
type ArchiveCtx struct {
	MaxDepth   int       // recursion guard, independent of the walker's own directory depth limit
	Passphrase string    // from --archive-passphrase; parsers.Archive does not read it and does not decrypt entries
	Checksums  bool      // stream entry bytes into a SHA-1 the same way top-level files are
	Parse      ParseFunc // wired to dispatch.WireArchiveParse by scanrun.RunScan
}

// ComicCtx configures CBR/CBZ handling (treated as image-bearing archives).
type ComicCtx struct {
	ThumbnailPage int // which page to render as the cover thumbnail, 0-based
}

// EbookCtx configures EPUB/MOBI/PDF-adjacent text+cover extraction.
// Mu serializes calls because the underlying document library is not
// safe to call from multiple goroutines at once.
type EbookCtx struct {
	Mu           sync.Mutex
	ContentSize  int    // max extracted-text bytes kept in meta
	ThumbnailMax int    // max thumbnail dimension, pixels
	FastEPUB     bool   // skip full-text extraction for EPUB, cover only (--fast-epub)
	OCREbooks    bool   // --ocr-ebooks: run OCR over page images lacking a text layer
	OCRLang      string // --ocr-lang: tesseract-style language code(s), e.g. "eng" or "eng+fra"
}

// FontCtx holds the glyph sample text recorded for font files.
type FontCtx struct {
	SampleText string
}

// MediaCtx configures audio/video/image thumbnail and tag extraction.
type MediaCtx struct {
	ThumbnailMax     int
	ThumbnailQuality int
	BufferLimitBytes int64  // --mem-buffer: cap on in-flight decode buffers per worker
	ReadSubtitles    bool   // --read-subtitles: extract embedded/sidecar subtitle tracks
	OCRImages        bool   // --ocr-images: run OCR over plain image files
	OCRLang          string // --ocr-lang: tesseract-style language code(s)
}

// OOXMLCtx configures docx/xlsx/pptx text extraction.
type OOXMLCtx struct {
	ContentSize int
}

// MobiCtx configures Mobipocket extraction.
type MobiCtx struct {
	ContentSize int
}

// TextCtx configures plain-text content capture.
type TextCtx struct {
	ContentSize int // bytes of content copied into meta
}

// MSDocCtx configures legacy binary Office document extraction.
type MSDocCtx struct {
	ContentSize int
}

// RawCtx configures camera raw image thumbnail extraction.
type RawCtx struct {
	ThumbnailMax int
}

// JSONCtx configures JSON/NDJSON structural summarization.
type JSONCtx struct {
	MaxDepth    int
	ContentSize int
}

// Registry is the full set of per-type contexts for one scan, built
// once by scanrun.RunScan from the CLI options and shared read-only by
// every parse worker thereafter (save for EbookCtx.Mu).
type Registry struct {
	Archive ArchiveCtx
	Comic   ComicCtx
	Ebook   EbookCtx
	Font    FontCtx
	Media   MediaCtx
	OOXML   OOXMLCtx
	Mobi    MobiCtx
	Text    TextCtx
	MSDoc   MSDocCtx
	Raw     RawCtx
	JSON    JSONCtx
}

// Default returns a Registry populated with the default thresholds
// (content-size caps, thumbnail dimensions).
func Default() *Registry {
	return &Registry{
		Comic: ComicCtx{ThumbnailPage: 0},
		Ebook: EbookCtx{ContentSize: 32 * 1024, ThumbnailMax: 512},
		Font:  FontCtx{SampleText: "The quick brown fox jumps over the lazy dog 0123456789"},
		Media: MediaCtx{ThumbnailMax: 512, ThumbnailQuality: 80},
		OOXML: OOXMLCtx{ContentSize: 32 * 1024},
		Mobi:  MobiCtx{ContentSize: 32 * 1024},
		Text:  TextCtx{ContentSize: 32 * 1024},
		MSDoc: MSDocCtx{ContentSize: 32 * 1024},
		Raw:   RawCtx{ThumbnailMax: 512},
		JSON:  JSONCtx{MaxDepth: 8, ContentSize: 32 * 1024},
	}
}
