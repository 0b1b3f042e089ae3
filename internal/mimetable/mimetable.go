// Package mimetable interns MIME strings into small integer ids,
// groups them into major categories, and answers the closed-form
// predicates the dispatcher needs (IsRaw, IsPDF, ShouldParse, ...).
package mimetable

import (
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
)

// ID is a small integer MIME identifier. The high byte encodes the
// major category; the low 24 bits are the entry's index in its table,
// assigned in registration order across all categories.
type ID uint32

// Category is the major MIME group, stored in the high byte of an ID.
type Category byte

const (
	Other Category = iota
	Video
	Image
	Audio
	Text
	Doc
	Archive
	Font
	Raw
	Book
	Sidecar
)

func makeID(cat Category, idx int) ID {
	return ID(cat)<<24 | ID(idx&0xFFFFFF)
}

// Major returns the category bits of an id.
func Major(id ID) Category { return Category(id >> 24) }

// Reserved ids.
var (
	Empty        ID // assigned to zero-byte files
	SidecarMIME  ID // reserved synthetic type for exported per-document sidecars
)

type entry struct {
	text     string
	category Category
	flags    flag
}

type flag uint16

const (
	flagRaw flag = 1 << iota
	flagPDF
	flagMobi
	flagDoc
	flagArc
	flagArcFilter
	flagMarkup
	flagFont
	flagCBR
	flagCBZ
	flagMSDoc
	flagJSON
	flagNDJSON
	flagNoParse // never dispatched to a parser even if category would suggest it
)

// Table is a built-once registry of known MIME types, interned to
// small ids, plus the extension lookup table used by the dispatcher.
type Table struct {
	mu       sync.RWMutex
	byString map[string]ID
	byExt    map[string]ID
	entries  []entry
}

var std = buildTable()

// Std returns the shared, process-wide table built at init time. A run
// may also build its own via New() + Register(); Std is what scans use
// by default.
func Std() *Table { return std }

// New creates an empty table (used by tests that want a minimal set).
func New() *Table {
	return &Table{byString: map[string]ID{}, byExt: map[string]ID{}}
}

// Register interns a MIME string under the given category and
// extensions, returning its id. Re-registering the same string returns
// the existing id.
func (t *Table) Register(text string, cat Category, f flag, exts ...string) ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.byString[text]; ok {
		return id
	}
	id := makeID(cat, len(t.entries))
	t.entries = append(t.entries, entry{text: text, category: cat, flags: f})
	t.byString[text] = id
	for _, e := range exts {
		t.byExt[strings.ToLower(e)] = id
	}
	return id
}

// ByString looks up a MIME string (as reported by the extension table
// or content sniffing) and returns its id, or (0, false).
func (t *Table) ByString(s string) (ID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byString[s]
	return id, ok
}

// ByExt looks up a file extension (including the leading dot,
// lower-cased) and returns its id, or (0, false).
func (t *Table) ByExt(ext string) (ID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byExt[strings.ToLower(ext)]
	return id, ok
}

// Text returns the registered MIME string for id.
func (t *Table) Text(id ID) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx := int(id & 0xFFFFFF)
	if idx < 0 || idx >= len(t.entries) {
		return ""
	}
	return t.entries[idx].text
}

func (t *Table) flagsOf(id ID) flag {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx := int(id & 0xFFFFFF)
	if idx < 0 || idx >= len(t.entries) {
		return 0
	}
	return t.entries[idx].flags
}

// Predicates, closed-form over the registered flags/category.
func (t *Table) IsRaw(id ID) bool         { return t.flagsOf(id)&flagRaw != 0 }
func (t *Table) IsPDF(id ID) bool         { return t.flagsOf(id)&flagPDF != 0 }
func (t *Table) IsMobi(id ID) bool        { return t.flagsOf(id)&flagMobi != 0 }
func (t *Table) IsDoc(id ID) bool         { return t.flagsOf(id)&flagDoc != 0 }
func (t *Table) IsArchive(id ID) bool     { return t.flagsOf(id)&flagArc != 0 }
func (t *Table) IsArchiveFilter(id ID) bool { return t.flagsOf(id)&flagArcFilter != 0 }
func (t *Table) IsMarkup(id ID) bool      { return t.flagsOf(id)&flagMarkup != 0 }
func (t *Table) IsFont(id ID) bool        { return t.flagsOf(id)&flagFont != 0 }
func (t *Table) IsSidecar(id ID) bool     { return Major(id) == Sidecar }
func (t *Table) IsCBR(id ID) bool         { return t.flagsOf(id)&flagCBR != 0 }
func (t *Table) IsCBZ(id ID) bool         { return t.flagsOf(id)&flagCBZ != 0 }
func (t *Table) IsMSDoc(id ID) bool       { return t.flagsOf(id)&flagMSDoc != 0 }
func (t *Table) IsJSON(id ID) bool        { return t.flagsOf(id)&flagJSON != 0 }
func (t *Table) IsNDJSON(id ID) bool      { return t.flagsOf(id)&flagNDJSON != 0 }

// ShouldParse reports whether any parser is ever invoked for id.
func (t *Table) ShouldParse(id ID) bool {
	if id == Empty {
		return false
	}
	return t.flagsOf(id)&flagNoParse == 0
}

// Sniff runs content-based MIME detection over a (small, rewound)
// sample buffer and returns the detected MIME string, with any
// parameters (e.g. "; charset=utf-8") stripped so it matches the
// interned table entries.
func Sniff(buf []byte) string {
	s := mimetype.Detect(buf).String()
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return s
}

func buildTable() *Table {
	t := New()

	Empty = t.Register("inode/x-empty", Other, flagNoParse)
	SidecarMIME = t.Register("application/x-filescan-sidecar", Sidecar, 0)

	reg := func(text string, cat Category, f flag, exts ...string) ID {
		return t.Register(text, cat, f, exts...)
	}

	// Video
	reg("video/mp4", Video, 0, ".mp4", ".m4v")
	reg("video/x-matroska", Video, 0, ".mkv")
	reg("video/webm", Video, 0, ".webm")
	reg("video/quicktime", Video, 0, ".mov")
	reg("video/x-msvideo", Video, 0, ".avi")

	// Image
	reg("image/jpeg", Image, 0, ".jpg", ".jpeg")
	reg("image/png", Image, 0, ".png")
	reg("image/gif", Image, 0, ".gif")
	reg("image/webp", Image, 0, ".webp")
	reg("image/bmp", Image, 0, ".bmp")
	reg("image/tiff", Image, 0, ".tif", ".tiff")
	reg("image/heif", Image, 0, ".heif", ".heic")
	reg("image/x-sony-arw", Image, flagRaw, ".arw")
	reg("image/x-canon-cr2", Image, flagRaw, ".cr2")
	reg("image/x-nikon-nef", Image, flagRaw, ".nef")
	reg("image/x-adobe-dng", Image, flagRaw, ".dng")

	// Audio
	reg("audio/mpeg", Audio, 0, ".mp3")
	reg("audio/flac", Audio, 0, ".flac")
	reg("audio/ogg", Audio, 0, ".ogg")
	reg("audio/wav", Audio, 0, ".wav")

	// Text
	reg("text/plain", Text, 0, ".txt", ".log", ".md", ".cfg", ".ini")
	reg("text/html", Text, flagMarkup, ".html", ".htm")
	reg("text/xml", Text, flagMarkup, ".xml")
	reg("text/markdown", Text, flagMarkup, ".markdown")
	reg("text/csv", Text, 0, ".csv")
	reg("application/json", Text, flagJSON, ".json")
	reg("application/x-ndjson", Text, flagNDJSON, ".ndjson", ".jsonl")

	// Doc
	reg("application/pdf", Doc, flagPDF, ".pdf")
	reg("application/epub+zip", Doc, 0, ".epub")
	reg("application/msword", Doc, flagMSDoc, ".doc")
	reg("application/vnd.openxmlformats-officedocument.wordprocessingml.document", Doc, flagDoc, ".docx")
	reg("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", Doc, flagDoc, ".xlsx")
	reg("application/vnd.openxmlformats-officedocument.presentationml.presentation", Doc, flagDoc, ".pptx")
	reg("application/vnd.wordperfect", Doc, flagMSDoc, ".wpd")
	reg("application/x-mobipocket-ebook", Doc, flagMobi, ".mobi", ".azw")

	// Archive
	reg("application/zip", Archive, flagArc, ".zip")
	reg("application/x-tar", Archive, flagArc, ".tar")
	reg("application/x-7z-compressed", Archive, flagArc, ".7z")
	reg("application/x-rar-compressed", Archive, flagArc, ".rar")
	reg("application/gzip", Archive, flagArcFilter, ".gz")
	reg("application/x-bzip2", Archive, flagArcFilter, ".bz2")
	reg("application/x-xz", Archive, flagArcFilter, ".xz")
	reg("application/x-cbr", Archive, flagCBR, ".cbr")
	reg("application/x-cbz", Archive, flagCBZ, ".cbz")

	// Font
	reg("font/ttf", Font, flagFont, ".ttf")
	reg("font/otf", Font, flagFont, ".otf")
	reg("font/woff", Font, flagFont, ".woff")
	reg("font/woff2", Font, flagFont, ".woff2")

	return t
}
