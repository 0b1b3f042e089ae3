// Package parsers holds the per-MIME-category document parsers the
// dispatcher invokes. Text, Markup, JSON/NDJSON, and Archive are real
// implementations built on the standard library; the remaining
// categories are minimal stand-ins that read the file through its
// vfile (so checksums and read-error accounting behave as they would
// under a real codec) but substitute a synthetic thumbnail for real
// decoding.
package parsers

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mesdx/filescan/internal/document"
	"github.com/mesdx/filescan/internal/parsectx"
	"github.com/mesdx/filescan/internal/vfile"
	"github.com/mesdx/filescan/internal/walker"
)

// Thumbs is the narrow store capability every stand-in parser needs:
// writing the synthetic thumbnail blob keyed by the document's id.
type Thumbs interface {
	WriteThumb(idHex string, data []byte) error
}

// Text reads up to ctx.ContentSize bytes and records them as a
// "content" meta entry, sniffing a UTF BOM to record an "encoding"
// entry.
func Text(ctx *parsectx.TextCtx, f *vfile.File, doc *document.Document) error {
	buf := make([]byte, ctx.ContentSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return fmt.Errorf("parsers: text: %w", err)
	}
	buf = buf[:n]
	doc.AppendMeta("content", string(buf))
	doc.AppendMeta("encoding", sniffEncoding(buf))
	doc.AppendMeta("parser", "text")
	return nil
}

func sniffEncoding(buf []byte) string {
	switch {
	case bytes.HasPrefix(buf, []byte{0xEF, 0xBB, 0xBF}):
		return "utf-8-bom"
	case bytes.HasPrefix(buf, []byte{0xFF, 0xFE}):
		return "utf-16le"
	case bytes.HasPrefix(buf, []byte{0xFE, 0xFF}):
		return "utf-16be"
	default:
		return "utf-8"
	}
}

// Markup extracts the visible text of HTML/XML-family files: tag
// bytes are dropped, everything between tags is kept, capped at
// ctx.ContentSize bytes of input.
func Markup(ctx *parsectx.TextCtx, f *vfile.File, doc *document.Document) error {
	buf := make([]byte, ctx.ContentSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return fmt.Errorf("parsers: markup: %w", err)
	}
	doc.AppendMeta("content", string(stripTags(buf[:n])))
	doc.AppendMeta("parser", "markup")
	return nil
}

func stripTags(in []byte) []byte {
	out := make([]byte, 0, len(in))
	inTag := false
	for _, c := range in {
		switch {
		case c == '<':
			inTag = true
		case c == '>' && inTag:
			inTag = false
			out = append(out, ' ')
		case !inTag:
			out = append(out, c)
		}
	}
	return bytes.TrimSpace(out)
}

// JSON validates the file as a single JSON value and records whether
// it parsed plus the number of top-level object keys (0 for
// non-objects).
func JSON(ctx *parsectx.JSONCtx, f *vfile.File, doc *document.Document) error {
	data, err := io.ReadAll(io.LimitReader(f, int64(ctx.ContentSize)))
	if err != nil {
		return fmt.Errorf("parsers: json: %w", err)
	}
	var v any
	valid := json.Unmarshal(data, &v) == nil
	keys := 0
	if m, ok := v.(map[string]any); ok {
		keys = len(m)
	}
	doc.AppendMeta("parser", "json")
	if valid {
		doc.AppendMeta("json_valid", "true")
	} else {
		doc.AppendMeta("json_valid", "false")
	}
	doc.AppendMetaNum("json_keys", int64(keys))
	return nil
}

// NDJSON validates every line as its own JSON value and records
// whether every line parsed ("json_valid") and the number of valid
// lines ("json_keys"). The invalid-line count is not recorded.
func NDJSON(ctx *parsectx.JSONCtx, f *vfile.File, doc *document.Document) error {
	data, err := io.ReadAll(io.LimitReader(f, int64(ctx.ContentSize)))
	if err != nil {
		return fmt.Errorf("parsers: ndjson: %w", err)
	}
	var valid, invalid int64
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var v any
		if json.Unmarshal(line, &v) == nil {
			valid++
		} else {
			invalid++
		}
	}
	doc.AppendMeta("parser", "ndjson")
	doc.AppendMeta("json_valid", fmt.Sprintf("%t", invalid == 0))
	doc.AppendMetaNum("json_keys", valid)
	return nil
}

// ArchiveMode selects how deep Archive descends into a ZIP's entries.
type ArchiveMode int

const (
	ArchiveSkip ArchiveMode = iota
	ArchiveList
	ArchiveShallow
	ArchiveRecurse
)

// Archive walks a ZIP's central directory with the standard library,
// re-entering parseFn (ArchiveCtx.Parse, wired by scanrun to
// dispatch.WireArchiveParse) for each entry so children are fully dispatched
// documents with HasParent set and MetaParent pointing at this
// archive's id.
func Archive(ctx *parsectx.ArchiveCtx, mode ArchiveMode, f *vfile.File, doc *document.Document, depth int) error {
	doc.AppendMeta("parser", "archive")
	if mode == ArchiveSkip {
		return nil
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("parsers: archive: read: %w", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		doc.AppendMeta("archive_error", err.Error())
		return nil
	}
	doc.AppendMetaNum("archive_entries", int64(len(zr.File)))
	if mode == ArchiveList {
		for _, zf := range zr.File {
			doc.AppendMeta("archive_entry", zf.Name)
		}
		return nil
	}
	if mode == ArchiveShallow && depth > 0 {
		return nil
	}
	if ctx.MaxDepth > 0 && depth >= ctx.MaxDepth {
		return nil
	}
	if ctx.Parse == nil {
		return nil
	}

	parentID := doc.IDHex()
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			continue
		}
		entryPath := doc.FilePath + "!" + zf.Name
		childVF := vfile.FromArchiveEntry(zf.Name, rc, int64(zf.UncompressedSize64), zf.Modified, ctx.Checksums)
		job := walker.Job{
			Path:       entryPath,
			BaseOffset: 0,
			ExtOffset:  walker.ExtOffset(entryPath),
		}
		err = ctx.Parse(childVF, job, parentID, depth+1)
		rc.Close()
		if err != nil {
			continue
		}
	}
	return nil
}

// sampleBufSize is how much of a file a stand-in retains when its
// context doesn't cap the read itself.
const sampleBufSize = 4096

// readSample consumes the whole stream through f, retaining the first
// max bytes. The full drain matters even though only the head is
// kept: the checksum state must see every byte, the way a real
// decoder's read pattern would deliver them.
func readSample(f *vfile.File, max int) ([]byte, error) {
	if max <= 0 {
		max = sampleBufSize
	}
	head := make([]byte, max)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	if _, err := io.Copy(io.Discard, f); err != nil {
		return nil, err
	}
	return head[:n], nil
}

// standin writes a deterministic synthetic thumbnail (derived from the
// document's id and the sampled head bytes, so it's stable across
// reruns of the same file) and records which parser ran, for
// categories that don't get a real codec in this build.
func standin(name string, thumbs Thumbs, doc *document.Document, tnSize int, sample []byte) error {
	doc.AppendMeta("parser", name)
	if tnSize <= 0 || thumbs == nil {
		return nil
	}
	var buf bytes.Buffer
	buf.WriteString("filescan-thumb:")
	buf.WriteString(name)
	buf.WriteByte(':')
	var sz [8]byte
	binary.BigEndian.PutUint64(sz[:], uint64(tnSize))
	buf.Write(sz[:])
	buf.Write(doc.PathHash[:])
	if len(sample) > 16 {
		sample = sample[:16]
	}
	buf.Write(sample)
	return thumbs.WriteThumb(doc.IDHex(), buf.Bytes())
}

// Raw renders a synthetic thumbnail for camera raw images.
func Raw(ctx *parsectx.RawCtx, thumbs Thumbs, f *vfile.File, doc *document.Document) error {
	sample, err := readSample(f, 0)
	if err != nil {
		return fmt.Errorf("parsers: raw: %w", err)
	}
	return standin("raw", thumbs, doc, ctx.ThumbnailMax, sample)
}

// Media renders a synthetic thumbnail for audio/video/image files,
// honoring the decode buffer cap and subtitle-extraction toggle a real
// media decoder would respect.
func Media(ctx *parsectx.MediaCtx, thumbs Thumbs, f *vfile.File, doc *document.Document) error {
	if ctx.BufferLimitBytes > 0 && doc.Size > ctx.BufferLimitBytes {
		doc.AppendMeta("media_truncated", "true")
	}
	if ctx.ReadSubtitles {
		doc.AppendMeta("subtitles_requested", "true")
	}
	if ctx.OCRImages {
		doc.AppendMeta("ocr_lang", ctx.OCRLang)
	}
	sample, err := readSample(f, 0)
	if err != nil {
		return fmt.Errorf("parsers: media: %w", err)
	}
	return standin("media", thumbs, doc, ctx.ThumbnailMax, sample)
}

// Ebook reads the file under EbookCtx.Mu, modeling the non-reentrant
// library constraint, then renders a synthetic cover.
func Ebook(ctx *parsectx.EbookCtx, thumbs Thumbs, f *vfile.File, doc *document.Document) error {
	ctx.Mu.Lock()
	defer ctx.Mu.Unlock()
	if ctx.FastEPUB {
		doc.AppendMeta("fast_epub", "true")
	}
	if ctx.OCREbooks {
		doc.AppendMeta("ocr_lang", ctx.OCRLang)
	}
	sample, err := readSample(f, ctx.ContentSize)
	if err != nil {
		return fmt.Errorf("parsers: ebook: %w", err)
	}
	return standin("ebook", thumbs, doc, ctx.ThumbnailMax, sample)
}

// Font records the glyph sample text and the parser name. It writes no
// thumbnail: it passes a thumbnail size of 0 to the stand-in.
func Font(ctx *parsectx.FontCtx, thumbs Thumbs, f *vfile.File, doc *document.Document) error {
	doc.AppendMeta("sample_text", ctx.SampleText)
	sample, err := readSample(f, 0)
	if err != nil {
		return fmt.Errorf("parsers: font: %w", err)
	}
	return standin("font", thumbs, doc, 0, sample)
}

// OOXML records how much extractable content a docx/xlsx/pptx carries.
func OOXML(ctx *parsectx.OOXMLCtx, f *vfile.File, doc *document.Document) error {
	sample, err := readSample(f, ctx.ContentSize)
	if err != nil {
		return fmt.Errorf("parsers: ooxml: %w", err)
	}
	doc.AppendMetaNum("content_bytes", int64(len(sample)))
	return standin("ooxml", nil, doc, 0, sample)
}

// Comic renders a synthetic cover thumbnail for CBR/CBZ.
func Comic(ctx *parsectx.ComicCtx, thumbs Thumbs, f *vfile.File, doc *document.Document) error {
	doc.AppendMetaNum("thumbnail_page", int64(ctx.ThumbnailPage))
	sample, err := readSample(f, 0)
	if err != nil {
		return fmt.Errorf("parsers: comic: %w", err)
	}
	return standin("comic", thumbs, doc, 256, sample)
}

// Mobi records a placeholder content summary for Mobipocket ebooks.
func Mobi(ctx *parsectx.MobiCtx, thumbs Thumbs, f *vfile.File, doc *document.Document) error {
	sample, err := readSample(f, ctx.ContentSize)
	if err != nil {
		return fmt.Errorf("parsers: mobi: %w", err)
	}
	return standin("mobi", thumbs, doc, ctx.ContentSize/32, sample)
}

// MSDoc records a placeholder content summary for legacy binary Office documents.
func MSDoc(ctx *parsectx.MSDocCtx, f *vfile.File, doc *document.Document) error {
	sample, err := readSample(f, ctx.ContentSize)
	if err != nil {
		return fmt.Errorf("parsers: msdoc: %w", err)
	}
	doc.AppendMetaNum("content_bytes", int64(len(sample)))
	return standin("msdoc", nil, doc, 0, sample)
}
