// Package stats computes end-of-scan summary counters and a directory
// treemap from an already-produced index, invoked once after a scan
// drains. It is a pure function of the document set: no I/O beyond the
// one helper that reads an index directory to build that set.
package stats

import (
	"encoding/json"
	"path/filepath"
	"sort"

	"github.com/mesdx/filescan/internal/docstream"
	"github.com/mesdx/filescan/internal/document"
	"github.com/mesdx/filescan/internal/mimetable"
)

// DefaultTreemapThreshold is the --treemap-threshold default: a
// directory must account for at least this fraction of total scanned
// bytes to appear in the treemap.
const DefaultTreemapThreshold = 0.0005

// TreemapNode is one directory's aggregated footprint.
type TreemapNode struct {
	Path  string `json:"path"`
	Size  int64  `json:"size"`
	Count int    `json:"count"`
}

// Stats is the pure summary of one completed scan's document set, plus
// the dispatcher's own skip/exclude/fail counters (passed through, not
// recomputed, since they're not observable from the documents alone).
type Stats struct {
	FilesVisited int              `json:"files_visited"`
	Emitted      int              `json:"emitted"`
	Skipped      int              `json:"skipped"`
	Excluded     int              `json:"excluded"`
	Failed       int              `json:"failed"`
	TotalSize    int64            `json:"total_size"`
	ByMajorMime  map[string]int64 `json:"by_major_mime"` // category name -> cumulative size
	Treemap      []TreemapNode    `json:"treemap"`
}

// Counters carries the three dispatcher-tracked tallies that aren't
// derivable from the emitted documents themselves (a skipped/excluded/
// failed file never becomes a Document).
type Counters struct {
	Skipped  int
	Excluded int
	Failed   int
}

var majorNames = map[mimetable.Category]string{
	mimetable.Other:   "other",
	mimetable.Video:   "video",
	mimetable.Image:   "image",
	mimetable.Audio:   "audio",
	mimetable.Text:    "text",
	mimetable.Doc:     "doc",
	mimetable.Archive: "archive",
	mimetable.Font:    "font",
	mimetable.Raw:     "raw",
	mimetable.Book:    "book",
	mimetable.Sidecar: "sidecar",
}

// Compute reduces docs (plus the dispatcher's pass-through counters)
// into a Stats value. It performs no I/O.
func Compute(docs []*document.Document, c Counters, treemapThreshold float64) Stats {
	if treemapThreshold <= 0 {
		treemapThreshold = DefaultTreemapThreshold
	}

	s := Stats{
		Emitted:     len(docs),
		Skipped:     c.Skipped,
		Excluded:    c.Excluded,
		Failed:      c.Failed,
		ByMajorMime: map[string]int64{},
	}
	s.FilesVisited = s.Emitted + s.Skipped + s.Excluded + s.Failed

	dirSizes := map[string]int64{}
	dirCounts := map[string]int{}

	for _, d := range docs {
		s.TotalSize += d.Size
		name := majorNames[mimetable.Major(d.MimeID)]
		if name == "" {
			name = "other"
		}
		s.ByMajorMime[name] += d.Size

		dir := filepath.Dir(d.FilePath)
		dirSizes[dir] += d.Size
		dirCounts[dir]++
	}

	if s.TotalSize > 0 {
		for dir, size := range dirSizes {
			if float64(size)/float64(s.TotalSize) < treemapThreshold {
				continue
			}
			s.Treemap = append(s.Treemap, TreemapNode{Path: dir, Size: size, Count: dirCounts[dir]})
		}
	}
	sort.Slice(s.Treemap, func(i, j int) bool {
		if s.Treemap[i].Size != s.Treemap[j].Size {
			return s.Treemap[i].Size > s.Treemap[j].Size
		}
		return s.Treemap[i].Path < s.Treemap[j].Path
	})

	return s
}

// ComputeFromIndexDir reads every shard in dir back into Document
// values and reduces them with Compute, for re-deriving stats for an
// existing index without a live dispatcher's counters (c is then the
// caller's best estimate, typically zeroes).
func ComputeFromIndexDir(dir string, c Counters, treemapThreshold float64) (Stats, error) {
	rows := make(chan *docstream.RawRow, 64)
	errCh := make(chan error, 1)
	go func() { errCh <- docstream.IterateIndexDir(dir, rows) }()

	var docs []*document.Document
	for row := range rows {
		var d document.Document
		if err := json.Unmarshal(row.Raw, &d); err != nil {
			continue
		}
		docs = append(docs, &d)
	}
	if err := <-errCh; err != nil {
		return Stats{}, err
	}
	return Compute(docs, c, treemapThreshold), nil
}
