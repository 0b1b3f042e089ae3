package stats

import (
	"testing"

	"github.com/mesdx/filescan/internal/document"
	"github.com/mesdx/filescan/internal/mimetable"
)

func TestComputeAggregatesSizeAndCounters(t *testing.T) {
	txtID, _ := mimetable.Std().ByExt(".txt")
	jpgID, _ := mimetable.Std().ByExt(".jpg")

	docs := []*document.Document{
		{FilePath: "/root/a/x.txt", MimeID: txtID, Size: 100},
		{FilePath: "/root/a/y.txt", MimeID: txtID, Size: 200},
		{FilePath: "/root/b/z.jpg", MimeID: jpgID, Size: 700},
	}

	s := Compute(docs, Counters{Skipped: 1, Excluded: 2, Failed: 3}, 0)

	if s.Emitted != 3 {
		t.Fatalf("expected 3 emitted, got %d", s.Emitted)
	}
	if s.FilesVisited != 3+1+2+3 {
		t.Fatalf("expected conservation invariant to hold, got %d", s.FilesVisited)
	}
	if s.TotalSize != 1000 {
		t.Fatalf("expected total size 1000, got %d", s.TotalSize)
	}
	if s.ByMajorMime["text"] != 300 {
		t.Fatalf("expected text category to total 300, got %d", s.ByMajorMime["text"])
	}
	if s.ByMajorMime["image"] != 700 {
		t.Fatalf("expected image category to total 700, got %d", s.ByMajorMime["image"])
	}
}

func TestComputeTreemapRespectsThreshold(t *testing.T) {
	txtID, _ := mimetable.Std().ByExt(".txt")
	docs := []*document.Document{
		{FilePath: "/root/big/a.txt", MimeID: txtID, Size: 999},
		{FilePath: "/root/tiny/b.txt", MimeID: txtID, Size: 1},
	}
	s := Compute(docs, Counters{}, 0.5)

	if len(s.Treemap) != 1 || s.Treemap[0].Path != "/root/big" {
		t.Fatalf("expected only /root/big to clear the 0.5 threshold, got %+v", s.Treemap)
	}
}

func TestComputeEmptyDocsYieldsZeroStats(t *testing.T) {
	s := Compute(nil, Counters{}, 0)
	if s.Emitted != 0 || s.TotalSize != 0 || len(s.Treemap) != 0 {
		t.Fatalf("expected a zero-value Stats for no documents, got %+v", s)
	}
}
