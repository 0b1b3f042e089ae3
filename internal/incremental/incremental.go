// Package incremental tracks which files a prior scan already indexed,
// so a rescan can skip unchanged files and carry their rows and blobs
// forward instead of re-parsing them.
package incremental

import (
	"sync"

	"github.com/mesdx/filescan/internal/docstream"
)

// Tables holds the two lookup structures the dispatcher consults: the
// prior scan's path-hash to mtime map (read-heavy, populated once at
// Load time) and the current scan's copy-marks set (write-heavy,
// populated as files are found unchanged).
type Tables struct {
	mu       sync.RWMutex
	original map[string]int64

	copyMu sync.Mutex
	copy   map[string]bool
}

// New returns an empty Tables, used for a non-incremental (full) scan.
func New() *Tables {
	return &Tables{
		original: map[string]int64{},
		copy:     map[string]bool{},
	}
}

// Load reads every shard of a prior index directory and populates the
// original mtime table from each row's path hash and mtime.
func Load(priorIndexDir string) (*Tables, error) {
	t := New()
	rows := make(chan *docstream.RawRow, 64)
	errCh := make(chan error, 1)
	go func() { errCh <- docstream.IterateIndexDir(priorIndexDir, rows) }()
	for row := range rows {
		t.original[row.PathHash] = row.MtimeSec
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return t, nil
}

// OriginalMtime returns the prior scan's recorded mtime for hash, and
// whether it was present at all.
func (t *Tables) OriginalMtime(hash string) (int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.original[hash]
	return v, ok
}

// Unchanged reports whether hash was present in the prior scan with
// the same mtime, meaning the file can be skipped and its row/blobs
// carried forward instead of re-parsed.
func (t *Tables) Unchanged(hash string, mtimeSec int64) bool {
	prev, ok := t.OriginalMtime(hash)
	return ok && prev == mtimeSec
}

// MarkForCopy records that hash's row and blobs should be carried
// forward into the new index during the incremental-copy phase.
func (t *Tables) MarkForCopy(hash string) {
	t.copyMu.Lock()
	if t.copy == nil {
		t.copy = map[string]bool{}
	}
	t.copy[hash] = true
	t.copyMu.Unlock()
}

// IsMarkedForCopy reports whether hash was marked during this scan.
func (t *Tables) IsMarkedForCopy(hash string) bool {
	t.copyMu.Lock()
	defer t.copyMu.Unlock()
	return t.copy[hash]
}

// CopyMarks returns every hash marked for copy, for the incremental-copy
// phase that scans the prior index's rows looking for matches.
func (t *Tables) CopyMarks() []string {
	t.copyMu.Lock()
	defer t.copyMu.Unlock()
	out := make([]string, 0, len(t.copy))
	for h := range t.copy {
		out = append(out, h)
	}
	return out
}
