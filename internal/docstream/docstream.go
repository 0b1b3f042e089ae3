// Package docstream writes and reads the NDJSON document shards that
// make up an index: zstd-compressed, newline-delimited JSON, rotated
// across files once a shard grows past a size threshold. Writes are
// serialized through a single-worker tpool.Pool so callers never need
// their own lock around the encoder.
package docstream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/mesdx/filescan/internal/tpool"
)

// ShardPrefix/ShardSuffix name the rotating regular shards;
// OriginalShardName names the fixed incremental-copy shard.
const (
	ShardPrefix      = "_index_"
	ShardSuffix      = ".ndjson.zst"
	OriginalShardName = "_index_original.ndjson.zst"
)

// DefaultShardMaxBytes is the uncompressed-bytes-written threshold
// before a shard rotates.
const DefaultShardMaxBytes = 64 * 1024 * 1024

// Writer appends documents to a rotating set of compressed shards
// under dir. All writes funnel through a single worker so file
// handles and the zstd encoder are only ever touched by one goroutine.
type Writer struct {
	dir           string
	shardMaxBytes int64
	pool          *tpool.Pool

	mu          sync.Mutex // not locked anywhere: shard state is only touched from the pool goroutine, and by Drain after the pool has stopped
	shardIdx    int
	written     int64
	file        *os.File
	zw          *zstd.Encoder
	bw          *bufio.Writer

	originalFile *os.File
	originalZW   *zstd.Encoder

	errMu sync.Mutex
	err   error
}

// NewWriter opens (creating if needed) the first shard in dir.
func NewWriter(dir string, shardMaxBytes int64) (*Writer, error) {
	if shardMaxBytes <= 0 {
		shardMaxBytes = DefaultShardMaxBytes
	}
	w := &Writer{dir: dir, shardMaxBytes: shardMaxBytes}
	w.pool = tpool.New(1, nil)
	w.pool.Start()
	if err := w.openShard(0); err != nil {
		return nil, err
	}
	return w, nil
}

func shardName(idx int) string {
	return fmt.Sprintf("%s%03d%s", ShardPrefix, idx, ShardSuffix)
}

func (w *Writer) openShard(idx int) error {
	f, err := os.Create(filepath.Join(w.dir, shardName(idx)))
	if err != nil {
		return fmt.Errorf("docstream: create shard: %w", err)
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("docstream: zstd writer: %w", err)
	}
	w.shardIdx = idx
	w.written = 0
	w.file = f
	w.zw = zw
	w.bw = bufio.NewWriter(zw)
	return nil
}

func (w *Writer) rotate() error {
	if err := w.flushShard(); err != nil {
		return err
	}
	return w.openShard(w.shardIdx + 1)
}

func (w *Writer) flushShard() error {
	if w.bw != nil {
		if err := w.bw.Flush(); err != nil {
			return err
		}
	}
	if w.zw != nil {
		if err := w.zw.Close(); err != nil {
			return err
		}
	}
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

func (w *Writer) setErr(err error) {
	w.errMu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.errMu.Unlock()
}

// Err returns the first write error encountered by the background
// worker, if any.
func (w *Writer) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

// Write serializes doc to JSON on the caller's goroutine (so a caller
// reusing its Document value after Write returns can't race the
// writer worker) and enqueues the encoded line for the writer
// goroutine, which does the disk write. Write blocks only while the
// writer's job queue is full.
func (w *Writer) Write(doc any) {
	data, err := json.Marshal(doc)
	if err != nil {
		w.setErr(fmt.Errorf("docstream: marshal: %w", err))
		return
	}
	w.pool.Submit(func() {
		w.writeLine(data)
	})
}

func (w *Writer) writeLine(line []byte) {
	if w.written+int64(len(line))+1 > w.shardMaxBytes && w.written > 0 {
		if err := w.rotate(); err != nil {
			w.setErr(err)
			return
		}
	}
	if _, err := w.bw.Write(line); err != nil {
		w.setErr(err)
		return
	}
	if err := w.bw.WriteByte('\n'); err != nil {
		w.setErr(err)
		return
	}
	w.written += int64(len(line)) + 1
}

// WriteOriginalRaw appends a byte-identical line (no JSON re-encoding)
// to _index_original.ndjson.zst, used during the incremental-copy
// phase to carry forward unchanged rows verbatim.
func (w *Writer) WriteOriginalRaw(line []byte) {
	w.pool.Submit(func() {
		if w.originalFile == nil {
			f, err := os.Create(filepath.Join(w.dir, OriginalShardName))
			if err != nil {
				w.setErr(fmt.Errorf("docstream: create original shard: %w", err))
				return
			}
			zw, err := zstd.NewWriter(f)
			if err != nil {
				f.Close()
				w.setErr(fmt.Errorf("docstream: zstd writer: %w", err))
				return
			}
			w.originalFile = f
			w.originalZW = zw
		}
		if _, err := w.originalZW.Write(line); err != nil {
			w.setErr(err)
			return
		}
		if _, err := w.originalZW.Write([]byte("\n")); err != nil {
			w.setErr(err)
		}
	})
}

// Drain blocks until every submitted write has completed, flushes and
// closes the active shards, and stops the writer pool. Call exactly
// once, after the last Write/WriteOriginalRaw.
func (w *Writer) Drain() error {
	w.pool.Wait()
	w.pool.Close()
	if err := w.flushShard(); err != nil {
		w.setErr(err)
	}
	if w.originalZW != nil {
		if err := w.originalZW.Close(); err != nil {
			w.setErr(err)
		}
	}
	if w.originalFile != nil {
		if err := w.originalFile.Close(); err != nil {
			w.setErr(err)
		}
	}
	return w.Err()
}

// RawRow is one decoded-enough document row: the verbatim encoded
// bytes, plus the two fields the incremental tables need, without a
// full Document unmarshal.
type RawRow struct {
	Raw      []byte
	PathHash string `json:"_id"`
	MtimeSec int64  `json:"mtime"`
}

// Reader streams RawRows out of a single compressed shard file.
type Reader struct {
	f  *os.File
	zr *zstd.Decoder
	sc *bufio.Scanner
}

// OpenReader opens shardPath for reading.
func OpenReader(shardPath string) (*Reader, error) {
	f, err := os.Open(shardPath)
	if err != nil {
		return nil, err
	}
	zr, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	sc := bufio.NewScanner(zr)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Reader{f: f, zr: zr, sc: sc}, nil
}

// Next returns the next row, or (nil, io.EOF)-equivalent nil,nil at
// end of stream.
func (r *Reader) Next() (*RawRow, error) {
	if !r.sc.Scan() {
		return nil, r.sc.Err()
	}
	line := r.sc.Bytes()
	row := &RawRow{Raw: append([]byte(nil), line...)}
	if err := json.Unmarshal(line, row); err != nil {
		return nil, fmt.Errorf("docstream: decode row: %w", err)
	}
	return row, nil
}

// Close releases the underlying file and decoder.
func (r *Reader) Close() error {
	r.zr.Close()
	return r.f.Close()
}

// ShardPaths lists every shard file in dir, sorted by name: the
// rotating shards in rotation order, then _index_original.ndjson.zst
// when present, so rows carried forward by an earlier incremental scan
// are read as well.
func ShardPaths(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ShardPrefix) && strings.HasSuffix(name, ShardSuffix) {
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// IterateIndexDir opens every shard in dir in order and streams every
// row on out, closing out when done.
func IterateIndexDir(dir string, out chan<- *RawRow) error {
	defer close(out)
	paths, err := ShardPaths(dir)
	if err != nil {
		return err
	}
	for _, p := range paths {
		r, err := OpenReader(p)
		if err != nil {
			return err
		}
		for {
			row, err := r.Next()
			if err != nil {
				r.Close()
				return err
			}
			if row == nil {
				break
			}
			out <- row
		}
		if err := r.Close(); err != nil {
			return err
		}
	}
	return nil
}
