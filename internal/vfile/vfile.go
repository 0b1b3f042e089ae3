// Package vfile provides a uniform read/rewind/close abstraction over
// filesystem files and archive-entry readers, so parsers written
// against it don't need to know which kind of byte source they hold.
package vfile

import (
	"bytes"
	"crypto/sha1" //nolint:gosec // content fingerprint, not a security boundary
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"os"
	"time"
)

// MagicBufSize is how many bytes ReadRewindable buffers for
// archive-entry sources before the rewindable guarantee lapses.
const MagicBufSize = 4096

// Kind distinguishes a filesystem file from an archive entry, used
// only to route error messages with the right context.
type Kind int

const (
	KindFS Kind = iota
	KindArchiveEntry
)

// File is the virtual file. Exactly one of fsFile/entryReader is set.
// When calcChecksum is set, bytes handed back by Read or
// ReadRewindable are streamed into the checksum state; each stream
// offset is hashed at most once, so bytes re-delivered after a Reset
// never skew the digest.
type File struct {
	kind Kind

	fsFile *os.File
	path   string

	entryReader io.Reader
	entryName   string

	size  int64
	mtime time.Time

	calcChecksum bool
	hasChecksum  bool
	checksum     string
	closed       bool
	sha          hash.Hash

	// pos is the current stream offset; hashed is the high-water mark
	// of offsets already fed to the checksum, so replayed bytes are
	// hashed at most once.
	pos    int64
	hashed int64

	// Archive entries have no native seek, so ReadRewindable buffers up
	// to MagicBufSize bytes to make Reset possible until either a plain
	// Read occurs or the buffer cap is exceeded.
	buf        bytes.Buffer
	bufPos     int
	rewindable bool
	sawRead    bool
}

// FromPath opens a filesystem path as a virtual file. The actual
// os.Open is deferred to the first Read/ReadRewindable call, so a job
// that never reads (skipped, unparsed) never consumes a descriptor.
func FromPath(path string, info os.FileInfo, calcChecksum bool) *File {
	return &File{
		kind:         KindFS,
		path:         path,
		size:         info.Size(),
		mtime:        info.ModTime(),
		calcChecksum: calcChecksum,
		rewindable:   true,
	}
}

// FromArchiveEntry wraps an archive entry reader (no native seek) as a
// virtual file.
func FromArchiveEntry(name string, r io.Reader, size int64, mtime time.Time, calcChecksum bool) *File {
	return &File{
		kind:         KindArchiveEntry,
		entryReader:  r,
		entryName:    name,
		size:         size,
		mtime:        mtime,
		calcChecksum: calcChecksum,
		rewindable:   true,
	}
}

// Kind reports whether this is a filesystem file or an archive entry.
func (f *File) Kind() Kind { return f.kind }

// Path returns the filesystem path or, for archive entries, the entry name.
func (f *File) Path() string {
	if f.kind == KindFS {
		return f.path
	}
	return f.entryName
}

// Size returns the cached file size (from the walker's stat, or the
// archive header).
func (f *File) Size() int64 { return f.size }

// Mtime returns the cached modification time.
func (f *File) Mtime() time.Time { return f.mtime }

func (f *File) ensureOpen() error {
	if f.kind != KindFS || f.fsFile != nil {
		return nil
	}
	fh, err := os.Open(f.path)
	if err != nil {
		return err
	}
	f.fsFile = fh
	return nil
}

func (f *File) track(p []byte, n int) {
	if n <= 0 {
		return
	}
	start := f.pos
	f.pos += int64(n)
	if !f.calcChecksum || f.pos <= f.hashed {
		return
	}
	skip := 0
	if start < f.hashed {
		skip = int(f.hashed - start)
	}
	f.hasChecksum = true
	if f.sha == nil {
		f.sha = sha1.New() //nolint:gosec // content fingerprint, not a security boundary
	}
	f.sha.Write(p[skip:n]) //nolint:errcheck // hash.Hash.Write never errors
	f.hashed = f.pos
}

// Read consumes the next bytes of the file. For archive entries, any
// bytes already buffered by ReadRewindable are drained first. Once
// called on an archive entry, rewindability is void.
func (f *File) Read(p []byte) (int, error) {
	f.sawRead = true
	if f.kind == KindArchiveEntry && f.bufPos < f.buf.Len() {
		n := copy(p, f.buf.Bytes()[f.bufPos:])
		f.bufPos += n
		f.pos += int64(n) // replayed bytes; already hashed
		return n, nil
	}
	if f.kind == KindArchiveEntry {
		f.rewindable = false
	}
	if err := f.ensureOpen(); err != nil {
		return 0, err
	}
	var n int
	var err error
	if f.kind == KindFS {
		n, err = f.fsFile.Read(p)
	} else if f.entryReader != nil {
		n, err = f.entryReader.Read(p)
	} else {
		return 0, io.EOF
	}
	f.track(p, n)
	return n, err
}

// ReadRewindable reads up to len(p) bytes while preserving the ability
// to Reset back to the start. Filesystem files rely on native seeking
// (always rewindable); archive entries buffer the bytes (up to
// MagicBufSize) since they have no seek of their own.
func (f *File) ReadRewindable(p []byte) (int, error) {
	if !f.rewindable || f.sawRead {
		return 0, errors.New("vfile: not rewindable")
	}
	if f.kind == KindFS {
		return f.Read(p)
	}

	if err := f.ensureOpen(); err != nil {
		return 0, err
	}
	n, err := f.entryReader.Read(p)
	if n > 0 {
		f.buf.Write(p[:n])
		f.track(p, n)
	}
	f.bufPos = f.buf.Len()
	if f.buf.Len() > MagicBufSize {
		f.rewindable = false
	}
	return n, err
}

// Reset rewinds the read cursor to the start, if still rewindable. For
// filesystem files this always succeeds (native seek); for archive
// entries it succeeds only while the replay buffer still covers
// everything read so far.
func (f *File) Reset() error {
	if f.kind == KindFS {
		if f.fsFile != nil {
			if _, err := f.fsFile.Seek(0, io.SeekStart); err != nil {
				return err
			}
		}
		f.pos = 0
		f.sawRead = false
		return nil
	}
	if !f.rewindable {
		return errors.New("vfile: reset unavailable, rewindable window elapsed")
	}
	f.bufPos = 0
	f.pos = 0
	f.sawRead = false
	return nil
}

// Close finalizes the checksum (if any bytes were tracked) and
// releases the underlying descriptor. Idempotent.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	if f.hasChecksum {
		if f.sha == nil {
			f.sha = sha1.New() //nolint:gosec // content fingerprint, not a security boundary
		}
		f.checksum = hex.EncodeToString(f.sha.Sum(nil))
	}
	if f.kind == KindFS && f.fsFile != nil {
		return f.fsFile.Close()
	}
	if closer, ok := f.entryReader.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Checksum returns the hex SHA-1 digest and true, valid only after
// Close has been called and at least one byte was read.
func (f *File) Checksum() (string, bool) {
	return f.checksum, f.hasChecksum
}
