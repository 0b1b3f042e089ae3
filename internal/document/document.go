// Package document defines the unit emitted per scanned file: the
// Document record and its typed metadata entries, plus the JSON
// encoding every index row uses on disk.
package document

import (
	"crypto/md5" //nolint:gosec // content-addressing key, not a security boundary
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/mesdx/filescan/internal/mimetable"
)

// Reserved metadata keys, handled specially by the scan coordinator
// rather than by any individual parser.
const (
	MetaParent   = "parent"
	MetaChecksum = "checksum"
)

// MetaKind tags the value union carried by a MetaEntry.
type MetaKind int

const (
	MetaNumber MetaKind = iota
	MetaString
	MetaHash
)

// MetaEntry is one typed key/value pair in a Document's metadata list.
type MetaEntry struct {
	Key  string
	Kind MetaKind
	Num  int64
	Str  string
	Hash [16]byte
}

// MarshalJSON renders a MetaEntry as a flat {key, value_*} object
// whose value key is selected by the entry's kind.
func (m MetaEntry) MarshalJSON() ([]byte, error) {
	switch m.Kind {
	case MetaNumber:
		return json.Marshal(struct {
			Key   string `json:"key"`
			Value int64  `json:"value_num"`
		}{m.Key, m.Num})
	case MetaHash:
		return json.Marshal(struct {
			Key   string `json:"key"`
			Value string `json:"value_hash"`
		}{m.Key, hex.EncodeToString(m.Hash[:])})
	default:
		return json.Marshal(struct {
			Key   string `json:"key"`
			Value string `json:"value_str"`
		}{m.Key, m.Str})
	}
}

// UnmarshalJSON parses a MetaEntry back from its tagged-union shape,
// inferring the kind from whichever value_* key is present.
func (m *MetaEntry) UnmarshalJSON(data []byte) error {
	var w struct {
		Key      string `json:"key"`
		ValueNum *int64 `json:"value_num"`
		ValueStr *string `json:"value_str"`
		ValueHash *string `json:"value_hash"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.Key = w.Key
	switch {
	case w.ValueNum != nil:
		m.Kind = MetaNumber
		m.Num = *w.ValueNum
	case w.ValueHash != nil:
		m.Kind = MetaHash
		raw, err := hex.DecodeString(*w.ValueHash)
		if err != nil {
			return fmt.Errorf("document: meta %q: bad hash value: %w", w.Key, err)
		}
		if len(raw) != 16 {
			return fmt.Errorf("document: meta %q: hash value is %d bytes, want 16", w.Key, len(raw))
		}
		copy(m.Hash[:], raw)
	default:
		m.Kind = MetaString
		if w.ValueStr != nil {
			m.Str = *w.ValueStr
		}
	}
	return nil
}

// PathHash returns MD5(relPath), the document's _id.
func PathHash(relPath string) [16]byte {
	return md5.Sum([]byte(relPath)) //nolint:gosec // content-addressing key, not a security boundary
}

// Document is the unit emitted per scanned file.
type Document struct {
	PathHash   [16]byte
	FilePath   string
	ExtOffset  int
	BaseOffset int
	MimeID     mimetable.ID
	Size       int64
	MtimeSec   int64
	Meta       []MetaEntry
	HasParent  bool
	Checksum   string
}

// IDHex renders the document's path hash as the 32-hex "_id" string.
func (d *Document) IDHex() string {
	return hex.EncodeToString(d.PathHash[:])
}

// AppendMeta appends a string-valued metadata entry.
func (d *Document) AppendMeta(key, value string) {
	d.Meta = append(d.Meta, MetaEntry{Key: key, Kind: MetaString, Str: value})
}

// AppendMetaNum appends a numeric-valued metadata entry.
func (d *Document) AppendMetaNum(key string, value int64) {
	d.Meta = append(d.Meta, MetaEntry{Key: key, Kind: MetaNumber, Num: value})
}

// AppendMetaHash appends a hash-valued metadata entry.
func (d *Document) AppendMetaHash(key string, value [16]byte) {
	d.Meta = append(d.Meta, MetaEntry{Key: key, Kind: MetaHash, Hash: value})
}

// wireDocument is the on-disk JSON shape. Field names are part of the
// index format consumed downstream and must not change.
type wireDocument struct {
	ID        string      `json:"_id"`
	Path      string      `json:"path"`
	Extension string      `json:"extension"`
	Size      int64       `json:"size"`
	Mtime     int64       `json:"mtime"`
	Mime      string      `json:"mime"`
	HasParent bool        `json:"has_parent"`
	Checksum  string      `json:"checksum,omitempty"`
	Meta      []MetaEntry `json:"meta,omitempty"`
}

// MarshalJSON renders the document in the on-disk wire shape.
func (d *Document) MarshalJSON() ([]byte, error) {
	ext := ""
	if d.ExtOffset >= 0 && d.ExtOffset < len(d.FilePath) {
		ext = d.FilePath[d.ExtOffset+1:]
	}
	return json.Marshal(wireDocument{
		ID:        d.IDHex(),
		Path:      d.FilePath,
		Extension: ext,
		Size:      d.Size,
		Mtime:     d.MtimeSec,
		Mime:      mimetable.Std().Text(d.MimeID),
		HasParent: d.HasParent,
		Checksum:  d.Checksum,
		Meta:      d.Meta,
	})
}

// UnmarshalJSON parses a document row back from its wire shape,
// resolving the MIME string back to the shared table's id.
func (d *Document) UnmarshalJSON(data []byte) error {
	var w wireDocument
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	raw, err := hex.DecodeString(w.ID)
	if err != nil {
		return fmt.Errorf("document: bad _id %q: %w", w.ID, err)
	}
	if len(raw) != 16 {
		return fmt.Errorf("document: _id %q is %d bytes, want 16", w.ID, len(raw))
	}
	copy(d.PathHash[:], raw)
	d.FilePath = w.Path
	d.Size = w.Size
	d.MtimeSec = w.Mtime
	d.HasParent = w.HasParent
	d.Checksum = w.Checksum
	d.Meta = w.Meta
	if id, ok := mimetable.Std().ByString(w.Mime); ok {
		d.MimeID = id
	}
	if w.Extension != "" {
		d.ExtOffset = len(w.Path) - len(w.Extension) - 1
	} else {
		d.ExtOffset = -1
	}
	return nil
}
