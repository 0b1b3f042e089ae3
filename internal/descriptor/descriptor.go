// Package descriptor reads and writes descriptor.json, the small
// manifest at the root of every index directory that identifies it,
// pins the producing version, and anchors incremental scans to the
// original scan root.
package descriptor

import (
	"crypto/md5" //nolint:gosec // identifier derivation, not a security boundary
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FileName is the descriptor's fixed name within an index directory.
const FileName = "descriptor.json"

// Descriptor is the persisted manifest for one index directory.
type Descriptor struct {
	ID         string `json:"id"`   // 32-hex, derived from Timestamp
	Version    string `json:"version"`
	Type       string `json:"type"` // always "ndjson"
	Timestamp  int64  `json:"timestamp"`
	Name       string `json:"name"`
	Root       string `json:"root"`
	RootLen    int    `json:"root_len"`
	RewriteURL string `json:"rewrite_url,omitempty"`
	RunID      string `json:"run_id"`
}

// New builds a descriptor for a fresh scan. timestamp is accepted as
// an argument (rather than taken from time.Now internally) so callers
// control it explicitly and tests can be deterministic.
func New(root, name, rewriteURL, version string, timestamp int64) *Descriptor {
	return &Descriptor{
		ID:         idFromTimestamp(timestamp),
		Version:    version,
		Type:       "ndjson",
		Timestamp:  timestamp,
		Name:       name,
		Root:       root,
		RootLen:    len(root),
		RewriteURL: rewriteURL,
		RunID:      uuid.NewString(),
	}
}

func idFromTimestamp(ts int64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(ts))
	sum := md5.Sum(buf[:]) //nolint:gosec // identifier derivation, not a security boundary
	return hex.EncodeToString(sum[:])
}

// Write serializes d to dir/descriptor.json atomically: write to a
// temp file in the same directory, then rename over the final name,
// so a reader never observes a partially written descriptor.
func Write(dir string, d *Descriptor) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("descriptor: marshal: %w", err)
	}
	final := filepath.Join(dir, FileName)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil { //nolint:gosec // index dir, not secret material
		return fmt.Errorf("descriptor: write temp: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("descriptor: rename: %w", err)
	}
	return nil
}

// Read loads dir/descriptor.json.
func Read(dir string) (*Descriptor, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return nil, fmt.Errorf("descriptor: read: %w", err)
	}
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("descriptor: unmarshal: %w", err)
	}
	return &d, nil
}

// CheckVersion enforces an exact string match between the descriptor's
// recorded producing version and the running binary's version, gating
// incremental reuse of an existing index directory.
func CheckVersion(d *Descriptor, running string) error {
	if d.Version != running {
		return fmt.Errorf("descriptor: version mismatch: index was built by %q, running %q", d.Version, running)
	}
	return nil
}
