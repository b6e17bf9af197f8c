package media

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// ErrCorruptManifest is returned by LoadManifest when the stored manifest
// cannot be parsed. The returned Manifest is empty and usable.
var ErrCorruptManifest = errors.New("corrupt manifest")

// ManifestEntry describes the optimized variants of one source image.
type ManifestEntry struct {
	ID           string           `json:"id"`
	Src          string           `json:"src"`
	Width        int              `json:"width"`
	Height       int              `json:"height"`
	LastModified float64          `json:"lastModified"`
	Placeholder  string           `json:"blurDataURL"`
	Color        string           `json:"color,omitempty"`
	Variants     map[string][]int `json:"variants"`
}

// Manifest maps asset ids to their entries.
type Manifest map[string]ManifestEntry

// Get returns the entry for id.
func (m Manifest) Get(id string) (ManifestEntry, bool) {
	e, ok := m[id]
	return e, ok
}

// IDs returns the sorted entry ids.
func (m Manifest) IDs() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Merge returns a new manifest holding m's entries overwritten by updates.
// Neither input is modified.
func (m Manifest) Merge(updates map[string]ManifestEntry) Manifest {
	out := make(Manifest, len(m)+len(updates))
	for id, e := range m {
		out[id] = e
	}
	for id, e := range updates {
		out[id] = e
	}
	return out
}

// Prune returns a copy of m without the ids missing from keep, and the
// sorted list of removed ids.
func (m Manifest) Prune(keep map[string]bool) (Manifest, []string) {
	out := make(Manifest, len(m))
	var removed []string
	for id, e := range m {
		if keep[id] {
			out[id] = e
			continue
		}
		removed = append(removed, id)
	}
	sort.Strings(removed)
	return out, removed
}

// NeedsProcessing reports whether a must be (re)generated: true unless prev
// holds an entry for it with the same fingerprint.
func NeedsProcessing(prev Manifest, a RawAsset) bool {
	e, ok := prev[a.ID]
	return !ok || e.LastModified != a.LastModified
}

// LoadManifest reads the manifest at path. A missing file is an empty
// manifest. An unreadable or unparsable file yields an empty manifest
// together with an error wrapping ErrCorruptManifest.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Manifest{}, nil
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrCorruptManifest, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrCorruptManifest, err)
	}
	if m == nil {
		m = Manifest{}
	}
	return m, nil
}

// SaveManifest writes m as indented JSON, replacing any previous file in a
// single rename.
func SaveManifest(path string, m Manifest) error {
	if m == nil {
		m = Manifest{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	if err := writeFileAtomic(path, buf.Bytes()); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// writeFileAtomic writes data next to path and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Chmod(name, 0o644); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}
