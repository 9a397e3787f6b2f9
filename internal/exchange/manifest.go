package exchange

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

const (
	// ManifestName is the manifest's location at the container root.
	ManifestName = "manifest.json"
	// SheetDir holds one CSV per entity.
	SheetDir = "sheets"
	sheetExt = ".csv"
)

// Manifest lists every file of an archive with its digest.
type Manifest struct {
	SchemaVersion string          `json:"schema_version"`
	ExportedAt    time.Time       `json:"exported_at"`
	ExportedBy    *string         `json:"exported_by"`
	Files         []ManifestEntry `json:"files"`
}

// ManifestEntry is one archived file. Name is slash-separated and relative.
type ManifestEntry struct {
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// SheetName returns the archive path of an entity's sheet.
func SheetName(entity string) string {
	return path.Join(SheetDir, entity+sheetExt)
}

// SheetEntity returns the entity a sheet path belongs to.
func SheetEntity(name string) (string, bool) {
	dir, file := path.Split(name)
	if strings.TrimSuffix(dir, "/") != SheetDir || !strings.HasSuffix(file, sheetExt) {
		return "", false
	}
	return strings.TrimSuffix(file, sheetExt), true
}

// Entry returns the entry with the given name.
func (m *Manifest) Entry(name string) (ManifestEntry, bool) {
	for _, e := range m.Files {
		if e.Name == name {
			return e, true
		}
	}
	return ManifestEntry{}, false
}

func (m *Manifest) encode() ([]byte, error) {
	if m.Files == nil {
		m.Files = []ManifestEntry{}
	}
	return json.MarshalIndent(m, "", "  ")
}

// ReadManifest loads the manifest from an extracted archive root.
func ReadManifest(root string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(root, ManifestName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrMissingManifest
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest is not valid JSON: %v", ErrIntegrityMismatch, err)
	}
	return &m, nil
}
