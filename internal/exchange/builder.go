package exchange

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/JonMunkholm/recordkeeper/internal/entity"
)

// DefaultSchemaVersion is written to manifests when none is configured.
const DefaultSchemaVersion = "1.0"

// Collection is one entity's records to export.
type Collection struct {
	Entity  *entity.Definition
	Records []entity.Record
}

// BuildMeta carries the manifest header fields.
type BuildMeta struct {
	SchemaVersion string
	ExportedAt    time.Time
	ExportedBy    *string
}

// BuildResult describes a written container.
type BuildResult struct {
	Path     string
	SHA256   string
	Size     int64
	Counts   map[string]int
	Manifest *Manifest
}

// Build writes a container at path holding one sheet per collection and a
// manifest of their digests. The container is written to path+".tmp" and
// renamed into place, so path never holds a partial archive.
func Build(ctx context.Context, path string, collections []Collection, meta BuildMeta) (BuildResult, error) {
	if meta.SchemaVersion == "" {
		meta.SchemaVersion = DefaultSchemaVersion
	}
	if meta.ExportedAt.IsZero() {
		meta.ExportedAt = time.Now()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return BuildResult{}, fmt.Errorf("create output directory: %w", err)
	}

	tmp := path + ".tmp"
	manifest, err := writeContainer(ctx, tmp, collections, meta)
	if err != nil {
		_ = os.Remove(tmp)
		return BuildResult{}, err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return BuildResult{}, fmt.Errorf("move archive into place: %w", err)
	}

	digest, size, err := HashFile(path)
	if err != nil {
		return BuildResult{}, fmt.Errorf("hash archive: %w", err)
	}

	counts := make(map[string]int, len(collections))
	for _, c := range collections {
		counts[c.Entity.Name] = len(c.Records)
	}
	return BuildResult{Path: path, SHA256: digest, Size: size, Counts: counts, Manifest: manifest}, nil
}

func writeContainer(ctx context.Context, path string, collections []Collection, meta BuildMeta) (m *Manifest, err error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close archive: %w", closeErr)
		}
	}()

	zw := zip.NewWriter(f)
	m = &Manifest{
		SchemaVersion: meta.SchemaVersion,
		ExportedAt:    meta.ExportedAt.UTC(),
		ExportedBy:    meta.ExportedBy,
	}

	for _, c := range collections {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, err := addSheet(zw, c, meta.ExportedAt)
		if err != nil {
			return nil, fmt.Errorf("write sheet %s: %w", c.Entity.Name, err)
		}
		m.Files = append(m.Files, entry)
	}

	data, err := m.encode()
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	w, err := zw.CreateHeader(&zip.FileHeader{Name: ManifestName, Method: zip.Deflate, Modified: meta.ExportedAt})
	if err != nil {
		return nil, fmt.Errorf("create manifest entry: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finish archive: %w", err)
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("sync archive: %w", err)
	}
	return m, nil
}

// addSheet streams one sheet into the container while hashing it.
func addSheet(zw *zip.Writer, c Collection, modified time.Time) (ManifestEntry, error) {
	name := SheetName(c.Entity.Name)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: modified})
	if err != nil {
		return ManifestEntry{}, err
	}

	h := sha256.New()
	cw := &countingWriter{}
	if err := WriteSheet(io.MultiWriter(w, h, cw), c.Entity, c.Records); err != nil {
		return ManifestEntry{}, err
	}
	return ManifestEntry{Name: name, SHA256: hexSum(h), Size: cw.n}, nil
}

type countingWriter struct{ n int64 }

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

func hexSum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}
