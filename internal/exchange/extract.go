package exchange

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultChunkSize    = 32 * 1024
	DefaultMaxEntrySize = 256 << 20
)

// Extractor unpacks untrusted archives.
type Extractor struct {
	ChunkSize    int
	MaxEntrySize int64
}

// Extract unpacks archivePath into destRoot with the default limits.
func Extract(ctx context.Context, archivePath, destRoot string) ([]string, error) {
	return Extractor{}.Extract(ctx, archivePath, destRoot)
}

// Extract unpacks every entry of archivePath under destRoot and returns the
// slash-separated names of the files written.
//
// Each entry name is validated before any of its bytes are written. The
// first unsafe entry aborts extraction; files already written stay behind,
// so destRoot should be a disposable scratch directory.
func (x Extractor) Extract(ctx context.Context, archivePath, destRoot string) (files []string, err error) {
	chunk := x.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	limit := x.MaxEntrySize
	if limit <= 0 {
		limit = DefaultMaxEntrySize
	}

	root, err := filepath.Abs(destRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve extraction root: %w", err)
	}

	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w: %w", ErrInvalidArchive, err)
	}
	defer func() {
		if closeErr := zr.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	buf := make([]byte, chunk)
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name, err := cleanEntryName(f.Name)
		if err != nil {
			return nil, err
		}
		dest, err := resolveEntry(root, name)
		if err != nil {
			return nil, err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return nil, fmt.Errorf("create directory %s: %w", name, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return nil, fmt.Errorf("create parent of %s: %w", name, err)
		}
		if err := extractEntry(f, dest, buf, limit); err != nil {
			return nil, fmt.Errorf("extract %s: %w", name, err)
		}
		files = append(files, name)
	}
	return files, nil
}

// cleanEntryName normalizes separators and rejects names that are empty,
// absolute, drive-prefixed or contain a ".." segment.
func cleanEntryName(raw string) (string, error) {
	name := strings.ReplaceAll(raw, `\`, "/")
	reject := &PathTraversalError{Entry: raw}

	trimmed := strings.TrimSuffix(name, "/")
	if trimmed == "" || strings.HasPrefix(name, "/") {
		return "", reject
	}
	if len(name) >= 2 && name[1] == ':' && isLetter(name[0]) {
		return "", reject
	}
	for _, seg := range strings.Split(trimmed, "/") {
		if seg == ".." {
			return "", reject
		}
	}
	return name, nil
}

// resolveEntry joins name under root and checks the result is a descendant.
func resolveEntry(root, name string) (string, error) {
	dest := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, dest)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", &PathTraversalError{Entry: name}
	}
	return dest, nil
}

// extractEntry copies the entry through buf, one chunk at a time, failing
// once more than limit bytes have been read.
func extractEntry(f *zip.File, dest string, buf []byte, limit int64) (err error) {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	var written int64
	for {
		n, readErr := rc.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > limit {
				return fmt.Errorf("%w (%d bytes)", ErrEntryTooLarge, limit)
			}
			if _, err := out.Write(buf[:n]); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
