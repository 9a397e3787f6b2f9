package exchange

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// Verify checks every manifest entry under root against its recorded
// digest. Any missing file or mismatch fails the whole archive.
func Verify(root string) (*Manifest, error) {
	m, err := ReadManifest(root)
	if err != nil {
		return nil, err
	}

	for _, entry := range m.Files {
		name, err := cleanEntryName(entry.Name)
		if err != nil {
			return nil, err
		}
		path, err := resolveEntry(root, name)
		if err != nil {
			return nil, err
		}

		got, _, err := HashFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &IntegrityError{File: entry.Name, Expected: entry.SHA256}
		}
		if err != nil {
			return nil, fmt.Errorf("hash %s: %w", entry.Name, err)
		}
		if !strings.EqualFold(got, entry.SHA256) {
			return nil, &IntegrityError{File: entry.Name, Expected: strings.ToLower(entry.SHA256), Got: got}
		}
	}
	return m, nil
}
