package exchange

import (
	"github.com/JonMunkholm/recordkeeper/internal/entity"
)

// columnMap is a sheet header resolved against an entity's alias table.
// columns[i] is the canonical key of header cell i, or "" when the header
// is unknown or repeats a column already mapped.
type columnMap struct {
	columns []string
	unknown []string
}

// resolveHeader maps each header label to a canonical column once per sheet.
func resolveHeader(def *entity.Definition, header []string) columnMap {
	cm := columnMap{columns: make([]string, len(header))}
	seen := make(map[string]bool, len(header))
	for i, label := range header {
		col, ok := def.ResolveHeader(label)
		if !ok || seen[col] {
			cm.unknown = append(cm.unknown, label)
			continue
		}
		seen[col] = true
		cm.columns[i] = col
	}
	return cm
}

// has reports whether col appears in the header.
func (cm columnMap) has(col string) bool {
	for _, c := range cm.columns {
		if c == col {
			return true
		}
	}
	return false
}
