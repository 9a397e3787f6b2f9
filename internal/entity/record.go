package entity

import (
	"github.com/JonMunkholm/recordkeeper/internal/cell"
)

// Record maps canonical column keys to values. A missing key and a Null
// value both read as Null; only present keys are written on update.
type Record map[string]cell.Value

// Get returns the value for col, or Null.
func (r Record) Get(col string) cell.Value {
	if v, ok := r[col]; ok {
		return v
	}
	return cell.Null()
}

// Text returns the string payload for col.
func (r Record) Text(col string) string {
	return r.Get(col).Text()
}

// Clone returns a shallow copy. Values are immutable so this is a full copy
// for everything except JSON payloads, which callers must not mutate.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Key returns the identity value of a single-key entity.
// ok is false when the entity has no single key or the key cell is empty.
func (r Record) Key(def *Definition) (string, bool) {
	col, single := def.SingleKey()
	if !single {
		return "", false
	}
	v := r.Get(col)
	if v.IsNull() {
		return "", false
	}
	return cell.Format(v), true
}

// Matches reports whether every column present in r equals the same column in other.
func (r Record) Matches(other Record) bool {
	for k, v := range r {
		if !v.Equal(other.Get(k)) {
			return false
		}
	}
	return true
}

// Row renders the record as sheet cells in the definition's column order.
func (r Record) Row(def *Definition) []string {
	row := make([]string, len(def.Columns))
	for i, c := range def.Columns {
		row[i] = cell.Format(r.Get(c.Name))
	}
	return row
}
