// Package entity describes the exchangeable entity types: their tables,
// ordered columns, identity keys and how imports route them.
package entity

import (
	"strings"

	"github.com/JonMunkholm/recordkeeper/internal/cell"
)

// Route selects which writer an import uses for an entity.
type Route uint8

const (
	// RoutePlain rows are written straight to the record store.
	RoutePlain Route = iota
	// RouteDocument rows go through the versioned document store.
	RouteDocument
	// RouteDocumentChild rows are children of a document and also go
	// through the versioned document store.
	RouteDocumentChild
)

// Column is one field of an entity, in declared sheet order.
type Column struct {
	Name    string    // Canonical key, also the database column
	Type    cell.Type // Parsing and formatting rules
	Aliases []string  // Legacy or localized header labels accepted on import
}

// Definition contains everything needed to export and import an entity.
type Definition struct {
	Name    string   // Unique key, also the sheet name: "people"
	Table   string   // Database table
	Label   string   // Display name: "People"
	Columns []Column // Sheet order
	Key     []string // Identity columns
	Order   int      // Import order; parents before children
	Route   Route

	// Built by Register.
	index   map[string]int
	headers map[string]string
}

// SingleKey returns the identity column when the entity has exactly one.
// Entities without a single key are always inserted on import.
func (d *Definition) SingleKey() (string, bool) {
	if len(d.Key) != 1 {
		return "", false
	}
	return d.Key[0], true
}

// Column returns the named column.
func (d *Definition) Column(name string) (Column, bool) {
	i, ok := d.index[name]
	if !ok {
		return Column{}, false
	}
	return d.Columns[i], true
}

// ColumnNames returns the canonical keys in sheet order.
func (d *Definition) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// ResolveHeader maps a sheet header label to its canonical column key.
// Matching ignores case and surrounding whitespace.
func (d *Definition) ResolveHeader(label string) (string, bool) {
	name, ok := d.headers[NormalizeHeader(label)]
	return name, ok
}

// NormalizeHeader strips a BOM, surrounding quotes and whitespace, and lowercases.
func NormalizeHeader(label string) string {
	label = strings.TrimPrefix(label, "\ufeff")
	label = strings.TrimSpace(label)
	label = strings.Trim(label, `"'`)
	return strings.ToLower(strings.TrimSpace(label))
}

// build prepares the lookup tables. The alias table is fixed once built.
func (d *Definition) build() error {
	d.index = make(map[string]int, len(d.Columns))
	d.headers = make(map[string]string, len(d.Columns)*2)

	for i, c := range d.Columns {
		if _, dup := d.index[c.Name]; dup {
			return &DefinitionError{Entity: d.Name, Reason: "duplicate column " + c.Name}
		}
		d.index[c.Name] = i
		d.headers[NormalizeHeader(c.Name)] = c.Name
	}
	for _, c := range d.Columns {
		for _, alias := range c.Aliases {
			key := NormalizeHeader(alias)
			if existing, taken := d.headers[key]; taken && existing != c.Name {
				return &DefinitionError{Entity: d.Name, Reason: "alias " + alias + " maps to both " + existing + " and " + c.Name}
			}
			d.headers[key] = c.Name
		}
	}
	for _, k := range d.Key {
		if _, ok := d.index[k]; !ok {
			return &DefinitionError{Entity: d.Name, Reason: "key column " + k + " is not declared"}
		}
	}
	return nil
}

// DefinitionError reports an invalid entity definition.
type DefinitionError struct {
	Entity string
	Reason string
}

func (e *DefinitionError) Error() string {
	return "entity " + e.Entity + ": " + e.Reason
}
