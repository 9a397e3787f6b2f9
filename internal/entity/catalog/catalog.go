// Package catalog declares the exchangeable entities.
// Each file registers one family of entities.
package catalog

import "github.com/JonMunkholm/recordkeeper/internal/entity"

// Entity names.
const (
	Departments    = "departments"
	People         = "people"
	Documents      = "documents"
	DocumentMarks  = "document_marks"
	DocumentStages = "document_stages"
	DocumentLinks  = "document_links"
)

// New returns a registry holding every entity.
func New() *entity.Registry {
	r := entity.NewRegistry()
	registerReference(r)
	registerDocuments(r)
	return r
}
