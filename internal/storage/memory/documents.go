package memory

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/recordkeeper/internal/document"
	"github.com/JonMunkholm/recordkeeper/internal/entity"
	"github.com/JonMunkholm/recordkeeper/internal/entity/catalog"
	"github.com/JonMunkholm/recordkeeper/internal/storage"
)

// Documents is the document.Repository view of the store. Headers, marks
// and stages live in the same tables the record view exports.
type Documents struct {
	s *Store
}

var _ document.Repository = (*Documents)(nil)

// Documents returns the document repository.
func (s *Store) Documents() *Documents {
	return &Documents{s: s}
}

// Get implements document.Repository.
func (r *Documents) Get(_ context.Context, id string) (*document.Document, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.load(id)
}

// Insert implements document.Repository.
func (r *Documents) Insert(ctx context.Context, doc *document.Document) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.table(catalog.Documents).get(doc.ID); ok {
		return fmt.Errorf("%s: %w", doc.ID, document.ErrDocumentExists)
	}
	return r.write(ctx, doc)
}

// UpdateIfVersion implements document.Repository.
func (r *Documents) UpdateIfVersion(ctx context.Context, doc *document.Document, expected int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.checkVersion(doc.ID, expected); err != nil {
		return err
	}
	r.deleteChildren(ctx, doc.ID)
	return r.write(ctx, doc)
}

// DeleteIfVersion implements document.Repository.
func (r *Documents) DeleteIfVersion(ctx context.Context, id string, expected int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.checkVersion(id, expected); err != nil {
		return err
	}
	r.deleteChildren(ctx, id)
	r.s.del(ctx, catalog.Documents, id)
	return nil
}

func (r *Documents) checkVersion(id string, expected int) error {
	header, ok := r.s.table(catalog.Documents).get(id)
	if !ok {
		return fmt.Errorf("%s: %w", id, document.ErrMissingDocument)
	}
	if int(header.Get("version").Int()) != expected {
		return fmt.Errorf("%s: %w", id, document.ErrVersionConflict)
	}
	return nil
}

// write stores the header and children. Children IDs owned by another
// document are rejected. Callers hold mu.
func (r *Documents) write(ctx context.Context, doc *document.Document) error {
	header, marks, stages := doc.Records()
	if err := r.claim(catalog.DocumentMarks, doc.ID, marks); err != nil {
		return err
	}
	if err := r.claim(catalog.DocumentStages, doc.ID, stages); err != nil {
		return err
	}

	r.s.put(ctx, catalog.Documents, doc.ID, header)
	for _, m := range marks {
		r.s.put(ctx, catalog.DocumentMarks, m.Text("id"), m)
	}
	for _, st := range stages {
		r.s.put(ctx, catalog.DocumentStages, st.Text("id"), st)
	}
	return nil
}

func (r *Documents) claim(table, docID string, rows []entity.Record) error {
	t := r.s.table(table)
	for _, rec := range rows {
		if existing, ok := t.get(rec.Text("id")); ok && existing.Text("document_id") != docID {
			return fmt.Errorf("%s %s belongs to document %s: %w",
				table, rec.Text("id"), existing.Text("document_id"), storage.ErrDuplicate)
		}
	}
	return nil
}

func (r *Documents) deleteChildren(ctx context.Context, docID string) {
	for _, name := range []string{catalog.DocumentMarks, catalog.DocumentStages} {
		t := r.s.table(name)
		var keys []string
		for _, k := range t.order {
			if t.rows[k].Text("document_id") == docID {
				keys = append(keys, k)
			}
		}
		for _, k := range keys {
			r.s.del(ctx, name, k)
		}
	}
}

// load assembles a document. Callers hold mu.
func (r *Documents) load(id string) (*document.Document, error) {
	t, ok := r.s.tables[catalog.Documents]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, document.ErrMissingDocument)
	}
	header, ok := t.get(id)
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, document.ErrMissingDocument)
	}
	doc, err := document.FromRecords(header, r.children(catalog.DocumentMarks, id), r.children(catalog.DocumentStages, id))
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", id, err)
	}
	return doc, nil
}

func (r *Documents) children(table, docID string) []entity.Record {
	t, ok := r.s.tables[table]
	if !ok {
		return nil
	}
	var out []entity.Record
	for _, k := range t.order {
		if rec := t.rows[k]; rec.Text("document_id") == docID {
			out = append(out, rec)
		}
	}
	return out
}
