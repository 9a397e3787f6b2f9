package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/recordkeeper/internal/document"
	"github.com/JonMunkholm/recordkeeper/internal/entity"
	"github.com/JonMunkholm/recordkeeper/internal/entity/catalog"
	"github.com/JonMunkholm/recordkeeper/internal/storage"
)

// Documents is the document.Repository view of the store. It reads and
// writes the same tables the record view exports.
type Documents struct {
	s      *Store
	header *entity.Definition
	marks  *entity.Definition
	stages *entity.Definition
}

var _ document.Repository = (*Documents)(nil)

// Documents returns the document repository. It panics if the registry
// lacks the document entities.
func (s *Store) Documents() *Documents {
	return &Documents{
		s:      s,
		header: mustDef(s.registry, catalog.Documents),
		marks:  mustDef(s.registry, catalog.DocumentMarks),
		stages: mustDef(s.registry, catalog.DocumentStages),
	}
}

func mustDef(reg *entity.Registry, name string) *entity.Definition {
	def, ok := reg.Get(name)
	if !ok {
		panic("postgres: entity not registered: " + name)
	}
	return def
}

// Get implements document.Repository.
func (r *Documents) Get(ctx context.Context, id string) (*document.Document, error) {
	header, err := r.s.Get(ctx, r.header, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", id, document.ErrMissingDocument)
	}
	if err != nil {
		return nil, err
	}
	marks, err := r.s.query(ctx, r.marks, selectSQL(r.marks, ident("document_id")+" = $1"), id)
	if err != nil {
		return nil, err
	}
	stages, err := r.s.query(ctx, r.stages, selectSQL(r.stages, ident("document_id")+" = $1"), id)
	if err != nil {
		return nil, err
	}
	doc, err := document.FromRecords(header, marks, stages)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", id, err)
	}
	return doc, nil
}

// Insert implements document.Repository.
func (r *Documents) Insert(ctx context.Context, doc *document.Document) error {
	return r.s.WithinTx(ctx, func(ctx context.Context) error {
		header, marks, stages := doc.Records()
		if err := r.s.Insert(ctx, r.header, header); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return fmt.Errorf("%s: %w", doc.ID, document.ErrDocumentExists)
			}
			return err
		}
		return r.insertChildren(ctx, marks, stages)
	})
}

// UpdateIfVersion implements document.Repository. The header is written
// with a conditional UPDATE and the children are replaced wholesale.
func (r *Documents) UpdateIfVersion(ctx context.Context, doc *document.Document, expected int) error {
	return r.s.WithinTx(ctx, func(ctx context.Context) error {
		header, marks, stages := doc.Records()

		q, args, _ := updateSQL(r.header, "id", doc.ID, header)
		args = append(args, expected)
		q += fmt.Sprintf(" AND %s = $%d", ident("version"), len(args))

		tag, err := r.s.db(ctx).Exec(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("update document %s: %w", doc.ID, translate(err))
		}
		if tag.RowsAffected() == 0 {
			return r.missOrConflict(ctx, doc.ID)
		}

		if err := r.deleteChildren(ctx, doc.ID); err != nil {
			return err
		}
		return r.insertChildren(ctx, marks, stages)
	})
}

// DeleteIfVersion implements document.Repository. Children and links go
// with the header through ON DELETE CASCADE.
func (r *Documents) DeleteIfVersion(ctx context.Context, id string, expected int) error {
	tag, err := r.s.db(ctx).Exec(ctx,
		"DELETE FROM "+ident(r.header.Table)+" WHERE id = $1 AND version = $2", id, expected)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, translate(err))
	}
	if tag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, id)
	}
	return nil
}

// missOrConflict explains a conditional write that matched no row.
func (r *Documents) missOrConflict(ctx context.Context, id string) error {
	var exists bool
	err := r.s.db(ctx).QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM "+ident(r.header.Table)+" WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check document %s: %w", id, translate(err))
	}
	if !exists {
		return fmt.Errorf("%s: %w", id, document.ErrMissingDocument)
	}
	return fmt.Errorf("%s: %w", id, document.ErrVersionConflict)
}

func (r *Documents) deleteChildren(ctx context.Context, id string) error {
	for _, def := range []*entity.Definition{r.marks, r.stages} {
		if _, err := r.s.db(ctx).Exec(ctx, "DELETE FROM "+ident(def.Table)+" WHERE document_id = $1", id); err != nil {
			return fmt.Errorf("clear %s of %s: %w", def.Name, id, translate(err))
		}
	}
	return nil
}

// insertChildren writes marks and stages. An ID already used by another
// document fails with storage.ErrDuplicate.
func (r *Documents) insertChildren(ctx context.Context, marks, stages []entity.Record) error {
	for _, rec := range marks {
		if err := r.s.Insert(ctx, r.marks, rec); err != nil {
			return err
		}
	}
	for _, rec := range stages {
		if err := r.s.Insert(ctx, r.stages, rec); err != nil {
			return err
		}
	}
	return nil
}
