// Package storage declares the contracts shared by the storage backends.
//
// A unit of work travels in the context: Transactor.WithinTx and
// Batcher.BeginBatch return contexts that every store method joins, so a
// document mutation made during an import lands in the import's transaction.
package storage

import (
	"context"
	"errors"

	"github.com/JonMunkholm/recordkeeper/internal/entity"
)

// Sentinel errors for storage facts. Callers translate them into domain errors.
var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicate    = errors.New("duplicate record")
	ErrNoKey        = errors.New("entity has no single key")
	ErrConstraint   = errors.New("constraint violation")
	ErrInvalidValue = errors.New("value rejected by the database")

	// ErrBatchAborted means a batch lost its row isolation and must be
	// rolled back. Any other error returned by Batch.Row belongs to the row.
	ErrBatchAborted = errors.New("batch aborted")
)

// RecordStore is the row-oriented accessor for plain entities.
type RecordStore interface {
	// Get returns the record with the given single-column key, or ErrNotFound.
	Get(ctx context.Context, def *entity.Definition, key string) (entity.Record, error)
	// Insert adds a record. Keyed entities return ErrDuplicate on collision.
	Insert(ctx context.Context, def *entity.Definition, rec entity.Record) error
	// Update overwrites the columns present in rec, or returns ErrNotFound.
	Update(ctx context.Context, def *entity.Definition, key string, rec entity.Record) error
	// List returns every record of the entity in a stable order.
	List(ctx context.Context, def *entity.Definition) ([]entity.Record, error)
	// Count returns the number of stored records.
	Count(ctx context.Context, def *entity.Definition) (int, error)
}

// Transactor runs fn in one unit of work. If ctx already carries one, fn joins it.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Batcher opens a long-lived unit of work with per-row isolation.
type Batcher interface {
	BeginBatch(ctx context.Context) (context.Context, Batch, error)
}

// Batch is one import's unit of work.
//
// Row runs fn inside a sub-transaction: when fn fails, only its own writes
// are undone and earlier rows stay applied, and fn's error is returned as
// is. Errors wrapping ErrBatchAborted come from the sub-transaction itself.
// Commit or Rollback ends the batch.
type Batch interface {
	Row(ctx context.Context, fn func(ctx context.Context) error) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
