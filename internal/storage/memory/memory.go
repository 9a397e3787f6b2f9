// Package memory is an in-process storage backend used by tests, the CLI
// and `STORE_DRIVER=memory` servers.
//
// Units of work are serialized by a single-token semaphore that waiters
// give up on when their context ends. Every write inside a unit
// appends an undo step to its journal, so a failed row or a rolled back
// batch restores exactly the state it started from.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JonMunkholm/recordkeeper/internal/audit"
	"github.com/JonMunkholm/recordkeeper/internal/storage"
)

// Store holds every table in memory.
type Store struct {
	units chan struct{} // one token, held for the lifetime of a unit of work

	mu     sync.RWMutex
	tables map[string]*table
	events []audit.Event
	actors map[string]audit.Actor
	seq    int
}

var (
	_ storage.RecordStore = (*Store)(nil)
	_ storage.Transactor  = (*Store)(nil)
	_ storage.Batcher     = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		units:  make(chan struct{}, 1),
		tables: make(map[string]*table),
		actors: make(map[string]audit.Actor),
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// acquireUnit waits for the unit-of-work token or for ctx to end.
func (s *Store) acquireUnit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case s.units <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) releaseUnit() { <-s.units }

type unitKey struct{}

// unit is the undo journal of one unit of work.
type unit struct {
	undo []func()
}

func unitFrom(ctx context.Context) *unit {
	u, _ := ctx.Value(unitKey{}).(*unit)
	return u
}

func (u *unit) record(fn func()) {
	if u != nil {
		u.undo = append(u.undo, fn)
	}
}

// rollbackTo undoes every step after mark. Callers hold Store.mu.
func (u *unit) rollbackTo(mark int) {
	for i := len(u.undo) - 1; i >= mark; i-- {
		u.undo[i]()
	}
	u.undo = u.undo[:mark]
}

// WithinTx runs fn as one unit of work, joining the unit already in ctx.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if unitFrom(ctx) != nil {
		return fn(ctx)
	}

	if err := s.acquireUnit(ctx); err != nil {
		return err
	}
	defer s.releaseUnit()

	u := &unit{}
	if err := fn(context.WithValue(ctx, unitKey{}, u)); err != nil {
		s.mu.Lock()
		u.rollbackTo(0)
		s.mu.Unlock()
		return err
	}
	return nil
}

// BeginBatch opens a unit of work that lasts until Commit or Rollback.
func (s *Store) BeginBatch(ctx context.Context) (context.Context, storage.Batch, error) {
	if err := s.acquireUnit(ctx); err != nil {
		return ctx, nil, fmt.Errorf("begin batch: %w", err)
	}
	u := &unit{}
	return context.WithValue(ctx, unitKey{}, u), &batch{store: s, unit: u}, nil
}

type batch struct {
	store *Store
	unit  *unit
	done  bool
}

// Row undoes fn's writes when it fails.
func (b *batch) Row(ctx context.Context, fn func(ctx context.Context) error) error {
	b.store.mu.RLock()
	mark := len(b.unit.undo)
	b.store.mu.RUnlock()

	if err := fn(ctx); err != nil {
		b.store.mu.Lock()
		b.unit.rollbackTo(mark)
		b.store.mu.Unlock()
		return err
	}
	return nil
}

func (b *batch) Commit(context.Context) error {
	if b.done {
		return nil
	}
	b.done = true
	b.unit.undo = nil
	b.store.releaseUnit()
	return nil
}

func (b *batch) Rollback(context.Context) error {
	if b.done {
		return nil
	}
	b.done = true
	b.store.mu.Lock()
	b.unit.rollbackTo(0)
	b.store.mu.Unlock()
	b.store.releaseUnit()
	return nil
}
