package memory

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/recordkeeper/internal/entity"
	"github.com/JonMunkholm/recordkeeper/internal/storage"
)

// table keeps rows in insertion order.
type table struct {
	order []string
	rows  map[string]entity.Record
}

func newTable() *table {
	return &table{rows: make(map[string]entity.Record)}
}

func (t *table) get(key string) (entity.Record, bool) {
	rec, ok := t.rows[key]
	return rec, ok
}

// set stores rec under key and returns the row it replaced.
func (t *table) set(key string, rec entity.Record) (entity.Record, bool) {
	prev, existed := t.rows[key]
	if !existed {
		t.order = append(t.order, key)
	}
	t.rows[key] = rec
	return prev, existed
}

// remove deletes key and returns the row and its position.
func (t *table) remove(key string) (entity.Record, int, bool) {
	prev, ok := t.rows[key]
	if !ok {
		return nil, -1, false
	}
	idx := -1
	for i, k := range t.order {
		if k == key {
			idx = i
			break
		}
	}
	t.order = append(t.order[:idx], t.order[idx+1:]...)
	delete(t.rows, key)
	return prev, idx, true
}

func (t *table) restore(key string, rec entity.Record, idx int) {
	t.order = append(t.order, "")
	copy(t.order[idx+1:], t.order[idx:])
	t.order[idx] = key
	t.rows[key] = rec
}

func (t *table) list() []entity.Record {
	out := make([]entity.Record, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, t.rows[k].Clone())
	}
	return out
}

// table returns the named table, creating it. Callers hold mu for writing.
func (s *Store) table(name string) *table {
	t, ok := s.tables[name]
	if !ok {
		t = newTable()
		s.tables[name] = t
	}
	return t
}

// put writes rec and journals the undo step. Callers hold mu.
func (s *Store) put(ctx context.Context, name, key string, rec entity.Record) {
	t := s.table(name)
	prev, existed := t.set(key, rec)
	u := unitFrom(ctx)
	if existed {
		u.record(func() { t.set(key, prev) })
		return
	}
	u.record(func() { t.remove(key) })
}

// del removes key and journals the undo step. Callers hold mu.
func (s *Store) del(ctx context.Context, name, key string) bool {
	t := s.table(name)
	prev, idx, ok := t.remove(key)
	if !ok {
		return false
	}
	unitFrom(ctx).record(func() { t.restore(key, prev, idx) })
	return true
}

// Get implements storage.RecordStore.
func (s *Store) Get(_ context.Context, def *entity.Definition, key string) (entity.Record, error) {
	if _, single := def.SingleKey(); !single {
		return nil, fmt.Errorf("%s: %w", def.Name, storage.ErrNoKey)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[def.Table]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", def.Name, key, storage.ErrNotFound)
	}
	rec, ok := t.get(key)
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", def.Name, key, storage.ErrNotFound)
	}
	return rec.Clone(), nil
}

// Insert implements storage.RecordStore. Entities without a single key get
// a synthetic row key and never collide.
func (s *Store) Insert(ctx context.Context, def *entity.Definition, rec entity.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := project(def, rec)
	if _, single := def.SingleKey(); !single {
		s.seq++
		s.put(ctx, def.Table, fmt.Sprintf("#%d", s.seq), row)
		return nil
	}

	key, ok := rec.Key(def)
	if !ok {
		return fmt.Errorf("%s: %w", def.Name, storage.ErrNoKey)
	}
	if _, exists := s.table(def.Table).get(key); exists {
		return fmt.Errorf("%s %s: %w", def.Name, key, storage.ErrDuplicate)
	}
	s.put(ctx, def.Table, key, row)
	return nil
}

// Update implements storage.RecordStore.
func (s *Store) Update(ctx context.Context, def *entity.Definition, key string, rec entity.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.table(def.Table).get(key)
	if !ok {
		return fmt.Errorf("%s %s: %w", def.Name, key, storage.ErrNotFound)
	}
	next := current.Clone()
	for col, v := range project(def, rec) {
		next[col] = v
	}
	s.put(ctx, def.Table, key, next)
	return nil
}

// List implements storage.RecordStore.
func (s *Store) List(_ context.Context, def *entity.Definition) ([]entity.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[def.Table]
	if !ok {
		return []entity.Record{}, nil
	}
	return t.list(), nil
}

// Count implements storage.RecordStore.
func (s *Store) Count(_ context.Context, def *entity.Definition) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[def.Table]
	if !ok {
		return 0, nil
	}
	return len(t.order), nil
}

// project keeps only the entity's declared columns.
func project(def *entity.Definition, rec entity.Record) entity.Record {
	out := make(entity.Record, len(rec))
	for col, v := range rec {
		if _, ok := def.Column(col); ok {
			out[col] = v
		}
	}
	return out
}
