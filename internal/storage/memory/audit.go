package memory

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/recordkeeper/internal/actor"
	"github.com/JonMunkholm/recordkeeper/internal/audit"
)

var (
	_ audit.Sink   = (*Store)(nil)
	_ audit.Reader = (*Store)(nil)
	_ actor.Source = (*Store)(nil)
)

// Append implements audit.Sink.
func (s *Store) Append(ctx context.Context, ev audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, ev)
	n := len(s.events) - 1
	unitFrom(ctx).record(func() { s.events = s.events[:n] })
	return nil
}

// ListByEntity implements audit.Reader.
func (s *Store) ListByEntity(_ context.Context, entityType, entityID string, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []audit.Event{}
	for i := len(s.events) - 1; i >= 0; i-- {
		ev := s.events[i]
		if ev.EntityType != entityType || ev.EntityID != entityID {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Events returns every appended event in order.
func (s *Store) Events() []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event(nil), s.events...)
}

// PutActor registers or replaces an actor.
func (s *Store) PutActor(_ context.Context, a audit.Actor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actors[a.ID] = a
	return nil
}

// LookupActor implements actor.Source.
func (s *Store) LookupActor(_ context.Context, id string) (audit.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.actors[id]
	if !ok {
		return audit.Actor{}, fmt.Errorf("%w: %s", actor.ErrUnknownActor, id)
	}
	return a, nil
}
