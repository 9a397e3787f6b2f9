package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/recordkeeper/internal/actor"
	"github.com/JonMunkholm/recordkeeper/internal/audit"
)

var (
	_ audit.Sink   = (*Store)(nil)
	_ audit.Reader = (*Store)(nil)
	_ actor.Source = (*Store)(nil)
)

// Append implements audit.Sink. Indexed fields get their own columns and
// the rest of the event is stored as the JSON payload.
func (s *Store) Append(ctx context.Context, ev audit.Event) error {
	id, err := uuid.Parse(ev.ID)
	if err != nil {
		id = uuid.New()
	}
	payload, err := json.Marshal(ev.Payload())
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	_, err = s.db(ctx).Exec(ctx, `
		INSERT INTO audit_log (id, ts, entity_type, entity_id, action, severity, actor_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, ev.TS, ev.EntityType, ev.EntityID, string(ev.Action), string(ev.Severity), ev.Actor.ID, payload,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", translate(err))
	}
	return nil
}

// ListByEntity implements audit.Reader.
func (s *Store) ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]audit.Event, error) {
	q := `
		SELECT id, ts, entity_type, entity_id, action, severity, payload
		FROM audit_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY ts DESC, seq DESC`
	args := []any{entityType, entityID}
	if limit > 0 {
		q += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.db(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", translate(err))
	}
	defer rows.Close()

	out := []audit.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return out, nil
}

func scanEvent(rows pgx.Rows) (audit.Event, error) {
	var (
		ev       audit.Event
		id       uuid.UUID
		action   string
		severity string
		raw      []byte
	)
	if err := rows.Scan(&id, &ev.TS, &ev.EntityType, &ev.EntityID, &action, &severity, &raw); err != nil {
		return audit.Event{}, fmt.Errorf("scan audit event: %w", err)
	}

	var p audit.Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return audit.Event{}, fmt.Errorf("decode audit payload %s: %w", id, err)
	}
	ev.ID = id.String()
	ev.TS = ev.TS.UTC()
	ev.Action = audit.Action(action)
	ev.Severity = audit.Severity(severity)
	ev.Actor = p.Actor
	ev.StatusFrom = p.StatusFrom
	ev.StatusTo = p.StatusTo
	ev.ExpectedVersion = p.ExpectedVersion
	ev.NewVersion = p.NewVersion
	ev.Changes = p.Changes
	return ev, nil
}

// PutActor registers or replaces an actor.
func (s *Store) PutActor(ctx context.Context, a audit.Actor) error {
	_, err := s.db(ctx).Exec(ctx, `
		INSERT INTO actors (id, name, role) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, role = EXCLUDED.role`,
		a.ID, a.Name, string(a.Role),
	)
	if err != nil {
		return fmt.Errorf("put actor %s: %w", a.ID, translate(err))
	}
	return nil
}

// LookupActor implements actor.Source.
func (s *Store) LookupActor(ctx context.Context, id string) (audit.Actor, error) {
	var (
		a    = audit.Actor{ID: id}
		role string
	)
	err := s.db(ctx).QueryRow(ctx, "SELECT name, role FROM actors WHERE id = $1", id).Scan(&a.Name, &role)
	if errors.Is(err, pgx.ErrNoRows) {
		return audit.Actor{}, fmt.Errorf("%w: %s", actor.ErrUnknownActor, id)
	}
	if err != nil {
		return audit.Actor{}, fmt.Errorf("lookup actor %s: %w", id, translate(err))
	}
	a.Role = audit.Role(role)
	return a, nil
}
