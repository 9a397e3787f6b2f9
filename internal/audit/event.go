// Package audit defines the append-only audit trail written for every
// accepted document mutation, and the structural diff recorded with it.
package audit

import (
	"context"
	"time"
)

// Action represents the type of mutation being audited.
type Action string

const (
	ActionCreate          Action = "create"
	ActionUpdate          Action = "update"
	ActionReplaceChildren Action = "replace_children"
	ActionAddChild        Action = "add_child"
	ActionUpdateChild     Action = "update_child"
	ActionSign            Action = "sign"
	ActionDelete          Action = "delete"
)

// Severity represents the severity level of an audit entry.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityOf returns the severity recorded for an action.
func SeverityOf(action Action) Severity {
	switch action {
	case ActionSign:
		return SeverityHigh
	case ActionDelete:
		return SeverityCritical
	case ActionCreate:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// Role is an actor's permission level.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
	RoleSystem Role = "system"
)

// Actor is whoever performs a mutation.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role Role   `json:"role"`
}

// CanMutate reports whether the actor may change documents.
func (a Actor) CanMutate() bool {
	if a.ID == "" {
		return false
	}
	switch a.Role {
	case RoleAdmin, RoleEditor, RoleSystem:
		return true
	default:
		return false
	}
}

// Event is one audit log entry.
type Event struct {
	ID              string    `json:"id"`
	TS              time.Time `json:"ts"`
	Actor           Actor     `json:"actor"`
	Action          Action    `json:"action"`
	Severity        Severity  `json:"severity"`
	EntityType      string    `json:"entity_type"`
	EntityID        string    `json:"entity_id"`
	StatusFrom      string    `json:"status_from,omitempty"`
	StatusTo        string    `json:"status_to,omitempty"`
	ExpectedVersion int       `json:"expected_version"`
	NewVersion      int       `json:"new_version"`
	Changes         Changes   `json:"changes"`
}

// Payload is the JSON body stored alongside the indexed event columns.
type Payload struct {
	Actor           Actor   `json:"actor"`
	StatusFrom      string  `json:"status_from,omitempty"`
	StatusTo        string  `json:"status_to,omitempty"`
	ExpectedVersion int     `json:"expected_version"`
	NewVersion      int     `json:"new_version"`
	Changes         Changes `json:"changes"`
}

// Payload returns the event's JSON body.
func (e Event) Payload() Payload {
	return Payload{
		Actor:           e.Actor,
		StatusFrom:      e.StatusFrom,
		StatusTo:        e.StatusTo,
		ExpectedVersion: e.ExpectedVersion,
		NewVersion:      e.NewVersion,
		Changes:         e.Changes,
	}
}

// Sink appends audit events. Implementations join the caller's transaction
// when one is present in ctx.
type Sink interface {
	Append(ctx context.Context, ev Event) error
}

// Reader lists audit events for one entity, newest first.
type Reader interface {
	ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]Event, error)
}
