package document

import (
	"errors"
	"fmt"
)

var (
	ErrVersionConflict  = errors.New("version conflict")
	ErrPermissionDenied = errors.New("permission denied")
	ErrMissingDocument  = errors.New("document not found")
	ErrDocumentExists   = errors.New("document already exists")
	ErrInvalidDocument  = errors.New("invalid document")
)

// ConflictError reports a stale expected version. Actual is -1 when the
// conflict was detected by the conditional write rather than the read.
type ConflictError struct {
	ID       string
	Expected int
	Actual   int
}

func (e *ConflictError) Error() string {
	if e.Actual < 0 {
		return fmt.Sprintf("document %s: expected version %d is stale", e.ID, e.Expected)
	}
	return fmt.Sprintf("document %s: expected version %d, current version is %d", e.ID, e.Expected, e.Actual)
}

func (e *ConflictError) Unwrap() error { return ErrVersionConflict }

// PermissionError reports a mutation the actor or the document state forbids.
type PermissionError struct {
	ID      string
	ActorID string
	Reason  string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("document %s: %s", e.ID, e.Reason)
}

func (e *PermissionError) Unwrap() error { return ErrPermissionDenied }

// ValidationError reports a malformed document or child.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidDocument }
