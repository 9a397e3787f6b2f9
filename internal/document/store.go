package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/JonMunkholm/recordkeeper/internal/audit"
	"github.com/JonMunkholm/recordkeeper/internal/storage"
)

var tracer = otel.Tracer("recordkeeper/document")

// Recorder receives mutation outcomes for metrics.
type Recorder interface {
	DocumentMutation(action, result string)
}

type nopRecorder struct{}

func (nopRecorder) DocumentMutation(string, string) {}

// Store is the only writer of document versions and status.
//
// Every mutation loads the current row, checks the actor and the status,
// compares versions, then writes with a conditional update so a concurrent
// writer that got there first turns into a conflict instead of a lost update.
// The write and its audit event share one unit of work.
type Store struct {
	repo     Repository
	sink     audit.Sink
	tx       storage.Transactor
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithIDGenerator overrides how document and child IDs are minted.
func WithIDGenerator(gen func() string) Option { return func(s *Store) { s.newID = gen } }

// WithRecorder reports mutation outcomes.
func WithRecorder(r Recorder) Option { return func(s *Store) { s.recorder = r } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

// NewStore creates a document store.
func NewStore(repo Repository, sink audit.Sink, tx storage.Transactor, opts ...Option) *Store {
	s := &Store{
		repo:     repo,
		sink:     sink,
		tx:       tx,
		recorder: nopRecorder{},
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a document by ID.
func (s *Store) Get(ctx context.Context, id string) (*Document, error) {
	return s.repo.Get(ctx, id)
}

// Create stores a new DRAFT document at version 1.
func (s *Store) Create(ctx context.Context, in NewDocument, actor audit.Actor) (*Document, error) {
	ctx, span := tracer.Start(ctx, "document.Create")
	defer span.End()

	if !actor.CanMutate() {
		return nil, s.finish(span, audit.ActionCreate, &PermissionError{ID: in.ID, ActorID: actor.ID, Reason: "actor may not create documents"})
	}
	if err := validateNew(in); err != nil {
		return nil, s.finish(span, audit.ActionCreate, err)
	}

	now := s.now()
	doc := &Document{
		ID:           in.ID,
		Number:       in.Number,
		Title:        in.Title,
		DepartmentID: in.DepartmentID,
		Body:         cloneMap(in.Body),
		Status:       StatusDraft,
		Version:      1,
		CreatedAt:    now,
		CreatedBy:    actor.ID,
		UpdatedAt:    now,
		UpdatedBy:    actor.ID,
	}
	if doc.ID == "" {
		doc.ID = s.newID()
	}
	for _, m := range in.Marks {
		doc.putMark(s.prepareMark(m))
	}
	for _, st := range in.Stages {
		doc.putStage(s.prepareStage(st))
	}
	span.SetAttributes(attribute.String("document.id", doc.ID))

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Insert(ctx, doc); err != nil {
			return err
		}
		return s.appendEvent(ctx, audit.ActionCreate, actor, nil, doc, 0)
	})
	if err != nil {
		return nil, s.finish(span, audit.ActionCreate, err)
	}

	s.finish(span, audit.ActionCreate, nil)
	return doc, nil
}

// Update applies a header patch.
func (s *Store) Update(ctx context.Context, id string, p Patch, expected int, actor audit.Actor) (*Document, error) {
	return s.mutate(ctx, id, expected, actor, audit.ActionUpdate, func(doc *Document) error {
		if p.Title != nil && *p.Title == "" {
			return &ValidationError{Field: "title", Reason: "must not be empty"}
		}
		doc.Apply(p)
		return nil
	})
}

// Mutate applies a header patch and returns the new version.
func (s *Store) Mutate(ctx context.Context, id string, p Patch, expected int, actor audit.Actor) (int, error) {
	doc, err := s.Update(ctx, id, p, expected, actor)
	if err != nil {
		return 0, err
	}
	return doc.Version, nil
}

// ReplaceChildren swaps out the marks and/or stages wholesale.
func (s *Store) ReplaceChildren(ctx context.Context, id string, ch Children, expected int, actor audit.Actor) (*Document, error) {
	return s.mutate(ctx, id, expected, actor, audit.ActionReplaceChildren, func(doc *Document) error {
		if ch.Marks != nil {
			doc.Marks = make([]Mark, 0, len(ch.Marks))
			for _, m := range ch.Marks {
				if err := validateMark(m); err != nil {
					return err
				}
				doc.putMark(s.prepareMark(m))
			}
		}
		if ch.Stages != nil {
			doc.Stages = make([]Stage, 0, len(ch.Stages))
			for _, st := range ch.Stages {
				if err := validateStage(st); err != nil {
					return err
				}
				doc.putStage(s.prepareStage(st))
			}
		}
		return nil
	})
}

// AddChild appends a new mark or stage. An ID already present is rejected.
func (s *Store) AddChild(ctx context.Context, id string, c Child, expected int, actor audit.Actor) (*Document, error) {
	return s.mutate(ctx, id, expected, actor, audit.ActionAddChild, func(doc *Document) error {
		return s.putChild(doc, c, false)
	})
}

// PutChild adds a mark or stage, or replaces the one with the same ID. The
// audit event is add_child or update_child accordingly.
func (s *Store) PutChild(ctx context.Context, id string, c Child, expected int, actor audit.Actor) (*Document, error) {
	return s.mutateAs(ctx, id, expected, actor, "put_child", func(doc *Document) (audit.Action, error) {
		action := audit.ActionAddChild
		if doc.hasChild(c) {
			action = audit.ActionUpdateChild
		}
		return action, s.putChild(doc, c, true)
	})
}

// Sign moves a DRAFT document to SIGNED.
func (s *Store) Sign(ctx context.Context, id string, expected int, actor audit.Actor) (*Document, error) {
	return s.mutate(ctx, id, expected, actor, audit.ActionSign, func(doc *Document) error {
		now := s.now()
		doc.Status = StatusSigned
		doc.SignedBy = actor.ID
		doc.SignedAt = &now
		return nil
	})
}

// Delete removes a DRAFT document. The version is checked but not advanced.
func (s *Store) Delete(ctx context.Context, id string, expected int, actor audit.Actor) error {
	ctx, span := tracer.Start(ctx, "document.Delete", trace.WithAttributes(attribute.String("document.id", id)))
	defer span.End()

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.load(ctx, id, expected, actor)
		if err != nil {
			return err
		}
		if err := s.repo.DeleteIfVersion(ctx, id, expected); err != nil {
			return s.conflict(id, expected, err)
		}
		return s.appendEvent(ctx, audit.ActionDelete, actor, current, nil, expected)
	})
	return s.finish(span, audit.ActionDelete, err)
}

// mutate runs the shared check-apply-write-audit sequence.
func (s *Store) mutate(ctx context.Context, id string, expected int, actor audit.Actor, action audit.Action, apply func(*Document) error) (*Document, error) {
	return s.mutateAs(ctx, id, expected, actor, string(action), func(doc *Document) (audit.Action, error) {
		return action, apply(doc)
	})
}

// mutateAs is mutate for operations whose audit action depends on the
// current document. op names the span until apply picks the action.
func (s *Store) mutateAs(ctx context.Context, id string, expected int, actor audit.Actor, op string, apply func(*Document) (audit.Action, error)) (*Document, error) {
	ctx, span := tracer.Start(ctx, "document."+op, trace.WithAttributes(
		attribute.String("document.id", id),
		attribute.Int("document.expected_version", expected),
	))
	defer span.End()

	var result *Document
	action := audit.Action(op)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.load(ctx, id, expected, actor)
		if err != nil {
			return err
		}

		next := current.Clone()
		picked, err := apply(next)
		if err != nil {
			return err
		}
		action = picked
		next.Version = current.Version + 1
		next.UpdatedAt = s.now()
		next.UpdatedBy = actor.ID

		if err := s.repo.UpdateIfVersion(ctx, next, expected); err != nil {
			return s.conflict(id, expected, err)
		}
		if err := s.appendEvent(ctx, action, actor, current, next, expected); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, s.finish(span, action, err)
	}

	s.finish(span, action, nil)
	return result, nil
}

// load fetches the current row and applies the checks in order:
// existence, actor, terminal status, version.
func (s *Store) load(ctx context.Context, id string, expected int, actor audit.Actor) (*Document, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanMutate() {
		return nil, &PermissionError{ID: id, ActorID: actor.ID, Reason: fmt.Sprintf("role %q may not modify documents", actor.Role)}
	}
	if current.Status == StatusSigned {
		return nil, &PermissionError{ID: id, ActorID: actor.ID, Reason: "document is signed and can no longer change"}
	}
	if current.Version != expected {
		return nil, &ConflictError{ID: id, Expected: expected, Actual: current.Version}
	}
	return current, nil
}

// conflict normalizes a conditional-write failure into a ConflictError.
func (s *Store) conflict(id string, expected int, err error) error {
	var ce *ConflictError
	if errors.Is(err, ErrVersionConflict) && !errors.As(err, &ce) {
		return &ConflictError{ID: id, Expected: expected, Actual: -1}
	}
	return err
}

func (s *Store) putChild(doc *Document, c Child, replace bool) error {
	switch {
	case c.Mark != nil && c.Stage == nil:
		if err := validateMark(*c.Mark); err != nil {
			return err
		}
		if _, exists := doc.Mark(c.Mark.ID); exists && !replace {
			return &ValidationError{Field: "mark.id", Reason: "already exists: " + c.Mark.ID}
		}
		doc.putMark(s.prepareMark(*c.Mark))
	case c.Stage != nil && c.Mark == nil:
		if err := validateStage(*c.Stage); err != nil {
			return err
		}
		if _, exists := doc.Stage(c.Stage.ID); exists && !replace {
			return &ValidationError{Field: "stage.id", Reason: "already exists: " + c.Stage.ID}
		}
		doc.putStage(s.prepareStage(*c.Stage))
	default:
		return &ValidationError{Field: "child", Reason: "exactly one of mark or stage is required"}
	}
	return nil
}

func (s *Store) prepareMark(m Mark) Mark {
	if m.ID == "" {
		m.ID = s.newID()
	}
	if m.RecordedAt.IsZero() {
		m.RecordedAt = s.now()
	}
	m.RecordedAt = m.RecordedAt.UTC().Truncate(time.Microsecond)
	return m
}

func (s *Store) prepareStage(st Stage) Stage {
	if st.ID == "" {
		st.ID = s.newID()
	}
	return st.clone()
}

func (s *Store) appendEvent(ctx context.Context, action audit.Action, actor audit.Actor, before, after *Document, expected int) error {
	ev := audit.Event{
		ID:              uuid.NewString(),
		TS:              s.now(),
		Actor:           actor,
		Action:          action,
		Severity:        audit.SeverityOf(action),
		EntityType:      EntityType,
		ExpectedVersion: expected,
		Changes:         audit.Diff(before.Snapshot(), after.Snapshot()),
	}
	if before != nil {
		ev.EntityID = before.ID
		ev.StatusFrom = string(before.Status)
		ev.NewVersion = before.Version
	}
	if after != nil {
		ev.EntityID = after.ID
		ev.StatusTo = string(after.Status)
		ev.NewVersion = after.Version
	}

	if err := s.sink.Append(ctx, ev); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// finish records the outcome on the span, the recorder and the log.
func (s *Store) finish(span trace.Span, action audit.Action, err error) error {
	result := resultLabel(err)
	s.recorder.DocumentMutation(string(action), result)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		if result == "error" {
			s.logger.Error("document mutation failed", "action", action, "error", err)
		} else {
			s.logger.Debug("document mutation rejected", "action", action, "result", result, "error", err)
		}
	}
	return err
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrVersionConflict):
		return "conflict"
	case errors.Is(err, ErrPermissionDenied):
		return "denied"
	case errors.Is(err, ErrMissingDocument):
		return "missing"
	case errors.Is(err, ErrInvalidDocument):
		return "invalid"
	default:
		return "error"
	}
}

func validateNew(in NewDocument) error {
	if in.Title == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	for _, m := range in.Marks {
		if err := validateMark(m); err != nil {
			return err
		}
	}
	for _, st := range in.Stages {
		if err := validateStage(st); err != nil {
			return err
		}
	}
	return nil
}

func validateMark(m Mark) error {
	if m.PersonID == "" {
		return &ValidationError{Field: "mark.person_id", Reason: "must not be empty"}
	}
	return nil
}

func validateStage(st Stage) error {
	if st.Name == "" {
		return &ValidationError{Field: "stage.name", Reason: "must not be empty"}
	}
	if st.Position < 0 {
		return &ValidationError{Field: "stage.position", Reason: "must not be negative"}
	}
	return nil
}
