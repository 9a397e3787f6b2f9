// Package document implements the versioned document aggregate: a header,
// its marks and stages, a DRAFT to SIGNED status machine and optimistic
// concurrency on every mutation.
package document

import (
	"context"
	"reflect"
	"sort"
	"strings"
	"time"
)

// EntityType is the audit entity type of documents.
const EntityType = "document"

// Status is a document's lifecycle state. SIGNED is terminal.
type Status string

const (
	StatusDraft  Status = "DRAFT"
	StatusSigned Status = "SIGNED"
)

// ParseStatus accepts a status label in any case. Empty means DRAFT.
func ParseStatus(s string) (Status, bool) {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case "", StatusDraft:
		return StatusDraft, true
	case StatusSigned:
		return StatusSigned, true
	default:
		return "", false
	}
}

// Mark is a scored remark attached to a document.
type Mark struct {
	ID         string    `json:"id"`
	PersonID   string    `json:"person_id"`
	Value      float64   `json:"value"`
	Comment    string    `json:"comment,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Stage is one step of a document's workflow.
type Stage struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Position  int        `json:"position"`
	DueDate   *time.Time `json:"due_date,omitempty"`
	Done      bool       `json:"done"`
	Checklist []any      `json:"checklist,omitempty"`
}

// Document is the aggregate root.
type Document struct {
	ID           string         `json:"id"`
	Number       string         `json:"number"`
	Title        string         `json:"title"`
	DepartmentID string         `json:"department_id,omitempty"`
	Body         map[string]any `json:"body"`
	Status       Status         `json:"status"`
	Version      int            `json:"version"`
	CreatedAt    time.Time      `json:"created_at"`
	CreatedBy    string         `json:"created_by"`
	UpdatedAt    time.Time      `json:"updated_at"`
	UpdatedBy    string         `json:"updated_by"`
	SignedBy     string         `json:"signed_by,omitempty"`
	SignedAt     *time.Time     `json:"signed_at,omitempty"`
	Marks        []Mark         `json:"marks"`
	Stages       []Stage        `json:"stages"`
}

// NewDocument holds the fields supplied on creation.
type NewDocument struct {
	ID           string         `json:"id,omitempty"`
	Number       string         `json:"number"`
	Title        string         `json:"title"`
	DepartmentID string         `json:"department_id,omitempty"`
	Body         map[string]any `json:"body,omitempty"`
	Marks        []Mark         `json:"marks,omitempty"`
	Stages       []Stage        `json:"stages,omitempty"`
}

// Patch is a partial update of header fields. Nil fields are left unchanged.
type Patch struct {
	Number       *string         `json:"number,omitempty"`
	Title        *string         `json:"title,omitempty"`
	DepartmentID *string         `json:"department_id,omitempty"`
	Body         *map[string]any `json:"body,omitempty"`
}

// Empty reports whether the patch sets nothing.
func (p Patch) Empty() bool {
	return p.Number == nil && p.Title == nil && p.DepartmentID == nil && p.Body == nil
}

// Children replaces child collections. A nil slice leaves that collection
// unchanged; an empty slice clears it.
type Children struct {
	Marks  []Mark  `json:"marks"`
	Stages []Stage `json:"stages"`
}

// Child is a single mark or stage. Exactly one field is set.
type Child struct {
	Mark  *Mark  `json:"mark,omitempty"`
	Stage *Stage `json:"stage,omitempty"`
}

// Repository persists documents. Implementations join the unit of work in ctx.
type Repository interface {
	// Get returns the document with its children, or ErrMissingDocument.
	Get(ctx context.Context, id string) (*Document, error)
	// Insert stores a new document, or returns ErrDocumentExists.
	Insert(ctx context.Context, doc *Document) error
	// UpdateIfVersion writes doc only if the stored version still equals
	// expected, otherwise it returns ErrVersionConflict and writes nothing.
	UpdateIfVersion(ctx context.Context, doc *Document, expected int) error
	// DeleteIfVersion removes the document and its children under the same rule.
	DeleteIfVersion(ctx context.Context, id string, expected int) error
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	c := *d
	c.Body = cloneMap(d.Body)
	if d.SignedAt != nil {
		t := *d.SignedAt
		c.SignedAt = &t
	}
	c.Marks = append([]Mark(nil), d.Marks...)
	c.Stages = make([]Stage, len(d.Stages))
	for i, s := range d.Stages {
		c.Stages[i] = s.clone()
	}
	if d.Stages == nil {
		c.Stages = nil
	}
	return &c
}

// Apply sets the patch fields on d.
func (d *Document) Apply(p Patch) {
	if p.Number != nil {
		d.Number = *p.Number
	}
	if p.Title != nil {
		d.Title = *p.Title
	}
	if p.DepartmentID != nil {
		d.DepartmentID = *p.DepartmentID
	}
	if p.Body != nil {
		d.Body = cloneMap(*p.Body)
	}
}

// Changes reports whether applying p would alter d.
func (d *Document) Changes(p Patch) bool {
	if p.Number != nil && *p.Number != d.Number {
		return true
	}
	if p.Title != nil && *p.Title != d.Title {
		return true
	}
	if p.DepartmentID != nil && *p.DepartmentID != d.DepartmentID {
		return true
	}
	if p.Body != nil && !reflect.DeepEqual(normalizeBody(*p.Body), normalizeBody(d.Body)) {
		return true
	}
	return false
}

// Mark returns the mark with the given ID.
func (d *Document) Mark(id string) (Mark, bool) {
	for _, m := range d.Marks {
		if m.ID == id {
			return m, true
		}
	}
	return Mark{}, false
}

// hasChild reports whether c names a mark or stage already on d.
func (d *Document) hasChild(c Child) bool {
	switch {
	case c.Mark != nil && c.Mark.ID != "":
		_, ok := d.Mark(c.Mark.ID)
		return ok
	case c.Stage != nil && c.Stage.ID != "":
		_, ok := d.Stage(c.Stage.ID)
		return ok
	}
	return false
}

// Stage returns the stage with the given ID.
func (d *Document) Stage(id string) (Stage, bool) {
	for _, s := range d.Stages {
		if s.ID == id {
			return s, true
		}
	}
	return Stage{}, false
}

// Snapshot is the structure the audit diff compares. Version and
// timestamps of the edit itself are recorded on the event instead.
func (d *Document) Snapshot() map[string]any {
	if d == nil {
		return nil
	}
	marks := make([]any, len(d.Marks))
	for i, m := range d.Marks {
		marks[i] = map[string]any{
			"id":          m.ID,
			"person_id":   m.PersonID,
			"value":       m.Value,
			"comment":     m.Comment,
			"recorded_at": m.RecordedAt,
		}
	}
	stages := make([]any, len(d.Stages))
	for i, s := range d.Stages {
		stages[i] = map[string]any{
			"id":        s.ID,
			"name":      s.Name,
			"position":  s.Position,
			"due_date":  dateString(s.DueDate),
			"done":      s.Done,
			"checklist": normalizeList(s.Checklist),
		}
	}
	return map[string]any{
		"number":        d.Number,
		"title":         d.Title,
		"department_id": d.DepartmentID,
		"body":          normalizeBody(cloneMap(d.Body)),
		"status":        string(d.Status),
		"signed_by":     d.SignedBy,
		"signed_at":     d.SignedAt,
		"marks":         marks,
		"stages":        stages,
	}
}

// putMark adds m, or replaces the mark with the same ID.
func (d *Document) putMark(m Mark) {
	for i := range d.Marks {
		if d.Marks[i].ID == m.ID {
			d.Marks[i] = m
			return
		}
	}
	d.Marks = append(d.Marks, m)
}

// putStage adds s, or replaces the stage with the same ID, keeping stages
// ordered by position.
func (d *Document) putStage(s Stage) {
	replaced := false
	for i := range d.Stages {
		if d.Stages[i].ID == s.ID {
			d.Stages[i] = s
			replaced = true
			break
		}
	}
	if !replaced {
		d.Stages = append(d.Stages, s)
	}
	SortStages(d.Stages)
}

// SortStages orders stages by position, then ID.
func SortStages(stages []Stage) {
	sort.SliceStable(stages, func(i, j int) bool {
		if stages[i].Position != stages[j].Position {
			return stages[i].Position < stages[j].Position
		}
		return stages[i].ID < stages[j].ID
	})
}

// Equal reports whether two marks carry the same data.
func (m Mark) Equal(o Mark) bool {
	return m.ID == o.ID && m.PersonID == o.PersonID && m.Value == o.Value &&
		m.Comment == o.Comment && m.RecordedAt.Equal(o.RecordedAt)
}

// Equal reports whether two stages carry the same data.
func (s Stage) Equal(o Stage) bool {
	if s.ID != o.ID || s.Name != o.Name || s.Position != o.Position || s.Done != o.Done {
		return false
	}
	if dateString(s.DueDate) != dateString(o.DueDate) {
		return false
	}
	return reflect.DeepEqual(normalizeList(s.Checklist), normalizeList(o.Checklist))
}

func (s Stage) clone() Stage {
	c := s
	if s.DueDate != nil {
		t := *s.DueDate
		c.DueDate = &t
	}
	if s.Checklist != nil {
		c.Checklist = append([]any(nil), s.Checklist...)
	}
	return c
}

func dateString(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format("2006-01-02")
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// normalizeBody treats nil and empty bodies as equal.
func normalizeBody(m map[string]any) map[string]any {
	if len(m) == 0 {
		return map[string]any{}
	}
	return m
}

func normalizeList(l []any) []any {
	if len(l) == 0 {
		return []any{}
	}
	return l
}
