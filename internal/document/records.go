package document

import (
	"time"

	"github.com/JonMunkholm/recordkeeper/internal/cell"
	"github.com/JonMunkholm/recordkeeper/internal/entity"
)

// Record returns the document header as a documents-sheet row.
func (d *Document) Record() entity.Record {
	return entity.Record{
		"id":            cell.String(d.ID),
		"number":        cell.Optional(d.Number),
		"title":         cell.Optional(d.Title),
		"department_id": cell.Optional(d.DepartmentID),
		"body":          bodyValue(d.Body),
		"status":        cell.String(string(d.Status)),
		"version":       cell.Int(int64(d.Version)),
		"created_at":    cell.OptionalTime(&d.CreatedAt),
		"created_by":    cell.Optional(d.CreatedBy),
		"updated_at":    cell.OptionalTime(&d.UpdatedAt),
		"updated_by":    cell.Optional(d.UpdatedBy),
		"signed_by":     cell.Optional(d.SignedBy),
		"signed_at":     cell.OptionalTime(d.SignedAt),
	}
}

// Record returns the mark as a document_marks row.
func (m Mark) Record(documentID string) entity.Record {
	return entity.Record{
		"id":          cell.String(m.ID),
		"document_id": cell.String(documentID),
		"person_id":   cell.Optional(m.PersonID),
		"value":       cell.Number(m.Value),
		"comment":     cell.Optional(m.Comment),
		"recorded_at": cell.OptionalTime(&m.RecordedAt),
	}
}

// Record returns the stage as a document_stages row.
func (s Stage) Record(documentID string) entity.Record {
	due := cell.Null()
	if s.DueDate != nil {
		due = cell.Date(*s.DueDate)
	}
	checklist := cell.Null()
	if len(s.Checklist) > 0 {
		checklist = cell.JSON(s.Checklist)
	}
	return entity.Record{
		"id":          cell.String(s.ID),
		"document_id": cell.String(documentID),
		"name":        cell.Optional(s.Name),
		"position":    cell.Int(int64(s.Position)),
		"due_date":    due,
		"done":        cell.Bool(s.Done),
		"checklist":   checklist,
	}
}

// Records splits the aggregate into its sheet rows.
func (d *Document) Records() (header entity.Record, marks, stages []entity.Record) {
	header = d.Record()
	marks = make([]entity.Record, len(d.Marks))
	for i, m := range d.Marks {
		marks[i] = m.Record(d.ID)
	}
	stages = make([]entity.Record, len(d.Stages))
	for i, s := range d.Stages {
		stages[i] = s.Record(d.ID)
	}
	return header, marks, stages
}

// FromRecords rebuilds the aggregate from stored rows.
func FromRecords(header entity.Record, marks, stages []entity.Record) (*Document, error) {
	status, err := StatusFromRecord(header)
	if err != nil {
		return nil, err
	}
	d := &Document{
		ID:           header.Text("id"),
		Number:       header.Text("number"),
		Title:        header.Text("title"),
		DepartmentID: header.Text("department_id"),
		Body:         bodyMap(header.Get("body")),
		Status:       status,
		Version:      int(header.Get("version").Int()),
		CreatedAt:    header.Get("created_at").Time(),
		CreatedBy:    header.Text("created_by"),
		UpdatedAt:    header.Get("updated_at").Time(),
		UpdatedBy:    header.Text("updated_by"),
		SignedBy:     header.Text("signed_by"),
		SignedAt:     header.Get("signed_at").TimePtr(),
	}
	for _, rec := range marks {
		_, m, err := MarkFromRecord(rec)
		if err != nil {
			return nil, err
		}
		d.Marks = append(d.Marks, m)
	}
	for _, rec := range stages {
		_, s, err := StageFromRecord(rec)
		if err != nil {
			return nil, err
		}
		d.Stages = append(d.Stages, s)
	}
	SortStages(d.Stages)
	return d, nil
}

// StatusFromRecord reads the status column. Missing means DRAFT.
func StatusFromRecord(rec entity.Record) (Status, error) {
	raw := rec.Text("status")
	status, ok := ParseStatus(raw)
	if !ok {
		return "", &ValidationError{Field: "status", Reason: "unknown status " + raw}
	}
	return status, nil
}

// NewFromRecord builds creation input from a documents-sheet row.
func NewFromRecord(rec entity.Record) NewDocument {
	return NewDocument{
		ID:           rec.Text("id"),
		Number:       rec.Text("number"),
		Title:        rec.Text("title"),
		DepartmentID: rec.Text("department_id"),
		Body:         bodyMap(rec.Get("body")),
	}
}

// PatchFromRecord builds a patch of the header columns present in rec.
func PatchFromRecord(rec entity.Record) Patch {
	var p Patch
	if v, ok := rec["number"]; ok {
		s := v.Text()
		p.Number = &s
	}
	if v, ok := rec["title"]; ok {
		s := v.Text()
		p.Title = &s
	}
	if v, ok := rec["department_id"]; ok {
		s := v.Text()
		p.DepartmentID = &s
	}
	if v, ok := rec["body"]; ok {
		body := bodyMap(v)
		p.Body = &body
	}
	return p
}

// MarkFromRecord reads a document_marks row.
func MarkFromRecord(rec entity.Record) (string, Mark, error) {
	docID := rec.Text("document_id")
	if docID == "" {
		return "", Mark{}, &ValidationError{Field: "document_id", Reason: "must not be empty"}
	}
	var recorded time.Time
	if t := rec.Get("recorded_at").TimePtr(); t != nil {
		recorded = *t
	}
	return docID, Mark{
		ID:         rec.Text("id"),
		PersonID:   rec.Text("person_id"),
		Value:      rec.Get("value").Float(),
		Comment:    rec.Text("comment"),
		RecordedAt: recorded,
	}, nil
}

// StageFromRecord reads a document_stages row.
func StageFromRecord(rec entity.Record) (string, Stage, error) {
	docID := rec.Text("document_id")
	if docID == "" {
		return "", Stage{}, &ValidationError{Field: "document_id", Reason: "must not be empty"}
	}
	var checklist []any
	if l, ok := rec.Get("checklist").JSON().([]any); ok {
		checklist = l
	}
	return docID, Stage{
		ID:        rec.Text("id"),
		Name:      rec.Text("name"),
		Position:  int(rec.Get("position").Int()),
		DueDate:   rec.Get("due_date").TimePtr(),
		Done:      rec.Get("done").Bool(),
		Checklist: checklist,
	}, nil
}

func bodyValue(body map[string]any) cell.Value {
	if body == nil {
		return cell.Null()
	}
	return cell.JSON(body)
}

func bodyMap(v cell.Value) map[string]any {
	m, _ := v.JSON().(map[string]any)
	return m
}
