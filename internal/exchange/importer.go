package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/JonMunkholm/recordkeeper/internal/audit"
	"github.com/JonMunkholm/recordkeeper/internal/cell"
	"github.com/JonMunkholm/recordkeeper/internal/document"
	"github.com/JonMunkholm/recordkeeper/internal/entity"
	"github.com/JonMunkholm/recordkeeper/internal/entity/catalog"
	"github.com/JonMunkholm/recordkeeper/internal/storage"
)

// Mode decides what happens to a row whose key already exists.
type Mode string

const (
	// ModeMerge overwrites the provided columns of existing records.
	ModeMerge Mode = "merge"
	// ModeAppend leaves existing records alone and counts the row as skipped.
	ModeAppend Mode = "append"
)

// ParseMode accepts "merge" or "append". Empty means merge.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeMerge:
		return ModeMerge, nil
	case ModeAppend:
		return ModeAppend, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Outcome is what a successfully imported row did.
type Outcome int

const (
	OutcomeAdded Outcome = iota + 1
	OutcomeUpdated
	// OutcomeSkipped is the expected result for existing keys in append mode.
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAdded:
		return "added"
	case OutcomeUpdated:
		return "updated"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Result is the fate of one row: an outcome, or the error that stopped it.
type Result struct {
	Outcome Outcome
	Err     error
}

func (r Result) label() string {
	if r.Err != nil {
		return "error"
	}
	return r.Outcome.String()
}

// RowError is one rejected row. Row is 1-based over data rows.
type RowError struct {
	Scope   string `json:"scope"`
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// EntityCounts aggregates row outcomes for one entity.
type EntityCounts struct {
	RowsTotal int `json:"rows_total"`
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Summary is the result of an import.
type Summary struct {
	Mode         Mode                     `json:"mode"`
	Entities     map[string]*EntityCounts `json:"entities"`
	Order        []string                 `json:"order"`
	Total        EntityCounts             `json:"total"`
	Errors       []RowError               `json:"errors"`
	ErrorLogPath string                   `json:"error_log_path,omitempty"`
}

func newSummary(mode Mode) *Summary {
	return &Summary{Mode: mode, Entities: make(map[string]*EntityCounts), Errors: []RowError{}}
}

func (s *Summary) counts(name string) *EntityCounts {
	c, ok := s.Entities[name]
	if !ok {
		c = &EntityCounts{}
		s.Entities[name] = c
		s.Order = append(s.Order, name)
	}
	return c
}

// fold adds one row's result to the counts.
func (s *Summary) fold(scope string, row int, r Result) {
	c := s.counts(scope)
	c.RowsTotal++
	if r.Err != nil {
		s.fail(scope, row, r.Err)
		return
	}
	switch r.Outcome {
	case OutcomeAdded:
		c.Added++
	case OutcomeUpdated:
		c.Updated++
	case OutcomeSkipped:
		c.Skipped++
	}
}

func (s *Summary) fail(scope string, row int, err error) {
	s.counts(scope).Errors++
	s.Errors = append(s.Errors, RowError{Scope: scope, Row: row, Message: err.Error()})
}

func (s *Summary) total() {
	s.Total = EntityCounts{}
	for _, c := range s.Entities {
		s.Total.RowsTotal += c.RowsTotal
		s.Total.Added += c.Added
		s.Total.Updated += c.Updated
		s.Total.Skipped += c.Skipped
		s.Total.Errors += c.Errors
	}
}

// Importer merges parsed sheets into storage.
type Importer struct {
	registry *entity.Registry
	records  storage.RecordStore
	batcher  storage.Batcher
	docs     *document.Store
	actor    audit.Actor
	recorder Recorder
	logger   *slog.Logger
}

// ImporterOption configures an Importer.
type ImporterOption func(*Importer)

// WithImportRecorder reports per-row outcomes.
func WithImportRecorder(r Recorder) ImporterOption { return func(im *Importer) { im.recorder = r } }

// WithImportLogger sets the logger.
func WithImportLogger(l *slog.Logger) ImporterOption { return func(im *Importer) { im.logger = l } }

// NewImporter creates an importer. Document-routed entities are written
// through docs as actor.
func NewImporter(reg *entity.Registry, records storage.RecordStore, batcher storage.Batcher, docs *document.Store, actor audit.Actor, opts ...ImporterOption) *Importer {
	im := &Importer{
		registry: reg,
		records:  records,
		batcher:  batcher,
		docs:     docs,
		actor:    actor,
		recorder: nopRecorder{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

type plannedSheet struct {
	def   *entity.Definition
	sheet Sheet
}

type deferredSign struct {
	scope string
	id    string
	row   int
}

// importRun is the state of one Import call.
type importRun struct {
	im      *Importer
	batch   storage.Batch
	mode    Mode
	summary *Summary
	signs   []deferredSign
}

// Import applies sheets in entity import order inside one batch.
//
// Row failures are recorded in the summary and never undo earlier rows.
// Only storage failures abort, in which case nothing is kept.
func (im *Importer) Import(ctx context.Context, sheets []Sheet, mode Mode) (summary *Summary, err error) {
	plan := im.plan(sheets)
	summary = newSummary(mode)

	ctx, batch, err := im.batcher.BeginBatch(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin import: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := batch.Rollback(ctx); rbErr != nil {
				im.logger.Error("import rollback failed", "error", rbErr)
			}
		}
	}()

	run := &importRun{im: im, batch: batch, mode: mode, summary: summary}
	for _, p := range plan {
		if err := run.sheet(ctx, p.def, p.sheet); err != nil {
			return nil, err
		}
	}
	if err := run.signDeferred(ctx); err != nil {
		return nil, err
	}
	if err := batch.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit import: %w", err)
	}

	summary.total()
	return summary, nil
}

// plan pairs sheets with their definitions, parents first. Sheets for
// unknown entities are ignored.
func (im *Importer) plan(sheets []Sheet) []plannedSheet {
	plan := make([]plannedSheet, 0, len(sheets))
	for _, sh := range sheets {
		def, ok := im.registry.Get(sh.Entity)
		if !ok {
			im.logger.Warn("ignoring sheet for unknown entity", "entity", sh.Entity)
			continue
		}
		plan = append(plan, plannedSheet{def: def, sheet: sh})
	}
	sort.SliceStable(plan, func(i, j int) bool { return plan[i].def.Order < plan[j].def.Order })
	return plan
}

func (r *importRun) sheet(ctx context.Context, def *entity.Definition, sh Sheet) error {
	cm := resolveHeader(def, sh.Header)
	if len(cm.unknown) > 0 {
		r.im.logger.Warn("ignoring unknown columns", "entity", def.Name, "columns", cm.unknown)
	}
	r.summary.counts(def.Name)

	for i, raw := range sh.Rows {
		n := i + 1
		res, err := r.row(ctx, def, cm, raw, n)
		if err != nil {
			return fmt.Errorf("%s row %d: %w", def.Name, n, err)
		}
		r.summary.fold(def.Name, n, res)
		r.im.recorder.ImportRow(def.Name, res.label())
	}
	return nil
}

// row coerces and applies one row in its own sub-transaction. The returned
// error is set only for failures that must abort the import.
func (r *importRun) row(ctx context.Context, def *entity.Definition, cm columnMap, raw []string, n int) (Result, error) {
	rec, err := coerce(def, cm, raw)
	if err != nil {
		return Result{Err: err}, nil
	}

	var outcome Outcome
	err = r.batch.Row(ctx, func(ctx context.Context) error {
		var applyErr error
		outcome, applyErr = r.apply(ctx, def, rec, n)
		return applyErr
	})
	switch {
	case err == nil:
		return Result{Outcome: outcome}, nil
	case abortsImport(ctx, err):
		return Result{}, err
	default:
		return Result{Err: err}, nil
	}
}

func (r *importRun) apply(ctx context.Context, def *entity.Definition, rec entity.Record, n int) (Outcome, error) {
	switch def.Route {
	case entity.RouteDocument:
		return r.applyDocument(ctx, def, rec, n)
	case entity.RouteDocumentChild:
		return r.applyChild(ctx, def, rec)
	default:
		return r.applyPlain(ctx, def, rec)
	}
}

func (r *importRun) applyPlain(ctx context.Context, def *entity.Definition, rec entity.Record) (Outcome, error) {
	if _, single := def.SingleKey(); !single {
		if err := r.im.records.Insert(ctx, def, rec); err != nil {
			return 0, err
		}
		return OutcomeAdded, nil
	}

	key, ok := rec.Key(def)
	if !ok {
		return 0, missingKey(def)
	}
	_, err := r.im.records.Get(ctx, def, key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if err := r.im.records.Insert(ctx, def, rec); err != nil {
			return 0, err
		}
		return OutcomeAdded, nil
	case err != nil:
		return 0, err
	case r.mode == ModeAppend:
		return OutcomeSkipped, nil
	}

	if err := r.im.records.Update(ctx, def, key, rec); err != nil {
		return 0, err
	}
	return OutcomeUpdated, nil
}

// applyDocument creates or patches a document header. Version columns in
// the sheet are ignored; the store owns versions. A SIGNED row is created
// as DRAFT and signed after its children have been imported.
func (r *importRun) applyDocument(ctx context.Context, def *entity.Definition, rec entity.Record, n int) (Outcome, error) {
	id, ok := rec.Key(def)
	if !ok {
		return 0, missingKey(def)
	}
	status, err := document.StatusFromRecord(rec)
	if err != nil {
		return 0, err
	}

	current, err := r.im.docs.Get(ctx, id)
	if errors.Is(err, document.ErrMissingDocument) {
		if _, err := r.im.docs.Create(ctx, document.NewFromRecord(rec), r.im.actor); err != nil {
			return 0, err
		}
		if status == document.StatusSigned {
			r.signs = append(r.signs, deferredSign{scope: def.Name, id: id, row: n})
		}
		return OutcomeAdded, nil
	}
	if err != nil {
		return 0, err
	}
	if r.mode == ModeAppend {
		return OutcomeSkipped, nil
	}

	patch := document.PatchFromRecord(rec)
	if current.Changes(patch) {
		if _, err := r.im.docs.Update(ctx, id, patch, current.Version, r.im.actor); err != nil {
			return 0, err
		}
	}
	if status == document.StatusSigned && current.Status == document.StatusDraft {
		r.signs = append(r.signs, deferredSign{scope: def.Name, id: id, row: n})
	}
	return OutcomeUpdated, nil
}

// applyChild adds or replaces a mark or stage on its parent document.
// A child equal to the stored one is counted as updated without a write.
func (r *importRun) applyChild(ctx context.Context, def *entity.Definition, rec entity.Record) (Outcome, error) {
	if _, ok := rec.Key(def); !ok {
		return 0, missingKey(def)
	}
	docID, child, err := childFromRecord(def, rec)
	if err != nil {
		return 0, err
	}

	current, err := r.im.docs.Get(ctx, docID)
	if err != nil {
		return 0, err
	}
	exists, equal := compareChild(current, child)
	switch {
	case exists && r.mode == ModeAppend:
		return OutcomeSkipped, nil
	case equal:
		return OutcomeUpdated, nil
	}

	if _, err := r.im.docs.PutChild(ctx, docID, child, current.Version, r.im.actor); err != nil {
		return 0, err
	}
	if exists {
		return OutcomeUpdated, nil
	}
	return OutcomeAdded, nil
}

// signDeferred signs documents whose rows were SIGNED, each in its own
// sub-transaction, reporting failures against the original row.
func (r *importRun) signDeferred(ctx context.Context) error {
	for _, d := range r.signs {
		err := r.batch.Row(ctx, func(ctx context.Context) error {
			doc, err := r.im.docs.Get(ctx, d.id)
			if err != nil {
				return err
			}
			if doc.Status == document.StatusSigned {
				return nil
			}
			_, err = r.im.docs.Sign(ctx, d.id, doc.Version, r.im.actor)
			return err
		})
		if err == nil {
			continue
		}
		if abortsImport(ctx, err) {
			return fmt.Errorf("sign document %s: %w", d.id, err)
		}
		r.summary.fail(d.scope, d.row, err)
		r.im.recorder.ImportRow(d.scope, "error")
	}
	return nil
}

func childFromRecord(def *entity.Definition, rec entity.Record) (string, document.Child, error) {
	switch def.Name {
	case catalog.DocumentMarks:
		docID, m, err := document.MarkFromRecord(rec)
		return docID, document.Child{Mark: &m}, err
	case catalog.DocumentStages:
		docID, st, err := document.StageFromRecord(rec)
		return docID, document.Child{Stage: &st}, err
	default:
		return "", document.Child{}, fmt.Errorf("%w: %s is not a document child", ErrUnknownEntity, def.Name)
	}
}

func compareChild(doc *document.Document, c document.Child) (exists, equal bool) {
	switch {
	case c.Mark != nil:
		m, ok := doc.Mark(c.Mark.ID)
		return ok, ok && m.Equal(*c.Mark)
	case c.Stage != nil:
		st, ok := doc.Stage(c.Stage.ID)
		return ok, ok && st.Equal(*c.Stage)
	}
	return false, false
}

// coerce parses each mapped cell by its column type. Cells missing from a
// short row are left out of the record, so merge leaves them unchanged.
func coerce(def *entity.Definition, cm columnMap, raw []string) (entity.Record, error) {
	rec := make(entity.Record, len(cm.columns))
	for i, col := range cm.columns {
		if col == "" || i >= len(raw) {
			continue
		}
		column, _ := def.Column(col)
		v, err := cell.Parse(column.Type, raw[i])
		if err != nil {
			var ce *cell.CoercionError
			if errors.As(err, &ce) {
				ce.Column = col
			}
			return nil, err
		}
		rec[col] = v
	}
	return rec, nil
}

func missingKey(def *entity.Definition) error {
	col, _ := def.SingleKey()
	return fmt.Errorf("%w: %s.%s", ErrMissingKey, def.Name, col)
}

// abortsImport reports whether a failed row ends the whole import. The
// row's sub-transaction has already undone its writes, so only a broken
// batch or a canceled context stops the run.
func abortsImport(ctx context.Context, err error) bool {
	return errors.Is(err, storage.ErrBatchAborted) || ctx.Err() != nil
}
