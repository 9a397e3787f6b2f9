// Package exchange moves entity data in and out of portable archives.
//
// An archive is a zip container with one CSV sheet per entity under
// sheets/ and a manifest.json listing each sheet's sha256. Imports extract
// into a scratch directory, verify every digest, then merge rows in entity
// order inside a single storage batch with per-row isolation.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/recordkeeper/internal/audit"
	"github.com/JonMunkholm/recordkeeper/internal/document"
	"github.com/JonMunkholm/recordkeeper/internal/entity"
	"github.com/JonMunkholm/recordkeeper/internal/entity/catalog"
	"github.com/JonMunkholm/recordkeeper/internal/storage"
)

var tracer = otel.Tracer("recordkeeper/exchange")

// Recorder receives archive and row outcomes for metrics.
type Recorder interface {
	ArchiveOperation(op, result string, elapsed time.Duration)
	ImportRow(entity, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ArchiveOperation(string, string, time.Duration) {}
func (nopRecorder) ImportRow(string, string)                        {}

// Config tunes the service.
type Config struct {
	ScratchDir        string
	SchemaVersion     string
	ChunkSize         int
	MaxEntrySize      int64
	MaxConcurrent     int
	MaxWait           time.Duration
	ExportParallelism int
	ImportActor       audit.Actor
}

// Scope selects what an export contains. An empty entity list means all.
type Scope struct {
	Entities   []string `json:"entities,omitempty"`
	ExportedBy string   `json:"exported_by,omitempty"`
}

// ExportResult describes a written archive.
type ExportResult struct {
	Path   string         `json:"path"`
	Counts map[string]int `json:"counts"`
	SHA256 string         `json:"sha256"`
	Size   int64          `json:"size"`
}

// Service runs exports, imports and verification.
type Service struct {
	cfg      Config
	registry *entity.Registry
	records  storage.RecordStore
	docs     *document.Store
	importer *Importer
	limiter  *Limiter
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithRecorder reports operation and row outcomes.
func WithRecorder(r Recorder) Option { return func(s *Service) { s.recorder = r } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithClock overrides the time source for manifests and error logs.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService wires the exchange pipeline over a store.
func NewService(cfg Config, reg *entity.Registry, records storage.RecordStore, batcher storage.Batcher, docs *document.Store, opts ...Option) *Service {
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = DefaultSchemaVersion
	}
	if cfg.ExportParallelism <= 0 {
		cfg.ExportParallelism = 4
	}
	if cfg.ImportActor.ID == "" {
		cfg.ImportActor = audit.Actor{ID: "system:import", Name: "Import", Role: audit.RoleSystem}
	}

	s := &Service{
		cfg:      cfg,
		registry: reg,
		records:  records,
		docs:     docs,
		limiter:  NewLimiter(cfg.MaxConcurrent, cfg.MaxWait),
		recorder: nopRecorder{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.importer = NewImporter(reg, records, batcher, docs, cfg.ImportActor,
		WithImportRecorder(s.recorder), WithImportLogger(s.logger))
	return s
}

// Limiter exposes the operation limiter for health reporting and drain.
func (s *Service) Limiter() *Limiter { return s.limiter }

// Export writes the entities in scope to an archive at target.
func (s *Service) Export(ctx context.Context, target string, scope Scope) (res ExportResult, err error) {
	ctx, span := tracer.Start(ctx, "exchange.Export", trace.WithAttributes(attribute.String("archive.path", target)))
	defer s.finish(span, "export", time.Now(), &err)

	if err := s.limiter.Acquire(ctx); err != nil {
		return ExportResult{}, err
	}
	defer s.limiter.Release()

	defs, err := s.scope(scope.Entities)
	if err != nil {
		return ExportResult{}, err
	}
	collections, err := s.load(ctx, defs)
	if err != nil {
		return ExportResult{}, err
	}
	return s.build(ctx, target, collections, scope.ExportedBy)
}

// ExportDocument writes one document with its marks and stages.
func (s *Service) ExportDocument(ctx context.Context, target, id string) (res ExportResult, err error) {
	ctx, span := tracer.Start(ctx, "exchange.ExportDocument", trace.WithAttributes(attribute.String("document.id", id)))
	defer s.finish(span, "export_document", time.Now(), &err)

	if err := s.limiter.Acquire(ctx); err != nil {
		return ExportResult{}, err
	}
	defer s.limiter.Release()

	doc, err := s.docs.Get(ctx, id)
	if err != nil {
		return ExportResult{}, err
	}
	defs, err := s.scope([]string{catalog.Documents, catalog.DocumentMarks, catalog.DocumentStages})
	if err != nil {
		return ExportResult{}, err
	}
	header, marks, stages := doc.Records()
	collections := []Collection{
		{Entity: defs[0], Records: []entity.Record{header}},
		{Entity: defs[1], Records: marks},
		{Entity: defs[2], Records: stages},
	}
	return s.build(ctx, target, collections, "")
}

// Import extracts, verifies and merges the archive at source. Row errors
// are returned in the summary and written to a companion error log.
func (s *Service) Import(ctx context.Context, source string, mode Mode) (summary *Summary, err error) {
	ctx, span := tracer.Start(ctx, "exchange.Import", trace.WithAttributes(
		attribute.String("archive.path", source),
		attribute.String("import.mode", string(mode)),
	))
	defer s.finish(span, "import", time.Now(), &err)

	mode, err = ParseMode(string(mode))
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	root, cleanup, err := s.unpack(ctx, source)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	manifest, err := Verify(root)
	if err != nil {
		return nil, err
	}
	sheets, err := readSheets(root, manifest)
	if err != nil {
		return nil, err
	}

	summary, err = s.importer.Import(ctx, sheets, mode)
	if err != nil {
		return nil, err
	}
	summary.ErrorLogPath = WriteErrorLog(source, summary.Errors, s.now())

	span.SetAttributes(
		attribute.Int("import.rows", summary.Total.RowsTotal),
		attribute.Int("import.errors", summary.Total.Errors),
	)
	s.logger.Info("import finished",
		"source", filepath.Base(source),
		"mode", mode,
		"rows", summary.Total.RowsTotal,
		"added", summary.Total.Added,
		"updated", summary.Total.Updated,
		"skipped", summary.Total.Skipped,
		"errors", summary.Total.Errors,
	)
	return summary, nil
}

// Verify extracts the archive at source and checks it against its manifest
// without importing anything.
func (s *Service) Verify(ctx context.Context, source string) (m *Manifest, err error) {
	ctx, span := tracer.Start(ctx, "exchange.Verify", trace.WithAttributes(attribute.String("archive.path", source)))
	defer s.finish(span, "verify", time.Now(), &err)

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	root, cleanup, err := s.unpack(ctx, source)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return Verify(root)
}

// unpack extracts source into a fresh scratch directory. cleanup removes
// it and is safe to call on every path.
func (s *Service) unpack(ctx context.Context, source string) (string, func(), error) {
	if s.cfg.ScratchDir != "" {
		if err := os.MkdirAll(s.cfg.ScratchDir, 0o755); err != nil {
			return "", nil, fmt.Errorf("create scratch root: %w", err)
		}
	}
	root, err := os.MkdirTemp(s.cfg.ScratchDir, "recordkeeper-import-*")
	if err != nil {
		return "", nil, fmt.Errorf("create scratch directory: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(root); err != nil {
			s.logger.Warn("remove scratch directory", "path", root, "error", err)
		}
	}

	x := Extractor{ChunkSize: s.cfg.ChunkSize, MaxEntrySize: s.cfg.MaxEntrySize}
	if _, err := x.Extract(ctx, source, root); err != nil {
		cleanup()
		return "", nil, err
	}
	return root, cleanup, nil
}

// readSheets loads every sheet the manifest lists. Files in the archive
// that the manifest does not list are never read.
func readSheets(root string, m *Manifest) ([]Sheet, error) {
	var sheets []Sheet
	for _, entry := range m.Files {
		name, ok := SheetEntity(entry.Name)
		if !ok {
			continue
		}
		sh, err := ReadSheetFile(filepath.Join(root, filepath.FromSlash(entry.Name)), name)
		if err != nil {
			return nil, err
		}
		sheets = append(sheets, sh)
	}
	return sheets, nil
}

func (s *Service) scope(names []string) ([]*entity.Definition, error) {
	if len(names) == 0 {
		return s.registry.All(), nil
	}
	defs := make([]*entity.Definition, 0, len(names))
	for _, name := range names {
		def, ok := s.registry.Get(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// load lists every collection concurrently.
func (s *Service) load(ctx context.Context, defs []*entity.Definition) ([]Collection, error) {
	collections := make([]Collection, len(defs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.ExportParallelism)
	for i, def := range defs {
		g.Go(func() error {
			records, err := s.records.List(gctx, def)
			if err != nil {
				return fmt.Errorf("load %s: %w", def.Name, err)
			}
			collections[i] = Collection{Entity: def, Records: records}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return collections, nil
}

func (s *Service) build(ctx context.Context, target string, collections []Collection, exportedBy string) (ExportResult, error) {
	meta := BuildMeta{SchemaVersion: s.cfg.SchemaVersion, ExportedAt: s.now()}
	if exportedBy != "" {
		meta.ExportedBy = &exportedBy
	}
	res, err := Build(ctx, target, collections, meta)
	if err != nil {
		return ExportResult{}, err
	}
	s.logger.Info("export finished", "path", res.Path, "sha256", res.SHA256, "counts", res.Counts)
	return ExportResult{Path: res.Path, Counts: res.Counts, SHA256: res.SHA256, Size: res.Size}, nil
}

// finish closes out an operation span and records its outcome.
func (s *Service) finish(span trace.Span, op string, start time.Time, errp *error) {
	result := "ok"
	if err := *errp; err != nil {
		result = resultLabel(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		s.logger.Warn("archive operation failed", "op", op, "result", result, "error", err)
	}
	s.recorder.ArchiveOperation(op, result, time.Since(start))
	span.End()
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrPathTraversal):
		return "path_traversal"
	case errors.Is(err, ErrMissingManifest):
		return "missing_manifest"
	case errors.Is(err, ErrIntegrityMismatch):
		return "integrity_mismatch"
	case errors.Is(err, ErrInvalidArchive):
		return "invalid_archive"
	case errors.Is(err, ErrBusy):
		return "busy"
	default:
		return "error"
	}
}
