//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/JonMunkholm/recordkeeper/internal/actor"
	"github.com/JonMunkholm/recordkeeper/internal/audit"
	"github.com/JonMunkholm/recordkeeper/internal/cell"
	"github.com/JonMunkholm/recordkeeper/internal/document"
	"github.com/JonMunkholm/recordkeeper/internal/entity"
	"github.com/JonMunkholm/recordkeeper/internal/entity/catalog"
	"github.com/JonMunkholm/recordkeeper/internal/exchange"
	"github.com/JonMunkholm/recordkeeper/internal/storage"
	"github.com/JonMunkholm/recordkeeper/internal/storage/postgres"
)

var editor = audit.Actor{ID: "u-editor", Name: "Eve", Role: audit.RoleEditor}

type PostgresSuite struct {
	suite.Suite
	container *tcpostgres.PostgresContainer
	pool      *pgxpool.Pool
	reg       *entity.Registry
	store     *postgres.Store
	docs      *document.Store
}

func TestPostgresSuite(t *testing.T) {
	suite.Run(t, new(PostgresSuite))
}

func (s *PostgresSuite) SetupSuite() {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("recordkeeper"),
		tcpostgres.WithUsername("recordkeeper"),
		tcpostgres.WithPassword("recordkeeper"),
		tcpostgres.BasicWaitStrategies(),
	)
	s.Require().NoError(err, "start postgres container")
	s.container = container

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)

	pool, err := postgres.Connect(ctx, postgres.PoolConfig{URL: url, MaxConns: 8})
	s.Require().NoError(err)
	s.pool = pool

	s.reg = catalog.New()
	s.store = postgres.New(pool, s.reg, nil)
	s.Require().NoError(s.store.Migrate(ctx))
	s.Require().NoError(s.store.Migrate(ctx), "migrate is idempotent")
	s.docs = document.NewStore(s.store.Documents(), s.store, s.store)
}

func (s *PostgresSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		s.NoError(testcontainers.TerminateContainer(s.container))
	}
}

func (s *PostgresSuite) SetupTest() {
	_, err := s.pool.Exec(context.Background(), `
		TRUNCATE departments, people, documents, document_marks, document_stages,
		         document_links, audit_log, actors RESTART IDENTITY CASCADE`)
	s.Require().NoError(err)
}

func (s *PostgresSuite) def(name string) *entity.Definition {
	d, ok := s.reg.Get(name)
	s.Require().True(ok)
	return d
}

func (s *PostgresSuite) TestRecords_CRUD() {
	ctx := context.Background()
	people := s.def(catalog.People)
	hired := time.Date(2024, 5, 6, 7, 8, 9, 123456000, time.UTC)

	rec := entity.Record{
		"id":         cell.String("p1"),
		"full_name":  cell.String("Ann"),
		"birth_date": cell.Date(time.Date(1990, 2, 1, 0, 0, 0, 0, time.UTC)),
		"active":     cell.Bool(true),
		"tags":       cell.JSON([]any{"lead"}),
		"hired_at":   cell.DateTime(hired),
	}
	s.Require().NoError(s.store.Insert(ctx, people, rec))
	s.ErrorIs(s.store.Insert(ctx, people, rec), storage.ErrDuplicate)

	got, err := s.store.Get(ctx, people, "p1")
	s.Require().NoError(err)
	s.True(rec.Matches(got))
	s.True(got.Get("email").IsNull())

	s.Require().NoError(s.store.Update(ctx, people, "p1", entity.Record{"full_name": cell.String("Ann Lee")}))
	got, err = s.store.Get(ctx, people, "p1")
	s.Require().NoError(err)
	s.Equal("Ann Lee", got.Text("full_name"))
	s.True(got.Get("active").Bool(), "columns absent from the update stay")

	s.ErrorIs(s.store.Update(ctx, people, "nope", entity.Record{"full_name": cell.String("x")}), storage.ErrNotFound)
	_, err = s.store.Get(ctx, people, "nope")
	s.ErrorIs(err, storage.ErrNotFound)

	n, err := s.store.Count(ctx, people)
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *PostgresSuite) TestWithinTx_RollsBack() {
	ctx := context.Background()
	deps := s.def(catalog.Departments)
	boom := errors.New("boom")

	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.store.Insert(ctx, deps, entity.Record{"id": cell.String("d1")}); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	n, err := s.store.Count(ctx, deps)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *PostgresSuite) TestBatch_RowIsolation() {
	ctx := context.Background()
	deps := s.def(catalog.Departments)

	bctx, b, err := s.store.BeginBatch(ctx)
	s.Require().NoError(err)

	s.NoError(b.Row(bctx, func(ctx context.Context) error {
		return s.store.Insert(ctx, deps, entity.Record{"id": cell.String("d1")})
	}))
	// A failed statement aborts the transaction until the savepoint is rolled back.
	err = b.Row(bctx, func(ctx context.Context) error {
		return s.store.Insert(ctx, deps, entity.Record{"id": cell.String("d1")})
	})
	s.ErrorIs(err, storage.ErrDuplicate)
	s.NoError(b.Row(bctx, func(ctx context.Context) error {
		return s.store.Insert(ctx, deps, entity.Record{"id": cell.String("d2")})
	}))
	s.Require().NoError(b.Commit(bctx))
	s.NoError(b.Rollback(bctx), "rollback after commit is a no-op")

	n, err := s.store.Count(ctx, deps)
	s.Require().NoError(err)
	s.Equal(2, n)
}

func (s *PostgresSuite) TestBatch_DataExceptionIsRowScoped() {
	ctx := context.Background()
	deps := s.def(catalog.Departments)

	bctx, b, err := s.store.BeginBatch(ctx)
	s.Require().NoError(err)
	s.NoError(b.Row(bctx, func(ctx context.Context) error {
		return s.store.Insert(ctx, deps, entity.Record{"id": cell.String("d1")})
	}))
	err = b.Row(bctx, func(ctx context.Context) error {
		return s.store.Insert(ctx, deps, entity.Record{"id": cell.String("d2"), "name": cell.String("Le\x00gal")})
	})
	s.ErrorIs(err, storage.ErrInvalidValue)
	s.NotErrorIs(err, storage.ErrBatchAborted)
	s.Require().NoError(b.Commit(bctx))

	n, err := s.store.Count(ctx, deps)
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *PostgresSuite) TestImport_NulByteMidSheet() {
	ctx := context.Background()
	people := s.def(catalog.People)
	path := filepath.Join(s.T().TempDir(), "people.zip")
	_, err := exchange.Build(ctx, path, []exchange.Collection{{
		Entity: people,
		Records: []entity.Record{
			{"id": cell.String("p1"), "full_name": cell.String("Ann")},
			{"id": cell.String("p2"), "full_name": cell.String("Bo\x00b")},
			{"id": cell.String("p3"), "full_name": cell.String("Cid")},
		},
	}}, exchange.BuildMeta{})
	s.Require().NoError(err)

	svc := exchange.NewService(exchange.Config{ScratchDir: s.T().TempDir()}, s.reg, s.store, s.store, s.docs)
	summary, err := svc.Import(ctx, path, exchange.ModeMerge)
	s.Require().NoError(err)

	s.Equal(2, summary.Entities[catalog.People].Added)
	s.Require().Len(summary.Errors, 1)
	s.Equal(2, summary.Errors[0].Row)

	n, err := s.store.Count(ctx, people)
	s.Require().NoError(err)
	s.Equal(2, n)
}

func (s *PostgresSuite) TestBatch_Rollback() {
	ctx := context.Background()
	deps := s.def(catalog.Departments)

	bctx, b, err := s.store.BeginBatch(ctx)
	s.Require().NoError(err)
	s.NoError(b.Row(bctx, func(ctx context.Context) error {
		return s.store.Insert(ctx, deps, entity.Record{"id": cell.String("d1")})
	}))
	s.Require().NoError(b.Rollback(bctx))

	n, err := s.store.Count(ctx, deps)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *PostgresSuite) TestDocuments_Lifecycle() {
	ctx := context.Background()
	due := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	doc, err := s.docs.Create(ctx, document.NewDocument{
		ID:     "doc-1",
		Title:  "Alpha",
		Body:   map[string]any{"k": "v"},
		Marks:  []document.Mark{{ID: "m1", PersonID: "p1", Value: 4.5}},
		Stages: []document.Stage{{ID: "s1", Name: "Review", Position: 1, DueDate: &due, Checklist: []any{"a"}}},
	}, editor)
	s.Require().NoError(err)
	s.Equal(1, doc.Version)

	_, err = s.docs.Create(ctx, document.NewDocument{ID: "doc-1", Title: "Dup"}, editor)
	s.ErrorIs(err, document.ErrDocumentExists)

	title := "Alpha v2"
	doc, err = s.docs.Update(ctx, "doc-1", document.Patch{Title: &title}, 1, editor)
	s.Require().NoError(err)
	s.Equal(2, doc.Version)

	_, err = s.docs.Update(ctx, "doc-1", document.Patch{Title: &title}, 1, editor)
	s.ErrorIs(err, document.ErrVersionConflict)

	got, err := s.docs.Get(ctx, "doc-1")
	s.Require().NoError(err)
	s.Equal("Alpha v2", got.Title)
	s.Require().Len(got.Marks, 1)
	s.Require().Len(got.Stages, 1)
	s.Equal("2024-07-01", got.Stages[0].DueDate.Format("2006-01-02"))
	s.Equal([]any{"a"}, got.Stages[0].Checklist)

	signed, err := s.docs.Sign(ctx, "doc-1", 2, editor)
	s.Require().NoError(err)
	s.Equal(document.StatusSigned, signed.Status)

	_, err = s.docs.Update(ctx, "doc-1", document.Patch{Title: &title}, 3, editor)
	s.ErrorIs(err, document.ErrPermissionDenied)

	events, err := s.store.ListByEntity(ctx, document.EntityType, "doc-1", 0)
	s.Require().NoError(err)
	s.Require().Len(events, 3)
	s.Equal(audit.ActionSign, events[0].Action)
	s.Equal(audit.ActionCreate, events[2].Action)
	s.Equal(editor, events[0].Actor)
	s.Equal(3, events[0].NewVersion)
}

func (s *PostgresSuite) TestDocuments_ChildOwnedElsewhere() {
	ctx := context.Background()
	_, err := s.docs.Create(ctx, document.NewDocument{
		ID: "doc-1", Title: "One", Marks: []document.Mark{{ID: "m1", PersonID: "p1"}},
	}, editor)
	s.Require().NoError(err)

	_, err = s.docs.Create(ctx, document.NewDocument{
		ID: "doc-2", Title: "Two", Marks: []document.Mark{{ID: "m1", PersonID: "p2"}},
	}, editor)
	s.ErrorIs(err, storage.ErrDuplicate)

	_, err = s.docs.Get(ctx, "doc-2")
	s.ErrorIs(err, document.ErrMissingDocument, "the failed create left nothing behind")
}

func (s *PostgresSuite) TestDocuments_ConcurrentUpdates() {
	ctx := context.Background()
	_, err := s.docs.Create(ctx, document.NewDocument{ID: "doc-1", Title: "Start"}, editor)
	s.Require().NoError(err)

	const writers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			title := "writer"
			if _, err := s.docs.Update(ctx, "doc-1", document.Patch{Title: &title}, 1, editor); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, document.ErrVersionConflict) {
				s.T().Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	s.Equal(1, wins)

	events, err := s.store.ListByEntity(ctx, document.EntityType, "doc-1", 0)
	s.Require().NoError(err)
	s.Len(events, 2)
}

func (s *PostgresSuite) TestDocuments_DeleteCascades() {
	ctx := context.Background()
	_, err := s.docs.Create(ctx, document.NewDocument{
		ID: "doc-1", Title: "One", Marks: []document.Mark{{ID: "m1", PersonID: "p1"}},
	}, editor)
	s.Require().NoError(err)

	s.Require().NoError(s.docs.Delete(ctx, "doc-1", 1, editor))
	n, err := s.store.Count(ctx, s.def(catalog.DocumentMarks))
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *PostgresSuite) TestLinks_ForeignKeyIsConstraint() {
	err := s.store.Insert(context.Background(), s.def(catalog.DocumentLinks), entity.Record{
		"document_id": cell.String("ghost"),
		"linked_id":   cell.String("ghost"),
	})
	s.ErrorIs(err, storage.ErrConstraint)
}

func (s *PostgresSuite) TestActors() {
	ctx := context.Background()
	s.Require().NoError(s.store.PutActor(ctx, editor))
	s.Require().NoError(s.store.PutActor(ctx, audit.Actor{ID: editor.ID, Name: "Eve R", Role: audit.RoleAdmin}))

	a, err := s.store.LookupActor(ctx, editor.ID)
	s.Require().NoError(err)
	s.Equal("Eve R", a.Name)
	s.Equal(audit.RoleAdmin, a.Role)

	_, err = s.store.LookupActor(ctx, "nobody")
	s.ErrorIs(err, actor.ErrUnknownActor)
}
