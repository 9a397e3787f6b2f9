package exchange_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/recordkeeper/internal/cell"
	"github.com/JonMunkholm/recordkeeper/internal/document"
	"github.com/JonMunkholm/recordkeeper/internal/entity"
	"github.com/JonMunkholm/recordkeeper/internal/entity/catalog"
	"github.com/JonMunkholm/recordkeeper/internal/exchange"
	"github.com/JonMunkholm/recordkeeper/internal/storage"
	"github.com/JonMunkholm/recordkeeper/internal/storage/memory"
)

// =============================================================================
// ROUND TRIP
// =============================================================================

func TestExportVerifyImport_RoundTrip(t *testing.T) {
	src := newFixture(t)
	src.seed(t)
	ctx := context.Background()

	path := filepath.Join(src.dir, "all.zip")
	res, err := src.svc.Export(ctx, path, exchange.Scope{ExportedBy: "u-editor"})
	require.NoError(t, err)
	assert.Equal(t, path, res.Path)
	assert.Len(t, res.SHA256, 64)
	assert.Equal(t, 2, res.Counts[catalog.Departments])
	assert.Equal(t, 2, res.Counts[catalog.People])
	assert.Equal(t, 2, res.Counts[catalog.Documents])
	assert.Equal(t, 2, res.Counts[catalog.DocumentMarks])
	assert.Equal(t, 1, res.Counts[catalog.DocumentStages])
	assert.Equal(t, 1, res.Counts[catalog.DocumentLinks])
	assert.NoFileExists(t, path+".tmp")

	m, err := src.svc.Verify(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "1.0", m.SchemaVersion)
	require.NotNil(t, m.ExportedBy)
	assert.Equal(t, "u-editor", *m.ExportedBy)
	assert.Len(t, m.Files, 6)

	dst := newFixture(t)
	summary, err := dst.svc.Import(ctx, path, exchange.ModeMerge)
	require.NoError(t, err)
	assert.Empty(t, summary.Errors)
	assert.Empty(t, summary.ErrorLogPath)
	assert.Equal(t, 10, summary.Total.Added)
	assert.Equal(t, 10, summary.Total.RowsTotal)

	people, err := dst.mem.Get(ctx, dst.def(t, catalog.People), "p1")
	require.NoError(t, err)
	orig, err := src.mem.Get(ctx, src.def(t, catalog.People), "p1")
	require.NoError(t, err)
	assert.True(t, orig.Matches(people), "p1 should survive the round trip")

	p2, err := dst.mem.Get(ctx, dst.def(t, catalog.People), "p2")
	require.NoError(t, err)
	assert.Equal(t, `Bo "Quote", Jr.`, p2.Text("full_name"))

	a, err := dst.docs.Get(ctx, "doc-a")
	require.NoError(t, err)
	assert.Equal(t, document.StatusDraft, a.Status)
	assert.Equal(t, "<b>draft</b>", a.Body["summary"])
	require.Len(t, a.Stages, 1)
	assert.Equal(t, []any{"spelling", "facts"}, a.Stages[0].Checklist)
	require.Len(t, a.Marks, 1)
	assert.Equal(t, 4.5, a.Marks[0].Value)

	b, err := dst.docs.Get(ctx, "doc-b")
	require.NoError(t, err)
	assert.Equal(t, document.StatusSigned, b.Status)
	require.Len(t, b.Marks, 1)
	assert.Equal(t, "m2", b.Marks[0].ID)
}

func TestExportDocument(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	path := filepath.Join(f.dir, "doc-a.zip")
	res, err := f.svc.ExportDocument(ctx, path, "doc-a")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{catalog.Documents: 1, catalog.DocumentMarks: 1, catalog.DocumentStages: 1}, res.Counts)

	_, err = f.svc.ExportDocument(ctx, filepath.Join(f.dir, "none.zip"), "missing")
	assert.ErrorIs(t, err, document.ErrMissingDocument)

	dst := newFixture(t)
	summary, err := dst.svc.Import(ctx, path, exchange.ModeMerge)
	require.NoError(t, err)
	assert.Empty(t, summary.Errors)
	assert.Equal(t, 3, summary.Total.Added)
}

// =============================================================================
// RE-IMPORT
// =============================================================================

func TestReimport_UnchangedArchiveUpdatesWithoutChanges(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	path := f.export(t, "keyed.zip", exchange.Scope{Entities: []string{
		catalog.Departments, catalog.People, catalog.Documents, catalog.DocumentMarks, catalog.DocumentStages,
	}})
	before := len(f.mem.Events())

	summary, err := f.svc.Import(ctx, path, exchange.ModeMerge)
	require.NoError(t, err)
	assert.Empty(t, summary.Errors)
	assert.Equal(t, 0, summary.Total.Added)
	assert.Equal(t, 9, summary.Total.Updated)

	// Identical documents are not rewritten.
	assert.Len(t, f.mem.Events(), before)
	a, err := f.docs.Get(ctx, "doc-a")
	require.NoError(t, err)
	assert.Equal(t, 1, a.Version)
}

func TestReimport_LinksAreAlwaysInserted(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	path := f.export(t, "links.zip", exchange.Scope{Entities: []string{catalog.DocumentLinks}})
	summary, err := f.svc.Import(context.Background(), path, exchange.ModeMerge)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Entities[catalog.DocumentLinks].Added)
	assert.Equal(t, 2, f.count(t, catalog.DocumentLinks))
}

func TestImport_AppendModeSkipsExisting(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	path := f.export(t, "refs.zip", exchange.Scope{Entities: []string{catalog.Departments, catalog.People, catalog.Documents}})
	summary, err := f.svc.Import(context.Background(), path, exchange.ModeAppend)
	require.NoError(t, err)

	assert.Equal(t, exchange.ModeAppend, summary.Mode)
	assert.Equal(t, 6, summary.Total.Skipped)
	assert.Equal(t, 0, summary.Total.Added+summary.Total.Updated)
}

func TestImport_MergeChangesDocumentThroughStore(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	src := f.export(t, "docs.zip", exchange.Scope{Entities: []string{catalog.Documents}})
	edited := filepath.Join(f.dir, "docs-edited.zip")
	editSignedArchive(t, src, edited, exchange.SheetName(catalog.Documents), func(s string) string {
		s = strings.Replace(s, "Alpha", "Alpha v2", 1)
		return strings.Replace(s, "Beta", "Beta v2", 1)
	})

	summary, err := f.svc.Import(ctx, edited, exchange.ModeMerge)
	require.NoError(t, err)

	a, err := f.docs.Get(ctx, "doc-a")
	require.NoError(t, err)
	assert.Equal(t, "Alpha v2", a.Title)
	assert.Equal(t, 2, a.Version)

	require.Len(t, summary.Errors, 1)
	assert.Equal(t, catalog.Documents, summary.Errors[0].Scope)
	assert.Equal(t, 2, summary.Errors[0].Row)
	assert.Contains(t, summary.Errors[0].Message, "signed")
	assert.NotEmpty(t, summary.ErrorLogPath)
	assert.FileExists(t, summary.ErrorLogPath)

	b, err := f.docs.Get(ctx, "doc-b")
	require.NoError(t, err)
	assert.Equal(t, "Beta", b.Title)
}

// =============================================================================
// INTEGRITY
// =============================================================================

func TestImport_TamperedSheetRejected(t *testing.T) {
	src := newFixture(t)
	src.seed(t)
	path := src.export(t, "all.zip", exchange.Scope{})

	tampered := filepath.Join(src.dir, "tampered.zip")
	editArchive(t, path, tampered, exchange.SheetName(catalog.People), func(s string) string {
		return strings.Replace(s, "Ann Lee", "Ann Lea", 1)
	})

	dst := newFixture(t)
	_, err := dst.svc.Import(context.Background(), tampered, exchange.ModeMerge)

	var ie *exchange.IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, exchange.SheetName(catalog.People), ie.File)
	assert.True(t, errors.Is(err, exchange.ErrIntegrityMismatch))

	// Nothing from any sheet was applied.
	assert.Equal(t, 0, dst.count(t, catalog.Departments))
	assert.Equal(t, 0, dst.count(t, catalog.People))
}

func TestImport_MissingListedFileRejected(t *testing.T) {
	src := newFixture(t)
	src.seed(t)
	path := src.export(t, "all.zip", exchange.Scope{Entities: []string{catalog.Departments, catalog.People}})

	stripped := filepath.Join(src.dir, "stripped.zip")
	dropEntry(t, path, stripped, exchange.SheetName(catalog.People))

	dst := newFixture(t)
	_, err := dst.svc.Import(context.Background(), stripped, exchange.ModeMerge)
	var ie *exchange.IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Empty(t, ie.Got)
	assert.Equal(t, 0, dst.count(t, catalog.Departments))
}

func TestImport_MissingManifest(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.dir, "nomanifest.zip")
	writeArchive(t, path, []archiveFile{{name: "sheets/departments.csv", data: "id,name\nd1,Finance\n"}}, false)

	_, err := f.svc.Import(context.Background(), path, exchange.ModeMerge)
	assert.ErrorIs(t, err, exchange.ErrMissingManifest)
}

func TestImport_TraversalEntryRejected(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.dir, "evil.zip")
	writeArchive(t, path, []archiveFile{
		{name: "sheets/departments.csv", data: "id,name\nd1,Finance\n"},
		{name: "../../escaped.txt", data: "gotcha"},
	}, true)

	_, err := f.svc.Import(context.Background(), path, exchange.ModeMerge)
	var pe *exchange.PathTraversalError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "../../escaped.txt", pe.Entry)
	assert.Equal(t, 0, f.count(t, catalog.Departments))
}

func TestImport_InvalidMode(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Import(context.Background(), "irrelevant.zip", exchange.Mode("upsert"))
	assert.ErrorIs(t, err, exchange.ErrInvalidMode)
}

func TestImport_UnlistedFilesIgnored(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.dir, "extra.zip")

	digest, size, err := exchange.HashReader(strings.NewReader("id,name\nd1,Finance\n"))
	require.NoError(t, err)
	manifest, err := json.Marshal(exchange.Manifest{Files: []exchange.ManifestEntry{{Name: "sheets/departments.csv", SHA256: digest, Size: size}}})
	require.NoError(t, err)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range map[string]string{
		"sheets/departments.csv": "id,name\nd1,Finance\n",
		"sheets/people.csv":      "id,full_name\np9,Intruder\n",
		exchange.ManifestName:    string(manifest),
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(data))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	summary, err := f.svc.Import(context.Background(), path, exchange.ModeMerge)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total.Added)
	assert.Equal(t, 0, f.count(t, catalog.People))
}

// =============================================================================
// ROW ISOLATION
// =============================================================================

func TestImport_MalformedRowIsolated(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.dir, "people.zip")
	writeArchive(t, path, []archiveFile{{
		name: exchange.SheetName(catalog.People),
		data: "id,full_name,birth_date,active\n" +
			"p1,Ann,1990-02-01,true\n" +
			"p2,Bob,01.03.1985,да\n" +
			"p3,Cid,not-a-date,yes\n" +
			"p4,Dee,,no\n",
	}}, true)

	summary, err := f.svc.Import(context.Background(), path, exchange.ModeMerge)
	require.NoError(t, err)

	counts := summary.Entities[catalog.People]
	require.NotNil(t, counts)
	assert.Equal(t, 4, counts.RowsTotal)
	assert.Equal(t, 3, counts.Added)
	assert.Equal(t, 1, counts.Errors)

	require.Len(t, summary.Errors, 1)
	assert.Equal(t, exchange.RowError{
		Scope:   catalog.People,
		Row:     3,
		Message: summary.Errors[0].Message,
	}, summary.Errors[0])
	assert.Contains(t, summary.Errors[0].Message, "birth_date")

	for _, id := range []string{"p1", "p2", "p4"} {
		_, err := f.mem.Get(context.Background(), f.def(t, catalog.People), id)
		assert.NoError(t, err, id)
	}
	bob, _ := f.mem.Get(context.Background(), f.def(t, catalog.People), "p2")
	assert.Equal(t, "1985-03-01", cell.Format(bob.Get("birth_date")))
	assert.True(t, bob.Get("active").Bool())

	require.NotEmpty(t, summary.ErrorLogPath)
	assert.Equal(t, f.dir, filepath.Dir(summary.ErrorLogPath))
	assert.Equal(t, "people_errors_20240601_123000.json", filepath.Base(summary.ErrorLogPath))

	data, err := os.ReadFile(summary.ErrorLogPath)
	require.NoError(t, err)
	var log exchange.ErrorLog
	require.NoError(t, json.Unmarshal(data, &log))
	assert.Equal(t, "people.zip", log.SourceFile)
	assert.Equal(t, 1, log.ErrorsCount)
	assert.Equal(t, summary.Errors, log.Errors)
}

// rejectingStore refuses text containing a NUL byte the way Postgres does,
// with an error that carries no storage sentinel.
type rejectingStore struct {
	*memory.Store
	broken bool
}

func (s *rejectingStore) Insert(ctx context.Context, def *entity.Definition, rec entity.Record) error {
	for _, v := range rec {
		if !strings.ContainsRune(cell.Format(v), 0) {
			continue
		}
		if s.broken {
			return fmt.Errorf("%w: connection reset", storage.ErrBatchAborted)
		}
		return errors.New(`ERROR: invalid byte sequence for encoding "UTF8": 0x00 (SQLSTATE 22021)`)
	}
	return s.Store.Insert(ctx, def, rec)
}

func nulSheet(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "nul.zip")
	writeArchive(t, path, []archiveFile{{
		name: exchange.SheetName(catalog.People),
		data: "id,full_name\n" +
			"p1,Ann\n" +
			"p2,Bo\x00b\n" +
			"p3,Cid\n",
	}}, true)
	return path
}

func TestImport_UnclassifiedStoreErrorIsRowError(t *testing.T) {
	f := newFixture(t)
	store := &rejectingStore{Store: f.mem}
	svc := exchange.NewService(exchange.Config{ScratchDir: t.TempDir()}, f.reg, store, f.mem, f.docs, exchange.WithClock(fixed))

	summary, err := svc.Import(context.Background(), nulSheet(t, f.dir), exchange.ModeMerge)
	require.NoError(t, err)

	counts := summary.Entities[catalog.People]
	require.NotNil(t, counts)
	assert.Equal(t, 2, counts.Added)
	assert.Equal(t, 1, counts.Errors)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, 2, summary.Errors[0].Row)
	assert.Contains(t, summary.Errors[0].Message, "22021")

	for _, id := range []string{"p1", "p3"} {
		_, err := f.mem.Get(context.Background(), f.def(t, catalog.People), id)
		assert.NoError(t, err, id)
	}
}

func TestImport_BrokenBatchAbortsImport(t *testing.T) {
	f := newFixture(t)
	store := &rejectingStore{Store: f.mem, broken: true}
	svc := exchange.NewService(exchange.Config{ScratchDir: t.TempDir()}, f.reg, store, f.mem, f.docs, exchange.WithClock(fixed))

	_, err := svc.Import(context.Background(), nulSheet(t, f.dir), exchange.ModeMerge)
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrBatchAborted)
	assert.Equal(t, 0, f.count(t, catalog.People), "earlier rows roll back with the batch")
}

func TestImport_RowFailureAfterWritesIsUndone(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.dir, "docs.zip")
	writeArchive(t, path, []archiveFile{
		{name: exchange.SheetName(catalog.Documents), data: "id,title\ndoc-1,One\n"},
		{name: exchange.SheetName(catalog.DocumentMarks), data: "id,document_id,person_id,value\n" +
			"m1,doc-1,p1,5\n" +
			"m2,ghost,p1,4\n" +
			"m3,doc-1,,3\n"},
	}, true)

	summary, err := f.svc.Import(context.Background(), path, exchange.ModeMerge)
	require.NoError(t, err)

	marks := summary.Entities[catalog.DocumentMarks]
	assert.Equal(t, 1, marks.Added)
	assert.Equal(t, 2, marks.Errors)
	require.Len(t, summary.Errors, 2)
	assert.Equal(t, 2, summary.Errors[0].Row)
	assert.Contains(t, summary.Errors[0].Message, "ghost")
	assert.Equal(t, 3, summary.Errors[1].Row)

	doc, err := f.docs.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Version)
	require.Len(t, doc.Marks, 1)
	assert.Equal(t, "m1", doc.Marks[0].ID)
}

func TestImport_LocalizedHeadersAndOrdering(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.dir, "legacy.zip")
	// Children listed before parents and headers in a legacy language.
	writeArchive(t, path, []archiveFile{
		{name: exchange.SheetName(catalog.DocumentStages), data: "\ufeffID,Документ,Этап,Порядок,Срок,Выполнен\n" +
			"s1,doc-1,Согласование,1,15.08.2024,нет\n"},
		{name: exchange.SheetName(catalog.Documents), data: "ID,Название,Статус,Цвет\n" +
			"doc-1,Приказ,SIGNED,red\n"},
	}, true)

	summary, err := f.svc.Import(context.Background(), path, exchange.ModeMerge)
	require.NoError(t, err)
	assert.Empty(t, summary.Errors)
	assert.Equal(t, []string{catalog.Documents, catalog.DocumentStages}, summary.Order)

	doc, err := f.docs.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "Приказ", doc.Title)
	assert.Equal(t, document.StatusSigned, doc.Status)
	require.Len(t, doc.Stages, 1)
	require.NotNil(t, doc.Stages[0].DueDate)
	assert.Equal(t, "2024-08-15", doc.Stages[0].DueDate.Format("2006-01-02"))
}

func TestImport_MissingKeyIsRowError(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.dir, "nokey.zip")
	writeArchive(t, path, []archiveFile{{
		name: exchange.SheetName(catalog.Departments),
		data: "id,name\n,Nameless\nd1,Finance\n",
	}}, true)

	summary, err := f.svc.Import(context.Background(), path, exchange.ModeMerge)
	require.NoError(t, err)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, 1, summary.Errors[0].Row)
	assert.Contains(t, summary.Errors[0].Message, exchange.ErrMissingKey.Error())
	assert.Equal(t, 1, summary.Total.Added)
}

// editArchive copies src to dst, rewriting one entry's text.
func editArchive(t *testing.T, src, dst, entry string, edit func(string) string) {
	t.Helper()
	rewriteArchive(t, src, dst, func(name string, data []byte) []byte {
		if name != entry {
			return data
		}
		return []byte(edit(string(data)))
	})
}

// editSignedArchive rewrites one entry like editArchive, then updates its
// manifest digest so the archive still verifies.
func editSignedArchive(t *testing.T, src, dst, entry string, edit func(string) string) {
	t.Helper()
	unsigned := filepath.Join(t.TempDir(), "unsigned.zip")
	var edited []byte
	rewriteArchive(t, src, unsigned, func(name string, data []byte) []byte {
		if name != entry {
			return data
		}
		edited = []byte(edit(string(data)))
		return edited
	})
	require.NotNil(t, edited, "archive has no entry %s", entry)

	digest, size, err := exchange.HashReader(bytes.NewReader(edited))
	require.NoError(t, err)
	rewriteArchive(t, unsigned, dst, func(name string, data []byte) []byte {
		if name != exchange.ManifestName {
			return data
		}
		var m exchange.Manifest
		require.NoError(t, json.Unmarshal(data, &m))
		for i := range m.Files {
			if m.Files[i].Name == entry {
				m.Files[i].SHA256, m.Files[i].Size = digest, size
			}
		}
		out, err := json.Marshal(m)
		require.NoError(t, err)
		return out
	})
}

// dropEntry copies src to dst without one entry.
func dropEntry(t *testing.T, src, dst, entry string) {
	t.Helper()
	zr, err := zip.OpenReader(src)
	require.NoError(t, err)
	defer zr.Close()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range zr.File {
		if f.Name == entry {
			continue
		}
		require.NoError(t, zw.Copy(f))
	}
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(dst, buf.Bytes(), 0o644))
}
