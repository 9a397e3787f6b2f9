package exchange_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/recordkeeper/internal/audit"
	"github.com/JonMunkholm/recordkeeper/internal/cell"
	"github.com/JonMunkholm/recordkeeper/internal/document"
	"github.com/JonMunkholm/recordkeeper/internal/entity"
	"github.com/JonMunkholm/recordkeeper/internal/entity/catalog"
	"github.com/JonMunkholm/recordkeeper/internal/exchange"
	"github.com/JonMunkholm/recordkeeper/internal/storage/memory"
)

var (
	editor = audit.Actor{ID: "u-editor", Name: "Eve", Role: audit.RoleEditor}
	t0     = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	fixed  = func() time.Time { return time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC) }
)

type fixture struct {
	mem  *memory.Store
	reg  *entity.Registry
	docs *document.Store
	svc  *exchange.Service
	dir  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memory.New()
	reg := catalog.New()
	docs := document.NewStore(mem.Documents(), mem, mem)
	svc := exchange.NewService(exchange.Config{ScratchDir: t.TempDir()}, reg, mem, mem, docs, exchange.WithClock(fixed))
	return &fixture{mem: mem, reg: reg, docs: docs, svc: svc, dir: t.TempDir()}
}

func (f *fixture) def(t *testing.T, name string) *entity.Definition {
	t.Helper()
	def, ok := f.reg.Get(name)
	require.True(t, ok, name)
	return def
}

func (f *fixture) count(t *testing.T, name string) int {
	t.Helper()
	n, err := f.mem.Count(context.Background(), f.def(t, name))
	require.NoError(t, err)
	return n
}

// seed fills the store with two departments, two people, a draft and a
// signed document with children, and one link.
func (f *fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	deps := f.def(t, catalog.Departments)
	for _, d := range [][2]string{{"d1", "Finance"}, {"d2", "Legal"}} {
		require.NoError(t, f.mem.Insert(ctx, deps, entity.Record{
			"id":         cell.String(d[0]),
			"code":       cell.String(strings.ToUpper(d[1][:3])),
			"name":       cell.String(d[1]),
			"created_at": cell.DateTime(t0),
		}))
	}

	people := f.def(t, catalog.People)
	require.NoError(t, f.mem.Insert(ctx, people, entity.Record{
		"id":            cell.String("p1"),
		"full_name":     cell.String("Ann Lee"),
		"email":         cell.String("ann@example.com"),
		"department_id": cell.String("d1"),
		"birth_date":    cell.Date(time.Date(1990, 2, 1, 0, 0, 0, 0, time.UTC)),
		"active":        cell.Bool(true),
		"tags":          cell.JSON([]any{"lead", "remote"}),
		"hired_at":      cell.DateTime(t0.Add(123456 * time.Microsecond)),
	}))
	require.NoError(t, f.mem.Insert(ctx, people, entity.Record{
		"id":        cell.String("p2"),
		"full_name": cell.String("Bo \"Quote\", Jr."),
		"active":    cell.Bool(false),
	}))

	due := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	_, err := f.docs.Create(ctx, document.NewDocument{
		ID:           "doc-a",
		Number:       "A-1",
		Title:        "Alpha",
		DepartmentID: "d1",
		Body:         map[string]any{"summary": "<b>draft</b>", "pages": float64(2)},
		Marks:        []document.Mark{{ID: "m1", PersonID: "p1", Value: 4.5, Comment: "ok", RecordedAt: t0}},
		Stages:       []document.Stage{{ID: "s1", Name: "Review", Position: 1, DueDate: &due, Checklist: []any{"spelling", "facts"}}},
	}, editor)
	require.NoError(t, err)

	_, err = f.docs.Create(ctx, document.NewDocument{
		ID:    "doc-b",
		Title: "Beta",
		Marks: []document.Mark{{ID: "m2", PersonID: "p2", Value: 3, RecordedAt: t0}},
	}, editor)
	require.NoError(t, err)
	_, err = f.docs.Sign(ctx, "doc-b", 1, editor)
	require.NoError(t, err)

	require.NoError(t, f.mem.Insert(ctx, f.def(t, catalog.DocumentLinks), entity.Record{
		"document_id": cell.String("doc-a"),
		"linked_id":   cell.String("doc-b"),
		"relation":    cell.String("refers"),
		"created_at":  cell.DateTime(t0),
	}))
}

type archiveFile struct {
	name string
	data string
}

// writeArchive builds a container by hand. When withManifest is set the
// manifest lists every file with its real digest.
func writeArchive(t *testing.T, path string, files []archiveFile, withManifest bool) {
	t.Helper()
	out, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(out)

	m := exchange.Manifest{SchemaVersion: "1.0", ExportedAt: t0}
	for _, file := range files {
		w, err := zw.Create(file.name)
		require.NoError(t, err)
		_, err = io.WriteString(w, file.data)
		require.NoError(t, err)

		digest, size, err := exchange.HashReader(strings.NewReader(file.data))
		require.NoError(t, err)
		m.Files = append(m.Files, exchange.ManifestEntry{Name: file.name, SHA256: digest, Size: size})
	}
	if withManifest {
		data, err := json.Marshal(m)
		require.NoError(t, err)
		w, err := zw.Create(exchange.ManifestName)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())
}

// rewriteArchive copies src to dst, passing every entry through edit.
func rewriteArchive(t *testing.T, src, dst string, edit func(name string, data []byte) []byte) {
	t.Helper()
	zr, err := zip.OpenReader(src)
	require.NoError(t, err)
	defer zr.Close()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())

		w, err := zw.Create(f.Name)
		require.NoError(t, err)
		_, err = w.Write(edit(f.Name, data))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(dst, buf.Bytes(), 0o644))
}

func (f *fixture) export(t *testing.T, name string, scope exchange.Scope) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	_, err := f.svc.Export(context.Background(), path, scope)
	require.NoError(t, err)
	return path
}
