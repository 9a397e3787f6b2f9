package web_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/recordkeeper/internal/actor"
	"github.com/JonMunkholm/recordkeeper/internal/audit"
	"github.com/JonMunkholm/recordkeeper/internal/config"
	"github.com/JonMunkholm/recordkeeper/internal/document"
	"github.com/JonMunkholm/recordkeeper/internal/entity/catalog"
	"github.com/JonMunkholm/recordkeeper/internal/exchange"
	"github.com/JonMunkholm/recordkeeper/internal/metrics"
	"github.com/JonMunkholm/recordkeeper/internal/storage/memory"
	"github.com/JonMunkholm/recordkeeper/internal/web"
)

var actors = actor.Static{
	"u-editor": {ID: "u-editor", Name: "Eve", Role: audit.RoleEditor},
	"u-viewer": {ID: "u-viewer", Name: "Vic", Role: audit.RoleViewer},
}

type harness struct {
	t       *testing.T
	mem     *memory.Store
	docs    *document.Store
	metrics *metrics.Metrics
	srv     *web.Server
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			RequestTimeout: time.Minute,
			MaxUploadSize:  8 << 20,
		},
		Exchange: config.ExchangeConfig{
			ScratchDir:  t.TempDir(),
			DefaultMode: "merge",
		},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func newHarness(t *testing.T, cfg *config.Config, store web.Pinger) *harness {
	t.Helper()
	mem := memory.New()
	m := metrics.New()
	docs := document.NewStore(mem.Documents(), mem, mem, document.WithRecorder(m))
	svc := exchange.NewService(exchange.Config{ScratchDir: t.TempDir()}, catalog.New(), mem, mem, docs, exchange.WithRecorder(m))
	if store == nil {
		store = mem
	}

	srv := web.NewServer(cfg, web.Deps{
		Exchange:  svc,
		Documents: docs,
		Audit:     mem,
		Actors:    actor.NewCache(actors, 16, time.Minute, actor.WithRecorder(m)),
		Store:     store,
		Metrics:   m,
	})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &harness{t: t, mem: mem, docs: docs, metrics: m, srv: srv}
}

// do sends a request; body may be nil, a string or any JSON-encodable value.
func (h *harness) do(method, path, actorID string, body any, headers ...string) *httptest.ResponseRecorder {
	h.t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(h.t, err)
		r = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, r)
	req.RemoteAddr = "192.0.2.10:1234"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actorID != "" {
		req.Header.Set("X-Actor-ID", actorID)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[web.ErrorResponse](t, rec).Code
}

func uploadRequest(t *testing.T, path string, archive []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mp := multipart.NewWriter(&buf)
	fw, err := mp.CreateFormFile("file", "export.zip")
	require.NoError(t, err)
	_, err = fw.Write(archive)
	require.NoError(t, err)
	require.NoError(t, mp.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mp.FormDataContentType())
	return req
}

// =============================================================================
// Health and metrics
// =============================================================================

func TestHealth(t *testing.T) {
	h := newHarness(t, testConfig(t), nil)

	rec := h.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[web.HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	require.NotNil(t, resp.Exchange)
	assert.Equal(t, 0, resp.Exchange.Active)
}

type downStore struct{}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealth_StoreDown(t *testing.T) {
	h := newHarness(t, testConfig(t), downStore{})

	rec := h.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unreachable", decode[web.HealthResponse](t, rec).Store)
}

func TestMetricsEndpointRecordsRoutes(t *testing.T) {
	h := newHarness(t, testConfig(t), nil)

	h.do(http.MethodGet, "/api/documents/nope", "", nil)
	rec := h.do(http.MethodGet, "/metrics", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/api/documents/{id}",status="404"`)
}

// =============================================================================
// Documents
// =============================================================================

func TestDocumentLifecycle(t *testing.T) {
	h := newHarness(t, testConfig(t), nil)

	rec := h.do(http.MethodPost, "/api/documents", "u-editor", document.NewDocument{ID: "doc-1", Title: "Alpha"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, `"1"`, rec.Header().Get("ETag"))
	assert.Equal(t, "/api/documents/doc-1", rec.Header().Get("Location"))

	rec = h.do(http.MethodGet, "/api/documents/doc-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Alpha", decode[document.Document](t, rec).Title)

	rec = h.do(http.MethodPatch, "/api/documents/doc-1", "u-editor", map[string]any{"title": "Alpha v2"}, "If-Match", `"1"`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, `"2"`, rec.Header().Get("ETag"))

	rec = h.do(http.MethodPost, "/api/documents/doc-1/children", "u-editor", map[string]any{
		"mark":             map[string]any{"id": "m1", "person_id": "p1", "value": 4},
		"expected_version": 2,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	doc := decode[document.Document](t, rec)
	assert.Equal(t, 3, doc.Version)
	require.Len(t, doc.Marks, 1)

	rec = h.do(http.MethodPut, "/api/documents/doc-1/children", "u-editor", map[string]any{
		"stages":           []map[string]any{{"id": "s1", "name": "Review", "position": 1}},
		"expected_version": 3,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	doc = decode[document.Document](t, rec)
	assert.Equal(t, 4, doc.Version)
	assert.Len(t, doc.Marks, 1)
	assert.Len(t, doc.Stages, 1)

	rec = h.do(http.MethodPost, "/api/documents/doc-1/sign", "u-editor", nil, "If-Match", `W/"4"`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	doc = decode[document.Document](t, rec)
	assert.Equal(t, document.StatusSigned, doc.Status)
	assert.Equal(t, "u-editor", doc.SignedBy)

	rec = h.do(http.MethodPatch, "/api/documents/doc-1", "u-editor", map[string]any{"title": "late"}, "If-Match", `"5"`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "DOC002", errorCode(t, rec))

	rec = h.do(http.MethodGet, "/api/documents/doc-1/audit?limit=10", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	trail := decode[web.AuditResponse](t, rec)
	require.Len(t, trail.Events, 5)
	assert.Equal(t, audit.ActionSign, trail.Events[0].Action)
	assert.Equal(t, audit.ActionCreate, trail.Events[4].Action)
}

func TestDocumentErrors(t *testing.T) {
	h := newHarness(t, testConfig(t), nil)
	_, err := h.docs.Create(context.Background(), document.NewDocument{ID: "doc-1", Title: "Alpha"}, actors["u-editor"])
	require.NoError(t, err)

	tests := []struct {
		name     string
		method   string
		path     string
		actor    string
		body     any
		headers  []string
		wantCode int
		wantErr  string
	}{
		{"missing document", http.MethodGet, "/api/documents/ghost", "", nil, nil, http.StatusNotFound, "DOC003"},
		{"stale version", http.MethodPatch, "/api/documents/doc-1", "u-editor", map[string]any{"title": "x"}, []string{"If-Match", `"7"`}, http.StatusConflict, "DOC001"},
		{"no version", http.MethodPatch, "/api/documents/doc-1", "u-editor", map[string]any{"title": "x"}, nil, http.StatusBadRequest, "VAL001"},
		{"bad if-match", http.MethodPatch, "/api/documents/doc-1", "u-editor", map[string]any{"title": "x"}, []string{"If-Match", "abc"}, http.StatusBadRequest, "VAL001"},
		{"unknown field", http.MethodPatch, "/api/documents/doc-1", "u-editor", map[string]any{"titel": "x", "expected_version": 1}, nil, http.StatusBadRequest, "VAL001"},
		{"viewer", http.MethodPatch, "/api/documents/doc-1", "u-viewer", map[string]any{"title": "x"}, []string{"If-Match", `"1"`}, http.StatusForbidden, "DOC002"},
		{"no actor", http.MethodPost, "/api/documents", "", map[string]any{"title": "x"}, nil, http.StatusForbidden, "DOC002"},
		{"unknown actor", http.MethodGet, "/api/documents/doc-1", "u-ghost", nil, nil, http.StatusForbidden, "DOC002"},
		{"empty title", http.MethodPost, "/api/documents", "u-editor", map[string]any{"title": ""}, nil, http.StatusBadRequest, "VAL001"},
		{"duplicate id", http.MethodPost, "/api/documents", "u-editor", map[string]any{"id": "doc-1", "title": "again"}, nil, http.StatusConflict, "DB001"},
		{"child without kind", http.MethodPost, "/api/documents/doc-1/children", "u-editor", map[string]any{"expected_version": 1}, nil, http.StatusBadRequest, "VAL001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(tt.method, tt.path, tt.actor, tt.body, tt.headers...)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantErr, errorCode(t, rec))
		})
	}

	doc, err := h.docs.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Version)
	assert.Equal(t, "Alpha", doc.Title)
}

func TestDeleteDocument(t *testing.T) {
	h := newHarness(t, testConfig(t), nil)
	_, err := h.docs.Create(context.Background(), document.NewDocument{ID: "doc-1", Title: "Alpha"}, actors["u-editor"])
	require.NoError(t, err)

	rec := h.do(http.MethodDelete, "/api/documents/doc-1?expected_version=2", "u-editor", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(http.MethodDelete, "/api/documents/doc-1?expected_version=1", "u-editor", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(http.MethodGet, "/api/documents/doc-1", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodGet, "/api/documents/doc-1/audit", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[web.AuditResponse](t, rec).Events, 2)
}

// =============================================================================
// Exchange
// =============================================================================

func TestExportImportOverHTTP(t *testing.T) {
	src := newHarness(t, testConfig(t), nil)
	_, err := src.docs.Create(context.Background(), document.NewDocument{ID: "doc-1", Number: "A-1", Title: "Alpha"}, actors["u-editor"])
	require.NoError(t, err)

	rec := src.do(http.MethodPost, "/api/export", "u-editor", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Len(t, rec.Header().Get("X-Archive-SHA256"), 64)

	archive := rec.Body.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "manifest.json")
	assert.Contains(t, names, "sheets/documents.csv")

	dst := newHarness(t, testConfig(t), nil)
	req := uploadRequest(t, "/api/import?mode=merge", archive)
	rec = httptest.NewRecorder()
	dst.srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	summary := decode[exchange.Summary](t, rec)
	assert.Equal(t, exchange.ModeMerge, summary.Mode)
	assert.Equal(t, 1, summary.Entities[catalog.Documents].Added)
	assert.Empty(t, summary.Errors)
	assert.Empty(t, summary.ErrorLogPath)

	doc, err := dst.docs.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", doc.Title)

	// HTMX callers get the summary fragment.
	req = uploadRequest(t, "/api/import?mode=append", archive)
	req.Header.Set("HX-Request", "true")
	rec = httptest.NewRecorder()
	dst.srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), `class="import-summary"`)
}

func TestExportDocumentOverHTTP(t *testing.T) {
	h := newHarness(t, testConfig(t), nil)
	_, err := h.docs.Create(context.Background(), document.NewDocument{ID: "doc-1", Title: "Alpha"}, actors["u-editor"])
	require.NoError(t, err)

	rec := h.do(http.MethodGet, "/api/export/documents/doc-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "document_doc-1.zip")

	rec = h.do(http.MethodGet, "/api/export/documents/ghost", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImportRejections(t *testing.T) {
	h := newHarness(t, testConfig(t), nil)

	var noManifest bytes.Buffer
	zw := zip.NewWriter(&noManifest)
	w, err := zw.Create("sheets/people.csv")
	require.NoError(t, err)
	_, err = w.Write([]byte("id,full_name\np1,Ann\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	tests := []struct {
		name     string
		path     string
		archive  []byte
		wantCode int
		wantErr  string
	}{
		{"invalid mode", "/api/import?mode=replace", noManifest.Bytes(), http.StatusBadRequest, "VAL001"},
		{"missing manifest", "/api/import", noManifest.Bytes(), http.StatusUnprocessableEntity, "ARC002"},
		{"not a zip", "/api/import", []byte("plain text"), http.StatusUnprocessableEntity, "ARC005"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.srv.Router().ServeHTTP(rec, uploadRequest(t, tt.path, tt.archive))
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantErr, errorCode(t, rec))
		})
	}

	t.Run("no file", func(t *testing.T) {
		rec := h.do(http.MethodPost, "/api/import", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("htmx error fragment", func(t *testing.T) {
		req := uploadRequest(t, "/api/import", []byte("plain text"))
		req.Header.Set("HX-Request", "true")
		rec := httptest.NewRecorder()
		h.srv.Router().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, rec.Body.String(), "Code: ARC005")
	})
}

// =============================================================================
// Access control
// =============================================================================

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig(t)
	cfg.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1"}}
	h := newHarness(t, cfg, nil)

	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/api/documents/x", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, "/api/documents/x", "", nil, "X-API-Key", "nope").Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/documents/x", "", nil, "X-API-Key", "k1").Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/health", "", nil).Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2, ExchangeLimit: 1}
	h := newHarness(t, cfg, nil)

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/health", "", nil).Code)

	rec := h.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}
