package web

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/recordkeeper/internal/exchange"
	"github.com/JonMunkholm/recordkeeper/internal/logging"
)

// handleExport writes an archive of the requested scope and streams it back
// as a download. The body is an optional exchange.Scope.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var scope exchange.Scope
	if err := decodeJSON(w, r, &scope, true); err != nil {
		s.respondError(w, r, err)
		return
	}
	if a := actorFrom(r.Context()); a.ID != "" && scope.ExportedBy == "" {
		scope.ExportedBy = a.ID
	}

	name := "export_" + time.Now().UTC().Format("20060102_150405") + ".zip"
	s.serveArchive(w, r, name, func(target string) (exchange.ExportResult, error) {
		return s.deps.Exchange.Export(r.Context(), target, scope)
	})
}

// handleExportDocument exports one document with its marks and stages.
func (s *Server) handleExportDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name := "document_" + filepath.Base(id) + ".zip"
	s.serveArchive(w, r, name, func(target string) (exchange.ExportResult, error) {
		return s.deps.Exchange.ExportDocument(r.Context(), target, id)
	})
}

// serveArchive runs export into a scratch directory, sends the file and
// removes the directory.
func (s *Server) serveArchive(w http.ResponseWriter, r *http.Request, name string, export func(target string) (exchange.ExportResult, error)) {
	dir, err := s.scratchDir("recordkeeper-export-*")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer removeScratch(r, dir)

	res, err := export(filepath.Join(dir, name))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	f, err := os.Open(res.Path)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("open archive: %w", err))
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("X-Archive-SHA256", res.SHA256)
	http.ServeContent(w, r, name, time.Time{}, f)
}

// scratchDir creates a per-request directory under the exchange scratch root.
func (s *Server) scratchDir(pattern string) (string, error) {
	root := s.cfg.Exchange.ScratchDir
	if root != "" {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return "", fmt.Errorf("create scratch root: %w", err)
		}
	}
	dir, err := os.MkdirTemp(root, pattern)
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	return dir, nil
}

func removeScratch(r *http.Request, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		logging.FromContext(r.Context()).Warn("remove scratch dir", "dir", dir, "error", err)
	}
}
