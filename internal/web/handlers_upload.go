package web

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/recordkeeper/internal/errmsg"
	"github.com/JonMunkholm/recordkeeper/internal/exchange"
	"github.com/JonMunkholm/recordkeeper/internal/logging"
	"github.com/JonMunkholm/recordkeeper/internal/web/views"
)

// handleImport imports an uploaded archive. The multipart field "file" holds
// the zip and ?mode= selects merge or append (default from config).
//
// Row errors are part of the summary; the companion error log is written
// into the request's scratch directory and discarded with it, so the
// response omits its path.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	rawMode := r.URL.Query().Get("mode")
	if rawMode == "" {
		rawMode = s.cfg.Exchange.DefaultMode
	}
	mode, err := exchange.ParseMode(rawMode)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	maxSize := s.cfg.Server.MaxUploadSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: file too large or invalid form: %v", errmsg.ErrBadRequest, err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: no file provided", errmsg.ErrBadRequest))
		return
	}
	defer file.Close()

	dir, err := s.scratchDir("recordkeeper-upload-*")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer removeScratch(r, dir)

	source := filepath.Join(dir, uploadName(header.Filename))
	if err := saveUpload(source, file); err != nil {
		s.respondError(w, r, err)
		return
	}

	logging.WithFields(r.Context(), "op", "import", "archive", header.Filename, "mode", mode).
		Info("import requested", "size", header.Size)

	summary, err := s.deps.Exchange.Import(r.Context(), source, mode)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	summary.ErrorLogPath = ""

	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := views.ImportSummary(summary).Render(r.Context(), w); err != nil {
			logging.FromContext(r.Context()).Error("render import summary", "error", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// uploadName keeps the client's base name so logs stay readable, and falls
// back to a fixed name for anything unusable.
func uploadName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" || name == "" || strings.HasPrefix(name, ".") {
		return "upload.zip"
	}
	return name
}

func saveUpload(path string, src io.Reader) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save upload: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("save upload: %w", cerr)
		}
	}()
	if _, err := io.Copy(f, src); err != nil {
		return fmt.Errorf("save upload: %w", err)
	}
	return nil
}
