package web

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/recordkeeper/internal/document"
	"github.com/JonMunkholm/recordkeeper/internal/errmsg"
)

// updateRequest is a header patch plus the optional body version.
type updateRequest struct {
	document.Patch
	ExpectedVersion *int `json:"expected_version,omitempty"`
}

type childrenRequest struct {
	document.Children
	ExpectedVersion *int `json:"expected_version,omitempty"`
}

type childRequest struct {
	document.Child
	ExpectedVersion *int `json:"expected_version,omitempty"`
}

type versionRequest struct {
	ExpectedVersion *int `json:"expected_version,omitempty"`
}

// handleCreateDocument creates a DRAFT document at version 1.
func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var in document.NewDocument
	if err := decodeJSON(w, r, &in, false); err != nil {
		s.respondError(w, r, err)
		return
	}

	doc, err := s.deps.Documents.Create(r.Context(), in, actorFrom(r.Context()))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/documents/"+doc.ID)
	writeDocument(w, http.StatusCreated, doc)
}

// handleUpdateDocument applies a partial header update.
func (s *Server) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		s.respondError(w, r, err)
		return
	}
	expected, err := expectedVersion(r, req.ExpectedVersion)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	doc, err := s.deps.Documents.Update(r.Context(), chi.URLParam(r, "id"), req.Patch, expected, actorFrom(r.Context()))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeDocument(w, http.StatusOK, doc)
}

// handleReplaceChildren replaces marks and/or stages wholesale.
func (s *Server) handleReplaceChildren(w http.ResponseWriter, r *http.Request) {
	var req childrenRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		s.respondError(w, r, err)
		return
	}
	expected, err := expectedVersion(r, req.ExpectedVersion)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	doc, err := s.deps.Documents.ReplaceChildren(r.Context(), chi.URLParam(r, "id"), req.Children, expected, actorFrom(r.Context()))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeDocument(w, http.StatusOK, doc)
}

// handleAddChild appends one mark or stage.
func (s *Server) handleAddChild(w http.ResponseWriter, r *http.Request) {
	var req childRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		s.respondError(w, r, err)
		return
	}
	if (req.Mark == nil) == (req.Stage == nil) {
		s.respondError(w, r, fmt.Errorf("%w: exactly one of mark or stage is required", errmsg.ErrBadRequest))
		return
	}
	expected, err := expectedVersion(r, req.ExpectedVersion)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	doc, err := s.deps.Documents.AddChild(r.Context(), chi.URLParam(r, "id"), req.Child, expected, actorFrom(r.Context()))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeDocument(w, http.StatusCreated, doc)
}

// handleSignDocument moves a DRAFT document to SIGNED.
func (s *Server) handleSignDocument(w http.ResponseWriter, r *http.Request) {
	var req versionRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		s.respondError(w, r, err)
		return
	}
	expected, err := expectedVersion(r, req.ExpectedVersion)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	doc, err := s.deps.Documents.Sign(r.Context(), chi.URLParam(r, "id"), expected, actorFrom(r.Context()))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeDocument(w, http.StatusOK, doc)
}

// handleDeleteDocument deletes a DRAFT document.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	fallback, err := queryVersion(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	expected, err := expectedVersion(r, fallback)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if err := s.deps.Documents.Delete(r.Context(), chi.URLParam(r, "id"), expected, actorFrom(r.Context())); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
