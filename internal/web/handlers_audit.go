package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/recordkeeper/internal/audit"
	"github.com/JonMunkholm/recordkeeper/internal/document"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// AuditResponse is a page of a document's audit trail, newest first.
type AuditResponse struct {
	EntityType string        `json:"entity_type"`
	EntityID   string        `json:"entity_id"`
	Events     []audit.Event `json:"events"`
}

// handleDocumentAudit lists audit events for a document. ?limit= caps the
// page (default 50, max 500). The trail outlives the document, so a deleted
// document still has one.
func (s *Server) handleDocumentAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := min(parseIntParam(r, "limit", defaultAuditLimit), maxAuditLimit)

	events, err := s.deps.Audit.ListByEntity(r.Context(), document.EntityType, id, limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, AuditResponse{EntityType: document.EntityType, EntityID: id, Events: events})
}
