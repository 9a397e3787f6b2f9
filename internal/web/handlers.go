package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/recordkeeper/internal/exchange"
	"github.com/JonMunkholm/recordkeeper/internal/logging"
)

// healthTimeout bounds the store ping.
const healthTimeout = 3 * time.Second

// HealthResponse reports store reachability and archive slot usage.
type HealthResponse struct {
	Status   string                  `json:"status"`
	Store    string                  `json:"store"`
	Exchange *exchange.LimiterStatus `json:"exchange,omitempty"`
}

// handleHealth returns 200 when the store answers and 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Store: "ok"}
	status := http.StatusOK

	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := s.deps.Store.Ping(ctx); err != nil {
			logging.FromContext(r.Context()).Error("health: store ping failed", "error", err)
			resp.Status = "unavailable"
			resp.Store = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	if s.deps.Exchange != nil {
		st := s.deps.Exchange.Limiter().Status()
		resp.Exchange = &st
	}

	writeJSON(w, status, resp)
}

// handleGetDocument returns a document with its children.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.deps.Documents.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeDocument(w, http.StatusOK, doc)
}
