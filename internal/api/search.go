package api

import (
	"net/http"
	"strings"
)

// The history routes answer with bare values and {error} bodies rather
// than the success envelope.

// handleHistoryList returns the caller's most recent searches.
// GET /api/v1/search/searches/history
func (s *Server) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		s.plainError(w, http.StatusServiceUnavailable, "history not configured")
		return
	}
	entries, err := s.deps.History.List(r.Context(), identity(r).ID)
	if err != nil {
		s.logger.Error("list history failed", "user_id", identity(r).ID, "error", err)
		s.plainError(w, http.StatusInternalServerError, "Failed to get search history")
		return
	}
	s.ok(w, entries)
}

// handleHistoryAdd records a search for the caller. The owner always
// comes from the credential, never the body.
// POST /api/v1/search/searches {"query", "api"}
func (s *Server) handleHistoryAdd(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		s.plainError(w, http.StatusServiceUnavailable, "history not configured")
		return
	}
	var req struct {
		Query string `json:"query"`
		API   string `json:"api"`
	}
	if err := decodeBody(r, &req); err != nil ||
		strings.TrimSpace(req.Query) == "" || strings.TrimSpace(req.API) == "" {
		s.plainError(w, http.StatusBadRequest, "Query and api are required")
		return
	}

	entry, err := s.deps.History.Add(r.Context(), identity(r).ID, req.Query, req.API, s.now())
	if err != nil {
		s.logger.Error("add history failed", "user_id", identity(r).ID, "error", err)
		s.plainError(w, http.StatusInternalServerError, "Failed to save search")
		return
	}
	s.ok(w, entry)
}

// handleHistoryDelete removes one of the caller's entries. Entries that
// do not exist and entries owned by someone else are both 404.
// DELETE /api/v1/search/searches/{id}
func (s *Server) handleHistoryDelete(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		s.plainError(w, http.StatusServiceUnavailable, "history not configured")
		return
	}
	deleted, err := s.deps.History.Delete(r.Context(), identity(r).ID, r.PathValue("id"))
	if err != nil {
		s.logger.Error("delete history failed", "user_id", identity(r).ID, "error", err)
		s.plainError(w, http.StatusInternalServerError, "Failed to delete search")
		return
	}
	if !deleted {
		s.plainError(w, http.StatusNotFound, "Search entry not found")
		return
	}
	s.ok(w, map[string]bool{"success": true})
}
