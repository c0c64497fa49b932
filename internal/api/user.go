package api

import (
	"net/http"

	"github.com/nugget/apiconsole/internal/apperr"
	"github.com/nugget/apiconsole/internal/preferences"
)

// handleGetPreferences returns the caller's preferences, or defaults.
// GET /api/v1/user/preferences
func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	if s.deps.Preferences == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "preferences not configured")
		return
	}
	prefs, err := s.deps.Preferences.Get(r.Context(), identity(r).ID)
	if err != nil {
		s.failure(w, r, err, "Failed to get user preferences")
		return
	}
	s.ok(w, map[string]any{"success": true, "data": prefs})
}

// handleSavePreferences replaces the caller's whole preference record.
// POST /api/v1/user/preferences {"theme", "activeAPIs", "notifications"}
func (s *Server) handleSavePreferences(w http.ResponseWriter, r *http.Request) {
	if s.deps.Preferences == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "preferences not configured")
		return
	}
	prefs, err := preferences.Decode(r.Body)
	if err != nil {
		s.failure(w, r, err, "Invalid preferences format")
		return
	}

	saved, err := s.deps.Preferences.Save(r.Context(), identity(r).ID, prefs)
	if err != nil {
		if apperr.Is(err, apperr.KindValidation) {
			s.failure(w, r, err, "Invalid preferences format")
			return
		}
		s.logger.Error("save preferences failed", "user_id", identity(r).ID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "Failed to save user preferences")
		return
	}
	s.ok(w, map[string]any{
		"success": true,
		"data":    saved,
		"message": "Preferences saved successfully",
	})
}

// handleProfile returns the caller's id, email, and name.
// GET /api/v1/user/profile
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	s.ok(w, map[string]any{
		"success": true,
		"data": map[string]string{
			"id":    id.ID,
			"email": id.Email,
			"name":  id.Name,
		},
	})
}
