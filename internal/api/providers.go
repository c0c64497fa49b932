package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/nugget/apiconsole/internal/command"
)

// providerResponse writes the {success, data, meta} envelope, stamping
// meta with the response time.
func (s *Server) providerResponse(w http.ResponseWriter, data any, meta map[string]any) {
	meta["timestamp"] = s.now().UTC().Format(time.RFC3339Nano)
	s.ok(w, map[string]any{"success": true, "data": data, "meta": meta})
}

// handleWeather returns current conditions for ?city=, default berlin.
// GET /api/v1/provider/weather
func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	city := r.URL.Query().Get("city")
	if city == "" {
		city = command.DefaultCity
	}
	if strings.TrimSpace(city) == "" {
		s.errorResponse(w, http.StatusBadRequest, "Valid city name is required")
		return
	}

	result, err := s.deps.Weather.Get(r.Context(), strings.TrimSpace(city))
	if err != nil {
		s.failure(w, r, err, "Failed to get weather data")
		return
	}
	s.providerResponse(w, result, map[string]any{
		"provider":      "open-meteo",
		"requestedCity": city,
	})
}

// handleCatFact returns a random cat fact.
// GET /api/v1/provider/catfact
func (s *Server) handleCatFact(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Facts.Fact(r.Context())
	if err != nil {
		s.failure(w, r, err, "Failed to get cat fact")
		return
	}
	s.providerResponse(w, result, map[string]any{"provider": "catfact.ninja"})
}

// handleGitHub searches GitHub users matching ?q=.
// GET /api/v1/provider/github
func (s *Server) handleGitHub(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		s.errorResponse(w, http.StatusBadRequest, "Search query is required")
		return
	}

	users, err := s.deps.Users.SearchUsers(r.Context(), strings.TrimSpace(query))
	if err != nil {
		s.failure(w, r, err, "Failed to search GitHub users")
		return
	}
	s.providerResponse(w, users, map[string]any{
		"provider":    "github",
		"searchQuery": query,
		"resultCount": len(users),
	})
}

// handleChuck returns a random joke, or jokes matching ?search=.
// GET /api/v1/provider/chuck
func (s *Server) handleChuck(w http.ResponseWriter, r *http.Request) {
	search := r.URL.Query().Get("search")
	result, err := s.deps.Jokes.Joke(r.Context(), search)
	if err != nil {
		s.failure(w, r, err, "Failed to get Chuck Norris joke")
		return
	}

	var term any
	if search != "" {
		term = search
	}
	s.providerResponse(w, result, map[string]any{
		"provider":   "chucknorris.io",
		"searchTerm": term,
	})
}

// handleActivity returns an activity suggestion.
// GET /api/v1/provider/activity
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Activities.Activity(r.Context())
	if err != nil {
		s.failure(w, r, err, "Failed to get activity")
		return
	}
	s.providerResponse(w, result, map[string]any{"provider": "boredapi.com"})
}
