// Package api implements the console's HTTP surface: account routes,
// per-user preferences and history, direct provider routes, and the
// WebSocket mount.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/apiconsole/internal/apperr"
	"github.com/nugget/apiconsole/internal/auth"
	"github.com/nugget/apiconsole/internal/buildinfo"
	"github.com/nugget/apiconsole/internal/dispatch"
	"github.com/nugget/apiconsole/internal/events"
	"github.com/nugget/apiconsole/internal/history"
	"github.com/nugget/apiconsole/internal/preferences"
)

// Verifier turns a bearer credential into an identity.
type Verifier interface {
	Verify(token string) (auth.Identity, error)
}

// Accounts is the identity lifecycle behind /api/auth.
type Accounts interface {
	SignUp(ctx context.Context, email, password, name string) (auth.SignUpResult, error)
	Confirm(ctx context.Context, email, code string) error
	SignIn(ctx context.Context, email, password string) (auth.Tokens, error)
	Refresh(ctx context.Context, refreshToken, email string) (auth.Tokens, error)
}

// PreferenceStore reads and replaces preference records.
type PreferenceStore interface {
	Get(ctx context.Context, userID string) (preferences.Preferences, error)
	Save(ctx context.Context, userID string, p preferences.Preferences) (preferences.Preferences, error)
}

// HistoryStore is the per-user search history.
type HistoryStore interface {
	Add(ctx context.Context, userID, query, api string, ts time.Time) (history.Entry, error)
	List(ctx context.Context, userID string) ([]history.Entry, error)
	Delete(ctx context.Context, userID, id string) (bool, error)
}

// StatsSource reports live counters.
type StatsSource interface {
	Snapshot() events.Snapshot
}

// SessionCounter reports live WebSocket state.
type SessionCounter interface {
	Sessions() int
	BoundUsers() int
}

// Deps are the server's collaborators. Nil optional fields disable
// their routes with 503.
type Deps struct {
	Verifier    Verifier
	Accounts    Accounts
	HostedUI    auth.HostedURLs
	Preferences PreferenceStore
	History     HistoryStore

	Weather    dispatch.WeatherGetter
	Facts      dispatch.FactGetter
	Jokes      dispatch.JokeGetter
	Activities dispatch.ActivityGetter
	Users      dispatch.UserSearcher

	Stats     StatsSource
	Sessions  SessionCounter
	WebSocket http.Handler
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address    string
	port       int
	corsOrigin string
	deps       Deps
	logger     *slog.Logger
	server     *http.Server
	now        func() time.Time
}

// NewServer creates a new API server.
func NewServer(address string, port int, corsOrigin string, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:    address,
		port:       port,
		corsOrigin: corsOrigin,
		deps:       deps,
		logger:     logger,
		now:        time.Now,
	}
}

// Handler returns the fully wrapped route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Identity lifecycle
	mux.HandleFunc("POST /api/auth/signup", s.handleSignUp)
	mux.HandleFunc("POST /api/auth/confirm", s.handleConfirm)
	mux.HandleFunc("POST /api/auth/signin", s.handleSignIn)
	mux.HandleFunc("POST /api/auth/refresh", s.handleRefresh)
	mux.Handle("GET /api/auth/me", s.requireAuth(s.handleMe))
	mux.HandleFunc("GET /api/auth/urls", s.handleURLs)

	// User
	mux.Handle("GET /api/v1/user/preferences", s.requireAuth(s.handleGetPreferences))
	mux.Handle("POST /api/v1/user/preferences", s.requireAuth(s.handleSavePreferences))
	mux.Handle("GET /api/v1/user/profile", s.requireAuth(s.handleProfile))

	// Search history
	mux.Handle("GET /api/v1/search/searches/history", s.requireAuth(s.handleHistoryList))
	mux.Handle("POST /api/v1/search/searches", s.requireAuth(s.handleHistoryAdd))
	mux.Handle("DELETE /api/v1/search/searches/{id}", s.requireAuth(s.handleHistoryDelete))

	// Direct provider access
	mux.Handle("GET /api/v1/provider/weather", s.requireAuth(s.handleWeather))
	mux.Handle("GET /api/v1/provider/catfact", s.requireAuth(s.handleCatFact))
	mux.Handle("GET /api/v1/provider/github", s.requireAuth(s.handleGitHub))
	mux.Handle("GET /api/v1/provider/chuck", s.requireAuth(s.handleChuck))
	mux.Handle("GET /api/v1/provider/activity", s.requireAuth(s.handleActivity))

	mux.Handle("GET /api/v1/stats", s.requireAuth(s.handleStats))
	mux.Handle("GET /api/v1/version", s.requireAuth(s.handleVersion))

	if s.deps.WebSocket != nil {
		mux.Handle("GET /api/v1/ws", s.deps.WebSocket)
	}

	return s.withCORS(s.withLogging(mux))
}

// Start begins serving HTTP requests. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.address, strconv.Itoa(s.port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// statusRecorder captures the status code for request logging. It
// forwards Hijack so the WebSocket upgrade still works through it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.corsOrigin != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", s.corsOrigin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth verifies the bearer credential and stores the identity
// in the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			s.plainError(w, http.StatusUnauthorized, "No token provided")
			return
		}
		if s.deps.Verifier == nil {
			s.plainError(w, http.StatusServiceUnavailable, "authentication not configured")
			return
		}
		id, err := s.deps.Verifier.Verify(token)
		if err != nil {
			s.logger.Debug("token verification failed", "path", r.URL.Path, "error", err)
			s.plainError(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

// identity returns the caller stored by requireAuth.
func identity(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

// errorResponse writes the {success:false, error} envelope.
func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{"success": false, "error": message}, s.logger)
}

// plainError writes the bare {error} body used by the auth gate and
// the history routes.
func (s *Server) plainError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]string{"error": message}, s.logger)
}

// failure maps err through the error taxonomy. Internal errors are
// logged and replaced with fallback so their text never reaches the
// client.
func (s *Server) failure(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	code := apperr.HTTPStatus(err)
	msg := err.Error()
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		msg = fallback
	}
	s.errorResponse(w, code, msg)
}

func (s *Server) ok(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, v, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.ok(w, map[string]any{
		"success":   true,
		"message":   "API routes are healthy",
		"timestamp": s.now().UTC().Format(time.RFC3339Nano),
		"availableEndpoints": map[string]string{
			"user":      "/api/v1/user/*",
			"searches":  "/api/v1/search/*",
			"providers": "/api/v1/provider/*",
		},
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.ok(w, buildinfo.Info())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stats == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "stats not configured")
		return
	}
	snap := s.deps.Stats.Snapshot()
	if s.deps.Sessions != nil {
		snap.LiveConnections = s.deps.Sessions.Sessions()
		snap.BoundUsers = s.deps.Sessions.BoundUsers()
	}
	s.ok(w, map[string]any{"success": true, "data": snap})
}

// decodeBody reads a JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}
