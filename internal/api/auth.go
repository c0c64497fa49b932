package api

import (
	"net/http"
	"strings"

	"github.com/nugget/apiconsole/internal/apperr"
)

func (s *Server) accountsReady(w http.ResponseWriter) bool {
	if s.deps.Accounts == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "accounts not configured")
		return false
	}
	return true
}

// handleSignUp creates an unconfirmed account.
// POST /api/auth/signup {"email", "password", "name"?}
func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	if !s.accountsReady(w) {
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil || req.Email == "" || req.Password == "" {
		s.errorResponse(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	res, err := s.deps.Accounts.SignUp(r.Context(), req.Email, req.Password, strings.TrimSpace(req.Name))
	if err != nil {
		s.failure(w, r, err, "Sign up failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]any{
		"success": true,
		"message": "User created successfully. Please check your email for verification code.",
		"data":    res,
	}, s.logger)
}

// handleConfirm confirms an account with its emailed code.
// POST /api/auth/confirm {"email", "confirmationCode"}
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if !s.accountsReady(w) {
		return
	}
	var req struct {
		Email            string `json:"email"`
		ConfirmationCode string `json:"confirmationCode"`
	}
	if err := decodeBody(r, &req); err != nil || req.Email == "" || req.ConfirmationCode == "" {
		s.errorResponse(w, http.StatusBadRequest, "Email and confirmation code are required")
		return
	}

	if err := s.deps.Accounts.Confirm(r.Context(), req.Email, req.ConfirmationCode); err != nil {
		s.failure(w, r, err, "Confirmation failed")
		return
	}
	s.ok(w, map[string]any{
		"success": true,
		"message": "Email confirmed successfully. You can now sign in.",
	})
}

// handleSignIn exchanges credentials for tokens. Every failure past
// input validation is a 401.
// POST /api/auth/signin {"email", "password"}
func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if !s.accountsReady(w) {
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil || req.Email == "" || req.Password == "" {
		s.errorResponse(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	tokens, err := s.deps.Accounts.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		s.signInFailure(w, r, err, "Sign in failed")
		return
	}
	s.ok(w, map[string]any{
		"success": true,
		"message": "Signed in successfully",
		"data":    tokens,
	})
}

// handleRefresh issues a new access token.
// POST /api/auth/refresh {"refreshToken", "email"}
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.accountsReady(w) {
		return
	}
	var req struct {
		RefreshToken string `json:"refreshToken"`
		Email        string `json:"email"`
	}
	if err := decodeBody(r, &req); err != nil || req.RefreshToken == "" || req.Email == "" {
		s.errorResponse(w, http.StatusBadRequest, "Refresh token and email are required")
		return
	}

	tokens, err := s.deps.Accounts.Refresh(r.Context(), req.RefreshToken, req.Email)
	if err != nil {
		s.signInFailure(w, r, err, "Token refresh failed")
		return
	}
	s.ok(w, map[string]any{
		"success": true,
		"message": "Token refreshed successfully",
		"data":    tokens,
	})
}

// signInFailure reports a credential exchange failure as 401 unless it
// was an internal fault.
func (s *Server) signInFailure(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	if apperr.HTTPStatus(err) >= http.StatusInternalServerError {
		s.failure(w, r, err, fallback)
		return
	}
	s.errorResponse(w, http.StatusUnauthorized, err.Error())
}

// handleMe returns the verified caller.
// GET /api/auth/me
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	s.ok(w, map[string]any{"success": true, "data": identity(r)})
}

// handleURLs returns the hosted login, logout, and signup pages.
// GET /api/auth/urls
func (s *Server) handleURLs(w http.ResponseWriter, r *http.Request) {
	s.ok(w, map[string]any{"success": true, "data": s.deps.HostedUI})
}
