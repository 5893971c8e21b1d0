package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/carbex/carbex/internal/domain"
	"github.com/carbex/carbex/internal/service"
)

// AuthService defines the methods the auth handler requires from the
// service layer.
type AuthService interface {
	Register(ctx context.Context, p service.RegisterParams) (domain.User, error)
	Login(ctx context.Context, email, password string) (domain.Session, domain.User, error)
	Logout(ctx context.Context, p domain.Principal) error
}

// ProfileReader loads the full account behind a principal for the
// session endpoint.
type ProfileReader interface {
	Profile(ctx context.Context, userID string) (domain.User, error)
}

// AuthHandler serves registration, login, and session endpoints.
type AuthHandler struct {
	auth   AuthService
	users  ProfileReader
	logger *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(auth AuthService, users ProfileReader, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:   auth,
		users:  users,
		logger: logger,
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Company  string `json:"company"`
}

// Register creates a new account.
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	u, err := h.auth.Register(r.Context(), service.RegisterParams{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
		Company:  req.Company,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err, "registration failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"user": u})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      domain.User `json:"user"`
}

// Login exchanges credentials for a session token.
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	sess, u, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt,
		User:      u,
	})
}

// Logout revokes the current session.
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	if err := h.auth.Logout(r.Context(), p); err != nil {
		writeServiceError(w, r, h.logger, err, "logout failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// Session returns the account behind the current token, so the SPA
// can restore state after a reload.
// GET /api/auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	u, err := h.users.Profile(r.Context(), p.UserID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "session lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}
