// Package handler contains the HTTP request handlers.
//
// HANDLER RESPONSIBILITIES:
// 1. Parse the incoming HTTP request (path and query params, JSON or form body, uploads)
// 2. Call the service layer
// 3. Write the HTTP response (status code, headers, body)
//
// Handlers contain no business logic. They depend on small interfaces that
// the service types satisfy, so tests can swap in mocks.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/notesfy/internal/auth"
	"github.com/sakif/notesfy/internal/model"
	"github.com/sakif/notesfy/internal/service"
)

// AccountService is what AccountHandler needs from the service layer.
// *service.AccountService implements it; tests pass a mock.
type AccountService interface {
	Register(ctx context.Context, username, email, password string) (*model.User, error)
	Login(ctx context.Context, username, password string) (*service.AuthResult, error)
	GetUser(ctx context.Context, id string) (*model.User, error)
	UpdateProfileImage(ctx context.Context, userID string, data []byte) (*model.User, error)
}

// AccountHandler manages registration, login and profiles.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister      → create an account
//   - HandleLogin         → check credentials, issue JWT (body and cookie)
//   - HandleLogout        → clear the JWT cookie
//   - HandleMe            → the logged-in user's profile
//   - HandleGetUser       → any user's public profile
//   - HandleProfileUpdate → replace the logged-in user's profile image
type AccountHandler struct {
	accounts     AccountService
	tokenTTL     time.Duration
	secureCookie bool
	logger       *slog.Logger
}

// NewAccountHandler creates an AccountHandler. tokenTTL sets the session
// cookie's lifetime; secureCookie marks it HTTPS-only.
func NewAccountHandler(accounts AccountService, tokenTTL time.Duration, secureCookie bool, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		accounts:     accounts,
		tokenTTL:     tokenTTL,
		secureCookie: secureCookie,
		logger:       logger,
	}
}

// HandleRegister creates an account.
//
// HTTP: POST / and POST /register
// REQUEST BODY: {"username": "...", "email": "...", "password": "..."}
// RESPONSE: 201 {"newUser": {...}}
func (h *AccountHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	fields, err := readFields(w, r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	user, err := h.accounts.Register(r.Context(), fields["username"], fields["email"], fields["password"])
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"newUser": user})
}

// HandleLogin checks credentials and issues a session.
//
// HTTP: POST /login
// REQUEST BODY: {"username": "...", "password": "..."}
// RESPONSE: {"user": {...}, "token": "..."}
//
// The token is returned in the body for API clients and set as an HttpOnly
// cookie for the browser. HttpOnly keeps it out of reach of JavaScript;
// SameSite=Lax keeps it off cross-site POSTs.
func (h *AccountHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	fields, err := readFields(w, r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	result, err := h.accounts.Login(r.Context(), fields["username"], fields["password"])
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    result.Token,
		Path:     "/",
		MaxAge:   int(h.tokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"user":  result.User,
		"token": result.Token,
	})
}

// HandleLogout clears the JWT cookie.
//
// HTTP: POST /logout
//
// We're stateless (JWT), so logging out only deletes the client-side
// cookie. The token stays valid until it expires.
func (h *AccountHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1, // tells the browser to delete the cookie immediately
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleMe returns the currently authenticated user's profile.
//
// HTTP: GET /me
// Auth: Required
func (h *AccountHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	user, err := h.accounts.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleGetUser returns a user's profile, including their post ids and
// ledger.
//
// HTTP: GET /getuser/{userId}
func (h *AccountHandler) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.accounts.GetUser(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleProfileUpdate replaces the authenticated user's profile image.
//
// HTTP: POST /profileUpdate (multipart, file field "profileImg")
// Auth: Required
// RESPONSE: {"profile": "<public image URL>"}
func (h *AccountHandler) HandleProfileUpdate(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	data, err := readUpload(w, r, "profileImg", service.MaxImageBytes)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	user, err := h.accounts.UpdateProfileImage(r.Context(), userID, data)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"profile": user.Profile})
}
