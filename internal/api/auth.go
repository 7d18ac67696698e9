package api

import (
	"errors"
	"log/slog"
	"net/http"

	"saferoute/pkg/apisession"
	"saferoute/pkg/auth"
	"saferoute/pkg/session"
)

// AuthHandler exposes the identity provider.
type AuthHandler struct {
	provider auth.Provider
	sessions *apisession.Store[session.Machine]
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(p auth.Provider, sessions *apisession.Store[session.Machine]) *AuthHandler {
	return &AuthHandler{provider: p, sessions: sessions}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleSignUp creates an account and returns its first credential.
// POST /api/auth/signup
func (h *AuthHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if err := decodeBody(w, r, &c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s, err := h.provider.SignUp(r.Context(), c.Email, c.Password)
	if err != nil {
		slog.Info("Sign-up rejected", "provider", h.provider.Name(), "error", err)
		writeError(w, http.StatusBadRequest, auth.CleanMessage(err))
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

// HandleSignIn exchanges credentials for a bearer token.
// POST /api/auth/signin
func (h *AuthHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if err := decodeBody(w, r, &c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s, err := h.provider.SignIn(r.Context(), c.Email, c.Password)
	if err != nil {
		slog.Info("Sign-in rejected", "provider", h.provider.Name(), "error", err)
		status := http.StatusUnauthorized
		var ae *auth.Error
		if !errors.As(err, &ae) {
			status = http.StatusInternalServerError
		}
		writeError(w, status, auth.CleanMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// HandleSignOut revokes the token and discards its session.
// POST /api/auth/signout
func (h *AuthHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	token, err := auth.ExtractBearer(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err := h.provider.SignOut(r.Context(), token); err != nil {
		writeError(w, http.StatusInternalServerError, auth.CleanMessage(err))
		return
	}
	h.sessions.Delete(token)
	w.WriteHeader(http.StatusNoContent)
}
