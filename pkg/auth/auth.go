// Package auth defines the identity provider contract and the bearer
// credential helpers used by the HTTP API.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

var (
	ErrMissingBearer = errors.New("missing bearer token")
	ErrInvalidToken  = errors.New("invalid token")
)

// fallbackMessage is shown when a provider error has no usable text.
const fallbackMessage = "Authentication failed."

// Session is an issued credential.
type Session struct {
	Token    string    `json:"token"`
	UserID   string    `json:"user_id"`
	Email    string    `json:"email"`
	IssuedAt time.Time `json:"issued_at"`
}

// Provider is an identity provider. Implementations are injected at startup.
type Provider interface {
	Name() string
	SignUp(ctx context.Context, email, password string) (*Session, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context, token string) error
	Validate(ctx context.Context, token string) (*Session, error)
}

// Error is a provider failure. Its text carries the provider name as a
// prefix, e.g. "saferoute: Error (auth/invalid-credential).".
type Error struct {
	Provider string
	Code     string
	Message  string
}

func (e *Error) Error() string {
	if e.Provider == "" {
		return e.Message
	}
	return e.Provider + ": " + e.Message
}

// CleanMessage returns the user-facing text of an auth failure with the
// provider prefix removed.
func CleanMessage(err error) string {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		if msg := strings.TrimSpace(ae.Message); msg != "" {
			return msg
		}
		return fallbackMessage
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return fallbackMessage
}

// ExtractBearer reads the token from an "Authorization: Bearer <token>" header.
func ExtractBearer(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", ErrMissingBearer
	}
	if !strings.HasPrefix(h, "Bearer ") {
		return "", ErrInvalidToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	if token == "" {
		return "", ErrInvalidToken
	}
	return token, nil
}
