package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// MemoryName is the provider name of the in-process identity store.
const MemoryName = "saferoute"

// minPasswordLength matches the usual hosted identity provider rule.
const minPasswordLength = 6

type account struct {
	id   string
	hash []byte
}

// Memory is an in-process identity provider. Accounts and sessions live
// only as long as the process.
type Memory struct {
	cost int

	mu       sync.RWMutex
	accounts map[string]account
	sessions map[string]Session
}

// NewMemory creates an empty provider. cost is the bcrypt cost; values
// outside bcrypt's range fall back to bcrypt.DefaultCost.
func NewMemory(cost int) *Memory {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Memory{
		cost:     cost,
		accounts: make(map[string]account),
		sessions: make(map[string]Session),
	}
}

func (m *Memory) Name() string { return MemoryName }

func (m *Memory) fail(code string) *Error {
	return &Error{Provider: MemoryName, Code: code, Message: fmt.Sprintf("Error (auth/%s).", code)}
}

func normalizeEmail(email string) (string, bool) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", false
	}
	return email, true
}

// SignUp registers a new account and signs it in.
func (m *Memory) SignUp(ctx context.Context, email, password string) (*Session, error) {
	email, ok := normalizeEmail(email)
	if !ok {
		return nil, m.fail("invalid-email")
	}
	if len(password) < minPasswordLength {
		return nil, &Error{Provider: MemoryName, Code: "weak-password", Message: "Password should be at least 6 characters (auth/weak-password)."}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), m.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.accounts[email]; exists {
		return nil, m.fail("email-already-in-use")
	}
	acc := account{id: uuid.NewString(), hash: hash}
	m.accounts[email] = acc
	slog.Info("Account created", "user_id", acc.id)
	return m.issueLocked(acc.id, email), nil
}

// SignIn checks the credentials and issues a new session.
func (m *Memory) SignIn(ctx context.Context, email, password string) (*Session, error) {
	email, ok := normalizeEmail(email)
	if !ok {
		return nil, m.fail("invalid-email")
	}

	m.mu.RLock()
	acc, exists := m.accounts[email]
	m.mu.RUnlock()
	if !exists || bcrypt.CompareHashAndPassword(acc.hash, []byte(password)) != nil {
		return nil, m.fail("invalid-credential")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.issueLocked(acc.id, email), nil
}

func (m *Memory) issueLocked(userID, email string) *Session {
	s := Session{
		Token:    uuid.NewString(),
		UserID:   userID,
		Email:    email,
		IssuedAt: time.Now(),
	}
	m.sessions[s.Token] = s
	return &s
}

// SignOut revokes the token. Unknown tokens are not an error.
func (m *Memory) SignOut(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
	return nil
}

// Validate resolves a token to its session.
func (m *Memory) Validate(ctx context.Context, token string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[token]
	if !ok {
		return nil, m.fail("invalid-user-token")
	}
	return &s, nil
}
