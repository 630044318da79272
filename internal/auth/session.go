package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/carenotes/internal/apperr"
	"github.com/starford/carenotes/internal/models"
)

// User is a configured account.
type User struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	PasswordHash string `yaml:"password_hash"`
}

type session struct {
	principal models.Principal
	expires   time.Time
}

// Sessions is an in-memory bearer token store.
type Sessions struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	tokens map[string]session
}

// NewSessions creates a store whose tokens expire after ttl.
func NewSessions(ttl time.Duration) *Sessions {
	return &Sessions{ttl: ttl, now: time.Now, tokens: make(map[string]session)}
}

// Issue creates a token for p.
func (s *Sessions) Issue(p models.Principal) (string, time.Time) {
	token := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	exp := s.now().Add(s.ttl)
	s.tokens[token] = session{principal: p, expires: exp}
	return token, exp
}

// Lookup resolves a token. Expired tokens are dropped.
func (s *Sessions) Lookup(token string) (models.Principal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.tokens[token]
	if !ok {
		return models.Principal{}, false
	}
	if !s.now().Before(sess.expires) {
		delete(s.tokens, token)
		return models.Principal{}, false
	}
	return sess.principal, true
}

// Revoke invalidates token.
func (s *Sessions) Revoke(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

// Sweep drops expired tokens and returns how many were removed.
func (s *Sessions) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for tok, sess := range s.tokens {
		if !now.Before(sess.expires) {
			delete(s.tokens, tok)
			n++
		}
	}
	return n
}

type account struct {
	principal models.Principal
	hash      *Argon2idHash
}

// Authenticator checks credentials against configured users.
type Authenticator struct {
	accounts map[string]account
	sessions *Sessions
}

// NewAuthenticator parses every user's hash up front.
func NewAuthenticator(users []User, sessions *Sessions) (*Authenticator, error) {
	accounts := make(map[string]account, len(users))
	for _, u := range users {
		h, err := ParseArgon2idHash(u.PasswordHash)
		if err != nil {
			return nil, fmt.Errorf("auth: user %s: %w", u.Name, err)
		}
		accounts[u.Name] = account{principal: models.Principal{UserID: u.ID, Name: u.Name}, hash: h}
	}
	return &Authenticator{accounts: accounts, sessions: sessions}, nil
}

// Login verifies name and password and issues a session token.
func (a *Authenticator) Login(name, password string) (string, models.Principal, error) {
	acc, ok := a.accounts[name]
	if !ok || !acc.hash.Verify(password) {
		return "", models.Principal{}, apperr.ErrUnauthorized
	}
	token, _ := a.sessions.Issue(acc.principal)
	return token, acc.principal, nil
}

// Sessions returns the token store backing a.
func (a *Authenticator) Sessions() *Sessions { return a.sessions }

type contextKey int

const principalKey contextKey = iota

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(principalKey).(models.Principal)
	return p, ok && p.UserID != ""
}
