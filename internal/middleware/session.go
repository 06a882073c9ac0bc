package middleware

import (
	"sync"

	"github.com/google/uuid"
)

// Sessions holds the tokens issued by successful logins. Only a cookie
// carrying one of them is authenticated.
type Sessions struct {
	mu     sync.RWMutex
	tokens map[string]struct{}
}

func NewSessions() *Sessions {
	return &Sessions{tokens: make(map[string]struct{})}
}

// Create issues and remembers a new random token.
func (s *Sessions) Create() string {
	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = struct{}{}
	s.mu.Unlock()
	return token
}

// Valid reports whether token was issued and not yet revoked.
func (s *Sessions) Valid(token string) bool {
	if token == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tokens[token]
	return ok
}

// Revoke forgets token.
func (s *Sessions) Revoke(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}
