// Package devotp provides an in-memory store of issued OTP codes by session
// id, used only when dev OTP echo is enabled (GET /dev/otp).
package devotp

import (
	"context"
	"sync"
	"time"
)

// Store holds plain OTP codes by session id for dev-only retrieval. Not used in production.
type Store interface {
	// Put stores code for sessionID until expiresAt. Used when issuing a challenge in dev mode.
	Put(ctx context.Context, sessionID, code string, expiresAt time.Time)
	// Get returns the code for sessionID if present and not expired. Returns ok false if missing or expired.
	Get(ctx context.Context, sessionID string) (code string, ok bool)
}

type entry struct {
	code      string
	expiresAt time.Time
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu   sync.RWMutex
	m    map[string]entry
	nowF func() time.Time
}

// NewMemoryStore returns a new in-memory dev OTP store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]entry),
		nowF: time.Now().UTC,
	}
}

// Put stores code for sessionID until expiresAt.
func (s *MemoryStore) Put(ctx context.Context, sessionID, code string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[sessionID] = entry{code: code, expiresAt: expiresAt}
}

// Get returns the code for sessionID if present and not expired.
func (s *MemoryStore) Get(ctx context.Context, sessionID string) (string, bool) {
	s.mu.RLock()
	e, ok := s.m[sessionID]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !e.expiresAt.After(s.nowF()) {
		s.mu.Lock()
		delete(s.m, sessionID)
		s.mu.Unlock()
		return "", false
	}
	return e.code, true
}
