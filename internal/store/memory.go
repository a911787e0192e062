package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"dailybugs-backend/internal/steps"
)

// oauthStateTTL bounds how long a login may take between redirect and callback.
const oauthStateTTL = 10 * time.Minute

type session struct {
	userID string
	issued time.Time
}

// MemoryStore keeps everything in process. The server always uses one for
// login sessions and OAuth state; it also backs the Store interface in tests
// and single-process local runs.
type MemoryStore struct {
	*steps.MemoryLog

	mu       sync.RWMutex
	tokens   map[string]string
	delivery map[string]string
	// set after a successful OAuth callback, expire after SessionTTL
	sessions map[string]session
	// OAuth state -> issue time (for CSRF protection)
	oauthStates map[string]time.Time

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		MemoryLog:   steps.NewMemoryLog(),
		tokens:      make(map[string]string),
		delivery:    make(map[string]string),
		sessions:    make(map[string]session),
		oauthStates: make(map[string]time.Time),
		now:         time.Now,
	}
}

func (m *MemoryStore) GetToken(_ context.Context, userID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tok, ok := m.tokens[userID]
	if !ok {
		return "", ErrNotFound
	}
	return tok, nil
}

func (m *MemoryStore) SetToken(_ context.Context, userID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[userID] = token
	return nil
}

func (m *MemoryStore) DeleteToken(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, userID)
	return nil
}

func (m *MemoryStore) GetDelivery(_ context.Context, userID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if method, ok := m.delivery[userID]; ok {
		return method, nil
	}
	return DefaultDelivery, nil
}

func (m *MemoryStore) SetDelivery(_ context.Context, userID, method string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if method == DefaultDelivery {
		delete(m.delivery, userID)
		return nil
	}
	m.delivery[userID] = method
	return nil
}

func (m *MemoryStore) ListUsers(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]string, 0, len(m.tokens))
	for id := range m.tokens {
		users = append(users, id)
	}
	sort.Strings(users)
	return users, nil
}

// Session helpers

// SetSessionUser signs sessionID in as userID and drops expired sessions.
func (m *MemoryStore) SetSessionUser(sessionID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, sess := range m.sessions {
		if now.Sub(sess.issued) > SessionTTL {
			delete(m.sessions, id)
		}
	}
	m.sessions[sessionID] = session{userID: userID, issued: now}
}

// GetSessionUser returns "" for unknown or expired sessions.
func (m *MemoryStore) GetSessionUser(sessionID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sessionID]
	if !ok || m.now().Sub(sess.issued) > SessionTTL {
		return ""
	}
	return sess.userID
}

func (m *MemoryStore) ClearSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// OAuth helpers

// AddOAuthState registers a fresh state and drops abandoned ones.
func (m *MemoryStore) AddOAuthState(state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for s, issued := range m.oauthStates {
		if now.Sub(issued) > oauthStateTTL {
			delete(m.oauthStates, s)
		}
	}
	m.oauthStates[state] = now
}

// ConsumeOAuthState reports whether state was issued and is still fresh.
// A state can be consumed once.
func (m *MemoryStore) ConsumeOAuthState(state string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	issued, ok := m.oauthStates[state]
	if !ok {
		return false
	}
	delete(m.oauthStates, state)
	return m.now().Sub(issued) <= oauthStateTTL
}
