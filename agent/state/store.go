package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrSessionNotFound   = errors.New("session state not found")
	ErrNilState          = errors.New("nil session state")
	ErrIdentifierClaimed = errors.New("identifier already bound to another active session")
)

// Store persists session state between dialogue turns. Implementations must
// guarantee at most one active (non-terminal) session per identifier.
type Store interface {
	Load(ctx context.Context, sessionID string) (*SessionState, error)
	Save(ctx context.Context, st *SessionState) error
	Delete(ctx context.Context, sessionID string) error

	// FindByIdentifier resolves the active session bound to a customer
	// identifier, or ErrSessionNotFound when none is live.
	FindByIdentifier(ctx context.Context, identifier string) (*SessionState, error)

	// SweepIdle removes sessions not touched since the cutoff and reports
	// how many were dropped. Backends with native expiry may return 0.
	SweepIdle(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryStore is the in-process Store used by the demo binary and tests.
// Records are cloned on the way in and out, so callers never share state.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*SessionState
	byIdent  map[string]string // identifier -> session id, active sessions only
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*SessionState),
		byIdent:  make(map[string]string),
	}
}

func (m *MemoryStore) Load(ctx context.Context, sessionID string) (*SessionState, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: empty session id", ErrInvalidSession)
	}

	m.mu.RLock()
	st, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return st.Clone()
}

func (m *MemoryStore) Save(ctx context.Context, st *SessionState) error {
	if st == nil {
		return ErrNilState
	}
	if err := st.Validate(); err != nil {
		return err
	}
	clone, err := st.Clone()
	if err != nil {
		return fmt.Errorf("clone session state: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if clone.Identifier != "" {
		if holder, ok := m.byIdent[clone.Identifier]; ok && holder != clone.SessionID {
			if live, exists := m.sessions[holder]; exists && !live.Terminal() {
				return fmt.Errorf("%w: %s", ErrIdentifierClaimed, clone.Identifier)
			}
		}
		if clone.Terminal() {
			delete(m.byIdent, clone.Identifier)
		} else {
			m.byIdent[clone.Identifier] = clone.SessionID
		}
	}
	m.sessions[clone.SessionID] = clone
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	if st.Identifier != "" && m.byIdent[st.Identifier] == sessionID {
		delete(m.byIdent, st.Identifier)
	}
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryStore) FindByIdentifier(ctx context.Context, identifier string) (*SessionState, error) {
	if identifier == "" {
		return nil, fmt.Errorf("%w: empty identifier", ErrInvalidSession)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	sessionID, ok := m.byIdent[identifier]
	if !ok {
		return nil, fmt.Errorf("%w: identifier %s", ErrSessionNotFound, identifier)
	}
	st, ok := m.sessions[sessionID]
	if !ok || st.Terminal() {
		return nil, fmt.Errorf("%w: identifier %s", ErrSessionNotFound, identifier)
	}
	return st.Clone()
}

func (m *MemoryStore) SweepIdle(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var dropped int
	for id, st := range m.sessions {
		if st.UpdatedAt.Before(cutoff) {
			if st.Identifier != "" && m.byIdent[st.Identifier] == id {
				delete(m.byIdent, st.Identifier)
			}
			delete(m.sessions, id)
			dropped++
		}
	}
	return dropped, nil
}

// Len reports the number of stored sessions. Test helper.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
