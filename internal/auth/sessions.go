package auth

import (
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/coursework/internal/failure"
	"github.com/MarcoPoloResearchLab/coursework/internal/users"
)

const (
	opSessionCreate  = "auth.session.create"
	opSessionResolve = "auth.session.resolve"
)

// SessionRegistryConfig describes the dependencies of a SessionRegistry.
type SessionRegistryConfig struct {
	IDs IDProvider
}

// SessionRegistry maps opaque session ids to the account snapshot taken at login.
// Sessions never expire and are lost on restart.
type SessionRegistry struct {
	mu       sync.RWMutex
	ids      IDProvider
	sessions map[string]users.User
}

// NewSessionRegistry constructs an empty registry.
func NewSessionRegistry(cfg SessionRegistryConfig) *SessionRegistry {
	ids := cfg.IDs
	if ids == nil {
		ids = NewUUIDProvider()
	}
	return &SessionRegistry{ids: ids, sessions: make(map[string]users.User)}
}

// Create stores a snapshot of user under a fresh session id.
func (r *SessionRegistry) Create(user users.User) (string, error) {
	sessionID, err := r.ids.NewID()
	if err != nil {
		return "", failure.Wrap(opSessionCreate, "id_failed", err)
	}
	r.mu.Lock()
	r.sessions[sessionID] = user
	r.mu.Unlock()
	return sessionID, nil
}

// Resolve returns the snapshot stored under sessionID.
func (r *SessionRegistry) Resolve(sessionID string) (users.User, error) {
	if strings.TrimSpace(sessionID) == "" {
		return users.User{}, failure.New(opSessionResolve, "missing_session", failure.ErrUnauthorized)
	}
	r.mu.RLock()
	user, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return users.User{}, failure.New(opSessionResolve, "unknown_session", failure.ErrUnauthorized)
	}
	return user, nil
}

// Destroy forgets sessionID. Unknown ids are ignored.
func (r *SessionRegistry) Destroy(sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
}

// Len returns the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
