// Package registry implements the server's connection registry: the
// map of authenticated sessions keyed by user_id, their session keys,
// and broadcast/targeted send helpers (spec.md §4.8).
package registry

import (
	"fmt"
	"sync"

	"github.com/awnumar/memguard"

	"chatcore/internal/transport"
	"chatcore/internal/wire"
)

// Session is one authenticated connection's registry entry. SessionKey
// is enclaved: it holds the 32-byte AEAD channel key handed out in
// SRP_SUCCESS (spec.md §4.9 step 6) and is wiped by Remove.
type Session struct {
	UserID     string
	Username   string
	Conn       transport.Conn
	SessionKey *memguard.LockedBuffer
	RoomSalt   []byte
}

// Registry holds every authenticated session, guarded by one mutex, so
// user_id -> * and username -> user_id lookups stay consistent
// (spec.md §3 ActiveSession invariants).
type Registry struct {
	mu       sync.RWMutex
	byUserID map[string]*Session
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{byUserID: make(map[string]*Session)}
}

// Add installs a newly authenticated session under userID.
func (r *Registry) Add(session *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUserID[session.UserID] = session
}

// Remove closes and discards the session for userID, wiping its AEAD
// channel key, if present.
func (r *Registry) Remove(userID string) {
	r.mu.Lock()
	session, ok := r.byUserID[userID]
	delete(r.byUserID, userID)
	r.mu.Unlock()

	if ok {
		session.Conn.Close()
		if session.SessionKey != nil {
			session.SessionKey.Destroy()
		}
	}
}

// UsernameExists reports whether any active session has username.
func (r *Registry) UsernameExists(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.byUserID {
		if s.Username == username {
			return true
		}
	}
	return false
}

// UsernameByID returns the username for userID, if active.
func (r *Registry) UsernameByID(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byUserID[userID]
	if !ok {
		return "", false
	}
	return s.Username, true
}

// Get returns the session for userID, if active.
func (r *Registry) Get(userID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byUserID[userID]
	return s, ok
}

// GetByUsername returns the session for username, if active.
func (r *Registry) GetByUsername(username string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.byUserID {
		if s.Username == username {
			return s, true
		}
	}
	return nil, false
}

// ActiveUsers returns a snapshot of every active (username, user_id)
// pair.
func (r *Registry) ActiveUsers() []wire.User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]wire.User, 0, len(r.byUserID))
	for _, s := range r.byUserID {
		users = append(users, wire.User{Username: s.Username, UserID: s.UserID})
	}
	return users
}

// SendTo writes frameBytes to userID's connection while the registry is
// locked. Returns false (and logs via the caller) if userID is not
// active or the write fails.
func (r *Registry) SendTo(userID string, frameBytes []byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byUserID[userID]
	if !ok {
		return false
	}
	return s.Conn.WriteAll(frameBytes) == nil
}

// Broadcast calls build for every active session other than
// excludeUserID and sends the resulting frame bytes to that session,
// continuing past individual send failures. build lets the caller
// encrypt the payload under each recipient's own session key
// (spec.md §4.9 step 7).
func (r *Registry) Broadcast(excludeUserID string, build func(*Session) ([]byte, error)) []error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for userID, s := range r.byUserID {
		if userID == excludeUserID {
			continue
		}
		frameBytes, err := build(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("registry: build frame for %s: %w", userID, err))
			continue
		}
		if err := s.Conn.WriteAll(frameBytes); err != nil {
			errs = append(errs, fmt.Errorf("registry: send to %s: %w", userID, err))
		}
	}
	return errs
}
