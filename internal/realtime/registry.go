// Package realtime tracks live websocket sessions and online presence, and
// fans events out to the sessions of a member set.
package realtime

import (
	"sync"
)

// Registry maps a user to its single live session. The latest registration
// wins; the session it replaces is closed.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]Session)}
}

// Register binds session to userID and returns the session it replaced, if any.
func (r *Registry) Register(userID string, session Session) Session {
	r.mu.Lock()
	prev, exists := r.sessions[userID]
	r.sessions[userID] = session
	r.mu.Unlock()

	if exists && prev != nil && prev.ID() != session.ID() {
		// Closing may block on the socket; never do it under the lock.
		go func() {
			if err := prev.Close(); err != nil {
				log.WithError(err).WithField("user_id", userID).Debug("close replaced session")
			}
		}()
		return prev
	}
	return nil
}

// Unregister drops whatever session userID holds.
func (r *Registry) Unregister(userID string) {
	r.mu.Lock()
	delete(r.sessions, userID)
	r.mu.Unlock()
}

// UnregisterSession drops userID's session only if it is still sessionID.
// A stale connection's cleanup therefore never evicts a reconnect.
func (r *Registry) UnregisterSession(userID, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[userID]
	if !ok || current.ID() != sessionID {
		return false
	}
	delete(r.sessions, userID)
	return true
}

// SessionFor returns the live session of one user.
func (r *Registry) SessionFor(userID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[userID]
	return s, ok
}

// SessionsFor returns the live sessions of the given users, skipping offline
// ones and duplicates.
func (r *Registry) SessionsFor(userIDs []string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Session, 0, len(userIDs))
	seen := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if s, ok := r.sessions[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
