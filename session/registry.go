package session

import (
	"fmt"
	"sync"

	"github.com/gofrs/uuid"
)

// ErrDuplicateSession is returned by Registry.Register when a Session is
// already registered under the given request_id.
var ErrDuplicateSession = fmt.Errorf("session: request_id already has an active session")

// Registry enforces the uniqueness invariant that at most one Session may
// be active per request_id at a time (§3, §8 invariant). It also gives
// callers (the signaling client's push-event dispatcher, mainly) a way to
// look an active Session up by request_id without threading it through
// every layer themselves.
type Registry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uuid.UUID]*Session)}
}

// Register adds s, keyed by s.RequestID. It fails if a Session is already
// registered for that request_id.
func (r *Registry) Register(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.RequestID]; exists {
		return ErrDuplicateSession
	}
	r.sessions[s.RequestID] = s
	return nil
}

// Unregister removes the Session keyed by requestID, if any. Call this
// once a Session's Done/close has fired.
func (r *Registry) Unregister(requestID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, requestID)
}

// Lookup returns the active Session for requestID, if any.
func (r *Registry) Lookup(requestID uuid.UUID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[requestID]
	return s, ok
}

// Len reports how many sessions are currently registered.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
