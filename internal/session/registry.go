package session

import (
	"sync"
	"time"

	"github.com/Internet-of-People/iop-profile-server/internal/identity"
)

// OnlineSession is the subset of a live session the registry needs: a way
// to forcibly close it and read its current keep-alive deadline.
type OnlineSession interface {
	Close()
	Deadline() time.Time
}

// Registry is the process-wide authenticated-online client map from
// spec.md §4.6. Insert is atomic with respect to replacement: installing
// a new session for a NetworkId that already has one closes the old
// session before the new one becomes observable, and the losing side of
// any race is guaranteed a close notification before the winner is
// visible to readers.
type Registry struct {
	mu       sync.Mutex
	sessions map[identity.NetworkID]OnlineSession
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[identity.NetworkID]OnlineSession)}
}

// Insert installs session as the live session for id, closing and
// replacing whatever was previously registered for id.
func (r *Registry) Insert(id identity.NetworkID, s OnlineSession) {
	r.mu.Lock()
	previous, existed := r.sessions[id]
	r.sessions[id] = s
	if existed {
		previous.Close()
	}
	r.mu.Unlock()
}

// Remove deletes id's entry only if it still points at session s — so a
// session that already lost the race in Insert cannot clobber the
// winner's entry when it later tears itself down.
func (r *Registry) Remove(id identity.NetworkID, s OnlineSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.sessions[id]; ok && current == s {
		delete(r.sessions, id)
	}
}

// Get returns the session currently registered for id, if any.
func (r *Registry) Get(id identity.NetworkID) (OnlineSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Count reports the number of currently online authenticated sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseExpired closes and evicts every session whose deadline has passed
// now, implementing the C5-owned keep-alive sweep against C6's registry
// (internal/fabric.SessionRegistry is satisfied by this method).
func (r *Registry) CloseExpired(now time.Time) {
	r.mu.Lock()
	var expired []struct {
		id identity.NetworkID
		s  OnlineSession
	}
	for id, s := range r.sessions {
		if !s.Deadline().IsZero() && now.After(s.Deadline()) {
			expired = append(expired, struct {
				id identity.NetworkID
				s  OnlineSession
			}{id, s})
		}
	}
	for _, e := range expired {
		delete(r.sessions, e.id)
	}
	r.mu.Unlock()

	for _, e := range expired {
		e.s.Close()
	}
}
