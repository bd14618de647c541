// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package session

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/holomush/gatehouse/internal/auth"
	"github.com/holomush/gatehouse/internal/events"
	"github.com/holomush/gatehouse/internal/proxy"
)

// DialogState is where a connection is in the credential dialog exchange.
type DialogState int

// Dialog states.
const (
	StateIdle DialogState = iota
	StateAwaiting
	StateVerifying
)

func (s DialogState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaiting:
		return "awaiting"
	case StateVerifying:
		return "verifying"
	default:
		return "unknown"
	}
}

// Session is the authentication state of one connection.
type Session struct {
	ID            ulid.ULID
	Authenticated bool
	StartedAt     time.Time
	State         DialogState
	// DialogID identifies the dialog instance currently shown. Responses
	// carrying any other id are stale.
	DialogID ulid.ULID
	// Registering is true when the dialog shown asks for a new password.
	Registering bool
}

// Registry tracks sessions from the start of the login flow until
// disconnect.
type Registry struct {
	mu       sync.RWMutex
	sessions map[ulid.ULID]*Session
	bus      *events.Bus
	now      func() time.Time
}

// NewRegistry creates a registry that publishes Authenticated events on bus.
// bus may be nil.
func NewRegistry(bus *events.Bus) *Registry {
	return &Registry{
		sessions: make(map[ulid.ULID]*Session),
		bus:      bus,
		now:      time.Now,
	}
}

// Begin starts tracking id. If a session already exists it is returned
// unchanged.
func (r *Registry) Begin(id ulid.ULID) Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		s = &Session{ID: id, StartedAt: r.now()}
		r.sessions[id] = s
	}
	return *s
}

// Get returns a copy of the session for id.
func (r *Registry) Get(id ulid.ULID) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Exists reports whether id has a live session.
func (r *Registry) Exists(id ulid.ULID) bool {
	_, ok := r.Get(id)
	return ok
}

// IsAuthenticated reports whether id has a live, authenticated session.
func (r *Registry) IsAuthenticated(id ulid.ULID) bool {
	s, ok := r.Get(id)
	return ok && s.Authenticated
}

// MarkAuthenticated flags the session as authenticated and publishes a
// single Authenticated event. It returns false, without publishing, when the
// session is gone or was already authenticated.
func (r *Registry) MarkAuthenticated(user *auth.User, player proxy.Player, reason events.Reason) bool {
	r.mu.Lock()
	s, ok := r.sessions[player.ID()]
	if !ok || s.Authenticated {
		r.mu.Unlock()
		return false
	}
	s.Authenticated = true
	s.State = StateIdle
	s.DialogID = ulid.ULID{}
	r.mu.Unlock()

	r.bus.PublishAuthenticated(events.Authenticated{User: user, Player: player, Reason: reason})
	return true
}

// SetAwaiting records that dialogID is now shown to id, superseding any
// earlier dialog. It returns false when there is no session.
func (r *Registry) SetAwaiting(id, dialogID ulid.ULID, registering bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	s.State = StateAwaiting
	s.DialogID = dialogID
	s.Registering = registering
	return true
}

// ClaimDialog moves the session from awaiting to verifying if dialogID is
// the dialog currently shown. Only one caller can claim a given dialog.
func (r *Registry) ClaimDialog(id, dialogID ulid.ULID) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.State != StateAwaiting || s.DialogID != dialogID {
		return Session{}, false
	}
	s.State = StateVerifying
	return *s, true
}

// Release returns the session to idle, forgetting any dialog shown.
func (r *Registry) Release(id ulid.ULID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		s.State = StateIdle
		s.DialogID = ulid.ULID{}
	}
}

// End removes the session. Calling it for an unknown id is a no-op.
func (r *Registry) End(id ulid.ULID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.sessions[id]
	delete(r.sessions, id)
	return ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
