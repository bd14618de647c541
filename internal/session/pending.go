// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package session

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/gatehouse/internal/auth"
	"github.com/holomush/gatehouse/internal/proxy"
)

// PendingRoute is a suspended initial-route decision. Whoever takes it out
// of the PendingTable owns it and must call Route.Resume exactly once.
type PendingRoute struct {
	Route proxy.InitialRoute
	// User is the record loaded when the route was suspended.
	User      *auth.User
	CreatedAt time.Time
}

// PendingTable holds at most one PendingRoute per connection identity.
type PendingTable struct {
	mu     sync.Mutex
	routes map[ulid.ULID]*PendingRoute
}

// NewPendingTable creates an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{routes: make(map[ulid.ULID]*PendingRoute)}
}

// Put suspends route under id. It fails if id already has a pending route.
func (t *PendingTable) Put(id ulid.ULID, route *PendingRoute) error {
	if route == nil || route.Route == nil {
		return oops.Code("PENDING_ROUTE_INVALID").With("id", id.String()).Errorf("pending route is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.routes[id]; exists {
		return oops.Code("PENDING_ROUTE_EXISTS").With("id", id.String()).Errorf("connection already has a pending route")
	}
	t.routes[id] = route
	return nil
}

// Take removes and returns the pending route for id. Of any number of
// concurrent callers at most one gets ok == true.
func (t *PendingTable) Take(id ulid.ULID) (*PendingRoute, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	route, ok := t.routes[id]
	if ok {
		delete(t.routes, id)
	}
	return route, ok
}

// TakeFor is Take restricted to the route parked for player. A route
// suspended for another connection under the same identity stays put.
func (t *PendingTable) TakeFor(id ulid.ULID, player proxy.Player) (*PendingRoute, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	route, ok := t.routes[id]
	if !ok || route.Route.Player() != player {
		return nil, false
	}
	delete(t.routes, id)
	return route, true
}

// Has reports whether id has a pending route.
func (t *PendingTable) Has(id ulid.ULID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.routes[id]
	return ok
}

// Len returns the number of pending routes.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.routes)
}

// Expired lists identities whose route was suspended more than maxAge
// before now. The routes stay in the table; callers Take them.
func (t *PendingTable) Expired(now time.Time, maxAge time.Duration) []ulid.ULID {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ids []ulid.ULID
	for id, route := range t.routes {
		if now.Sub(route.CreatedAt) > maxAge {
			ids = append(ids, id)
		}
	}
	return ids
}
