// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package presence answers "is this identity online, and is it online here".
// A single gate uses Local; gates sharing one user store use Redis so that a
// second node can see players connected elsewhere.
package presence

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Checker tracks which identities are connected.
type Checker interface {
	// Claim marks id online unless it already is, in one atomic step. It
	// reports whether this call took the claim.
	Claim(ctx context.Context, id ulid.ULID) (bool, error)
	Track(ctx context.Context, id ulid.ULID) error
	Untrack(ctx context.Context, id ulid.ULID) error
	// IsOnline reports whether id is connected to any node.
	IsOnline(ctx context.Context, id ulid.ULID) (bool, error)
	// IsLocal reports whether id is connected to this node.
	IsLocal(ctx context.Context, id ulid.ULID) (bool, error)
}

// Local tracks presence in process memory.
type Local struct {
	mu     sync.RWMutex
	online map[ulid.ULID]struct{}
}

var _ Checker = (*Local)(nil)

// NewLocal creates an empty in-memory checker.
func NewLocal() *Local {
	return &Local{online: make(map[ulid.ULID]struct{})}
}

// Claim implements Checker.
func (l *Local) Claim(_ context.Context, id ulid.ULID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.online[id]; taken {
		return false, nil
	}
	l.online[id] = struct{}{}
	return true, nil
}

// Track implements Checker.
func (l *Local) Track(_ context.Context, id ulid.ULID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.online[id] = struct{}{}
	return nil
}

// Untrack implements Checker.
func (l *Local) Untrack(_ context.Context, id ulid.ULID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.online, id)
	return nil
}

// IsOnline implements Checker.
func (l *Local) IsOnline(_ context.Context, id ulid.ULID) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.online[id]
	return ok, nil
}

// IsLocal implements Checker. Every tracked identity is local.
func (l *Local) IsLocal(ctx context.Context, id ulid.ULID) (bool, error) {
	return l.IsOnline(ctx, id)
}
