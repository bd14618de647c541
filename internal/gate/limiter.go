// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package gate

import (
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/holomush/gatehouse/internal/events"
)

// AttemptLimiter disconnects a player after too many consecutive wrong
// passwords. The count resets when the player authenticates or leaves.
type AttemptLimiter struct {
	max      int
	messages Messages

	mu     sync.Mutex
	counts map[ulid.ULID]int
}

// NewAttemptLimiter creates a limiter. max <= 0 disables it.
func NewAttemptLimiter(maxAttempts int, msgs Messages) *AttemptLimiter {
	return &AttemptLimiter{
		max:      maxAttempts,
		messages: msgs,
		counts:   make(map[ulid.ULID]int),
	}
}

// Subscribe attaches the limiter to bus.
func (l *AttemptLimiter) Subscribe(bus *events.Bus) {
	bus.OnWrongPassword(l.onWrongPassword)
	bus.OnAuthenticated(func(e events.Authenticated) {
		l.Forget(e.Player.ID())
	})
}

func (l *AttemptLimiter) onWrongPassword(e events.WrongPassword) {
	if l.max <= 0 {
		return
	}
	id := e.Player.ID()

	l.mu.Lock()
	l.counts[id]++
	exceeded := l.counts[id] >= l.max
	if exceeded {
		delete(l.counts, id)
	}
	l.mu.Unlock()

	if exceeded {
		e.Player.Disconnect(l.messages.Get("kick-error-password-wrong"))
	}
}

// Attempts returns the current count for id.
func (l *AttemptLimiter) Attempts(id ulid.ULID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[id]
}

// Forget clears the count for id.
func (l *AttemptLimiter) Forget(id ulid.ULID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.counts, id)
}
