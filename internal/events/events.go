// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package events carries domain notifications raised during authentication
// to the collaborators that care about them (attempt limiting, metrics).
package events

import (
	"sync"

	"github.com/holomush/gatehouse/internal/auth"
	"github.com/holomush/gatehouse/internal/proxy"
)

// Reason says how a player became authenticated.
type Reason int

// Authentication reasons.
const (
	ReasonLogin Reason = iota
	ReasonRegister
)

func (r Reason) String() string {
	if r == ReasonRegister {
		return "register"
	}
	return "login"
}

// Source says which check a wrong attempt failed.
type Source int

// Wrong attempt sources.
const (
	// SourceLogin is a password that did not match the stored hash.
	SourceLogin Source = iota
	// SourceConfirmation is a registration whose confirmation differed.
	SourceConfirmation
)

func (s Source) String() string {
	if s == SourceConfirmation {
		return "confirmation"
	}
	return "login"
}

// Authenticated is published once per connection when it authenticates.
type Authenticated struct {
	User   *auth.User
	Player proxy.Player
	Reason Reason
}

// WrongPassword is published for every rejected credential submission.
type WrongPassword struct {
	User   *auth.User
	Player proxy.Player
	Source Source
}

// Bus delivers events synchronously to subscribers in subscription order.
// Handlers run on the publisher's goroutine and must not block.
type Bus struct {
	mu            sync.RWMutex
	authenticated []func(Authenticated)
	wrongPassword []func(WrongPassword)
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// OnAuthenticated registers fn for Authenticated events.
func (b *Bus) OnAuthenticated(fn func(Authenticated)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.authenticated = append(b.authenticated, fn)
}

// OnWrongPassword registers fn for WrongPassword events.
func (b *Bus) OnWrongPassword(fn func(WrongPassword)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wrongPassword = append(b.wrongPassword, fn)
}

// PublishAuthenticated delivers e to every subscriber. A nil bus drops it.
func (b *Bus) PublishAuthenticated(e Authenticated) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := b.authenticated
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(e)
	}
}

// PublishWrongPassword delivers e to every subscriber. A nil bus drops it.
func (b *Bus) PublishWrongPassword(e WrongPassword) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := b.wrongPassword
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(e)
	}
}
