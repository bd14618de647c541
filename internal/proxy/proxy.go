// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package proxy describes the host surface the gate plugs into: players,
// backends, the suspendable initial-route decision and kick events. Hosts
// such as wsgate implement these interfaces.
package proxy

import (
	"context"

	"github.com/oklog/ulid/v2"
)

// Backend is a gameplay server the host can route players to.
type Backend struct {
	Name     string `koanf:"name"`
	Address  string `koanf:"address"`
	Priority int    `koanf:"priority"`
}

// ConnectResult reports how a transfer to a backend ended.
type ConnectResult struct {
	Success bool
	// Reason is the host's failure text when Success is false.
	Reason string
}

// Player is a connection as seen by the host.
type Player interface {
	// ID is the stable identity assigned at pre-login.
	ID() ulid.ULID
	Name() string
	ProtocolVersion() int
	// CurrentBackend returns the backend the player is attached to, if any.
	CurrentBackend() (string, bool)
	SendMessage(text string)
	Disconnect(reason string)
	// Connect starts an asynchronous transfer. done is called exactly once.
	Connect(ctx context.Context, backend Backend, done func(ConnectResult))
}

// InitialRoute is the host's suspendable "choose initial server" decision.
// The host keeps the player parked until Resume is called, which must happen
// exactly once.
type InitialRoute interface {
	Player() Player
	// SetInitialServer records the destination. nil means no destination.
	SetInitialServer(backend *Backend)
	Resume()
}

// KickEvent is raised when a backend drops a player.
type KickEvent struct {
	Player  Player
	Backend string
	Reason  string
	// DuringConnect is true when the kick happened while the player was
	// still being transferred to Backend.
	DuringConnect bool
}

// KickAction tells the host what to do with a kicked player.
type KickAction int

// Kick actions.
const (
	KickNotify KickAction = iota
	KickDisconnect
	KickRedirect
)

func (a KickAction) String() string {
	switch a {
	case KickNotify:
		return "notify"
	case KickDisconnect:
		return "disconnect"
	case KickRedirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// KickResult is the gate's answer to a KickEvent. Backend is set only for
// KickRedirect.
type KickResult struct {
	Action  KickAction
	Backend *Backend
	Message string
}
