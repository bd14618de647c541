// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package proxytest provides in-memory hosts for gate tests.
package proxytest

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/holomush/gatehouse/internal/proxy"
)

// Player records everything the gate does to it.
type Player struct {
	mu sync.Mutex

	id       ulid.ULID
	name     string
	protocol int
	current  string

	messages     []string
	disconnected []string
	connects     []proxy.Backend

	// ConnectResult is handed to Connect callbacks. Zero value fails.
	ConnectResult proxy.ConnectResult
}

var _ proxy.Player = (*Player)(nil)

// NewPlayer creates a player with a fresh identity.
func NewPlayer(name string, protocol int) *Player {
	return &Player{
		id:            ulid.Make(),
		name:          name,
		protocol:      protocol,
		ConnectResult: proxy.ConnectResult{Success: true},
	}
}

// ID implements proxy.Player.
func (p *Player) ID() ulid.ULID { return p.id }

// WithID replaces the identity and returns p.
func (p *Player) WithID(id ulid.ULID) *Player {
	p.id = id
	return p
}

// Name implements proxy.Player.
func (p *Player) Name() string { return p.name }

// ProtocolVersion implements proxy.Player.
func (p *Player) ProtocolVersion() int { return p.protocol }

// CurrentBackend implements proxy.Player.
func (p *Player) CurrentBackend() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, p.current != ""
}

// SetCurrentBackend places the player on a backend.
func (p *Player) SetCurrentBackend(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = name
}

// SendMessage implements proxy.Player.
func (p *Player) SendMessage(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, text)
}

// Disconnect implements proxy.Player.
func (p *Player) Disconnect(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnected = append(p.disconnected, reason)
}

// Connect implements proxy.Player. The callback runs synchronously.
func (p *Player) Connect(_ context.Context, backend proxy.Backend, done func(proxy.ConnectResult)) {
	p.mu.Lock()
	p.connects = append(p.connects, backend)
	result := p.ConnectResult
	if result.Success {
		p.current = backend.Name
	}
	p.mu.Unlock()
	done(result)
}

// Messages returns the messages sent so far.
func (p *Player) Messages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.messages...)
}

// Disconnects returns the reasons of every Disconnect call.
func (p *Player) Disconnects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.disconnected...)
}

// Connects returns the backends passed to Connect.
func (p *Player) Connects() []proxy.Backend {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]proxy.Backend(nil), p.connects...)
}

// Route is an InitialRoute that counts resumptions.
type Route struct {
	mu      sync.Mutex
	player  proxy.Player
	server  *proxy.Backend
	set     bool
	resumed int
}

var _ proxy.InitialRoute = (*Route)(nil)

// NewRoute creates a parked route for player.
func NewRoute(player proxy.Player) *Route {
	return &Route{player: player}
}

// Player implements proxy.InitialRoute.
func (r *Route) Player() proxy.Player { return r.player }

// SetInitialServer implements proxy.InitialRoute.
func (r *Route) SetInitialServer(b *proxy.Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.server = b
	r.set = true
}

// Resume implements proxy.InitialRoute.
func (r *Route) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resumed++
}

// Server returns the chosen backend and whether SetInitialServer was called.
func (r *Route) Server() (*proxy.Backend, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.server, r.set
}

// Resumed returns how many times Resume was called.
func (r *Route) Resumed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resumed
}
