// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package routing picks the backend a player is sent to.
package routing

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/gatehouse/internal/auth"
	"github.com/holomush/gatehouse/internal/proxy"
)

// Rules is the routing configuration. It is read-only once an Engine is
// built from it.
type Rules struct {
	// Lobby backends receive authenticated players.
	Lobby []proxy.Backend `koanf:"lobby"`
	// Limbo backends hold players that have not authenticated yet.
	Limbo []proxy.Backend `koanf:"limbo"`
	// Fallback enables redirecting kicked players instead of disconnecting.
	Fallback bool `koanf:"fallback"`
}

// Veto lets an outside policy refuse a candidate backend for a player.
// Returning true removes the backend from consideration.
type Veto func(user *auth.User, player proxy.Player, backend proxy.Backend) bool

// Engine selects destinations from the configured lobby and limbo sets.
type Engine struct {
	lobby    []proxy.Backend
	limbo    []proxy.Backend
	lobbySet map[string]struct{}
	fallback bool
	veto     Veto
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithVeto installs a veto hook.
func WithVeto(v Veto) Option {
	return func(e *Engine) { e.veto = v }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine validates rules and builds an engine. Backends are ordered by
// descending priority; equal priorities keep their declaration order.
func NewEngine(rules Rules, opts ...Option) (*Engine, error) {
	seen := make(map[string]struct{})
	for _, set := range [][]proxy.Backend{rules.Lobby, rules.Limbo} {
		for _, b := range set {
			if strings.TrimSpace(b.Name) == "" {
				return nil, oops.Code("ROUTING_INVALID_BACKEND").Errorf("backend name is required")
			}
			key := strings.ToLower(b.Name)
			if _, dup := seen[key]; dup {
				return nil, oops.Code("ROUTING_DUPLICATE_BACKEND").With("backend", b.Name).Errorf("backend %q declared twice", b.Name)
			}
			seen[key] = struct{}{}
		}
	}

	e := &Engine{
		lobby:    byPriority(rules.Lobby),
		limbo:    byPriority(rules.Limbo),
		lobbySet: make(map[string]struct{}, len(rules.Lobby)),
		fallback: rules.Fallback,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, b := range rules.Lobby {
		e.lobbySet[strings.ToLower(b.Name)] = struct{}{}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func byPriority(in []proxy.Backend) []proxy.Backend {
	out := slices.Clone(in)
	slices.SortStableFunc(out, func(a, b proxy.Backend) int {
		return b.Priority - a.Priority
	})
	return out
}

// ChooseDestination returns the first eligible backend from the lobby set
// when wantLobby is true, otherwise from the limbo set. With excludeCurrent
// the player's current backend is skipped. It returns nil when no candidate
// is left.
func (e *Engine) ChooseDestination(user *auth.User, player proxy.Player, wantLobby, excludeCurrent bool) *proxy.Backend {
	exclude := ""
	if excludeCurrent && player != nil {
		exclude, _ = player.CurrentBackend()
	}
	return e.ChooseExcluding(user, player, wantLobby, exclude)
}

// ChooseExcluding is ChooseDestination with an explicit backend to skip.
// Kick recovery passes the kicking backend, which the host may already have
// detached the player from. An empty exclude skips nothing.
func (e *Engine) ChooseExcluding(user *auth.User, player proxy.Player, wantLobby bool, exclude string) *proxy.Backend {
	candidates := e.limbo
	if wantLobby {
		candidates = e.lobby
	}

	for _, b := range candidates {
		if exclude != "" && strings.EqualFold(b.Name, exclude) {
			continue
		}
		if e.veto != nil && e.veto(user, player, b) {
			e.logger.Debug("backend vetoed",
				"event", "route_vetoed",
				"backend", b.Name,
			)
			continue
		}
		chosen := b
		return &chosen
	}
	return nil
}

// IsLobby reports whether name is a lobby backend.
func (e *Engine) IsLobby(name string) bool {
	_, ok := e.lobbySet[strings.ToLower(name)]
	return ok
}

// FallbackEnabled reports whether kicked players may be redirected.
func (e *Engine) FallbackEnabled() bool {
	return e.fallback
}

// Lobby returns the lobby backends in selection order.
func (e *Engine) Lobby() []proxy.Backend {
	return slices.Clone(e.lobby)
}

// Limbo returns the limbo backends in selection order.
func (e *Engine) Limbo() []proxy.Backend {
	return slices.Clone(e.limbo)
}
