// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package gate connects host proxy events to the authentication core. It
// admits players, suspends their initial route while the credential dialog
// runs, resumes it once they authenticate and recovers from backend kicks.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/gatehouse/internal/auth"
	"github.com/holomush/gatehouse/internal/dialog"
	"github.com/holomush/gatehouse/internal/events"
	"github.com/holomush/gatehouse/internal/legacy"
	"github.com/holomush/gatehouse/internal/presence"
	"github.com/holomush/gatehouse/internal/proxy"
	"github.com/holomush/gatehouse/internal/routing"
	"github.com/holomush/gatehouse/internal/session"
	"github.com/holomush/gatehouse/pkg/errutil"
)

var tracer = otel.Tracer("gatehouse/gate")

// Route outcomes reported to Metrics.
const (
	OutcomeLobby     = "lobby"
	OutcomeLimbo     = "limbo"
	OutcomeNoLobby   = "no_lobby"
	OutcomeNoLimbo   = "no_limbo"
	OutcomeSuspended = "suspended"
	OutcomeTimeout   = "timeout"
	OutcomeFailed    = "failed"
)

// Messages resolves message keys.
type Messages = dialog.Messages

// Metrics receives gate counters. All methods must be safe for concurrent
// use.
type Metrics interface {
	dialog.Metrics
	RouteResolved(outcome string)
	SetPendingRoutes(n int)
}

// Exemption reports players that were validated elsewhere and skip the
// credential dialog.
type Exemption func(user *auth.User, player proxy.Player) bool

// Config holds gate tunables.
type Config struct {
	// MinProtocol is the first client protocol that gets the dialog.
	MinProtocol int
	// DialogTimeout disconnects players who leave the dialog unanswered.
	// Zero disables the timeout.
	DialogTimeout time.Duration
	// MaxLoginAttempts disconnects after this many consecutive wrong
	// passwords. Zero disables the limit.
	MaxLoginAttempts int
}

// Deps are the collaborators of a Gate. Bus, Metrics and Exempt are
// optional.
type Deps struct {
	Users     auth.UserRepository
	Verifier  *auth.Verifier
	Engine    *routing.Engine
	Messages  Messages
	Transport dialog.Transport
	Presence  presence.Checker
	Bus       *events.Bus
	Metrics   Metrics
	Exempt    Exemption
}

// Admission is the result of PreLogin.
type Admission struct {
	ID         ulid.ULID
	Name       string
	Registered bool
	// DenyReason is set when the connection must be refused.
	DenyReason string
}

// Denied reports whether the connection must be refused.
func (a Admission) Denied() bool {
	return a.DenyReason != ""
}

// Gate is the event bridge between a host proxy and the authentication core.
type Gate struct {
	users    auth.UserRepository
	engine   *routing.Engine
	messages Messages
	presence presence.Checker
	bus      *events.Bus
	metrics  Metrics
	exempt   Exemption
	cfg      Config

	registry *session.Registry
	pending  *session.PendingTable
	dialogs  *dialog.Controller
	limiter  *AttemptLimiter

	connMu sync.Mutex
	// conns maps an identity to the connection that completed PostLogin.
	conns map[ulid.ULID]proxy.Player

	logger *slog.Logger
	now    func() time.Time
}

// New creates a Gate that discards logs.
func New(deps Deps, cfg Config) (*Gate, error) {
	return NewWithLogger(deps, cfg, slog.New(slog.DiscardHandler))
}

// NewWithLogger creates a Gate with the provided logger.
func NewWithLogger(deps Deps, cfg Config, logger *slog.Logger) (*Gate, error) {
	switch {
	case deps.Users == nil:
		return nil, oops.Errorf("user repository is required")
	case deps.Engine == nil:
		return nil, oops.Errorf("routing engine is required")
	case deps.Messages == nil:
		return nil, oops.Errorf("messages are required")
	case deps.Presence == nil:
		return nil, oops.Errorf("presence checker is required")
	case logger == nil:
		return nil, oops.Errorf("logger is required")
	}
	if cfg.DialogTimeout < 0 {
		return nil, oops.With("timeout", cfg.DialogTimeout).Errorf("dialog timeout cannot be negative")
	}

	bus := deps.Bus
	if bus == nil {
		bus = events.NewBus()
	}
	g := &Gate{
		users:    deps.Users,
		engine:   deps.Engine,
		messages: deps.Messages,
		presence: deps.Presence,
		bus:      bus,
		metrics:  deps.Metrics,
		exempt:   deps.Exempt,
		cfg:      cfg,
		registry: session.NewRegistry(bus),
		pending:  session.NewPendingTable(),
		limiter:  NewAttemptLimiter(cfg.MaxLoginAttempts, deps.Messages),
		conns:    make(map[ulid.ULID]proxy.Player),
		logger:   logger,
		now:      time.Now,
	}
	g.limiter.Subscribe(bus)

	var dialogMetrics dialog.Metrics
	if deps.Metrics != nil {
		dialogMetrics = deps.Metrics
	}
	dialogs, err := dialog.NewControllerWithLogger(dialog.Deps{
		Registry:    g.registry,
		Pending:     g.pending,
		Users:       deps.Users,
		Verifier:    deps.Verifier,
		Messages:    deps.Messages,
		Transport:   deps.Transport,
		Presence:    deps.Presence,
		Bus:         bus,
		Authorizer:  g,
		Metrics:     dialogMetrics,
		MinProtocol: cfg.MinProtocol,
	}, logger)
	if err != nil {
		return nil, err
	}
	g.dialogs = dialogs
	return g, nil
}

var _ dialog.Authorizer = (*Gate)(nil)

// Registry exposes the session registry.
func (g *Gate) Registry() *session.Registry { return g.registry }

// Pending exposes the pending route table.
func (g *Gate) Pending() *session.PendingTable { return g.pending }

// Bus exposes the event bus.
func (g *Gate) Bus() *events.Bus { return g.bus }

// PreLogin admits or refuses a connecting player by name. First-time names
// get an unregistered user record. The returned ID is the connection
// identity for every later call.
func (g *Gate) PreLogin(ctx context.Context, name string) (adm Admission, err error) {
	ctx, span := tracer.Start(ctx, "gate.prelogin",
		trace.WithAttributes(attribute.String("player.name", name)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Bool("prelogin.denied", adm.Denied()))
		span.End()
	}()

	if err := auth.ValidateName(name); err != nil {
		g.logger.Info("refusing invalid name",
			"event", "prelogin_invalid_name",
			"name", name,
		)
		return Admission{Name: name, DenyReason: g.messages.Get("kick-illegal-username")}, nil
	}

	user, err := g.users.GetByName(ctx, name)
	if errors.Is(err, auth.ErrNotFound) {
		user, err = g.createUser(ctx, name)
		if errors.Is(err, auth.ErrAlreadyExists) {
			// another node created the record first
			user, err = g.users.GetByName(ctx, name)
		}
	}
	if err != nil {
		return Admission{}, oops.Code("PRELOGIN_FAILED").With("name", name).Wrap(err)
	}

	claimed, err := g.presence.Claim(ctx, user.ID)
	if err != nil {
		return Admission{}, oops.Code("PRELOGIN_FAILED").With("name", name).Wrap(err)
	}
	if !claimed {
		g.logger.Info("refusing duplicate connection",
			"event", "prelogin_already_connected",
			"user_id", user.ID.String(),
		)
		return Admission{ID: user.ID, Name: user.Name, DenyReason: g.messages.Get("kick-already-connected")}, nil
	}

	return Admission{ID: user.ID, Name: user.Name, Registered: user.IsRegistered()}, nil
}

func (g *Gate) createUser(ctx context.Context, name string) (*auth.User, error) {
	user, err := auth.NewUser(name)
	if err != nil {
		return nil, err
	}
	if err := g.users.Create(ctx, user); err != nil {
		return nil, err
	}
	g.logger.Info("created user",
		"event", "user_created",
		"user_id", user.ID.String(),
		"name", user.Name,
	)
	return user, nil
}

// PostLogin binds the admitted identity to player's connection and records
// it as online on this node. Only the bound connection can later clear the
// identity's state through Disconnect.
func (g *Gate) PostLogin(ctx context.Context, player proxy.Player) error {
	id := player.ID()
	g.connMu.Lock()
	if owner, ok := g.conns[id]; ok && owner != player {
		g.connMu.Unlock()
		return oops.Code("POSTLOGIN_DUPLICATE").
			With("player", player.Name()).
			Errorf("identity is bound to another connection")
	}
	g.conns[id] = player
	g.connMu.Unlock()

	if err := g.presence.Track(ctx, id); err != nil {
		return oops.Code("POSTLOGIN_FAILED").With("player", player.Name()).Wrap(err)
	}
	return nil
}

// ChooseInitialServer handles the host's suspendable initial-route event.
// Authenticated and exempt players are routed straight to a lobby. Players
// whose client supports dialogs are parked until they authenticate. Older
// clients go to limbo and get a text prompt.
func (g *Gate) ChooseInitialServer(ctx context.Context, route proxy.InitialRoute) {
	player := route.Player()
	id := player.ID()

	user, err := g.users.GetByID(ctx, id)
	if err != nil {
		errutil.LogError(g.logger, "load user for initial route", err)
		player.Disconnect(g.messages.Get("kick-error"))
		route.SetInitialServer(nil)
		route.Resume()
		g.routeResolved(OutcomeFailed)
		return
	}

	g.registry.Begin(id)
	if g.exempt != nil && !g.registry.IsAuthenticated(id) && g.exempt(user, player) {
		g.registry.MarkAuthenticated(user, player, events.ReasonLogin)
	}
	if g.registry.IsAuthenticated(id) {
		g.resolve(route, g.engine.ChooseDestination(user, player, true, false), true)
		return
	}

	if !g.dialogs.Supports(player) {
		g.resolveLegacy(route, user)
		return
	}

	err = g.pending.Put(id, &session.PendingRoute{Route: route, User: user, CreatedAt: g.now()})
	if err != nil {
		errutil.LogError(g.logger, "suspend initial route", err)
		player.Disconnect(g.messages.Get("kick-error"))
		route.SetInitialServer(nil)
		route.Resume()
		g.routeResolved(OutcomeFailed)
		return
	}
	g.pendingChanged()

	if g.dialogs.CheckAndSend(ctx, player, user.IsRegistered()) {
		g.routeResolved(OutcomeSuspended)
		return
	}
	if pr, ok := g.pending.Take(id); ok {
		g.pendingChanged()
		g.resolveLegacy(pr.Route, user)
	}
}

func (g *Gate) resolveLegacy(route proxy.InitialRoute, user *auth.User) {
	player := route.Player()
	if !g.resolve(route, g.engine.ChooseDestination(user, player, false, false), false) {
		return
	}
	key := "prompt-login"
	if !user.IsRegistered() {
		key = "prompt-register"
	}
	if !g.messages.IsEmpty(key) {
		player.SendMessage(g.messages.Get(key))
	}
}

// resolve completes route with dest, or refuses the player when dest is nil.
func (g *Gate) resolve(route proxy.InitialRoute, dest *proxy.Backend, lobby bool) bool {
	player := route.Player()
	if dest == nil {
		key, outcome := "kick-no-limbo", OutcomeNoLimbo
		if lobby {
			key, outcome = "kick-no-lobby", OutcomeNoLobby
		}
		g.logger.Warn("no destination available",
			"event", "route_no_destination",
			"player", player.Name(),
			"lobby", lobby,
		)
		player.Disconnect(g.messages.Get(key))
		route.SetInitialServer(nil)
		route.Resume()
		g.routeResolved(outcome)
		return false
	}

	route.SetInitialServer(dest)
	route.Resume()
	outcome := OutcomeLimbo
	if lobby {
		outcome = OutcomeLobby
	}
	g.routeResolved(outcome)
	g.logger.Info("initial route resolved",
		"event", "route_resolved",
		"player", player.Name(),
		"backend", dest.Name,
		"lobby", lobby,
	)
	return true
}

// Authorize completes authentication for player. A parked initial route is
// resumed towards a lobby; otherwise the player is transferred to one. It
// is a no-op when the session is gone or already authenticated.
func (g *Gate) Authorize(ctx context.Context, user *auth.User, player proxy.Player, reason events.Reason) {
	id := player.ID()
	if !g.registry.MarkAuthenticated(user, player, reason) {
		g.logger.Debug("authorize ignored",
			"event", "authorize_noop",
			"player", player.Name(),
		)
		return
	}

	user.RecordAuthentication(g.now())
	if err := g.users.Update(ctx, user); err != nil {
		g.logger.Warn("failed to record authentication",
			"event", "authorize_record_failed",
			"user_id", user.ID.String(),
			"error", err.Error(),
		)
	}

	g.logger.Info("player authenticated",
		"event", "authenticated",
		"player", player.Name(),
		"reason", reason.String(),
	)

	if pr, ok := g.pending.Take(id); ok {
		g.pendingChanged()
		g.resolve(pr.Route, g.engine.ChooseDestination(pr.User, player, true, false), true)
		return
	}
	g.transfer(ctx, user, player)
}

func (g *Gate) transfer(ctx context.Context, user *auth.User, player proxy.Player) {
	dest := g.engine.ChooseDestination(user, player, true, false)
	if dest == nil {
		player.Disconnect(g.messages.Get("kick-no-lobby"))
		g.routeResolved(OutcomeNoLobby)
		return
	}

	target := *dest
	player.Connect(ctx, target, func(res proxy.ConnectResult) {
		if res.Success {
			g.routeResolved(OutcomeLobby)
			return
		}
		if current, ok := player.CurrentBackend(); ok && strings.EqualFold(current, target.Name) {
			return
		}
		reason := res.Reason
		if reason == "" {
			reason = g.messages.Get("kick-error")
		}
		g.logger.Warn("transfer failed",
			"event", "transfer_failed",
			"player", player.Name(),
			"backend", target.Name,
			"reason", res.Reason,
		)
		player.Disconnect(reason)
		g.routeResolved(OutcomeFailed)
	})
}

// DialogResponse forwards a client dialog reply.
func (g *Gate) DialogResponse(ctx context.Context, player proxy.Player, resp dialog.Response) {
	g.dialogs.Handle(ctx, player, resp)
}

// Command handles a chat line from player. Authentication commands are
// consumed and true is returned; anything else is left to the caller.
func (g *Gate) Command(ctx context.Context, player proxy.Player, text string) bool {
	if !legacy.IsCommand(text) {
		return false
	}
	cmd, err := legacy.Parse(text)
	if err != nil {
		if auth.ErrorCode(err) != legacy.CodeUsage {
			return false
		}
		key := "prompt-login"
		if cmd.Kind == legacy.KindRegister {
			key = "prompt-register"
		}
		player.SendMessage(g.messages.Get(key))
		return true
	}

	ctx, span := tracer.Start(ctx, "gate.command",
		trace.WithAttributes(
			attribute.String("command.name", cmd.Kind.String()),
			attribute.String("player.id", player.ID().String()),
		))
	defer span.End()

	g.logger.DebugContext(ctx, "auth command",
		"event", "command_received",
		"player", player.Name(),
		"command", cmd.Kind.String(),
	)
	switch cmd.Kind {
	case legacy.KindRegister:
		g.dialogs.RegisterCommand(ctx, player, cmd.Password, cmd.Confirm)
	default:
		g.dialogs.LoginCommand(ctx, player, cmd.Password)
	}
	return true
}

// Kicked decides what happens to a player dropped by a backend.
func (g *Gate) Kicked(ctx context.Context, ev proxy.KickEvent) proxy.KickResult {
	notice := g.messages.Get("info-kick", "%reason%", ev.Reason)
	if ev.DuringConnect {
		return proxy.KickResult{Action: proxy.KickNotify, Message: notice}
	}
	if !g.engine.FallbackEnabled() || g.engine.IsLobby(ev.Backend) {
		return proxy.KickResult{Action: proxy.KickDisconnect, Message: notice}
	}

	id := ev.Player.ID()
	user, err := g.users.GetByID(ctx, id)
	if err != nil {
		g.logger.Warn("kick recovery without user record",
			"event", "kick_user_lookup_failed",
			"player", ev.Player.Name(),
			"error", err.Error(),
		)
		user = nil
	}

	dest := g.engine.ChooseExcluding(user, ev.Player, g.registry.IsAuthenticated(id), ev.Backend)
	if dest == nil {
		return proxy.KickResult{Action: proxy.KickDisconnect, Message: notice}
	}
	g.logger.Info("redirecting kicked player",
		"event", "kick_redirect",
		"player", ev.Player.Name(),
		"from", ev.Backend,
		"to", dest.Name,
	)
	return proxy.KickResult{Action: proxy.KickRedirect, Backend: dest, Message: notice}
}

// Disconnect forgets everything about player. It is safe to call more than
// once and at any point of the flow. A connection that does not own its
// identity leaves the owner's state alone.
func (g *Gate) Disconnect(ctx context.Context, player proxy.Player) {
	id := player.ID()
	g.connMu.Lock()
	if owner, ok := g.conns[id]; ok && owner != player {
		g.connMu.Unlock()
		g.logger.Debug("ignoring disconnect of non-owning connection",
			"event", "disconnect_not_owner",
			"player", player.Name(),
		)
		return
	}
	delete(g.conns, id)
	g.connMu.Unlock()

	if _, ok := g.pending.TakeFor(id, player); ok {
		g.pendingChanged()
		g.logger.Debug("dropped pending route on disconnect",
			"event", "pending_route_dropped",
			"player", player.Name(),
		)
	}
	g.registry.End(id)
	g.limiter.Forget(id)
	if err := g.presence.Untrack(ctx, id); err != nil {
		g.logger.Warn("failed to clear presence",
			"event", "presence_untrack_failed",
			"player", player.Name(),
			"error", err.Error(),
		)
	}
}

// Run enforces the dialog timeout until ctx is cancelled. With no timeout
// configured it just waits.
func (g *Gate) Run(ctx context.Context) error {
	if g.cfg.DialogTimeout <= 0 {
		<-ctx.Done()
		return nil
	}

	interval := max(g.cfg.DialogTimeout/4, 100*time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.SweepExpired()
		}
	}
}

// SweepExpired disconnects players whose dialog has been open longer than
// the configured timeout and resumes their route with no destination.
func (g *Gate) SweepExpired() int {
	if g.cfg.DialogTimeout <= 0 {
		return 0
	}
	swept := 0
	for _, id := range g.pending.Expired(g.now(), g.cfg.DialogTimeout) {
		pr, ok := g.pending.Take(id)
		if !ok {
			continue
		}
		swept++
		player := pr.Route.Player()
		g.logger.Info("dialog timed out",
			"event", "dialog_timeout",
			"player", player.Name(),
		)
		player.Disconnect(g.messages.Get("kick-time-limit"))
		pr.Route.SetInitialServer(nil)
		pr.Route.Resume()
		g.registry.End(id)
		g.routeResolved(OutcomeTimeout)
	}
	if swept > 0 {
		g.pendingChanged()
	}
	return swept
}

func (g *Gate) routeResolved(outcome string) {
	if g.metrics != nil {
		g.metrics.RouteResolved(outcome)
	}
}

func (g *Gate) pendingChanged() {
	if g.metrics != nil {
		g.metrics.SetPendingRoutes(g.pending.Len())
	}
}
