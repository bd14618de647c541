// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package wsgate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/gatehouse/internal/dialog"
	"github.com/holomush/gatehouse/internal/proxy"
)

// player is a proxy.Player backed by one WebSocket connection.
type player struct {
	id       ulid.ULID
	name     string
	protocol int

	conn         *websocket.Conn
	ctx          context.Context
	cancel       context.CancelFunc
	writeTimeout time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	backend string
	closed  bool
}

func (p *player) ID() ulid.ULID        { return p.id }
func (p *player) Name() string         { return p.name }
func (p *player) ProtocolVersion() int { return p.protocol }

func (p *player) CurrentBackend() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.backend, p.backend != ""
}

func (p *player) send(ctx context.Context, typ string, payload any) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return oops.Code("WS_CONN_CLOSED").With("type", typ).Errorf("connection closed")
	}

	env, err := newEnvelope(typ, payload)
	if err != nil {
		return oops.Code("WS_ENCODE_FAILED").With("type", typ).Wrap(err)
	}
	ctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, p.conn, env); err != nil {
		return oops.Code("WS_WRITE_FAILED").With("type", typ).Wrap(err)
	}
	return nil
}

func (p *player) SendMessage(text string) {
	if err := p.send(p.ctx, TypeMessage, Message{Text: text}); err != nil {
		p.logger.WarnContext(p.ctx, "message not delivered",
			"event", "ws_message_failed",
			"player", p.name,
			"error", err.Error(),
		)
	}
}

// Disconnect sends the reason and ends the connection. Later calls are
// no-ops.
func (p *player) Disconnect(reason string) {
	if err := p.send(p.ctx, TypeDisconnect, Disconnect{Reason: reason}); err != nil {
		p.logger.DebugContext(p.ctx, "disconnect notice not delivered",
			"event", "ws_disconnect_notice_failed",
			"player", p.name,
			"error", err.Error(),
		)
	}
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()
}

// Connect tells the client to attach to backend. Delivery is the transfer:
// done reports success once the instruction is written.
func (p *player) Connect(ctx context.Context, backend proxy.Backend, done func(proxy.ConnectResult)) {
	if err := p.send(ctx, TypeTransfer, Transfer{Backend: backend.Name, Address: backend.Address}); err != nil {
		done(proxy.ConnectResult{Reason: err.Error()})
		return
	}
	p.mu.Lock()
	p.backend = backend.Name
	p.mu.Unlock()
	done(proxy.ConnectResult{Success: true})
}

// route is the suspendable initial-route decision for one connection.
type route struct {
	player *player
	logger *slog.Logger

	mu      sync.Mutex
	server  *proxy.Backend
	resumed bool
}

func (r *route) Player() proxy.Player { return r.player }

func (r *route) SetInitialServer(backend *proxy.Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if backend == nil {
		r.server = nil
		return
	}
	b := *backend
	r.server = &b
}

func (r *route) Resume() {
	r.mu.Lock()
	if r.resumed {
		r.mu.Unlock()
		r.logger.Error("initial route resumed twice",
			"event", "ws_route_double_resume",
			"player", r.player.name,
		)
		return
	}
	r.resumed = true
	server := r.server
	r.mu.Unlock()

	if server == nil {
		return
	}
	r.player.Connect(r.player.ctx, *server, func(res proxy.ConnectResult) {
		if !res.Success {
			r.player.Disconnect(res.Reason)
		}
	})
}

// Transport delivers dialogs over the WebSocket of a player created by a
// Server.
type Transport struct{}

// ProtocolVersion returns the version the client sent in its hello.
func (Transport) ProtocolVersion(p proxy.Player) int {
	return p.ProtocolVersion()
}

// Send writes a show_dialog envelope.
func (Transport) Send(ctx context.Context, p proxy.Player, req dialog.Request) error {
	wp, ok := p.(*player)
	if !ok {
		return oops.Code("WS_FOREIGN_PLAYER").With("player", p.Name()).Errorf("player is not a WebSocket connection")
	}
	return wp.send(ctx, TypeShowDialog, ShowDialog{Mode: req.Mode.String(), Request: req})
}
