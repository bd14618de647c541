// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package wsgate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/gatehouse/internal/dialog"
	"github.com/holomush/gatehouse/internal/gate"
	"github.com/holomush/gatehouse/internal/logging"
	"github.com/holomush/gatehouse/internal/proxy"
	"github.com/holomush/gatehouse/pkg/errutil"
)

// Gate is the part of gate.Gate the host drives.
type Gate interface {
	PreLogin(ctx context.Context, name string) (gate.Admission, error)
	PostLogin(ctx context.Context, player proxy.Player) error
	ChooseInitialServer(ctx context.Context, route proxy.InitialRoute)
	DialogResponse(ctx context.Context, player proxy.Player, resp dialog.Response)
	Command(ctx context.Context, player proxy.Player, text string) bool
	Kicked(ctx context.Context, ev proxy.KickEvent) proxy.KickResult
	Disconnect(ctx context.Context, player proxy.Player)
}

// Config tunes the WebSocket host. Zero values use defaults.
type Config struct {
	HelloTimeout time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
	// OriginPatterns are passed to websocket.Accept for cross-origin
	// clients.
	OriginPatterns []string
}

const (
	defaultHelloTimeout = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultReadLimit    = 16 << 10
	maxCloseReason      = 120
)

// Server accepts WebSocket players and feeds their lifecycle to a Gate.
type Server struct {
	gate     Gate
	messages dialog.Messages
	cfg      Config
	logger   *slog.Logger
}

// NewServer creates a Server that discards logs.
func NewServer(g Gate, messages dialog.Messages, cfg Config) (*Server, error) {
	return NewServerWithLogger(g, messages, cfg, slog.New(slog.DiscardHandler))
}

// NewServerWithLogger creates a Server with the provided logger.
func NewServerWithLogger(g Gate, messages dialog.Messages, cfg Config, logger *slog.Logger) (*Server, error) {
	if g == nil {
		return nil, oops.Errorf("gate is required")
	}
	if messages == nil {
		return nil, oops.Errorf("messages are required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	if cfg.HelloTimeout <= 0 {
		cfg.HelloTimeout = defaultHelloTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}
	return &Server{gate: g, messages: messages, cfg: cfg, logger: logger}, nil
}

// ServeHTTP upgrades the request and runs the connection until either side
// closes it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.OriginPatterns})
	if err != nil {
		s.logger.Info("websocket upgrade refused", "event", "ws_accept_failed", "remote", r.RemoteAddr, "error", err.Error())
		return
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(s.cfg.ReadLimit)

	ctx, cancel := context.WithCancel(logging.WithConnID(r.Context(), ulid.Make().String()))
	defer cancel()

	hello, err := s.readHello(ctx, conn)
	if err != nil {
		s.logger.InfoContext(ctx, "connection without hello", "event", "ws_hello_missing", "remote", r.RemoteAddr, "error", err.Error())
		_ = conn.Close(websocket.StatusPolicyViolation, "hello required")
		return
	}

	adm, err := s.gate.PreLogin(ctx, hello.Name)
	if err != nil {
		errutil.LogErrorContext(ctx, s.logger, "pre-login failed", err, "name", hello.Name)
		s.refuse(ctx, conn, s.messages.Get("kick-error"))
		return
	}
	if adm.Denied() {
		s.refuse(ctx, conn, adm.DenyReason)
		return
	}

	p := &player{
		id:           adm.ID,
		name:         adm.Name,
		protocol:     hello.Protocol,
		conn:         conn,
		ctx:          ctx,
		cancel:       cancel,
		writeTimeout: s.cfg.WriteTimeout,
		logger:       s.logger,
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
	// The gate forgets the player before the close handshake. ctx may
	// already be done by then.
	defer s.gate.Disconnect(context.WithoutCancel(ctx), p)

	s.logger.InfoContext(ctx, "player connected",
		"event", "ws_connected",
		"player", p.name,
		"protocol", p.protocol,
		"registered", adm.Registered,
	)

	if err := s.gate.PostLogin(ctx, p); err != nil {
		errutil.LogErrorContext(ctx, s.logger, "post-login failed", err)
		p.Disconnect(s.messages.Get("kick-error"))
		return
	}

	s.gate.ChooseInitialServer(ctx, &route{player: p, logger: s.logger})
	s.readLoop(ctx, conn, p)

	s.logger.InfoContext(ctx, "player disconnected", "event", "ws_disconnected", "player", p.name)
}

func (s *Server) readHello(ctx context.Context, conn *websocket.Conn) (Hello, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.HelloTimeout)
	defer cancel()

	env, err := readEnvelope(ctx, conn)
	if err != nil {
		return Hello{}, err
	}
	if env.Type != TypeHello {
		return Hello{}, oops.Code("WS_HELLO_EXPECTED").With("type", env.Type).Errorf("first message must be hello")
	}
	var hello Hello
	if err := json.Unmarshal(env.Payload, &hello); err != nil {
		return Hello{}, oops.Code("WS_MALFORMED_ENVELOPE").With("type", env.Type).Wrap(err)
	}
	return hello, nil
}

func (s *Server) refuse(ctx context.Context, conn *websocket.Conn, reason string) {
	env, err := newEnvelope(TypeDisconnect, Disconnect{Reason: reason})
	if err == nil {
		wctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
		_ = writeEnvelope(wctx, conn, env)
		cancel()
	}
	_ = conn.Close(websocket.StatusPolicyViolation, truncate(reason, maxCloseReason))
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, p *player) {
	for {
		env, err := readEnvelope(ctx, conn)
		if err != nil {
			var malformed *malformedError
			if errors.As(err, &malformed) {
				s.logger.WarnContext(ctx, "malformed envelope",
					"event", "ws_malformed_envelope",
					"player", p.name,
					"error", err.Error(),
				)
				continue
			}
			s.logger.DebugContext(ctx, "read loop ended",
				"event", "ws_read_ended",
				"player", p.name,
				"close_status", int(websocket.CloseStatus(err)),
				"error", err.Error(),
			)
			return
		}

		switch env.Type {
		case TypeDialogAction:
			s.onDialogAction(ctx, p, env)
		case TypeKicked:
			s.onKicked(ctx, p, env)
		case TypeChat:
			s.onChat(ctx, p, env)
		default:
			s.logger.WarnContext(ctx, "unexpected envelope",
				"event", "ws_unexpected_envelope",
				"player", p.name,
				"type", env.Type,
			)
		}
	}
}

func (s *Server) onDialogAction(ctx context.Context, p *player, env Envelope) {
	var action DialogAction
	if err := json.Unmarshal(env.Payload, &action); err != nil {
		s.logger.WarnContext(ctx, "malformed dialog action", "event", "ws_malformed_envelope", "player", p.name, "error", err.Error())
		return
	}
	dialogID, err := ulid.Parse(action.DialogID)
	if err != nil {
		s.logger.WarnContext(ctx, "dialog action with bad id",
			"event", "ws_malformed_envelope",
			"player", p.name,
			"dialog_id", action.DialogID,
		)
		return
	}
	s.gate.DialogResponse(ctx, p, dialog.Decode(dialogID, action.Action, action.Payload))
}

func (s *Server) onChat(ctx context.Context, p *player, env Envelope) {
	var chat Chat
	if err := json.Unmarshal(env.Payload, &chat); err != nil {
		s.logger.WarnContext(ctx, "malformed chat", "event", "ws_malformed_envelope", "player", p.name, "error", err.Error())
		return
	}
	if !s.gate.Command(ctx, p, chat.Text) {
		s.logger.DebugContext(ctx, "chat dropped",
			"event", "ws_chat_dropped",
			"player", p.name,
		)
	}
}

func (s *Server) onKicked(ctx context.Context, p *player, env Envelope) {
	var kick Kicked
	if err := json.Unmarshal(env.Payload, &kick); err != nil {
		s.logger.WarnContext(ctx, "malformed kick", "event", "ws_malformed_envelope", "player", p.name, "error", err.Error())
		return
	}

	res := s.gate.Kicked(ctx, proxy.KickEvent{
		Player:        p,
		Backend:       kick.Backend,
		Reason:        kick.Reason,
		DuringConnect: kick.DuringConnect,
	})
	s.logger.InfoContext(ctx, "backend kick handled",
		"event", "ws_kick",
		"player", p.name,
		"backend", kick.Backend,
		"action", res.Action.String(),
	)

	switch res.Action {
	case proxy.KickNotify:
		p.SendMessage(res.Message)
	case proxy.KickRedirect:
		if res.Message != "" {
			p.SendMessage(res.Message)
		}
		p.Connect(ctx, *res.Backend, func(cr proxy.ConnectResult) {
			if !cr.Success {
				p.Disconnect(cr.Reason)
			}
		})
	default:
		p.Disconnect(res.Message)
	}
}

type malformedError struct{ err error }

func (e *malformedError) Error() string { return "malformed envelope: " + e.err.Error() }
func (e *malformedError) Unwrap() error { return e.err }

func readEnvelope(ctx context.Context, conn *websocket.Conn) (Envelope, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, &malformedError{err: err}
	}
	if env.Type == "" {
		return Envelope{}, &malformedError{err: errors.New("missing type")}
	}
	return env, nil
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
