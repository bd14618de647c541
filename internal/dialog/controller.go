// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package dialog runs the credential form exchange with a client: it shows
// the login or registration form, interprets the asynchronous replies and
// hands verified players to an Authorizer.
package dialog

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/gatehouse/internal/auth"
	"github.com/holomush/gatehouse/internal/events"
	"github.com/holomush/gatehouse/internal/presence"
	"github.com/holomush/gatehouse/internal/proxy"
	"github.com/holomush/gatehouse/internal/session"
	"github.com/holomush/gatehouse/pkg/errutil"
)

// DefaultMinProtocol is the first client protocol that understands dialogs.
const DefaultMinProtocol = 771

// Transport delivers forms to clients.
type Transport interface {
	// ProtocolVersion returns the protocol negotiated with the player.
	ProtocolVersion(player proxy.Player) int
	Send(ctx context.Context, player proxy.Player, req Request) error
}

// Messages resolves message keys.
type Messages interface {
	Get(key string, replacements ...string) string
	IsEmpty(key string) bool
}

// Authorizer completes authentication: it marks the session and resumes or
// starts routing.
type Authorizer interface {
	Authorize(ctx context.Context, user *auth.User, player proxy.Player, reason events.Reason)
}

// Metrics counts dialogs sent.
type Metrics interface {
	DialogSent(mode string)
}

// Deps are the collaborators of a Controller. Metrics is optional.
type Deps struct {
	Registry    *session.Registry
	Pending     *session.PendingTable
	Users       auth.UserRepository
	Verifier    *auth.Verifier
	Messages    Messages
	Transport   Transport
	Presence    presence.Checker
	Bus         *events.Bus
	Authorizer  Authorizer
	Metrics     Metrics
	MinProtocol int
}

// Controller drives the per-connection dialog state machine
// idle -> awaiting -> verifying -> idle | awaiting.
type Controller struct {
	Deps
	logger *slog.Logger
}

// NewController creates a Controller that discards logs.
func NewController(deps Deps) (*Controller, error) {
	return NewControllerWithLogger(deps, slog.New(slog.DiscardHandler))
}

// NewControllerWithLogger creates a Controller with the provided logger.
func NewControllerWithLogger(deps Deps, logger *slog.Logger) (*Controller, error) {
	switch {
	case deps.Registry == nil:
		return nil, oops.Errorf("session registry is required")
	case deps.Pending == nil:
		return nil, oops.Errorf("pending route table is required")
	case deps.Users == nil:
		return nil, oops.Errorf("user repository is required")
	case deps.Verifier == nil:
		return nil, oops.Errorf("verifier is required")
	case deps.Messages == nil:
		return nil, oops.Errorf("messages are required")
	case deps.Transport == nil:
		return nil, oops.Errorf("transport is required")
	case deps.Presence == nil:
		return nil, oops.Errorf("presence checker is required")
	case deps.Authorizer == nil:
		return nil, oops.Errorf("authorizer is required")
	case logger == nil:
		return nil, oops.Errorf("logger is required")
	}
	if deps.MinProtocol <= 0 {
		deps.MinProtocol = DefaultMinProtocol
	}
	return &Controller{Deps: deps, logger: logger}, nil
}

// Supports reports whether the player's client can display dialogs.
func (c *Controller) Supports(player proxy.Player) bool {
	return c.Transport.ProtocolVersion(player) >= c.MinProtocol
}

// CheckAndSend shows the login form, or the registration form when the
// player has no password yet. It returns false when the client cannot show
// dialogs or the form could not be delivered; the caller then falls back to
// the text prompt.
func (c *Controller) CheckAndSend(ctx context.Context, player proxy.Player, registered bool) bool {
	if !c.Supports(player) {
		c.logger.Debug("client below dialog protocol",
			"event", "dialog_unsupported",
			"player", player.Name(),
			"protocol", c.Transport.ProtocolVersion(player),
			"min_protocol", c.MinProtocol,
		)
		return false
	}
	return c.show(ctx, player, !registered)
}

// Handle dispatches a client reply.
func (c *Controller) Handle(ctx context.Context, player proxy.Player, resp Response) {
	switch r := resp.(type) {
	case Submitted:
		c.OnSubmit(ctx, player, r.DialogID, r.Fields)
	case Cancelled:
		c.OnCancel(ctx, player, r.DialogID)
	case Unrecognized:
		c.logger.Warn("unrecognized dialog action",
			"event", "dialog_action_unrecognized",
			"player", player.Name(),
			"dialog_id", r.DialogID.String(),
			"action", r.Action,
		)
	}
}

// OnCancel disconnects the player and drops its pending route. Replies for
// a dialog that is no longer shown are ignored.
func (c *Controller) OnCancel(_ context.Context, player proxy.Player, dialogID ulid.ULID) {
	id := player.ID()
	if _, ok := c.Registry.ClaimDialog(id, dialogID); !ok {
		c.logStale(player, dialogID)
		return
	}

	c.Pending.Take(id)
	c.Registry.End(id)
	player.Disconnect(c.Messages.Get("dialog-kick-cancel"))
}

// OnSubmit verifies a submitted form.
func (c *Controller) OnSubmit(ctx context.Context, player proxy.Player, dialogID ulid.ULID, fields map[string]string) {
	id := player.ID()
	sess, ok := c.Registry.ClaimDialog(id, dialogID)
	if !ok {
		c.logStale(player, dialogID)
		return
	}

	user, err := c.Users.GetByID(ctx, id)
	if err != nil {
		errutil.LogError(c.logger, "load user for dialog response", err)
		c.Registry.Release(id)
		player.Disconnect(c.Messages.Get("kick-error"))
		return
	}

	if sess.Registering {
		c.register(ctx, player, user, fields)
		return
	}
	c.login(ctx, player, user, fields)
}

func (c *Controller) login(ctx context.Context, player proxy.Player, user *auth.User, fields map[string]string) {
	password := fields[FieldPassword]
	if password == "" {
		c.reshow(ctx, player, false)
		return
	}

	c.notify(player, "info-logging-in")
	switch c.Verifier.Verify(password, user.Credential) {
	case auth.VerifyMatch:
		c.succeed(ctx, player, user, events.ReasonLogin)
	case auth.VerifyMismatch:
		c.wrongAttempt(ctx, player, user, events.SourceLogin, "error-password-wrong")
		c.reshow(ctx, player, false)
	default:
		errutil.LogError(c.logger, "stored credential cannot be verified",
			oops.Code("AUTH_CREDENTIAL_UNSUPPORTED").
				With("user_id", user.ID.String()).
				With("algorithm", algorithmOf(user.Credential)).
				Errorf("account requires manual recovery"))
		player.SendMessage(c.Messages.Get("error-password-corrupted"))
		c.reshow(ctx, player, false)
	}
}

func (c *Controller) register(ctx context.Context, player proxy.Player, user *auth.User, fields map[string]string) {
	password := fields[FieldPassword]
	confirm := fields[FieldConfirmPassword]
	if password == "" || confirm == "" {
		c.reshow(ctx, player, true)
		return
	}
	if password != confirm {
		c.wrongAttempt(ctx, player, user, events.SourceConfirmation, "error-password-not-match")
		c.reshow(ctx, player, true)
		return
	}

	cred, err := c.Verifier.Hash(password)
	if err != nil {
		player.SendMessage(c.policyMessage(err))
		c.reshow(ctx, player, true)
		return
	}

	c.notify(player, "info-registering")
	user.SetCredential(cred)
	if err := c.Users.Update(ctx, user); err != nil {
		errutil.LogError(c.logger, "store new credential", err)
		player.SendMessage(c.Messages.Get("error-occurred"))
		c.reshow(ctx, player, true)
		return
	}
	c.succeed(ctx, player, user, events.ReasonRegister)
}

func (c *Controller) succeed(ctx context.Context, player proxy.Player, user *auth.User, reason events.Reason) {
	c.Registry.Release(player.ID())
	if reason == events.ReasonRegister {
		c.notify(player, "info-registered")
	} else {
		c.notify(player, "info-logged-in")
	}
	c.Authorizer.Authorize(ctx, user, player, reason)
}

// wrongAttempt publishes the failure and tells the player why, but only
// when the player is known to be connected here. A player served by another
// node sharing the store is not told.
func (c *Controller) wrongAttempt(ctx context.Context, player proxy.Player, user *auth.User, source events.Source, key string) {
	c.Bus.PublishWrongPassword(events.WrongPassword{User: user, Player: player, Source: source})
	if c.reachable(ctx, player) {
		player.SendMessage(c.Messages.Get(key))
	}
}

func (c *Controller) reachable(ctx context.Context, player proxy.Player) bool {
	local, err := c.Presence.IsLocal(ctx, player.ID())
	if err != nil {
		c.logger.Warn("presence lookup failed",
			"event", "presence_lookup_failed",
			"player", player.Name(),
			"error", err.Error(),
		)
		return false
	}
	return local
}

func (c *Controller) policyMessage(err error) string {
	policy := c.Verifier.Policy()
	switch auth.ErrorCode(err) {
	case auth.CodePasswordTooShort:
		return c.Messages.Get("error-password-too-short", "%length%", strconv.Itoa(policy.MinLength()))
	case auth.CodePasswordTooLong:
		return c.Messages.Get("error-password-too-long", "%length%", strconv.Itoa(policy.MaxLength()))
	case auth.CodePasswordTooManyBytes:
		return c.Messages.Get("error-password-too-many-bytes", "%bytes%", strconv.Itoa(policy.MaxBytes()))
	case auth.CodePasswordForbidden:
		return c.Messages.Get("error-forbidden-password")
	default:
		errutil.LogError(c.logger, "hash new password", err)
		return c.Messages.Get("error-occurred")
	}
}

// show sends a new dialog instance, superseding any earlier one.
func (c *Controller) show(ctx context.Context, player proxy.Player, registering bool) bool {
	req := c.buildRequest(player, registering)
	id := player.ID()

	if !c.Registry.SetAwaiting(id, req.ID, registering) {
		c.logger.Debug("no session for dialog",
			"event", "dialog_session_gone",
			"player", player.Name(),
		)
		return false
	}
	if err := c.Transport.Send(ctx, player, req); err != nil {
		c.Registry.Release(id)
		c.logger.Warn("dialog delivery failed",
			"event", "dialog_send_failed",
			"player", player.Name(),
			"mode", req.Mode.String(),
			"error", err.Error(),
		)
		return false
	}
	if c.Metrics != nil {
		c.Metrics.DialogSent(req.Mode.String())
	}
	c.logger.Debug("dialog sent",
		"event", "dialog_sent",
		"player", player.Name(),
		"mode", req.Mode.String(),
		"dialog_id", req.ID.String(),
	)
	return true
}

// reshow puts the form back in front of the player mid-flow. If that fails
// the player is disconnected rather than left waiting on nothing.
func (c *Controller) reshow(ctx context.Context, player proxy.Player, registering bool) {
	if c.show(ctx, player, registering) || !c.Registry.Exists(player.ID()) {
		return
	}
	player.Disconnect(c.Messages.Get("kick-error"))
}

func (c *Controller) buildRequest(player proxy.Player, registering bool) Request {
	maxLen := c.Verifier.Policy().MaxLength()
	req := Request{
		ID:     ulid.Make(),
		Mode:   ModeLogin,
		Title:  c.Messages.Get("title-login"),
		Body:   c.Messages.Get("dialog-login-prompt", "%name%", player.Name()),
		Inputs: []Input{{Key: FieldPassword, Label: c.Messages.Get("dialog-input-password"), MaxLength: maxLen}},
		Submit: Button{Action: ActionSubmit, Label: c.Messages.Get("dialog-button-submit")},
		Cancel: Button{Action: ActionCancel, Label: c.Messages.Get("dialog-button-cancel")},
	}
	if registering {
		req.Mode = ModeRegister
		req.Title = c.Messages.Get("title-register")
		req.Body = c.Messages.Get("dialog-register-prompt", "%name%", player.Name())
		req.Inputs = append(req.Inputs, Input{
			Key:       FieldConfirmPassword,
			Label:     c.Messages.Get("dialog-input-confirm-password"),
			MaxLength: maxLen,
		})
	}
	return req
}

func (c *Controller) notify(player proxy.Player, key string) {
	if !c.Messages.IsEmpty(key) {
		player.SendMessage(c.Messages.Get(key))
	}
}

func (c *Controller) logStale(player proxy.Player, dialogID ulid.ULID) {
	c.logger.Debug("ignoring reply for dialog not shown",
		"event", "dialog_reply_stale",
		"player", player.Name(),
		"dialog_id", dialogID.String(),
	)
}

func algorithmOf(c *auth.HashedCredential) string {
	if c == nil {
		return ""
	}
	return c.Algorithm
}
