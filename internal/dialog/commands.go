// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package dialog

import (
	"context"

	"github.com/samber/oops"

	"github.com/holomush/gatehouse/internal/auth"
	"github.com/holomush/gatehouse/internal/events"
	"github.com/holomush/gatehouse/internal/proxy"
	"github.com/holomush/gatehouse/pkg/errutil"
)

// LoginCommand authenticates a player who typed their password as a chat
// command instead of answering a form. Clients below the dialog protocol
// use this path.
func (c *Controller) LoginCommand(ctx context.Context, player proxy.Player, password string) {
	user, ok := c.commandUser(ctx, player)
	if !ok {
		return
	}
	if !user.IsRegistered() {
		c.notify(player, "prompt-register")
		return
	}

	c.notify(player, "info-logging-in")
	switch c.Verifier.Verify(password, user.Credential) {
	case auth.VerifyMatch:
		c.succeed(ctx, player, user, events.ReasonLogin)
	case auth.VerifyMismatch:
		c.wrongAttempt(ctx, player, user, events.SourceLogin, "error-password-wrong")
	default:
		errutil.LogError(c.logger, "stored credential cannot be verified",
			oops.Code("AUTH_CREDENTIAL_UNSUPPORTED").
				With("user_id", user.ID.String()).
				With("algorithm", algorithmOf(user.Credential)).
				Errorf("account requires manual recovery"))
		player.SendMessage(c.Messages.Get("error-password-corrupted"))
	}
}

// RegisterCommand sets the first password of a player from a chat command.
func (c *Controller) RegisterCommand(ctx context.Context, player proxy.Player, password, confirm string) {
	user, ok := c.commandUser(ctx, player)
	if !ok {
		return
	}
	if user.IsRegistered() {
		c.notify(player, "prompt-login")
		return
	}
	if password != confirm {
		c.wrongAttempt(ctx, player, user, events.SourceConfirmation, "error-password-not-match")
		return
	}

	cred, err := c.Verifier.Hash(password)
	if err != nil {
		player.SendMessage(c.policyMessage(err))
		return
	}

	c.notify(player, "info-registering")
	user.SetCredential(cred)
	if err := c.Users.Update(ctx, user); err != nil {
		errutil.LogError(c.logger, "store new credential", err)
		player.SendMessage(c.Messages.Get("error-occurred"))
		return
	}
	c.succeed(ctx, player, user, events.ReasonRegister)
}

// commandUser loads the user behind a command. Commands from players that
// are already authenticated, or whose session has ended, are ignored.
func (c *Controller) commandUser(ctx context.Context, player proxy.Player) (*auth.User, bool) {
	id := player.ID()
	if !c.Registry.Exists(id) || c.Registry.IsAuthenticated(id) {
		c.logger.Debug("ignoring auth command",
			"event", "command_ignored",
			"player", player.Name(),
		)
		return nil, false
	}

	user, err := c.Users.GetByID(ctx, id)
	if err != nil {
		errutil.LogError(c.logger, "load user for command", err)
		player.SendMessage(c.Messages.Get("error-occurred"))
		return nil, false
	}
	return user, true
}
