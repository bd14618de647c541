// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bufio"
	"log/slog"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/gatehouse/internal/auth"
)

// NewHashPasswordCmd creates the hash-password subcommand. It lets an
// operator recover an account whose stored credential can no longer be
// verified.
func NewHashPasswordCmd(deps *Deps) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password with the configured policy and algorithm",
		Long: `Read a password from the first line of standard input and hash it
with the configured algorithm after checking it against the password
policy. With --user the credential is stored for that account instead of
being printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHashPassword(cmd, deps, user)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "store the credential for this user name")
	return cmd
}

func runHashPassword(cmd *cobra.Command, deps *Deps, userName string) error {
	deps = deps.withDefaults()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	password, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && password == "" {
		return oops.Code("HASH_INPUT_MISSING").Errorf("no password on standard input")
	}
	password = strings.TrimRight(password, "\r\n")

	policy, err := cfg.Policy()
	if err != nil {
		return err
	}
	verifier, err := auth.NewVerifier(policy, cfg.Password.Algorithm, cfg.Providers()...)
	if err != nil {
		return err
	}
	cred, err := verifier.Hash(password)
	if err != nil {
		return err
	}

	if userName == "" {
		cmd.Printf("algorithm: %s\nhash: %s\nsalt: %s\nparams: %s\n", cred.Algorithm, cred.Hash, cred.Salt, cred.Params)
		return nil
	}

	if cfg.DatabaseURL == "" {
		return oops.Code("CONFIG_INVALID").With("field", "database_url").
			Errorf("database_url (or DATABASE_URL) is required with --user")
	}
	ctx := cmd.Context()
	users, closeUsers, err := deps.UsersFactory(ctx, cfg.DatabaseURL, slog.New(slog.DiscardHandler))
	if err != nil {
		return err
	}
	defer closeUsers()

	u, err := users.GetByName(ctx, userName)
	if err != nil {
		return oops.Code("HASH_USER_LOOKUP_FAILED").With("user", userName).Wrap(err)
	}
	u.SetCredential(cred)
	if err := users.Update(ctx, u); err != nil {
		return oops.Code("HASH_USER_UPDATE_FAILED").With("user", userName).Wrap(err)
	}
	cmd.Printf("Stored new %s credential for %s\n", cred.Algorithm, u.Name)
	return nil
}
