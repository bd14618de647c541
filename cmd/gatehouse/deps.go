// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/holomush/gatehouse/internal/auth"
	"github.com/holomush/gatehouse/internal/auth/postgres"
	"github.com/holomush/gatehouse/internal/config"
	"github.com/holomush/gatehouse/internal/presence"
	"github.com/holomush/gatehouse/internal/store"
)

// Migrator is the subset of store.Migrator the migrate command drives.
type Migrator interface {
	Up() error
	Down() error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	Close() error
}

// Deps contains injectable dependencies for the commands. Nil fields use
// their default implementations.
type Deps struct {
	// UsersFactory opens the user store. The returned func releases it.
	// Default: store.Connect + postgres.NewUserRepository
	UsersFactory func(ctx context.Context, databaseURL string, logger *slog.Logger) (auth.UserRepository, func(), error)

	// PresenceFactory builds the presence checker. run, when non-nil, is
	// started in the background; closeFn releases resources.
	// Default: presence.NewRedis when redis_addr is set, else presence.NewLocal
	PresenceFactory func(ctx context.Context, cfg config.Presence, logger *slog.Logger) (checker presence.Checker, run func(context.Context) error, closeFn func(), err error)

	// MigratorFactory creates a migrator.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)

	// Ready is called once serve accepts players.
	Ready func(listenAddr string)
}

func (d *Deps) withDefaults() *Deps {
	out := Deps{}
	if d != nil {
		out = *d
	}
	if out.UsersFactory == nil {
		out.UsersFactory = postgresUsers
	}
	if out.PresenceFactory == nil {
		out.PresenceFactory = defaultPresence
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(url string) (Migrator, error) {
			return store.NewMigrator(url)
		}
	}
	if out.Ready == nil {
		out.Ready = func(string) {}
	}
	return &out
}

func postgresUsers(ctx context.Context, databaseURL string, logger *slog.Logger) (auth.UserRepository, func(), error) {
	opts := store.DefaultConnectOptions()
	opts.Logger = logger
	pool, err := store.Connect(ctx, databaseURL, opts)
	if err != nil {
		return nil, nil, err
	}
	return postgres.NewUserRepository(pool), pool.Close, nil
}

func defaultPresence(ctx context.Context, cfg config.Presence, logger *slog.Logger) (presence.Checker, func(context.Context) error, func(), error) {
	if cfg.RedisAddr == "" {
		return presence.NewLocal(), nil, func() {}, nil
	}

	client, err := presence.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		return nil, nil, nil, err
	}
	nodeID := cfg.NodeID
	if nodeID == "" {
		if nodeID, err = os.Hostname(); err != nil {
			_ = client.Close()
			return nil, nil, nil, err
		}
	}
	checker, err := presence.NewRedis(client, nodeID, cfg.TTL, logger)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, err
	}
	return checker, checker.Run, func() { _ = client.Close() }, nil
}
