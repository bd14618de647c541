// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// ConnectOptions controls how Connect waits for the database.
type ConnectOptions struct {
	// Attempts is the maximum number of pings before giving up.
	Attempts uint64
	// BaseDelay is the first backoff delay; later delays grow exponentially.
	BaseDelay time.Duration
	Logger    *slog.Logger
}

// DefaultConnectOptions returns options suited to a database that may still
// be starting next to the gate.
func DefaultConnectOptions() ConnectOptions {
	return ConnectOptions{
		Attempts:  8,
		BaseDelay: 250 * time.Millisecond,
		Logger:    slog.Default(),
	}
}

// Connect opens a pgx pool and pings it with exponential backoff.
func Connect(ctx context.Context, databaseURL string, opts ConnectOptions) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, oops.Code("DB_URL_MISSING").Errorf("database URL is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Attempts == 0 {
		opts.Attempts = 1
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	backoff := retry.WithMaxRetries(opts.Attempts-1, retry.NewExponential(opts.BaseDelay))
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if pingErr := pool.Ping(ctx); pingErr != nil {
			opts.Logger.Warn("database not reachable yet",
				"event", "db_ping_failed",
				"attempt", attempt,
				"error", pingErr.Error(),
			)
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping").
			With("attempts", attempt).
			Wrap(err)
	}
	return pool, nil
}
