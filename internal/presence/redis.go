// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package presence

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

const keyPrefix = "gatehouse:presence:"

// untrackScript deletes the key only if this node still owns it.
var untrackScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis records presence as one key per identity whose value is the owning
// node id. Keys expire after ttl unless Run keeps refreshing them.
type Redis struct {
	client goredis.UniversalClient
	nodeID string
	ttl    time.Duration
	logger *slog.Logger

	mu    sync.Mutex
	local map[ulid.ULID]struct{}
}

var _ Checker = (*Redis)(nil)

// NewRedis creates a Redis checker for this node.
func NewRedis(client goredis.UniversalClient, nodeID string, ttl time.Duration, logger *slog.Logger) (*Redis, error) {
	if client == nil {
		return nil, oops.Errorf("redis client is required")
	}
	if nodeID == "" {
		return nil, oops.Errorf("node id is required")
	}
	if ttl <= 0 {
		return nil, oops.With("ttl", ttl).Errorf("ttl must be positive")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Redis{
		client: client,
		nodeID: nodeID,
		ttl:    ttl,
		logger: logger,
		local:  make(map[ulid.ULID]struct{}),
	}, nil
}

// Dial connects to addr and pings it before returning.
func Dial(ctx context.Context, addr, password string) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, oops.Code("PRESENCE_CONNECT_FAILED").With("addr", addr).Wrap(err)
	}
	return client, nil
}

func key(id ulid.ULID) string {
	return keyPrefix + id.String()
}

// Claim implements Checker with SETNX, so two nodes admitting the same
// identity at once cannot both win.
func (r *Redis) Claim(ctx context.Context, id ulid.ULID) (bool, error) {
	ok, err := r.client.SetNX(ctx, key(id), r.nodeID, r.ttl).Result()
	if err != nil {
		return false, oops.Code("PRESENCE_CLAIM_FAILED").With("id", id.String()).Wrap(err)
	}
	if ok {
		r.mu.Lock()
		r.local[id] = struct{}{}
		r.mu.Unlock()
	}
	return ok, nil
}

// Track implements Checker.
func (r *Redis) Track(ctx context.Context, id ulid.ULID) error {
	if err := r.client.Set(ctx, key(id), r.nodeID, r.ttl).Err(); err != nil {
		return oops.Code("PRESENCE_TRACK_FAILED").With("id", id.String()).Wrap(err)
	}
	r.mu.Lock()
	r.local[id] = struct{}{}
	r.mu.Unlock()
	return nil
}

// Untrack implements Checker. A key taken over by another node is left alone.
func (r *Redis) Untrack(ctx context.Context, id ulid.ULID) error {
	r.mu.Lock()
	delete(r.local, id)
	r.mu.Unlock()

	if err := untrackScript.Run(ctx, r.client, []string{key(id)}, r.nodeID).Err(); err != nil && !errors.Is(err, goredis.Nil) {
		return oops.Code("PRESENCE_UNTRACK_FAILED").With("id", id.String()).Wrap(err)
	}
	return nil
}

// IsOnline implements Checker.
func (r *Redis) IsOnline(ctx context.Context, id ulid.ULID) (bool, error) {
	n, err := r.client.Exists(ctx, key(id)).Result()
	if err != nil {
		return false, oops.Code("PRESENCE_LOOKUP_FAILED").With("id", id.String()).Wrap(err)
	}
	return n > 0, nil
}

// IsLocal implements Checker.
func (r *Redis) IsLocal(ctx context.Context, id ulid.ULID) (bool, error) {
	owner, err := r.client.Get(ctx, key(id)).Result()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, oops.Code("PRESENCE_LOOKUP_FAILED").With("id", id.String()).Wrap(err)
	}
	return owner == r.nodeID, nil
}

// Run refreshes the TTL of every locally tracked identity until ctx ends.
func (r *Redis) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *Redis) refresh(ctx context.Context) {
	r.mu.Lock()
	ids := make([]ulid.ULID, 0, len(r.local))
	for id := range r.local {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	if len(ids) == 0 {
		return
	}

	pipe := r.client.Pipeline()
	for _, id := range ids {
		pipe.Set(ctx, key(id), r.nodeID, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("presence refresh failed",
			"event", "presence_refresh_failed",
			"count", len(ids),
			"error", err.Error(),
		)
	}
}
