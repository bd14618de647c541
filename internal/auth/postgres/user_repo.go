// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres provides PostgreSQL implementations of the auth repositories.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/gatehouse/internal/auth"
)

// Pool is the subset of pgxpool.Pool used by the repositories.
// pgxmock.PgxPoolIface satisfies it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const userColumns = `id, name, hash_algorithm, password_hash, password_salt, hash_params,
		       last_authenticated_at, created_at, updated_at`

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	pool Pool
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create stores a new user.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	algo, hash, salt, params := credentialColumns(user.Credential)

	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (
			id, name, hash_algorithm, password_hash, password_salt, hash_params,
			last_authenticated_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		user.ID.String(),
		user.Name,
		algo,
		hash,
		salt,
		params,
		user.LastAuthenticatedAt,
		user.CreatedAt,
		user.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return oops.Code("USER_NAME_TAKEN").
			With("name", user.Name).
			With("constraint", pgErr.ConstraintName).
			Wrap(auth.ErrAlreadyExists)
	}
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("name", user.Name).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by identity.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id.String())

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").
			With("operation", "get user by id").
			With("id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// GetByName retrieves a user by name (case-insensitive).
func (r *UserRepository) GetByName(ctx context.Context, name string) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE LOWER(name) = LOWER($1)
	`, name)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("name", name).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_NAME_FAILED").
			With("operation", "get user by name").
			With("name", name).
			Wrap(err)
	}
	return user, nil
}

// Update replaces the stored user.
func (r *UserRepository) Update(ctx context.Context, user *auth.User) error {
	algo, hash, salt, params := credentialColumns(user.Credential)

	result, err := r.pool.Exec(ctx, `
		UPDATE users SET
			name = $2,
			hash_algorithm = $3,
			password_hash = $4,
			password_salt = $5,
			hash_params = $6,
			last_authenticated_at = $7,
			updated_at = $8
		WHERE id = $1
	`,
		user.ID.String(),
		user.Name,
		algo,
		hash,
		salt,
		params,
		user.LastAuthenticatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "update user").
			With("id", user.ID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", user.ID.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// credentialColumns flattens an optional credential into nullable columns.
func credentialColumns(c *auth.HashedCredential) (algo, hash, salt, params *string) {
	if c == nil {
		return nil, nil, nil, nil
	}
	return &c.Algorithm, &c.Hash, &c.Salt, &c.Params
}

// scanUser scans a single row into a User.
// Callers are responsible for handling pgx.ErrNoRows.
func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		idStr               string
		name                string
		algo                *string
		hash                *string
		salt                *string
		params              *string
		lastAuthenticatedAt *time.Time
		createdAt           time.Time
		updatedAt           time.Time
	)

	err := row.Scan(
		&idStr,
		&name,
		&algo,
		&hash,
		&salt,
		&params,
		&lastAuthenticatedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		// Propagate pgx.ErrNoRows unchanged for callers to handle with context.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("USER_SCAN_FAILED").
			With("operation", "scan user").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").
			With("operation", "parse user id").
			With("id", idStr).
			Wrap(err)
	}

	var credential *auth.HashedCredential
	if algo != nil {
		credential = &auth.HashedCredential{
			Algorithm: *algo,
			Hash:      deref(hash),
			Salt:      deref(salt),
			Params:    deref(params),
		}
	}

	return &auth.User{
		ID:                  id,
		Name:                name,
		Credential:          credential,
		LastAuthenticatedAt: lastAuthenticatedAt,
		CreatedAt:           createdAt,
		UpdatedAt:           updatedAt,
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
