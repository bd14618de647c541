// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Name validation constraints.
const (
	MinNameLength = 3
	MaxNameLength = 16
)

// nameRegex matches the player names accepted by game clients:
// letters, digits and underscores only.
var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// User is the persisted account record for a player identity.
type User struct {
	ID                  ulid.ULID
	Name                string
	Credential          *HashedCredential // nil until the user registers
	LastAuthenticatedAt *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewUser creates an unregistered user with a validated name.
func NewUser(name string) (*User, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	now := time.Now()
	return &User{
		ID:        ulid.Make(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// IsRegistered reports whether the user has a stored credential.
func (u *User) IsRegistered() bool {
	return u.Credential != nil
}

// SetCredential replaces the stored credential.
func (u *User) SetCredential(c *HashedCredential) {
	u.Credential = c
	u.UpdatedAt = time.Now()
}

// RecordAuthentication stamps a successful authentication.
func (u *User) RecordAuthentication(at time.Time) {
	u.LastAuthenticatedAt = &at
	u.UpdatedAt = at
}

// ValidateName validates a player name.
// Name requirements:
// - Length: MinNameLength to MaxNameLength characters
// - Only letters (a-z, A-Z), digits (0-9) and underscores (_)
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return oops.Code("AUTH_INVALID_NAME").Errorf("name cannot be empty")
	}
	if len(name) < MinNameLength {
		return oops.Code("AUTH_INVALID_NAME").
			With("min", MinNameLength).
			Errorf("name must be at least %d characters", MinNameLength)
	}
	if len(name) > MaxNameLength {
		return oops.Code("AUTH_INVALID_NAME").
			With("max", MaxNameLength).
			Errorf("name must be at most %d characters", MaxNameLength)
	}
	if !nameRegex.MatchString(name) {
		return oops.Code("AUTH_INVALID_NAME").
			Errorf("name may contain only letters, digits and underscores")
	}
	return nil
}

// UserRepository manages user persistence.
// Reads issued after a write from the same process must observe that write.
type UserRepository interface {
	// Create stores a new user.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by identity.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByName retrieves a user by name (case-insensitive).
	GetByName(ctx context.Context, name string) (*User, error)

	// Update replaces the stored user.
	Update(ctx context.Context, user *User) error
}
