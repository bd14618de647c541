// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package authtest provides test helpers for authentication.
package authtest

import (
	"context"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/gatehouse/internal/auth"
)

// MemoryUsers is an in-memory auth.UserRepository.
type MemoryUsers struct {
	mu    sync.Mutex
	users map[ulid.ULID]auth.User

	// UpdateErr, when set, is returned by Update.
	UpdateErr error
	updates   int
}

var _ auth.UserRepository = (*MemoryUsers)(nil)

// NewMemoryUsers creates a repository seeded with users.
func NewMemoryUsers(users ...*auth.User) *MemoryUsers {
	m := &MemoryUsers{users: make(map[ulid.ULID]auth.User)}
	for _, u := range users {
		m.users[u.ID] = *u
	}
	return m
}

// Create implements auth.UserRepository.
func (m *MemoryUsers) Create(_ context.Context, user *auth.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Name, user.Name) {
			return oops.Code("USER_NAME_TAKEN").With("name", user.Name).Wrap(auth.ErrAlreadyExists)
		}
	}
	m.users[user.ID] = *user
	return nil
}

// GetByID implements auth.UserRepository.
func (m *MemoryUsers) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return &u, nil
}

// GetByName implements auth.UserRepository.
func (m *MemoryUsers) GetByName(_ context.Context, name string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Name, name) {
			return &u, nil
		}
	}
	return nil, oops.Code("USER_NOT_FOUND").With("name", name).Wrap(auth.ErrNotFound)
}

// Update implements auth.UserRepository.
func (m *MemoryUsers) Update(_ context.Context, user *auth.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	m.users[user.ID] = *user
	m.updates++
	return nil
}

// Updates returns how many successful Update calls were made.
func (m *MemoryUsers) Updates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

// Registered returns a registered user whose password is password, hashed
// with provider.
func Registered(name, password string, provider auth.CryptoProvider) *auth.User {
	u, err := auth.NewUser(name)
	if err != nil {
		panic(err)
	}
	cred, err := provider.CreateHash(password)
	if err != nil {
		panic(err)
	}
	u.SetCredential(cred)
	return u
}
