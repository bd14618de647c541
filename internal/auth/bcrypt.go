// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"
)

// BcryptProvider implements CryptoProvider using bcrypt.
type BcryptProvider struct {
	cost int
}

// NewBcryptProvider creates a BcryptProvider. A cost outside bcrypt's
// accepted range falls back to bcrypt.DefaultCost.
func NewBcryptProvider(cost int) *BcryptProvider {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptProvider{cost: cost}
}

// Algorithm returns AlgorithmBcrypt.
func (p *BcryptProvider) Algorithm() string {
	return AlgorithmBcrypt
}

// CreateHash produces a bcrypt credential. bcrypt only reads the first 72
// bytes of input, so longer passwords are rejected instead of truncated.
func (p *BcryptProvider) CreateHash(plaintext string) (*HashedCredential, error) {
	if plaintext == "" {
		return nil, oops.Code(CodePasswordEmpty).Errorf("password cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return nil, oops.Code(CodePasswordTooManyBytes).With("max_bytes", BcryptMaxPasswordBytes).Wrap(err)
	}
	if err != nil {
		return nil, oops.Code("AUTH_HASH_FAILED").Wrap(err)
	}
	return &HashedCredential{
		Algorithm: AlgorithmBcrypt,
		Hash:      string(hash),
	}, nil
}

// Matches checks if the password matches the stored credential.
func (p *BcryptProvider) Matches(plaintext string, stored *HashedCredential) (bool, error) {
	if stored == nil || stored.Algorithm != AlgorithmBcrypt {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("not a bcrypt credential")
	}
	err := bcrypt.CompareHashAndPassword([]byte(stored.Hash), []byte(plaintext))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
}

var _ CryptoProvider = (*BcryptProvider)(nil)
