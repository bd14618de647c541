// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"log/slog"

	"github.com/samber/oops"
)

// VerifyResult is the outcome of comparing an attempt with a stored credential.
type VerifyResult int

// Verification outcomes.
const (
	VerifyMismatch VerifyResult = iota
	VerifyMatch
	// VerifyUnsupported means the stored credential cannot be checked: its
	// algorithm is unknown or its encoding is corrupt.
	VerifyUnsupported
)

func (r VerifyResult) String() string {
	switch r {
	case VerifyMatch:
		return "match"
	case VerifyMismatch:
		return "mismatch"
	case VerifyUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Verifier checks and creates credentials through pluggable providers.
// It holds no per-call state and is safe for concurrent use.
type Verifier struct {
	providers   map[string]CryptoProvider
	defaultAlgo string
	policy      *PasswordPolicy
	logger      *slog.Logger
}

// NewVerifier creates a Verifier. New credentials are produced by the
// provider registered for defaultAlgo.
func NewVerifier(policy *PasswordPolicy, defaultAlgo string, providers ...CryptoProvider) (*Verifier, error) {
	return NewVerifierWithLogger(policy, defaultAlgo, slog.New(slog.DiscardHandler), providers...)
}

// NewVerifierWithLogger creates a Verifier with the provided logger.
func NewVerifierWithLogger(policy *PasswordPolicy, defaultAlgo string, logger *slog.Logger, providers ...CryptoProvider) (*Verifier, error) {
	if policy == nil {
		return nil, oops.Errorf("password policy is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	if len(providers) == 0 {
		return nil, oops.Errorf("at least one crypto provider is required")
	}

	byTag := make(map[string]CryptoProvider, len(providers))
	for _, p := range providers {
		if p == nil {
			return nil, oops.Errorf("crypto provider cannot be nil")
		}
		if _, dup := byTag[p.Algorithm()]; dup {
			return nil, oops.With("algorithm", p.Algorithm()).Errorf("duplicate crypto provider")
		}
		byTag[p.Algorithm()] = p
	}
	if _, ok := byTag[defaultAlgo]; !ok {
		return nil, oops.With("algorithm", defaultAlgo).Errorf("no provider for default algorithm")
	}
	if defaultAlgo == AlgorithmBcrypt {
		if limit := policy.MaxBytes(); limit == 0 || limit > BcryptMaxPasswordBytes {
			policy = policy.WithMaxBytes(BcryptMaxPasswordBytes)
		}
	}

	return &Verifier{
		providers:   byTag,
		defaultAlgo: defaultAlgo,
		policy:      policy,
		logger:      logger,
	}, nil
}

// Policy returns the password policy applied by Hash.
func (v *Verifier) Policy() *PasswordPolicy {
	return v.policy
}

// Verify compares attempt against stored. An empty attempt is a mismatch.
func (v *Verifier) Verify(attempt string, stored *HashedCredential) VerifyResult {
	if stored == nil {
		return VerifyUnsupported
	}
	provider, ok := v.providers[stored.Algorithm]
	if !ok {
		v.logger.Warn("credential uses unknown algorithm",
			"event", "verify_unsupported_algorithm",
			"algorithm", stored.Algorithm,
		)
		return VerifyUnsupported
	}
	if attempt == "" {
		return VerifyMismatch
	}

	ok, err := provider.Matches(attempt, stored)
	if err != nil {
		v.logger.Warn("stored credential is corrupt",
			"event", "verify_corrupt_credential",
			"algorithm", stored.Algorithm,
			"error", err.Error(),
		)
		return VerifyUnsupported
	}
	if ok {
		return VerifyMatch
	}
	return VerifyMismatch
}

// Hash validates plaintext against the policy and hashes it with the
// default provider.
func (v *Verifier) Hash(plaintext string) (*HashedCredential, error) {
	if err := v.policy.Validate(plaintext); err != nil {
		return nil, err
	}
	hashed, err := v.providers[v.defaultAlgo].CreateHash(plaintext)
	if err != nil {
		return nil, oops.With("algorithm", v.defaultAlgo).Wrap(err)
	}
	return hashed, nil
}
