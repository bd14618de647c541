// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"strings"
	"unicode/utf8"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Default password policy bounds.
const (
	DefaultMinPasswordLength = 4
	DefaultMaxPasswordLength = 64

	// BcryptMaxPasswordBytes is the longest input bcrypt hashes without
	// truncation.
	BcryptMaxPasswordBytes = 72
)

// PasswordPolicy decides which passwords may be stored.
type PasswordPolicy struct {
	minLength int
	maxLength int
	maxBytes  int
	patterns  []string
	forbidden []glob.Glob
}

// NewPasswordPolicy compiles a policy. Forbidden entries are glob patterns
// matched case-insensitively against the whole password ("password*",
// "*123456*"). Non-positive bounds use the defaults.
func NewPasswordPolicy(minLength, maxLength int, forbidden []string) (*PasswordPolicy, error) {
	if minLength <= 0 {
		minLength = DefaultMinPasswordLength
	}
	if maxLength <= 0 {
		maxLength = DefaultMaxPasswordLength
	}
	if minLength > maxLength {
		return nil, oops.Code("AUTH_INVALID_POLICY").
			With("min", minLength).
			With("max", maxLength).
			Errorf("minimum password length exceeds maximum")
	}

	p := &PasswordPolicy{minLength: minLength, maxLength: maxLength}
	for _, pattern := range forbidden {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, oops.Code("AUTH_INVALID_POLICY").With("pattern", pattern).Wrap(err)
		}
		p.patterns = append(p.patterns, pattern)
		p.forbidden = append(p.forbidden, g)
	}
	return p, nil
}

// DefaultPasswordPolicy returns a policy with default bounds and no
// forbidden patterns.
func DefaultPasswordPolicy() *PasswordPolicy {
	return &PasswordPolicy{minLength: DefaultMinPasswordLength, maxLength: DefaultMaxPasswordLength}
}

// WithMaxBytes returns a copy of the policy that also rejects passwords
// whose UTF-8 encoding is longer than n bytes. n <= 0 removes the limit.
func (p *PasswordPolicy) WithMaxBytes(n int) *PasswordPolicy {
	cp := *p
	if n < 0 {
		n = 0
	}
	cp.maxBytes = n
	return &cp
}

// MaxBytes returns the byte limit, or 0 when only characters are counted.
func (p *PasswordPolicy) MaxBytes() int {
	return p.maxBytes
}

// MinLength returns the shortest accepted password, in characters.
func (p *PasswordPolicy) MinLength() int {
	return p.minLength
}

// MaxLength returns the longest accepted password, in characters.
func (p *PasswordPolicy) MaxLength() int {
	return p.maxLength
}

// Validate returns a coded error when the password must not be stored.
func (p *PasswordPolicy) Validate(password string) error {
	if password == "" {
		return oops.Code(CodePasswordEmpty).Errorf("password cannot be empty")
	}
	n := utf8.RuneCountInString(password)
	if n < p.minLength {
		return oops.Code(CodePasswordTooShort).
			With("min", p.minLength).
			Errorf("password must be at least %d characters", p.minLength)
	}
	if n > p.maxLength {
		return oops.Code(CodePasswordTooLong).
			With("max", p.maxLength).
			Errorf("password must be at most %d characters", p.maxLength)
	}
	if p.maxBytes > 0 && len(password) > p.maxBytes {
		return oops.Code(CodePasswordTooManyBytes).
			With("max_bytes", p.maxBytes).
			Errorf("password must be at most %d bytes", p.maxBytes)
	}
	lower := strings.ToLower(password)
	for i, g := range p.forbidden {
		if g.Match(lower) {
			return oops.Code(CodePasswordForbidden).
				With("pattern", p.patterns[i]).
				Errorf("password is not allowed")
		}
	}
	return nil
}
