// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
)

// OWASP-recommended argon2id parameters.
const (
	argon2Time    = 1         // iterations
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4         // parallelism
	argon2SaltLen = 16        // salt length in bytes
	argon2KeyLen  = 32        // output length in bytes
)

// Argon2idProvider implements CryptoProvider using argon2id.
type Argon2idProvider struct{}

// NewArgon2idProvider creates a new Argon2idProvider.
func NewArgon2idProvider() *Argon2idProvider {
	return &Argon2idProvider{}
}

// Algorithm returns AlgorithmArgon2id.
func (p *Argon2idProvider) Algorithm() string {
	return AlgorithmArgon2id
}

// CreateHash produces an argon2id credential for the password.
func (p *Argon2idProvider) CreateHash(plaintext string) (*HashedCredential, error) {
	if plaintext == "" {
		return nil, oops.Code(CodePasswordEmpty).Errorf("password cannot be empty")
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	key := argon2.IDKey([]byte(plaintext), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	return &HashedCredential{
		Algorithm: AlgorithmArgon2id,
		Hash:      base64.RawStdEncoding.EncodeToString(key),
		Salt:      base64.RawStdEncoding.EncodeToString(salt),
		// Same layout as the PHC parameter segment: v=19,m=65536,t=1,p=4
		Params: fmt.Sprintf("v=%d,m=%d,t=%d,p=%d", argon2.Version, argon2Memory, argon2Time, argon2Threads),
	}, nil
}

// Matches checks if the password matches the stored credential.
func (p *Argon2idProvider) Matches(plaintext string, stored *HashedCredential) (bool, error) {
	if stored == nil || stored.Algorithm != AlgorithmArgon2id {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("not an argon2id credential")
	}

	var version int
	var memory, time, threads uint32
	if _, err := fmt.Sscanf(stored.Params, "v=%d,m=%d,t=%d,p=%d", &version, &memory, &time, &threads); err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").With("params", stored.Params).Wrap(err)
	}
	if version != argon2.Version {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("unsupported argon2 version: %d", version)
	}

	// Validate threads fits in uint8 to prevent silent truncation
	if threads == 0 || threads > 255 {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("threads value %d out of range", threads)
	}

	salt, err := base64.RawStdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	expected, err := base64.RawStdEncoding.DecodeString(stored.Hash)
	if err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	keyLen := len(expected)
	if keyLen <= 0 || keyLen > 1<<30 {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash key length: %d", keyLen)
	}

	computed := argon2.IDKey([]byte(plaintext), salt, time, memory, uint8(threads), uint32(keyLen))

	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

var _ CryptoProvider = (*Argon2idProvider)(nil)
