// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

// Algorithm tags stored alongside each credential.
const (
	AlgorithmArgon2id = "argon2id"
	AlgorithmBcrypt   = "bcrypt"
)

// HashedCredential is a stored password hash together with the tag of the
// algorithm that produced it and the parameters needed to recompute it.
type HashedCredential struct {
	Algorithm string
	Hash      string
	Salt      string
	Params    string
}

// CryptoProvider hashes and verifies passwords for one algorithm tag.
type CryptoProvider interface {
	// Algorithm returns the tag this provider handles.
	Algorithm() string

	// CreateHash hashes a plaintext password.
	CreateHash(plaintext string) (*HashedCredential, error)

	// Matches checks plaintext against a stored credential.
	// Returns (true, nil) on match, (false, nil) on mismatch, or an error
	// when the stored credential cannot be interpreted.
	Matches(plaintext string, stored *HashedCredential) (bool, error)
}
