// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth provides credential primitives for the gatehouse login gate.
//
// # Domain Types
//
// User is the persisted account record. A user is registered once it
// carries a HashedCredential; unregistered users are created on first
// sight so that every connection has a stable identity.
//
// # Verification
//
// Verifier compares plaintext attempts against stored credentials. The
// algorithm is selected by the tag stored with each credential, so several
// CryptoProvider implementations can coexist:
//   - Argon2idProvider - default for new credentials
//   - BcryptProvider - accepted for imported accounts
//
// Verification never returns an error. Unknown tags and malformed stored
// credentials are reported as VerifyUnsupported, which callers treat as an
// account that needs operator recovery.
//
// # Policy
//
// PasswordPolicy rejects empty, short, overlong and forbidden passwords
// before any hashing happens.
package auth
