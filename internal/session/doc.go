// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package session holds the per-connection authentication state: the
// Registry of in-flight logins and the PendingTable of suspended initial
// route decisions. Both are keyed by the connection identity assigned at
// pre-login and are the only shared mutable state in the gate.
package session
