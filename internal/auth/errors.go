// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when creating a user whose name is taken.
var ErrAlreadyExists = errors.New("already exists")

// Password rejection codes. The dialog controller maps each code to a
// user-facing message.
const (
	CodePasswordEmpty     = "AUTH_PASSWORD_EMPTY"
	CodePasswordTooShort  = "AUTH_PASSWORD_TOO_SHORT"
	CodePasswordTooLong   = "AUTH_PASSWORD_TOO_LONG"
	CodePasswordForbidden = "AUTH_PASSWORD_FORBIDDEN"

	// CodePasswordTooManyBytes is returned when the encoded password
	// exceeds what the hashing algorithm reads.
	CodePasswordTooManyBytes = "AUTH_PASSWORD_TOO_MANY_BYTES"
)

// ErrorCode returns the oops code carried by err, or "" if it has none.
func ErrorCode(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, ok := oopsErr.Code().(string)
	if !ok {
		return ""
	}
	return code
}
