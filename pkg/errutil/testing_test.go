// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil_test

import (
	"errors"
	"testing"

	"github.com/samber/oops"

	"github.com/holomush/gatehouse/pkg/errutil"
)

func TestAssertErrorCode_MatchingCode(t *testing.T) {
	err := oops.Code("ROUTING_DUPLICATE_BACKEND").Errorf("duplicate")
	errutil.AssertErrorCode(t, err, "ROUTING_DUPLICATE_BACKEND")
}

func TestAssertErrorCode_Wrapped(t *testing.T) {
	inner := oops.Code("DB_CONNECT_FAILED").Errorf("refused")
	errutil.AssertErrorCode(t, oops.With("attempt", 3).Wrap(inner), "DB_CONNECT_FAILED")
}

func TestAssertErrorContext_MatchingKeyValue(t *testing.T) {
	err := oops.With("backend", "lobby-1").Errorf("unreachable")
	errutil.AssertErrorContext(t, err, "backend", "lobby-1")
}

func TestAssertSentinel(t *testing.T) {
	sentinel := errors.New("not found")
	err := oops.Code("USER_NOT_FOUND").With("name", "steve").Wrap(sentinel)
	errutil.AssertSentinel(t, err, "USER_NOT_FOUND", sentinel)
}
