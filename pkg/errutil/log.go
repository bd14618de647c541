// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package errutil logs and asserts oops errors.
package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs err at ERROR with its oops code and context. Extra attrs
// are appended as given.
func LogError(logger *slog.Logger, msg string, err error, attrs ...any) {
	LogErrorContext(context.Background(), logger, msg, err, attrs...)
}

// LogErrorContext is LogError with a context, so handlers can pick up
// trace and connection ids.
func LogErrorContext(ctx context.Context, logger *slog.Logger, msg string, err error, attrs ...any) {
	logger.ErrorContext(ctx, msg, append(errorAttrs(err), attrs...)...)
}

func errorAttrs(err error) []any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return []any{"error", err}
	}
	attrs := []any{"error", oopsErr.Error()}
	if code := oopsErr.Code(); code != nil {
		attrs = append(attrs, "code", code)
		if s, ok := code.(string); ok {
			attrs = append(attrs, "event", s)
		}
	}
	if ctx := oopsErr.Context(); len(ctx) > 0 {
		attrs = append(attrs, "context", ctx)
	}
	return attrs
}
