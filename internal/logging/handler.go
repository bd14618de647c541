// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package logging builds the gate's slog loggers. Records carry the service
// name and version, the OpenTelemetry trace context and the connection id
// stored in the context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/trace"
)

type connIDKey struct{}

// WithConnID returns a context whose log records carry conn_id.
func WithConnID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, connIDKey{}, connID)
}

// ConnID returns the connection id stored by WithConnID.
func ConnID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(connIDKey{}).(string)
	return id, ok && id != ""
}

// contextHandler decorates records with service metadata and values found
// in the context.
type contextHandler struct {
	handler slog.Handler
	service string
	version string
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(
		slog.String("service", h.service),
		slog.String("version", h.version),
	)

	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.HasTraceID() {
		r.AddAttrs(slog.String("trace_id", spanCtx.TraceID().String()))
	}
	if spanCtx.HasSpanID() {
		r.AddAttrs(slog.String("span_id", spanCtx.SpanID().String()))
	}
	if id, ok := ConnID(ctx); ok {
		r.AddAttrs(slog.String("conn_id", id))
	}

	//nolint:wrapcheck // Handler interface requires unwrapped error passthrough
	return h.handler.Handle(ctx, r)
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{handler: h.handler.WithAttrs(attrs), service: h.service, version: h.version}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{handler: h.handler.WithGroup(name), service: h.service, version: h.version}
}

// ParseLevel maps "debug", "info", "warn" or "error" to a slog level.
// Empty means info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, oops.Code("LOG_INVALID_LEVEL").With("level", level).Errorf("unknown log level %q", level)
	}
}

// Setup creates a logger writing to w, or os.Stderr when w is nil.
// format is "json" (the default) or "text".
func Setup(service, version, format, level string, w io.Writer) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var base slog.Handler
	switch format {
	case "text":
		base = slog.NewTextHandler(w, opts)
	case "", "json":
		base = slog.NewJSONHandler(w, opts)
	default:
		return nil, oops.Code("LOG_INVALID_FORMAT").With("format", format).Errorf("unknown log format %q", format)
	}

	return slog.New(&contextHandler{handler: base, service: service, version: version}), nil
}

// SetDefault configures a logger and installs it as the slog default.
func SetDefault(service, version, format, level string) (*slog.Logger, error) {
	logger, err := Setup(service, version, format, level, nil)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}
