package slogx

import (
	"context"
	"log/slog"

	"github.com/brewkit/lmctl/pkg/idx"
)

type contextKey struct{}

// WithContext stores the logger in the context.
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext retrieves the logger from the context, falling back to the
// default logger if none was stored.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithInvocation tags the logger with a fresh invocation id and stores it in
// the context. Every command run gets one so log lines from a single run can
// be grouped.
func WithInvocation(ctx context.Context, logger *slog.Logger) (context.Context, *slog.Logger) {
	tagged := logger.With(slog.String("invocation_id", idx.New().String()))
	return WithContext(ctx, tagged), tagged
}
