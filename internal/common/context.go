package common

import (
	"context"
	"log/slog"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyJobID  contextKey = "job_id"
	ContextKeyLogger contextKey = "logger"
)

// WithJobID adds a job ID to the context
func WithJobID(ctx context.Context, jobID int64) context.Context {
	return context.WithValue(ctx, ContextKeyJobID, jobID)
}

// JobIDFromContext extracts the job ID from context
func JobIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(ContextKeyJobID).(int64)
	return id, ok
}

// WithLogger stores a logger in the context
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ContextKeyLogger, logger)
}

// LoggerFromContext returns the context logger, falling back to def and then slog.Default.
// A job ID in the context is attached as the job_id attribute.
func LoggerFromContext(ctx context.Context, def *slog.Logger) *slog.Logger {
	logger, ok := ctx.Value(ContextKeyLogger).(*slog.Logger)
	if !ok || logger == nil {
		logger = def
	}
	if logger == nil {
		logger = slog.Default()
	}
	if id, ok := JobIDFromContext(ctx); ok {
		logger = logger.With("job_id", id)
	}
	return logger
}
