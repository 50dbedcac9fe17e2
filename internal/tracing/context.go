package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RunIDKey is the context key for run ID
	RunIDKey ContextKey = "run_id"
	// ParentRunIDKey is the context key for the parent run ID of a delegate run
	ParentRunIDKey ContextKey = "parent_run_id"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID     string
	RunID       string
	ParentRunID string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithParentRunID adds a parent run ID to the context
func WithParentRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ParentRunIDKey, runID)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetRunID retrieves the run ID from the context
func GetRunID(ctx context.Context) string {
	if runID, ok := ctx.Value(RunIDKey).(string); ok {
		return runID
	}
	return ""
}

// GetParentRunID retrieves the parent run ID from the context
func GetParentRunID(ctx context.Context) string {
	if runID, ok := ctx.Value(ParentRunIDKey).(string); ok {
		return runID
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:     GetTraceID(ctx),
		RunID:       GetRunID(ctx),
		ParentRunID: GetParentRunID(ctx),
	}
}

// NewRequestContext creates a new context for a request with a new trace ID
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// PropagateToDelegate prepares a context for a nested judge run: the trace ID
// is kept so the whole delegation tree shares one trace, the current run
// becomes the parent, and the nested run will mint its own run ID.
func PropagateToDelegate(ctx context.Context) context.Context {
	traceID := GetTraceID(ctx)
	if traceID == "" {
		traceID = NewTraceID()
	}

	newCtx := WithTraceID(ctx, traceID)
	if runID := GetRunID(ctx); runID != "" {
		newCtx = WithParentRunID(newCtx, runID)
	}

	return newCtx
}

// LoggerFromContext stamps tracing fields from the context onto a zerolog logger
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	if tc.TraceID != "" {
		baseLogger = baseLogger.With().Str("trace_id", tc.TraceID).Logger()
	}
	if tc.RunID != "" {
		baseLogger = baseLogger.With().Str("run_id", tc.RunID).Logger()
	}
	if tc.ParentRunID != "" {
		baseLogger = baseLogger.With().Str("parent_run_id", tc.ParentRunID).Logger()
	}

	return baseLogger
}
