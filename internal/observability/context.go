package observability

import (
	"context"
)

// Context keys for observability data.
type contextKey string

const (
	runIDKey      contextKey = "run_id"
	sourceIDKey   contextKey = "source_id"
	sourceNameKey contextKey = "source_name"
)

// WithRunID adds an ingestion run ID to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFromContext retrieves the run ID from context.
// Returns empty string if not present.
func RunIDFromContext(ctx context.Context) string {
	if v := ctx.Value(runIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithSource adds source ID and name to the context.
func WithSource(ctx context.Context, sourceID int64, name string) context.Context {
	ctx = context.WithValue(ctx, sourceIDKey, sourceID)
	ctx = context.WithValue(ctx, sourceNameKey, name)
	return ctx
}

// SourceFromContext retrieves source ID and name from context.
// Returns zero values if not present.
func SourceFromContext(ctx context.Context) (sourceID int64, name string) {
	if v := ctx.Value(sourceIDKey); v != nil {
		if id, ok := v.(int64); ok {
			sourceID = id
		}
	}
	if v := ctx.Value(sourceNameKey); v != nil {
		if n, ok := v.(string); ok {
			name = n
		}
	}
	return sourceID, name
}

// RunContext contains the context data for one ingestion run.
type RunContext struct {
	RunID      string
	SourceID   int64
	SourceName string
}

// WithRunContextFull adds all run context to the context.
func WithRunContextFull(ctx context.Context, rc RunContext) context.Context {
	if rc.RunID != "" {
		ctx = WithRunID(ctx, rc.RunID)
	}
	if rc.SourceID != 0 || rc.SourceName != "" {
		ctx = WithSource(ctx, rc.SourceID, rc.SourceName)
	}
	return ctx
}

// RunContextFromContext extracts all run context from the context.
func RunContextFromContext(ctx context.Context) RunContext {
	sourceID, name := SourceFromContext(ctx)
	return RunContext{
		RunID:      RunIDFromContext(ctx),
		SourceID:   sourceID,
		SourceName: name,
	}
}
