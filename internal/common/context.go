package common

import (
	"context"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyRequestID  contextKey = "request_id"
	ContextKeySourcePath contextKey = "source_path"
)

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// RequestIDFromContext extracts the request ID from context
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

// WithSourcePath tags the context with the invoice file being processed
func WithSourcePath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, ContextKeySourcePath, path)
}

// SourcePathFromContext extracts the invoice file path from context
func SourcePathFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(ContextKeySourcePath).(string); ok {
		return p
	}
	return ""
}

// LogAttrs returns the request-scoped attributes to attach to log lines.
func LogAttrs(ctx context.Context) []any {
	var attrs []any
	if id := RequestIDFromContext(ctx); id != "" {
		attrs = append(attrs, "request_id", id)
	}
	if p := SourcePathFromContext(ctx); p != "" {
		attrs = append(attrs, "path", p)
	}
	return attrs
}
