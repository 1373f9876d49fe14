package services

import "context"

type contextKey string

const (
	fetchIDKey   contextKey = "fetch_id"
	queueIDKey   contextKey = "queue_id"
	requestIDKey contextKey = "request_id"
)

// WithFetchID annotates context with the URL import item identifier.
func WithFetchID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, fetchIDKey, id)
}

// FetchIDFromContext extracts the URL import item identifier if present.
func FetchIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(fetchIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithQueueID annotates context with the encode queue identifier.
func WithQueueID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, queueIDKey, id)
}

// QueueIDFromContext returns the encode queue identifier if present.
func QueueIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(queueIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
