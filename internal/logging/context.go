package logging

import (
	"context"
	"log/slog"

	"tafkit/internal/services"
)

// Well-known structured keys. The console handler lifts component and
// correlation_id out of the trailing key=value list.
const (
	FieldComponent     = "component"
	FieldFetchID       = "fetch_id"
	FieldQueueID       = "queue_id"
	FieldCorrelationID = "correlation_id"
)

var contextKeys = []struct {
	field  string
	lookup func(context.Context) (string, bool)
}{
	{FieldFetchID, services.FetchIDFromContext},
	{FieldQueueID, services.QueueIDFromContext},
	{FieldCorrelationID, services.RequestIDFromContext},
}

// ContextFields returns the identifiers carried by ctx as attributes.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var fields []slog.Attr
	for _, key := range contextKeys {
		if value, ok := key.lookup(ctx); ok {
			fields = append(fields, slog.String(key.field, value))
		}
	}
	return fields
}

// WithContext binds the identifiers carried by ctx to logger.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if fields := ContextFields(ctx); len(fields) > 0 {
		return logger.With(toArgs(fields)...)
	}
	return logger
}
