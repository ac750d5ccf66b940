package observability

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type correlationIDKey struct{}

// WithCorrelationID returns a child context carrying id, generating a new
// UUID when id is empty. This is the one process-wide value the pipeline
// threads through every asynchronous boundary (queue record metadata,
// audit records, logs) per spec §9.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationID returns the correlation id carried by ctx, or "" if none
// was attached.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

// Logger returns a slog.Logger enriched with the context's correlation id,
// falling back to base if the context carries none.
func Logger(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	if id := CorrelationID(ctx); id != "" {
		return base.With("correlation_id", id)
	}
	return base
}
