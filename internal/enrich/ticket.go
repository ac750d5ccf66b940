package enrich

import (
	"context"
	"log/slog"

	"pr-review-automation/internal/resilience"
	"pr-review-automation/internal/ticket"
)

// FetchTicket extracts a ticket key from title/description per
// ticket.ExtractKey and, on a match, asks provider for its context. A
// missing key or any provider error degrades to an empty Context rather
// than blocking the pipeline.
func FetchTicket(ctx context.Context, title, description string, provider ticket.Provider, logger *slog.Logger) ticket.Context {
	key := ticket.ExtractKey(title, description)
	if key == "" || provider == nil {
		return ticket.Context{}
	}
	return resilience.BestEffort(ctx, logger, "ticket-extractor", func(c context.Context) (ticket.Context, error) {
		return provider.FetchTicket(c, key)
	})
}
