package ticket

import "context"

// NoopProvider is the default Provider the embedding application starts
// with before wiring a concrete Jira/Linear/GitHub-Issues binding (out of
// scope per spec §1 Non-goals). It always degrades to an empty Context;
// the Ticket Extractor is best-effort, so this never fails a review.
type NoopProvider struct{}

func (NoopProvider) FetchTicket(ctx context.Context, key string) (Context, error) {
	return Context{}, nil
}
