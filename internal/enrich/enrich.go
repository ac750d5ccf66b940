package enrich

import (
	"context"
	"log/slog"

	"pr-review-automation/internal/domain"
	"pr-review-automation/internal/scm"
	"pr-review-automation/internal/ticket"
)

// Config bundles the three C5 fetchers' knobs.
type Config struct {
	Expander ExpanderConfig
	Policy   PolicyConfig
}

// DefaultConfig mirrors spec §6's documented defaults.
func DefaultConfig() Config {
	return Config{Expander: DefaultExpanderConfig(), Policy: DefaultPolicyConfig()}
}

// Result is everything C5 contributes to the Prompt Assembler, beyond the
// diff and the context-strategy matches.
type Result struct {
	ExpandedFiles []ExpandedFile
	Policies      []PolicyDocument
	Ticket        ticket.Context
}

// Run executes the expander, policy provider, and ticket extractor
// independently and best-effort, per spec §4.4.
func Run(ctx context.Context, ref domain.ChangeRequestRef, diff domain.DiffDocument, title, description string, client scm.Client, ticketProvider ticket.Provider, cfg Config, logger *slog.Logger) Result {
	return Result{
		ExpandedFiles: Expand(ctx, ref, diff, client, cfg.Expander, logger),
		Policies:      FetchPolicies(ctx, ref, client, cfg.Policy, logger),
		Ticket:        FetchTicket(ctx, title, description, ticketProvider, logger),
	}
}
