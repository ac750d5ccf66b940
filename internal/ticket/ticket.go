// Package ticket defines the abstract ticket-system capability the Ticket
// Extractor (C5) consumes. No concrete Jira/Linear/GitHub-Issues binding
// lives here — only the interface seam, per spec §1 Non-goals.
package ticket

import (
	"context"
	"regexp"
)

// Context is the ticket information folded into the assembled prompt.
type Context struct {
	Key         string
	Title       string
	Description string
}

// Provider fetches ticket context for a ticket key extracted from a PR
// title or description.
type Provider interface {
	FetchTicket(ctx context.Context, key string) (Context, error)
}

// KeyPattern matches a bracketed project-key/number ticket reference, e.g.
// "[PROJ-123]", scanned in title then description order per spec §4.4.
var KeyPattern = regexp.MustCompile(`\[([A-Z]+-\d+)\]`)

// ExtractKey returns the first ticket key found in title, falling back to
// description, or "" if neither contains one.
func ExtractKey(title, description string) string {
	if m := KeyPattern.FindStringSubmatch(title); m != nil {
		return m[1]
	}
	if m := KeyPattern.FindStringSubmatch(description); m != nil {
		return m[1]
	}
	return ""
}
