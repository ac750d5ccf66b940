// Package scm defines the abstract source-control capability set the
// pipeline consumes. Per spec §1 Non-goals, no concrete GitHub/GitLab
// request shaping lives here — only the interface seam; provider bindings
// are external collaborators supplied by the embedding application.
package scm

import (
	"context"
	"time"

	"pr-review-automation/internal/domain"
)

// Client is everything the pipeline needs from a change request's host.
type Client interface {
	// FetchDiff returns the raw unified diff for ref.
	FetchDiff(ctx context.Context, ref domain.ChangeRequestRef) (string, error)

	// FetchFileContent returns the current (head) content of path within
	// ref's repository, used by the Diff Expander and Policy Provider.
	FetchFileContent(ctx context.Context, ref domain.ChangeRequestRef, path string) (string, error)

	// CoOccurringFiles returns, for each candidate path that co-occurred
	// with any of seedPaths within the lookback window (capped at
	// maxCommits inspected), the number of commits they shared.
	CoOccurringFiles(ctx context.Context, ref domain.ChangeRequestRef, seedPaths []string, lookback time.Duration, maxCommits int) (map[string]int, error)

	// PostSummaryComment posts one top-level comment on the change
	// request and returns the provider-assigned comment id.
	PostSummaryComment(ctx context.Context, ref domain.ChangeRequestRef, body string) (string, error)

	// PostInlineComment posts a comment anchored at position (as returned
	// by the Position Mapper) within file, returning the comment id.
	PostInlineComment(ctx context.Context, ref domain.ChangeRequestRef, file string, position int, body string) (string, error)
}

// PolicyFile is one entry in the Policy Provider's fixed enumerated set.
type PolicyFile struct {
	Name      string
	Candidate []string // tried in order; first available wins
}

// DefaultPolicyFiles is the fixed set the Policy Provider looks for.
var DefaultPolicyFiles = []PolicyFile{
	{Name: "contributing", Candidate: []string{"CONTRIBUTING.md", ".github/CONTRIBUTING.md", "docs/CONTRIBUTING.md"}},
	{Name: "code_of_conduct", Candidate: []string{"CODE_OF_CONDUCT.md", ".github/CODE_OF_CONDUCT.md"}},
	{Name: "pr_template", Candidate: []string{".github/PULL_REQUEST_TEMPLATE.md", "docs/PULL_REQUEST_TEMPLATE.md"}},
	{Name: "security_policy", Candidate: []string{"SECURITY.md", ".github/SECURITY.md"}},
}
