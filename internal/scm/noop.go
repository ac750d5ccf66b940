package scm

import (
	"context"
	"time"

	"pr-review-automation/internal/domain"
	"pr-review-automation/internal/types"
)

// NoopClient is the default Client the embedding application starts with
// before wiring a concrete GitHub/GitLab/Bitbucket binding (out of scope
// per spec §1 Non-goals: only the abstract capability set is specified
// here). FetchDiff fails fast with a classified error so a misconfigured
// deployment shows up immediately as a FAILED review rather than a silent
// empty diff; the remaining methods degrade harmlessly since their
// callers are all best-effort.
type NoopClient struct{}

func (NoopClient) FetchDiff(ctx context.Context, ref domain.ChangeRequestRef) (string, error) {
	return "", types.InternalError(types.CodeInternal, "no scm.Client configured for this provider", nil)
}

func (NoopClient) FetchFileContent(ctx context.Context, ref domain.ChangeRequestRef, path string) (string, error) {
	return "", types.NotFoundError("no scm.Client configured", nil)
}

func (NoopClient) CoOccurringFiles(ctx context.Context, ref domain.ChangeRequestRef, seedPaths []string, lookback time.Duration, maxCommits int) (map[string]int, error) {
	return nil, types.NotFoundError("no scm.Client configured", nil)
}

func (NoopClient) PostSummaryComment(ctx context.Context, ref domain.ChangeRequestRef, body string) (string, error) {
	return "", types.InternalError(types.CodeInternal, "no scm.Client configured", nil)
}

func (NoopClient) PostInlineComment(ctx context.Context, ref domain.ChangeRequestRef, file string, position int, body string) (string, error) {
	return "", types.InternalError(types.CodeInternal, "no scm.Client configured", nil)
}
