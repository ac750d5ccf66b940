// Package reviewcontext implements the pluggable context-retrieval
// strategies (C3) and the orchestrator that fans them out in parallel with
// per-strategy isolation (C4).
package reviewcontext

import (
	"context"

	"pr-review-automation/internal/domain"
	"pr-review-automation/internal/scm"
)

// Strategy is the polymorphic capability bundled strategies implement:
// nominate related files with a confidence and evidence string.
type Strategy interface {
	Name() string
	Priority() int
	Run(ctx context.Context, diff domain.DiffDocument, client scm.Client) ([]domain.ContextMatch, error)
}
