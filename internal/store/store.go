// Package store implements the Review Store (C9): transactional
// persistence for reviews, their issues, and their notes, upserted by the
// compound key (repositoryId, changeRequestNumber, provider) and governed
// by the domain's legal state-transition table.
package store

import (
	"context"
	"time"

	"pr-review-automation/internal/domain"
)

// Repository is the Review Store's operation set, per spec §4.8. All
// operations are transactional and return the semantic effect rather than
// row counts.
type Repository interface {
	// Save upserts a review by compound key, preserving the original
	// createdAt across updates. If state is "", new rows default to
	// domain.ReviewPending and existing rows keep their current state.
	Save(ctx context.Context, ref domain.ChangeRequestRef, findings domain.AggregatedFindings, state domain.ReviewState) (*domain.Review, error)

	// FindByID returns the review with its issues and notes materialized,
	// or ok=false if no such review exists.
	FindByID(ctx context.Context, reviewID string) (review *domain.Review, ok bool, err error)

	// FindByRef looks up a review by its compound key, for callers (the
	// Publisher) that need the prior persisted state before a new result
	// replaces it.
	FindByRef(ctx context.Context, ref domain.ChangeRequestRef) (review *domain.Review, ok bool, err error)

	// UpdateState transitions reviewID to s, setting completedAt iff s is
	// terminal. Returns a types.CodeStateIllegal error for illegal
	// transitions.
	UpdateState(ctx context.Context, reviewID string, s domain.ReviewState) error

	// UpdateResultAndState atomically replaces a review's findings and
	// transitions its state in one statement group.
	UpdateResultAndState(ctx context.Context, reviewID string, findings domain.AggregatedFindings, s domain.ReviewState) error

	// CleanupExpired deletes reviews whose createdAt is older than
	// now-retention, returning the count removed.
	CleanupExpired(ctx context.Context, now time.Time, retention time.Duration) (int64, error)

	Close() error
}
