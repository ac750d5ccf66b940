// Package resilience provides the retry/timeout/best-effort policies every
// upstream-calling component in the pipeline is wrapped by: best-effort
// context strategies, the expander/policy/ticket fetchers, and the
// publisher never propagate errors past themselves, while the pipeline's
// SCM diff fetch uses Retry to classify and surface.
package resilience

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"pr-review-automation/internal/types"
)

// Retry runs fn, retrying on transient failures per policy. A
// *types.ClassifiedError whose Code is not retryable (per types.IsRetryable)
// is wrapped as a backoff.PermanentError so it short-circuits immediately.
func Retry(ctx context.Context, maxElapsed time.Duration, fn func(context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.MaxInterval = 2 * time.Second
	if maxElapsed > 0 {
		eb.MaxElapsedTime = maxElapsed
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, 3), ctx)

	return backoff.Retry(func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !types.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

// WithTimeout runs fn with a derived context bounded by d, translating a
// context-deadline-exceeded into a classified timeout error with code.
func WithTimeout(ctx context.Context, d time.Duration, code types.Code, op string, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	if err := fn(cctx); err != nil {
		if cctx.Err() == context.DeadlineExceeded {
			return types.TimeoutError(code, op+" timed out after "+d.String(), err)
		}
		return err
	}
	return nil
}

// BestEffort runs fn and degrades to the zero value of T on any error or
// context cancellation, logging the degradation instead of propagating it.
// Used by the expander/policy/ticket fetchers per spec §7's best-effort
// propagation policy.
func BestEffort[T any](ctx context.Context, logger *slog.Logger, component string, fn func(context.Context) (T, error)) T {
	var zero T
	result, err := fn(ctx)
	if err != nil {
		if logger != nil {
			logger.Warn("component degraded to empty", "component", component, "error", err)
		}
		return zero
	}
	return result
}
