package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pr-review-automation/internal/types"
)

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), time.Second, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return types.TransientError(types.CodeSCMError, "flaky", errors.New("boom"))
		}
		return nil
	})
	require.NoError(t, err, "expected eventual success")
	require.Equal(t, 3, attempts)
}

func TestRetry_PermanentErrorShortCircuits(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), time.Second, func(ctx context.Context) error {
		attempts++
		return types.ValidationError("bad ref", nil)
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts, "expected exactly 1 attempt for a non-retryable error")
}

func TestWithTimeout_ClassifiesDeadlineExceeded(t *testing.T) {
	err := WithTimeout(context.Background(), 10*time.Millisecond, types.CodeLLMTimeout, "llm call", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Equal(t, types.CodeLLMTimeout, types.CodeOf(err))
}

func TestBestEffort_DegradesToZeroValueOnError(t *testing.T) {
	got := BestEffort(context.Background(), nil, "ticket", func(ctx context.Context) (string, error) {
		return "", errors.New("boom")
	})
	require.Empty(t, got)
}

func TestBestEffort_ReturnsValueOnSuccess(t *testing.T) {
	got := BestEffort(context.Background(), nil, "ticket", func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.Equal(t, 42, got)
}
