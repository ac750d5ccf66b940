package reviewcontext

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pr-review-automation/internal/domain"
	"pr-review-automation/internal/scm"
)

type fakeStrategy struct {
	name     string
	priority int
	matches  []domain.ContextMatch
	err      error
	delay    time.Duration
}

func (f fakeStrategy) Name() string  { return f.name }
func (f fakeStrategy) Priority() int { return f.priority }
func (f fakeStrategy) Run(ctx context.Context, _ domain.DiffDocument, _ scm.Client) ([]domain.ContextMatch, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.matches, nil
}

func TestOrchestrator_MergesAndCapsMatches(t *testing.T) {
	o := Orchestrator{
		Deadline: time.Second,
		TopK:     1,
		Strategies: []Strategy{
			fakeStrategy{name: "a", matches: []domain.ContextMatch{
				{Path: "x.go", Reason: domain.ReasonSamePackage, Confidence: 0.8},
			}},
			fakeStrategy{name: "b", matches: []domain.ContextMatch{
				{Path: "x.go", Reason: domain.ReasonCoChange, Confidence: 0.6},
				{Path: "y.go", Reason: domain.ReasonParentPackage, Confidence: 0.5},
			}},
		},
	}
	enriched := o.Enrich(context.Background(), domain.DiffDocument{}, nil)
	require.Len(t, enriched.Matches, 1, "expected cap to 1 match")
	require.Equal(t, "x.go", enriched.Matches[0].Path)
	require.Equal(t, 0.8, enriched.Matches[0].Confidence)
	require.Len(t, enriched.PerStrategy, 2, "expected a report for both strategies")
}

func TestOrchestrator_AllStrategiesFailStillReturnsEmptyDiff(t *testing.T) {
	o := Orchestrator{
		Deadline: time.Second,
		Strategies: []Strategy{
			fakeStrategy{name: "a", err: errors.New("boom")},
			fakeStrategy{name: "b", err: errors.New("boom2")},
		},
	}
	enriched := o.Enrich(context.Background(), domain.DiffDocument{}, nil)
	require.Empty(t, enriched.Matches)
	require.Len(t, enriched.PerStrategy, 2, "expected a report per strategy even on failure")
	for name, report := range enriched.PerStrategy {
		require.Equal(t, domain.StrategyError, report.Status, "expected strategy %s to report ERROR", name)
	}
}

func TestOrchestrator_ZeroDeadlineReportsImmediateTimeout(t *testing.T) {
	o := Orchestrator{
		Deadline:   0,
		Strategies: []Strategy{fakeStrategy{name: "a", matches: []domain.ContextMatch{{Path: "x.go"}}}},
	}
	enriched := o.Enrich(context.Background(), domain.DiffDocument{}, nil)
	require.Empty(t, enriched.Matches, "expected zero matches for a non-positive deadline")
	require.Equal(t, domain.StrategyTimeout, enriched.PerStrategy["a"].Status, "expected immediate TIMEOUT")
}

func TestOrchestrator_SlowStrategyTimesOutWithoutBlockingOthers(t *testing.T) {
	o := Orchestrator{
		Deadline: 20 * time.Millisecond,
		Strategies: []Strategy{
			fakeStrategy{name: "slow", delay: time.Second},
			fakeStrategy{name: "fast", matches: []domain.ContextMatch{{Path: "z.go", Confidence: 0.9}}},
		},
	}
	start := time.Now()
	enriched := o.Enrich(context.Background(), domain.DiffDocument{}, nil)
	require.LessOrEqual(t, time.Since(start), 500*time.Millisecond, "expected the per-strategy deadline to bound total time, not the slow strategy's delay")
	require.Equal(t, domain.StrategyTimeout, enriched.PerStrategy["slow"].Status, "expected slow strategy to report TIMEOUT")
	require.Len(t, enriched.Matches, 1)
	require.Equal(t, "z.go", enriched.Matches[0].Path, "expected fast strategy's match to survive")
}
