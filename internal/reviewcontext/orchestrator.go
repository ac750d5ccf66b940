package reviewcontext

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pr-review-automation/internal/domain"
	"pr-review-automation/internal/scm"
)

// Orchestrator runs the bundled strategies concurrently with per-strategy
// isolation and a shared deadline, then merges, dedupes, and ranks their
// matches (C4).
type Orchestrator struct {
	Strategies []Strategy
	Deadline   time.Duration
	TopK       int
}

func (o Orchestrator) topK() int {
	if o.TopK <= 0 {
		return 20
	}
	return o.TopK
}

// Enrich fans the strategies out in parallel. It is best-effort by
// construction: a strategy that times out or errors never prevents the
// others from reporting, and the result always has a non-nil matches slice
// and a non-empty perStrategy map even if every strategy fails.
func (o Orchestrator) Enrich(ctx context.Context, diff domain.DiffDocument, client scm.Client) domain.EnrichedDiff {
	var mu sync.Mutex
	perStrategy := make(map[string]domain.StrategyReport, len(o.Strategies))
	var allMatches []domain.ContextMatch

	var g errgroup.Group
	for _, strat := range o.Strategies {
		strat := strat
		g.Go(func() error {
			start := time.Now()
			status, cause, matches := runStrategyBestEffort(ctx, strat, diff, client, o.Deadline)
			mu.Lock()
			perStrategy[strat.Name()] = domain.StrategyReport{
				Status:          status,
				Duration:        time.Since(start),
				Cause:           cause,
				ReasonHistogram: histogram(matches),
			}
			allMatches = append(allMatches, matches...)
			mu.Unlock()
			return nil // strategies never fail the group; failures are recorded above
		})
	}
	_ = g.Wait()

	merged := mergeMatches(allMatches)
	capped := capMatches(merged, o.topK())
	return domain.EnrichedDiff{Diff: diff, Matches: capped, PerStrategy: perStrategy}
}

func runStrategyBestEffort(ctx context.Context, strat Strategy, diff domain.DiffDocument, client scm.Client, deadline time.Duration) (status domain.StrategyStatus, cause string, matches []domain.ContextMatch) {
	if deadline <= 0 {
		return domain.StrategyTimeout, "strategy deadline <= 0", nil
	}
	sctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	type result struct {
		matches []domain.ContextMatch
		err     error
	}
	resultCh := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- result{nil, fmt.Errorf("panic: %v", r)}
			}
		}()
		m, err := strat.Run(sctx, diff, client)
		resultCh <- result{m, err}
	}()

	select {
	case <-sctx.Done():
		return domain.StrategyTimeout, sctx.Err().Error(), nil
	case res := <-resultCh:
		if res.err != nil {
			return domain.StrategyError, res.err.Error(), nil
		}
		return domain.StrategySuccess, "", res.matches
	}
}

func histogram(matches []domain.ContextMatch) map[domain.ContextMatchReason]int {
	h := make(map[domain.ContextMatchReason]int)
	for _, m := range matches {
		h[m.Reason]++
	}
	return h
}

// mergeMatches merges matches by file path, keeping the highest-confidence
// reason and recording all contributing reasons as evidence.
func mergeMatches(matches []domain.ContextMatch) []domain.ContextMatch {
	type acc struct {
		best      domain.ContextMatch
		evidences []string
	}
	byPath := make(map[string]*acc)
	var order []string
	for _, m := range matches {
		a, ok := byPath[m.Path]
		if !ok {
			a = &acc{best: m}
			byPath[m.Path] = a
			order = append(order, m.Path)
		}
		a.evidences = append(a.evidences, string(m.Reason)+": "+m.Evidence)
		if m.Confidence > a.best.Confidence {
			a.best = m
		}
	}
	out := make([]domain.ContextMatch, 0, len(order))
	for _, p := range order {
		a := byPath[p]
		merged := a.best
		merged.Evidence = strings.Join(a.evidences, "; ")
		out = append(out, merged)
	}
	return out
}

// capMatches sorts by confidence descending (ties by reason priority then
// lexicographic path) and truncates to the top k.
func capMatches(matches []domain.ContextMatch, k int) []domain.ContextMatch {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		pi, pj := domain.ReasonPriority(matches[i].Reason), domain.ReasonPriority(matches[j].Reason)
		if pi != pj {
			return pi < pj
		}
		return matches[i].Path < matches[j].Path
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches
}
