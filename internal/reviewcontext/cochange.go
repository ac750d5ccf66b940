package reviewcontext

import (
	"context"
	"time"

	"pr-review-automation/internal/domain"
	"pr-review-automation/internal/scm"
)

// CoChangeStrategy nominates files that historically co-occur with the
// modified files in the same commits, per spec §4.3's co-change rule.
type CoChangeStrategy struct {
	Ref              domain.ChangeRequestRef
	LookbackDays     int // default 90
	MaxCommits       int // cap on commits inspected
	MinCoOccurrences int // floor for a match to count; co-change requires >= 2
}

func (CoChangeStrategy) Name() string  { return "co-change" }
func (CoChangeStrategy) Priority() int { return 1 }

func (s CoChangeStrategy) Run(ctx context.Context, diff domain.DiffDocument, client scm.Client) ([]domain.ContextMatch, error) {
	if client == nil {
		return nil, nil
	}
	lookback := time.Duration(s.LookbackDays) * 24 * time.Hour
	if s.LookbackDays <= 0 {
		lookback = 90 * 24 * time.Hour
	}
	seeds := make([]string, 0, len(diff.Files))
	seedSet := make(map[string]bool)
	for _, f := range diff.Files {
		p := f.EffectivePath()
		if p != "" {
			seeds = append(seeds, p)
			seedSet[p] = true
		}
	}
	if len(seeds) == 0 {
		return nil, nil
	}

	counts, err := client.CoOccurringFiles(ctx, s.Ref, seeds, lookback, s.MaxCommits)
	if err != nil {
		return nil, err
	}

	minOccurrences := s.MinCoOccurrences
	if minOccurrences <= 0 {
		minOccurrences = 2
	}

	var matches []domain.ContextMatch
	for path, count := range counts {
		if seedSet[path] || count < minOccurrences {
			continue
		}
		confidence := float64(count) / 5.0
		if confidence > 1 {
			confidence = 1
		}
		matches = append(matches, domain.ContextMatch{
			Path:       path,
			Reason:     domain.ReasonCoChange,
			Confidence: confidence,
			Evidence:   "co-occurred in commits with modified files",
		})
	}
	return matches, nil
}
