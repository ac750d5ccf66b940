// Package aggregator implements the Finding Aggregator (C8): confidence
// filter, deduplication, per-file cap, severity histogram, overall
// confidence, and summary composition, in that fixed order.
package aggregator

import (
	"fmt"
	"regexp"
	"strings"

	"pr-review-automation/internal/domain"
)

// Config holds the aggregation knobs from spec §6.
type Config struct {
	MinConfidence         float64 // default 0.7
	MaxIssuesPerFile      int     // default 10
	DeduplicationEnabled  bool    // default true
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{MinConfidence: 0.7, MaxIssuesPerFile: 10, DeduplicationEnabled: true}
}

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)

func normalizeTitle(title string) string {
	return nonAlphanumeric.ReplaceAllString(strings.ToLower(title), "")
}

func dedupeKey(i domain.Issue) string {
	return fmt.Sprintf("%s\x00%d\x00%s", i.File, i.StartLine, normalizeTitle(i.Title))
}

// Aggregate runs AI-produced issues plus an optional test-outcome line
// through the fixed six-step pipeline and returns AggregatedFindings with
// exact before/after/filtered counts for auditability.
func Aggregate(issues []domain.Issue, notes []domain.Note, testSummaryLine string, cfg Config) domain.AggregatedFindings {
	totalBeforeDedup := len(issues)

	filtered := filterByConfidence(issues, cfg.MinConfidence)
	totalFilteredByConfidence := totalBeforeDedup - len(filtered)

	deduped := filtered
	if cfg.DeduplicationEnabled {
		deduped = dedupe(filtered)
	}
	totalAfterDedup := len(deduped)

	capped, totalOverCap := capPerFile(deduped, cfg.MaxIssuesPerFile)
	totalFiltered := totalFilteredByConfidence + totalOverCap

	severityCounts := severityHistogram(capped)
	overallConfidence := meanConfidence(capped)
	summary := composeSummary(capped, testSummaryLine)

	return domain.AggregatedFindings{
		Issues:            capped,
		Notes:             notes,
		CountsBySource:    map[string]int{"ai": len(capped), "tests": boolToInt(testSummaryLine != "")},
		CountsBySeverity:  severityCounts,
		TotalBeforeDedup:  totalBeforeDedup,
		TotalAfterDedup:   totalAfterDedup,
		TotalFiltered:     totalFiltered,
		OverallConfidence: overallConfidence,
		Summary:           summary,
	}
}

// filterByConfidence drops issues whose confidenceScore is present and
// below minConfidence. Issues with no score always pass.
func filterByConfidence(issues []domain.Issue, minConfidence float64) []domain.Issue {
	out := make([]domain.Issue, 0, len(issues))
	for _, i := range issues {
		if i.ConfidenceScore != nil && *i.ConfidenceScore < minConfidence {
			continue
		}
		out = append(out, i)
	}
	return out
}

// dedupe keeps the first occurrence of each (file, startLine,
// normalize(title)) key, preserving input order.
func dedupe(issues []domain.Issue) []domain.Issue {
	seen := make(map[string]bool, len(issues))
	out := make([]domain.Issue, 0, len(issues))
	for _, i := range issues {
		key := dedupeKey(i)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, i)
	}
	return out
}

// capPerFile keeps the first maxPerFile issues per file by insertion
// order. maxPerFile <= 0 means no issues survive (the documented boundary:
// a cap of 0 empties the list).
func capPerFile(issues []domain.Issue, maxPerFile int) ([]domain.Issue, int) {
	if maxPerFile <= 0 {
		return []domain.Issue{}, len(issues)
	}
	counts := make(map[string]int)
	out := make([]domain.Issue, 0, len(issues))
	dropped := 0
	for _, i := range issues {
		if counts[i.File] >= maxPerFile {
			dropped++
			continue
		}
		counts[i.File]++
		out = append(out, i)
	}
	return out, dropped
}

func severityHistogram(issues []domain.Issue) map[domain.Severity]int {
	h := make(map[domain.Severity]int)
	for _, i := range issues {
		sev := i.Severity
		if sev == "" {
			sev = domain.SeverityUnknown
		}
		switch sev {
		case domain.SeverityCritical, domain.SeverityMajor, domain.SeverityMinor, domain.SeverityInfo:
			h[sev]++
		default:
			h[domain.SeverityUnknown]++
		}
	}
	return h
}

// meanConfidence is the mean confidenceScore over issues that have one;
// 1.0 when there are no issues at all; 0.7 when there are issues but none
// carry a score.
func meanConfidence(issues []domain.Issue) float64 {
	if len(issues) == 0 {
		return 1.0
	}
	var sum float64
	var n int
	for _, i := range issues {
		if i.ConfidenceScore != nil {
			sum += *i.ConfidenceScore
			n++
		}
	}
	if n == 0 {
		return 0.7
	}
	return sum / float64(n)
}

func composeSummary(issues []domain.Issue, testSummaryLine string) string {
	if len(issues) == 0 {
		base := "Analysis complete. Found 0 issues."
		if testSummaryLine != "" {
			return base + " " + testSummaryLine
		}
		return base
	}
	base := fmt.Sprintf("Analysis complete. Found %d issue(s).", len(issues))
	if testSummaryLine != "" {
		return base + " " + testSummaryLine
	}
	return base
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
