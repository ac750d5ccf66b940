// Package publisher implements the Publisher (C12): posting one summary
// comment and one inline comment per issue to the change request's host
// via the abstract scm.Client seam, idempotent per review+issue. Grounded
// on bkyoung-code-reviewer's ReviewPoster (PostReviewResult's posted/
// skipped/duplicate counters) and the teacher's comment_validator.go for
// the valid-line fallback, now delegated to the Position Mapper (C2).
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"pr-review-automation/internal/diffparser"
	"pr-review-automation/internal/domain"
	"pr-review-automation/internal/observability"
	"pr-review-automation/internal/scm"
)

// Publisher posts findings for one review, per spec §4.10.
type Publisher struct {
	SCM    scm.Client
	Logger *slog.Logger
}

// Result tallies one Publish call's outcome for logging/metrics.
type Result struct {
	SummaryCommentID string
	Posted           int
	Skipped          int // fell back to INVALID_LINE, stayed summary-only
	AlreadyPosted    int // idempotent skip, reused a prior scmCommentId
	Errors           []error
}

// Publish posts the summary comment and, for each issue whose diff
// position resolves, an inline comment. previous carries the prior
// persisted review for the same ref (nil if none), used to skip
// reposting issues that already carry a scmCommentId. It mutates the
// Issue values in findings.Issues in place (InlineCommentPosted,
// SCMCommentID, FallbackReason) so the caller can persist the outcome.
// Every step is best-effort: a failed post is recorded in Result.Errors
// and metered, never aborting the batch.
func (p *Publisher) Publish(ctx context.Context, ref domain.ChangeRequestRef, diff domain.DiffDocument, findings *domain.AggregatedFindings, previous *domain.Review) Result {
	logger := p.logger()
	var result Result

	summaryID, err := p.SCM.PostSummaryComment(ctx, ref, composeSummary(findings))
	if err != nil {
		logger.Warn("summary comment post failed", "error", err)
		observability.PublishFailures.WithLabelValues("summary").Inc()
		result.Errors = append(result.Errors, fmt.Errorf("summary comment: %w", err))
	} else {
		result.SummaryCommentID = summaryID
	}

	prior := priorCommentIDs(previous)

	for i := range findings.Issues {
		issue := &findings.Issues[i]
		key := dedupeKey(*issue)
		if id, ok := prior[key]; ok {
			issue.InlineCommentPosted = true
			issue.SCMCommentID = id
			result.AlreadyPosted++
			continue
		}

		position := diffparser.PositionFor(diff, issue.File, issue.StartLine)
		if position <= 0 {
			issue.FallbackReason = domain.FallbackInvalidLine
			issue.InlineCommentPosted = false
			result.Skipped++
			continue
		}

		commentID, err := p.SCM.PostInlineComment(ctx, ref, issue.File, position, composeInline(*issue))
		if err != nil {
			logger.Warn("inline comment post failed", "file", issue.File, "line", issue.StartLine, "error", err)
			observability.PublishFailures.WithLabelValues("inline").Inc()
			result.Errors = append(result.Errors, fmt.Errorf("inline comment %s:%d: %w", issue.File, issue.StartLine, err))
			continue
		}
		issue.InlineCommentPosted = true
		issue.SCMCommentID = commentID
		result.Posted++
	}

	return result
}

func (p *Publisher) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// priorCommentIDs indexes a previously persisted review's posted issues by
// dedupeKey, so Publish can skip reposting them.
func priorCommentIDs(previous *domain.Review) map[string]string {
	ids := make(map[string]string)
	if previous == nil {
		return ids
	}
	for _, issue := range previous.Findings.Issues {
		if issue.SCMCommentID != "" {
			ids[dedupeKey(issue)] = issue.SCMCommentID
		}
	}
	return ids
}

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)

// dedupeKey mirrors the aggregator's (file, startLine, normalize(title))
// identity, the unit spec §4.10 idempotency is scoped to ("per review+issue").
func dedupeKey(i domain.Issue) string {
	normalized := nonAlphanumeric.ReplaceAllString(strings.ToLower(i.Title), "")
	return fmt.Sprintf("%s\x00%d\x00%s", i.File, i.StartLine, normalized)
}

func composeSummary(f *domain.AggregatedFindings) string {
	if f == nil || len(f.Issues) == 0 {
		return "Analysis complete. Found 0 issues."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Automated review: %d issue(s) found\n\n", len(f.Issues))
	for _, sev := range []domain.Severity{domain.SeverityCritical, domain.SeverityMajor, domain.SeverityMinor, domain.SeverityInfo} {
		if c := f.CountsBySeverity[sev]; c > 0 {
			fmt.Fprintf(&sb, "- %s: %d\n", sev, c)
		}
	}
	if f.Summary != "" {
		sb.WriteString("\n")
		sb.WriteString(f.Summary)
	}
	return sb.String()
}

func composeInline(i domain.Issue) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**[%s]** %s", strings.ToUpper(string(i.Severity)), i.Title)
	if i.Suggestion != "" {
		sb.WriteString("\n\n")
		sb.WriteString(i.Suggestion)
	}
	return sb.String()
}
