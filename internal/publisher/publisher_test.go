package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pr-review-automation/internal/diffparser"
	"pr-review-automation/internal/domain"
)

const sqlInjectionDiff = `--- a/src/main/java/com/example/dao/UserDAO.java
+++ b/src/main/java/com/example/dao/UserDAO.java
@@ -10,7 +10,7 @@ public class UserDAO {
     public User findByName(String name) {
         String sql = "SELECT * FROM users WHERE name = '" + name + "'";
         Statement stmt = connection.createStatement();
-        ResultSet rs = stmt.executeQuery(sql);
+        ResultSet rs = stmt.executeQuery(sql); // TODO: parameterize
         return mapRow(rs);
     }
 }
`

var testRef = domain.ChangeRequestRef{Provider: domain.ProviderGitHub, RepositoryID: "acme/widgets", ChangeRequestNumber: 42}

type fakeSCM struct {
	summaryErr error
	inlineErr  error
	posted     []string
}

func (f *fakeSCM) FetchDiff(ctx context.Context, ref domain.ChangeRequestRef) (string, error) {
	return "", nil
}
func (f *fakeSCM) FetchFileContent(ctx context.Context, ref domain.ChangeRequestRef, path string) (string, error) {
	return "", nil
}
func (f *fakeSCM) CoOccurringFiles(ctx context.Context, ref domain.ChangeRequestRef, seedPaths []string, lookback time.Duration, maxCommits int) (map[string]int, error) {
	return nil, nil
}
func (f *fakeSCM) PostSummaryComment(ctx context.Context, ref domain.ChangeRequestRef, body string) (string, error) {
	if f.summaryErr != nil {
		return "", f.summaryErr
	}
	f.posted = append(f.posted, "summary")
	return "summary-1", nil
}
func (f *fakeSCM) PostInlineComment(ctx context.Context, ref domain.ChangeRequestRef, file string, position int, body string) (string, error) {
	if f.inlineErr != nil {
		return "", f.inlineErr
	}
	f.posted = append(f.posted, file)
	return "inline-1", nil
}

func mustParse(t *testing.T, raw string) domain.DiffDocument {
	t.Helper()
	doc, err := diffparser.Parse(raw)
	require.NoError(t, err)
	return doc
}

func TestPublish_PostsSummaryAndInlineComment(t *testing.T) {
	sc := &fakeSCM{}
	p := &Publisher{SCM: sc}
	diff := mustParse(t, sqlInjectionDiff)

	findings := &domain.AggregatedFindings{
		Issues: []domain.Issue{
			{File: "src/main/java/com/example/dao/UserDAO.java", StartLine: 13, Severity: domain.SeverityCritical, Title: "SQL injection via string concatenation"},
		},
		CountsBySeverity: map[domain.Severity]int{domain.SeverityCritical: 1},
	}

	result := p.Publish(context.Background(), testRef, diff, findings, nil)

	require.Equal(t, "summary-1", result.SummaryCommentID, "expected summary comment id to be recorded")
	require.Equal(t, 1, result.Posted, "expected 1 inline comment posted")
	require.True(t, findings.Issues[0].InlineCommentPosted, "expected the issue to be mutated with its posted comment id")
	require.Equal(t, "inline-1", findings.Issues[0].SCMCommentID)
}

func TestPublish_FallsBackToInvalidLineWhenPositionUnresolved(t *testing.T) {
	sc := &fakeSCM{}
	p := &Publisher{SCM: sc}
	diff := mustParse(t, sqlInjectionDiff)

	findings := &domain.AggregatedFindings{
		Issues: []domain.Issue{
			{File: "src/main/java/com/example/dao/UserDAO.java", StartLine: 999, Severity: domain.SeverityMinor, Title: "out of range"},
		},
	}

	result := p.Publish(context.Background(), testRef, diff, findings, nil)

	require.Equal(t, 1, result.Skipped, "expected the issue to be skipped")
	require.Equal(t, domain.FallbackInvalidLine, findings.Issues[0].FallbackReason)
	require.False(t, findings.Issues[0].InlineCommentPosted, "expected InlineCommentPosted to stay false on fallback")
}

func TestPublish_SkipsAlreadyPostedIssues(t *testing.T) {
	sc := &fakeSCM{}
	p := &Publisher{SCM: sc}
	diff := mustParse(t, sqlInjectionDiff)

	issue := domain.Issue{File: "src/main/java/com/example/dao/UserDAO.java", StartLine: 13, Severity: domain.SeverityCritical, Title: "SQL injection via string concatenation"}
	previous := &domain.Review{
		Findings: domain.AggregatedFindings{
			Issues: []domain.Issue{func() domain.Issue { i := issue; i.SCMCommentID = "prior-comment-1"; return i }()},
		},
	}
	findings := &domain.AggregatedFindings{Issues: []domain.Issue{issue}}

	result := p.Publish(context.Background(), testRef, diff, findings, previous)

	require.Equal(t, 1, result.AlreadyPosted, "expected 1 already-posted issue")
	require.Equal(t, 0, result.Posted, "expected no new posts for an already-posted issue")
	require.Equal(t, "prior-comment-1", findings.Issues[0].SCMCommentID, "expected the prior comment id to be reused")
}

func TestPublish_AccumulatesBestEffortErrors(t *testing.T) {
	sc := &fakeSCM{summaryErr: errors.New("scm unavailable"), inlineErr: errors.New("rate limited")}
	p := &Publisher{SCM: sc}
	diff := mustParse(t, sqlInjectionDiff)

	findings := &domain.AggregatedFindings{
		Issues: []domain.Issue{
			{File: "src/main/java/com/example/dao/UserDAO.java", StartLine: 13, Severity: domain.SeverityCritical, Title: "SQL injection"},
		},
	}

	result := p.Publish(context.Background(), testRef, diff, findings, nil)

	require.Len(t, result.Errors, 2, "expected both the summary and inline failures recorded")
	require.Empty(t, result.SummaryCommentID, "expected no summary comment id on failure")
	require.Equal(t, 0, result.Posted, "expected no successful posts")
}
