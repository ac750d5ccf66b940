package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pr-review-automation/internal/domain"
	"pr-review-automation/internal/types"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func sampleRef() domain.ChangeRequestRef {
	return domain.ChangeRequestRef{Provider: domain.Provider("github"), RepositoryID: "acme/widgets", ChangeRequestNumber: 42}
}

func sampleFindings() domain.AggregatedFindings {
	return domain.AggregatedFindings{
		Issues: []domain.Issue{
			{File: "a.go", StartLine: 10, Severity: domain.SeverityCritical, Title: "sql injection", Suggestion: "use params"},
		},
		Notes:             []domain.Note{{File: "a.go", Line: 5, Note: "looks fine"}},
		CountsBySource:    map[string]int{"llm": 1},
		CountsBySeverity:  map[domain.Severity]int{domain.SeverityCritical: 1},
		TotalBeforeDedup:  1,
		TotalAfterDedup:   1,
		OverallConfidence: 0.9,
		Summary:           "1 issue found",
	}
}

func TestSave_CreatesNewReviewDefaultingToPending(t *testing.T) {
	repo := newTestRepo(t)
	rec, err := repo.Save(context.Background(), sampleRef(), sampleFindings(), "")
	require.NoError(t, err)
	require.Equal(t, domain.ReviewPending, rec.State, "expected PENDING default state")
	require.NotEmpty(t, rec.ID, "expected a generated id")
}

func TestSave_UpsertPreservesCreatedAtAndState(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	ref := sampleRef()

	first, err := repo.Save(ctx, ref, sampleFindings(), domain.ReviewProcessing)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	second, err := repo.Save(ctx, ref, sampleFindings(), "")
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID, "expected same review id on upsert")
	require.True(t, second.CreatedAt.Equal(first.CreatedAt), "expected createdAt preserved")
	require.Equal(t, domain.ReviewProcessing, second.State, "expected state preserved as PROCESSING")
}

func TestFindByID_MaterializesIssuesAndNotes(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	rec, err := repo.Save(ctx, sampleRef(), sampleFindings(), domain.ReviewPending)
	require.NoError(t, err)

	found, ok, err := repo.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, ok, "expected review to be found")
	require.Len(t, found.Findings.Issues, 1)
	require.Equal(t, "sql injection", found.Findings.Issues[0].Title)
	require.Len(t, found.Findings.Notes, 1)
	require.Equal(t, "looks fine", found.Findings.Notes[0].Note)
}

func TestFindByID_ReturnsNotOkForMissingReview(t *testing.T) {
	repo := newTestRepo(t)
	_, ok, err := repo.FindByID(context.Background(), "does-not-exist")
	require.NoError(t, err)
	require.False(t, ok, "expected ok=false for missing review")
}

func TestUpdateState_AllowsLegalTransitionAndSetsCompletedAt(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	rec, err := repo.Save(ctx, sampleRef(), sampleFindings(), domain.ReviewPending)
	require.NoError(t, err)

	require.NoError(t, repo.UpdateState(ctx, rec.ID, domain.ReviewProcessing))
	require.NoError(t, repo.UpdateState(ctx, rec.ID, domain.ReviewCompleted))

	found, _, err := repo.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ReviewCompleted, found.State)
	require.NotNil(t, found.CompletedAt, "expected completedAt to be set for terminal state")
}

func TestUpdateState_RejectsIllegalTransition(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	rec, err := repo.Save(ctx, sampleRef(), sampleFindings(), domain.ReviewCompleted)
	require.NoError(t, err)

	err = repo.UpdateState(ctx, rec.ID, domain.ReviewProcessing)
	require.Error(t, err, "expected error for illegal transition out of a terminal state")
	require.Equal(t, types.CodeStateIllegal, types.CodeOf(err))
}

func TestUpdateResultAndState_ReplacesFindingsAtomically(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	rec, err := repo.Save(ctx, sampleRef(), sampleFindings(), domain.ReviewProcessing)
	require.NoError(t, err)

	newFindings := domain.AggregatedFindings{
		Issues:            []domain.Issue{{File: "b.go", StartLine: 1, Severity: domain.SeverityMinor, Title: "style nit"}},
		TotalBeforeDedup:  1,
		TotalAfterDedup:   1,
		OverallConfidence: 0.5,
		Summary:           "updated",
	}

	require.NoError(t, repo.UpdateResultAndState(ctx, rec.ID, newFindings, domain.ReviewCompleted))

	found, _, err := repo.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ReviewCompleted, found.State)
	require.Len(t, found.Findings.Issues, 1)
	require.Equal(t, "style nit", found.Findings.Issues[0].Title, "expected findings replaced")
	require.Equal(t, "updated", found.Findings.Summary, "expected summary replaced")
}

func TestCleanupExpired_RemovesOnlyReviewsOlderThanRetention(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	oldRef := sampleRef()
	oldRec, err := repo.Save(ctx, oldRef, sampleFindings(), domain.ReviewCompleted)
	require.NoError(t, err)
	// Backdate createdAt directly; Save always stamps "now".
	_, err = repo.db.ExecContext(ctx, `UPDATE reviews SET created_at = ? WHERE id = ?`,
		time.Now().Add(-48*time.Hour), oldRec.ID)
	require.NoError(t, err)

	freshRef := sampleRef()
	freshRef.ChangeRequestNumber = 43
	_, err = repo.Save(ctx, freshRef, sampleFindings(), domain.ReviewCompleted)
	require.NoError(t, err)

	removed, err := repo.CleanupExpired(ctx, time.Now(), 24*time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	_, ok, err := repo.FindByID(ctx, oldRec.ID)
	require.NoError(t, err)
	require.False(t, ok, "expected old review to be cleaned up")
}
