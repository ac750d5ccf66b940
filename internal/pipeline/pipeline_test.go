package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openai/openai-go"
	"github.com/stretchr/testify/require"

	"pr-review-automation/internal/aggregator"
	"pr-review-automation/internal/domain"
	"pr-review-automation/internal/llmreview"
	"pr-review-automation/internal/publisher"
	"pr-review-automation/internal/scm"
	"pr-review-automation/internal/store"
	"pr-review-automation/internal/ticket"
)

const sampleDiff = `--- a/main.go
+++ b/main.go
@@ -1,3 +1,3 @@
 package main
-func old() {}
+func new() {}

`

const validFindingsJSON = `{"issues":[{"file":"main.go","start_line":3,"severity":"major","title":"renamed function","confidence_score":0.9}],"test_summary":"no tests added"}`

// fakeSCM implements scm.Client for the pipeline tests. All enrichment
// lookups (file content, co-occurrence) return empty results rather than
// embedding the interface, so a missed method shows up as a compile error
// instead of a nil-interface panic deep in the enrich stage.
type fakeSCM struct {
	diff     string
	fetchErr error
	posted   []string
}

func (f *fakeSCM) FetchDiff(ctx context.Context, ref domain.ChangeRequestRef) (string, error) {
	if f.fetchErr != nil {
		return "", f.fetchErr
	}
	return f.diff, nil
}

func (f *fakeSCM) FetchFileContent(ctx context.Context, ref domain.ChangeRequestRef, path string) (string, error) {
	return "", nil
}

func (f *fakeSCM) CoOccurringFiles(ctx context.Context, ref domain.ChangeRequestRef, seedPaths []string, lookback time.Duration, maxCommits int) (map[string]int, error) {
	return nil, nil
}

func (f *fakeSCM) PostSummaryComment(ctx context.Context, ref domain.ChangeRequestRef, body string) (string, error) {
	f.posted = append(f.posted, "summary:"+body)
	return "summary-1", nil
}

func (f *fakeSCM) PostInlineComment(ctx context.Context, ref domain.ChangeRequestRef, file string, position int, body string) (string, error) {
	f.posted = append(f.posted, "inline:"+file)
	return "inline-1", nil
}

var _ scm.Client = (*fakeSCM)(nil)

// fakeChunkStream and fakeLLMClient adapt a canned response into the
// llmreview.Client/ChunkStream seam, mirroring llmreview's own test fakes.
type fakeChunkStream struct {
	chunks []openai.ChatCompletionChunk
	i      int
}

func (f *fakeChunkStream) Next() bool {
	if f.i >= len(f.chunks) {
		return false
	}
	f.i++
	return true
}
func (f *fakeChunkStream) Current() openai.ChatCompletionChunk { return f.chunks[f.i-1] }
func (f *fakeChunkStream) Err() error                          { return nil }
func (f *fakeChunkStream) Close() error                        { return nil }

type fakeLLMClient struct{ content string }

func (f fakeLLMClient) Stream(ctx context.Context, params openai.ChatCompletionNewParams) llmreview.ChunkStream {
	return &fakeChunkStream{chunks: []openai.ChatCompletionChunk{{
		Choices: []openai.ChatCompletionChunkChoice{{Delta: openai.ChatCompletionChunkChoiceDelta{Content: f.content}}},
	}}}
}
func (f fakeLLMClient) Complete(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return nil, errors.New("unused in this test")
}

// fakeStore implements store.Repository in-memory, for the driver tests.
type fakeStore struct {
	saved []domain.Review
}

func (s *fakeStore) Save(ctx context.Context, ref domain.ChangeRequestRef, findings domain.AggregatedFindings, state domain.ReviewState) (*domain.Review, error) {
	r := domain.Review{ID: "r1", Ref: ref, State: state, Findings: findings}
	s.saved = append(s.saved, r)
	return &r, nil
}
func (s *fakeStore) FindByID(ctx context.Context, reviewID string) (*domain.Review, bool, error) {
	return nil, false, nil
}
func (s *fakeStore) FindByRef(ctx context.Context, ref domain.ChangeRequestRef) (*domain.Review, bool, error) {
	if len(s.saved) == 0 {
		return nil, false, nil
	}
	return &s.saved[len(s.saved)-1], true, nil
}
func (s *fakeStore) UpdateState(ctx context.Context, reviewID string, st domain.ReviewState) error {
	return nil
}
func (s *fakeStore) UpdateResultAndState(ctx context.Context, reviewID string, findings domain.AggregatedFindings, st domain.ReviewState) error {
	return nil
}
func (s *fakeStore) CleanupExpired(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	return 0, nil
}
func (s *fakeStore) Close() error { return nil }

var _ store.Repository = (*fakeStore)(nil)

func newTestDriver(sc *fakeSCM, st *fakeStore, llmContent string) *Driver {
	return &Driver{
		SCM:       sc,
		Tickets:   ticket.NoopProvider{},
		LLM:       fakeLLMClient{content: llmContent},
		Store:     st,
		Publisher: &publisher.Publisher{SCM: sc},
		Config: Config{
			SCMTimeout: 5 * time.Second,
			LLM:        llmreview.Config{Timeout: 5 * time.Second},
			Aggregation: aggregator.Config{
				MinConfidence:        0.5,
				MaxIssuesPerFile:     10,
				DeduplicationEnabled: true,
			},
		},
	}
}

func collect(seq func(func(domain.ReviewChunk) bool)) []domain.ReviewChunk {
	var out []domain.ReviewChunk
	seq(func(c domain.ReviewChunk) bool {
		out = append(out, c)
		return true
	})
	return out
}

func TestRun_CompletesAndPersistsAndPublishes(t *testing.T) {
	sc := &fakeSCM{diff: sampleDiff}
	st := &fakeStore{}
	d := newTestDriver(sc, st, validFindingsJSON)
	ref := domain.ChangeRequestRef{Provider: domain.ProviderGitHub, RepositoryID: "r", ChangeRequestNumber: 1}

	chunks := collect(d.Run(context.Background(), ref, true))

	var sawDone, sawPublished bool
	for _, c := range chunks {
		if c.Type == domain.ChunkDone {
			sawDone = true
		}
		if c.Type == domain.ChunkPublished {
			sawPublished = true
		}
	}
	require.True(t, sawDone, "expected a DONE chunk")
	require.True(t, sawPublished, "expected a PUBLISHED chunk")
	require.Len(t, st.saved, 1, "expected exactly one persisted review")
	require.NotEmpty(t, sc.posted, "expected the publisher to post at least the summary comment")
}

func TestRun_FetchFailureFailsReviewWithoutPublish(t *testing.T) {
	sc := &fakeSCM{fetchErr: errors.New("scm down")}
	st := &fakeStore{}
	d := newTestDriver(sc, st, validFindingsJSON)
	ref := domain.ChangeRequestRef{Provider: domain.ProviderGitHub, RepositoryID: "r", ChangeRequestNumber: 2}
	d.Config.SCMTimeout = 200 * time.Millisecond

	chunks := collect(d.Run(context.Background(), ref, true))

	require.Len(t, chunks, 1, "expected a single ERROR chunk")
	require.Equal(t, domain.ChunkError, chunks[0].Type)
	require.Len(t, st.saved, 1, "expected a FAILED review persisted")
	require.Equal(t, domain.ReviewFailed, st.saved[0].State)
	require.Empty(t, sc.posted, "expected no publish on fetch failure")
}

func TestRun_SubscriberCancellationSkipsPersistence(t *testing.T) {
	sc := &fakeSCM{diff: sampleDiff}
	st := &fakeStore{}
	d := newTestDriver(sc, st, validFindingsJSON)
	ref := domain.ChangeRequestRef{Provider: domain.ProviderGitHub, RepositoryID: "r", ChangeRequestNumber: 3}

	count := 0
	d.Run(context.Background(), ref, true)(func(c domain.ReviewChunk) bool {
		count++
		return false // stop immediately, like a disconnected SSE subscriber
	})

	require.Empty(t, st.saved, "expected no persisted review on subscriber cancellation")
	require.Empty(t, sc.posted, "expected no publish on subscriber cancellation")
}

func TestRunAsync_ReturnsSerializedFindings(t *testing.T) {
	sc := &fakeSCM{diff: sampleDiff}
	st := &fakeStore{}
	d := newTestDriver(sc, st, validFindingsJSON)
	ref := domain.ChangeRequestRef{Provider: domain.ProviderGitHub, RepositoryID: "r", ChangeRequestNumber: 4}

	result, err := d.RunAsync(context.Background(), ref)
	require.NoError(t, err)
	require.NotEmpty(t, result, "expected non-empty serialized findings")
	require.Len(t, st.saved, 1, "expected exactly one persisted review")
}
