// Package pipeline implements the Pipeline Driver (C11): the end-to-end
// orchestration of one review, shared by the sync SSE shape and the async
// queue-worker shape. Grounded on the teacher's internal/pipeline stage
// files (stage_diff.go/stage_review.go/degradation.go), restructured from
// its 3-stage MCP-tool loop into the 8-step review pipeline from spec
// §4.9: fetch diff, parse, enrich, assemble prompt, stream from the LLM,
// aggregate, persist, publish.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"log/slog"
	"strconv"
	"time"

	"pr-review-automation/internal/aggregator"
	"pr-review-automation/internal/diffcompress"
	"pr-review-automation/internal/diffparser"
	"pr-review-automation/internal/domain"
	"pr-review-automation/internal/enrich"
	"pr-review-automation/internal/llmreview"
	"pr-review-automation/internal/observability"
	"pr-review-automation/internal/prompt"
	"pr-review-automation/internal/publisher"
	"pr-review-automation/internal/reflock"
	"pr-review-automation/internal/resilience"
	"pr-review-automation/internal/reviewcontext"
	"pr-review-automation/internal/scm"
	"pr-review-automation/internal/store"
	"pr-review-automation/internal/ticket"
	"pr-review-automation/internal/types"
)

// Config bounds one pipeline execution, per spec §4.9/§5.
type Config struct {
	SCMTimeout       time.Duration
	DBTimeout        time.Duration // bounds persistSuccess/persistFailure's store calls, default 10s
	PipelineDeadline time.Duration // overall per-request deadline, default 10min

	// Strategies bundles the ref-independent context strategies (path
	// pattern, metadata). CoChangeStrategy is rebuilt per review from
	// CoChange below, since it carries the review's own ref.
	Strategies       []reviewcontext.Strategy
	CoChange         reviewcontext.CoChangeStrategy
	StrategyDeadline time.Duration
	ContextTopK      int

	Enrich      enrich.Config
	Prompt      prompt.Config
	LLM         llmreview.Config
	Aggregation aggregator.Config
}

// Driver wires the per-stage components into the full pipeline.
type Driver struct {
	SCM       scm.Client
	Tickets   ticket.Provider
	LLM       llmreview.Client
	Store     store.Repository
	Publisher *publisher.Publisher
	Logger    *slog.Logger
	Config    Config

	locks reflock.KeyLock
}

func (d *Driver) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// errConsumerStopped signals the SSE subscriber disconnected; used
// internally to short-circuit persistence, mirroring llmreview's own
// stopped-consumer contract.
var errConsumerStopped = errors.New("pipeline: consumer stopped")

// Run drives the pipeline for ref, lazily yielding ReviewChunks as SSE
// would relay them. The sequence is lazy: each range over it runs the
// whole pipeline again for ref. On subscriber cancellation (the consuming
// range breaks, or ctx is cancelled), downstream work is abandoned and no
// review row is created or updated, per spec §4.9's sync-shape rule. On
// normal completion, the review is persisted in a terminal state; when
// publish is true the findings are additionally posted via the Publisher.
func (d *Driver) Run(ctx context.Context, ref domain.ChangeRequestRef, publish bool) iter.Seq[domain.ReviewChunk] {
	return func(yield func(domain.ReviewChunk) bool) {
		d.execute(ctx, ref, publish, yield)
	}
}

// RunAsync drives the pipeline to completion for the queue worker shape,
// discarding the ReviewChunk stream and returning the serialized
// AggregatedFindings the queue worker records as the idempotency result.
func (d *Driver) RunAsync(ctx context.Context, ref domain.ChangeRequestRef) (string, error) {
	findings, err := d.execute(ctx, ref, true, func(domain.ReviewChunk) bool { return true })
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(findings)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// execute runs the 8 pipeline steps, calling sink for every ReviewChunk
// produced along the way. sink returning false is treated exactly like a
// cancelled subscriber: downstream work stops and nothing is persisted.
func (d *Driver) execute(ctx context.Context, ref domain.ChangeRequestRef, publish bool, sink func(domain.ReviewChunk) bool) (domain.AggregatedFindings, error) {
	logger := d.logger().With("provider", ref.Provider, "repositoryId", ref.RepositoryID, "changeRequestNumber", ref.ChangeRequestNumber)
	start := time.Now()

	lockKey := refLockKey(ref)
	d.locks.Lock(lockKey)
	defer d.locks.Unlock(lockKey)

	if d.Config.PipelineDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Config.PipelineDeadline)
		defer cancel()
	}

	diff, err := d.fetchAndParse(ctx, ref)
	if err != nil {
		logger.Error("fetch/parse failed", "error", err)
		d.persistFailure(ctx, ref, err)
		observability.ReviewsTotal.WithLabelValues("failed").Inc()
		sink(errorChunk(err))
		return domain.AggregatedFindings{}, err
	}

	enriched := d.stageEnrich(ctx, ref, diff, logger)

	promptResult := d.stagePrompt(diff, enriched)

	issues, testSummary, llmErr, stopped := d.stageLLM(ctx, promptResult, sink)
	if stopped {
		return domain.AggregatedFindings{}, errConsumerStopped
	}
	if ctx.Err() != nil {
		return domain.AggregatedFindings{}, ctx.Err()
	}
	if llmErr != nil {
		logger.Error("llm stream failed", "error", llmErr)
		d.persistFailure(ctx, ref, llmErr)
		observability.ReviewsTotal.WithLabelValues("failed").Inc()
		return domain.AggregatedFindings{}, llmErr
	}

	findings := aggregator.Aggregate(issues, nil, testSummary, d.Config.Aggregation)
	observability.AggregatorFindings.WithLabelValues("before_dedup").Add(float64(findings.TotalBeforeDedup))
	observability.AggregatorFindings.WithLabelValues("after_dedup").Add(float64(findings.TotalAfterDedup))
	observability.AggregatorFindings.WithLabelValues("filtered").Add(float64(findings.TotalFiltered))

	previous, _ := d.findExisting(ctx, ref)

	review, err := d.persistSuccess(ctx, ref, findings)
	if err != nil {
		logger.Error("persist failed", "error", err)
		sink(errorChunk(err))
		return findings, err
	}
	observability.ReviewsTotal.WithLabelValues("completed").Inc()
	observability.PipelineStageDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())

	if publish && d.Publisher != nil {
		result := d.Publisher.Publish(ctx, ref, diff, &findings, previous)
		if review != nil && d.Store != nil {
			if err := d.Store.UpdateResultAndState(ctx, review.ID, findings, domain.ReviewCompleted); err != nil {
				logger.Error("failed to persist publish outcome", "error", err)
			}
		}
		logger.Info("published findings", "posted", result.Posted, "skipped", result.Skipped, "alreadyPosted", result.AlreadyPosted, "errors", len(result.Errors))
		sink(domain.ReviewChunk{Type: domain.ChunkPublished, Content: findings.Summary, Timestamp: time.Now().UnixNano()})
	}

	return findings, nil
}

// fetchAndParse fetches the raw diff under the configured SCM timeout and
// retry policy, then parses it. Both steps are critical per spec §4.9:
// failure here fails the review, it is never degraded.
func (d *Driver) fetchAndParse(ctx context.Context, ref domain.ChangeRequestRef) (domain.DiffDocument, error) {
	scmTimeout := d.Config.SCMTimeout
	if scmTimeout <= 0 {
		scmTimeout = 30 * time.Second
	}

	var raw string
	err := resilience.WithTimeout(ctx, scmTimeout, types.CodeSCMTimeout, "fetch diff", func(cctx context.Context) error {
		return resilience.Retry(cctx, scmTimeout, func(rctx context.Context) error {
			r, ferr := d.SCM.FetchDiff(rctx, ref)
			if ferr != nil {
				return types.TransientError(types.CodeSCMError, "fetch diff failed", ferr)
			}
			raw = r
			return nil
		})
	})
	if err != nil {
		return domain.DiffDocument{}, err
	}

	doc, err := diffparser.Parse(raw)
	if err != nil {
		return domain.DiffDocument{}, err
	}
	return doc, nil
}

// stageEnrich runs the context orchestrator and the C5 fetchers. Both are
// best-effort by construction (spec §7): they never return an error the
// driver must propagate.
func (d *Driver) stageEnrich(ctx context.Context, ref domain.ChangeRequestRef, diff domain.DiffDocument, logger *slog.Logger) stageEnrichResult {
	started := time.Now()

	coChange := d.Config.CoChange
	coChange.Ref = ref
	strategies := append(append([]reviewcontext.Strategy{}, d.Config.Strategies...), coChange)
	orchestrator := reviewcontext.Orchestrator{Strategies: strategies, Deadline: d.Config.StrategyDeadline, TopK: d.Config.ContextTopK}

	enrichedDiff := orchestrator.Enrich(ctx, diff, d.SCM)
	c5 := enrich.Run(ctx, ref, diff, "", "", d.SCM, d.Tickets, d.Config.Enrich, logger)
	observability.PipelineStageDuration.WithLabelValues("enrich").Observe(time.Since(started).Seconds())
	return stageEnrichResult{diff: enrichedDiff, c5: c5}
}

type stageEnrichResult struct {
	diff domain.EnrichedDiff
	c5   enrich.Result
}

// stagePrompt assembles the prompt. The DIFF section is built from a
// compressed copy of the raw diff to economize the char budget; diff
// itself (and everything derived from it upstream) is left untouched, so
// position mapping downstream still sees the original line numbers.
func (d *Driver) stagePrompt(diff domain.DiffDocument, enriched stageEnrichResult) domain.PromptResult {
	rules := prompt.DetectRules(diff)
	promptDiff := diff
	promptDiff.Raw = diffPreprocessor.Preprocess(diff)
	return prompt.Assemble(promptDiff, enriched.diff.Matches, enriched.c5.Ticket, enriched.c5.ExpandedFiles, enriched.c5.Policies, rules, d.Config.Prompt)
}

var diffPreprocessor = diffcompress.NewDiffPreprocessor(diffcompress.DefaultPreprocessOptions())

// stageLLM drains Analyze, forwarding each chunk to sink, recovering the
// structured issues from the terminal DONE chunk's metadata. stopped is
// true iff sink returned false before the stream finished.
func (d *Driver) stageLLM(ctx context.Context, promptResult domain.PromptResult, sink func(domain.ReviewChunk) bool) (issues []domain.Issue, testSummary string, llmErr error, stopped bool) {
	started := time.Now()
	for chunk := range llmreview.Analyze(ctx, d.LLM, promptResult, d.Config.LLM) {
		switch chunk.Type {
		case domain.ChunkDone:
			issues, testSummary, _ = llmreview.DecodeDonePayload(chunk)
		case domain.ChunkError:
			llmErr = errors.New(chunk.Content)
		}
		if !sink(chunk) {
			observability.PipelineStageDuration.WithLabelValues("llm").Observe(time.Since(started).Seconds())
			return issues, testSummary, llmErr, true
		}
	}
	observability.PipelineStageDuration.WithLabelValues("llm").Observe(time.Since(started).Seconds())
	return issues, testSummary, llmErr, false
}

func (d *Driver) dbTimeout() time.Duration {
	if d.Config.DBTimeout <= 0 {
		return 10 * time.Second
	}
	return d.Config.DBTimeout
}

// persistSuccess saves the completed review and returns the saved record.
func (d *Driver) persistSuccess(ctx context.Context, ref domain.ChangeRequestRef, findings domain.AggregatedFindings) (*domain.Review, error) {
	if d.Store == nil {
		return nil, nil
	}
	var saved *domain.Review
	err := resilience.WithTimeout(ctx, d.dbTimeout(), types.CodeDBTimeout, "persist review", func(cctx context.Context) error {
		s, serr := d.Store.Save(cctx, ref, findings, domain.ReviewCompleted)
		saved = s
		return serr
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// persistFailure records a FAILED review for ref. Best-effort: a store
// error here is logged, not propagated, since the caller already has a
// classified pipeline error to report.
func (d *Driver) persistFailure(ctx context.Context, ref domain.ChangeRequestRef, cause error) {
	if d.Store == nil {
		return
	}
	findings := domain.AggregatedFindings{Summary: cause.Error()}
	err := resilience.WithTimeout(ctx, d.dbTimeout(), types.CodeDBTimeout, "persist failed review", func(cctx context.Context) error {
		_, serr := d.Store.Save(cctx, ref, findings, domain.ReviewFailed)
		return serr
	})
	if err != nil {
		d.logger().Error("failed to persist failed review", "error", err)
	}
}

// findExisting returns ref's previously persisted review, if any, so the
// Publisher can skip reposting issues it already commented on.
func (d *Driver) findExisting(ctx context.Context, ref domain.ChangeRequestRef) (*domain.Review, bool) {
	if d.Store == nil {
		return nil, false
	}
	review, ok, err := d.Store.FindByRef(ctx, ref)
	if err != nil || !ok {
		return nil, false
	}
	return review, true
}

// refLockKey gives reflock.KeyLock a stable per-(provider,repo,number)
// identity, matching the Review Store's own compound key.
func refLockKey(ref domain.ChangeRequestRef) string {
	return string(ref.Provider) + "/" + ref.RepositoryID + "/" + strconv.Itoa(ref.ChangeRequestNumber)
}

func errorChunk(err error) domain.ReviewChunk {
	return domain.ReviewChunk{Type: domain.ChunkError, Content: err.Error(), Timestamp: time.Now().UnixNano()}
}
