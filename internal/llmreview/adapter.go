// Package llmreview implements the LLM Streaming Adapter (C7): a single
// streaming chat completion per review, emitting ReviewChunks as content
// arrives and validating the accumulated response against the Findings
// schema once the model finishes.
package llmreview

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"pr-review-automation/internal/domain"
	"pr-review-automation/internal/types"
)

// ChunkStream is the subset of *ssestream.Stream[openai.ChatCompletionChunk]
// this adapter needs; *ssestream.Stream already satisfies it, so
// OpenAIClient.Stream can return one directly without an adapter shim.
type ChunkStream interface {
	Next() bool
	Current() openai.ChatCompletionChunk
	Err() error
	Close() error
}

// Client is the abstract LLM capability this adapter consumes: a
// streaming call for the primary attempt, and a unary call for the
// stricter schema-retry attempt.
type Client interface {
	Stream(ctx context.Context, params openai.ChatCompletionNewParams) ChunkStream
	Complete(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// Config bounds one Analyze call.
type Config struct {
	Model   string
	Timeout time.Duration // hard deadline; default 120s
}

// DefaultConfig mirrors spec §4.6's documented default.
func DefaultConfig() Config {
	return Config{Timeout: 120 * time.Second}
}

const strictRetryInstruction = "\n\nYour previous response did not match the required JSON schema. Respond with ONLY a single JSON object matching the schema exactly: no prose, no markdown fences."

// Analyze opens one streaming chat completion, emits ANALYSIS chunks as
// content arrives, then validates the accumulated text against the
// Findings schema, retrying once with a stricter instruction on failure.
// The returned sequence always ends in exactly one DONE or ERROR chunk.
// The sequence is lazy: each range over it opens its own streaming call,
// so ranging it twice issues two independent completions.
func Analyze(ctx context.Context, client Client, prompt domain.PromptResult, cfg Config) iter.Seq[domain.ReviewChunk] {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}

	return func(yield func(domain.ReviewChunk) bool) {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		params := openai.ChatCompletionNewParams{
			Model: shared.ChatModel(cfg.Model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(prompt.System),
				openai.UserMessage(prompt.User),
			},
		}

		accumulated, err := streamToCompletion(cctx, client, params, yield)
		if errors.Is(err, errConsumerStopped) {
			return
		}
		if err != nil {
			emitError(yield, classifyStreamError(cctx, err))
			return
		}

		payload, err := parseFindings(accumulated)
		if err != nil {
			retryParams := params
			retryParams.Messages = append([]openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(prompt.System + strictRetryInstruction),
			}, params.Messages[1:]...)

			resp, retryErr := client.Complete(cctx, retryParams)
			if retryErr != nil {
				emitError(yield, classifyStreamError(cctx, retryErr))
				return
			}
			if len(resp.Choices) == 0 {
				emitError(yield, types.SchemaError("empty retry response", nil))
				return
			}
			payload, err = parseFindings(resp.Choices[0].Message.Content)
			if err != nil {
				emitError(yield, err)
				return
			}
		}

		yield(domain.ReviewChunk{
			Type:      domain.ChunkDone,
			Content:   summarize(payload),
			Metadata:  encodeDonePayload(payload),
			Timestamp: nowFunc(),
		})
	}
}

// donePayload is the wire shape carried in the DONE chunk's Metadata field
// so the pipeline driver can recover structured issues without re-parsing
// the model's raw text.
type donePayload struct {
	Issues      []domain.Issue `json:"issues"`
	TestSummary string         `json:"test_summary,omitempty"`
}

func encodeDonePayload(payload findingsPayload) string {
	raw, err := json.Marshal(donePayload{Issues: payload.ToIssues(), TestSummary: payload.TestSummaryLine()})
	if err != nil {
		return ""
	}
	return string(raw)
}

// DecodeDonePayload recovers the issues and test-summary line a DONE
// chunk's Metadata carries. Returns ok=false if chunk is not a DONE chunk
// or its metadata could not be decoded (e.g. an ERROR chunk with no
// payload).
func DecodeDonePayload(chunk domain.ReviewChunk) (issues []domain.Issue, testSummary string, ok bool) {
	if chunk.Type != domain.ChunkDone || chunk.Metadata == "" {
		return nil, "", false
	}
	var p donePayload
	if err := json.Unmarshal([]byte(chunk.Metadata), &p); err != nil {
		return nil, "", false
	}
	return p.Issues, p.TestSummary, true
}

// streamToCompletion drains the stream into ANALYSIS chunks at line
// granularity and returns the fully accumulated text. It stops early,
// closing the upstream stream, the moment the consumer's yield returns
// false or the context is cancelled.
func streamToCompletion(ctx context.Context, client Client, params openai.ChatCompletionNewParams, yield func(domain.ReviewChunk) bool) (string, error) {
	stream := client.Stream(ctx, params)
	defer stream.Close()

	var full strings.Builder
	var line strings.Builder

	for stream.Next() {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		line.WriteString(delta)
		if strings.Contains(delta, "\n") {
			if !yield(domain.ReviewChunk{Type: domain.ChunkAnalysis, Content: line.String(), Timestamp: nowFunc()}) {
				return full.String(), errConsumerStopped
			}
			line.Reset()
		}
	}
	if err := stream.Err(); err != nil {
		return full.String(), err
	}
	if line.Len() > 0 {
		if !yield(domain.ReviewChunk{Type: domain.ChunkAnalysis, Content: line.String(), Timestamp: nowFunc()}) {
			return full.String(), errConsumerStopped
		}
	}
	return full.String(), nil
}

// errConsumerStopped signals that the subscriber's yield returned false;
// the producer must not call yield again afterward.
var errConsumerStopped = errors.New("llmreview: consumer stopped")

func emitError(yield func(domain.ReviewChunk) bool, err error) {
	yield(domain.ReviewChunk{
		Type:      domain.ChunkError,
		Content:   err.Error(),
		Timestamp: nowFunc(),
	})
}

func classifyStreamError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return types.TimeoutError(types.CodeLLMTimeout, "llm stream timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return types.InternalError(types.CodeLLMTransient, "llm stream cancelled by subscriber", err)
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || (apiErr.StatusCode >= 500 && apiErr.StatusCode < 600) {
			return types.TransientError(types.CodeLLMTransient, "llm request failed transiently", err)
		}
	}
	return types.InternalError(types.CodeInternal, "llm stream failed", err)
}

func summarize(payload findingsPayload) string {
	return "parsed " + strconv.Itoa(len(payload.Issues)) + " finding(s)"
}

// nowFunc is a seam for tests; production code stamps UnixNano, matching
// domain.ReviewChunk.Timestamp's monotonic-nanoseconds contract.
var nowFunc = func() int64 { return time.Now().UnixNano() }
