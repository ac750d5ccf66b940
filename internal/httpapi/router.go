// Package httpapi implements the HTTP surface from spec §6: the two SSE
// review endpoints, the publish-only endpoint, and the async submit/status
// pair, routed with the standard net/http ServeMux pattern-mux the teacher
// uses in cmd/server/main.go, generalized from its single /webhook route.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pr-review-automation/internal/config"
	"pr-review-automation/internal/diffparser"
	"pr-review-automation/internal/domain"
	"pr-review-automation/internal/observability"
	"pr-review-automation/internal/pipeline"
	"pr-review-automation/internal/publisher"
	"pr-review-automation/internal/queue"
	"pr-review-automation/internal/types"
)

// Router wires the review pipeline and queue into the HTTP routes of
// spec §6.
type Router struct {
	Driver      *pipeline.Driver
	Publisher   *publisher.Publisher
	Queue       *queue.Queue
	Logger      *slog.Logger
	MaxBodySize int64
}

func (rt *Router) logger() *slog.Logger {
	if rt.Logger != nil {
		return rt.Logger
	}
	return slog.Default()
}

// Mux builds the complete ServeMux, including health/readiness probes and
// the Prometheus handler, mirroring the teacher's cmd/server route table.
func (rt *Router) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/reviews/{provider}/{repositoryId}/change-requests/{n}/stream", rt.handleStream(false))
	mux.HandleFunc("GET /api/v1/reviews/{provider}/{repositoryId}/change-requests/{n}/stream-and-publish", rt.handleStream(true))
	mux.HandleFunc("POST /api/v1/reviews/{provider}/{repositoryId}/change-requests/{n}/review", rt.handlePublish)
	mux.HandleFunc("POST /api/v1/async-reviews/{provider}/{repositoryId}/change-requests/{n}", rt.handleAsyncSubmit)
	mux.HandleFunc("GET /api/v1/async-reviews/{requestId}/status", rt.handleAsyncStatus)

	mux.HandleFunc("GET /health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("GET /health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Ready"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// refFromPath parses the {provider}/{repositoryId}/change-requests/{n}
// path parameters shared by four of the five routes.
func refFromPath(r *http.Request) (domain.ChangeRequestRef, error) {
	provider := r.PathValue("provider")
	repositoryID := r.PathValue("repositoryId")
	n := r.PathValue("n")

	if provider == "" || repositoryID == "" || n == "" {
		return domain.ChangeRequestRef{}, types.ValidationError("missing path parameters", nil)
	}
	number, err := strconv.Atoi(n)
	if err != nil {
		return domain.ChangeRequestRef{}, types.ValidationError("change request number must be an integer", err)
	}
	return domain.ChangeRequestRef{
		Provider:            domain.Provider(provider),
		RepositoryID:         repositoryID,
		ChangeRequestNumber:  number,
	}, nil
}

// withCorrelation attaches the inbound X-Correlation-ID header (or a fresh
// one) to ctx, echoing it back on the response per spec §9.
func withCorrelation(w http.ResponseWriter, r *http.Request) (*http.Request, string) {
	id := observability.WithCorrelationID(r.Context(), r.Header.Get(config.CorrelationHeader))
	cid := observability.CorrelationID(id)
	w.Header().Set(config.CorrelationHeader, cid)
	return r.WithContext(id), cid
}

// handleStream serves both SSE routes; publish controls whether findings
// are posted to the SCM once the pipeline completes normally.
func (rt *Router) handleStream(publish bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, err := refFromPath(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		r, _ = withCorrelation(w, r)

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		observability.SSEConnectionsActive.Inc()
		defer observability.SSEConnectionsActive.Dec()

		for chunk := range rt.Driver.Run(r.Context(), ref, publish) {
			if err := writeSSE(w, chunk); err != nil {
				rt.logger().Warn("sse write failed, subscriber likely disconnected", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, chunk domain.ReviewChunk) error {
	body, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	_, err = w.Write(append(append([]byte("data: "), body...), '\n', '\n'))
	return err
}

// publishRequest is the body of POST .../review: a pre-computed findings
// set the caller wants posted, without running the pipeline.
type publishRequest struct {
	Findings domain.AggregatedFindings `json:"findings"`
	Diff     string                    `json:"diff"` // raw unified diff, for position mapping
}

// handlePublish publishes a caller-supplied findings set, per spec §6's
// "review" route: no pipeline run, just the publish step.
func (rt *Router) handlePublish(w http.ResponseWriter, r *http.Request) {
	ref, err := refFromPath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	r, _ = withCorrelation(w, r)

	if rt.MaxBodySize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, rt.MaxBodySize)
	}

	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"malformed request body"}`, http.StatusBadRequest)
		return
	}

	if rt.Publisher == nil {
		http.Error(w, `{"error":"scm_error"}`, http.StatusBadGateway)
		return
	}

	diff, err := diffparser.Parse(req.Diff)
	if err != nil {
		http.Error(w, `{"error":"diff_malformed"}`, http.StatusBadRequest)
		return
	}

	result := rt.Publisher.Publish(r.Context(), ref, diff, &req.Findings, nil)
	if len(result.Errors) > 0 && result.Posted == 0 && result.SummaryCommentID == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{"error": "scm_error"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"summaryCommentId": result.SummaryCommentID,
		"posted":           result.Posted,
		"skipped":          result.Skipped,
		"alreadyPosted":    result.AlreadyPosted,
	})
}

// handleAsyncSubmit enqueues ref for worker processing and returns 202
// with the requestId and a status polling URL, per spec §6.
func (rt *Router) handleAsyncSubmit(w http.ResponseWriter, r *http.Request) {
	ref, err := refFromPath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	r, _ = withCorrelation(w, r)

	req, err := rt.Queue.Enqueue(r.Context(), ref)
	if err != nil {
		rt.logger().Error("enqueue failed", "error", err)
		http.Error(w, `{"error":"queue unavailable"}`, http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"requestId": req.RequestID,
		"statusUrl": "/api/v1/async-reviews/" + req.RequestID + "/status",
	})
}

// handleAsyncStatus reports the latest known status for requestId, per
// spec §6: never partial findings, the last terminal or in-flight state.
func (rt *Router) handleAsyncStatus(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("requestId")
	if requestID == "" {
		http.Error(w, `{"error":"missing requestId"}`, http.StatusBadRequest)
		return
	}

	rec, ok, err := rt.Queue.GetIdempotency(r.Context(), requestID)
	if err != nil {
		rt.logger().Error("status lookup failed", "error", err)
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	resp := map[string]any{"status": rec.Status}
	if rec.Result != "" {
		resp["result"] = json.RawMessage(rec.Result)
	}
	if rec.Error != "" {
		resp["error"] = rec.Error
	}
	if rec.ProcessingTimeMs > 0 {
		resp["processingTimeMs"] = rec.ProcessingTimeMs
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
