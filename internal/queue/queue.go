// Package queue implements the Request Queue (C10): a durable append-only
// stream with consumer groups for the async review shape, backed by Redis
// Streams, plus an idempotency record per requestId so redelivery after a
// visibility timeout never double-completes a review.
package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"pr-review-automation/internal/domain"
)

// defaultVisibility is how long a claimed-but-unacked message sits before
// reclaimStale hands it to another consumer. Spec §6 has no dedicated
// knob for this, unlike StreamName/GroupName/PollTimeout/Retention below.
const defaultVisibility = 10 * time.Minute

// Config names the durable stream and its consumer group, and bounds the
// poll block and idempotency-record retention, per spec §6's queue.*
// knobs (C10). Callers build this from config.QueueConfig.
type Config struct {
	StreamName  string
	GroupName   string
	PollTimeout time.Duration
	Retention   time.Duration
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = "review:agent-requests"
	}
	if c.GroupName == "" {
		c.GroupName = "agent-workers"
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 5 * time.Second
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	return c
}

// Queue is the durable request stream, per spec §4.9.
type Queue struct {
	rdb        *redis.Client
	cfg        Config
	visibility time.Duration
}

// New wraps rdb in a Queue and ensures the consumer group exists.
func New(ctx context.Context, rdb *redis.Client, cfg Config) (*Queue, error) {
	cfg = cfg.withDefaults()
	q := &Queue{rdb: rdb, cfg: cfg, visibility: defaultVisibility}
	err := rdb.XGroupCreateMkStream(ctx, cfg.StreamName, cfg.GroupName, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return q, nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

// Hash computes the stable digest over ref used as QueuedRequest.Hash.
func Hash(ref domain.ChangeRequestRef) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s/%s/%d", ref.Provider, ref.RepositoryID, ref.ChangeRequestNumber)))
	return hex.EncodeToString(sum[:])
}

// Enqueue appends a new QueuedRequest to the stream and seeds its
// idempotency record as PENDING.
func (q *Queue) Enqueue(ctx context.Context, ref domain.ChangeRequestRef) (domain.QueuedRequest, error) {
	req := domain.QueuedRequest{
		RequestID:   newRequestID(),
		Ref:         ref,
		SubmittedAt: time.Now().UTC(),
		Hash:        Hash(ref),
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return domain.QueuedRequest{}, fmt.Errorf("marshal request: %w", err)
	}

	if err := q.setIdempotency(ctx, req.RequestID, domain.IdempotencyRecord{Status: domain.IdemPending}); err != nil {
		return domain.QueuedRequest{}, fmt.Errorf("seed idempotency record: %w", err)
	}

	if err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.StreamName,
		Values: map[string]any{"request": payload},
	}).Err(); err != nil {
		return domain.QueuedRequest{}, fmt.Errorf("xadd: %w", err)
	}
	return req, nil
}

// Record is one queue delivery: the decoded request plus its stream
// message id, needed to Ack.
type Record struct {
	MessageID string
	Request   domain.QueuedRequest
}

// ReadBatch claims up to count undelivered records for consumerName, then
// reclaims any records past the visibility timeout that were never acked
// by their original consumer.
func (q *Queue) ReadBatch(ctx context.Context, consumerName string, count int64) ([]Record, error) {
	reclaimed, err := q.reclaimStale(ctx, consumerName, count)
	if err != nil {
		return nil, err
	}
	if len(reclaimed) > 0 {
		return reclaimed, nil
	}

	streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.cfg.GroupName,
		Consumer: consumerName,
		Streams:  []string{q.cfg.StreamName, ">"},
		Count:    count,
		Block:    q.cfg.PollTimeout,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}
	return decodeMessages(streams)
}

func (q *Queue) reclaimStale(ctx context.Context, consumerName string, count int64) ([]Record, error) {
	pending, err := q.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.cfg.StreamName,
		Group:  q.cfg.GroupName,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, nil // no pending entries yet, or group has no backlog
	}

	var staleIDs []string
	for _, p := range pending {
		if p.Idle >= q.visibility {
			staleIDs = append(staleIDs, p.ID)
		}
	}
	if len(staleIDs) == 0 {
		return nil, nil
	}

	msgs, err := q.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   q.cfg.StreamName,
		Group:    q.cfg.GroupName,
		Consumer: consumerName,
		MinIdle:  q.visibility,
		Messages: staleIDs,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xclaim: %w", err)
	}
	return decodeMessages([]redis.XStream{{Stream: q.cfg.StreamName, Messages: msgs}})
}

func decodeMessages(streams []redis.XStream) ([]Record, error) {
	var out []Record
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			raw, ok := msg.Values["request"].(string)
			if !ok {
				continue
			}
			var req domain.QueuedRequest
			if err := json.Unmarshal([]byte(raw), &req); err != nil {
				continue
			}
			out = append(out, Record{MessageID: msg.ID, Request: req})
		}
	}
	return out, nil
}

// Ack acknowledges successful processing of a record.
func (q *Queue) Ack(ctx context.Context, messageID string) error {
	return q.rdb.XAck(ctx, q.cfg.StreamName, q.cfg.GroupName, messageID).Err()
}

func idempotencyKey(requestID string) string {
	return "result:" + requestID
}

// GetIdempotency returns the record for requestID, or ok=false if absent
// (never enqueued, or its TTL expired). Fields are read with gjson rather
// than a full json.Unmarshal, matching the field-by-field writes in
// setIdempotency.
func (q *Queue) GetIdempotency(ctx context.Context, requestID string) (domain.IdempotencyRecord, bool, error) {
	raw, err := q.rdb.Get(ctx, idempotencyKey(requestID)).Result()
	if err == redis.Nil {
		return domain.IdempotencyRecord{}, false, nil
	}
	if err != nil {
		return domain.IdempotencyRecord{}, false, err
	}
	parsed := gjson.Parse(raw)
	rec := domain.IdempotencyRecord{
		Status:           domain.IdempotencyStatus(parsed.Get("status").String()),
		Result:           parsed.Get("result").String(),
		Error:            parsed.Get("error").String(),
		ProcessingTimeMs: parsed.Get("processingTimeMs").Int(),
	}
	return rec, true, nil
}

// setIdempotency writes rec's fields one by one with sjson.Set rather than
// json.Marshal-ing the whole struct. The Result field (itself a JSON
// document) is stored as an escaped JSON string value, which
// GetIdempotency's gjson read returns unescaped.
func (q *Queue) setIdempotency(ctx context.Context, requestID string, rec domain.IdempotencyRecord) error {
	doc := "{}"
	var err error
	if doc, err = sjson.Set(doc, "status", string(rec.Status)); err != nil {
		return err
	}
	if doc, err = sjson.Set(doc, "result", rec.Result); err != nil {
		return err
	}
	if doc, err = sjson.Set(doc, "error", rec.Error); err != nil {
		return err
	}
	if doc, err = sjson.Set(doc, "processingTimeMs", rec.ProcessingTimeMs); err != nil {
		return err
	}
	payload := []byte(doc)
	return q.rdb.Set(ctx, idempotencyKey(requestID), payload, q.cfg.Retention).Err()
}

// MarkProcessing transitions the idempotency record to PROCESSING.
func (q *Queue) MarkProcessing(ctx context.Context, requestID string) error {
	return q.setIdempotency(ctx, requestID, domain.IdempotencyRecord{Status: domain.IdemProcessing})
}

// MarkCompleted records a COMPLETED outcome with the serialized findings.
func (q *Queue) MarkCompleted(ctx context.Context, requestID, resultJSON string, processingTimeMs int64) error {
	return q.setIdempotency(ctx, requestID, domain.IdempotencyRecord{
		Status:           domain.IdemCompleted,
		Result:           resultJSON,
		ProcessingTimeMs: processingTimeMs,
	})
}

// MarkFailed records a FAILED outcome with the classified error message.
func (q *Queue) MarkFailed(ctx context.Context, requestID, errMsg string, processingTimeMs int64) error {
	return q.setIdempotency(ctx, requestID, domain.IdempotencyRecord{
		Status:           domain.IdemFailed,
		Error:            errMsg,
		ProcessingTimeMs: processingTimeMs,
	})
}

// newRequestID is a seam so tests can stub predictable ids.
var newRequestID = func() string { return uuid.NewString() }
