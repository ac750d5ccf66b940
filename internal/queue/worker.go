package queue

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"pr-review-automation/internal/domain"
)

// Handler executes the pipeline for one dequeued request and reports its
// outcome as a JSON-serialized result or an error.
type Handler func(ctx context.Context, rec Record) (resultJSON string, err error)

// WorkerPool runs N goroutines, each pulling batches from the queue's
// consumer group and driving them through handle. Adapted from the
// teacher's webhook.WorkerPool: bounded goroutines, panic recovery per
// job, graceful drain via sync.WaitGroup — generalized from an in-process
// job channel to a Redis Streams consumer group.
type WorkerPool struct {
	queue       *Queue
	handler     Handler
	workers     int
	batchSize   int
	perRequest  time.Duration // default 10min pipeline deadline, spec §4.9
	logger      *slog.Logger
	wg          sync.WaitGroup
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewWorkerPool constructs a pool of workers consumers reading from q.
func NewWorkerPool(q *Queue, workers, batchSize int, handler Handler, logger *slog.Logger) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	return &WorkerPool{
		queue:      q,
		handler:    handler,
		workers:    workers,
		batchSize:  batchSize,
		perRequest: 10 * time.Minute,
		logger:     logger,
		stop:       make(chan struct{}),
	}
}

// Start launches the worker goroutines; it returns immediately.
func (p *WorkerPool) Start(ctx context.Context) {
	p.logger.Info("starting queue worker pool", "workers", p.workers)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		name := consumerName(i)
		go p.loop(ctx, name)
	}
}

// Stop signals all workers to finish their current batch and exit, then
// waits for them to drain.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
	p.logger.Info("queue worker pool stopped")
}

func consumerName(i int) string {
	return "worker-" + strconv.Itoa(i)
}

func (p *WorkerPool) loop(ctx context.Context, consumer string) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		records, err := p.queue.ReadBatch(ctx, consumer, int64(p.batchSize))
		if err != nil {
			p.logger.Error("queue read failed", "consumer", consumer, "error", err)
			time.Sleep(time.Second)
			continue
		}
		for _, rec := range records {
			p.process(ctx, consumer, rec)
		}
	}
}

// process implements the per-record worker loop from spec §4.9: claim is
// implicit in ReadBatch; here we check the idempotency record, mark
// PROCESSING, run the handler under a per-request deadline, record the
// outcome, and ack.
func (p *WorkerPool) process(ctx context.Context, consumer string, rec Record) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic in queue worker", "consumer", consumer, "panic", r)
		}
	}()

	existing, ok, err := p.queue.GetIdempotency(ctx, rec.Request.RequestID)
	if err == nil && ok && (existing.Status == domain.IdemCompleted || existing.Status == domain.IdemFailed) {
		_ = p.queue.Ack(ctx, rec.MessageID)
		return
	}

	if err := p.queue.MarkProcessing(ctx, rec.Request.RequestID); err != nil {
		p.logger.Error("failed to mark processing", "requestId", rec.Request.RequestID, "error", err)
	}

	start := time.Now()
	pctx, cancel := context.WithTimeout(ctx, p.perRequest)
	resultJSON, handlerErr := p.handler(pctx, rec)
	cancel()
	elapsed := time.Since(start).Milliseconds()

	if handlerErr != nil {
		if err := p.queue.MarkFailed(ctx, rec.Request.RequestID, handlerErr.Error(), elapsed); err != nil {
			p.logger.Error("failed to mark failed", "requestId", rec.Request.RequestID, "error", err)
		}
	} else {
		if err := p.queue.MarkCompleted(ctx, rec.Request.RequestID, resultJSON, elapsed); err != nil {
			p.logger.Error("failed to mark completed", "requestId", rec.Request.RequestID, "error", err)
		}
	}

	if err := p.queue.Ack(ctx, rec.MessageID); err != nil {
		p.logger.Error("failed to ack", "requestId", rec.Request.RequestID, "error", err)
	}
}
