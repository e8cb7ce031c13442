package core

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MetricsStore applies aggregate counter increments. Increments must be
// safe to replay: a failed flush is retried whole, so a partially
// applied batch can be applied again.
type MetricsStore interface {
	IncrementMetric(ctx context.Context, metricType string, delta int) error
}

// Recorder accepts usage events for batched delivery.
type Recorder interface {
	Record(event MetricEvent)
}

const (
	defaultFlushSize  = 10
	defaultFlushAfter = 60 * time.Second
)

// Batcher accumulates usage events in memory and flushes them to the
// store in batches, when the queue reaches flushSize or flushAfter has
// elapsed since the first unflushed event, whichever comes first.
// Delivery is at-least-once: a failed flush puts the batch back at the
// head of the queue for the next attempt.
type Batcher struct {
	store      MetricsStore
	logger     *slog.Logger
	flushSize  int
	flushAfter time.Duration

	mu    sync.Mutex
	queue []MetricEvent
	timer *time.Timer
}

// NewBatcher constructs a batcher. Non-positive thresholds fall back to
// the defaults (10 events, 60 seconds).
func NewBatcher(store MetricsStore, logger *slog.Logger, flushSize int, flushAfter time.Duration) *Batcher {
	if flushSize <= 0 {
		flushSize = defaultFlushSize
	}
	if flushAfter <= 0 {
		flushAfter = defaultFlushAfter
	}
	return &Batcher{
		store:      store,
		logger:     logger,
		flushSize:  flushSize,
		flushAfter: flushAfter,
	}
}

// Record queues an event. Reaching the count threshold flushes
// synchronously and clears the pending timer so a late flush does not
// fire on an already-empty queue.
func (b *Batcher) Record(event MetricEvent) {
	b.mu.Lock()
	b.queue = append(b.queue, event)
	if len(b.queue) >= b.flushSize {
		if b.timer != nil {
			b.timer.Stop()
			b.timer = nil
		}
		batch := b.queue
		b.queue = nil
		b.mu.Unlock()
		b.flush(context.Background(), batch)
		return
	}
	if b.timer == nil {
		b.timer = time.AfterFunc(b.flushAfter, b.timerFlush)
	}
	b.mu.Unlock()
}

// Close performs a final best-effort flush. Intended for shutdown; the
// caller bounds it with ctx.
func (b *Batcher) Close(ctx context.Context) {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	batch := b.queue
	b.queue = nil
	b.mu.Unlock()
	b.flush(ctx, batch)
}

func (b *Batcher) timerFlush() {
	b.mu.Lock()
	b.timer = nil
	batch := b.queue
	b.queue = nil
	b.mu.Unlock()
	b.flush(context.Background(), batch)
}

// flush partitions the batch by event type and issues one increment per
// non-empty type. On any failure the whole batch is requeued at the
// head and the timer rearmed, never silently dropped.
func (b *Batcher) flush(ctx context.Context, batch []MetricEvent) {
	if len(batch) == 0 {
		return
	}
	counts := make(map[string]int)
	for _, event := range batch {
		counts[event.Type]++
	}
	for metricType, count := range counts {
		if err := b.store.IncrementMetric(ctx, metricType, count); err != nil {
			b.logger.Warn("metrics flush failed, requeueing batch", "type", metricType, "err", err)
			b.requeue(batch)
			return
		}
	}
}

func (b *Batcher) requeue(batch []MetricEvent) {
	b.mu.Lock()
	b.queue = append(batch, b.queue...)
	if b.timer == nil {
		b.timer = time.AfterFunc(b.flushAfter, b.timerFlush)
	}
	b.mu.Unlock()
}
