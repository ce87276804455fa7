package feed

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"clusterscan/internal/logger"
	"clusterscan/internal/metrics"
	"clusterscan/pkg/model"
)

// TickSink persists flushed batches
type TickSink interface {
	InsertTicks(ctx context.Context, batchID string, quotes []model.Quote) error
}

// maxPending caps how many batches' worth of ticks are kept while the sink
// is failing
const maxPending = 20

// Buffer accumulates quotes and writes them to a TickSink every interval or
// once batchSize quotes are waiting
type Buffer struct {
	sink      TickSink
	batchSize int
	interval  time.Duration
	metrics   *metrics.Recorder
	log       *logger.Logger

	mu      sync.Mutex
	pending []model.Quote
	full    chan struct{}
	dropped int64
}

// NewBuffer creates a tick buffer
func NewBuffer(sink TickSink, batchSize int, interval time.Duration, m *metrics.Recorder, log *logger.Logger) *Buffer {
	if batchSize <= 0 {
		batchSize = 500
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Buffer{
		sink:      sink,
		batchSize: batchSize,
		interval:  interval,
		metrics:   m,
		log:       log,
		full:      make(chan struct{}, 1),
	}
}

// Add queues a quote
func (b *Buffer) Add(q model.Quote) {
	b.mu.Lock()
	b.pending = append(b.pending, q)
	n := len(b.pending)
	b.mu.Unlock()

	b.metrics.SetBuffered(n)
	if n >= b.batchSize {
		select {
		case b.full <- struct{}{}:
		default:
		}
	}
}

// Len returns the number of queued quotes
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Dropped returns how many quotes were discarded after repeated flush failures
func (b *Buffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Flush writes everything queued as one batch. On failure the quotes are put
// back, oldest dropped beyond the cap.
func (b *Buffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	id := uuid.NewString()
	if err := b.sink.InsertTicks(ctx, id, batch); err != nil {
		b.metrics.RecordError("flush")
		b.requeue(batch)
		b.log.Error("tick flush failed", logger.String("batch", id), logger.Int("ticks", len(batch)), logger.Error(err))
		return err
	}

	b.metrics.RecordFlush(len(batch), time.Since(start))
	b.metrics.SetBuffered(b.Len())
	b.log.Debug("ticks flushed", logger.String("batch", id), logger.Int("ticks", len(batch)))
	return nil
}

func (b *Buffer) requeue(batch []model.Quote) {
	b.mu.Lock()
	defer b.mu.Unlock()

	merged := append(batch, b.pending...)
	if limit := b.batchSize * maxPending; len(merged) > limit {
		drop := len(merged) - limit
		b.dropped += int64(drop)
		merged = merged[drop:]
	}
	b.pending = merged
}

// Run flushes on the interval or when the buffer fills, and once more when
// ctx ends
func (b *Buffer) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			b.Flush(final)
			cancel()
			return
		case <-ticker.C:
			b.Flush(ctx)
		case <-b.full:
			b.Flush(ctx)
		}
	}
}
