package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"clusterscan/internal/logger"
	"clusterscan/pkg/model"
)

type fakeSink struct {
	mu      sync.Mutex
	batches map[string][]model.Quote
	fail    bool
}

func (f *fakeSink) InsertTicks(_ context.Context, batchID string, quotes []model.Quote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("db down")
	}
	if f.batches == nil {
		f.batches = make(map[string][]model.Quote)
	}
	f.batches[batchID] = append([]model.Quote(nil), quotes...)
	return nil
}

func (f *fakeSink) count() (batches, ticks int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.batches {
		batches++
		ticks += len(b)
	}
	return
}

func quotes(n int) []model.Quote {
	out := make([]model.Quote, n)
	for i := range out {
		out[i] = model.Quote{Symbol: "TCS", Price: float64(4000 + i), Volume: 1, Time: time.Now()}
	}
	return out
}

func TestFlushWritesOneBatch(t *testing.T) {
	sink := &fakeSink{}
	b := NewBuffer(sink, 10, time.Hour, nil, logger.Nop())
	for _, q := range quotes(3) {
		b.Add(q)
	}

	if err := b.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if batches, ticks := sink.count(); batches != 1 || ticks != 3 {
		t.Errorf("got %d batches / %d ticks", batches, ticks)
	}
	for id := range sink.batches {
		if len(id) != 36 {
			t.Errorf("batch id %q is not a uuid", id)
		}
	}
	if b.Len() != 0 {
		t.Errorf("buffer not drained: %d", b.Len())
	}

	// Empty flush is a no-op.
	if err := b.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if batches, _ := sink.count(); batches != 1 {
		t.Errorf("empty flush wrote a batch")
	}
}

func TestFailedFlushRequeuesAndCaps(t *testing.T) {
	sink := &fakeSink{fail: true}
	b := NewBuffer(sink, 2, time.Hour, nil, logger.Nop())

	for _, q := range quotes(3) {
		b.Add(q)
	}
	if err := b.Flush(context.Background()); err == nil {
		t.Fatal("expected flush error")
	}
	if b.Len() != 3 {
		t.Errorf("failed batch should be requeued, len = %d", b.Len())
	}

	for _, q := range quotes(2 * maxPending) {
		b.Add(q)
	}
	b.Flush(context.Background())
	if b.Len() != 2*maxPending {
		t.Errorf("len = %d, want cap %d", b.Len(), 2*maxPending)
	}
	if b.Dropped() != 3 {
		t.Errorf("dropped = %d, want 3", b.Dropped())
	}

	sink.mu.Lock()
	sink.fail = false
	sink.mu.Unlock()
	if err := b.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, ticks := sink.count(); ticks != 2*maxPending {
		t.Errorf("ticks = %d", ticks)
	}
}

func TestRunFlushesWhenFullAndOnShutdown(t *testing.T) {
	sink := &fakeSink{}
	b := NewBuffer(sink, 2, time.Hour, nil, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	for _, q := range quotes(2) {
		b.Add(q)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if batches, _ := sink.count(); batches == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("full buffer was not flushed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	b.Add(quotes(1)[0])
	cancel()
	<-done

	if batches, ticks := sink.count(); batches != 2 || ticks != 3 {
		t.Errorf("after shutdown: %d batches / %d ticks", batches, ticks)
	}
}
