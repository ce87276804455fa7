package scanner

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunTalliesFailuresWithoutAborting(t *testing.T) {
	symbols := []string{"RELIANCE", "TCS", "BAD1", "INFY", "BAD2", "ITC"}

	var calls int32
	r := NewRunner(3, time.Second)
	tally := r.Run(context.Background(), symbols, func(ctx context.Context, sym string) error {
		atomic.AddInt32(&calls, 1)
		if strings.HasPrefix(sym, "BAD") {
			return errors.New("no data")
		}
		return nil
	})

	if calls != int32(len(symbols)) {
		t.Errorf("job ran %d times, want %d", calls, len(symbols))
	}
	if tally.Total != 6 || tally.Succeeded != 4 || tally.Failed != 2 {
		t.Errorf("tally = %s", tally)
	}
	failed := tally.FailedSymbols()
	if len(failed) != 2 || failed[0] != "BAD1" || failed[1] != "BAD2" {
		t.Errorf("failed symbols = %v", failed)
	}
}

func TestRunProgress(t *testing.T) {
	var last, count int32
	r := NewRunner(2, 0)
	r.SetProgressCallback(func(done, total int) {
		atomic.AddInt32(&count, 1)
		if total != 5 {
			t.Errorf("total = %d, want 5", total)
		}
		if int32(done) > atomic.LoadInt32(&last) {
			atomic.StoreInt32(&last, int32(done))
		}
	})

	r.Run(context.Background(), []string{"A", "B", "C", "D", "E"}, func(context.Context, string) error { return nil })

	if count != 5 || last != 5 {
		t.Errorf("progress calls = %d, last = %d", count, last)
	}
}

func TestRunPerSymbolTimeout(t *testing.T) {
	r := NewRunner(1, 20*time.Millisecond)
	tally := r.Run(context.Background(), []string{"SLOW", "FAST"}, func(ctx context.Context, sym string) error {
		if sym == "SLOW" {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})

	if tally.Succeeded != 1 || !errors.Is(tally.Failures["SLOW"], context.DeadlineExceeded) {
		t.Errorf("tally = %s, failures = %v", tally, tally.Failures)
	}
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tally := NewRunner(2, 0).Run(ctx, []string{"A", "B", "C"}, func(context.Context, string) error {
		t.Error("job should not run after cancellation")
		return nil
	})
	if tally.Failed != 3 {
		t.Errorf("expected all 3 failed, got %s", tally)
	}
}

func TestRunRecoversPanics(t *testing.T) {
	tally := NewRunner(1, 0).Run(context.Background(), []string{"BOOM", "OK"}, func(_ context.Context, sym string) error {
		if sym == "BOOM" {
			panic("nil bars")
		}
		return nil
	})
	if tally.Failed != 1 || tally.Succeeded != 1 {
		t.Errorf("tally = %s", tally)
	}
}

func TestRunEmpty(t *testing.T) {
	tally := NewRunner(4, 0).Run(context.Background(), nil, nil)
	if tally.Total != 0 || tally.Failed != 0 {
		t.Errorf("tally = %s", tally)
	}
}
