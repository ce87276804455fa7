package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"

	"clusterscan/internal/events"
	"clusterscan/internal/logger"
	"clusterscan/internal/rules"
	"clusterscan/internal/storage"
	"clusterscan/internal/volume"
	"clusterscan/pkg/model"
)

var seriesStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

const spikeIndex = 40

// series has flat volume of 100 with one 4.5x up day at spikeIndex
func series() []model.Candle {
	out := make([]model.Candle, 60)
	for i := range out {
		c := model.Candle{Time: seriesStart.AddDate(0, 0, i), Open: 100, High: 101, Low: 99, Close: 100, Volume: 100}
		switch {
		case i == spikeIndex:
			c.Close, c.High, c.Volume = 103.5, 104, 450
		case i > spikeIndex:
			c.Close, c.High = 105, 106
		}
		out[i] = c
	}
	return out
}

type fakeProvider struct{}

func (fakeProvider) Name() string { return "fake" }

func (fakeProvider) GetDailyCandles(_ context.Context, symbol string, _ int) ([]model.Candle, error) {
	if symbol == "BAD" {
		return nil, errors.New("upstream down")
	}
	return series(), nil
}

func newTestEngine(t *testing.T) (*Engine, *storage.Store) {
	t.Helper()
	st, err := storage.OpenDialector(sqlite.Open(":memory:"), storage.Config{MaxOpenConns: 1})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}

	e := New(st, fakeProvider{}, volume.DefaultThresholds(), Options{Workers: 2, Timeout: 10 * time.Second}, nil, logger.Nop())
	e.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return e, st
}

func TestIngestAnnotateSignalsPerformance(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(t)

	tally, stats := e.Ingest(ctx, []string{"AAA", "BAD"}, 60)
	if tally.Succeeded != 1 || tally.Failed != 1 {
		t.Fatalf("tally = %s", tally)
	}
	if _, ok := tally.Failures["BAD"]; !ok {
		t.Errorf("BAD should be reported, got %v", tally.Failures)
	}
	if stats.Events != 1 {
		t.Fatalf("expected 1 new event, got %d", stats.Events)
	}

	// Re-ingesting the same days creates nothing new.
	if _, again := e.Ingest(ctx, []string{"AAA"}, 60); again.Events != 0 {
		t.Errorf("re-ingest created %d events", again.Events)
	}

	tally, written, err := e.Annotate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// 19 later bars resolve 1d, 1w, 2w and 3w.
	if tally.Succeeded != 1 || written != 4 {
		t.Errorf("annotate tally %s, written %d", tally, written)
	}

	ev, err := st.Event(ctx, "AAA", seriesStart.AddDate(0, 0, spikeIndex))
	if err != nil {
		t.Fatal(err)
	}
	if fr, ok := ev.ForwardAt(events.Horizon1W); !ok || fr.ReturnPct != 1.45 {
		t.Errorf("1w = %+v, %v", fr, ok)
	}
	if _, ok := ev.ForwardAt(events.Horizon1M); ok {
		t.Error("1m should be pending")
	}

	res, err := e.Signals(ctx, SignalQuery{Days: 30})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Signals) != 1 || res.Signals[0].Rule != "Ultra Volume Breakout" {
		t.Fatalf("signals = %+v", res.Signals)
	}
	if res.Skipped != 1 {
		t.Errorf("expected the 52-week rule to be skipped once, got %d", res.Skipped)
	}

	res, _ = e.Signals(ctx, SignalQuery{Days: 5})
	if len(res.Signals) != 0 {
		t.Errorf("event is older than 5 days, got %d signals", len(res.Signals))
	}

	perf, err := e.Performance(ctx, events.Horizon1W)
	if err != nil {
		t.Fatal(err)
	}
	if len(perf) != len(rules.Catalog()) {
		t.Fatalf("expected a row per rule, got %d", len(perf))
	}
	ultra := perf[0]
	if ultra.Rule != "Ultra Volume Breakout" || ultra.Samples != 1 || ultra.Wins != 1 || ultra.ProfitFactor != nil {
		t.Errorf("ultra stats = %+v", ultra)
	}

	perf, _ = e.Performance(ctx, events.Horizon1M)
	if perf[0].Samples != 0 || perf[0].Pending != 1 {
		t.Errorf("1m stats = %+v", perf[0])
	}
}

func TestIngestWithoutProvider(t *testing.T) {
	e, _ := newTestEngine(t)
	e.provider = nil
	tally, _ := e.Ingest(context.Background(), []string{"A", "B"}, 30)
	if tally.Failed != 2 {
		t.Errorf("tally = %s", tally)
	}
}

func TestSignalsSymbolFilter(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	e.Ingest(ctx, []string{"AAA", "BBB"}, 60)

	all, _ := e.Signals(ctx, SignalQuery{Days: 30})
	if len(all.Signals) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(all.Signals))
	}
	one, _ := e.Signals(ctx, SignalQuery{Days: 30, Symbols: []string{"BBB"}})
	if len(one.Signals) != 1 || one.Signals[0].Symbol != "BBB" {
		t.Errorf("filtered signals = %+v", one.Signals)
	}
}
