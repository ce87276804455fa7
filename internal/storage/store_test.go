package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"

	"clusterscan/internal/events"
	"clusterscan/internal/volume"
	"clusterscan/pkg/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenDialector(sqlite.Open(":memory:"), Config{MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func dailyBars(start time.Time, n int, volume int64) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		out[i] = model.Candle{
			Time:   start.AddDate(0, 0, i),
			Open:   100,
			High:   101,
			Low:    99,
			Close:  100 + float64(i),
			Volume: volume,
		}
	}
	return out
}

func TestUpsertAndReadBars(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := s.UpsertBars(ctx, "TCS", dailyBars(start, 10, 1000)); err != nil {
		t.Fatal(err)
	}
	// Re-ingesting overwrites the same dates.
	again := dailyBars(start, 10, 2000)
	if _, err := s.UpsertBars(ctx, "TCS", again); err != nil {
		t.Fatal(err)
	}

	bars, err := s.Bars(ctx, "TCS", start)
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 10 {
		t.Fatalf("expected 10 bars, got %d", len(bars))
	}
	if bars[0].Volume != 2000 {
		t.Errorf("expected upserted volume 2000, got %d", bars[0].Volume)
	}
	if !bars[0].Time.Equal(start) {
		t.Errorf("expected first bar on %s, got %s", start, bars[0].Time)
	}

	after, err := s.BarsAfter(ctx, "TCS", start.AddDate(0, 0, 5), 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 3 || !after[0].Time.Equal(start.AddDate(0, 0, 6)) {
		t.Errorf("unexpected bars after: %+v", after)
	}

	latest, err := s.LatestBarDate(ctx, "TCS")
	if err != nil || !latest.Equal(start.AddDate(0, 0, 9)) {
		t.Errorf("latest = %s, %v", latest, err)
	}
	if _, err := s.LatestBarDate(ctx, "NONE"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSymbolsAndTrailingVolume(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	s.UpsertBars(ctx, "INFY", dailyBars(start, 25, 300))
	s.UpsertBars(ctx, "ITC", dailyBars(start, 5, 100))

	syms, err := s.Symbols(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(syms) != 2 || syms[0] != "INFY" || syms[1] != "ITC" {
		t.Errorf("symbols = %v", syms)
	}

	avg, err := s.TrailingAvgVolume(ctx, "INFY", start.AddDate(0, 0, 25), 20)
	if err != nil {
		t.Fatal(err)
	}
	if avg != 300 {
		t.Errorf("avg = %v, want 300", avg)
	}
	if _, err := s.TrailingAvgVolume(ctx, "INFY", start, 20); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound before first bar, got %v", err)
	}
}

func sampleEvent(symbol string, date time.Time, q volume.Quintile) events.VolumeEvent {
	hi, lo := 120.0, 80.0
	return events.VolumeEvent{
		Symbol:         symbol,
		Date:           date,
		Volume:         450,
		AvgVolume:      100,
		RelativeVolume: 4.5,
		Quintile:       q,
		Close:          103.5,
		PrevClose:      100,
		DayReturnPct:   3.5,
		High52w:        &hi,
		Low52w:         &lo,
	}
}

func TestSaveEventsIsInsertOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	date := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	n, err := s.SaveEvents(ctx, []events.VolumeEvent{sampleEvent("SBIN", date, volume.UltraHigh)})
	if err != nil || n != 1 {
		t.Fatalf("first save = %d, %v", n, err)
	}

	changed := sampleEvent("SBIN", date, volume.High)
	changed.Volume = 1
	n, err = s.SaveEvents(ctx, []events.VolumeEvent{changed})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("duplicate insert affected %d rows", n)
	}

	ev, err := s.Event(ctx, "SBIN", date)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Quintile != volume.UltraHigh || ev.Volume != 450 {
		t.Errorf("stored event was modified: %+v", ev)
	}
	if ev.High52w == nil || *ev.High52w != 120 {
		t.Errorf("52w high not round-tripped: %v", ev.High52w)
	}
}

func TestForwardReturnsFillOnlyNulls(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	date := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	if _, err := s.SaveEvents(ctx, []events.VolumeEvent{sampleEvent("LT", date, volume.VeryHigh)}); err != nil {
		t.Fatal(err)
	}

	pending, err := s.PendingEvents(ctx, 0)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %d, %v", len(pending), err)
	}

	ev := pending[0]
	ev.Forward[events.Horizon1D] = &events.ForwardReturn{Horizon: events.Horizon1D, PriceAtHorizon: 105, ReturnPct: 1.45}
	n, err := s.UpdateForwardReturns(ctx, ev)
	if err != nil || n != 1 {
		t.Fatalf("update = %d, %v", n, err)
	}

	// A second write of 1d must not overwrite.
	ev.Forward[events.Horizon1D] = &events.ForwardReturn{Horizon: events.Horizon1D, PriceAtHorizon: 1, ReturnPct: -99}
	ev.Forward[events.Horizon1W] = &events.ForwardReturn{Horizon: events.Horizon1W, PriceAtHorizon: 110, ReturnPct: 6.28}
	n, err = s.UpdateForwardReturns(ctx, ev)
	if err != nil || n != 1 {
		t.Fatalf("second update = %d, %v", n, err)
	}

	got, err := s.Event(ctx, "LT", date)
	if err != nil {
		t.Fatal(err)
	}
	if fr, ok := got.ForwardAt(events.Horizon1D); !ok || fr.ReturnPct != 1.45 {
		t.Errorf("1d = %+v, want 1.45", fr)
	}
	if fr, ok := got.ForwardAt(events.Horizon1W); !ok || fr.ReturnPct != 6.28 {
		t.Errorf("1w = %+v, want 6.28", fr)
	}
	if _, ok := got.ForwardAt(events.Horizon1M); ok {
		t.Error("1m should still be pending")
	}

	resolved, err := s.ResolvedEvents(ctx, events.Horizon1W)
	if err != nil || len(resolved) != 1 {
		t.Errorf("resolved 1w = %d, %v", len(resolved), err)
	}
	resolved, err = s.ResolvedEvents(ctx, events.Horizon1M)
	if err != nil || len(resolved) != 0 {
		t.Errorf("resolved 1m = %d, %v", len(resolved), err)
	}
}

func TestRecentEventsByQuintile(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	s.SaveEvents(ctx, []events.VolumeEvent{
		sampleEvent("A", base, volume.High),
		sampleEvent("B", base.AddDate(0, 0, 1), volume.UltraHigh),
		sampleEvent("C", base.AddDate(0, 0, 2), volume.VeryHigh),
		sampleEvent("D", base.AddDate(0, 0, -30), volume.UltraHigh),
	})

	evs, err := s.RecentEvents(ctx, base, volume.VeryHigh)
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if evs[0].Symbol != "C" || evs[1].Symbol != "B" {
		t.Errorf("expected newest first, got %s, %s", evs[0].Symbol, evs[1].Symbol)
	}

	all, _ := s.RecentEvents(ctx, base, volume.High)
	if len(all) != 3 {
		t.Errorf("expected 3 events from High, got %d", len(all))
	}

	if _, err := s.SymbolEvents(ctx, "ZZZ", 10); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestInsertTicks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now()

	quotes := []model.Quote{
		{Symbol: "RELIANCE", Price: 2900, Volume: 10, CumVolume: 10, Time: now},
		{Symbol: "RELIANCE", Price: 2901, Volume: 5, CumVolume: 15, Time: now.Add(time.Second)},
		{Symbol: "TCS", Price: 4000, Volume: 1, CumVolume: 1, Time: now},
	}
	if err := s.InsertTicks(ctx, "batch-1", quotes); err != nil {
		t.Fatal(err)
	}
	n, err := s.CountTicks(ctx, "RELIANCE")
	if err != nil || n != 2 {
		t.Errorf("count = %d, %v", n, err)
	}
}

func TestWrapDBError(t *testing.T) {
	if WrapDBError("x", nil) != nil {
		t.Error("nil should stay nil")
	}
	base := errors.New("locked")
	err := WrapDBError("save events", base)
	var dbErr *DBError
	if !errors.As(err, &dbErr) || dbErr.Operation != "save events" || !errors.Is(err, base) {
		t.Errorf("unexpected wrap: %v", err)
	}
}
