package events

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"clusterscan/internal/volume"
	"clusterscan/pkg/model"
)

// flatBars returns n daily bars at close=100, volume=100 starting on start
func flatBars(start time.Time, n int) []model.Candle {
	bars := make([]model.Candle, n)
	for i := range bars {
		bars[i] = model.Candle{
			Time:   start.AddDate(0, 0, i),
			Open:   100,
			High:   101,
			Low:    99,
			Close:  100,
			Volume: 100,
		}
	}
	return bars
}

func TestDetectUltraHighEvent(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := flatBars(start, 25)
	bars[22].Volume = 450
	bars[22].Close = 103.5

	d := NewDetector(volume.DefaultThresholds())
	evs, errs := d.Detect("RELIANCE", bars)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}

	ev := evs[0]
	if ev.Quintile != volume.UltraHigh {
		t.Errorf("expected UltraHigh, got %s", ev.Quintile)
	}
	if ev.RelativeVolume != 4.5 {
		t.Errorf("expected relative volume 4.5, got %.2f", ev.RelativeVolume)
	}
	if ev.DayReturnPct != 3.5 {
		t.Errorf("expected day return 3.5, got %.2f", ev.DayReturnPct)
	}
	if !ev.IsUpDay() {
		t.Error("expected up day")
	}
	if ev.High52w != nil || ev.Low52w != nil {
		t.Error("52-week range should be absent with only 25 bars")
	}
}

func TestDetectAverageExcludesCurrentDay(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := flatBars(start, 21)
	// Exactly 2x the trailing 20-day average. Including the current day in
	// the average would drop the ratio below 2.0.
	bars[20].Volume = 200

	evs, _ := NewDetector(volume.DefaultThresholds()).Detect("TCS", bars)
	if len(evs) != 1 || evs[0].Quintile != volume.High {
		t.Fatalf("expected one High event, got %+v", evs)
	}
}

func TestDetectRelativeVolumeAgreesWithQuintile(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	th := volume.DefaultThresholds()

	tests := []struct {
		name     string
		vol      int64
		wantRel  float64
		wantBand volume.Quintile
	}{
		{"just under ultra", 3996, 3.996, volume.VeryHigh},
		{"at ultra", 4000, 4.0, volume.UltraHigh},
		{"just under high", 1999, 1.999, volume.Normal},
		{"at high", 2000, 2.0, volume.High},
	}

	var stored []VolumeEvent
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bars := flatBars(start, 21)
			for i := range bars {
				bars[i].Volume = 1000
			}
			bars[20].Volume = tt.vol

			evs, errs := NewDetector(th).Detect("HDFCBANK", bars)
			if len(errs) != 0 {
				t.Fatalf("unexpected errors: %v", errs)
			}
			if tt.wantBand == volume.Normal {
				if len(evs) != 0 {
					t.Fatalf("expected no event, got %+v", evs)
				}
				return
			}
			if len(evs) != 1 {
				t.Fatalf("expected 1 event, got %d", len(evs))
			}
			ev := evs[0]
			if ev.Quintile != tt.wantBand {
				t.Errorf("quintile = %s, want %s", ev.Quintile, tt.wantBand)
			}
			if ev.RelativeVolume != tt.wantRel {
				t.Errorf("relative volume = %v, want %v", ev.RelativeVolume, tt.wantRel)
			}
			if got := th.QuintileFor(ev.RelativeVolume); got != ev.Quintile {
				t.Errorf("stored ratio %v classifies as %s, event says %s", ev.RelativeVolume, got, ev.Quintile)
			}
			stored = append(stored, ev)
		})
	}

	// Distinct quintiles never share a stored ratio.
	for i := range stored {
		for j := range stored {
			if stored[i].Quintile < stored[j].Quintile && stored[i].RelativeVolume >= stored[j].RelativeVolume {
				t.Errorf("%s at %v not below %s at %v", stored[i].Quintile, stored[i].RelativeVolume,
					stored[j].Quintile, stored[j].RelativeVolume)
			}
		}
	}
}

func TestDetectSkipsZeroAverage(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := flatBars(start, 45)
	for i := 0; i < 20; i++ {
		bars[i].Volume = 0
	}
	bars[40].Volume = 500

	evs, errs := NewDetector(volume.DefaultThresholds()).Detect("INFY", bars)
	if len(errs) != 1 {
		t.Fatalf("expected 1 day error, got %d", len(errs))
	}
	if !volume.IsInvalidInput(errs[0]) {
		t.Errorf("expected InvalidInputError, got %v", errs[0])
	}
	var de *DayError
	if !errors.As(errs[0], &de) || !de.Date.Equal(bars[20].Time) {
		t.Errorf("expected error for %s, got %v", bars[20].Time, errs[0])
	}
	// Later days still produce events.
	if len(evs) == 0 {
		t.Fatal("expected events after the invalid day")
	}
}

func TestDetect52WeekContext(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := flatBars(start, 260)
	bars[5].High = 150 // outside the 252-bar window of the last bar
	bars[100].High = 120
	bars[150].Low = 80
	bars[259].Volume = 300
	bars[259].Close = 110

	evs, _ := NewDetector(volume.DefaultThresholds()).Detect("HDFCBANK", bars)
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	ev := evs[0]
	if ev.High52w == nil || *ev.High52w != 120 {
		t.Fatalf("expected 52w high 120, got %v", ev.High52w)
	}
	if ev.Low52w == nil || *ev.Low52w != 80 {
		t.Fatalf("expected 52w low 80, got %v", ev.Low52w)
	}

	ctx := ev.Context()
	if ctx.PctBelow52wHigh == nil || *ctx.PctBelow52wHigh != 8.33 {
		t.Errorf("expected 8.33%% below high, got %v", ctx.PctBelow52wHigh)
	}
	if ctx.PctAbove52wLow == nil || *ctx.PctAbove52wLow != 37.5 {
		t.Errorf("expected 37.5%% above low, got %v", ctx.PctAbove52wLow)
	}
}

func TestAnnotateForwardReturn(t *testing.T) {
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	ev := &VolumeEvent{Symbol: "SBIN", Date: date, Close: 100}

	future := flatBars(date.AddDate(0, 0, 1), 25)
	future[4].Close = 103 // 5th trading day after the event

	resolved, err := Annotate(ev, future)
	if err != nil {
		t.Fatal(err)
	}
	if len(resolved) != 5 {
		t.Fatalf("expected all 5 horizons resolved, got %v", resolved)
	}

	fr, ok := ev.ForwardAt(Horizon1W)
	if !ok {
		t.Fatal("1w should be resolved")
	}
	if fr.ReturnPct != 3.00 {
		t.Errorf("expected return_1w 3.00, got %.4f", fr.ReturnPct)
	}
	if fr.PriceAtHorizon != 103 {
		t.Errorf("expected price 103, got %.2f", fr.PriceAtHorizon)
	}
}

func TestAnnotateLeavesShortHorizonsPending(t *testing.T) {
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	ev := &VolumeEvent{Symbol: "ITC", Date: date, Close: 200}

	// The event bar itself and earlier bars must be ignored.
	history := flatBars(date.AddDate(0, 0, -5), 9)

	resolved, err := Annotate(ev, history)
	if err != nil {
		t.Fatal(err)
	}
	if len(resolved) != 1 || resolved[0] != Horizon1D {
		t.Fatalf("expected only 1d resolved, got %v", resolved)
	}
	if _, ok := ev.ForwardAt(Horizon1D); !ok {
		t.Error("return_1d should be populated")
	}
	for _, h := range []Horizon{Horizon1W, Horizon2W, Horizon3W, Horizon1M} {
		if _, ok := ev.ForwardAt(h); ok {
			t.Errorf("return_%s should be pending", h)
		}
	}
	if got := len(ev.Pending()); got != 4 {
		t.Errorf("expected 4 pending horizons, got %d", got)
	}
}

func TestAnnotateDoesNotOverwrite(t *testing.T) {
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	ev := &VolumeEvent{Symbol: "LT", Date: date, Close: 100}
	ev.Forward[Horizon1D] = &ForwardReturn{Horizon: Horizon1D, PriceAtHorizon: 90, ReturnPct: -10}

	resolved, err := Annotate(ev, flatBars(date.AddDate(0, 0, 1), 3))
	if err != nil {
		t.Fatal(err)
	}
	if len(resolved) != 0 {
		t.Errorf("expected nothing newly resolved, got %v", resolved)
	}
	if fr, _ := ev.ForwardAt(Horizon1D); fr.ReturnPct != -10 {
		t.Errorf("resolved horizon was overwritten: %+v", fr)
	}
}

func TestAnnotateZeroClose(t *testing.T) {
	ev := &VolumeEvent{Symbol: "X", Date: time.Now(), Close: 0}
	if _, err := Annotate(ev, nil); !volume.IsInvalidInput(err) {
		t.Errorf("expected InvalidInputError, got %v", err)
	}
}

func TestForwardSetJSONRendersPendingAsNull(t *testing.T) {
	var fs ForwardSet
	fs[Horizon1D] = &ForwardReturn{PriceAtHorizon: 101, ReturnPct: 1}

	b, err := json.Marshal(fs)
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	if !strings.Contains(s, `"1w":null`) {
		t.Errorf("expected pending 1w as null, got %s", s)
	}
	if !strings.Contains(s, `"1d":{"price":101,"return_pct":1}`) {
		t.Errorf("expected resolved 1d, got %s", s)
	}
}

func TestParseHorizon(t *testing.T) {
	for _, h := range Horizons() {
		got, err := ParseHorizon(h.String())
		if err != nil || got != h {
			t.Errorf("ParseHorizon(%q) = %v, %v", h.String(), got, err)
		}
	}
	if _, err := ParseHorizon("6m"); err == nil {
		t.Error("expected error for unknown horizon")
	}
}

func TestRound2(t *testing.T) {
	tests := map[float64]float64{
		3.0000000000000004: 3.00,
		1.005:              1.01,
		-2.345:             -2.35,
		8.333333:           8.33,
	}
	for in, want := range tests {
		if got := Round2(in); got != want {
			t.Errorf("Round2(%v) = %v, want %v", in, got, want)
		}
	}
}
