package events

import (
	"fmt"
	"sort"
	"time"

	"clusterscan/internal/volume"
	"clusterscan/pkg/model"
)

const (
	// ContextWindow is one year of trading days
	ContextWindow = 252
	// MinContextBars is the shortest history that still yields a usable 52-week range
	MinContextBars = 200
)

// DayError records a bar that could not be classified
type DayError struct {
	Symbol string
	Date   time.Time
	Err    error
}

func (e *DayError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Symbol, e.Date.Format("2006-01-02"), e.Err)
}

func (e *DayError) Unwrap() error { return e.Err }

// Detector turns daily bars into volume events
type Detector struct {
	thresholds     volume.Thresholds
	contextWindow  int
	minContextBars int
}

// NewDetector creates a detector using the shared thresholds
func NewDetector(th volume.Thresholds) *Detector {
	return &Detector{
		thresholds:     th,
		contextWindow:  ContextWindow,
		minContextBars: MinContextBars,
	}
}

// Detect scans bars for days whose volume reached the High band. Days that
// cannot be classified are reported in the error slice and skipped; the rest
// of the series is still processed.
func (d *Detector) Detect(symbol string, bars []model.Candle) ([]VolumeEvent, []error) {
	sorted := sortedCopy(bars)
	window := d.thresholds.AvgWindow

	var out []VolumeEvent
	var errs []error

	for i := window; i < len(sorted); i++ {
		bar := sorted[i]

		avg := TrailingAvgVolume(sorted[i-window : i])
		c, err := d.thresholds.Classify(bar.Volume, avg)
		if err != nil {
			errs = append(errs, &DayError{Symbol: symbol, Date: bar.Time, Err: err})
			continue
		}
		if !d.thresholds.IsEvent(c.Quintile) {
			continue
		}

		prev := sorted[i-1].Close
		if prev <= 0 {
			errs = append(errs, &DayError{Symbol: symbol, Date: bar.Time,
				Err: &volume.InvalidInputError{Field: "prev_close", Value: prev, Reason: "must be positive"}})
			continue
		}

		ev := VolumeEvent{
			Symbol:         symbol,
			Date:           bar.Time,
			Volume:         bar.Volume,
			AvgVolume:      Round2(avg),
			// Kept at full precision so it always agrees with Quintile.
			RelativeVolume: c.RelativeVolume,
			Quintile:       c.Quintile,
			Close:          bar.Close,
			PrevClose:      prev,
			DayReturnPct:   Round2((bar.Close - prev) / prev * 100),
		}

		if i+1 >= d.minContextBars {
			start := i + 1 - d.contextWindow
			if start < 0 {
				start = 0
			}
			hi, lo := highLow(sorted[start : i+1])
			ev.High52w = &hi
			ev.Low52w = &lo
		}

		out = append(out, ev)
	}

	return out, errs
}

// Annotate fills the pending forward returns of ev from bars that follow it.
// Horizons already resolved are left untouched; horizons without enough
// future bars stay pending. It returns the horizons resolved by this call.
func Annotate(ev *VolumeEvent, future []model.Candle) ([]Horizon, error) {
	if ev.Close <= 0 {
		return nil, &volume.InvalidInputError{Field: "event_close", Value: ev.Close, Reason: "must be positive"}
	}

	after := make([]model.Candle, 0, len(future))
	for _, c := range sortedCopy(future) {
		if c.Time.After(ev.Date) {
			after = append(after, c)
		}
	}

	var resolved []Horizon
	for _, h := range Horizons() {
		if ev.Forward[h] != nil {
			continue
		}
		n := h.TradingDays()
		if len(after) < n {
			continue
		}
		price := after[n-1].Close
		ev.Forward[h] = &ForwardReturn{
			Horizon:        h,
			PriceAtHorizon: price,
			ReturnPct:      Round2((price - ev.Close) / ev.Close * 100),
		}
		resolved = append(resolved, h)
	}
	return resolved, nil
}

func sortedCopy(bars []model.Candle) []model.Candle {
	out := make([]model.Candle, len(bars))
	copy(out, bars)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.Before(out[j].Time)
	})
	return out
}

// TrailingAvgVolume averages the window, which must not include the current day
func TrailingAvgVolume(window []model.Candle) float64 {
	if len(window) == 0 {
		return 0
	}
	var sum int64
	for _, c := range window {
		sum += c.Volume
	}
	return float64(sum) / float64(len(window))
}

func highLow(bars []model.Candle) (float64, float64) {
	hi, lo := bars[0].High, bars[0].Low
	for _, c := range bars[1:] {
		if c.High > hi {
			hi = c.High
		}
		if c.Low < lo {
			lo = c.Low
		}
	}
	return hi, lo
}
