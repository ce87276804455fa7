package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"clusterscan/internal/volume"
)

// Horizon is a forward-return lookahead measured in trading days
type Horizon int

const (
	Horizon1D Horizon = iota
	Horizon1W
	Horizon2W
	Horizon3W
	Horizon1M
	horizonCount
)

var horizonDays = [horizonCount]int{1, 5, 10, 15, 21}
var horizonNames = [horizonCount]string{"1d", "1w", "2w", "3w", "1m"}

// Horizons returns all horizons, shortest first
func Horizons() []Horizon {
	return []Horizon{Horizon1D, Horizon1W, Horizon2W, Horizon3W, Horizon1M}
}

// TradingDays returns the number of subsequent trading days the horizon spans
func (h Horizon) TradingDays() int { return horizonDays[h] }

func (h Horizon) String() string {
	if h < 0 || h >= horizonCount {
		return fmt.Sprintf("Horizon(%d)", int(h))
	}
	return horizonNames[h]
}

// ParseHorizon parses "1d", "1w", "2w", "3w" or "1m"
func ParseHorizon(s string) (Horizon, error) {
	for i, name := range horizonNames {
		if name == s {
			return Horizon(i), nil
		}
	}
	return 0, fmt.Errorf("unknown horizon %q (want one of %v)", s, horizonNames)
}

// ForwardReturn is the resolved outcome of an event at one horizon
type ForwardReturn struct {
	Horizon        Horizon `json:"-"`
	PriceAtHorizon float64 `json:"price"`
	ReturnPct      float64 `json:"return_pct"`
}

// ForwardSet holds one slot per horizon. A nil slot is pending: not enough
// future bars existed when the event was last annotated.
type ForwardSet [horizonCount]*ForwardReturn

// MarshalJSON renders pending horizons as null
func (fs ForwardSet) MarshalJSON() ([]byte, error) {
	out := make(map[string]*ForwardReturn, horizonCount)
	for i, fr := range fs {
		out[horizonNames[i]] = fr
	}
	return json.Marshal(out)
}

// VolumeEvent is a trading day whose volume reached at least the High band.
// Created once per (symbol, date); only the forward slots change afterwards.
type VolumeEvent struct {
	Symbol         string          `json:"symbol"`
	Date           time.Time       `json:"date"`
	Volume         int64           `json:"volume"`
	AvgVolume      float64         `json:"avg_volume"`
	RelativeVolume float64         `json:"relative_volume"`
	Quintile       volume.Quintile `json:"quintile"`
	Close          float64         `json:"close"`
	PrevClose      float64         `json:"prev_close"`
	DayReturnPct   float64         `json:"day_return_pct"`
	High52w        *float64        `json:"high_52w,omitempty"`
	Low52w         *float64        `json:"low_52w,omitempty"`
	Forward        ForwardSet      `json:"forward"`
}

// IsUpDay reports whether the event closed above the previous close
func (e *VolumeEvent) IsUpDay() bool { return e.Close > e.PrevClose }

// ForwardAt returns the resolved return at h; ok is false while pending
func (e *VolumeEvent) ForwardAt(h Horizon) (ForwardReturn, bool) {
	if h < 0 || h >= horizonCount || e.Forward[h] == nil {
		return ForwardReturn{}, false
	}
	return *e.Forward[h], true
}

// Pending lists the horizons that are not resolved yet
func (e *VolumeEvent) Pending() []Horizon {
	var out []Horizon
	for _, h := range Horizons() {
		if e.Forward[h] == nil {
			out = append(out, h)
		}
	}
	return out
}

// Context is the 52-week positioning of an event. Nil fields mean the bar
// history was too short to compute them.
type Context struct {
	PctBelow52wHigh *float64 `json:"pct_below_52w_high,omitempty"`
	PctAbove52wLow  *float64 `json:"pct_above_52w_low,omitempty"`
}

// Context derives the proximity figures from the stored 52-week range
func (e *VolumeEvent) Context() Context {
	var c Context
	if e.High52w != nil && *e.High52w > 0 {
		v := Round2((*e.High52w - e.Close) / *e.High52w * 100)
		c.PctBelow52wHigh = &v
	}
	if e.Low52w != nil && *e.Low52w > 0 {
		v := Round2((e.Close - *e.Low52w) / *e.Low52w * 100)
		c.PctAbove52wLow = &v
	}
	return c
}

// Round2 rounds to 2 decimal places, half away from zero
func Round2(x float64) float64 {
	return decimal.NewFromFloat(x).Round(2).InexactFloat64()
}
