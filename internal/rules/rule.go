package rules

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"clusterscan/internal/events"
	"clusterscan/internal/volume"
)

// ErrMissingInput means a rule needs context the event does not carry,
// typically the 52-week range on a symbol with short history.
var ErrMissingInput = errors.New("required input unavailable")

// Direction is the trade thesis a rule expresses
type Direction string

const (
	DirectionBuy   Direction = "buy"
	DirectionAvoid Direction = "avoid"
	DirectionWatch Direction = "watch"
)

// Category groups rules for display
type Category string

const (
	CategoryBreakout     Category = "breakout"
	CategoryContinuation Category = "continuation"
	CategoryDistribution Category = "distribution"
	CategoryBreakdown    Category = "breakdown"
	CategoryCapitulation Category = "capitulation"
)

// Condition is the declarative predicate of a rule. Nil bounds are not checked.
type Condition struct {
	// Quintiles the event must be in (exact membership)
	Quintiles []volume.Quintile `json:"quintiles"`

	MinReturnPct   *float64 `json:"min_return_pct,omitempty"`   // inclusive
	MaxReturnPct   *float64 `json:"max_return_pct,omitempty"`   // inclusive
	BelowReturnPct *float64 `json:"below_return_pct,omitempty"` // exclusive
	// MaxAbsReturnPct is exclusive: |return| must be strictly below it
	MaxAbsReturnPct *float64 `json:"max_abs_return_pct,omitempty"`
	UpDay           *bool    `json:"up_day,omitempty"`

	MaxPctBelow52wHigh *float64 `json:"max_pct_below_52w_high,omitempty"`
	MaxPctAbove52wLow  *float64 `json:"max_pct_above_52w_low,omitempty"`
}

// Needs52Week reports whether the condition reads the 52-week range
func (c Condition) Needs52Week() bool {
	return c.MaxPctBelow52wHigh != nil || c.MaxPctAbove52wLow != nil
}

// TradingRule is one entry of the fixed catalog. HistoricalWinRate and
// Expectancy come from past backtests and are only displayed.
type TradingRule struct {
	Name              string    `json:"name"`
	Category          Category  `json:"category"`
	Direction         Direction `json:"direction"`
	SignalLabel       string    `json:"signal"`
	Condition         Condition `json:"condition"`
	StopPct           float64   `json:"stop_pct"`
	Target1Pct        float64   `json:"target1_pct"`
	Target2Pct        float64   `json:"target2_pct"`
	HistoricalWinRate float64   `json:"historical_win_rate"`
	Expectancy        float64   `json:"expectancy"`
	Description       string    `json:"description"`
}

// Input is one event plus its derived 52-week context
type Input struct {
	Event   events.VolumeEvent
	Context events.Context
}

// NewInput derives the context from the event's stored range
func NewInput(ev events.VolumeEvent) Input {
	return Input{Event: ev, Context: ev.Context()}
}

// Match evaluates the rule against one event. Events outside the rule's
// quintiles never match. When the rule needs 52-week context that is absent
// Match returns false with ErrMissingInput.
func (r TradingRule) Match(in Input) (bool, error) {
	c := r.Condition
	ev := in.Event

	if !slices.Contains(c.Quintiles, ev.Quintile) {
		return false, nil
	}

	ret := ev.DayReturnPct
	if c.MinReturnPct != nil && ret < *c.MinReturnPct {
		return false, nil
	}
	if c.MaxReturnPct != nil && ret > *c.MaxReturnPct {
		return false, nil
	}
	if c.BelowReturnPct != nil && ret >= *c.BelowReturnPct {
		return false, nil
	}
	if c.MaxAbsReturnPct != nil && math.Abs(ret) >= *c.MaxAbsReturnPct {
		return false, nil
	}
	if c.UpDay != nil && ev.IsUpDay() != *c.UpDay {
		return false, nil
	}

	if c.MaxPctBelow52wHigh != nil {
		if in.Context.PctBelow52wHigh == nil {
			return false, ErrMissingInput
		}
		if *in.Context.PctBelow52wHigh > *c.MaxPctBelow52wHigh {
			return false, nil
		}
	}
	if c.MaxPctAbove52wLow != nil {
		if in.Context.PctAbove52wLow == nil {
			return false, ErrMissingInput
		}
		if *in.Context.PctAbove52wLow > *c.MaxPctAbove52wLow {
			return false, nil
		}
	}

	return true, nil
}

// Levels are the price points of a signal
type Levels struct {
	Entry           float64
	StopLoss        float64
	Target1         float64
	Target2         float64
	RiskRewardRatio float64
}

// Levels computes stop and targets as fixed offsets from entry. Buy and watch
// rules stop below and target above; avoid rules are the mirror image.
func (r TradingRule) Levels(entry float64) (Levels, error) {
	if math.IsNaN(entry) || entry <= 0 {
		return Levels{}, &volume.InvalidInputError{Field: "entry_price", Value: entry, Reason: "must be positive"}
	}

	sign := 1.0
	if r.Direction == DirectionAvoid {
		sign = -1.0
	}
	stop := entry * (1 - sign*r.StopPct/100)
	t1 := entry * (1 + sign*r.Target1Pct/100)
	t2 := entry * (1 + sign*r.Target2Pct/100)

	risk := entry - stop
	if risk == 0 {
		return Levels{}, &volume.InvalidInputError{Field: "stop_pct", Value: r.StopPct, Reason: "stop equals entry"}
	}

	return Levels{
		Entry:           entry,
		StopLoss:        events.Round2(stop),
		Target1:         events.Round2(t1),
		Target2:         events.Round2(t2),
		RiskRewardRatio: events.Round2((t1 - entry) / risk),
	}, nil
}

func (r TradingRule) String() string {
	return fmt.Sprintf("%s (%s)", r.Name, r.Direction)
}

func pct(v float64) *float64 { return &v }
func flag(v bool) *bool      { return &v }

var catalog = []TradingRule{
	{
		Name:        "Ultra Volume Breakout",
		Category:    CategoryBreakout,
		Direction:   DirectionBuy,
		SignalLabel: "STRONG BUY",
		Condition: Condition{
			Quintiles:    []volume.Quintile{volume.UltraHigh},
			MinReturnPct: pct(3),
		},
		StopPct: 3, Target1Pct: 6, Target2Pct: 10,
		HistoricalWinRate: 0.62, Expectancy: 2.8,
		Description: "Volume above 4x average with a 3%+ gain. Institutions are accumulating.",
	},
	{
		Name:        "Very High Volume Breakout",
		Category:    CategoryBreakout,
		Direction:   DirectionBuy,
		SignalLabel: "BUY",
		Condition: Condition{
			Quintiles:    []volume.Quintile{volume.VeryHigh},
			MinReturnPct: pct(3),
		},
		StopPct: 3, Target1Pct: 5, Target2Pct: 8,
		HistoricalWinRate: 0.58, Expectancy: 2.1,
		Description: "Volume 3-4x average with a 3%+ gain.",
	},
	{
		Name:        "52-Week High Breakout",
		Category:    CategoryBreakout,
		Direction:   DirectionBuy,
		SignalLabel: "BUY",
		Condition: Condition{
			Quintiles:          []volume.Quintile{volume.High, volume.VeryHigh, volume.UltraHigh},
			UpDay:              flag(true),
			MaxPctBelow52wHigh: pct(2),
		},
		StopPct: 4, Target1Pct: 8, Target2Pct: 12,
		HistoricalWinRate: 0.60, Expectancy: 2.5,
		Description: "Heavy volume up day within 2% of the 52-week high. No overhead supply.",
	},
	{
		Name:        "High Volume Continuation",
		Category:    CategoryContinuation,
		Direction:   DirectionBuy,
		SignalLabel: "ACCUMULATE",
		Condition: Condition{
			Quintiles:          []volume.Quintile{volume.High},
			MinReturnPct:       pct(1),
			BelowReturnPct:     pct(3),
			MaxPctBelow52wHigh: pct(5),
		},
		StopPct: 2.5, Target1Pct: 4, Target2Pct: 6,
		HistoricalWinRate: 0.55, Expectancy: 1.2,
		Description: "Moderate gain on 2-3x volume while holding near highs.",
	},
	{
		Name:        "Ultra Volume Distribution",
		Category:    CategoryDistribution,
		Direction:   DirectionAvoid,
		SignalLabel: "AVOID",
		Condition: Condition{
			Quintiles:    []volume.Quintile{volume.UltraHigh},
			MaxReturnPct: pct(-3),
		},
		StopPct: 3, Target1Pct: 6, Target2Pct: 10,
		HistoricalWinRate: 0.64, Expectancy: 2.6,
		Description: "Volume above 4x average with a 3%+ loss. Institutions are distributing.",
	},
	{
		Name:        "High Volume Breakdown",
		Category:    CategoryBreakdown,
		Direction:   DirectionAvoid,
		SignalLabel: "AVOID",
		Condition: Condition{
			Quintiles:    []volume.Quintile{volume.High, volume.VeryHigh},
			MaxReturnPct: pct(-3),
		},
		StopPct: 3, Target1Pct: 5, Target2Pct: 8,
		HistoricalWinRate: 0.57, Expectancy: 1.7,
		Description: "Elevated volume with a 3%+ loss. Support is failing.",
	},
	{
		Name:        "Churning Near Highs",
		Category:    CategoryDistribution,
		Direction:   DirectionAvoid,
		SignalLabel: "REDUCE",
		Condition: Condition{
			Quintiles:          []volume.Quintile{volume.VeryHigh, volume.UltraHigh},
			MaxAbsReturnPct:    pct(1),
			MaxPctBelow52wHigh: pct(5),
		},
		StopPct: 2, Target1Pct: 4, Target2Pct: 7,
		HistoricalWinRate: 0.54, Expectancy: 0.9,
		Description: "Huge volume but a flat close near the highs. Supply is absorbing demand.",
	},
	{
		Name:        "Capitulation Near Lows",
		Category:    CategoryCapitulation,
		Direction:   DirectionWatch,
		SignalLabel: "WATCH",
		Condition: Condition{
			Quintiles:         []volume.Quintile{volume.VeryHigh, volume.UltraHigh},
			MaxReturnPct:      pct(-5),
			MaxPctAbove52wLow: pct(10),
		},
		StopPct: 5, Target1Pct: 8, Target2Pct: 15,
		HistoricalWinRate: 0.48, Expectancy: 1.5,
		Description: "Panic selling on heavy volume close to the 52-week low. Wait for a reversal.",
	},
}

// Catalog returns a copy of the fixed rule set in display order
func Catalog() []TradingRule {
	out := make([]TradingRule, len(catalog))
	for i, r := range catalog {
		r.Condition = r.Condition.clone()
		out[i] = r
	}
	return out
}

func (c Condition) clone() Condition {
	c.Quintiles = slices.Clone(c.Quintiles)
	c.MinReturnPct = clonePtr(c.MinReturnPct)
	c.MaxReturnPct = clonePtr(c.MaxReturnPct)
	c.BelowReturnPct = clonePtr(c.BelowReturnPct)
	c.MaxAbsReturnPct = clonePtr(c.MaxAbsReturnPct)
	c.UpDay = clonePtr(c.UpDay)
	c.MaxPctBelow52wHigh = clonePtr(c.MaxPctBelow52wHigh)
	c.MaxPctAbove52wLow = clonePtr(c.MaxPctAbove52wLow)
	return c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Lookup finds a catalog rule by name
func Lookup(name string) (TradingRule, bool) {
	for _, r := range Catalog() {
		if r.Name == name {
			return r, true
		}
	}
	return TradingRule{}, false
}
