package rules

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"clusterscan/internal/volume"
)

const (
	// ExtendedReturnPct flags a day move that is likely to mean-revert
	ExtendedReturnPct = 8.0
	// LowVolumeShares flags thinly traded names where relative volume is noisy
	LowVolumeShares = 50_000
)

// Signal is a rule firing on one event
type Signal struct {
	Rule              string          `json:"rule"`
	Category          Category        `json:"category"`
	Direction         Direction       `json:"direction"`
	SignalLabel       string          `json:"signal"`
	Symbol            string          `json:"symbol"`
	Date              time.Time       `json:"date"`
	Quintile          volume.Quintile `json:"quintile"`
	Priority          volume.Priority `json:"priority"`
	DayReturnPct      float64         `json:"day_return_pct"`
	RelativeVolume    float64         `json:"relative_volume"`
	EntryPrice        float64         `json:"entry_price"`
	StopLoss          float64         `json:"stop_loss"`
	Target1           float64         `json:"target_1"`
	Target2           float64         `json:"target_2"`
	RiskRewardRatio   float64         `json:"risk_reward_ratio"`
	HistoricalWinRate float64         `json:"historical_win_rate"`
	Expectancy        float64         `json:"expectancy"`
	Reasoning         string          `json:"reasoning"`
	Warnings          []string        `json:"warnings,omitempty"`
}

// RuleError scopes a failure to one rule on one event
type RuleError struct {
	Rule   string
	Symbol string
	Date   time.Time
	Err    error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("%s %s [%s]: %v", e.Symbol, e.Date.Format("2006-01-02"), e.Rule, e.Err)
}

func (e *RuleError) Unwrap() error { return e.Err }

// Result is the outcome of one evaluation pass
type Result struct {
	Signals []Signal
	// Skipped counts rule x event pairs suppressed for missing context
	Skipped int
	// Invalid holds rule x event pairs rejected for bad numeric input
	Invalid []error
}

// Evaluator applies a rule set to volume events
type Evaluator struct {
	rules      []TradingRule
	thresholds volume.Thresholds
}

// NewEvaluator creates an evaluator over the fixed catalog
func NewEvaluator(th volume.Thresholds) *Evaluator {
	return &Evaluator{rules: Catalog(), thresholds: th}
}

// Rules returns the rules this evaluator applies
func (e *Evaluator) Rules() []TradingRule { return e.rules }

// Evaluate runs every rule against every input. Rules are independent, so one
// event can yield several signals. A failure never stops the pass.
func (e *Evaluator) Evaluate(inputs []Input) Result {
	var res Result

	for _, in := range inputs {
		for _, r := range e.rules {
			ok, err := r.Match(in)
			if errors.Is(err, ErrMissingInput) {
				res.Skipped++
				continue
			}
			if err != nil {
				res.Invalid = append(res.Invalid, e.ruleErr(r, in, err))
				continue
			}
			if !ok {
				continue
			}

			sig, err := e.signal(r, in)
			if err != nil {
				res.Invalid = append(res.Invalid, e.ruleErr(r, in, err))
				continue
			}
			res.Signals = append(res.Signals, sig)
		}
	}

	return res
}

func (e *Evaluator) ruleErr(r TradingRule, in Input, err error) error {
	return &RuleError{Rule: r.Name, Symbol: in.Event.Symbol, Date: in.Event.Date, Err: err}
}

func (e *Evaluator) signal(r TradingRule, in Input) (Signal, error) {
	ev := in.Event

	lv, err := r.Levels(ev.Close)
	if err != nil {
		return Signal{}, err
	}

	return Signal{
		Rule:              r.Name,
		Category:          r.Category,
		Direction:         r.Direction,
		SignalLabel:       r.SignalLabel,
		Symbol:            ev.Symbol,
		Date:              ev.Date,
		Quintile:          ev.Quintile,
		Priority:          e.thresholds.PriorityFor(ev.Quintile),
		DayReturnPct:      ev.DayReturnPct,
		RelativeVolume:    ev.RelativeVolume,
		EntryPrice:        lv.Entry,
		StopLoss:          lv.StopLoss,
		Target1:           lv.Target1,
		Target2:           lv.Target2,
		RiskRewardRatio:   lv.RiskRewardRatio,
		HistoricalWinRate: r.HistoricalWinRate,
		Expectancy:        r.Expectancy,
		Reasoning:         reasoning(in),
		Warnings:          warnings(in),
	}, nil
}

func reasoning(in Input) string {
	ev := in.Event
	parts := []string{
		fmt.Sprintf("%s volume (%.1fx average)", ev.Quintile, ev.RelativeVolume),
		fmt.Sprintf("%+.2f%% on the day", ev.DayReturnPct),
	}
	if in.Context.PctBelow52wHigh != nil {
		parts = append(parts, fmt.Sprintf("%.1f%% below 52w high", *in.Context.PctBelow52wHigh))
	}
	if in.Context.PctAbove52wLow != nil {
		parts = append(parts, fmt.Sprintf("%.1f%% above 52w low", *in.Context.PctAbove52wLow))
	}
	return strings.Join(parts, ", ")
}

func warnings(in Input) []string {
	var w []string
	ev := in.Event
	if math.Abs(ev.DayReturnPct) > ExtendedReturnPct {
		w = append(w, fmt.Sprintf("extended: day move of %.1f%% exceeds %.0f%%", ev.DayReturnPct, ExtendedReturnPct))
	}
	if ev.Volume > 0 && ev.Volume < LowVolumeShares {
		w = append(w, fmt.Sprintf("low absolute volume (%d shares)", ev.Volume))
	}
	if in.Context.PctBelow52wHigh == nil && in.Context.PctAbove52wLow == nil {
		w = append(w, "52-week context unavailable")
	}
	return w
}

// Rank orders signals by priority, then absolute day return, then most
// recent date. Symbol and rule name break any remaining ties.
func Rank(signals []Signal) {
	sort.SliceStable(signals, func(i, j int) bool {
		a, b := signals[i], signals[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		ra, rb := math.Abs(a.DayReturnPct), math.Abs(b.DayReturnPct)
		if ra != rb {
			return ra > rb
		}
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		return a.Rule < b.Rule
	})
}

// Filter narrows a signal list the way the scan flags do
type Filter struct {
	BuyOnly   bool
	UltraOnly bool
}

// Apply returns the signals that pass the filter, preserving order
func (f Filter) Apply(signals []Signal) []Signal {
	out := make([]Signal, 0, len(signals))
	for _, s := range signals {
		if f.BuyOnly && s.Direction != DirectionBuy {
			continue
		}
		if f.UltraOnly && s.Quintile != volume.UltraHigh {
			continue
		}
		out = append(out, s)
	}
	return out
}
