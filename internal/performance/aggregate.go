package performance

import (
	"math"
	"sort"
	"time"

	"clusterscan/internal/events"
	"clusterscan/internal/rules"
)

// DefaultHorizon is the lookahead performance is judged on when none is
// asked for: the one-month forward return.
const DefaultHorizon = events.Horizon1M

// Outcome is one historical firing of a rule. ReturnPct is the raw forward
// return of the symbol; nil means the horizon has not resolved yet.
type Outcome struct {
	Symbol    string
	Date      time.Time
	ReturnPct *float64
}

// Stats summarises the realised performance of one rule
type Stats struct {
	Rule      string          `json:"rule"`
	Direction rules.Direction `json:"direction"`
	Samples   int             `json:"samples"`
	Pending   int             `json:"pending"`
	Wins      int             `json:"wins"`
	Losses    int             `json:"losses"`

	WinRate    float64 `json:"win_rate"`    // 0-1
	AvgWin     float64 `json:"avg_win"`     // directional %, positive
	AvgLoss    float64 `json:"avg_loss"`    // directional %, zero or negative
	Expectancy float64 `json:"expectancy"`  // % per signal
	// ProfitFactor is nil when there were no losing signals
	ProfitFactor *float64 `json:"profit_factor"`

	MaxWinStreak  int `json:"max_win_streak"`
	MaxLossStreak int `json:"max_loss_streak"`

	HistoricalWinRate    float64 `json:"historical_win_rate"`
	HistoricalExpectancy float64 `json:"historical_expectancy"`
}

// directional converts a raw return into the P&L of the rule's thesis. Avoid
// rules profit when the price falls.
func directional(d rules.Direction, ret float64) float64 {
	if d == rules.DirectionAvoid {
		return -ret
	}
	return ret
}

// Aggregate computes stats for rule over its outcomes. Pending outcomes are
// counted but excluded from every ratio. A flat outcome is a loss.
func Aggregate(rule rules.TradingRule, outcomes []Outcome) Stats {
	st := Stats{
		Rule:                 rule.Name,
		Direction:            rule.Direction,
		HistoricalWinRate:    rule.HistoricalWinRate,
		HistoricalExpectancy: rule.Expectancy,
	}

	resolved := make([]Outcome, 0, len(outcomes))
	for _, o := range outcomes {
		if o.ReturnPct == nil || math.IsNaN(*o.ReturnPct) {
			st.Pending++
			continue
		}
		resolved = append(resolved, o)
	}
	if len(resolved) == 0 {
		return st
	}

	sort.SliceStable(resolved, func(i, j int) bool {
		return resolved[i].Date.Before(resolved[j].Date)
	})

	var totalWin, totalLoss float64
	var winStreak, lossStreak int

	for _, o := range resolved {
		pnl := directional(rule.Direction, *o.ReturnPct)

		if pnl > 0 {
			st.Wins++
			totalWin += pnl

			winStreak++
			lossStreak = 0
			if winStreak > st.MaxWinStreak {
				st.MaxWinStreak = winStreak
			}
		} else {
			st.Losses++
			totalLoss += pnl

			lossStreak++
			winStreak = 0
			if lossStreak > st.MaxLossStreak {
				st.MaxLossStreak = lossStreak
			}
		}
	}

	st.Samples = len(resolved)
	st.WinRate = float64(st.Wins) / float64(st.Samples)

	if st.Wins > 0 {
		st.AvgWin = totalWin / float64(st.Wins)
	}
	if st.Losses > 0 {
		st.AvgLoss = totalLoss / float64(st.Losses)
	}

	st.Expectancy = st.WinRate*st.AvgWin + (1-st.WinRate)*st.AvgLoss

	if st.Losses > 0 && totalLoss != 0 {
		pf := events.Round2(totalWin / math.Abs(totalLoss))
		st.ProfitFactor = &pf
	}

	st.WinRate = math.Round(st.WinRate*10000) / 10000
	st.AvgWin = events.Round2(st.AvgWin)
	st.AvgLoss = events.Round2(st.AvgLoss)
	st.Expectancy = events.Round2(st.Expectancy)

	return st
}

// Report aggregates every catalog rule, in catalog order. Rules without
// outcomes get zero-sample stats.
func Report(catalog []rules.TradingRule, outcomesByRule map[string][]Outcome) []Stats {
	out := make([]Stats, 0, len(catalog))
	for _, r := range catalog {
		out = append(out, Aggregate(r, outcomesByRule[r.Name]))
	}
	return out
}

// Collect replays the evaluator over stored events and pairs each signal
// with the event's forward return at horizon.
func Collect(ev *rules.Evaluator, stored []events.VolumeEvent, horizon events.Horizon) map[string][]Outcome {
	byKey := make(map[string]*events.VolumeEvent, len(stored))
	inputs := make([]rules.Input, 0, len(stored))
	for i := range stored {
		e := &stored[i]
		byKey[key(e.Symbol, e.Date)] = e
		inputs = append(inputs, rules.NewInput(*e))
	}

	res := ev.Evaluate(inputs)

	out := make(map[string][]Outcome)
	for _, sig := range res.Signals {
		src := byKey[key(sig.Symbol, sig.Date)]
		o := Outcome{Symbol: sig.Symbol, Date: sig.Date}
		if fr, ok := src.ForwardAt(horizon); ok {
			r := fr.ReturnPct
			o.ReturnPct = &r
		}
		out[sig.Rule] = append(out[sig.Rule], o)
	}
	return out
}

func key(symbol string, date time.Time) string {
	return symbol + "|" + date.Format("2006-01-02")
}
