package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"

	"clusterscan/internal/events"
	"clusterscan/internal/performance"
	"clusterscan/internal/provider"
	"clusterscan/internal/rules"
	"clusterscan/internal/scanner"
)

func newProgressBar(total int, desc string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]█[reset]",
			SaucerHead:    "[green]█[reset]",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func outputTally(t *scanner.Tally) {
	fmt.Println(t.String())
	if t.Failed == 0 {
		return
	}

	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Symbol", "Retry", "Error"}),
	)
	for _, sym := range t.FailedSymbols() {
		err := t.Failures[sym]
		retry := "no"
		if provider.IsRetryable(err) {
			retry = "yes"
		}
		msg := err.Error()
		if len(msg) > 70 {
			msg = msg[:70] + "..."
		}
		table.Append([]string{sym, retry, msg})
	}
	table.Render()
}

type scanReport struct {
	RunID   string         `json:"run_id"`
	Days    int            `json:"days"`
	Signals []rules.Signal `json:"signals"`
	Skipped int            `json:"skipped"`
	Invalid int            `json:"invalid"`
	Elapsed string         `json:"elapsed"`
}

func outputSignalsTable(res rules.Result, days int, runID string, elapsed time.Duration) {
	if len(res.Signals) == 0 {
		fmt.Printf("No signals in the last %d days.\n", days)
		fmt.Printf("Run %s: %d skipped, %d invalid (%s)\n", runID, res.Skipped, len(res.Invalid), elapsed.Round(time.Millisecond))
		return
	}

	fmt.Printf("Found %d signals in the last %d days:\n\n", len(res.Signals), days)

	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Date", "Symbol", "Rule", "Signal", "Quintile", "Return", "RVol", "Entry", "Stop", "T1", "R:R"}),
	)
	for _, s := range res.Signals {
		table.Append([]string{
			s.Date.Format("2006-01-02"),
			s.Symbol,
			s.Rule,
			s.SignalLabel,
			s.Quintile.String(),
			fmt.Sprintf("%+.2f%%", s.DayReturnPct),
			fmt.Sprintf("%.1fx", s.RelativeVolume),
			fmt.Sprintf("%.2f", s.EntryPrice),
			fmt.Sprintf("%.2f", s.StopLoss),
			fmt.Sprintf("%.2f", s.Target1),
			fmt.Sprintf("%.2f", s.RiskRewardRatio),
		})
	}
	table.Render()

	fmt.Println("\n--- Signal Details ---")
	for i, s := range res.Signals {
		if i >= 5 {
			break
		}
		fmt.Printf("\n[%s] %s (%s, %s priority)\n", s.Symbol, s.Rule, s.Direction, s.Priority)
		fmt.Printf("  %s\n", s.Reasoning)
		fmt.Printf("  Entry: %.2f | Stop: %.2f | T1: %.2f | T2: %.2f\n", s.EntryPrice, s.StopLoss, s.Target1, s.Target2)
		fmt.Printf("  Historical win rate: %.0f%% | Expectancy: %+.1f%%\n", s.HistoricalWinRate*100, s.Expectancy)
		if len(s.Warnings) > 0 {
			fmt.Printf("  Warnings: %s\n", strings.Join(s.Warnings, "; "))
		}
	}

	fmt.Printf("\nRun %s: %d skipped, %d invalid (%s)\n", runID, res.Skipped, len(res.Invalid), elapsed.Round(time.Millisecond))
}

func outputPerformanceTable(stats []performance.Stats, h events.Horizon) {
	if len(stats) == 0 {
		fmt.Println("No rule has fired yet.")
		return
	}

	fmt.Printf("Realised performance at %s:\n\n", h)

	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Rule", "Dir", "Samples", "Pending", "Win%", "Hist%", "Avg Win", "Avg Loss", "Exp", "PF", "Streaks"}),
	)
	for _, s := range stats {
		pf := "N/A"
		if s.ProfitFactor != nil {
			pf = fmt.Sprintf("%.2f", *s.ProfitFactor)
		}
		table.Append([]string{
			s.Rule,
			string(s.Direction),
			fmt.Sprint(s.Samples),
			fmt.Sprint(s.Pending),
			fmt.Sprintf("%.0f%%", s.WinRate*100),
			fmt.Sprintf("%.0f%%", s.HistoricalWinRate*100),
			fmt.Sprintf("%+.2f%%", s.AvgWin),
			fmt.Sprintf("%+.2f%%", s.AvgLoss),
			fmt.Sprintf("%+.2f%%", s.Expectancy),
			pf,
			fmt.Sprintf("%dW/%dL", s.MaxWinStreak, s.MaxLossStreak),
		})
	}
	table.Render()
}

func outputRulesTable(catalog []rules.TradingRule) {
	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Rule", "Category", "Dir", "Signal", "Stop", "T1", "T2", "Hist Win", "Exp"}),
	)
	for _, r := range catalog {
		table.Append([]string{
			r.Name,
			string(r.Category),
			string(r.Direction),
			r.SignalLabel,
			fmt.Sprintf("%.1f%%", r.StopPct),
			fmt.Sprintf("%.1f%%", r.Target1Pct),
			fmt.Sprintf("%.1f%%", r.Target2Pct),
			fmt.Sprintf("%.0f%%", r.HistoricalWinRate*100),
			fmt.Sprintf("%+.1f%%", r.Expectancy),
		})
	}
	table.Render()

	fmt.Println()
	for _, r := range catalog {
		fmt.Printf("%-28s %s\n", r.Name, r.Description)
	}
}
