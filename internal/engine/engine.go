// Package engine wires the provider, detector, rule evaluator and
// performance aggregator over the store. The CLI and the web surface both
// go through it.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"clusterscan/internal/events"
	"clusterscan/internal/logger"
	"clusterscan/internal/market"
	"clusterscan/internal/metrics"
	"clusterscan/internal/performance"
	"clusterscan/internal/provider"
	"clusterscan/internal/rules"
	"clusterscan/internal/scanner"
	"clusterscan/internal/volume"
	"clusterscan/pkg/model"
)

// Store is the persistence the engine needs
type Store interface {
	UpsertBars(ctx context.Context, symbol string, bars []model.Candle) (int64, error)
	BarsAfter(ctx context.Context, symbol string, date time.Time, limit int) ([]model.Candle, error)
	SaveEvents(ctx context.Context, evs []events.VolumeEvent) (int64, error)
	PendingEvents(ctx context.Context, limit int) ([]events.VolumeEvent, error)
	UpdateForwardReturns(ctx context.Context, ev events.VolumeEvent) (int, error)
	RecentEvents(ctx context.Context, since time.Time, minQuintile volume.Quintile) ([]events.VolumeEvent, error)
	SymbolEvents(ctx context.Context, symbol string, limit int) ([]events.VolumeEvent, error)
	Event(ctx context.Context, symbol string, date time.Time) (events.VolumeEvent, error)
	Ping(ctx context.Context) error
}

// Options tunes batch jobs
type Options struct {
	Workers int
	Timeout time.Duration
}

// Engine runs ingest, annotate, signal and performance passes
type Engine struct {
	store     Store
	provider  provider.Provider
	detector  *events.Detector
	evaluator *rules.Evaluator
	runner    *scanner.Runner
	metrics   *metrics.Recorder
	log       *logger.Logger
	now       func() time.Time
}

// New creates an engine. p may be nil for read-only use.
func New(st Store, p provider.Provider, th volume.Thresholds, opts Options, m *metrics.Recorder, log *logger.Logger) *Engine {
	return &Engine{
		store:     st,
		provider:  p,
		detector:  events.NewDetector(th),
		evaluator: rules.NewEvaluator(th),
		runner:    scanner.NewRunner(opts.Workers, opts.Timeout),
		metrics:   m,
		log:       log,
		now:       time.Now,
	}
}

// SetProgressCallback reports per-symbol progress of batch jobs
func (e *Engine) SetProgressCallback(fn scanner.ProgressCallback) {
	e.runner.SetProgressCallback(fn)
}

// Evaluator returns the rule evaluator
func (e *Engine) Evaluator() *rules.Evaluator { return e.evaluator }

// Ping checks the store
func (e *Engine) Ping(ctx context.Context) error { return e.store.Ping(ctx) }

// IngestStats counts what an ingest pass wrote
type IngestStats struct {
	Bars   int64
	Events int64
}

// Ingest downloads days of bars per symbol, upserts them and saves any new
// volume events. A failing symbol is recorded in the tally and skipped.
func (e *Engine) Ingest(ctx context.Context, symbols []string, days int) (*scanner.Tally, IngestStats) {
	if e.provider == nil {
		tally := &scanner.Tally{Total: len(symbols), Failed: len(symbols), Failures: make(map[string]error)}
		for _, s := range symbols {
			tally.Failures[s] = fmt.Errorf("no data provider configured")
		}
		return tally, IngestStats{}
	}

	var bars, saved int64
	tally := e.runner.Run(ctx, symbols, func(ctx context.Context, symbol string) error {
		candles, err := e.provider.GetDailyCandles(ctx, symbol, days)
		if err != nil {
			return fmt.Errorf("download: %w", err)
		}

		n, err := e.store.UpsertBars(ctx, symbol, candles)
		if err != nil {
			return err
		}
		atomic.AddInt64(&bars, n)

		evs, dayErrs := e.detector.Detect(symbol, candles)
		for _, de := range dayErrs {
			e.log.Warn("day skipped", logger.String("symbol", symbol), logger.Error(de))
		}

		added, err := e.store.SaveEvents(ctx, evs)
		if err != nil {
			return err
		}
		atomic.AddInt64(&saved, added)

		e.log.Debug("ingested",
			logger.String("symbol", symbol),
			logger.Int("bars", len(candles)),
			logger.Int("events", len(evs)),
			logger.Int64("new_events", added),
		)
		return nil
	})

	e.finish("ingest", tally)
	return tally, IngestStats{Bars: bars, Events: saved}
}

// Annotate back-fills forward returns of every pending event from stored
// bars. It returns the tally per symbol and the number of horizons written.
func (e *Engine) Annotate(ctx context.Context) (*scanner.Tally, int, error) {
	pending, err := e.store.PendingEvents(ctx, 0)
	if err != nil {
		return nil, 0, err
	}

	bySymbol := make(map[string][]events.VolumeEvent)
	for _, ev := range pending {
		bySymbol[ev.Symbol] = append(bySymbol[ev.Symbol], ev)
	}
	symbols := make([]string, 0, len(bySymbol))
	for s := range bySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	var written int64
	tally := e.runner.Run(ctx, symbols, func(ctx context.Context, symbol string) error {
		for _, ev := range bySymbol[symbol] {
			todo := ev.Pending()
			if len(todo) == 0 {
				continue
			}
			// Horizons are shortest first; the last pending one bounds the read.
			future, err := e.store.BarsAfter(ctx, symbol, ev.Date, todo[len(todo)-1].TradingDays())
			if err != nil {
				return err
			}
			resolved, err := events.Annotate(&ev, future)
			if err != nil {
				e.log.Warn("event not annotated",
					logger.String("symbol", symbol),
					logger.String("date", ev.Date.Format("2006-01-02")),
					logger.Error(err))
				continue
			}
			if len(resolved) == 0 {
				continue
			}
			n, err := e.store.UpdateForwardReturns(ctx, ev)
			if err != nil {
				return err
			}
			atomic.AddInt64(&written, int64(n))
		}
		return nil
	})

	e.finish("annotate", tally)
	return tally, int(written), nil
}

func (e *Engine) finish(job string, t *scanner.Tally) {
	e.metrics.RecordBatch(job, t.Succeeded, t.Failed)
	e.metrics.RecordLatency(job, t.Elapsed)
	for _, sym := range t.FailedSymbols() {
		e.log.Warn(job+" failed", logger.String("symbol", sym), logger.Error(t.Failures[sym]))
	}
}

// SignalQuery selects events for a scan
type SignalQuery struct {
	Days    int
	Symbols []string // empty means all
	Filter  rules.Filter
}

// Signals evaluates every event of the last q.Days calendar days and returns
// the filtered, ranked result
func (e *Engine) Signals(ctx context.Context, q SignalQuery) (rules.Result, error) {
	since := e.today().AddDate(0, 0, -q.Days)
	evs, err := e.store.RecentEvents(ctx, since, volume.High)
	if err != nil {
		return rules.Result{}, err
	}

	only := make(map[string]bool, len(q.Symbols))
	for _, sym := range q.Symbols {
		only[sym] = true
	}
	inputs := make([]rules.Input, 0, len(evs))
	for _, ev := range evs {
		if len(only) > 0 && !only[ev.Symbol] {
			continue
		}
		inputs = append(inputs, rules.NewInput(ev))
	}

	res := e.evaluator.Evaluate(inputs)
	res.Signals = q.Filter.Apply(res.Signals)
	rules.Rank(res.Signals)

	for _, err := range res.Invalid {
		e.log.Warn("rule skipped", logger.Error(err))
	}
	return res, nil
}

// Performance replays the catalog over every stored event and aggregates
// realised returns at horizon, in catalog order
func (e *Engine) Performance(ctx context.Context, horizon events.Horizon) ([]performance.Stats, error) {
	evs, err := e.store.RecentEvents(ctx, time.Time{}, volume.High)
	if err != nil {
		return nil, err
	}
	outcomes := performance.Collect(e.evaluator, evs, horizon)
	return performance.Report(e.evaluator.Rules(), outcomes), nil
}

// SymbolEvents returns the latest events of one symbol
func (e *Engine) SymbolEvents(ctx context.Context, symbol string, limit int) ([]events.VolumeEvent, error) {
	return e.store.SymbolEvents(ctx, symbol, limit)
}

// today is the current IST trading date at midnight UTC, the key bars are
// stored under
// Event returns one stored event with the signals it produces today
func (e *Engine) Event(ctx context.Context, symbol string, date time.Time) (events.VolumeEvent, rules.Result, error) {
	ev, err := e.store.Event(ctx, symbol, date)
	if err != nil {
		return events.VolumeEvent{}, rules.Result{}, err
	}
	res := e.evaluator.Evaluate([]rules.Input{rules.NewInput(ev)})
	rules.Rank(res.Signals)
	return ev, res, nil
}

func (e *Engine) today() time.Time {
	d := model.DayKey(e.now(), market.Location())
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}
