package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"clusterscan/internal/logger"
	"clusterscan/internal/market"
	"clusterscan/internal/metrics"
	"clusterscan/internal/storage"
	"clusterscan/internal/volume"
	"clusterscan/pkg/model"
)

// AverageSource supplies the trailing average daily volume before day
type AverageSource interface {
	TrailingAvgVolume(ctx context.Context, symbol string, day time.Time, window int) (float64, error)
}

// RelayConfig holds the Redis key layout
type RelayConfig struct {
	QuotePrefix     string
	LastQuotePrefix string
	LastQuoteTTL    time.Duration
	AlertChannel    string
}

// Alert is published when a symbol's running day volume moves into a higher
// quintile during the session
type Alert struct {
	Symbol         string          `json:"symbol"`
	Date           string          `json:"date"`
	Quintile       volume.Quintile `json:"quintile"`
	Priority       volume.Priority `json:"priority"`
	RelativeVolume float64         `json:"relative_volume"`
	DayVolume      int64           `json:"day_volume"`
	AvgVolume      float64         `json:"avg_volume"`
	Price          float64         `json:"price"`
	Time           time.Time       `json:"time"`
}

type dayState struct {
	day      time.Time
	volume   int64
	avg      float64 // 0 when no history
	quintile volume.Quintile
}

// Relay publishes quotes to Redis, tracks live relative volume and hands
// quotes to the tick buffer
type Relay struct {
	rdb      redis.UniversalClient
	cfg      RelayConfig
	th       volume.Thresholds
	averages AverageSource
	session  market.Schedule
	buffer   *Buffer
	metrics  *metrics.Recorder
	log      *logger.Logger

	mu     sync.Mutex
	states map[string]*dayState
}

// NewRelay creates a relay. buffer may be nil when ticks are not persisted.
func NewRelay(rdb redis.UniversalClient, cfg RelayConfig, th volume.Thresholds, averages AverageSource,
	buffer *Buffer, m *metrics.Recorder, log *logger.Logger) *Relay {
	return &Relay{
		rdb:      rdb,
		cfg:      cfg,
		th:       th,
		averages: averages,
		session:  market.DefaultSchedule(),
		buffer:   buffer,
		metrics:  m,
		log:      log,
		states:   make(map[string]*dayState),
	}
}

// QuoteChannel returns the pub/sub channel for symbol
func (r *Relay) QuoteChannel(symbol string) string {
	return r.cfg.QuotePrefix + symbol
}

// LastQuoteKey returns the cache key holding symbol's latest quote
func (r *Relay) LastQuoteKey(symbol string) string {
	return r.cfg.LastQuotePrefix + symbol
}

// Handle relays one quote. It satisfies Handler; errors are logged.
func (r *Relay) Handle(ctx context.Context, q model.Quote) {
	if err := r.Process(ctx, q); err != nil {
		r.log.Warn("relay failed", logger.String("symbol", q.Symbol), logger.Error(err))
	}
}

// Process publishes q, caches it, checks for a live volume alert and buffers
// it for the tick table
func (r *Relay) Process(ctx context.Context, q model.Quote) error {
	r.metrics.RecordQuote(q.Symbol, q.Price)

	payload, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("encode quote: %w", err)
	}

	pipe := r.rdb.Pipeline()
	pipe.Publish(ctx, r.QuoteChannel(q.Symbol), payload)
	pipe.Set(ctx, r.LastQuoteKey(q.Symbol), payload, r.cfg.LastQuoteTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		r.metrics.RecordError("redis")
		return fmt.Errorf("publish quote: %w", err)
	}
	r.metrics.RecordPublish("quotes")

	if r.buffer != nil {
		r.buffer.Add(q)
	}

	alert, err := r.track(ctx, q)
	if err != nil {
		return err
	}
	if alert == nil {
		return nil
	}
	return r.publishAlert(ctx, *alert)
}

// track updates the running day volume and returns an alert when the symbol
// enters a higher event quintile while the session is open
func (r *Relay) track(ctx context.Context, q model.Quote) (*Alert, error) {
	day := model.DayKey(q.Time, market.Location())
	dayUTC := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

	r.mu.Lock()
	st, ok := r.states[q.Symbol]
	r.mu.Unlock()

	if !ok || !st.day.Equal(dayUTC) {
		avg, err := r.averages.TrailingAvgVolume(ctx, q.Symbol, dayUTC, r.th.AvgWindow)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			r.metrics.RecordError("average")
			return nil, fmt.Errorf("trailing average: %w", err)
		}
		st = &dayState{day: dayUTC, avg: avg}
		r.mu.Lock()
		r.states[q.Symbol] = st
		r.mu.Unlock()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if q.CumVolume > 0 {
		st.volume = q.CumVolume
	} else {
		st.volume += q.Volume
	}

	if st.avg <= 0 || !r.session.IsOpen(q.Time) {
		return nil, nil
	}

	c, err := r.th.Classify(st.volume, st.avg)
	if err != nil {
		return nil, err
	}
	if !r.th.IsEvent(c.Quintile) || c.Quintile <= st.quintile {
		return nil, nil
	}
	st.quintile = c.Quintile

	return &Alert{
		Symbol:         q.Symbol,
		Date:           dayUTC.Format("2006-01-02"),
		Quintile:       c.Quintile,
		Priority:       r.th.PriorityFor(c.Quintile),
		RelativeVolume: c.RelativeVolume,
		DayVolume:      st.volume,
		AvgVolume:      st.avg,
		Price:          q.Price,
		Time:           q.Time,
	}, nil
}

func (r *Relay) publishAlert(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.cfg.AlertChannel, payload).Err(); err != nil {
		r.metrics.RecordError("redis")
		return fmt.Errorf("publish alert: %w", err)
	}
	r.metrics.RecordPublish("alerts")
	r.metrics.RecordAlert(a.Quintile.String())
	r.log.Info("live volume alert",
		logger.String("symbol", a.Symbol),
		logger.String("quintile", a.Quintile.String()),
		logger.Float64("relative_volume", a.RelativeVolume),
	)
	return nil
}
