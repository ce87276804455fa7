package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder exports relay and batch metrics to Prometheus. A nil *Recorder
// is valid and records nothing.
type Recorder struct {
	quotesReceived *prometheus.CounterVec
	published      *prometheus.CounterVec
	alerts         *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	lastPrice      *prometheus.GaugeVec
	bufferedTicks  prometheus.Gauge
	flushSize      prometheus.Histogram
	latency        *prometheus.HistogramVec
	batchSymbols   *prometheus.CounterVec
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// to expose them on /metrics.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		quotesReceived: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clusterscan_quotes_received_total",
				Help: "Total number of quotes received from the broker feed",
			},
			[]string{"symbol"},
		),
		published: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clusterscan_messages_published_total",
				Help: "Total number of messages published to redis",
			},
			[]string{"channel"},
		),
		alerts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clusterscan_live_alerts_total",
				Help: "Live volume alerts by quintile",
			},
			[]string{"quintile"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clusterscan_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "clusterscan_last_price",
				Help: "Last relayed price for a symbol",
			},
			[]string{"symbol"},
		),
		bufferedTicks: f.NewGauge(prometheus.GaugeOpts{
			Name: "clusterscan_buffered_ticks",
			Help: "Ticks waiting to be flushed to the database",
		}),
		flushSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "clusterscan_flush_batch_size",
			Help:    "Number of ticks written per flush",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000, 5000},
		}),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clusterscan_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		batchSymbols: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clusterscan_batch_symbols_total",
				Help: "Symbols processed by batch jobs",
			},
			[]string{"job", "result"},
		),
	}
}

// RecordQuote records a received quote
func (r *Recorder) RecordQuote(symbol string, price float64) {
	if r == nil {
		return
	}
	r.quotesReceived.WithLabelValues(symbol).Inc()
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordPublish records a message published to channel. Quote channels are
// folded into one label value to keep cardinality low.
func (r *Recorder) RecordPublish(channel string) {
	if r == nil {
		return
	}
	r.published.WithLabelValues(channel).Inc()
}

// RecordAlert records a live volume alert
func (r *Recorder) RecordAlert(quintile string) {
	if r == nil {
		return
	}
	r.alerts.WithLabelValues(quintile).Inc()
}

// RecordError records an error occurrence
func (r *Recorder) RecordError(kind string) {
	if r == nil {
		return
	}
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// SetBuffered sets the number of buffered ticks
func (r *Recorder) SetBuffered(n int) {
	if r == nil {
		return
	}
	r.bufferedTicks.Set(float64(n))
}

// RecordFlush records a tick flush of n rows taking d
func (r *Recorder) RecordFlush(n int, d time.Duration) {
	if r == nil {
		return
	}
	r.flushSize.Observe(float64(n))
	r.latency.WithLabelValues("flush").Observe(d.Seconds())
}

// RecordLatency records operation latency
func (r *Recorder) RecordLatency(op string, d time.Duration) {
	if r == nil {
		return
	}
	r.latency.WithLabelValues(op).Observe(d.Seconds())
}

// RecordBatch records the outcome of a batch job
func (r *Recorder) RecordBatch(job string, succeeded, failed int) {
	if r == nil {
		return
	}
	r.batchSymbols.WithLabelValues(job, "ok").Add(float64(succeeded))
	r.batchSymbols.WithLabelValues(job, "failed").Add(float64(failed))
}
