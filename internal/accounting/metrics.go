package accounting

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes accountant throughput. A nil *Metrics records nothing.
type Metrics struct {
	recorded      prometheus.Counter
	dropped       prometheus.Counter
	flushedClicks prometheus.Counter
	flushErrors   prometheus.Counter
	flushTimeouts prometheus.Counter
	flushDuration prometheus.Histogram
}

// NewMetrics registers the accountant collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		recorded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "shortlink",
			Subsystem: "clicks",
			Name:      "recorded_total",
			Help:      "Click events accepted into the accounting queue.",
		}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "shortlink",
			Subsystem: "clicks",
			Name:      "dropped_total",
			Help:      "Click events dropped because the queue was full or closed.",
		}),
		flushedClicks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "shortlink",
			Subsystem: "clicks",
			Name:      "flushed_total",
			Help:      "Clicks persisted to the link store.",
		}),
		flushErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "shortlink",
			Subsystem: "clicks",
			Name:      "flush_errors_total",
			Help:      "Per-code increments that failed and were retried.",
		}),
		flushTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "shortlink",
			Subsystem: "clicks",
			Name:      "flush_timeouts_total",
			Help:      "Retried increments whose outcome was unknown; each may over-count.",
		}),
		flushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "shortlink",
			Subsystem: "clicks",
			Name:      "flush_duration_seconds",
			Help:      "Time spent applying one batch to the link store.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) record() {
	if m != nil {
		m.recorded.Inc()
	}
}

func (m *Metrics) drop() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Metrics) flushed(clicks int64, failures, timeouts int, seconds float64) {
	if m == nil {
		return
	}

	m.flushedClicks.Add(float64(clicks))
	m.flushErrors.Add(float64(failures))
	m.flushTimeouts.Add(float64(timeouts))
	m.flushDuration.Observe(seconds)
}
