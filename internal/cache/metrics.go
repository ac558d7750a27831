package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	tierLocal = "local"
	tierRedis = "redis"
)

// Metrics counts cache outcomes per tier. A nil *Metrics records nothing.
type Metrics struct {
	lookups       *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	errors        *prometheus.CounterVec
}

// NewMetrics registers the cache collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		lookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shortlink",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Resolution cache lookups by tier and result.",
		}, []string{"tier", "result"}),
		invalidations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shortlink",
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Resolution cache invalidations by tier.",
		}, []string{"tier"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shortlink",
			Subsystem: "cache",
			Name:      "errors_total",
			Help:      "Backend errors swallowed by the resolution cache.",
		}, []string{"tier"}),
	}
}

func (m *Metrics) lookup(tier string, hit bool) {
	if m == nil {
		return
	}

	result := "miss"
	if hit {
		result = "hit"
	}

	m.lookups.WithLabelValues(tier, result).Inc()
}

func (m *Metrics) invalidated(tier string) {
	if m == nil {
		return
	}

	m.invalidations.WithLabelValues(tier).Inc()
}

func (m *Metrics) failed(tier string) {
	if m == nil {
		return
	}

	m.errors.WithLabelValues(tier).Inc()
}
