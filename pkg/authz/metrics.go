package authz

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Decision labels of authz_decisions_total.
const (
	ResultAllow = "allow"
	ResultDeny  = "deny"
	ResultError = "error"
)

// Metrics holds the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	decisions  *prometheus.CounterVec
	duration   prometheus.Histogram
	cache      *prometheus.CounterVec
	suppressed prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Authorization decisions by result.",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "authz_decision_duration_seconds",
			Help:    "Time to reach an authorization decision.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 3},
		}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authz_cache_events_total",
			Help: "Permission cache events: hit, miss, stale, invalidate.",
		}, []string{"event"}),
		suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authz_denials_suppressed_total",
			Help: "Credential denials not audited because of the rate limit.",
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.decisions, m.duration, m.cache, m.suppressed} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) observeDecision(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(result).Inc()
	m.duration.Observe(d.Seconds())
}

// CacheEvent counts a permission cache event. Pass it to
// rbac.WithCacheObserver.
func (m *Metrics) CacheEvent(event string) {
	if m == nil {
		return
	}
	m.cache.WithLabelValues(event).Inc()
}

// DenialSuppressed counts a denial dropped by the audit rate limit.
func (m *Metrics) DenialSuppressed() {
	if m == nil {
		return
	}
	m.suppressed.Inc()
}
