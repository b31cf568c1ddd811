package layered

import (
	"time"

	"github.com/goliatone/go-layered-cache/cache"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors of a Coordinator. A nil *Metrics
// records nothing.
type Metrics struct {
	hits     *prometheus.CounterVec // by tier
	misses   *prometheus.CounterVec // by tier
	errors   *prometheus.CounterVec // by tier and op: get, put, delete
	refresh  *prometheus.CounterVec // by tier and result: ok, error
	duration *prometheus.HistogramVec
}

// NewMetrics creates the coordinator collectors and registers them with reg.
// A nil reg disables metrics.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "layercache",
			Name:      "tier_hits_total",
			Help:      "Keys found per tier during get",
		}, []string{"tier"}),

		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "layercache",
			Name:      "tier_misses_total",
			Help:      "Keys not found per tier during get",
		}, []string{"tier"}),

		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "layercache",
			Name:      "tier_errors_total",
			Help:      "Tier operation failures",
		}, []string{"tier", "op"}),

		refresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "layercache",
			Name:      "refresh_total",
			Help:      "Cascaded refresh writes into cache tiers",
		}, []string{"tier", "result"}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "layercache",
			Name:      "operation_duration_seconds",
			Help:      "Coordinator operation duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"op"}),
	}

	for _, c := range []prometheus.Collector{m.hits, m.misses, m.errors, m.refresh, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) recordLookup(tier cache.Tier, hits, misses int) {
	if m == nil {
		return
	}
	m.hits.WithLabelValues(tier.String()).Add(float64(hits))
	m.misses.WithLabelValues(tier.String()).Add(float64(misses))
}

func (m *Metrics) recordError(tier cache.Tier, op string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(tier.String(), op).Inc()
}

func (m *Metrics) recordRefresh(tier cache.Tier, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.refresh.WithLabelValues(tier.String(), result).Inc()
}

func (m *Metrics) observe(op string, start time.Time) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
