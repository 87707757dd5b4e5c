// Package metrics holds the Prometheus collectors shared by the compiler,
// the shader cache and the HTTP service. A nil *Metrics is valid and records
// nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
)

const namespace = "pipec"

// Lookup results.
const (
	LookupHit     = "hit"
	LookupMiss    = "miss"
	LookupCorrupt = "corrupt"
	LookupWait    = "wait"
)

// Build results.
const (
	ResultSuccess  = "success"
	ResultCacheHit = "cache_hit"
	ResultError    = "error"
)

type Metrics struct {
	CacheLookups    *prometheus.CounterVec
	Builds          *prometheus.CounterVec
	BuildPhase      *prometheus.HistogramVec
	ContextPoolSize prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Count of shader cache lookups by result",
		}, []string{"result"}),

		Builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "Count of pipeline builds by pipeline kind and result",
		}, []string{"kind", "result"}),

		BuildPhase: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_phase_seconds",
			Help:      "Histogram of time spent in each build phase",
			Buckets:   prometheus.ExponentialBuckets(1e-4, 4, 8),
		}, []string{"phase"}),

		ContextPoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "context_pool_size",
			Help:      "Number of compilation contexts held by the context pool",
		}),
	}
}

func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.CacheLookups,
		m.Builds,
		m.BuildPhase,
		m.ContextPoolSize,
	}
}

// Register registers every collector with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	var err error
	for _, c := range m.PrometheusCollectors() {
		err = multierr.Append(err, reg.Register(c))
	}
	return err
}

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) Build(kind, result string) {
	if m == nil {
		return
	}
	m.Builds.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.BuildPhase.WithLabelValues(phase).Observe(d.Seconds())
}

func (m *Metrics) SetPoolSize(n int) {
	if m == nil {
		return
	}
	m.ContextPoolSize.Set(float64(n))
}
