package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for a pipeline run. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Resolutions           *prometheus.CounterVec
	CacheLookups          *prometheus.CounterVec
	CacheLookupDuration   *prometheus.HistogramVec
	RemoteRequests        *prometheus.CounterVec
	RemoteRequestDuration *prometheus.HistogramVec
	RemoteRetries         *prometheus.CounterVec
	Groups                prometheus.Gauge
	MergedGroups          prometheus.Gauge
	TitleDisagreements    prometheus.Gauge
	StepDuration          *prometheus.HistogramVec
}

// New creates and registers all metrics with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_resolutions_total",
			Help: "Identifier resolutions by terminal status and cascade method",
		}, []string{"status", "method"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_cache_lookups_total",
			Help: "Resolution cache lookups by namespace and result",
		}, []string{"namespace", "result"}),
		CacheLookupDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "synth_cache_lookup_duration_seconds",
			Help:    "Latency of resolution cache lookups",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"namespace"}),
		RemoteRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_remote_requests_total",
			Help: "Requests to remote bibliographic services by provider and outcome",
		}, []string{"provider", "outcome"}),
		RemoteRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "synth_remote_request_duration_seconds",
			Help:    "Latency of remote bibliographic service requests",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"provider"}),
		RemoteRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_remote_retries_total",
			Help: "Retried remote requests by provider",
		}, []string{"provider"}),
		Groups: f.NewGauge(prometheus.GaugeOpts{
			Name: "synth_consolidated_groups",
			Help: "Canonical outputs produced by the last consolidation",
		}),
		MergedGroups: f.NewGauge(prometheus.GaugeOpts{
			Name: "synth_merged_groups",
			Help: "Canonical outputs with more than one source occurrence",
		}),
		TitleDisagreements: f.NewGauge(prometheus.GaugeOpts{
			Name: "synth_title_disagreements",
			Help: "Groups whose members share an identifier but not a normalized title",
		}),
		StepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "synth_step_duration_seconds",
			Help:    "Duration of rebuild steps",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 10),
		}, []string{"step"}),
	}
}

func (m *Metrics) RecordResolution(status, method string) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(status, method).Inc()
}

func (m *Metrics) RecordCacheHit(namespace string, seconds float64) {
	m.recordCache(namespace, "hit", seconds)
}

func (m *Metrics) RecordCacheMiss(namespace string, seconds float64) {
	m.recordCache(namespace, "miss", seconds)
}

func (m *Metrics) RecordCacheCorrupt(namespace string, seconds float64) {
	m.recordCache(namespace, "corrupt", seconds)
}

func (m *Metrics) recordCache(namespace, result string, seconds float64) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(namespace, result).Inc()
	m.CacheLookupDuration.WithLabelValues(namespace).Observe(seconds)
}

func (m *Metrics) ObserveRemoteRequest(provider, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.RemoteRequests.WithLabelValues(provider, outcome).Inc()
	m.RemoteRequestDuration.WithLabelValues(provider).Observe(seconds)
}

func (m *Metrics) IncrementRetries(provider string) {
	if m == nil {
		return
	}
	m.RemoteRetries.WithLabelValues(provider).Inc()
}

// SetConsolidation publishes the shape of the last consolidation.
func (m *Metrics) SetConsolidation(groups, merged, disagreements int) {
	if m == nil {
		return
	}
	m.Groups.Set(float64(groups))
	m.MergedGroups.Set(float64(merged))
	m.TitleDisagreements.Set(float64(disagreements))
}

func (m *Metrics) ObserveStep(step string, seconds float64) {
	if m == nil {
		return
	}
	m.StepDuration.WithLabelValues(step).Observe(seconds)
}
