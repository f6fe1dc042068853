package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps Prometheus collectors for aura-deploy. All methods are safe
// on a nil receiver so callers can leave instrumentation unwired.
type Metrics struct {
	registry                 *prometheus.Registry
	reconcileDurationSeconds prometheus.Histogram
	outcomesTotal            *prometheus.CounterVec
	controlPlaneErrorsTotal  prometheus.Counter
	prunedRevisionsTotal     prometheus.Counter
	servicesCleanedTotal     prometheus.Counter
}

// New initializes a Metrics registry with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		reconcileDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aura_deploy_reconcile_duration_seconds",
			Help:    "Duration of reconciliation runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		outcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aura_deploy_outcomes_total",
			Help: "Total reconciliation results by kind and outcome.",
		}, []string{"kind", "outcome"}),
		controlPlaneErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aura_deploy_control_plane_errors_total",
			Help: "Total control-plane errors after retries.",
		}),
		prunedRevisionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aura_deploy_pruned_revisions_total",
			Help: "Total task-definition revisions deregistered by cleanup.",
		}),
		servicesCleanedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aura_deploy_services_cleaned_total",
			Help: "Total services drained and deleted by cleanup.",
		}),
	}

	registry.MustRegister(
		m.reconcileDurationSeconds,
		m.outcomesTotal,
		m.controlPlaneErrorsTotal,
		m.prunedRevisionsTotal,
		m.servicesCleanedTotal,
	)

	return m
}

// Handler returns a Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveReconcileDuration records the duration of a completed reconcile.
func (m *Metrics) ObserveReconcileDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.reconcileDurationSeconds.Observe(duration.Seconds())
}

// IncOutcome increments the outcome counter for the given kind/outcome.
func (m *Metrics) IncOutcome(kind string, outcome string) {
	if m == nil {
		return
	}
	m.outcomesTotal.WithLabelValues(kind, outcome).Inc()
}

// IncControlPlaneErrors increments the control-plane error counter.
func (m *Metrics) IncControlPlaneErrors() {
	if m == nil {
		return
	}
	m.controlPlaneErrorsTotal.Inc()
}

// AddPrunedRevisions adds to the pruned-revision counter.
func (m *Metrics) AddPrunedRevisions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.prunedRevisionsTotal.Add(float64(n))
}

// IncServicesCleaned increments the cleaned-services counter.
func (m *Metrics) IncServicesCleaned() {
	if m == nil {
		return
	}
	m.servicesCleanedTotal.Inc()
}
