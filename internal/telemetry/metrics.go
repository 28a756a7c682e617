package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gather"

// Metrics holds the engine's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	detectionCandidates *prometheus.CounterVec
	conflictsPersisted  *prometheus.CounterVec
	resolutions         *prometheus.CounterVec
	gateChecks          *prometheus.CounterVec
	transitions         *prometheus.CounterVec
	tokensChanged       *prometheus.CounterVec
	notifications       *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		detectionCandidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detection_candidates_total",
			Help:      "Conflict candidates emitted per detection rule",
		}, []string{"rule"}),
		conflictsPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_persisted_total",
			Help:      "Conflict persistence outcomes (created, updated, unchanged, reopened, auto_resolved)",
		}, []string{"outcome"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflict_resolutions_total",
			Help:      "Conflict resolutions by action",
		}, []string{"action"}),
		gateChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_checks_total",
			Help:      "Gate evaluations by outcome",
		}, []string{"passed"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Lifecycle transitions by target status and result",
		}, []string{"to", "result"}),
		tokensChanged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_changed_total",
			Help:      "Access tokens created or deleted by scope",
		}, []string{"scope", "change"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification attempts by result",
		}, []string{"result"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	m.registry.MustRegister(
		m.detectionCandidates,
		m.conflictsPersisted,
		m.resolutions,
		m.gateChecks,
		m.transitions,
		m.tokensChanged,
		m.notifications,
		m.operationDuration,
	)
	return m
}

func (m *Metrics) DetectionCandidates(rule string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.detectionCandidates.WithLabelValues(rule).Add(float64(n))
}

func (m *Metrics) ConflictPersisted(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.conflictsPersisted.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) Resolution(action string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(action).Inc()
}

func (m *Metrics) GateChecked(passed bool) {
	if m == nil {
		return
	}
	m.gateChecks.WithLabelValues(strconv.FormatBool(passed)).Inc()
}

func (m *Metrics) Transition(to, result string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to, result).Inc()
}

func (m *Metrics) TokensChanged(scope, change string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.tokensChanged.WithLabelValues(scope, change).Add(float64(n))
}

func (m *Metrics) Notification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

// ObserveSince records the time elapsed since start for an operation.
func (m *Metrics) ObserveSince(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
