package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "assistant"

// Metrics holds the orchestrator's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	tasksStarted   *prometheus.CounterVec
	tasksSettled   *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
	foregroundBusy prometheus.Gauge
	chimeIns       *prometheus.CounterVec
	fixAttempts    *prometheus.CounterVec
	clients        prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tasksStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tasks_started_total",
			Help:      "Foreground tasks installed in the task guard.",
		}, []string{"kind"}),
		tasksSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tasks_settled_total",
			Help:      "Foreground tasks released from the task guard, by outcome.",
		}, []string{"kind", "outcome"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "task_duration_seconds",
			Help:      "Time a foreground task held the task guard.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"kind"}),
		foregroundBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "foreground_busy",
			Help:      "1 while a foreground task occupies the task guard.",
		}),
		chimeIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "chimein_offers_total",
			Help:      "Chat input received while busy, by result.",
		}, []string{"result"}),
		fixAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "autofix_attempts_total",
			Help:      "Auto-fix reports, by outcome.",
		}, []string{"outcome"}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "clients_attached",
			Help:      "Clients attached to the current session.",
		}),
	}
	reg.MustRegister(
		m.tasksStarted,
		m.tasksSettled,
		m.taskDuration,
		m.foregroundBusy,
		m.chimeIns,
		m.fixAttempts,
		m.clients,
	)
	return m
}

// SetForegroundBusy implements BusyListener
func (m *Metrics) SetForegroundBusy(busy bool) {
	if m == nil {
		return
	}
	if busy {
		m.foregroundBusy.Set(1)
		return
	}
	m.foregroundBusy.Set(0)
}

func (m *Metrics) taskStarted(kind TaskKind) {
	if m == nil {
		return
	}
	m.tasksStarted.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) taskSettled(kind TaskKind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.tasksSettled.WithLabelValues(string(kind), outcome).Inc()
	m.taskDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

func (m *Metrics) chimeIn(result string) {
	if m == nil {
		return
	}
	m.chimeIns.WithLabelValues(result).Inc()
}

func (m *Metrics) fixAttempt(outcome FixOutcome) {
	if m == nil {
		return
	}
	m.fixAttempts.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) setClients(n int) {
	if m == nil {
		return
	}
	m.clients.Set(float64(n))
}
