package metrics

import "github.com/prometheus/client_golang/prometheus"

// TelehealthMetrics exposes counters/histograms for session lifecycle and summary flows.
type TelehealthMetrics struct {
	transitions        *prometheus.CounterVec
	createReconciled   prometheus.Counter
	consentRecorded    *prometheus.CounterVec
	summaryRequests    *prometheus.CounterVec
	summaryLatency     *prometheus.HistogramVec
	persistenceWarning prometheus.Counter
	sideEffectFailures *prometheus.CounterVec
}

func NewTelehealthMetrics(reg prometheus.Registerer) *TelehealthMetrics {
	m := &TelehealthMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "telehealth",
			Name:      "session_transitions_total",
			Help:      "Session state transitions by event and outcome",
		}, []string{"event", "outcome"}),
		createReconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "telehealth",
			Name:      "session_create_reconciled_total",
			Help:      "Concurrent session creates resolved by re-reading the winner",
		}),
		consentRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "telehealth",
			Name:      "consent_recorded_total",
			Help:      "AI consent recordings by party and whether the call changed state",
		}, []string{"party", "first"}),
		summaryRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "telehealth",
			Name:      "summary_requests_total",
			Help:      "Summary generation requests by outcome",
		}, []string{"outcome"}),
		summaryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medspa",
			Subsystem: "telehealth",
			Name:      "summary_latency_seconds",
			Help:      "Latency of summary generation provider calls",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 90},
		}, []string{"model"}),
		persistenceWarning: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "telehealth",
			Name:      "summary_persistence_warnings_total",
			Help:      "Summaries generated but not written back to the session",
		}),
		sideEffectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "telehealth",
			Name:      "side_effect_failures_total",
			Help:      "Best-effort side effects that failed (event publish, audit, archive, job status)",
		}, []string{"kind"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.transitions,
		m.createReconciled,
		m.consentRecorded,
		m.summaryRequests,
		m.summaryLatency,
		m.persistenceWarning,
		m.sideEffectFailures,
	)
	return m
}

func (m *TelehealthMetrics) ObserveTransition(event, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(event, outcome).Inc()
}

func (m *TelehealthMetrics) ObserveCreateReconciled() {
	if m == nil {
		return
	}
	m.createReconciled.Inc()
}

func (m *TelehealthMetrics) ObserveConsent(party string, first bool) {
	if m == nil {
		return
	}
	label := "false"
	if first {
		label = "true"
	}
	m.consentRecorded.WithLabelValues(party, label).Inc()
}

func (m *TelehealthMetrics) ObserveSummary(outcome string) {
	if m == nil {
		return
	}
	m.summaryRequests.WithLabelValues(outcome).Inc()
}

func (m *TelehealthMetrics) ObserveSummaryLatency(model string, seconds float64) {
	if m == nil {
		return
	}
	m.summaryLatency.WithLabelValues(model).Observe(seconds)
}

func (m *TelehealthMetrics) ObservePersistenceWarning() {
	if m == nil {
		return
	}
	m.persistenceWarning.Inc()
}

// ObserveSideEffectFailure counts a failed best-effort step such as "event_publish" or "audit".
func (m *TelehealthMetrics) ObserveSideEffectFailure(kind string) {
	if m == nil {
		return
	}
	m.sideEffectFailures.WithLabelValues(kind).Inc()
}
