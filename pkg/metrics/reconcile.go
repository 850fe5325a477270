package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReconcileMetrics records outcomes of payment reconciliation runs and
// gateway deposit attempts.
type ReconcileMetrics struct {
	duration        *prometheus.HistogramVec
	outcomes        *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec
	depositAttempts *prometheus.CounterVec
}

// NewReconcileMetrics registers the reconciliation metrics on the provided registerer.
func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	if reg == nil {
		return &ReconcileMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reconcile_duration_seconds",
		Help:    "Duration of payment reconciliation runs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"trigger"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_outcomes",
		Help: "Reconciliation runs by resulting status and settlement state.",
	}, []string{"status", "settlement"})
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events",
		Help: "Webhook notifications by decode result.",
	}, []string{"result"})
	depositAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_deposit_attempts",
		Help: "Gateway deposit attempts by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(duration, outcomes, webhookEvents, depositAttempts)
	return &ReconcileMetrics{
		duration:        duration,
		outcomes:        outcomes,
		webhookEvents:   webhookEvents,
		depositAttempts: depositAttempts,
	}
}

// ObserveDuration records how long a reconciliation run took.
func (m *ReconcileMetrics) ObserveDuration(trigger string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(trigger)).Observe(duration.Seconds())
}

// IncOutcome counts a finished reconciliation by its terminal pair.
func (m *ReconcileMetrics) IncOutcome(status, settlement string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(status), normalizeLabel(settlement)).Inc()
}

// IncWebhookEvent counts a webhook notification by decode result.
func (m *ReconcileMetrics) IncWebhookEvent(result string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncDepositAttempt counts a gateway deposit attempt by outcome.
func (m *ReconcileMetrics) IncDepositAttempt(outcome string) {
	if m == nil || m.depositAttempts == nil {
		return
	}
	m.depositAttempts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
