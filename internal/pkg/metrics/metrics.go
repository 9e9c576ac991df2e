package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Admission and reconciliation counters, exposed on the operator metrics
// endpoint.
var (
	AdmissionDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkwell_admission_decisions_total",
		Help: "Rate limiter decisions by endpoint class and outcome.",
	}, []string{"key_prefix", "outcome"})

	CSRFRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inkwell_csrf_rejections_total",
		Help: "Mutating requests rejected by the CSRF guard.",
	})

	WebhookOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkwell_billing_webhook_outcomes_total",
		Help: "Billing webhook notifications by reconciliation outcome.",
	}, []string{"outcome"})
)

// RecordAdmission tracks one limiter decision.
func RecordAdmission(keyPrefix string, allowed bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	AdmissionDecisions.WithLabelValues(keyPrefix, outcome).Inc()
}
