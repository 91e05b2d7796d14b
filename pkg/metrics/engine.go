package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Matching outcomes.
const (
	MatchOutcomeMatched   = "matched"
	MatchOutcomeUnmatched = "unmatched"
	MatchOutcomeSkipped   = "skipped"
	MatchOutcomeError     = "error"
)

// Payment transitions.
const (
	PaymentCreated     = "created"
	PaymentSucceeded   = "succeeded"
	PaymentFailed      = "failed"
	PaymentCanceled    = "canceled"
	PaymentConflict    = "conflict"
	PaymentGatewayFail = "gateway_error"
	// PaymentCollectedAfterRelease counts charges that landed on a payment
	// already marked failed.
	PaymentCollectedAfterRelease = "collected_after_release"
)

// MatchingMetrics counts invoice matching outcomes.
type MatchingMetrics struct {
	outcomes *prometheus.CounterVec
}

// NewMatchingMetrics registers the matching counters on reg. A nil registerer
// yields a no-op recorder.
func NewMatchingMetrics(reg prometheus.Registerer) *MatchingMetrics {
	if reg == nil {
		return &MatchingMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "matching",
		Name:      "outcomes_total",
		Help:      "Invoice matching attempts by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(outcomes)
	return &MatchingMetrics{outcomes: outcomes}
}

// Observe records a matching outcome.
func (m *MatchingMetrics) Observe(outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// PaymentMetrics counts payment lifecycle transitions.
type PaymentMetrics struct {
	transitions *prometheus.CounterVec
	invoices    *prometheus.CounterVec
}

// NewPaymentMetrics registers the payment counters on reg.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payments",
		Name:      "transitions_total",
		Help:      "Payment lifecycle transitions.",
	}, []string{"transition"})
	invoices := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payments",
		Name:      "invoices_total",
		Help:      "Invoices moved by payment transitions.",
	}, []string{"transition"})
	reg.MustRegister(transitions, invoices)
	return &PaymentMetrics{transitions: transitions, invoices: invoices}
}

// Observe records one transition touching invoiceCount invoices.
func (m *PaymentMetrics) Observe(transition string, invoiceCount int) {
	if m == nil || m.transitions == nil {
		return
	}
	label := normalizeLabel(transition)
	m.transitions.WithLabelValues(label).Inc()
	if invoiceCount > 0 {
		m.invoices.WithLabelValues(label).Add(float64(invoiceCount))
	}
}
