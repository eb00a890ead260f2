package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentOperationTotal counts orchestrator operations by outcome.
	PaymentOperationTotal *prometheus.CounterVec
	// PaymentOperationLatency records orchestrator operation latency in milliseconds.
	PaymentOperationLatency *prometheus.HistogramVec
	// PaymentWebhookTotal counts inbound payment webhook processing outcomes.
	PaymentWebhookTotal *prometheus.CounterVec
	// PaymentTransitionTotal counts committed status transitions.
	PaymentTransitionTotal *prometheus.CounterVec
	// PaymentMisroutedTotal counts gateway callbacks whose echoed order id did not match.
	PaymentMisroutedTotal *prometheus.CounterVec
	// PaymentReconcileTotal counts reconciliation task outcomes.
	PaymentReconcileTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentOperationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_operation_total",
			Help:      "Count of payment operations by provider, operation and result.",
		}, []string{"provider", "operation", "result"})
		PaymentOperationLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payment_operation_duration_ms",
			Help:      "Latency of payment operations in milliseconds, gateway round-trips included.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"provider", "operation"})
		PaymentWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed payment webhooks by outcome.",
		}, []string{"provider", "result"})
		PaymentTransitionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_transition_total",
			Help:      "Count of committed payment status transitions.",
		}, []string{"provider", "from", "to"})
		PaymentMisroutedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_misrouted_total",
			Help:      "Gateway callbacks ignored because the echoed order id did not match.",
		}, []string{"provider", "operation"})
		PaymentReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_reconcile_total",
			Help:      "Count of reconciliation queries by outcome.",
		}, []string{"provider", "result"})

		PaymentOperationTotal = reuseOrRegister(reg, PaymentOperationTotal)
		PaymentOperationLatency = reuseOrRegister(reg, PaymentOperationLatency)
		PaymentWebhookTotal = reuseOrRegister(reg, PaymentWebhookTotal)
		PaymentTransitionTotal = reuseOrRegister(reg, PaymentTransitionTotal)
		PaymentMisroutedTotal = reuseOrRegister(reg, PaymentMisroutedTotal)
		PaymentReconcileTotal = reuseOrRegister(reg, PaymentReconcileTotal)
	})
}

