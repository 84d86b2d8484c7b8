package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentSessionTotal counts payment session creation attempts by outcome.
	PaymentSessionTotal *prometheus.CounterVec
	// PaymentVerifyTotal counts processor verification calls by reported status.
	PaymentVerifyTotal *prometheus.CounterVec
	// PaymentWebhookTotal counts inbound processor notifications by outcome.
	PaymentWebhookTotal *prometheus.CounterVec
	// ProcessorLatency records outbound processor call latency in milliseconds.
	ProcessorLatency *prometheus.HistogramVec
	// OrderTransitionsTotal counts order status changes applied by the gateway.
	OrderTransitionsTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers payment Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentSessionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_session_total",
			Help:      "Count of payment session creation outcomes.",
		}, []string{"provider", "result"})
		PaymentVerifyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_verify_total",
			Help:      "Count of payment verification calls by reported status.",
		}, []string{"provider", "status"})
		PaymentWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed payment webhooks by outcome.",
		}, []string{"provider", "result"})
		ProcessorLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payment_processor_request_duration_ms",
			Help:      "Latency of outbound payment processor calls in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 15000, 45000},
		}, []string{"provider", "operation"})
		OrderTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_status_transitions_total",
			Help:      "Count of order status transitions applied by payment flows.",
		}, []string{"to"})

		mustRegisterCollector(reg, PaymentSessionTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentSessionTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentVerifyTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentVerifyTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentWebhookTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentWebhookTotal = v
			}
		})
		mustRegisterCollector(reg, ProcessorLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				ProcessorLatency = v
			}
		})
		mustRegisterCollector(reg, OrderTransitionsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				OrderTransitionsTotal = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
