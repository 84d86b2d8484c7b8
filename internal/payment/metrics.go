package payment

import (
	"time"

	"github.com/noah-isme/toko-tzsmmpay/internal/obs"
)

// ProviderName labels telemetry emitted by this gateway.
const ProviderName = "tzsmmpay"

func observeLatency(operation string, started time.Time) {
	if obs.ProcessorLatency != nil {
		obs.ProcessorLatency.WithLabelValues(ProviderName, operation).Observe(obs.DurationMillis(time.Since(started)))
	}
}

func countSession(result string) {
	if obs.PaymentSessionTotal != nil {
		obs.PaymentSessionTotal.WithLabelValues(ProviderName, result).Inc()
	}
}

func countVerify(status string) {
	if obs.PaymentVerifyTotal != nil {
		obs.PaymentVerifyTotal.WithLabelValues(ProviderName, status).Inc()
	}
}

func countWebhook(result string) {
	if obs.PaymentWebhookTotal != nil {
		obs.PaymentWebhookTotal.WithLabelValues(ProviderName, result).Inc()
	}
}

func countTransition(to string) {
	if obs.OrderTransitionsTotal != nil {
		obs.OrderTransitionsTotal.WithLabelValues(to).Inc()
	}
}
