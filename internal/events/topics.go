package events

// Topic constants for domain events emitted by the payment gateway.
const (
	TopicPaymentSessionCreated = "payment.session_created"
	TopicOrderPaid             = "order.paid"
	TopicPaymentFailed         = "payment.failed"
)

// DefaultTopics returns the topics forwarded to the background worker.
func DefaultTopics() []string {
	return []string{
		TopicOrderPaid,
		TopicPaymentFailed,
	}
}
