package domain

// Event types published on the payment-events topic. All events for one
// payment share the payment id as partition key, so a single downstream
// consumer observes them in send order.
const (
	EventPaymentSuccessful = "payment.successful"
	EventPaymentFailed     = "payment.failed"
	EventPaymentRefunded   = "payment.refunded"
)
