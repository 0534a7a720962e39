package events

// Topic constants for domain events emitted by the commerce core.
const (
	TopicOrderCreated      = "order.created"
	TopicOrderConfirmed    = "order.confirmed"
	TopicOrderCanceled     = "order.canceled"
	TopicPaymentSucceeded  = "payment.succeeded"
	TopicPaymentFailed     = "payment.failed"
	TopicPaymentExpired    = "payment.expired"
	TopicRefundIssued      = "refund.issued"
	TopicInventoryLowStock = "inventory.low_stock"
)

// DefaultTopics returns the canonical list of topics that support notifications.
func DefaultTopics() []string {
	return []string{
		TopicOrderCreated,
		TopicOrderConfirmed,
		TopicOrderCanceled,
		TopicPaymentSucceeded,
		TopicPaymentFailed,
		TopicPaymentExpired,
		TopicRefundIssued,
		TopicInventoryLowStock,
	}
}
