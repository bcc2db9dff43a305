package orders

const (
	TopicOrderCreated    = "order.created"
	TopicOrderCancelled  = "order.cancelled"
	TopicStatusChanged   = "order.status.changed"
	TopicRefundRequested = "order.refund.requested"
	TopicPartialFailure  = "order.partial_failure"
)

// Partition key = order_id so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
