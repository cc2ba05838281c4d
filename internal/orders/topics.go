package orders

const (
	TopicOrderPlaced    = "order.placed"
	TopicOrderStatus    = "order.status.changed"
	TopicOrderCancelled = "order.cancelled"
	TopicStockReleased  = "stock.released"
)

// Partition key = order_id so every event of one order keeps its ordering.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
