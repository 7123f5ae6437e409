package domain

import "time"

const (
	EventOrderCreated     = "OrderCreated"
	EventOrderCompleted   = "OrderCompleted"
	EventOrderCancelled   = "OrderCancelled"
	EventPaymentReceived  = "PaymentReceived"
	EventPaymentCancelled = "PaymentCancelled"
	EventStockAdjustment  = "StockAdjustment"
	EventPurchaseRecorded = "PurchaseRecorded"
	EventShiftOpened      = "ShiftOpened"
	EventShiftClosed      = "ShiftClosed"
	EventRefundCompleted  = "RefundCompleted"
)

// Event is a fire-and-forget notification published after a unit of work commits.
// Consumers must tolerate at-least-once delivery.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	StoreID    string            `json:"store_id"`
	EntityID   string            `json:"entity_id"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}
