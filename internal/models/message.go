package models

import (
	"time"
)

// OrderCreatedMessage announces an order accepted by the backend
type OrderCreatedMessage struct {
	OrderID   string     `json:"order_id"`
	ClientRef string     `json:"client_ref"`
	OutletID  string     `json:"outlet_id"`
	TableID   *string    `json:"table_id,omitempty"`
	Items     []LineItem `json:"items"`
	Total     float64    `json:"total"`
	CreatedBy string     `json:"created_by"`
	Timestamp time.Time  `json:"timestamp"`
}

// StatusUpdateMessage represents an order status change pushed by the kitchen
type StatusUpdateMessage struct {
	OrderID             string     `json:"order_id"`
	OldStatus           string     `json:"old_status"`
	NewStatus           string     `json:"new_status"`
	ChangedBy           string     `json:"changed_by"`
	Timestamp           time.Time  `json:"timestamp"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
}

// TableStatusMessage represents a table becoming occupied, free or reserved
type TableStatusMessage struct {
	TableID   string    `json:"table_id"`
	Status    string    `json:"status"`
	ChangedBy string    `json:"changed_by"`
	Timestamp time.Time `json:"timestamp"`
}

// LowStockMessage warns that an inventory item is running out
type LowStockMessage struct {
	ItemID    string    `json:"item_id"`
	Name      string    `json:"name"`
	Remaining int       `json:"remaining"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentCompletedMessage reports a settled payment for an order
type PaymentCompletedMessage struct {
	OrderID   string        `json:"order_id"`
	Method    PaymentMethod `json:"method"`
	Amount    float64       `json:"amount"`
	Timestamp time.Time     `json:"timestamp"`
}

// CreateStatusUpdateMessage creates a StatusUpdateMessage for order status changes
func CreateStatusUpdateMessage(orderID, oldStatus, newStatus, changedBy string, estimatedCompletion *time.Time) *StatusUpdateMessage {
	return &StatusUpdateMessage{
		OrderID:             orderID,
		OldStatus:           oldStatus,
		NewStatus:           newStatus,
		ChangedBy:           changedBy,
		Timestamp:           time.Now().UTC(),
		EstimatedCompletion: estimatedCompletion,
	}
}
