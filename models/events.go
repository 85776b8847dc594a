package models

import "time"

// Event types published on the order topic.
const (
	EventOrderCreated       = "order_created"
	EventPaymentVerified    = "payment_verified"
	EventPaymentFailed      = "payment_failed"
	EventOrderStatusChanged = "order_status_changed"
	EventInvoiceGenerated   = "invoice_generated"
)

// OrderEvent is the envelope for every order-domain event.
type OrderEvent struct {
	EventType     string        `json:"event_type"`
	OrderID       string        `json:"order_id"`
	CustomerID    string        `json:"customer_id"`
	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	TotalAmount   int64         `json:"total_amount"`
	Currency      string        `json:"currency"`
	Transition    string        `json:"transition,omitempty"`
	TransactionID string        `json:"transaction_id,omitempty"`
	InvoiceURL    string        `json:"invoice_url,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

// NewOrderEvent snapshots o into an event of the given type.
func NewOrderEvent(eventType string, o *Order, at time.Time) OrderEvent {
	return OrderEvent{
		EventType:     eventType,
		OrderID:       o.ID.String(),
		CustomerID:    o.CustomerID.String(),
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		TotalAmount:   o.TotalAmount,
		Currency:      o.Currency,
		InvoiceURL:    o.InvoiceURL,
		Timestamp:     at.UTC(),
	}
}
