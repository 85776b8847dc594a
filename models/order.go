package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus is the fulfillment axis of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// PaymentStatus is the payment axis of an order, independent of OrderStatus.
type PaymentStatus string

const (
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	PaymentStatusPaid   PaymentStatus = "paid"
	PaymentStatusFailed PaymentStatus = "failed"
)

// PaymentMethod selects how the customer pays.
type PaymentMethod string

const (
	PaymentMethodOnlineGateway  PaymentMethod = "online_gateway"
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodOnlineGateway || m == PaymentMethodCashOnDelivery
}

// Address is the shipping destination snapshot stored with the order.
type Address struct {
	Name       string `json:"name" validate:"required"`
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code" validate:"required"`
	Country    string `json:"country" validate:"required,len=2"`
	Phone      string `json:"phone,omitempty"`
}

// Order is a priced purchase. Status fields change only through the
// lifecycle package; the row is never deleted.
type Order struct {
	ID         uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	CustomerID uuid.UUID `gorm:"type:uuid;not null;index" json:"customer_id"`

	Items []OrderItem `gorm:"foreignKey:OrderID" json:"items"`

	ItemsPrice     int64  `gorm:"not null" json:"items_price"`
	ShippingPrice  int64  `gorm:"not null" json:"shipping_price"`
	TaxPrice       int64  `gorm:"not null" json:"tax_price"`
	TotalAmount    int64  `gorm:"not null" json:"total_amount"`
	DiscountAmount int64  `gorm:"not null;default:0" json:"discount_amount"`
	Currency       string `gorm:"type:varchar(3);not null" json:"currency"`
	CouponCode     string `gorm:"type:varchar(64)" json:"coupon_code,omitempty"`

	Status        OrderStatus   `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	PaymentMethod PaymentMethod `gorm:"type:varchar(20);not null" json:"payment_method"`
	PaymentStatus PaymentStatus `gorm:"type:varchar(20);not null;default:'unpaid'" json:"payment_status"`

	ReturnRequested      bool   `gorm:"not null;default:false" json:"return_requested"`
	ReturnReason         string `gorm:"type:text" json:"return_reason,omitempty"`
	ReturnDecisionNote   string `gorm:"type:text" json:"return_decision_note,omitempty"`
	ExchangeRequested    bool   `gorm:"not null;default:false" json:"exchange_requested"`
	ExchangeReason       string `gorm:"type:text" json:"exchange_reason,omitempty"`
	ExchangeDecisionNote string `gorm:"type:text" json:"exchange_decision_note,omitempty"`
	CancelReason         string `gorm:"type:text" json:"cancel_reason,omitempty"`

	InvoiceURL    string `gorm:"type:varchar(1024);not null;default:''" json:"invoice_url,omitempty"`
	InvoiceNumber string `gorm:"type:varchar(64)" json:"invoice_number,omitempty"`

	ShippingAddress      Address   `gorm:"type:jsonb;serializer:json" json:"shipping_address"`
	ExpectedDeliveryDate time.Time `json:"expected_delivery_date"`

	// Version is the optimistic-concurrency token, bumped on every write.
	Version int64 `gorm:"not null;default:1" json:"version"`

	PaidAt      *time.Time `json:"paid_at,omitempty"`
	ShippedAt   *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// OrderItem is the immutable price snapshot of one cart line.
type OrderItem struct {
	ID             uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID        uuid.UUID  `gorm:"type:uuid;not null;index" json:"order_id"`
	ProductID      uuid.UUID  `gorm:"type:uuid;not null" json:"product_id"`
	Name           string     `gorm:"type:varchar(255)" json:"name"`
	Quantity       int        `gorm:"not null" json:"quantity"`
	ListPrice      int64      `gorm:"not null" json:"list_price"`
	UnitPrice      int64      `gorm:"not null" json:"unit_price"`
	CouponDiscount int64      `gorm:"not null;default:0" json:"coupon_discount"`
	LineTotal      int64      `gorm:"not null" json:"line_total"`
	SaleID         *uuid.UUID `gorm:"type:uuid" json:"sale_id,omitempty"`
}

// Clone returns a deep copy so a transition can be attempted without
// touching the caller's value.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Items = append([]OrderItem(nil), o.Items...)
	for _, p := range []**time.Time{&cp.PaidAt, &cp.ShippedAt, &cp.DeliveredAt, &cp.CancelledAt} {
		if *p != nil {
			t := **p
			*p = &t
		}
	}
	return &cp
}
