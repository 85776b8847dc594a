package models

import (
	"time"

	"github.com/google/uuid"
)

// Gateway names a payment provider.
type Gateway string

const (
	GatewayRazorpay Gateway = "razorpay"
	GatewayStripe   Gateway = "stripe"
	GatewayPayPal   Gateway = "paypal"
)

// TransactionStatus is the state of a payment transaction. Both verified
// and failed are terminal.
type TransactionStatus string

const (
	TransactionCreated  TransactionStatus = "created"
	TransactionVerified TransactionStatus = "verified"
	TransactionFailed   TransactionStatus = "failed"
)

func (s TransactionStatus) Terminal() bool {
	return s == TransactionVerified || s == TransactionFailed
}

// Failure reasons recorded on a failed transaction.
const (
	FailureSignatureMismatch = "signature_mismatch"
	FailureAmountMismatch    = "amount_mismatch"
	FailureCurrencyMismatch  = "currency_mismatch"
	FailureGatewayDeclined   = "gateway_declined"
)

// PaymentTransaction records one attempt to pay an order through a gateway.
type PaymentTransaction struct {
	ID         uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID    uuid.UUID         `gorm:"type:uuid;not null;index" json:"order_id"`
	CustomerID uuid.UUID         `gorm:"type:uuid;not null;index" json:"customer_id"`
	Gateway    Gateway           `gorm:"type:varchar(20);not null" json:"gateway"`
	Status     TransactionStatus `gorm:"type:varchar(20);not null;default:'created'" json:"status"`
	Amount     int64             `gorm:"not null" json:"amount"` // in paise/cents
	Currency   string            `gorm:"type:varchar(3);not null" json:"currency"`

	ProviderOrderID   string  `gorm:"type:varchar(255);uniqueIndex;not null" json:"provider_order_id"`
	ProviderPaymentID *string `gorm:"type:varchar(255)" json:"provider_payment_id,omitempty"`
	ProviderSignature *string `gorm:"type:varchar(512)" json:"-"`

	Method      string `gorm:"type:varchar(32)" json:"method,omitempty"`
	CardLast4   string `gorm:"type:varchar(4)" json:"card_last4,omitempty"`
	CardNetwork string `gorm:"type:varchar(32)" json:"card_network,omitempty"`
	Bank        string `gorm:"type:varchar(64)" json:"bank,omitempty"`
	Wallet      string `gorm:"type:varchar(64)" json:"wallet,omitempty"`
	VPA         string `gorm:"type:varchar(128)" json:"vpa,omitempty"`

	RawPayload    *string    `gorm:"type:jsonb" json:"-"`
	FailureReason string     `gorm:"type:varchar(64)" json:"failure_reason,omitempty"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty"`
	FailedAt      *time.Time `json:"failed_at,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// MethodDetails is the optional payer instrument metadata a gateway reports.
type MethodDetails struct {
	Method      string `json:"method,omitempty"`
	CardLast4   string `json:"card_last4,omitempty"`
	CardNetwork string `json:"card_network,omitempty"`
	Bank        string `json:"bank,omitempty"`
	Wallet      string `json:"wallet,omitempty"`
	VPA         string `json:"vpa,omitempty"`
}

// GatewayCallback is a gateway's report on a transaction, normalized across
// providers. It is never persisted as-is.
type GatewayCallback struct {
	Gateway           Gateway
	TransactionID     uuid.UUID // optional, echoed back by the storefront
	ProviderOrderID   string
	ProviderPaymentID string
	Signature         string
	Amount            int64
	Currency          string
	Details           MethodDetails
	// Payload is the exact body the gateway signed or sent.
	Payload []byte
	// Succeeded is false when the gateway itself reports the payment failed.
	Succeeded bool
}
