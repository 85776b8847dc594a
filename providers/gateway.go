// Package providers talks to the payment gateways: it opens a payment intent
// for an order and checks that a callback really came from the gateway.
package providers

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	apperrors "reconciliation-service/common/errors"
	"reconciliation-service/models"
)

// Intent is what the storefront needs to collect a payment.
type Intent struct {
	Gateway         models.Gateway `json:"gateway"`
	ProviderOrderID string         `json:"provider_order_id"`
	Amount          int64          `json:"amount"`
	Currency        string         `json:"currency"`
	// ClientSecret is set by Stripe, KeyID by Razorpay.
	ClientSecret string `json:"client_secret,omitempty"`
	KeyID        string `json:"key_id,omitempty"`
}

// Gateway is one payment provider.
type Gateway interface {
	Name() models.Gateway
	CreateIntent(ctx context.Context, orderID uuid.UUID, amount int64, currency string) (*Intent, error)
	// VerifySignature reports whether cb carries a valid provider signature.
	VerifySignature(cb models.GatewayCallback) bool
}

// Registry resolves gateways by name.
type Registry struct {
	gateways map[models.Gateway]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[models.Gateway]Gateway, len(gateways))}
	for _, g := range gateways {
		r.gateways[g.Name()] = g
	}
	return r
}

func (r *Registry) Get(name models.Gateway) (Gateway, error) {
	g, ok := r.gateways[name]
	if !ok {
		return nil, apperrors.Validation(fmt.Sprintf("unsupported payment gateway %q", name))
	}
	return g, nil
}
