package providers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/paymentintent"
	"github.com/stripe/stripe-go/v80/webhook"

	apperrors "reconciliation-service/common/errors"
	"reconciliation-service/models"
)

// Stripe event types that settle a payment intent.
const (
	StripeEventSucceeded = "payment_intent.succeeded"
	StripeEventFailed    = "payment_intent.payment_failed"
)

type StripeClient struct {
	webhookSecret string
}

func NewStripeClient(secretKey, webhookSecret string) *StripeClient {
	stripe.Key = secretKey
	return &StripeClient{webhookSecret: webhookSecret}
}

func (s *StripeClient) Name() models.Gateway { return models.GatewayStripe }

func (s *StripeClient) CreateIntent(ctx context.Context, orderID uuid.UUID, amount int64, currency string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(strings.ToLower(currency)),
	}
	params.Context = ctx
	params.AddMetadata("order_id", orderID.String())
	params.SetIdempotencyKey("order-" + orderID.String())

	pi, err := paymentintent.New(params)
	if err != nil {
		if se, ok := err.(*stripe.Error); ok && (se.HTTPStatusCode >= 500 || se.HTTPStatusCode == 429) {
			return nil, apperrors.Transient("stripe unavailable", err)
		}
		return nil, err
	}
	return &Intent{
		Gateway:         models.GatewayStripe,
		ProviderOrderID: pi.ID,
		Amount:          pi.Amount,
		Currency:        strings.ToUpper(string(pi.Currency)),
		ClientSecret:    pi.ClientSecret,
	}, nil
}

// VerifySignature checks the Stripe-Signature header against the raw body.
func (s *StripeClient) VerifySignature(cb models.GatewayCallback) bool {
	if s.webhookSecret == "" || cb.Signature == "" {
		return false
	}
	return webhook.ValidatePayload(cb.Payload, cb.Signature, s.webhookSecret) == nil
}

// ParseWebhook turns a Stripe event into a callback. It reports ok=false for
// event types that do not settle a payment. The signature is not checked here.
func (s *StripeClient) ParseWebhook(payload []byte, sigHeader string) (cb *models.GatewayCallback, ok bool, err error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, false, apperrors.Validation("malformed stripe event")
	}
	eventType := string(event.Type)
	if eventType != StripeEventSucceeded && eventType != StripeEventFailed {
		return nil, false, nil
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, false, apperrors.Validation("stripe event has no data")
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil || pi.ID == "" {
		return nil, false, apperrors.Validation("stripe event carries no payment intent")
	}

	paymentID := pi.ID
	if pi.LatestCharge != nil && pi.LatestCharge.ID != "" {
		paymentID = pi.LatestCharge.ID
	}
	var method string
	if len(pi.PaymentMethodTypes) > 0 {
		method = pi.PaymentMethodTypes[0]
	}

	return &models.GatewayCallback{
		Gateway:           models.GatewayStripe,
		ProviderOrderID:   pi.ID,
		ProviderPaymentID: paymentID,
		Signature:         sigHeader,
		Amount:            pi.Amount,
		Currency:          strings.ToUpper(string(pi.Currency)),
		Details:           models.MethodDetails{Method: method},
		Payload:           payload,
		Succeeded:         eventType == StripeEventSucceeded,
	}, true, nil
}
