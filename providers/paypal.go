package providers

import (
	"context"

	"github.com/google/uuid"

	apperrors "reconciliation-service/common/errors"
	"reconciliation-service/models"
)

// PayPalClient is registered so the gateway name resolves, but PayPal
// checkout is not live: intents are refused and no callback verifies.
type PayPalClient struct{}

func NewPayPalClient() *PayPalClient { return &PayPalClient{} }

func (PayPalClient) Name() models.Gateway { return models.GatewayPayPal }

func (PayPalClient) CreateIntent(ctx context.Context, orderID uuid.UUID, amount int64, currency string) (*Intent, error) {
	return nil, apperrors.Validation("paypal checkout is not available")
}

func (PayPalClient) VerifySignature(models.GatewayCallback) bool { return false }
