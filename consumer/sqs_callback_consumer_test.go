package consumer_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "reconciliation-service/common/errors"
	"reconciliation-service/consumer"
	"reconciliation-service/models"
	"reconciliation-service/services"
)

type mockHandler struct {
	calls  []models.GatewayCallback
	result func(cb models.GatewayCallback) (*services.VerifyOutcome, error)
}

func (m *mockHandler) HandleGatewayCallback(_ context.Context, cb models.GatewayCallback) (*services.VerifyOutcome, error) {
	m.calls = append(m.calls, cb)
	return m.result(cb)
}

func verified(cb models.GatewayCallback) (*services.VerifyOutcome, error) {
	return &services.VerifyOutcome{
		Transaction: &models.PaymentTransaction{ID: uuid.New(), Status: models.TransactionVerified, Gateway: cb.Gateway},
		Order:       &models.Order{ID: uuid.New()},
	}, nil
}

func relay(t *testing.T, msg map[string]interface{}) string {
	t.Helper()
	b, err := json.Marshal(msg)
	require.NoError(t, err)
	return string(b)
}

func TestHandleMessage_DecodesRelayedCallback(t *testing.T) {
	h := &mockHandler{result: verified}
	c := consumer.NewSQSCallbackConsumer(nil, h, nil, zap.NewNop())

	txnID := uuid.New()
	body := relay(t, map[string]interface{}{
		"gateway":             "Razorpay",
		"transaction_id":      txnID.String(),
		"provider_order_id":   "order_abc",
		"provider_payment_id": "pay_abc",
		"signature":           "deadbeef",
		"amount":              59000,
		"currency":            "INR",
		"status":              "captured",
		"method":              "card",
		"card_last4":          "4242",
	})

	require.NoError(t, c.HandleMessage(context.Background(), body))
	require.Len(t, h.calls, 1)

	cb := h.calls[0]
	assert.Equal(t, models.GatewayRazorpay, cb.Gateway)
	assert.Equal(t, txnID, cb.TransactionID)
	assert.Equal(t, "order_abc", cb.ProviderOrderID)
	assert.Equal(t, "pay_abc", cb.ProviderPaymentID)
	assert.Equal(t, int64(59000), cb.Amount)
	assert.Equal(t, "card", cb.Details.Method)
	assert.Equal(t, "4242", cb.Details.CardLast4)
	assert.True(t, cb.Succeeded)
}

func TestHandleMessage_UnwrapsSNSEnvelope(t *testing.T) {
	h := &mockHandler{result: verified}
	c := consumer.NewSQSCallbackConsumer(nil, h, nil, zap.NewNop())

	inner := relay(t, map[string]interface{}{
		"gateway":           "stripe",
		"provider_order_id": "pi_123",
		"status":            "failed",
		"payload":           `{"id":"evt_1"}`,
	})
	body := relay(t, map[string]interface{}{"Type": "Notification", "Message": inner})

	require.NoError(t, c.HandleMessage(context.Background(), body))
	require.Len(t, h.calls, 1)
	assert.Equal(t, models.GatewayStripe, h.calls[0].Gateway)
	assert.False(t, h.calls[0].Succeeded)
	assert.JSONEq(t, `{"id":"evt_1"}`, string(h.calls[0].Payload))
}

func TestHandleMessage_DropsUnusableMessages(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "hello"},
		{"no gateway", `{"provider_order_id":"order_1"}`},
		{"no reference", `{"gateway":"razorpay"}`},
		{"bad transaction id", `{"gateway":"razorpay","transaction_id":"nope"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &mockHandler{result: verified}
			c := consumer.NewSQSCallbackConsumer(nil, h, nil, zap.NewNop())

			assert.NoError(t, c.HandleMessage(context.Background(), tt.body))
			assert.Empty(t, h.calls)
		})
	}
}

func TestHandleMessage_RedeliversOnlyTransientFailures(t *testing.T) {
	body := `{"gateway":"razorpay","provider_order_id":"order_1"}`

	transient := &mockHandler{result: func(models.GatewayCallback) (*services.VerifyOutcome, error) {
		return nil, apperrors.Transient("database unavailable", nil)
	}}
	err := consumer.NewSQSCallbackConsumer(nil, transient, nil, zap.NewNop()).HandleMessage(context.Background(), body)
	assert.ErrorIs(t, err, apperrors.ErrTransient)

	unknown := &mockHandler{result: func(models.GatewayCallback) (*services.VerifyOutcome, error) {
		return nil, apperrors.UnknownTransaction("order_1")
	}}
	err = consumer.NewSQSCallbackConsumer(nil, unknown, nil, zap.NewNop()).HandleMessage(context.Background(), body)
	assert.NoError(t, err)
	assert.Len(t, unknown.calls, 1)
}
