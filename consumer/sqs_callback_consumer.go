package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "reconciliation-service/common/errors"
	"reconciliation-service/models"
	aws_pkg "reconciliation-service/pkg/aws"
	"reconciliation-service/services"
)

// CallbackHandler settles a gateway callback.
type CallbackHandler interface {
	HandleGatewayCallback(ctx context.Context, cb models.GatewayCallback) (*services.VerifyOutcome, error)
}

// CallbackMessage is a gateway callback relayed through SNS/SQS by the edge
// webhook receiver. Payload carries the body the gateway signed, verbatim.
type CallbackMessage struct {
	Gateway           models.Gateway `json:"gateway"`
	TransactionID     string         `json:"transaction_id,omitempty"`
	ProviderOrderID   string         `json:"provider_order_id"`
	ProviderPaymentID string         `json:"provider_payment_id"`
	Signature         string         `json:"signature"`
	Amount            int64          `json:"amount"`
	Currency          string         `json:"currency"`
	Status            string         `json:"status"`
	Payload           string         `json:"payload,omitempty"`

	models.MethodDetails
}

// Callback converts the relay message into the normalized callback form.
func (m CallbackMessage) Callback() (models.GatewayCallback, error) {
	cb := models.GatewayCallback{
		Gateway:           models.Gateway(strings.ToLower(string(m.Gateway))),
		ProviderOrderID:   m.ProviderOrderID,
		ProviderPaymentID: m.ProviderPaymentID,
		Signature:         m.Signature,
		Amount:            m.Amount,
		Currency:          m.Currency,
		Details:           m.MethodDetails,
		Payload:           []byte(m.Payload),
		Succeeded:         !strings.EqualFold(m.Status, "failed"),
	}
	if m.TransactionID != "" {
		id, err := uuid.Parse(m.TransactionID)
		if err != nil {
			return cb, errors.New("invalid transaction_id")
		}
		cb.TransactionID = id
	}
	if cb.Gateway == "" {
		return cb, errors.New("gateway is required")
	}
	if cb.ProviderOrderID == "" && cb.TransactionID == uuid.Nil {
		return cb, errors.New("provider_order_id or transaction_id is required")
	}
	return cb, nil
}

// SQSCallbackConsumer feeds relayed gateway callbacks into the same path as
// the HTTP callback endpoints.
type SQSCallbackConsumer struct {
	sqsConsumer *aws_pkg.SQSConsumer
	handler     CallbackHandler
	metrics     *aws_pkg.MetricsClient
	logger      *zap.Logger
}

func NewSQSCallbackConsumer(sqsConsumer *aws_pkg.SQSConsumer, handler CallbackHandler, metrics *aws_pkg.MetricsClient, logger *zap.Logger) *SQSCallbackConsumer {
	return &SQSCallbackConsumer{
		sqsConsumer: sqsConsumer,
		handler:     handler,
		metrics:     metrics,
		logger:      logger,
	}
}

// Start blocks polling the queue until ctx is cancelled.
func (c *SQSCallbackConsumer) Start(ctx context.Context) {
	c.logger.Info("Starting payment callback queue consumer")

	err := c.sqsConsumer.StartPolling(ctx, c.HandleMessage)
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Error("Payment callback polling stopped", zap.Error(err))
	}
}

// HandleMessage processes one message body. Only transient failures are
// returned, so the message is redelivered; anything else is logged and dropped.
func (c *SQSCallbackConsumer) HandleMessage(ctx context.Context, body string) error {
	outcome, err := c.handle(ctx, aws_pkg.UnwrapSNSEnvelope(body))
	c.metrics.RecordCount(ctx, aws_pkg.MetricSQSMessages, map[string]string{
		"Queue":   "payment-callbacks",
		"Outcome": outcome,
	})
	return err
}

// Message outcomes reported as a metric dimension.
const (
	outcomeProcessed = "processed"
	outcomeDuplicate = "duplicate"
	outcomeDropped   = "dropped"
	outcomeRetry     = "retry"
)

func (c *SQSCallbackConsumer) handle(ctx context.Context, body string) (string, error) {
	var msg CallbackMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		c.logger.Warn("Dropping malformed payment callback", zap.Error(err))
		return outcomeDropped, nil
	}
	cb, err := msg.Callback()
	if err != nil {
		c.logger.Warn("Dropping incomplete payment callback",
			zap.String("provider_order_id", msg.ProviderOrderID),
			zap.Error(err),
		)
		return outcomeDropped, nil
	}

	out, err := c.handler.HandleGatewayCallback(ctx, cb)
	if err != nil {
		if errors.Is(err, apperrors.ErrTransient) {
			return outcomeRetry, err
		}
		c.logger.Warn("Payment callback rejected",
			zap.String("gateway", string(cb.Gateway)),
			zap.String("provider_order_id", cb.ProviderOrderID),
			zap.Error(err),
		)
		return outcomeDropped, nil
	}

	c.logger.Info("Payment callback processed",
		zap.String("transaction_id", out.Transaction.ID.String()),
		zap.String("status", string(out.Transaction.Status)),
		zap.Bool("duplicate", out.Duplicate),
	)
	if out.Duplicate {
		return outcomeDuplicate, nil
	}
	return outcomeProcessed, nil
}
