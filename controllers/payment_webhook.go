package controllers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "reconciliation-service/common/errors"
	"reconciliation-service/models"
)

// maxWebhookBody caps how much of a callback body is read.
const maxWebhookBody = 64 << 10

// StripeEventParser turns a signed Stripe webhook body into a callback.
type StripeEventParser interface {
	ParseWebhook(payload []byte, sigHeader string) (*models.GatewayCallback, bool, error)
}

type PaymentWebhookController struct {
	svc    Reconciler
	stripe StripeEventParser
	logger *zap.Logger
}

func NewPaymentWebhookController(svc Reconciler, stripe StripeEventParser, logger *zap.Logger) *PaymentWebhookController {
	return &PaymentWebhookController{svc: svc, stripe: stripe, logger: logger}
}

// razorpayCallback is the handler response the storefront forwards after
// Razorpay checkout, plus the amount it was asked to collect.
type razorpayCallback struct {
	OrderID       string `json:"razorpay_order_id"`
	PaymentID     string `json:"razorpay_payment_id"`
	Signature     string `json:"razorpay_signature"`
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`

	models.MethodDetails
}

// RazorpayCallback handles POST /payments/razorpay/callback.
func (pc *PaymentWebhookController) RazorpayCallback(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	var req razorpayCallback
	if err := json.Unmarshal(payload, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	if req.OrderID == "" && req.TransactionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "razorpay_order_id is required"})
		return
	}

	cb := models.GatewayCallback{
		Gateway:           models.GatewayRazorpay,
		ProviderOrderID:   req.OrderID,
		ProviderPaymentID: req.PaymentID,
		Signature:         req.Signature,
		Amount:            req.Amount,
		Currency:          req.Currency,
		Details:           req.MethodDetails,
		Payload:           payload,
		Succeeded:         !strings.EqualFold(req.Status, "failed"),
	}
	if req.TransactionID != "" {
		if cb.TransactionID, err = uuid.Parse(req.TransactionID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid transaction ID format"})
			return
		}
	}

	pc.settle(c, cb)
}

// StripeWebhook handles POST /payments/stripe/webhook. Events that do not
// settle a payment intent are acknowledged and ignored.
func (pc *PaymentWebhookController) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	cb, ok, err := pc.stripe.ParseWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		pc.logger.Warn("Rejected Stripe webhook", zap.Error(err))
		apperrors.Respond(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	pc.settle(c, *cb)
}

func (pc *PaymentWebhookController) settle(c *gin.Context, cb models.GatewayCallback) {
	out, err := pc.svc.HandleGatewayCallback(c.Request.Context(), cb)
	if err != nil {
		if !errors.Is(err, apperrors.ErrUnknownTransaction) {
			pc.logger.Warn("Payment callback failed",
				zap.String("gateway", string(cb.Gateway)),
				zap.String("provider_order_id", cb.ProviderOrderID),
				zap.Error(err),
			)
		}
		apperrors.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          out.Transaction.Status,
		"order_status":    out.Order.Status,
		"duplicate":       out.Duplicate,
		"order_unchanged": out.OrderUnchanged,
		"transaction_id":  out.Transaction.ID,
		"order_id":        out.Order.ID,
	})
}
