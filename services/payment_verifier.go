package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "reconciliation-service/common/errors"
	"reconciliation-service/lifecycle"
	"reconciliation-service/models"
	"reconciliation-service/providers"
	"reconciliation-service/repository"
)

// VerifyOutcome is the result of reconciling one gateway callback.
type VerifyOutcome struct {
	Transaction *models.PaymentTransaction `json:"transaction"`
	Order       *models.Order              `json:"order"`
	// Duplicate is set when the transaction was already resolved; nothing changed.
	Duplicate bool `json:"duplicate"`
	// OrderUnchanged is set when the transaction was resolved but the order
	// could no longer take the payment outcome, e.g. it was cancelled first.
	OrderUnchanged bool `json:"order_unchanged,omitempty"`
}

// PaymentVerifier reconciles gateway callbacks with the recorded transactions.
type PaymentVerifier struct {
	store    repository.Store
	mutator  *orderMutator
	gateways *providers.Registry
	now      func() time.Time
	logger   *zap.Logger
}

func NewPaymentVerifier(store repository.Store, locker repository.OrderLocker, gateways *providers.Registry, retry RetryPolicy, logger *zap.Logger) *PaymentVerifier {
	return &PaymentVerifier{
		store:    store,
		mutator:  &orderMutator{store: store, locker: locker, retry: retry},
		gateways: gateways,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

// Verify checks cb against its transaction and resolves it exactly once. The
// order's payment transition happens in the same database transaction.
// A tampered or mismatched callback is not an error: it resolves the
// transaction as failed with the reason recorded.
func (v *PaymentVerifier) Verify(ctx context.Context, cb models.GatewayCallback) (*VerifyOutcome, error) {
	txn, err := v.findTransaction(ctx, cb)
	if err != nil {
		return nil, err
	}
	if txn.Status.Terminal() {
		return v.duplicate(ctx, txn.ID)
	}

	resolved := v.resolve(txn, cb)

	var duplicate, orderUnchanged bool
	order, _, err := v.mutator.mutate(ctx, txn.OrderID, func(ctx context.Context, tx repository.Store, o *models.Order) (bool, error) {
		duplicate, orderUnchanged = false, false
		won, err := tx.Payments().Resolve(ctx, resolved)
		if err != nil {
			return false, err
		}
		if !won {
			duplicate = true
			return false, nil
		}

		transition := lifecycle.ConfirmPayment
		if resolved.Status == models.TransactionFailed {
			transition = lifecycle.FailPayment
		}
		changed, err := lifecycle.Apply(o, lifecycle.Command{
			Transition:  transition,
			Actor:       lifecycle.ActorGateway,
			Transaction: resolved,
			At:          v.now(),
		})
		if errors.Is(err, apperrors.ErrInvalidTransition) {
			// the payment outcome is still recorded on the transaction
			orderUnchanged = true
			return false, nil
		}
		return changed, err
	})
	if err != nil {
		return nil, err
	}
	if duplicate {
		return v.duplicate(ctx, txn.ID)
	}

	log := v.logger.With(
		zap.String("order_id", order.ID.String()),
		zap.String("transaction_id", resolved.ID.String()),
		zap.String("gateway", string(resolved.Gateway)),
		zap.String("status", string(resolved.Status)),
	)
	switch {
	case orderUnchanged && resolved.Status == models.TransactionVerified:
		log.Warn("Payment captured for an order that can no longer accept it; refund required",
			zap.String("order_status", string(order.Status)))
	case orderUnchanged:
		log.Warn("Payment failure recorded without changing the order", zap.String("order_status", string(order.Status)))
	case resolved.Status == models.TransactionFailed:
		log.Warn("Payment verification failed", zap.String("reason", resolved.FailureReason))
	default:
		log.Info("Payment verified")
	}

	return &VerifyOutcome{Transaction: resolved, Order: order, OrderUnchanged: orderUnchanged}, nil
}

func (v *PaymentVerifier) findTransaction(ctx context.Context, cb models.GatewayCallback) (*models.PaymentTransaction, error) {
	var txn *models.PaymentTransaction
	err := v.mutator.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		switch {
		case cb.TransactionID != uuid.Nil:
			txn, err = v.store.Payments().FindByID(ctx, cb.TransactionID)
		case cb.ProviderOrderID != "":
			txn, err = v.store.Payments().FindByProviderOrderID(ctx, cb.ProviderOrderID)
		default:
			return apperrors.Validation("callback names no transaction")
		}
		return err
	})
	if errors.Is(err, repository.ErrNotFound) {
		ref := cb.ProviderOrderID
		if cb.TransactionID != uuid.Nil {
			ref = cb.TransactionID.String()
		}
		return nil, apperrors.UnknownTransaction(ref)
	}
	return txn, err
}

// resolve decides the terminal state of txn for cb without touching storage.
func (v *PaymentVerifier) resolve(txn *models.PaymentTransaction, cb models.GatewayCallback) *models.PaymentTransaction {
	out := *txn
	now := v.now()

	if cb.ProviderPaymentID != "" {
		pid := cb.ProviderPaymentID
		out.ProviderPaymentID = &pid
	}
	if cb.Signature != "" {
		sig := cb.Signature
		out.ProviderSignature = &sig
	}
	out.Method = cb.Details.Method
	out.CardLast4 = cb.Details.CardLast4
	out.CardNetwork = cb.Details.CardNetwork
	out.Bank = cb.Details.Bank
	out.Wallet = cb.Details.Wallet
	out.VPA = cb.Details.VPA
	out.RawPayload = rawPayload(cb.Payload)

	reason := v.failureReason(txn, cb)
	if reason == "" {
		out.Status = models.TransactionVerified
		out.VerifiedAt = &now
		out.FailureReason = ""
	} else {
		out.Status = models.TransactionFailed
		out.FailedAt = &now
		out.FailureReason = reason
	}
	return &out
}

func (v *PaymentVerifier) failureReason(txn *models.PaymentTransaction, cb models.GatewayCallback) string {
	if cb.Gateway != txn.Gateway {
		return models.FailureSignatureMismatch
	}
	// the signature must cover the transaction's own provider order
	if cb.ProviderOrderID != "" && cb.ProviderOrderID != txn.ProviderOrderID {
		return models.FailureSignatureMismatch
	}
	cb.ProviderOrderID = txn.ProviderOrderID

	gw, err := v.gateways.Get(txn.Gateway)
	if err != nil || !gw.VerifySignature(cb) {
		return models.FailureSignatureMismatch
	}
	if !cb.Succeeded {
		return models.FailureGatewayDeclined
	}
	if cb.Amount != txn.Amount {
		return models.FailureAmountMismatch
	}
	if !strings.EqualFold(cb.Currency, txn.Currency) {
		return models.FailureCurrencyMismatch
	}
	return ""
}

func (v *PaymentVerifier) duplicate(ctx context.Context, txnID uuid.UUID) (*VerifyOutcome, error) {
	var txn *models.PaymentTransaction
	var order *models.Order
	err := v.mutator.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		if txn, err = v.store.Payments().FindByID(ctx, txnID); err != nil {
			return err
		}
		order, err = v.store.Orders().FindByID(ctx, txn.OrderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &VerifyOutcome{Transaction: txn, Order: order, Duplicate: true}, nil
}

// rawPayload keeps the gateway body for audit. jsonb needs valid JSON, so
// anything else is stored as a JSON string.
func rawPayload(payload []byte) *string {
	if len(payload) == 0 {
		return nil
	}
	if json.Valid(payload) {
		s := string(payload)
		return &s
	}
	b, _ := json.Marshal(string(payload))
	s := string(b)
	return &s
}
