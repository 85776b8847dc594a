package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"reconciliation-service/models"
)

// PaymentRepository stores payment transactions.
type PaymentRepository interface {
	Create(ctx context.Context, txn *models.PaymentTransaction) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error)
	FindByProviderOrderID(ctx context.Context, providerOrderID string) (*models.PaymentTransaction, error)
	ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.PaymentTransaction, error)
	// Resolve moves a created transaction to its terminal state. It reports
	// false when another caller resolved it first.
	Resolve(ctx context.Context, txn *models.PaymentTransaction) (bool, error)
}

type gormPaymentRepo struct {
	db *gorm.DB
}

func NewGormPaymentRepository(db *gorm.DB) PaymentRepository {
	return &gormPaymentRepo{db: db}
}

func (r *gormPaymentRepo) Create(ctx context.Context, txn *models.PaymentTransaction) error {
	if err := r.db.WithContext(ctx).Create(txn).Error; err != nil {
		return fmt.Errorf("create payment transaction: %w", normalize(err))
	}
	return nil
}

func (r *gormPaymentRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	var t models.PaymentTransaction
	if err := r.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, normalize(err)
	}
	return &t, nil
}

func (r *gormPaymentRepo) FindByProviderOrderID(ctx context.Context, providerOrderID string) (*models.PaymentTransaction, error) {
	var t models.PaymentTransaction
	if err := r.db.WithContext(ctx).
		Where("provider_order_id = ?", providerOrderID).
		First(&t).Error; err != nil {
		return nil, normalize(err)
	}
	return &t, nil
}

func (r *gormPaymentRepo) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.PaymentTransaction, error) {
	var txns []models.PaymentTransaction
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&txns).Error; err != nil {
		return nil, fmt.Errorf("list payment transactions: %w", err)
	}
	return txns, nil
}

func (r *gormPaymentRepo) Resolve(ctx context.Context, txn *models.PaymentTransaction) (bool, error) {
	if !txn.Status.Terminal() {
		return false, fmt.Errorf("resolve payment transaction %s: status %q is not terminal", txn.ID, txn.Status)
	}
	res := r.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("id = ? AND status = ?", txn.ID, models.TransactionCreated).
		Updates(map[string]interface{}{
			"status":              txn.Status,
			"provider_payment_id": txn.ProviderPaymentID,
			"provider_signature":  txn.ProviderSignature,
			"method":              txn.Method,
			"card_last4":          txn.CardLast4,
			"card_network":        txn.CardNetwork,
			"bank":                txn.Bank,
			"wallet":              txn.Wallet,
			"vpa":                 txn.VPA,
			"raw_payload":         txn.RawPayload,
			"failure_reason":      txn.FailureReason,
			"verified_at":         txn.VerifiedAt,
			"failed_at":           txn.FailedAt,
			"updated_at":          time.Now().UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("resolve payment transaction %s: %w", txn.ID, res.Error)
	}
	return res.RowsAffected == 1, nil
}
