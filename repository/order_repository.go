package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"reconciliation-service/models"
)

// OrderFilter narrows an order listing. Zero values mean no filter.
type OrderFilter struct {
	CustomerID uuid.UUID
	Status     models.OrderStatus
	Page       int
	Limit      int
}

// OrderRepository defines data-access operations for orders and their items.
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	List(ctx context.Context, filter OrderFilter) ([]models.Order, int64, error)
	// UpdateGuarded writes the lifecycle fields of order only if the stored
	// version still equals order.Version, then bumps order.Version.
	UpdateGuarded(ctx context.Context, order *models.Order) error
	// SetInvoiceURL records the invoice only if none is recorded yet and
	// reports whether this call won.
	SetInvoiceURL(ctx context.Context, id uuid.UUID, number, url string) (bool, error)
}

// GormOrderRepository implements OrderRepository using GORM.
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository creates a new GormOrderRepository.
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) Create(ctx context.Context, order *models.Order) error {
	if order.Version == 0 {
		order.Version = 1
	}
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return fmt.Errorf("create order: %w", normalize(err))
	}
	return nil
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var o models.Order
	if err := r.db.WithContext(ctx).Preload("Items").First(&o, "id = ?", id).Error; err != nil {
		return nil, normalize(err)
	}
	return &o, nil
}

func (r *GormOrderRepository) List(ctx context.Context, filter OrderFilter) ([]models.Order, int64, error) {
	page, limit := filter.Page, filter.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	query := r.db.WithContext(ctx).Model(&models.Order{})
	if filter.CustomerID != uuid.Nil {
		query = query.Where("customer_id = ?", filter.CustomerID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	var orders []models.Order
	if err := query.
		Preload("Items").
		Order("created_at DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&orders).Error; err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	return orders, total, nil
}

func (r *GormOrderRepository) UpdateGuarded(ctx context.Context, order *models.Order) error {
	next := order.Version + 1
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND version = ?", order.ID, order.Version).
		Updates(map[string]interface{}{
			"status":                 order.Status,
			"payment_status":         order.PaymentStatus,
			"return_requested":       order.ReturnRequested,
			"return_reason":          order.ReturnReason,
			"return_decision_note":   order.ReturnDecisionNote,
			"exchange_requested":     order.ExchangeRequested,
			"exchange_reason":        order.ExchangeReason,
			"exchange_decision_note": order.ExchangeDecisionNote,
			"cancel_reason":          order.CancelReason,
			"expected_delivery_date": order.ExpectedDeliveryDate,
			"paid_at":                order.PaidAt,
			"shipped_at":             order.ShippedAt,
			"delivered_at":           order.DeliveredAt,
			"cancelled_at":           order.CancelledAt,
			"version":                next,
			"updated_at":             time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("update order %s: %w", order.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	order.Version = next
	return nil
}

func (r *GormOrderRepository) SetInvoiceURL(ctx context.Context, id uuid.UUID, number, url string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND invoice_url = ?", id, "").
		Updates(map[string]interface{}{
			"invoice_url":    url,
			"invoice_number": number,
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("set invoice url for %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}
