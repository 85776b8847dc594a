package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "reconciliation-service/common/errors"
	"reconciliation-service/invoice"
	"reconciliation-service/models"
	aws_pkg "reconciliation-service/pkg/aws"
	"reconciliation-service/repository"
)

// InvoiceService produces at most one invoice document per order.
type InvoiceService struct {
	store     repository.Store
	locker    repository.OrderLocker
	objects   aws_pkg.ObjectStore
	seller    invoice.Seller
	retry     RetryPolicy
	publisher EventPublisher
	metrics   *aws_pkg.MetricsClient
	now       func() time.Time
	logger    *zap.Logger
}

func NewInvoiceService(
	store repository.Store,
	locker repository.OrderLocker,
	objects aws_pkg.ObjectStore,
	seller invoice.Seller,
	retry RetryPolicy,
	publisher EventPublisher,
	metrics *aws_pkg.MetricsClient,
	logger *zap.Logger,
) *InvoiceService {
	return &InvoiceService{
		store:     store,
		locker:    locker,
		objects:   objects,
		seller:    seller,
		retry:     retry,
		publisher: publisher,
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

func invoiceEligible(s models.OrderStatus) bool {
	return s == models.OrderStatusProcessing || s == models.OrderStatusShipped || s == models.OrderStatusDelivered
}

// Generate returns the order's invoice URL, rendering and storing the
// document the first time. Later and concurrent calls get the same URL.
func (s *InvoiceService) Generate(ctx context.Context, orderID uuid.UUID, who Requester) (string, error) {
	o, err := s.load(ctx, orderID, who)
	if err != nil {
		return "", err
	}
	if o.InvoiceURL != "" {
		return o.InvoiceURL, nil
	}
	if !invoiceEligible(o.Status) {
		return "", apperrors.NotEligible("invoice is available once the order is confirmed")
	}

	unlock, err := s.locker.Lock(ctx, orderID)
	if err != nil {
		return "", apperrors.Transient("order is busy, try again", err)
	}
	defer unlock()

	// re-read under the lease: another request may have finished meanwhile
	if o, err = s.load(ctx, orderID, who); err != nil {
		return "", err
	}
	if o.InvoiceURL != "" {
		return o.InvoiceURL, nil
	}
	if !invoiceEligible(o.Status) {
		return "", apperrors.NotEligible("invoice is available once the order is confirmed")
	}

	number := invoice.Number(o)
	key := invoice.Key(o, number)

	url, exists, err := s.objects.Exists(ctx, key)
	if err != nil {
		return "", apperrors.Transient("invoice storage unavailable", err)
	}
	if !exists {
		doc, err := invoice.Render(o, number, s.now(), s.seller)
		if err != nil {
			return "", apperrors.Internal("failed to render invoice", err)
		}
		if url, err = s.objects.Put(ctx, key, doc, invoice.ContentType); err != nil {
			return "", apperrors.Transient("invoice storage unavailable", err)
		}
	}

	var won bool
	err = s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		won, err = s.store.Orders().SetInvoiceURL(ctx, orderID, number, url)
		return err
	})
	if err != nil {
		return "", err
	}
	if !won {
		current, err := s.load(ctx, orderID, who)
		if err != nil {
			return "", err
		}
		if current.InvoiceURL == "" {
			return "", apperrors.Transient("invoice was not recorded, try again", nil)
		}
		return current.InvoiceURL, nil
	}

	o.InvoiceURL, o.InvoiceNumber = url, number
	s.logger.Info("Invoice generated",
		zap.String("order_id", orderID.String()),
		zap.String("invoice_number", number),
		zap.String("invoice_url", url),
	)
	evt := models.NewOrderEvent(models.EventInvoiceGenerated, o, s.now())
	publish(ctx, s.publisher, s.logger, evt)
	s.metrics.RecordCount(ctx, aws_pkg.MetricInvoicesGenerated, nil)
	return url, nil
}

func (s *InvoiceService) load(ctx context.Context, orderID uuid.UUID, who Requester) (*models.Order, error) {
	var o *models.Order
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		o, err = s.store.Orders().FindByID(ctx, orderID)
		return err
	})
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !who.canSee(o)) {
		return nil, apperrors.NotFound("order not found")
	}
	return o, err
}
