package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "reconciliation-service/common/errors"
	"reconciliation-service/lifecycle"
	"reconciliation-service/models"
	aws_pkg "reconciliation-service/pkg/aws"
	"reconciliation-service/repository"
)

// OrderService runs lifecycle transitions against stored orders.
type OrderService struct {
	store     repository.Store
	mutator   *orderMutator
	publisher EventPublisher
	metrics   *aws_pkg.MetricsClient
	now       func() time.Time
	logger    *zap.Logger
}

func NewOrderService(
	store repository.Store,
	locker repository.OrderLocker,
	retry RetryPolicy,
	publisher EventPublisher,
	metrics *aws_pkg.MetricsClient,
	logger *zap.Logger,
) *OrderService {
	return &OrderService{
		store:     store,
		mutator:   &orderMutator{store: store, locker: locker, retry: retry},
		publisher: publisher,
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// Transition applies cmd to the order on behalf of who. Customers can only
// reach their own orders; anyone else's looks like a missing order.
func (s *OrderService) Transition(ctx context.Context, orderID uuid.UUID, who Requester, cmd lifecycle.Command) (*models.Order, error) {
	cmd.Actor = who.Actor()
	var from models.OrderStatus

	order, changed, err := s.mutator.mutate(ctx, orderID, func(ctx context.Context, _ repository.Store, o *models.Order) (bool, error) {
		if !who.canSee(o) {
			return false, apperrors.NotFound("order not found")
		}
		from = o.Status
		c := cmd
		if c.At.IsZero() {
			c.At = s.now()
		}
		return lifecycle.Apply(o, c)
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidTransition) {
			s.logger.Info("Order transition rejected",
				zap.String("order_id", orderID.String()),
				zap.String("transition", string(cmd.Transition)),
				zap.Error(err),
			)
		}
		return nil, err
	}

	if changed {
		s.logger.Info("Order transitioned",
			zap.String("order_id", order.ID.String()),
			zap.String("transition", string(cmd.Transition)),
			zap.String("from", string(from)),
			zap.String("to", string(order.Status)),
			zap.String("actor", string(cmd.Actor)),
		)
		evt := models.NewOrderEvent(models.EventOrderStatusChanged, order, s.now())
		evt.Transition = string(cmd.Transition)
		publish(ctx, s.publisher, s.logger, evt)
		if order.Status == models.OrderStatusCancelled && from != models.OrderStatusCancelled {
			s.metrics.RecordCount(ctx, aws_pkg.MetricOrdersCancelled, map[string]string{"Transition": string(cmd.Transition)})
		}
	}
	return order, nil
}

// publish sends evt and only logs a failure: the state change it reports is
// already committed.
func publish(ctx context.Context, p EventPublisher, logger *zap.Logger, evt models.OrderEvent) {
	if p == nil {
		return
	}
	if err := p.PublishOrderEvent(ctx, evt); err != nil {
		logger.Error("Failed to publish order event",
			zap.String("event_type", evt.EventType),
			zap.String("order_id", evt.OrderID),
			zap.Error(err),
		)
	}
}
