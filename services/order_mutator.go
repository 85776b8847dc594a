package services

import (
	"context"
	"errors"

	"github.com/google/uuid"

	apperrors "reconciliation-service/common/errors"
	"reconciliation-service/lifecycle"
	"reconciliation-service/models"
	"reconciliation-service/repository"
)

// maxVersionConflicts bounds how often a mutation is re-applied after losing
// an optimistic-concurrency race.
const maxVersionConflicts = 5

// Requester is the authenticated caller of an operation.
type Requester struct {
	UserID uuid.UUID
	Admin  bool
}

func (r Requester) Actor() lifecycle.Actor {
	if r.Admin {
		return lifecycle.ActorAdmin
	}
	return lifecycle.ActorCustomer
}

// canSee reports whether r may read or act on o. Customers only see their own orders.
func (r Requester) canSee(o *models.Order) bool {
	return r.Admin || o.CustomerID == r.UserID
}

// mutation changes a freshly loaded order inside a database transaction.
// It reports whether the order row needs writing.
type mutation func(ctx context.Context, tx repository.Store, o *models.Order) (changed bool, err error)

// orderMutator runs mutations one order at a time: a per-order lease keeps
// writers apart and the version guard catches anyone who skipped the lease.
type orderMutator struct {
	store  repository.Store
	locker repository.OrderLocker
	retry  RetryPolicy
}

// mutate loads the order, applies fn and writes the result in one
// transaction. A version conflict reloads and re-applies fn, so fn must be
// safe to run more than once.
func (m *orderMutator) mutate(ctx context.Context, orderID uuid.UUID, fn mutation) (*models.Order, bool, error) {
	unlock, err := m.locker.Lock(ctx, orderID)
	if err != nil {
		return nil, false, apperrors.Transient("order is busy, try again", err)
	}
	defer unlock()

	for conflicts := 0; ; conflicts++ {
		var result *models.Order
		var changed bool
		err := m.retry.Do(ctx, func(ctx context.Context) error {
			return m.store.Transaction(ctx, func(tx repository.Store) error {
				o, err := tx.Orders().FindByID(ctx, orderID)
				if err != nil {
					if errors.Is(err, repository.ErrNotFound) {
						return apperrors.NotFound("order not found")
					}
					return err
				}
				before := o.Status
				changed, err = fn(ctx, tx, o)
				if err != nil {
					return err
				}
				if changed {
					if err := tx.Orders().UpdateGuarded(ctx, o); err != nil {
						return err
					}
					if releasesCoupon(before, o) {
						if err := tx.Promotions().ReleaseCoupon(ctx, o.CouponCode); err != nil {
							return err
						}
					}
				}
				result = o
				return nil
			})
		})
		if errors.Is(err, repository.ErrVersionConflict) && conflicts < maxVersionConflicts {
			continue
		}
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, false, apperrors.Transient("order kept changing, try again", err)
		}
		if err != nil {
			return nil, false, err
		}
		return result, changed, nil
	}
}

// releasesCoupon reports whether o just became cancelled while holding a
// coupon redemption. Every cancellation gives the redemption back, whether
// the payment failed, someone cancelled or a return was accepted.
func releasesCoupon(before models.OrderStatus, o *models.Order) bool {
	return o.CouponCode != "" &&
		before != models.OrderStatusCancelled &&
		o.Status == models.OrderStatusCancelled
}
