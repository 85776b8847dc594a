package services

import (
	"context"
	"time"

	apperrors "reconciliation-service/common/errors"
	"reconciliation-service/repository"
)

// RetryPolicy retries storage calls that failed transiently, waiting
// BaseDelay, 2*BaseDelay, ... between attempts.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: 100 * time.Millisecond}
}

// Do runs fn until it succeeds, fails permanently or the attempts run out.
// Exhaustion surfaces as a transient application error.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; ; i++ {
		err = fn(ctx)
		if err == nil || !repository.IsTransient(err) {
			return err
		}
		if i >= attempts {
			break
		}
		select {
		case <-ctx.Done():
			return apperrors.Transient("storage unavailable", ctx.Err())
		case <-time.After(time.Duration(i) * p.BaseDelay):
		}
	}
	return apperrors.Transient("storage unavailable", err)
}
