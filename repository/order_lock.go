package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLockTimeout is returned when an order lease could not be taken in time.
var ErrLockTimeout = errors.New("timed out waiting for order lock")

// OrderLocker serializes mutations of a single order across callers.
type OrderLocker interface {
	Lock(ctx context.Context, orderID uuid.UUID) (unlock func(), err error)
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisOrderLocker leases orders through Redis so that several replicas
// serialize on the same key. The lease expires on its own if the holder dies.
type RedisOrderLocker struct {
	client   *redis.Client
	ttl      time.Duration
	wait     time.Duration
	poll     time.Duration
	newToken func() string
	logger   *zap.Logger
}

func NewRedisOrderLocker(client *redis.Client, ttl, wait time.Duration, logger *zap.Logger) *RedisOrderLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisOrderLocker{
		client:   client,
		ttl:      ttl,
		wait:     wait,
		poll:     25 * time.Millisecond,
		newToken: uuid.NewString,
		logger:   logger,
	}
}

func orderLockKey(id uuid.UUID) string {
	return "order-lock:" + id.String()
}

func (l *RedisOrderLocker) Lock(ctx context.Context, orderID uuid.UUID) (func(), error) {
	key := orderLockKey(orderID)
	token := l.newToken()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire order lock: %w", err)
		}
		if ok {
			return func() { l.release(key, token) }, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}
}

// release deletes the lease only while it still holds token. It uses a fresh
// context so a cancelled request still frees the lease.
func (l *RedisOrderLocker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int64()
	switch {
	case err != nil:
		l.logger.Warn("Failed to release order lock, it will expire on its own",
			zap.String("key", key), zap.Duration("ttl", l.ttl), zap.Error(err))
	case n == 0:
		l.logger.Warn("Order lock expired before release", zap.String("key", key), zap.Duration("ttl", l.ttl))
	}
}

// LocalOrderLocker is the single-process fallback used when no Redis is configured.
type LocalOrderLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalOrderLocker() *LocalOrderLocker {
	return &LocalOrderLocker{locks: make(map[uuid.UUID]*localLock)}
}

func (l *LocalOrderLocker) Lock(ctx context.Context, orderID uuid.UUID) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[orderID]
	if !ok {
		lk = &localLock{ch: make(chan struct{}, 1)}
		l.locks[orderID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(orderID, lk)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lk.ch
			l.drop(orderID, lk)
		})
	}, nil
}

func (l *LocalOrderLocker) drop(orderID uuid.UUID, lk *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, orderID)
	}
}
