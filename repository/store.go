package repository

import (
	"context"

	"gorm.io/gorm"
)

// Store groups the repositories that must share a database transaction.
type Store interface {
	Orders() OrderRepository
	Payments() PaymentRepository
	Promotions() PromotionRepository
	// Transaction runs fn against a Store bound to one database transaction.
	// fn's error rolls the transaction back and is returned unchanged.
	Transaction(ctx context.Context, fn func(tx Store) error) error
}

// GormStore implements Store on a gorm handle.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GormStore.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Orders() OrderRepository         { return NewGormOrderRepository(s.db) }
func (s *GormStore) Payments() PaymentRepository     { return NewGormPaymentRepository(s.db) }
func (s *GormStore) Promotions() PromotionRepository { return NewGormPromotionRepository(s.db) }

func (s *GormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}
