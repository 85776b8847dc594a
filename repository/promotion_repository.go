package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"reconciliation-service/models"
)

// PromotionRepository reads sales and coupons and counts coupon redemptions.
type PromotionRepository interface {
	ActiveSales(ctx context.Context, now time.Time) ([]models.Sale, error)
	FindCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	// RedeemCoupon bumps used_count unless the usage limit is already reached.
	RedeemCoupon(ctx context.Context, id uuid.UUID) (bool, error)
	// ReleaseCoupon gives back one redemption of code; used_count never goes below zero.
	ReleaseCoupon(ctx context.Context, code string) error
}

type gormPromotionRepo struct {
	db *gorm.DB
}

func NewGormPromotionRepository(db *gorm.DB) PromotionRepository {
	return &gormPromotionRepo{db: db}
}

func (r *gormPromotionRepo) ActiveSales(ctx context.Context, now time.Time) ([]models.Sale, error) {
	var sales []models.Sale
	if err := r.db.WithContext(ctx).
		Where("is_active = ? AND start_at <= ? AND end_at >= ?", true, now, now).
		Find(&sales).Error; err != nil {
		return nil, fmt.Errorf("load active sales: %w", err)
	}
	return sales, nil
}

func (r *gormPromotionRepo) FindCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var c models.Coupon
	if err := r.db.WithContext(ctx).
		Where("UPPER(code) = ?", strings.ToUpper(strings.TrimSpace(code))).
		First(&c).Error; err != nil {
		return nil, normalize(err)
	}
	return &c, nil
}

func (r *gormPromotionRepo) RedeemCoupon(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Coupon{}).
		Where("id = ? AND (usage_limit = 0 OR used_count < usage_limit)", id).
		Update("used_count", gorm.Expr("used_count + 1"))
	if res.Error != nil {
		return false, fmt.Errorf("redeem coupon %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *gormPromotionRepo) ReleaseCoupon(ctx context.Context, code string) error {
	err := r.db.WithContext(ctx).
		Model(&models.Coupon{}).
		Where("UPPER(code) = ? AND used_count > 0", strings.ToUpper(strings.TrimSpace(code))).
		Update("used_count", gorm.Expr("used_count - 1")).Error
	if err != nil {
		return fmt.Errorf("release coupon %s: %w", code, err)
	}
	return nil
}
