package models

import (
	"time"

	"github.com/google/uuid"
)

// Sale is a time-boxed price reduction on a set of products.
type Sale struct {
	ID         uuid.UUID   `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name       string      `gorm:"type:varchar(255);not null" json:"name"`
	ImageURL   string      `gorm:"type:varchar(1024)" json:"image_url,omitempty"`
	StartAt    time.Time   `gorm:"not null;index" json:"start_at"`
	EndAt      time.Time   `gorm:"not null;index" json:"end_at"`
	ProductIDs []uuid.UUID `gorm:"type:jsonb;serializer:json" json:"product_ids"`
	// Exactly one of PercentOff and SalePrice is set.
	PercentOff float64   `gorm:"not null;default:0" json:"percent_off,omitempty"`
	SalePrice  int64     `gorm:"not null;default:0" json:"sale_price,omitempty"`
	IsActive   bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// CouponType represents the type of discount a coupon provides.
type CouponType string

const (
	CouponTypePercent CouponType = "percent"
	CouponTypeAmount  CouponType = "amount"
)

// Coupon represents a promotional coupon stored in Postgres.
type Coupon struct {
	ID           uuid.UUID   `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Code         string      `gorm:"type:varchar(64);uniqueIndex;not null" json:"code"`
	DiscountType CouponType  `gorm:"type:varchar(20);not null" json:"discount_type"`
	Value        float64     `gorm:"not null" json:"value"`                    // percent, or minor units for amount
	MinSpend     int64       `gorm:"not null;default:0" json:"min_spend"`      // post-sale subtotal floor
	ProductIDs   []uuid.UUID `gorm:"type:jsonb;serializer:json" json:"product_ids,omitempty"`
	ValidFrom    time.Time   `gorm:"not null" json:"valid_from"`
	ValidUntil   time.Time   `gorm:"not null" json:"valid_until"`
	Active       bool        `gorm:"not null;default:true" json:"active"`
	UsageLimit   int         `gorm:"not null;default:0" json:"usage_limit"` // 0 = unlimited
	UsedCount    int         `gorm:"not null;default:0" json:"used_count"`
	CreatedAt    time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}
