// Package pricing turns a cart into a priced order. Everything here is a pure
// function of its inputs: no clock, no storage, no randomness.
package pricing

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "reconciliation-service/common/errors"
	"reconciliation-service/models"
)

// StackingPolicy decides how a sale and a coupon combine on the same line.
type StackingPolicy string

// SaleThenCoupon applies the best sale price as the effective unit price,
// then the coupon to the post-sale subtotal of the qualifying lines.
const SaleThenCoupon StackingPolicy = "sale_then_coupon"

// Policy holds the store-wide pricing parameters.
type Policy struct {
	Stacking              StackingPolicy
	TaxRatePercent        float64
	ShippingFlatFee       int64
	FreeShippingThreshold int64
	// ShippingFees overrides the flat fee per destination country (ISO-3166 alpha-2).
	ShippingFees map[string]int64
}

// Line is one cart entry with the catalog facts needed to price it.
type Line struct {
	ProductID uuid.UUID
	Name      string
	Quantity  int
	ListPrice int64
	Available int
}

// Input is everything a price depends on.
type Input struct {
	Lines      []Line
	CouponCode string
	// Coupon is the record found for CouponCode, nil when none exists.
	Coupon      *models.Coupon
	Sales       []models.Sale
	Destination string
	Now         time.Time
}

// PricedLine is the snapshot stored on the order item.
type PricedLine struct {
	ProductID      uuid.UUID  `json:"product_id"`
	Name           string     `json:"name"`
	Quantity       int        `json:"quantity"`
	ListPrice      int64      `json:"list_price"`
	UnitPrice      int64      `json:"unit_price"`
	CouponDiscount int64      `json:"coupon_discount"`
	LineTotal      int64      `json:"line_total"`
	SaleID         *uuid.UUID `json:"sale_id,omitempty"`
}

// Result is a fully priced cart.
type Result struct {
	Lines          []PricedLine `json:"lines"`
	ItemsPrice     int64        `json:"items_price"`
	ShippingPrice  int64        `json:"shipping_price"`
	TaxPrice       int64        `json:"tax_price"`
	TotalAmount    int64        `json:"total_amount"`
	SaleDiscount   int64        `json:"sale_discount"`
	CouponDiscount int64        `json:"coupon_discount"`
	DiscountAmount int64        `json:"discount_amount"`
	CouponCode     string       `json:"coupon_code,omitempty"`
}

// Calculator prices carts under a fixed Policy.
type Calculator struct {
	policy Policy
}

// NewCalculator validates p and returns a Calculator for it.
func NewCalculator(p Policy) (*Calculator, error) {
	if p.Stacking == "" {
		p.Stacking = SaleThenCoupon
	}
	if p.Stacking != SaleThenCoupon {
		return nil, fmt.Errorf("unsupported stacking policy %q", p.Stacking)
	}
	if p.TaxRatePercent < 0 || p.ShippingFlatFee < 0 || p.FreeShippingThreshold < 0 {
		return nil, fmt.Errorf("pricing policy values must be non-negative")
	}
	return &Calculator{policy: p}, nil
}

// Policy returns the calculator's policy.
func (c *Calculator) Policy() Policy {
	return c.policy
}

var hundred = decimal.NewFromInt(100)

// Price computes totals for in. It fails with a validation error for a
// malformed cart and a coupon error carrying the rejection reason.
func (c *Calculator) Price(in Input) (*Result, error) {
	if err := validateLines(in.Lines); err != nil {
		return nil, err
	}

	res := &Result{Lines: make([]PricedLine, len(in.Lines))}

	var subtotal int64
	for i, l := range in.Lines {
		unit, sale := bestSalePrice(l, in.Sales, in.Now)
		pl := PricedLine{
			ProductID: l.ProductID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			ListPrice: l.ListPrice,
			UnitPrice: unit,
			LineTotal: unit * int64(l.Quantity),
		}
		if sale != nil {
			id := sale.ID
			pl.SaleID = &id
		}
		res.Lines[i] = pl
		subtotal += pl.LineTotal
		res.SaleDiscount += (l.ListPrice - unit) * int64(l.Quantity)
	}

	if strings.TrimSpace(in.CouponCode) != "" {
		discount, err := applyCoupon(res.Lines, subtotal, in)
		if err != nil {
			return nil, err
		}
		res.CouponDiscount = discount
		res.CouponCode = strings.ToUpper(strings.TrimSpace(in.CouponCode))
	}

	for _, pl := range res.Lines {
		res.ItemsPrice += pl.LineTotal
	}
	res.ShippingPrice = c.shippingFor(res.ItemsPrice, in.Destination)
	res.TaxPrice = percentOf(res.ItemsPrice, decimal.NewFromFloat(c.policy.TaxRatePercent))
	res.TotalAmount = res.ItemsPrice + res.ShippingPrice + res.TaxPrice
	res.DiscountAmount = res.SaleDiscount + res.CouponDiscount
	return res, nil
}

func validateLines(lines []Line) error {
	if len(lines) == 0 {
		return apperrors.Validation("cart is empty")
	}
	seen := make(map[uuid.UUID]bool, len(lines))
	for _, l := range lines {
		switch {
		case l.ProductID == uuid.Nil:
			return apperrors.Validation("cart line has no product")
		case seen[l.ProductID]:
			return apperrors.Validation(fmt.Sprintf("product %s appears more than once", l.ProductID))
		case l.Quantity < 1:
			return apperrors.Validation(fmt.Sprintf("quantity for product %s must be at least 1", l.ProductID))
		case l.ListPrice < 0:
			return apperrors.Validation(fmt.Sprintf("product %s has a negative price", l.ProductID))
		case l.Quantity > l.Available:
			return apperrors.Validation(fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
				l.ProductID, l.Quantity, l.Available)).WithReason("insufficient_stock")
		}
		seen[l.ProductID] = true
	}
	return nil
}

// bestSalePrice returns the lowest effective unit price any applicable sale
// gives l, never above the list price.
func bestSalePrice(l Line, sales []models.Sale, now time.Time) (int64, *models.Sale) {
	best := l.ListPrice
	var chosen *models.Sale
	for i := range sales {
		s := &sales[i]
		if !saleApplies(s, l.ProductID, now) {
			continue
		}
		candidate := l.ListPrice
		if s.SalePrice > 0 {
			candidate = s.SalePrice
		} else if s.PercentOff > 0 {
			candidate = percentOf(l.ListPrice, hundred.Sub(decimal.NewFromFloat(s.PercentOff)))
		}
		if candidate < 0 {
			candidate = 0
		}
		if candidate < best {
			best = candidate
			chosen = s
		}
	}
	return best, chosen
}

func saleApplies(s *models.Sale, productID uuid.UUID, now time.Time) bool {
	if !s.IsActive || now.Before(s.StartAt) || now.After(s.EndAt) {
		return false
	}
	return containsID(s.ProductIDs, productID)
}

// applyCoupon validates the coupon against the post-sale lines, then spreads
// its discount over the qualifying lines in place.
func applyCoupon(lines []PricedLine, subtotal int64, in Input) (int64, error) {
	cp := in.Coupon
	if cp == nil || !cp.Active || !strings.EqualFold(cp.Code, strings.TrimSpace(in.CouponCode)) {
		return 0, apperrors.Coupon(apperrors.CouponNotFound, fmt.Sprintf("coupon %q does not exist", in.CouponCode))
	}
	if in.Now.Before(cp.ValidFrom) || in.Now.After(cp.ValidUntil) {
		return 0, apperrors.Coupon(apperrors.CouponExpired, fmt.Sprintf("coupon %s is not valid at this time", cp.Code))
	}
	if cp.UsageLimit > 0 && cp.UsedCount >= cp.UsageLimit {
		return 0, apperrors.Coupon(apperrors.CouponUsageLimitReached, fmt.Sprintf("coupon %s has reached its usage limit", cp.Code))
	}
	if subtotal < cp.MinSpend {
		return 0, apperrors.Coupon(apperrors.CouponBelowMinimumSpend,
			fmt.Sprintf("coupon %s requires a minimum spend of %d", cp.Code, cp.MinSpend))
	}

	qualifying := make([]int, 0, len(lines))
	var qualifyingSubtotal int64
	for i, pl := range lines {
		if len(cp.ProductIDs) == 0 || containsID(cp.ProductIDs, pl.ProductID) {
			qualifying = append(qualifying, i)
			qualifyingSubtotal += pl.LineTotal
		}
	}
	if len(qualifying) == 0 {
		return 0, apperrors.Coupon(apperrors.CouponNotApplicable, fmt.Sprintf("coupon %s does not apply to any item in the cart", cp.Code))
	}

	var discount int64
	switch cp.DiscountType {
	case models.CouponTypePercent:
		pct := decimal.NewFromFloat(cp.Value)
		if pct.GreaterThan(hundred) {
			pct = hundred
		}
		discount = percentOf(qualifyingSubtotal, pct)
	case models.CouponTypeAmount:
		discount = decimal.NewFromFloat(cp.Value).Round(0).IntPart()
	default:
		return 0, apperrors.Coupon(apperrors.CouponNotFound, fmt.Sprintf("coupon %s has unknown type %q", cp.Code, cp.DiscountType))
	}
	if discount < 0 {
		discount = 0
	}
	if discount > qualifyingSubtotal {
		discount = qualifyingSubtotal
	}

	allocate(lines, qualifying, qualifyingSubtotal, discount)
	return discount, nil
}

// allocate spreads discount over the given lines pro rata to their totals.
// Rounding leftovers go one unit at a time to lines that can still absorb them.
func allocate(lines []PricedLine, idx []int, base, discount int64) {
	if discount == 0 || base == 0 {
		return
	}
	var given int64
	d, b := decimal.NewFromInt(discount), decimal.NewFromInt(base)
	for _, i := range idx {
		share := d.Mul(decimal.NewFromInt(lines[i].LineTotal)).Div(b).Floor().IntPart()
		lines[i].CouponDiscount = share
		given += share
	}
	for rest := discount - given; rest > 0; {
		for k := len(idx) - 1; k >= 0 && rest > 0; k-- {
			i := idx[k]
			if lines[i].CouponDiscount < lines[i].LineTotal {
				lines[i].CouponDiscount++
				rest--
			}
		}
	}
	for _, i := range idx {
		lines[i].LineTotal -= lines[i].CouponDiscount
	}
}

func (c *Calculator) shippingFor(itemsPrice int64, destination string) int64 {
	if c.policy.FreeShippingThreshold > 0 && itemsPrice > c.policy.FreeShippingThreshold {
		return 0
	}
	if fee, ok := c.policy.ShippingFees[strings.ToUpper(destination)]; ok {
		return fee
	}
	return c.policy.ShippingFlatFee
}

// percentOf returns amount*pct/100 rounded half away from zero.
func percentOf(amount int64, pct decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(pct).Div(hundred).Round(0).IntPart()
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
