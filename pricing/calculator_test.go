package pricing_test

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "reconciliation-service/common/errors"
	"reconciliation-service/models"
	"reconciliation-service/pricing"
)

var now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newCalc(t *testing.T) *pricing.Calculator {
	t.Helper()
	c, err := pricing.NewCalculator(pricing.Policy{
		Stacking:              pricing.SaleThenCoupon,
		TaxRatePercent:        8,
		ShippingFlatFee:       5000,
		FreeShippingThreshold: 50000,
		ShippingFees:          map[string]int64{"US": 12000},
	})
	require.NoError(t, err)
	return c
}

func sale(percent float64, products ...uuid.UUID) models.Sale {
	return models.Sale{
		ID:         uuid.New(),
		Name:       "Spring sale",
		StartAt:    now.Add(-24 * time.Hour),
		EndAt:      now.Add(24 * time.Hour),
		ProductIDs: products,
		PercentOff: percent,
		IsActive:   true,
	}
}

func coupon(code string, typ models.CouponType, value float64) *models.Coupon {
	return &models.Coupon{
		ID:           uuid.New(),
		Code:         code,
		DiscountType: typ,
		Value:        value,
		ValidFrom:    now.Add(-time.Hour),
		ValidUntil:   now.Add(time.Hour),
		Active:       true,
	}
}

func line(price int64, qty int) pricing.Line {
	return pricing.Line{ProductID: uuid.New(), Name: "Item", Quantity: qty, ListPrice: price, Available: 100}
}

// 1000.00 list, 10% sale, 10% coupon, 8% tax, free shipping above 500.00.
func TestPrice_SaleThenCouponScenario(t *testing.T) {
	l := line(100000, 1)
	in := pricing.Input{
		Lines:      []pricing.Line{l},
		CouponCode: "save10",
		Coupon:     coupon("SAVE10", models.CouponTypePercent, 10),
		Sales:      []models.Sale{sale(10, l.ProductID)},
		Now:        now,
	}

	res, err := newCalc(t).Price(in)
	require.NoError(t, err)

	assert.Equal(t, int64(81000), res.ItemsPrice)
	assert.Equal(t, int64(0), res.ShippingPrice)
	assert.Equal(t, int64(6480), res.TaxPrice)
	assert.Equal(t, int64(87480), res.TotalAmount)
	assert.Equal(t, int64(90000), res.Lines[0].UnitPrice)
	assert.Equal(t, int64(9000), res.Lines[0].CouponDiscount)
	assert.Equal(t, int64(10000), res.SaleDiscount)
	assert.Equal(t, int64(19000), res.DiscountAmount)
	assert.Equal(t, "SAVE10", res.CouponCode)
	require.NotNil(t, res.Lines[0].SaleID)
}

func TestPrice_IsPure(t *testing.T) {
	l1, l2 := line(45000, 2), line(1999, 3)
	in := pricing.Input{
		Lines:      []pricing.Line{l1, l2},
		CouponCode: "FLAT",
		Coupon:     coupon("FLAT", models.CouponTypeAmount, 2500),
		Sales:      []models.Sale{sale(15, l1.ProductID)},
		Now:        now,
	}
	c := newCalc(t)

	first, err := c.Price(in)
	require.NoError(t, err)
	second, err := c.Price(in)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPrice_BestSaleWinsAndNeverAboveList(t *testing.T) {
	l := line(20000, 1)
	cheap := sale(25, l.ProductID)
	fixed := sale(0, l.ProductID)
	fixed.SalePrice = 16000
	aboveList := sale(0, l.ProductID)
	aboveList.SalePrice = 25000

	res, err := newCalc(t).Price(pricing.Input{
		Lines: []pricing.Line{l},
		Sales: []models.Sale{fixed, aboveList, cheap},
		Now:   now,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(15000), res.Lines[0].UnitPrice)
	assert.Equal(t, cheap.ID, *res.Lines[0].SaleID)
}

func TestPrice_InactiveOrOutOfWindowSaleIgnored(t *testing.T) {
	l := line(20000, 1)
	inactive := sale(50, l.ProductID)
	inactive.IsActive = false
	ended := sale(50, l.ProductID)
	ended.EndAt = now.Add(-time.Minute)
	otherProduct := sale(50, uuid.New())

	res, err := newCalc(t).Price(pricing.Input{
		Lines: []pricing.Line{l},
		Sales: []models.Sale{inactive, ended, otherProduct},
		Now:   now,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(20000), res.Lines[0].UnitPrice)
	assert.Nil(t, res.Lines[0].SaleID)
}

func TestPrice_CouponRejections(t *testing.T) {
	l := line(10000, 1)

	expired := coupon("OLD", models.CouponTypePercent, 10)
	expired.ValidUntil = now.Add(-time.Second)
	notStarted := coupon("SOON", models.CouponTypePercent, 10)
	notStarted.ValidFrom = now.Add(time.Hour)
	minSpend := coupon("BIG", models.CouponTypeAmount, 500)
	minSpend.MinSpend = 20000
	restricted := coupon("SHOES", models.CouponTypePercent, 10)
	restricted.ProductIDs = []uuid.UUID{uuid.New()}
	exhausted := coupon("ONCE", models.CouponTypeAmount, 500)
	exhausted.UsageLimit, exhausted.UsedCount = 1, 1
	inactive := coupon("OFF", models.CouponTypeAmount, 500)
	inactive.Active = false

	cases := []struct {
		name   string
		code   string
		cp     *models.Coupon
		reason string
	}{
		{"missing", "NOPE", nil, apperrors.CouponNotFound},
		{"inactive", "OFF", inactive, apperrors.CouponNotFound},
		{"expired", "OLD", expired, apperrors.CouponExpired},
		{"not yet valid", "SOON", notStarted, apperrors.CouponExpired},
		{"usage limit", "ONCE", exhausted, apperrors.CouponUsageLimitReached},
		{"below minimum spend", "BIG", minSpend, apperrors.CouponBelowMinimumSpend},
		{"no qualifying line", "SHOES", restricted, apperrors.CouponNotApplicable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newCalc(t).Price(pricing.Input{
				Lines:      []pricing.Line{l},
				CouponCode: tc.code,
				Coupon:     tc.cp,
				Now:        now,
			})
			require.Error(t, err)
			var appErr *apperrors.Error
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, apperrors.KindCoupon, appErr.Kind)
			assert.Equal(t, tc.reason, appErr.Reason)
		})
	}
}

func TestPrice_MinimumSpendUsesPostSaleSubtotal(t *testing.T) {
	l := line(10000, 1)
	cp := coupon("MIN", models.CouponTypeAmount, 500)
	cp.MinSpend = 9500

	_, err := newCalc(t).Price(pricing.Input{
		Lines:      []pricing.Line{l},
		CouponCode: "MIN",
		Coupon:     cp,
		Sales:      []models.Sale{sale(10, l.ProductID)},
		Now:        now,
	})
	assert.True(t, errors.Is(err, apperrors.ErrCoupon.WithReason(apperrors.CouponBelowMinimumSpend)))
}

func TestPrice_RestrictedCouponOnlyDiscountsQualifyingLines(t *testing.T) {
	shoes, hat := line(30000, 1), line(10000, 1)
	cp := coupon("SHOES20", models.CouponTypePercent, 20)
	cp.ProductIDs = []uuid.UUID{shoes.ProductID}

	res, err := newCalc(t).Price(pricing.Input{
		Lines:      []pricing.Line{shoes, hat},
		CouponCode: "SHOES20",
		Coupon:     cp,
		Now:        now,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(6000), res.Lines[0].CouponDiscount)
	assert.Equal(t, int64(0), res.Lines[1].CouponDiscount)
	assert.Equal(t, int64(34000), res.ItemsPrice)
}

func TestPrice_AmountCouponCappedAtQualifyingSubtotal(t *testing.T) {
	l := line(3000, 1)
	res, err := newCalc(t).Price(pricing.Input{
		Lines:      []pricing.Line{l},
		CouponCode: "HUGE",
		Coupon:     coupon("HUGE", models.CouponTypeAmount, 999999),
		Now:        now,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3000), res.CouponDiscount)
	assert.Equal(t, int64(0), res.ItemsPrice)
	assert.Equal(t, int64(5000), res.ShippingPrice)
	assert.Equal(t, int64(5000), res.TotalAmount)
}

func TestPrice_ShippingByDestinationAndThreshold(t *testing.T) {
	c := newCalc(t)

	res, err := c.Price(pricing.Input{Lines: []pricing.Line{line(10000, 1)}, Destination: "us", Now: now})
	require.NoError(t, err)
	assert.Equal(t, int64(12000), res.ShippingPrice)

	res, err = c.Price(pricing.Input{Lines: []pricing.Line{line(10000, 1)}, Destination: "IN", Now: now})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), res.ShippingPrice)

	// exactly at the threshold still pays
	res, err = c.Price(pricing.Input{Lines: []pricing.Line{line(50000, 1)}, Destination: "IN", Now: now})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), res.ShippingPrice)
}

func TestPrice_ValidationErrors(t *testing.T) {
	dup := line(100, 1)
	cases := map[string][]pricing.Line{
		"empty":          nil,
		"zero quantity":  {line(100, 0)},
		"negative price": {line(-1, 1)},
		"over stock":     {{ProductID: uuid.New(), Quantity: 5, ListPrice: 100, Available: 4}},
		"duplicate":      {dup, dup},
	}
	for name, lines := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := newCalc(t).Price(pricing.Input{Lines: lines, Now: now})
			assert.True(t, errors.Is(err, apperrors.ErrValidation), "got %v", err)
		})
	}
}

func TestNewCalculator_RejectsUnknownPolicy(t *testing.T) {
	_, err := pricing.NewCalculator(pricing.Policy{Stacking: "coupon_then_sale"})
	assert.Error(t, err)
}

// Randomized carts: discounts never push a line above list, the coupon never
// raises the subtotal, and totals always add up.
func TestPrice_DiscountBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	c := newCalc(t)

	for i := 0; i < 300; i++ {
		n := 1 + rng.Intn(4)
		lines := make([]pricing.Line, n)
		var ids []uuid.UUID
		for j := range lines {
			lines[j] = line(int64(1+rng.Intn(200000)), 1+rng.Intn(5))
			if rng.Intn(2) == 0 {
				ids = append(ids, lines[j].ProductID)
			}
		}
		sales := []models.Sale{sale(float64(rng.Intn(90)), ids...)}
		if rng.Intn(3) == 0 {
			s := sale(0, ids...)
			s.SalePrice = int64(1 + rng.Intn(150000))
			sales = append(sales, s)
		}

		base, err := c.Price(pricing.Input{Lines: lines, Sales: sales, Now: now})
		require.NoError(t, err)

		typ := models.CouponTypePercent
		value := float64(rng.Intn(100))
		if rng.Intn(2) == 0 {
			typ, value = models.CouponTypeAmount, float64(rng.Intn(300000))
		}
		withCoupon, err := c.Price(pricing.Input{
			Lines: lines, Sales: sales, Now: now,
			CouponCode: "RND", Coupon: coupon("RND", typ, value),
		})
		require.NoError(t, err)

		assert.LessOrEqual(t, withCoupon.ItemsPrice, base.ItemsPrice)
		var allocated int64
		for j, pl := range withCoupon.Lines {
			assert.LessOrEqual(t, pl.UnitPrice, lines[j].ListPrice)
			assert.GreaterOrEqual(t, pl.LineTotal, int64(0))
			allocated += pl.CouponDiscount
		}
		assert.Equal(t, withCoupon.CouponDiscount, allocated)
		assert.Equal(t, withCoupon.ItemsPrice+withCoupon.ShippingPrice+withCoupon.TaxPrice, withCoupon.TotalAmount)
	}
}

func TestPrice_PercentSaleRoundsThePrice(t *testing.T) {
	// 50% of 1 is 0.5, which rounds half-up to 1
	l := line(1, 1)
	res, err := newCalc(t).Price(pricing.Input{
		Lines: []pricing.Line{l},
		Sales: []models.Sale{sale(50, l.ProductID)},
		Now:   now,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Lines[0].UnitPrice)

	// 33% off 999 is 669.33
	l = line(999, 1)
	res, err = newCalc(t).Price(pricing.Input{
		Lines: []pricing.Line{l},
		Sales: []models.Sale{sale(33, l.ProductID)},
		Now:   now,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(669), res.Lines[0].UnitPrice)
}

func TestPrice_LargeCartCouponAllocationDoesNotOverflow(t *testing.T) {
	a, b := line(5_000_000_000, 10), line(5_000_000_000, 10)
	res, err := newCalc(t).Price(pricing.Input{
		Lines:      []pricing.Line{a, b},
		CouponCode: "BULK",
		Coupon:     coupon("BULK", models.CouponTypeAmount, 30_000_000_000),
		Now:        now,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(15_000_000_000), res.Lines[0].CouponDiscount)
	assert.Equal(t, int64(15_000_000_000), res.Lines[1].CouponDiscount)
	assert.Equal(t, int64(70_000_000_000), res.ItemsPrice)
}
