package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "reconciliation-service/common/errors"
	"reconciliation-service/models"
	"reconciliation-service/repository"
	"reconciliation-service/services"
)

var ctx = context.Background()

func seedSpringPromo(h *harness, pid uuid.UUID) {
	now := time.Now()
	h.db.sales = []models.Sale{{
		ID: uuid.New(), Name: "Spring", IsActive: true, PercentOff: 10,
		StartAt: now.Add(-time.Hour), EndAt: now.Add(time.Hour), ProductIDs: []uuid.UUID{pid},
	}}
	h.db.coupons["SAVE10"] = &models.Coupon{
		ID: uuid.New(), Code: "SAVE10", DiscountType: models.CouponTypePercent, Value: 10, MinSpend: 50000,
		ValidFrom: now.Add(-time.Hour), ValidUntil: now.Add(time.Hour), Active: true,
	}
}

func TestCheckout_SaleThenCouponWithFreeShipping(t *testing.T) {
	h := newHarness()
	pid := h.product("Desk lamp", 1000, 5)
	seedSpringPromo(h, pid)
	customer := uuid.New()

	res, err := h.svc.Checkout(ctx, customer, services.CheckoutRequest{
		Items:           []services.CartItem{{ProductID: pid, Quantity: 1}},
		CouponCode:      "save10",
		PaymentMethod:   models.PaymentMethodCashOnDelivery,
		ShippingAddress: address,
	})
	require.NoError(t, err)
	assert.Nil(t, res.Payment)
	assert.Nil(t, res.TransactionID)

	o := h.stored(res.Order.ID)
	assert.Equal(t, int64(81000), o.ItemsPrice)
	assert.Equal(t, int64(0), o.ShippingPrice)
	assert.Equal(t, int64(6480), o.TaxPrice)
	assert.Equal(t, int64(87480), o.TotalAmount)
	assert.Equal(t, int64(19000), o.DiscountAmount)
	assert.Equal(t, "SAVE10", o.CouponCode)
	assert.Equal(t, models.OrderStatusPending, o.Status)
	assert.Equal(t, models.PaymentStatusUnpaid, o.PaymentStatus)
	assert.Equal(t, customer, o.CustomerID)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), o.ExpectedDeliveryDate, time.Minute)

	require.Len(t, o.Items, 1)
	assert.Equal(t, int64(100000), o.Items[0].ListPrice)
	assert.Equal(t, int64(90000), o.Items[0].UnitPrice)
	assert.Equal(t, int64(9000), o.Items[0].CouponDiscount)
	assert.Equal(t, int64(81000), o.Items[0].LineTotal)
	assert.NotNil(t, o.Items[0].SaleID)

	assert.Equal(t, 1, h.db.coupons["SAVE10"].UsedCount)
	assert.Equal(t, 1, h.publisher.count(models.EventOrderCreated))
}

func TestCheckout_Online_CreatesIntentAndTransaction(t *testing.T) {
	h := newHarness()
	res := checkoutOnline(t, h, uuid.New())

	require.NotNil(t, res.Payment)
	require.NotNil(t, res.TransactionID)
	txn := h.storedTxn(*res.TransactionID)
	assert.Equal(t, models.TransactionCreated, txn.Status)
	assert.Equal(t, res.Order.TotalAmount, txn.Amount)
	assert.Equal(t, res.Payment.ProviderOrderID, txn.ProviderOrderID)
	assert.Equal(t, int64(59000), res.Order.TotalAmount, "50000 items is not above the threshold so shipping applies")
}

func TestCheckout_GatewayFailureStoresNothing(t *testing.T) {
	h := newHarness()
	pid := h.product("Kettle", 500, 3)
	h.gateway.fail = errors.New("connection reset")

	_, err := h.svc.Checkout(ctx, uuid.New(), services.CheckoutRequest{
		Items:           []services.CartItem{{ProductID: pid, Quantity: 1}},
		PaymentMethod:   models.PaymentMethodOnlineGateway,
		ShippingAddress: address,
	})
	assert.True(t, errors.Is(err, apperrors.ErrTransient))
	assert.Empty(t, h.db.orders)
	assert.Empty(t, h.db.txns)
}

func TestCheckout_Rejections(t *testing.T) {
	h := newHarness()
	pid := h.product("Kettle", 500, 1)
	now := time.Now()
	h.db.coupons["ONCE"] = &models.Coupon{
		ID: uuid.New(), Code: "ONCE", DiscountType: models.CouponTypeAmount, Value: 1000,
		ValidFrom: now.Add(-time.Hour), ValidUntil: now.Add(time.Hour), Active: true, UsageLimit: 1, UsedCount: 1,
	}

	cases := []struct {
		name string
		req  services.CheckoutRequest
		want error
	}{
		{"empty cart", services.CheckoutRequest{PaymentMethod: models.PaymentMethodCashOnDelivery, ShippingAddress: address}, apperrors.ErrValidation},
		{"bad method", services.CheckoutRequest{Items: []services.CartItem{{ProductID: pid, Quantity: 1}}, PaymentMethod: "barter", ShippingAddress: address}, apperrors.ErrValidation},
		{"missing address", services.CheckoutRequest{Items: []services.CartItem{{ProductID: pid, Quantity: 1}}, PaymentMethod: models.PaymentMethodCashOnDelivery}, apperrors.ErrValidation},
		{"over stock", services.CheckoutRequest{Items: []services.CartItem{{ProductID: pid, Quantity: 2}}, PaymentMethod: models.PaymentMethodCashOnDelivery, ShippingAddress: address}, apperrors.ErrValidation},
		{"used up coupon", services.CheckoutRequest{Items: []services.CartItem{{ProductID: pid, Quantity: 1}}, CouponCode: "ONCE", PaymentMethod: models.PaymentMethodCashOnDelivery, ShippingAddress: address},
			apperrors.Coupon(apperrors.CouponUsageLimitReached, "")},
		{"unknown coupon", services.CheckoutRequest{Items: []services.CartItem{{ProductID: pid, Quantity: 1}}, CouponCode: "NOPE", PaymentMethod: models.PaymentMethodCashOnDelivery, ShippingAddress: address},
			apperrors.Coupon(apperrors.CouponNotFound, "")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.Checkout(ctx, uuid.New(), tc.req)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
	assert.Empty(t, h.db.orders)
	assert.Equal(t, 1, h.db.coupons["ONCE"].UsedCount)
}

func TestPreviewPrice_HasNoSideEffects(t *testing.T) {
	h := newHarness()
	pid := h.product("Desk lamp", 1000, 5)
	seedSpringPromo(h, pid)

	res, err := h.svc.PreviewPrice(ctx, services.PriceRequest{Items: []services.CartItem{{ProductID: pid, Quantity: 1}}, CouponCode: "SAVE10"})
	require.NoError(t, err)
	assert.Equal(t, int64(87480), res.TotalAmount)
	assert.Empty(t, h.db.orders)
	assert.Zero(t, h.db.coupons["SAVE10"].UsedCount)
	assert.Empty(t, h.publisher.events)
}

func TestAdvanceFulfillment_OnPendingOrderIsRejected(t *testing.T) {
	h := newHarness()
	res := checkoutOnline(t, h, uuid.New())
	before := h.stored(res.Order.ID)

	_, err := h.svc.AdvanceFulfillment(ctx, res.Order.ID, services.Requester{Admin: true}, models.OrderStatusShipped)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))
	assert.Contains(t, err.Error(), "advanceFulfillment")
	assert.Contains(t, err.Error(), "pending")
	assert.Equal(t, before, h.stored(res.Order.ID))
}

func TestCODLifecycle_ThroughReturn(t *testing.T) {
	h := newHarness()
	pid := h.product("Kettle", 500, 3)
	customer := uuid.New()
	admin := services.Requester{UserID: uuid.New(), Admin: true}
	me := services.Requester{UserID: customer}

	res, err := h.svc.Checkout(ctx, customer, services.CheckoutRequest{
		Items: []services.CartItem{{ProductID: pid, Quantity: 1}}, PaymentMethod: models.PaymentMethodCashOnDelivery, ShippingAddress: address,
	})
	require.NoError(t, err)
	id := res.Order.ID

	_, err = h.svc.AcceptCOD(ctx, id, me)
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))

	_, err = h.svc.AcceptCOD(ctx, id, admin)
	require.NoError(t, err)
	_, err = h.svc.AdvanceFulfillment(ctx, id, admin, models.OrderStatusShipped)
	require.NoError(t, err)
	o, err := h.svc.AdvanceFulfillment(ctx, id, admin, models.OrderStatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, o.PaymentStatus)

	_, err = h.svc.RequestReturn(ctx, id, services.Requester{UserID: uuid.New()}, "not mine")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	_, err = h.svc.RequestReturn(ctx, id, me, "arrived broken")
	require.NoError(t, err)
	o, err = h.svc.DecideReturn(ctx, id, admin, "accept", "refund via bank transfer")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, o.Status)
	assert.Equal(t, "return accepted: arrived broken", o.CancelReason)

	assert.Equal(t, 6, h.publisher.count(models.EventOrderStatusChanged))
	assert.Equal(t, int64(7), h.stored(id).Version)
}

func TestTransition_RetriesAfterVersionConflict(t *testing.T) {
	h := newHarness()
	pid := h.product("Kettle", 500, 3)
	res, err := h.svc.Checkout(ctx, uuid.New(), services.CheckoutRequest{
		Items: []services.CartItem{{ProductID: pid, Quantity: 1}}, PaymentMethod: models.PaymentMethodCashOnDelivery, ShippingAddress: address,
	})
	require.NoError(t, err)

	var once sync.Once
	h.db.onUpdate = func(o *models.Order) {
		// a writer that skipped the lease got in first
		once.Do(func() { o.Version++ })
	}
	o, err := h.svc.AcceptCOD(ctx, res.Order.ID, services.Requester{Admin: true})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusProcessing, o.Status)

	h.db.onUpdate = func(o *models.Order) { o.Version++ }
	_, err = h.svc.AdvanceFulfillment(ctx, res.Order.ID, services.Requester{Admin: true}, models.OrderStatusShipped)
	assert.True(t, errors.Is(err, apperrors.ErrTransient))
	assert.Equal(t, models.OrderStatusProcessing, h.stored(res.Order.ID).Status)
}

func TestGetOrder_RetriesTransientReads(t *testing.T) {
	h := newHarness()
	customer := uuid.New()
	res := checkoutOnline(t, h, customer)

	h.db.transientReads = 2
	o, txns, err := h.svc.GetOrder(ctx, res.Order.ID, services.Requester{UserID: customer})
	require.NoError(t, err)
	assert.Equal(t, res.Order.ID, o.ID)
	assert.Len(t, txns, 1)

	h.db.transientReads = 10
	_, _, err = h.svc.GetOrder(ctx, res.Order.ID, services.Requester{UserID: customer})
	assert.True(t, errors.Is(err, apperrors.ErrTransient))
	h.db.transientReads = 0

	_, _, err = h.svc.GetOrder(ctx, res.Order.ID, services.Requester{UserID: uuid.New()})
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestListOrders_ScopedToCustomer(t *testing.T) {
	h := newHarness()
	alice, bob := uuid.New(), uuid.New()
	checkoutOnline(t, h, alice)
	checkoutOnline(t, h, alice)
	checkoutOnline(t, h, bob)

	page, err := h.svc.ListOrders(ctx, services.Requester{UserID: alice}, repository.OrderFilter{CustomerID: bob})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Meta.TotalOrders)
	for _, o := range page.Orders {
		assert.Equal(t, alice, o.CustomerID)
	}

	page, err = h.svc.ListOrders(ctx, services.Requester{Admin: true}, repository.OrderFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Meta.TotalOrders)
	assert.Len(t, page.Orders, 2)
	assert.True(t, page.Meta.HasMore)

	_, err = h.svc.ListOrders(ctx, services.Requester{Admin: true}, repository.OrderFilter{Status: "lost"})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestCancellation_ReleasesCouponRedemption(t *testing.T) {
	h := newHarness()
	pid := h.product("Desk lamp", 1000, 5)
	seedSpringPromo(h, pid)
	customer := uuid.New()
	who := services.Requester{UserID: customer}

	cod, err := h.svc.Checkout(ctx, customer, services.CheckoutRequest{
		Items:           []services.CartItem{{ProductID: pid, Quantity: 1}},
		CouponCode:      "SAVE10",
		PaymentMethod:   models.PaymentMethodCashOnDelivery,
		ShippingAddress: address,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, h.db.coupons["SAVE10"].UsedCount)

	_, err = h.svc.CancelOrder(ctx, cod.Order.ID, who, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, 0, h.db.coupons["SAVE10"].UsedCount)

	// a rejected second cancel gives nothing back
	_, err = h.svc.CancelOrder(ctx, cod.Order.ID, who, "again")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	assert.Equal(t, 0, h.db.coupons["SAVE10"].UsedCount)

	online, err := h.svc.Checkout(ctx, customer, services.CheckoutRequest{
		Items:           []services.CartItem{{ProductID: pid, Quantity: 1}},
		CouponCode:      "SAVE10",
		PaymentMethod:   models.PaymentMethodOnlineGateway,
		Gateway:         models.GatewayRazorpay,
		ShippingAddress: address,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, h.db.coupons["SAVE10"].UsedCount)

	poid := online.Payment.ProviderOrderID
	out, err := h.svc.HandleGatewayCallback(ctx, models.GatewayCallback{
		Gateway:           models.GatewayRazorpay,
		ProviderOrderID:   poid,
		ProviderPaymentID: "pay_declined",
		Signature:         h.gateway.Sign(poid, "pay_declined"),
		Amount:            online.Order.TotalAmount,
		Currency:          "INR",
		Succeeded:         false,
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, out.Order.Status)
	assert.Equal(t, 0, h.db.coupons["SAVE10"].UsedCount)
}
