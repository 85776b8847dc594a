package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "reconciliation-service/common/errors"
	"reconciliation-service/lifecycle"
	"reconciliation-service/models"
	aws_pkg "reconciliation-service/pkg/aws"
	"reconciliation-service/pricing"
	"reconciliation-service/providers"
	"reconciliation-service/repository"
)

type CartItem struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,min=1"`
}

// PriceRequest is a cart to be priced without placing an order.
type PriceRequest struct {
	Items       []CartItem `json:"items" validate:"required,min=1,dive"`
	CouponCode  string     `json:"coupon_code" validate:"omitempty,max=64"`
	Destination string     `json:"destination" validate:"omitempty,len=2"`
}

type CheckoutRequest struct {
	Items           []CartItem           `json:"items" validate:"required,min=1,dive"`
	CouponCode      string               `json:"coupon_code" validate:"omitempty,max=64"`
	PaymentMethod   models.PaymentMethod `json:"payment_method" validate:"required,oneof=online_gateway cash_on_delivery"`
	Gateway         models.Gateway       `json:"gateway" validate:"omitempty,oneof=razorpay stripe paypal"`
	ShippingAddress models.Address       `json:"shipping_address"`
}

type CheckoutResult struct {
	Order         *models.Order     `json:"order"`
	TransactionID *uuid.UUID        `json:"transaction_id,omitempty"`
	Payment       *providers.Intent `json:"payment_intent,omitempty"`
	Pricing       *pricing.Result   `json:"-"`
}

// OrderPage is one page of an order listing.
type OrderPage struct {
	Orders []models.Order `json:"orders"`
	Meta   MetaData       `json:"meta"`
}

type MetaData struct {
	Page        int   `json:"page"`
	Limit       int   `json:"limit"`
	TotalOrders int64 `json:"total_orders"`
	TotalPages  int64 `json:"total_pages"`
	HasMore     bool  `json:"has_more"`
}

// Options are the store-wide checkout settings.
type Options struct {
	Currency       string
	DeliveryLead   time.Duration
	DefaultGateway models.Gateway
}

// ReconciliationService is the entry point for every order operation:
// checkout, payment callbacks, lifecycle changes, invoices and queries.
type ReconciliationService struct {
	store      repository.Store
	calculator *pricing.Calculator
	catalog    ProductCatalog
	stock      repository.StockReader
	gateways   *providers.Registry
	verifier   *PaymentVerifier
	orders     *OrderService
	invoices   *InvoiceService
	publisher  EventPublisher
	metrics    *aws_pkg.MetricsClient
	retry      RetryPolicy
	opts       Options
	now        func() time.Time
	logger     *zap.Logger
}

// Deps wires a ReconciliationService.
type Deps struct {
	Store      repository.Store
	Calculator *pricing.Calculator
	Catalog    ProductCatalog
	// Stock overrides the catalog's stock figure when set.
	Stock     repository.StockReader
	Gateways  *providers.Registry
	Verifier  *PaymentVerifier
	Orders    *OrderService
	Invoices  *InvoiceService
	Publisher EventPublisher
	Metrics   *aws_pkg.MetricsClient
	Retry     RetryPolicy
	Logger    *zap.Logger
}

func NewReconciliationService(d Deps, opts Options) *ReconciliationService {
	if opts.Currency == "" {
		opts.Currency = "INR"
	}
	if opts.DefaultGateway == "" {
		opts.DefaultGateway = models.GatewayRazorpay
	}
	return &ReconciliationService{
		store:      d.Store,
		calculator: d.Calculator,
		catalog:    d.Catalog,
		stock:      d.Stock,
		gateways:   d.Gateways,
		verifier:   d.Verifier,
		orders:     d.Orders,
		invoices:   d.Invoices,
		publisher:  d.Publisher,
		metrics:    d.Metrics,
		retry:      d.Retry,
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     d.Logger,
	}
}

// PreviewPrice prices a cart exactly as checkout would, without side effects.
func (s *ReconciliationService) PreviewPrice(ctx context.Context, req PriceRequest) (*pricing.Result, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	_, res, err := s.price(ctx, req.Items, req.CouponCode, req.Destination, s.now())
	return res, err
}

// Checkout prices the cart and places the order. Online orders also get a
// gateway intent and a created payment transaction, stored atomically with
// the order and the coupon redemption.
func (s *ReconciliationService) Checkout(ctx context.Context, customerID uuid.UUID, req CheckoutRequest) (*CheckoutResult, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	now := s.now()
	coupon, priced, err := s.price(ctx, req.Items, req.CouponCode, req.ShippingAddress.Country, now)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:                   uuid.New(),
		CustomerID:           customerID,
		ItemsPrice:           priced.ItemsPrice,
		ShippingPrice:        priced.ShippingPrice,
		TaxPrice:             priced.TaxPrice,
		TotalAmount:          priced.TotalAmount,
		DiscountAmount:       priced.DiscountAmount,
		Currency:             s.opts.Currency,
		CouponCode:           priced.CouponCode,
		Status:               models.OrderStatusPending,
		PaymentMethod:        req.PaymentMethod,
		PaymentStatus:        models.PaymentStatusUnpaid,
		ShippingAddress:      req.ShippingAddress,
		ExpectedDeliveryDate: now.Add(s.opts.DeliveryLead),
		Version:              1,
		CreatedAt:            now,
	}
	order.ShippingAddress.Country = strings.ToUpper(order.ShippingAddress.Country)
	for _, l := range priced.Lines {
		order.Items = append(order.Items, models.OrderItem{
			ID:             uuid.New(),
			OrderID:        order.ID,
			ProductID:      l.ProductID,
			Name:           l.Name,
			Quantity:       l.Quantity,
			ListPrice:      l.ListPrice,
			UnitPrice:      l.UnitPrice,
			CouponDiscount: l.CouponDiscount,
			LineTotal:      l.LineTotal,
			SaleID:         l.SaleID,
		})
	}

	result := &CheckoutResult{Order: order, Pricing: priced}
	var txn *models.PaymentTransaction
	if req.PaymentMethod == models.PaymentMethodOnlineGateway {
		name := req.Gateway
		if name == "" {
			name = s.opts.DefaultGateway
		}
		gw, err := s.gateways.Get(name)
		if err != nil {
			return nil, err
		}
		intent, err := gw.CreateIntent(ctx, order.ID, order.TotalAmount, order.Currency)
		if err != nil {
			s.logger.Error("Failed to create payment intent", zap.String("gateway", string(name)), zap.Error(err))
			var appErr *apperrors.Error
			if errors.As(err, &appErr) {
				return nil, appErr
			}
			return nil, apperrors.Transient("payment gateway unavailable", err)
		}
		txn = &models.PaymentTransaction{
			ID:              uuid.New(),
			OrderID:         order.ID,
			CustomerID:      customerID,
			Gateway:         name,
			Status:          models.TransactionCreated,
			Amount:          order.TotalAmount,
			Currency:        order.Currency,
			ProviderOrderID: intent.ProviderOrderID,
		}
		result.Payment = intent
		result.TransactionID = &txn.ID
	}

	// Not retried: the gateway intent above is already spent on this order id.
	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.Orders().Create(ctx, order); err != nil {
			return err
		}
		if txn != nil {
			if err := tx.Payments().Create(ctx, txn); err != nil {
				return err
			}
		}
		if coupon != nil {
			ok, err := tx.Promotions().RedeemCoupon(ctx, coupon.ID)
			if err != nil {
				return err
			}
			if !ok {
				return apperrors.Coupon(apperrors.CouponUsageLimitReached, "coupon "+coupon.Code+" has reached its usage limit")
			}
		}
		return nil
	})
	if err != nil {
		var appErr *apperrors.Error
		switch {
		case errors.As(err, &appErr):
			return nil, appErr
		case repository.IsTransient(err):
			return nil, apperrors.Transient("failed to store order", err)
		}
		s.logger.Error("Failed to store order", zap.String("order_id", order.ID.String()), zap.Error(err))
		return nil, apperrors.Internal("failed to store order", err)
	}

	s.logger.Info("Order created",
		zap.String("order_id", order.ID.String()),
		zap.String("customer_id", customerID.String()),
		zap.String("payment_method", string(order.PaymentMethod)),
		zap.Int64("total_amount", order.TotalAmount),
		zap.String("coupon", order.CouponCode),
	)
	publish(ctx, s.publisher, s.logger, models.NewOrderEvent(models.EventOrderCreated, order, now))
	s.metrics.RecordCount(ctx, aws_pkg.MetricOrdersCreated, map[string]string{"PaymentMethod": string(order.PaymentMethod)})
	return result, nil
}

// price resolves catalog prices, stock, sales and the coupon, then runs the
// calculator. It returns the coupon record used, if any.
func (s *ReconciliationService) price(ctx context.Context, items []CartItem, couponCode, destination string, now time.Time) (*models.Coupon, *pricing.Result, error) {
	lines := make([]pricing.Line, 0, len(items))
	for _, it := range items {
		p, err := s.catalog.FetchProduct(ctx, it.ProductID)
		if err != nil {
			return nil, nil, err
		}
		available := p.Stock
		if s.stock != nil {
			if available, err = s.stock.Available(ctx, it.ProductID); err != nil {
				return nil, nil, apperrors.Transient("inventory unavailable", err)
			}
		}
		lines = append(lines, pricing.Line{
			ProductID: it.ProductID,
			Name:      p.Name,
			Quantity:  it.Quantity,
			ListPrice: p.PriceMinor(),
			Available: available,
		})
	}

	var sales []models.Sale
	var coupon *models.Coupon
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		if sales, err = s.store.Promotions().ActiveSales(ctx, now); err != nil {
			return err
		}
		if strings.TrimSpace(couponCode) == "" {
			return nil
		}
		coupon, err = s.store.Promotions().FindCouponByCode(ctx, couponCode)
		if errors.Is(err, repository.ErrNotFound) {
			coupon, err = nil, nil
		}
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	res, err := s.calculator.Price(pricing.Input{
		Lines:       lines,
		CouponCode:  couponCode,
		Coupon:      coupon,
		Sales:       sales,
		Destination: destination,
		Now:         now,
	})
	if err != nil {
		return nil, nil, err
	}
	if res.CouponCode == "" {
		coupon = nil
	}
	return coupon, res, nil
}

// HandleGatewayCallback verifies a gateway callback and reports the outcome.
func (s *ReconciliationService) HandleGatewayCallback(ctx context.Context, cb models.GatewayCallback) (*VerifyOutcome, error) {
	out, err := s.verifier.Verify(ctx, cb)
	if err != nil {
		return nil, err
	}
	if out.Duplicate {
		return out, nil
	}

	eventType, metric := models.EventPaymentVerified, aws_pkg.MetricPaymentSucceeded
	if out.Transaction.Status == models.TransactionFailed {
		eventType, metric = models.EventPaymentFailed, aws_pkg.MetricPaymentFailed
	}
	evt := models.NewOrderEvent(eventType, out.Order, s.now())
	evt.TransactionID = out.Transaction.ID.String()
	publish(ctx, s.publisher, s.logger, evt)
	s.metrics.RecordCount(ctx, metric, map[string]string{"Gateway": string(out.Transaction.Gateway)})
	return out, nil
}

func (s *ReconciliationService) AcceptCOD(ctx context.Context, orderID uuid.UUID, who Requester) (*models.Order, error) {
	return s.orders.Transition(ctx, orderID, who, lifecycle.Command{Transition: lifecycle.AcceptCOD})
}

func (s *ReconciliationService) AdvanceFulfillment(ctx context.Context, orderID uuid.UUID, who Requester, target models.OrderStatus) (*models.Order, error) {
	if !target.Valid() {
		return nil, apperrors.Validation("unknown order status " + string(target))
	}
	return s.orders.Transition(ctx, orderID, who, lifecycle.Command{Transition: lifecycle.AdvanceFulfillment, Target: target})
}

func (s *ReconciliationService) RequestReturn(ctx context.Context, orderID uuid.UUID, who Requester, reason string) (*models.Order, error) {
	return s.orders.Transition(ctx, orderID, who, lifecycle.Command{Transition: lifecycle.RequestReturn, Reason: reason})
}

func (s *ReconciliationService) RequestExchange(ctx context.Context, orderID uuid.UUID, who Requester, reason string) (*models.Order, error) {
	return s.orders.Transition(ctx, orderID, who, lifecycle.Command{Transition: lifecycle.RequestExchange, Reason: reason})
}

func (s *ReconciliationService) DecideReturn(ctx context.Context, orderID uuid.UUID, who Requester, decision lifecycle.Decision, note string) (*models.Order, error) {
	return s.orders.Transition(ctx, orderID, who, lifecycle.Command{Transition: lifecycle.DecideReturn, Decision: decision, Note: note})
}

func (s *ReconciliationService) DecideExchange(ctx context.Context, orderID uuid.UUID, who Requester, decision lifecycle.Decision, note string) (*models.Order, error) {
	return s.orders.Transition(ctx, orderID, who, lifecycle.Command{Transition: lifecycle.DecideExchange, Decision: decision, Note: note})
}

func (s *ReconciliationService) CancelOrder(ctx context.Context, orderID uuid.UUID, who Requester, reason string) (*models.Order, error) {
	return s.orders.Transition(ctx, orderID, who, lifecycle.Command{Transition: lifecycle.Cancel, Reason: reason})
}

func (s *ReconciliationService) SetExpectedDelivery(ctx context.Context, orderID uuid.UUID, who Requester, date time.Time) (*models.Order, error) {
	return s.orders.Transition(ctx, orderID, who, lifecycle.Command{Transition: lifecycle.SetExpectedDelivery, Date: date})
}

func (s *ReconciliationService) GenerateInvoice(ctx context.Context, orderID uuid.UUID, who Requester) (string, error) {
	return s.invoices.Generate(ctx, orderID, who)
}

// GetOrder returns one order with its payment transactions.
func (s *ReconciliationService) GetOrder(ctx context.Context, orderID uuid.UUID, who Requester) (*models.Order, []models.PaymentTransaction, error) {
	var o *models.Order
	var txns []models.PaymentTransaction
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		if o, err = s.store.Orders().FindByID(ctx, orderID); err != nil {
			return err
		}
		txns, err = s.store.Payments().ListByOrderID(ctx, orderID)
		return err
	})
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !who.canSee(o)) {
		return nil, nil, apperrors.NotFound("order not found")
	}
	if err != nil {
		return nil, nil, err
	}
	return o, txns, nil
}

// ListOrders pages through orders. Customers only ever see their own.
func (s *ReconciliationService) ListOrders(ctx context.Context, who Requester, filter repository.OrderFilter) (*OrderPage, error) {
	if !who.Admin {
		filter.CustomerID = who.UserID
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperrors.Validation("unknown order status " + string(filter.Status))
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 || filter.Limit > 100 {
		filter.Limit = 20
	}

	var orders []models.Order
	var total int64
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		orders, total, err = s.store.Orders().List(ctx, filter)
		return err
	})
	if err != nil {
		return nil, err
	}

	pages := (total + int64(filter.Limit) - 1) / int64(filter.Limit)
	return &OrderPage{
		Orders: orders,
		Meta: MetaData{
			Page:        filter.Page,
			Limit:       filter.Limit,
			TotalOrders: total,
			TotalPages:  pages,
			HasMore:     int64(filter.Page) < pages,
		},
	}, nil
}
