package controllers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "reconciliation-service/common/errors"
	"reconciliation-service/lifecycle"
	"reconciliation-service/middleware"
	"reconciliation-service/models"
	"reconciliation-service/pricing"
	"reconciliation-service/repository"
	"reconciliation-service/services"
)

// Reconciler is the order API the controllers drive.
type Reconciler interface {
	PreviewPrice(ctx context.Context, req services.PriceRequest) (*pricing.Result, error)
	Checkout(ctx context.Context, customerID uuid.UUID, req services.CheckoutRequest) (*services.CheckoutResult, error)
	HandleGatewayCallback(ctx context.Context, cb models.GatewayCallback) (*services.VerifyOutcome, error)
	AcceptCOD(ctx context.Context, orderID uuid.UUID, who services.Requester) (*models.Order, error)
	AdvanceFulfillment(ctx context.Context, orderID uuid.UUID, who services.Requester, target models.OrderStatus) (*models.Order, error)
	RequestReturn(ctx context.Context, orderID uuid.UUID, who services.Requester, reason string) (*models.Order, error)
	RequestExchange(ctx context.Context, orderID uuid.UUID, who services.Requester, reason string) (*models.Order, error)
	DecideReturn(ctx context.Context, orderID uuid.UUID, who services.Requester, decision lifecycle.Decision, note string) (*models.Order, error)
	DecideExchange(ctx context.Context, orderID uuid.UUID, who services.Requester, decision lifecycle.Decision, note string) (*models.Order, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID, who services.Requester, reason string) (*models.Order, error)
	SetExpectedDelivery(ctx context.Context, orderID uuid.UUID, who services.Requester, date time.Time) (*models.Order, error)
	GenerateInvoice(ctx context.Context, orderID uuid.UUID, who services.Requester) (string, error)
	GetOrder(ctx context.Context, orderID uuid.UUID, who services.Requester) (*models.Order, []models.PaymentTransaction, error)
	ListOrders(ctx context.Context, who services.Requester, filter repository.OrderFilter) (*services.OrderPage, error)
}

type OrderController struct {
	svc Reconciler
}

func NewOrderController(svc Reconciler) *OrderController {
	return &OrderController{svc: svc}
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type decisionRequest struct {
	Decision lifecycle.Decision `json:"decision" binding:"required"`
	Note     string             `json:"note"`
}

type fulfillmentRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}

type deliveryDateRequest struct {
	ExpectedDeliveryDate time.Time `json:"expected_delivery_date" binding:"required"`
}

// GetOrders handles GET /orders and GET /admin/orders.
func (oc *OrderController) GetOrders(ctx *gin.Context) {
	who, ok := requester(ctx)
	if !ok {
		return
	}

	page, limit := parsePaginationParams(ctx)
	filter := repository.OrderFilter{
		Status: models.OrderStatus(ctx.Query("status")),
		Page:   page,
		Limit:  limit,
	}
	if who.Admin {
		if raw := ctx.Query("customer_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid customer ID format"})
				return
			}
			filter.CustomerID = id
		}
	}

	result, err := oc.svc.ListOrders(ctx.Request.Context(), who, filter)
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// GetOrderByID handles GET /orders/:id.
func (oc *OrderController) GetOrderByID(ctx *gin.Context) {
	who, ok := requester(ctx)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx)
	if !ok {
		return
	}

	order, txns, err := oc.svc.GetOrder(ctx.Request.Context(), orderID, who)
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": order, "payments": txns})
}

// RequestReturn handles POST /orders/:id/return.
func (oc *OrderController) RequestReturn(ctx *gin.Context) {
	oc.withReason(ctx, oc.svc.RequestReturn)
}

// RequestExchange handles POST /orders/:id/exchange.
func (oc *OrderController) RequestExchange(ctx *gin.Context) {
	oc.withReason(ctx, oc.svc.RequestExchange)
}

// CancelOrder handles POST /orders/:id/cancel and POST /admin/orders/:id/cancel.
func (oc *OrderController) CancelOrder(ctx *gin.Context) {
	oc.withReason(ctx, oc.svc.CancelOrder)
}

// GenerateInvoice handles POST /orders/:id/invoice.
func (oc *OrderController) GenerateInvoice(ctx *gin.Context) {
	who, ok := requester(ctx)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx)
	if !ok {
		return
	}

	url, err := oc.svc.GenerateInvoice(ctx.Request.Context(), orderID, who)
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"invoice_url": url})
}

// AcceptCOD handles POST /admin/orders/:id/accept-cod.
func (oc *OrderController) AcceptCOD(ctx *gin.Context) {
	who, ok := requester(ctx)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx)
	if !ok {
		return
	}
	oc.respondOrder(ctx, func() (*models.Order, error) {
		return oc.svc.AcceptCOD(ctx.Request.Context(), orderID, who)
	})
}

// AdvanceFulfillment handles POST /admin/orders/:id/fulfillment.
func (oc *OrderController) AdvanceFulfillment(ctx *gin.Context) {
	who, ok := requester(ctx)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx)
	if !ok {
		return
	}
	var req fulfillmentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	oc.respondOrder(ctx, func() (*models.Order, error) {
		return oc.svc.AdvanceFulfillment(ctx.Request.Context(), orderID, who, req.Status)
	})
}

// DecideReturn handles POST /admin/orders/:id/return-decision.
func (oc *OrderController) DecideReturn(ctx *gin.Context) {
	oc.withDecision(ctx, oc.svc.DecideReturn)
}

// DecideExchange handles POST /admin/orders/:id/exchange-decision.
func (oc *OrderController) DecideExchange(ctx *gin.Context) {
	oc.withDecision(ctx, oc.svc.DecideExchange)
}

// SetExpectedDelivery handles PATCH /admin/orders/:id/delivery-date.
func (oc *OrderController) SetExpectedDelivery(ctx *gin.Context) {
	who, ok := requester(ctx)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx)
	if !ok {
		return
	}
	var req deliveryDateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	oc.respondOrder(ctx, func() (*models.Order, error) {
		return oc.svc.SetExpectedDelivery(ctx.Request.Context(), orderID, who, req.ExpectedDeliveryDate)
	})
}

func (oc *OrderController) withReason(ctx *gin.Context, fn func(context.Context, uuid.UUID, services.Requester, string) (*models.Order, error)) {
	who, ok := requester(ctx)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx)
	if !ok {
		return
	}
	var req reasonRequest
	// the body is optional for cancel
	if ctx.Request.ContentLength != 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
			return
		}
	}
	oc.respondOrder(ctx, func() (*models.Order, error) {
		return fn(ctx.Request.Context(), orderID, who, req.Reason)
	})
}

func (oc *OrderController) withDecision(ctx *gin.Context, fn func(context.Context, uuid.UUID, services.Requester, lifecycle.Decision, string) (*models.Order, error)) {
	who, ok := requester(ctx)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx)
	if !ok {
		return
	}
	var req decisionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	oc.respondOrder(ctx, func() (*models.Order, error) {
		return fn(ctx.Request.Context(), orderID, who, req.Decision, req.Note)
	})
}

func (oc *OrderController) respondOrder(ctx *gin.Context, fn func() (*models.Order, error)) {
	order, err := fn()
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": order})
}

func requester(ctx *gin.Context) (services.Requester, bool) {
	who, err := middleware.GetRequester(ctx)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return who, false
	}
	return who, true
}

func orderIDParam(ctx *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID format"})
		return uuid.Nil, false
	}
	return id, true
}

// parsePaginationParams extracts and validates pagination parameters
func parsePaginationParams(ctx *gin.Context) (int, int) {
	const MaxLimit = 100
	const DefaultPage = 1
	const DefaultLimit = 20

	pageInt := DefaultPage
	limitInt := DefaultLimit

	if p, err := strconv.Atoi(ctx.Query("page")); err == nil && p > 0 {
		pageInt = p
	}
	if l, err := strconv.Atoi(ctx.Query("limit")); err == nil && l > 0 {
		limitInt = l
		if limitInt > MaxLimit {
			limitInt = MaxLimit
		}
	}
	return pageInt, limitInt
}
