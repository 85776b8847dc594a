package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "reconciliation-service/common/errors"
	"reconciliation-service/services"
)

// CheckoutController turns carts into orders.
type CheckoutController struct {
	svc Reconciler
}

func NewCheckoutController(svc Reconciler) *CheckoutController {
	return &CheckoutController{svc: svc}
}

// Checkout handles POST /checkout.
func (cc *CheckoutController) Checkout(ctx *gin.Context) {
	who, ok := requester(ctx)
	if !ok {
		return
	}

	var req services.CheckoutRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	result, err := cc.svc.Checkout(ctx.Request.Context(), who.UserID, req)
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, result)
}

// PreviewPrice handles POST /cart/price.
func (cc *CheckoutController) PreviewPrice(ctx *gin.Context) {
	var req services.PriceRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	result, err := cc.svc.PreviewPrice(ctx.Request.Context(), req)
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}
