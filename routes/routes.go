package routes

import (
	"github.com/gin-gonic/gin"

	"reconciliation-service/controllers"
	commonmw "reconciliation-service/common/middleware"
	"reconciliation-service/middleware"
)

// Handlers groups the controllers the routes dispatch to.
type Handlers struct {
	Checkout *controllers.CheckoutController
	Orders   *controllers.OrderController
	Payments *controllers.PaymentWebhookController
}

// RegisterRoutes sets up storefront, admin and gateway callback routes.
// Callback routes are public: they authenticate by gateway signature.
func RegisterRoutes(r *gin.Engine, h Handlers, jwtSecret []byte, webhookLimiter *commonmw.RateLimiter) {
	auth := middleware.AuthMiddleware(jwtSecret)

	payments := r.Group("/payments")
	if webhookLimiter != nil {
		payments.Use(webhookLimiter.Middleware())
	}
	payments.POST("/razorpay/callback", h.Payments.RazorpayCallback)
	payments.POST("/stripe/webhook", h.Payments.StripeWebhook)

	storefront := r.Group("/")
	storefront.Use(auth)
	storefront.POST("/checkout", h.Checkout.Checkout)
	storefront.POST("/cart/price", h.Checkout.PreviewPrice)

	orders := r.Group("/orders")
	orders.Use(auth)
	orders.GET("", h.Orders.GetOrders) // User's own orders
	orders.GET("/:id", h.Orders.GetOrderByID)
	orders.POST("/:id/return", h.Orders.RequestReturn)
	orders.POST("/:id/exchange", h.Orders.RequestExchange)
	orders.POST("/:id/cancel", h.Orders.CancelOrder)
	orders.POST("/:id/invoice", h.Orders.GenerateInvoice)

	admin := r.Group("/admin/orders")
	admin.Use(auth, middleware.AdminOnly())
	admin.GET("", h.Orders.GetOrders) // All orders
	admin.POST("/:id/accept-cod", h.Orders.AcceptCOD)
	admin.POST("/:id/fulfillment", h.Orders.AdvanceFulfillment)
	admin.POST("/:id/return-decision", h.Orders.DecideReturn)
	admin.POST("/:id/exchange-decision", h.Orders.DecideExchange)
	admin.POST("/:id/cancel", h.Orders.CancelOrder)
	admin.PATCH("/:id/delivery-date", h.Orders.SetExpectedDelivery)
}
