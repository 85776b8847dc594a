package routes_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	commonmw "reconciliation-service/common/middleware"
	"reconciliation-service/controllers"
	"reconciliation-service/routes"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// The requests below are all rejected before a controller reaches the
// service, so no reconciler is wired.
func setupRouter(t *testing.T, burst int) *gin.Engine {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := gin.New()
	routes.RegisterRoutes(r, routes.Handlers{
		Checkout: controllers.NewCheckoutController(nil),
		Orders:   controllers.NewOrderController(nil),
		Payments: controllers.NewPaymentWebhookController(nil, nil, zap.NewNop()),
	}, []byte("secret"), commonmw.NewRateLimiter(ctx, rate.Limit(1), burst, time.Minute))
	return r
}

func send(r *gin.Engine, method, path, body string, headers map[string]string) int {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRoutes_RequireIdentity(t *testing.T) {
	r := setupRouter(t, 10)

	assert.Equal(t, http.StatusUnauthorized, send(r, http.MethodPost, "/checkout", "{}", nil))
	assert.Equal(t, http.StatusUnauthorized, send(r, http.MethodGet, "/orders", "", nil))
	assert.Equal(t, http.StatusUnauthorized, send(r, http.MethodGet, "/admin/orders", "", nil))
}

func TestRoutes_AdminOnly(t *testing.T) {
	r := setupRouter(t, 10)
	customer := map[string]string{"X-User-ID": uuid.NewString(), "X-User-Role": "customer"}

	id := uuid.NewString()
	assert.Equal(t, http.StatusForbidden, send(r, http.MethodGet, "/admin/orders", "", customer))
	assert.Equal(t, http.StatusForbidden, send(r, http.MethodPost, "/admin/orders/"+id+"/accept-cod", "", customer))
	assert.Equal(t, http.StatusForbidden, send(r, http.MethodPatch, "/admin/orders/"+id+"/delivery-date", "{}", customer))
}

func TestRoutes_WebhooksArePublicAndRateLimited(t *testing.T) {
	r := setupRouter(t, 2)

	// malformed bodies stop in the controller, after auth would have applied
	assert.Equal(t, http.StatusBadRequest, send(r, http.MethodPost, "/payments/razorpay/callback", "{", nil))
	assert.Equal(t, http.StatusBadRequest, send(r, http.MethodPost, "/payments/razorpay/callback", "{", nil))
	assert.Equal(t, http.StatusTooManyRequests, send(r, http.MethodPost, "/payments/razorpay/callback", "{", nil))
}
