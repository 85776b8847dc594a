package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	awspkg "reconciliation-service/pkg/aws"
)

// MetricsMiddleware publishes request count, latency and error class per
// route template. Publishing happens off the request path.
func MetricsMiddleware(metricsClient *awspkg.MetricsClient, serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !metricsClient.IsEnabled() {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		// route template keeps per-order paths from exploding dimensions
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		dimensions := map[string]string{
			"Service": serviceName,
			"Method":  c.Request.Method,
			"Path":    route,
			"Status":  statusClass(status),
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsClient.Put(ctx, dimensions, httpData(status, elapsed)...)
		}()
	}
}

func httpData(status int, elapsed time.Duration) []awspkg.Datum {
	data := []awspkg.Datum{
		awspkg.Count(awspkg.MetricHTTPRequests),
		awspkg.Latency(awspkg.MetricHTTPLatency, elapsed),
	}
	switch {
	case status >= 500:
		data = append(data, awspkg.Count(awspkg.MetricHTTPErrors), awspkg.Count(awspkg.MetricHTTP5xx))
	case status >= 400:
		data = append(data, awspkg.Count(awspkg.MetricHTTPErrors), awspkg.Count(awspkg.MetricHTTP4xx))
	}
	return data
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "unknown"
	}
}
