package aws

import (
	"context"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metric names.
const (
	MetricHTTPRequests = "HTTPRequests"
	MetricHTTPErrors   = "HTTPErrors"
	MetricHTTPLatency  = "HTTPLatency"
	MetricHTTP4xx      = "HTTP4xxErrors"
	MetricHTTP5xx      = "HTTP5xxErrors"

	MetricOrdersCreated     = "OrdersCreated"
	MetricOrdersCancelled   = "OrdersCancelled"
	MetricPaymentSucceeded  = "PaymentSucceeded"
	MetricPaymentFailed     = "PaymentFailed"
	MetricInvoicesGenerated = "InvoicesGenerated"

	MetricSQSMessages = "SQSMessagesProcessed"
)

// Datum is one data point; every datum in a Put call shares its dimensions.
type Datum struct {
	Name  string
	Value float64
	Unit  types.StandardUnit
}

func Count(name string) Datum {
	return Datum{Name: name, Value: 1, Unit: types.StandardUnitCount}
}

func Latency(name string, d time.Duration) Datum {
	return Datum{Name: name, Value: float64(d.Milliseconds()), Unit: types.StandardUnitMilliseconds}
}

// MetricsClient publishes CloudWatch metrics. A nil or disabled client
// drops everything, so callers never need to check.
type MetricsClient struct {
	client    *cloudwatch.Client
	namespace string
	enabled   bool
}

func NewMetricsClient(cfg sdkaws.Config, namespace string, enabled bool) *MetricsClient {
	if namespace == "" {
		namespace = "ECommerce"
	}
	return &MetricsClient{
		client:    cloudwatch.NewFromConfig(cfg),
		namespace: namespace,
		enabled:   enabled,
	}
}

func (m *MetricsClient) IsEnabled() bool {
	return m != nil && m.enabled
}

// Put sends data in a single PutMetricData call.
func (m *MetricsClient) Put(ctx context.Context, dimensions map[string]string, data ...Datum) error {
	if !m.IsEnabled() || len(data) == 0 {
		return nil
	}

	dims := make([]types.Dimension, 0, len(dimensions))
	for k, v := range dimensions {
		dims = append(dims, types.Dimension{Name: sdkaws.String(k), Value: sdkaws.String(v)})
	}

	now := time.Now()
	datums := make([]types.MetricDatum, len(data))
	for i, d := range data {
		datums[i] = types.MetricDatum{
			MetricName: sdkaws.String(d.Name),
			Value:      sdkaws.Float64(d.Value),
			Unit:       d.Unit,
			Timestamp:  sdkaws.Time(now),
			Dimensions: dims,
		}
	}

	if _, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  sdkaws.String(m.namespace),
		MetricData: datums,
	}); err != nil {
		return fmt.Errorf("failed to put metrics: %w", err)
	}
	return nil
}

// RecordCount increments a counter.
func (m *MetricsClient) RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error {
	return m.Put(ctx, dimensions, Count(metricName))
}
