package main

import (
	"context"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"reconciliation-service/database"
	"reconciliation-service/invoice"
	"reconciliation-service/models"
	aws_pkg "reconciliation-service/pkg/aws"
	"reconciliation-service/pricing"
	"reconciliation-service/services"
)

// Config holds all configuration for the reconciliation service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	Port        string `env:"PORT" envDefault:"8093"`

	Postgres Postgres `envPrefix:"POSTGRES_"`
	RedisURL string   `env:"REDIS_URL"`

	ProductServiceURL string `env:"PRODUCT_SERVICE_URL" envDefault:"http://product-service:8082"`
	InventoryTable    string `env:"INVENTORY_TABLE"`

	Razorpay Razorpay `envPrefix:"RAZORPAY_"`
	Stripe   Stripe   `envPrefix:"STRIPE_"`

	Pricing  Pricing
	Checkout Checkout
	Invoice  Invoice `envPrefix:"INVOICE_"`

	AWS AWS `envPrefix:"AWS_"`

	OrderSNSTopicARN        string   `env:"ORDER_SNS_TOPIC_ARN"`
	KafkaBrokers            []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic              string   `env:"KAFKA_TOPIC" envDefault:"orders.reconciliation"`
	PaymentCallbackQueueURL string   `env:"PAYMENT_CALLBACK_QUEUE_URL"`

	JWTSecret   string   `env:"JWT_SECRET"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	CloudWatchEnabled bool   `env:"CLOUDWATCH_ENABLED" envDefault:"false"`
	LogGroup          string `env:"CLOUDWATCH_LOG_GROUP" envDefault:"/ecs/reconciliation-service"`
	MetricsNamespace  string `env:"METRICS_NAMESPACE" envDefault:"ECommerce/Reconciliation"`

	WebhookRateLimit float64 `env:"WEBHOOK_RATE_LIMIT" envDefault:"20"`
	WebhookBurst     int     `env:"WEBHOOK_BURST" envDefault:"40"`

	RetryAttempts  int           `env:"STORAGE_RETRY_ATTEMPTS" envDefault:"3"`
	RetryBaseDelay time.Duration `env:"STORAGE_RETRY_BASE_DELAY" envDefault:"100ms"`
	OrderLockTTL   time.Duration `env:"ORDER_LOCK_TTL" envDefault:"10s"`
	OrderLockWait  time.Duration `env:"ORDER_LOCK_WAIT" envDefault:"5s"`
}

type Postgres struct {
	User     string `env:"USER"`
	Password string `env:"PASSWORD"`
	DB       string `env:"DB"`
	Host     string `env:"HOST"`
	Port     string `env:"PORT" envDefault:"5432"`
	SSLMode  string `env:"SSLMODE" envDefault:"disable"`
	TimeZone string `env:"TIMEZONE" envDefault:"Asia/Kolkata"`

	MaxOpenConns int           `env:"MAX_OPEN_CONNS" envDefault:"25"`
	SlowQuery    time.Duration `env:"SLOW_QUERY" envDefault:"200ms"`
}

type Razorpay struct {
	KeyID     string `env:"KEY_ID"`
	KeySecret string `env:"KEY_SECRET"`
	BaseURL   string `env:"BASE_URL"`
}

type Stripe struct {
	APIKey        string `env:"API_KEY"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
}

type Pricing struct {
	TaxRatePercent        float64 `env:"TAX_RATE_PERCENT" envDefault:"8"`
	ShippingFlatFee       int64   `env:"SHIPPING_FLAT_FEE" envDefault:"5000"`
	FreeShippingThreshold int64   `env:"FREE_SHIPPING_THRESHOLD" envDefault:"50000"`
	// ShippingFees is "US:9000,GB:7000".
	ShippingFees map[string]int64 `env:"SHIPPING_FEES" envSeparator:"," envKeyValSeparator:":"`
}

type Checkout struct {
	Currency         string `env:"DEFAULT_CURRENCY" envDefault:"INR"`
	DefaultGateway   string `env:"DEFAULT_GATEWAY" envDefault:"razorpay"`
	DeliveryLeadDays int    `env:"DELIVERY_LEAD_DAYS" envDefault:"7"`
}

type Invoice struct {
	Bucket        string `env:"BUCKET"`
	BaseURL       string `env:"BASE_URL"`
	SellerName    string `env:"SELLER_NAME" envDefault:"ShopSwift Retail Pvt Ltd"`
	SellerAddress string `env:"SELLER_ADDRESS" envDefault:"123 Warehouse Blvd, Bengaluru 560001, IN"`
	SellerTaxID   string `env:"SELLER_TAX_ID"`
}

type AWS struct {
	Region     string `env:"REGION" envDefault:"ap-south-1"`
	Endpoint   string `env:"ENDPOINT"`
	UseSecrets bool   `env:"USE_SECRETS" envDefault:"false"`

	AccessKeyID     string `env:"ACCESS_KEY_ID"`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY"`
}

func (a AWS) Options() aws_pkg.Options {
	return aws_pkg.Options{
		Region:          a.Region,
		Endpoint:        a.Endpoint,
		AccessKeyID:     a.AccessKeyID,
		SecretAccessKey: a.SecretAccessKey,
	}
}

// Secret names read when AWS_USE_SECRETS is set.
const (
	dbSecretName      = "reconciliation/DB_CREDENTIALS"
	gatewaySecretName = "reconciliation/GATEWAY_CREDENTIALS"
)

// SecretMapReader reads a JSON object secret.
type SecretMapReader interface {
	GetSecretMap(ctx context.Context, name string) (map[string]string, error)
}

// LoadConfig reads .env (when present) and the environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// ApplySecrets overrides credentials with values from Secrets Manager.
// Missing secrets keep the environment values.
func (c *Config) ApplySecrets(ctx context.Context, sm SecretMapReader) {
	if m, err := sm.GetSecretMap(ctx, dbSecretName); err == nil {
		override(&c.Postgres.User, m["POSTGRES_USER"])
		override(&c.Postgres.Password, m["POSTGRES_PASSWORD"])
		override(&c.Postgres.DB, m["POSTGRES_DB"])
		override(&c.Postgres.Host, m["POSTGRES_HOST"])
		override(&c.Postgres.Port, m["POSTGRES_PORT"])
	}
	if m, err := sm.GetSecretMap(ctx, gatewaySecretName); err == nil {
		override(&c.Razorpay.KeyID, m["RAZORPAY_KEY_ID"])
		override(&c.Razorpay.KeySecret, m["RAZORPAY_KEY_SECRET"])
		override(&c.Stripe.APIKey, m["STRIPE_API_KEY"])
		override(&c.Stripe.WebhookSecret, m["STRIPE_WEBHOOK_SECRET"])
		override(&c.JWTSecret, m["JWT_SECRET"])
	}
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Validate reports the first missing required value.
func (c *Config) Validate() error {
	p := c.Postgres
	if p.User == "" || p.Password == "" || p.DB == "" || p.Host == "" {
		return fmt.Errorf("database config incomplete")
	}
	if c.ProductServiceURL == "" {
		return fmt.Errorf("PRODUCT_SERVICE_URL is required")
	}
	if c.Invoice.Bucket == "" {
		return fmt.Errorf("INVOICE_BUCKET is required")
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("STORAGE_RETRY_ATTEMPTS must be at least 1")
	}
	if c.Checkout.DeliveryLeadDays < 0 {
		return fmt.Errorf("DELIVERY_LEAD_DAYS must not be negative")
	}
	return nil
}

func (c *Config) PostgresConfig() database.PostgresConfig {
	return database.PostgresConfig{
		Host:     c.Postgres.Host,
		Port:     c.Postgres.Port,
		User:     c.Postgres.User,
		Password: c.Postgres.Password,
		DBName:   c.Postgres.DB,
		SSLMode:  c.Postgres.SSLMode,
		TimeZone: c.Postgres.TimeZone,

		MaxOpenConns: c.Postgres.MaxOpenConns,
		SlowQuery:    c.Postgres.SlowQuery,
	}
}

func (c *Config) PricingPolicy() pricing.Policy {
	return pricing.Policy{
		Stacking:              pricing.SaleThenCoupon,
		TaxRatePercent:        c.Pricing.TaxRatePercent,
		ShippingFlatFee:       c.Pricing.ShippingFlatFee,
		FreeShippingThreshold: c.Pricing.FreeShippingThreshold,
		ShippingFees:          c.Pricing.ShippingFees,
	}
}

func (c *Config) CheckoutOptions() services.Options {
	return services.Options{
		Currency:       c.Checkout.Currency,
		DeliveryLead:   time.Duration(c.Checkout.DeliveryLeadDays) * 24 * time.Hour,
		DefaultGateway: models.Gateway(c.Checkout.DefaultGateway),
	}
}

func (c *Config) RetryPolicy() services.RetryPolicy {
	return services.RetryPolicy{Attempts: c.RetryAttempts, BaseDelay: c.RetryBaseDelay}
}

func (c *Config) Seller() invoice.Seller {
	return invoice.Seller{
		Name:    c.Invoice.SellerName,
		Address: c.Invoice.SellerAddress,
		TaxID:   c.Invoice.SellerTaxID,
	}
}
