package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apperrors "reconciliation-service/common/errors"
	"reconciliation-service/common/logger"
	commonmw "reconciliation-service/common/middleware"
	"reconciliation-service/consumer"
	"reconciliation-service/controllers"
	"reconciliation-service/database"
	"reconciliation-service/kafka"
	"reconciliation-service/models"
	aws_pkg "reconciliation-service/pkg/aws"
	"reconciliation-service/pricing"
	"reconciliation-service/providers"
	"reconciliation-service/repository"
	"reconciliation-service/routes"
	"reconciliation-service/services"
)

const serviceName = "reconciliation-service"

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, awsErr := aws_pkg.LoadAWSConfig(ctx, cfg.AWS.Options())

	var cwWriter io.Writer
	if cfg.CloudWatchEnabled && awsErr == nil {
		if w, err := aws_pkg.NewCloudWatchLogsClient(ctx, awsCfg, cfg.LogGroup, serviceName); err == nil {
			cwWriter = w
		} else {
			log.Printf("CloudWatch logging disabled: %v", err)
		}
	}

	zapLogger, err := logger.New(cfg.Environment, cwWriter)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync() //nolint:errcheck

	if awsErr != nil {
		zapLogger.Fatal("AWS config unavailable", zap.Error(awsErr))
	}

	if cfg.AWS.UseSecrets {
		cfg.ApplySecrets(ctx, aws_pkg.NewSecretsClient(awsCfg))
	}
	if err := cfg.Validate(); err != nil {
		zapLogger.Fatal("Invalid config", zap.Error(err))
	}

	db, err := database.ConnectPostgres(cfg.PostgresConfig(), zapLogger,
		&models.Order{}, &models.OrderItem{}, &models.PaymentTransaction{}, &models.Sale{}, &models.Coupon{})
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db) //nolint:errcheck

	// Per-order lease: Redis when configured so every replica shares it.
	var locker repository.OrderLocker = repository.NewLocalOrderLocker()
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			zapLogger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close() //nolint:errcheck
		locker = repository.NewRedisOrderLocker(redisClient, cfg.OrderLockTTL, cfg.OrderLockWait, zapLogger)
	} else {
		zapLogger.Warn("REDIS_URL not set, order leases are local to this process")
	}

	var stock repository.StockReader
	if cfg.InventoryTable != "" {
		stock = repository.NewDynamoStockReader(aws_pkg.NewDynamoDBClient(awsCfg), cfg.InventoryTable)
	}

	calculator, err := pricing.NewCalculator(cfg.PricingPolicy())
	if err != nil {
		zapLogger.Fatal("Invalid pricing policy", zap.Error(err))
	}

	stripeClient := providers.NewStripeClient(cfg.Stripe.APIKey, cfg.Stripe.WebhookSecret)
	gateways := providers.NewRegistry(
		providers.NewRazorpayClient(cfg.Razorpay.KeyID, cfg.Razorpay.KeySecret, cfg.Razorpay.BaseURL),
		stripeClient,
		providers.NewPayPalClient(),
	)

	var publisher services.FanoutPublisher
	if cfg.OrderSNSTopicARN != "" {
		publisher = append(publisher, services.NewSNSEventPublisher(aws_pkg.NewSNSClient(awsCfg), cfg.OrderSNSTopicARN))
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, zapLogger)
		defer producer.Close() //nolint:errcheck
		publisher = append(publisher, producer)
	}

	metrics := aws_pkg.NewMetricsClient(awsCfg, cfg.MetricsNamespace, cfg.CloudWatchEnabled)
	store := repository.NewGormStore(db)
	retry := cfg.RetryPolicy()

	svc := services.NewReconciliationService(services.Deps{
		Store:      store,
		Calculator: calculator,
		Catalog:    services.NewHTTPProductCatalog(cfg.ProductServiceURL),
		Stock:      stock,
		Gateways:   gateways,
		Verifier:   services.NewPaymentVerifier(store, locker, gateways, retry, zapLogger),
		Orders:     services.NewOrderService(store, locker, retry, publisher, metrics, zapLogger),
		Invoices: services.NewInvoiceService(store, locker,
			aws_pkg.NewS3Store(awsCfg, cfg.Invoice.Bucket, cfg.Invoice.BaseURL),
			cfg.Seller(), retry, publisher, metrics, zapLogger),
		Publisher: publisher,
		Metrics:   metrics,
		Retry:     retry,
		Logger:    zapLogger,
	}, cfg.CheckoutOptions())

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(commonmw.RequestID())
	r.Use(commonmw.RequestLogger(zapLogger))
	r.Use(commonmw.SecurityHeaders())
	r.Use(commonmw.CORS(cfg.CORSOrigins))
	r.Use(commonmw.Timeout(30 * time.Second))
	r.Use(commonmw.MetricsMiddleware(metrics, serviceName))
	r.Use(apperrors.ErrorMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": serviceName})
	})

	routes.RegisterRoutes(r, routes.Handlers{
		Checkout: controllers.NewCheckoutController(svc),
		Orders:   controllers.NewOrderController(svc),
		Payments: controllers.NewPaymentWebhookController(svc, stripeClient, zapLogger),
	}, []byte(cfg.JWTSecret), commonmw.NewRateLimiter(ctx, rate.Limit(cfg.WebhookRateLimit), cfg.WebhookBurst, 10*time.Minute).WithKey(commonmw.ByClientIPAndRoute))

	if cfg.PaymentCallbackQueueURL != "" {
		sqsConsumer := aws_pkg.NewSQSConsumer(awsCfg, cfg.PaymentCallbackQueueURL, zapLogger)
		go consumer.NewSQSCallbackConsumer(sqsConsumer, svc, metrics, zapLogger).Start(ctx)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Server failed", zap.Error(err))
		}
	}()

	zapLogger.Info("Reconciliation service started", zap.String("port", cfg.Port))
	<-quit
	zapLogger.Info("Shutting down reconciliation service...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
	zapLogger.Info("Server exited cleanly")
}
