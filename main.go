package main

import (
	"context"
	"database/sql"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"order-svc/cache"
	"order-svc/clients"
	"order-svc/config"
	"order-svc/database"
	"order-svc/handlers"
	"order-svc/kafka"
	"order-svc/middleware"
	"order-svc/repository"
	"order-svc/service"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

func main() {
	cfg := config.Load()

	// Initialize logger
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize OpenTelemetry
	shutdownTracing, err := middleware.InitTracing(cfg.ServiceName, cfg.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	// Initialize database
	db, err := database.InitDB(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	// Redis only holds coordination hints; run without it if it is down.
	var (
		locker service.SweepLocker
		ledger kafka.SettlementLedger
	)
	redisClient, err := cache.InitRedis(cfg, logger)
	if err != nil {
		logger.Warn("Redis unavailable, running without settlement marker and sweep lock", zap.Error(err))
	} else {
		coordination := cache.NewCoordination(redisClient)
		locker = coordination
		ledger = coordination
	}

	// Initialize Kafka producer
	producer, err := kafka.InitProducer(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
	}
	events := kafka.NewEventProducer(producer, cfg.OrderEventsTopic, cfg.PaymentResultDLQTopic, logger)
	notifier := kafka.NewNotifier(cfg, logger)

	orderService := service.NewOrderService(
		repository.NewPostgresStore(db),
		clients.NewProductClient(cfg.ProductServiceURL, cfg.CollaboratorTimeout, logger),
		clients.NewCartClient(cfg.CartServiceURL, cfg.CollaboratorTimeout, logger),
		notifier,
		events,
		cfg.OrderExpiryThreshold,
		logger,
	)

	ctx, stopBackground := context.WithCancel(context.Background())

	// Start expired order sweeper in background
	sweeper := service.NewExpirySweeper(orderService, locker, cfg.OrderSweepInterval, logger)
	go sweeper.Run(ctx)

	// Initialize Kafka consumer
	consumerGroup, err := kafka.InitConsumerGroup(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka consumer", zap.Error(err))
	}
	paymentResults := kafka.NewPaymentResultConsumer(orderService, ledger, events, cfg.ConsumerMaxRetries, logger)

	// Start Kafka consumer in background
	go func() {
		if err := paymentResults.Run(ctx, consumerGroup, cfg.PaymentResultTopic); err != nil {
			logger.Error("Kafka consumer error", zap.Error(err))
		}
	}()

	// Setup REST API with Gin
	router := gin.New()
	router.Use(gin.Recovery())
	// OpenTelemetry middleware must be first to extract trace context
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())

	// Health check endpoint
	router.GET("/health", handlers.HealthCheck)

	// Metrics endpoint
	router.GET("/metrics", middleware.PrometheusHandler())

	// Order endpoints
	jwtKey := middleware.DecodeSecret(cfg.JWTSecret)
	if len(jwtKey) == 0 {
		logger.Fatal("JWT_SECRET must be set")
	}
	orderHandler := handlers.NewOrderHandler(orderService, logger)
	router.POST("/api/orders/payment/status", orderHandler.UpdatePaymentStatus)
	orders := router.Group("/api/orders")
	orders.Use(middleware.AuthMiddleware(jwtKey))
	orderHandler.RegisterRoutes(orders)

	// Start REST server
	restSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		if err := restSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start REST server", zap.Error(err))
		}
	}()

	logger.Info("Order Service REST API started", zap.String("addr", cfg.HTTPAddr))

	// Start gRPC server
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("Failed to listen on gRPC port", zap.Error(err))
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	healthServer := health.NewServer()
	healthServer.SetServingStatus(cfg.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	go func() {
		if err := grpcServer.Serve(grpcListener); err != nil {
			logger.Fatal("Failed to start gRPC server", zap.Error(err))
		}
	}()

	logger.Info("Order Service gRPC server started", zap.String("addr", cfg.GRPCAddr))

	gracefulShutdown(restSrv, grpcServer, healthServer, stopBackground, consumerGroup, producer, notifier, db, redisClient, shutdownTracing, logger)
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// gracefulShutdown handles SIGINT/SIGTERM and shuts down all services gracefully
func gracefulShutdown(
	restSrv *http.Server,
	grpcServer *grpc.Server,
	healthServer *health.Server,
	stopBackground context.CancelFunc,
	consumerGroup sarama.ConsumerGroup,
	producer sarama.SyncProducer,
	notifier *kafka.Notifier,
	db *sql.DB,
	redisClient *redis.Client,
	shutdownTracing func(),
	logger *zap.Logger,
) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown signal received. Exiting...")

	healthServer.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop REST server
	if err := restSrv.Shutdown(ctx); err != nil {
		logger.Error("REST server forced to shutdown", zap.Error(err))
	} else {
		logger.Info("REST server stopped gracefully")
	}

	// Stop gRPC server
	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped gracefully")

	// Stop sweeper and consumer
	stopBackground()
	if err := consumerGroup.Close(); err != nil {
		logger.Error("Failed to close Kafka consumer", zap.Error(err))
	} else {
		logger.Info("Kafka consumer closed gracefully")
	}

	// Close Kafka writers
	if err := producer.Close(); err != nil {
		logger.Error("Failed to close Kafka producer", zap.Error(err))
	}
	if err := notifier.Close(); err != nil {
		logger.Error("Failed to close notification writer", zap.Error(err))
	}

	// Close database
	if err := db.Close(); err != nil {
		logger.Error("Failed to close database", zap.Error(err))
	} else {
		logger.Info("Database connection closed gracefully")
	}

	// Close Redis cache
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Failed to close Redis cache", zap.Error(err))
		} else {
			logger.Info("Redis cache closed gracefully")
		}
	}

	shutdownTracing()
	logger.Info("Servers exited")
}
