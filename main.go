package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"payment-service/internal/api"
	"payment-service/internal/config"
	"payment-service/internal/db"
	"payment-service/internal/event"
	"payment-service/internal/fee"
	"payment-service/internal/gateway"
	"payment-service/internal/logging"
	"payment-service/internal/metrics"
	"payment-service/internal/payment"
	"payment-service/internal/venue"
)

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoadConfig("config")

	logger := logging.GetLogger(cfg.Logs)
	metrics.Setup(cfg.Metrics)

	connStr := db.ConnStr(cfg.Database)
	if err := db.RunMigrations(connStr, cfg.Database.MigrationsDir); err != nil {
		log.Fatal(err)
	}

	dbpool, err := db.GetPool(connStr)
	if err != nil {
		log.Fatal(err)
	}
	defer dbpool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer redisClient.Close()

	paymentRepo := db.NewPaymentRepository(dbpool)
	bookingRepo := db.NewBookingRepository(dbpool)

	fees := fee.NewCalculator(cfg.Stripe.FeePercent, cfg.Stripe.FeeFixed)
	stripeGateway := gateway.NewStripeGateway(cfg.Stripe, fees)

	accounts := venue.NewAccountResolver(dbpool, redisClient,
		time.Duration(cfg.Redis.AccountTTLMs)*time.Millisecond, logger)

	writer := event.NewWriter(cfg.Kafka)
	defer writer.Close()
	publisher := event.NewPublisher(writer, logger)

	projector := payment.NewProjector(bookingRepo, logger)
	service := payment.NewService(paymentRepo, bookingRepo, stripeGateway, accounts,
		projector, publisher, time.Duration(cfg.Refund.WindowDays)*24*time.Hour, logger)
	webhooks := payment.NewWebhookProcessor(paymentRepo, projector, publisher, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reconciler := payment.NewReconciler(paymentRepo, stripeGateway, webhooks, cfg.Reconciler, logger)
	reconciler.Start(ctx)

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/liveness", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	handler := api.NewHandler(service, webhooks, stripeGateway, cfg.Webhook.AckOnError, logger)
	handler.Register(router, api.RequireAuth(cfg.Auth.JWTSecret))

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		logger.Info("Server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server startup failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
}
