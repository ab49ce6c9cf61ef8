package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/taucao-ruby/soleil-hostel-sub004/api"
	"github.com/taucao-ruby/soleil-hostel-sub004/config"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/cache"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/domain"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/idempotency"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/kafka"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/logger"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/metrics"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/payment"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/repository"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/service/booking"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/service/rooms"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/txretry"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		logger.New(logger.Config{}).Fatal("load config", "error", err)
	}

	log := logger.New(logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Service: "hostel-api",
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatal("connect postgres", "error", err)
	}
	defer pool.Close()

	collect := metrics.NewCollector()
	redisCache := cache.NewRedisCache(cfg.Redis)
	producer := kafka.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()

	gateway := payment.NewStripeGateway(cfg.Payment.StripeAPIKey)
	runner := txretry.NewRunner(pool, log, collect)
	guard := idempotency.NewGuard(redisCache, log)

	policy := domain.RefundPolicy{
		FullRefundHours:    cfg.Cancellation.FullRefundHours,
		PartialRefundHours: cfg.Cancellation.PartialRefundHours,
		PartialPercent:     cfg.Cancellation.PartialPercent,
		FeePercent:         cfg.Cancellation.FeePercent,
	}

	bookingRepo := repository.NewBookingRepository(pool)
	roomRepo := repository.NewRoomRepository(pool)

	bookingService := booking.NewBookingService(
		bookingRepo,
		roomRepo,
		runner,
		gateway,
		producer,
		policy,
		log,
		booking.WithNotificationsTopic(cfg.Kafka.NotificationsTopic),
		booking.WithIdempotencyGuard(guard, idempotency.Options{
			LockTTL:   cfg.Idempotency.LockTTL(),
			ResultTTL: cfg.Idempotency.ResultTTL(),
		}),
		booking.WithTxOptions(txretry.Options{
			MaxRetries:       cfg.Txn.MaxRetries,
			BaseDelay:        cfg.Txn.BaseDelay(),
			StatementTimeout: cfg.Txn.StatementTimeout(),
			LockTimeout:      cfg.Txn.LockTimeout(),
		}),
	)
	roomService := rooms.NewRoomService(roomRepo, log)

	router := gin.New()
	router.Use(gin.Recovery())
	api.NewBookingHandler(bookingService).Register(router.Group("/bookings"))
	api.NewRoomHandler(roomService).Register(router.Group("/rooms"))

	server := &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: router,
	}

	go func() {
		log.Info("http server listening", "address", cfg.HTTP.Address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "error", err)
	}
}
