package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/taucao-ruby/soleil-hostel-sub004/config"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/domain"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/email"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/kafka"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/logger"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/metrics"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/payment"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/repository"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/service/booking"
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
		Service: "hostel-worker",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatal("connect postgres", "error", err)
	}
	defer pool.Close()

	collect := metrics.NewCollector()
	producer := kafka.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()

	gateway := payment.NewStripeGateway(cfg.Payment.StripeAPIKey)
	runner := txretry.NewRunner(pool, log, collect)

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
		booking.WithTxOptions(txretry.Options{
			MaxRetries:       cfg.Txn.MaxRetries,
			BaseDelay:        cfg.Txn.BaseDelay(),
			StatementTimeout: cfg.Txn.StatementTimeout(),
			LockTimeout:      cfg.Txn.LockTimeout(),
		}),
	)

	sweeper := booking.NewSweeper(bookingService, gateway, log, collect, booking.SweeperConfig{
		StaleAfter:  time.Duration(cfg.Worker.StaleRefundMinutes) * time.Minute,
		MaxAttempts: cfg.Worker.MaxRefundAttempts,
		BatchSize:   cfg.Worker.SweepBatchSize,
	})

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.NotificationsTopic, log)
	defer consumer.Close()

	emailSender := email.NewSender(log)

	go func() {
		if err := consumer.Consume(ctx, emailSender.Send); err != nil {
			log.Error("consumer stopped", "error", err)
		}
	}()

	sweepTicker := time.NewTicker(time.Duration(cfg.Worker.SweepIntervalMinutes) * time.Minute)
	defer sweepTicker.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sweepTicker.C:
			stats, err := sweeper.Sweep(ctx)
			if err != nil {
				log.Error("reconciliation sweep", "error", err)
				continue
			}
			if stats.Finalized+stats.Failed+stats.Retried > 0 {
				log.Info("reconciliation sweep done",
					"finalized", stats.Finalized,
					"failed", stats.Failed,
					"retried", stats.Retried,
					"skipped", stats.Skipped)
			}
		case s := <-sig:
			log.Info("received signal, shutting down", "signal", s.String())
			return
		}
	}
}
