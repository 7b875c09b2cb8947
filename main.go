package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/streadway/amqp"

	"dukaan/internal/config"
	"dukaan/internal/database"
	"dukaan/internal/events"
	"dukaan/internal/metrics"
	"dukaan/internal/notify"
	"dukaan/internal/server"
	"dukaan/pkg/kafka"
	"dukaan/pkg/rabbitmq"
)

func main() {
	// --- Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	// --- Initialize Database ---
	db, err := database.Open(cfg.DBDriver, cfg.DatabaseDSN)
	if err != nil {
		logger.Error("failed to open database", "driver", cfg.DBDriver, "error", err)
		os.Exit(1)
	}
	if err := database.Migrate(db); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	// --- Initialize Event Broker ---
	consumerCtx, stopConsumers := context.WithCancel(context.Background())
	defer stopConsumers()
	sink, closers, err := newEventSink(consumerCtx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize event broker", "broker", cfg.EventBroker, "error", err)
		os.Exit(1)
	}
	closeBrokers := sync.OnceFunc(func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Warn("error closing broker client", "error", err)
			}
		}
	})
	defer closeBrokers()

	m := metrics.New(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	srv := server.New(cfg, db, sink, m, logger)

	seedCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Auth.EnsureAdmin(seedCtx, cfg.AdminUsername, cfg.AdminPassword); err != nil {
		logger.Error("failed to seed admin account", "error", err)
	}
	cancel()

	// --- Start HTTP Server ---
	logger.Info("starting server", "port", cfg.AppPort, "pickup_otp_required", cfg.PickupOTPRequired)

	// Graceful shutdown handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	listenErr := make(chan error, 1)
	go func() {
		if err := srv.App.Listen(cfg.AppPort); err != nil {
			listenErr <- err
		}
	}()

	// Clean up the same way whether a signal or a listener failure ends the wait.
	exitCode := waitForShutdown(quit, listenErr, logger)
	stopConsumers()

	if err := srv.App.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("error during Fiber shutdown", "error", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	logger.Info("server gracefully stopped")
	if exitCode != 0 {
		closeBrokers()
		os.Exit(exitCode)
	}
}

// waitForShutdown blocks until a signal arrives or the listener fails and
// returns the process exit code.
func waitForShutdown(quit <-chan os.Signal, listenErr <-chan error, logger *slog.Logger) int {
	select {
	case sig := <-quit:
		logger.Info("shutting down server", "signal", sig.String())
		return 0
	case err := <-listenErr:
		logger.Error("server failed to start", "error", err)
		return 1
	}
}

// newEventSink connects the configured broker and starts the notification
// consumer on it. The consumer stops when ctx is cancelled.
func newEventSink(ctx context.Context, cfg *config.Config, logger *slog.Logger) (events.Sink, []io.Closer, error) {
	notifier := notify.NewNotifier(notify.LogDeliverer{Logger: logger}, 10000, logger)

	switch cfg.EventBroker {
	case "rabbitmq":
		mqClient, err := rabbitmq.NewClient(rabbitmq.Config{
			URL:      cfg.RabbitMQURL,
			Exchange: cfg.RabbitMQExchange,
			Queue:    cfg.RabbitMQQueue,
		}, logger)
		if err != nil {
			return nil, nil, err
		}

		messageHandler := func(msg amqp.Delivery) error {
			return notifier.Handle(ctx, msg.Body)
		}
		if err := mqClient.ConsumeOrderEvents(messageHandler); err != nil {
			logger.Warn("failed to start RabbitMQ consumer, notifications disabled", "error", err)
		}
		return events.NewBrokerSink(mqClient), []io.Closer{mqClient}, nil

	case "kafka":
		kafkaClient, err := kafka.NewClient(kafka.ParseBrokers(cfg.KafkaBrokers), cfg.KafkaTopic)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("publishing order events to kafka", "topic", cfg.KafkaTopic)
		go kafkaClient.Consume(ctx, cfg.KafkaGroupID, logger, notifier.Handle)
		return events.NewBrokerSink(kafkaClient), []io.Closer{kafkaClient}, nil
	}

	logger.Warn("event broker disabled, order events are dropped")
	return events.NopSink{}, nil, nil
}
