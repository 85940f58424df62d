package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"burger-queue/pkg/burger"
	"burger-queue/pkg/config"
	"burger-queue/pkg/events"
	"burger-queue/pkg/mq"
	"burger-queue/pkg/observability"

	amqp "github.com/rabbitmq/amqp091-go"
)

type settings struct {
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	RabbitURL   string `envconfig:"RABBITMQ_URL" required:"true"`
	Concurrency int    `envconfig:"WATCHER_CONCURRENCY" default:"2"`
}

func main() {
	var cfg settings
	if err := config.Load(&cfg); err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	mqClient, err := mq.New(cfg.RabbitURL)
	if err != nil {
		slog.Error("failed to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer mqClient.Close()
	if err := mqClient.SetupTopology(); err != nil {
		slog.Error("failed to setup rabbitmq topology", "error", err)
		return
	}

	deliveries, err := mqClient.ConsumeNotifications()
	if err != nil {
		slog.Error("failed to start consuming notifications", "error", err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-deliveries:
					if !ok {
						slog.Warn("notification channel closed")
						return
					}
					handleMessage(logger, msg)
				}
			}
		}()
	}
	slog.Info("watcher started, waiting for notifications...", "queue", mq.NotificationQueue, "concurrency", cfg.Concurrency)

	wg.Wait()
	slog.Info("watcher stopped gracefully")
}

func handleMessage(logger *slog.Logger, msg amqp.Delivery) {
	if err := notify(logger, msg.Body); err != nil {
		logger.Error("dropping unreadable notification", "event", "notification_invalid", "error", err)
		_ = msg.Nack(false, false) // Malformed messages would only fail again.
		return
	}
	_ = msg.Ack(false)
}

// notify logs the customer-facing message for one job event.
func notify(logger *slog.Logger, body []byte) error {
	evt, reason, err := mq.Decode(body)
	if err != nil {
		return err
	}
	n := 0
	if evt.Job != nil {
		if o, err := burger.Decode(evt.Job.Payload); err == nil {
			n = o.OrderNumber
		}
	}
	l := logger.With("job_id", evt.JobID, "order_number", n)

	switch evt.Kind {
	case events.KindCompleted:
		l.Info(fmt.Sprintf("Sending notification: Burger #%d is ready!", n), "event", "burger_notification")
	case events.KindFailed:
		if evt.WillRetry {
			l.Info("burger is being remade", "event", "burger_retrying", "error", reason)
			return nil
		}
		l.Error(fmt.Sprintf("Logging error to monitoring system: Burger #%d failed.", n), "event", "burger_failed", "error", reason)
	default:
		l.Debug("ignoring notification", "kind", evt.Kind)
	}
	return nil
}
