package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"burger-queue/pkg/api"
	"burger-queue/pkg/burger"
	"burger-queue/pkg/config"
	"burger-queue/pkg/database"
	"burger-queue/pkg/events"
	"burger-queue/pkg/mq"
	"burger-queue/pkg/observability"
	"burger-queue/pkg/queue"
	"burger-queue/pkg/worker"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	var cfg config.Config
	if err := config.Load(&cfg); err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		slog.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	journal, err := database.Open(ctx, cfg.JournalURL, cfg.QueueName, cfg.DBMaxConns)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	if journal != nil {
		defer journal.Close()
	}
	backend, _ := database.Backend(cfg.JournalURL)
	slog.Info("journal ready", "event", "journal_ready", "backend", backend)

	// Every subscriber is registered before the first job can move.
	bus := events.NewBus(cfg.QueueName, logger)
	burger.RegisterListeners(bus, logger)
	observability.Subscribe(bus)
	if cfg.RabbitURL != "" {
		mqClient, err := mq.New(cfg.RabbitURL)
		if err != nil {
			return err
		}
		defer mqClient.Close()
		if err := mqClient.SetupTopology(); err != nil {
			return fmt.Errorf("setup rabbitmq topology: %w", err)
		}
		mqClient.Forward(bus)
		slog.Info("forwarding job events to rabbitmq", "event", "mq_ready", "exchange", mq.EventsExchange)
	}

	opts := []queue.Option{
		queue.WithLogger(logger),
		queue.WithLeaseDuration(cfg.LeaseDuration),
		queue.WithMaxStalls(cfg.MaxStalls),
		queue.WithMaintenanceInterval(cfg.MaintenanceInterval),
	}
	if journal != nil {
		opts = append(opts, queue.WithJournal(journal))
	}
	q := queue.New(cfg.QueueName, bus, opts...)
	if _, err := q.Restore(ctx); err != nil {
		return err
	}
	prometheus.MustRegister(observability.NewQueueCollector(q))
	observability.StartMetricsServer(ctx, cfg.MetricsAddr)

	maintenanceDone := make(chan struct{})
	go func() {
		defer close(maintenanceDone)
		q.Run(ctx)
	}()

	kitchen := burger.NewKitchen(cfg.PrepSteps, cfg.PrepStepInterval, cfg.BurnRate, logger)
	pool := worker.NewPool(cfg.WorkerConcurrency, q, kitchen.Prepare, logger, cfg.PollInterval)
	pool.Start(ctx)
	slog.Info("workers started", "event", "workers_started", "concurrency", pool.Size())

	srv := api.New(q, logger)
	if cfg.InitialOrders > 0 {
		slog.Info("creating initial burger jobs", "event", "initial_orders", "count", cfg.InitialOrders)
		if _, err := srv.PlaceBatch(ctx, cfg.InitialOrders); err != nil {
			return fmt.Errorf("create initial orders: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(fmt.Sprintf(":%d", cfg.Port))
	}()
	slog.Info("Ready to prepare burgers! 🍔", "event", "server_ready", "port", cfg.Port, "metrics_addr", cfg.MetricsAddr)

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping server...")
	case err := <-errCh:
		if err != nil {
			stop()
			pool.Wait()
			<-maintenanceDone
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("api server shutdown failed", "error", err)
	}
	stop()
	pool.Wait()
	<-maintenanceDone
	slog.Info("all workers stopped gracefully")
	return nil
}
