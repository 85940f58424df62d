package main

import (
	"context"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"burger-queue/pkg/burger"
	"burger-queue/pkg/client"
	"burger-queue/pkg/config"
	"burger-queue/pkg/observability"
)

type settings struct {
	config.ClientConfig
	LogLevel    string        `envconfig:"LOG_LEVEL" default:"info"`
	RatePerSec  int           `envconfig:"RATE_PER_SEC" default:"1"`
	Concurrency int           `envconfig:"CONCURRENCY" default:"1"`
	Duration    time.Duration `envconfig:"DURATION" default:"0s"`
}

func main() {
	var cfg settings
	if err := config.Load(&cfg); err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(observability.NewLogger(cfg.LogLevel))
	if cfg.RatePerSec < 1 {
		cfg.RatePerSec = 1
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	c := client.New(cfg.APIURL)
	slog.Info("simulator started", "api_url", cfg.APIURL, "rate_per_sec", cfg.RatePerSec, "concurrency", cfg.Concurrency)

	interval := submitInterval(cfg.RatePerSec, cfg.Concurrency)
	var wg sync.WaitGroup
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			submitLoop(ctx, c, interval)
		}()
	}
	wg.Wait()
	slog.Info("simulator stopped")
}

// submitInterval is the tick of each of concurrency loops so that together
// they place rps orders per second.
func submitInterval(rps, concurrency int) time.Duration {
	if rps < 1 {
		rps = 1
	}
	if concurrency < 1 {
		concurrency = 1
	}
	interval := time.Second * time.Duration(concurrency) / time.Duration(rps)
	if interval < time.Millisecond {
		interval = time.Millisecond // prevent very tight loop that overwhelms the API
	}
	return interval
}

func submitLoop(ctx context.Context, c *client.Client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		order := randomOrder()
		resp, err := c.PlaceOrder(ctx, &order)
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("failed to place order", "error", err)
			}
			continue
		}
		slog.Info("placed order", "job_id", resp.JobID, "burger", order.String())
	}
}

func randomOrder() burger.Order {
	o := burger.NewOrder(rand.Intn(1000))
	o.OrderNumber = 0
	return o
}
