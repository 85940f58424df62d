package burger

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"burger-queue/pkg/queue"
)

var ErrBurned = errors.New("Burger burned! Need to remake.")

// Result is stored on a completed burger job.
type Result struct {
	Completed      bool      `json:"completed"`
	ProcessingTime float64   `json:"processingTime"`
	CompletedAt    time.Time `json:"completedAt"`
}

// Kitchen prepares burgers: a fixed number of timed steps with progress
// reported after each, then a chance of burning the result.
type Kitchen struct {
	steps    int
	interval time.Duration
	burnRate float64
	logger   *slog.Logger
	roll     func() float64
}

func NewKitchen(steps int, interval time.Duration, burnRate float64, logger *slog.Logger) *Kitchen {
	if steps < 1 {
		steps = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Kitchen{
		steps:    steps,
		interval: interval,
		burnRate: burnRate,
		logger:   logger,
		roll:     rand.Float64,
	}
}

// WithRoll replaces the burn dice. roll must be safe for concurrent use.
func (k *Kitchen) WithRoll(roll func() float64) *Kitchen {
	k.roll = roll
	return k
}

// Prepare is a worker handler for burger jobs.
func (k *Kitchen) Prepare(ctx context.Context, lease *queue.Lease) (any, error) {
	var order Order
	if err := lease.Decode(&order); err != nil {
		return nil, err
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}

	l := k.logger.With("job_id", lease.ID(), "order_number", order.OrderNumber)
	start := time.Now()
	l.Info("Preparing burger!", "event", "burger_started", "burger", order.String())

	timer := time.NewTimer(k.interval)
	defer timer.Stop()
	for i := 1; i <= k.steps; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
		progress := float64(i * 100 / k.steps)
		if err := lease.ReportProgress(ctx, progress); err != nil {
			return nil, err
		}
		l.Debug("burger progress", "event", "burger_progress", "progress", progress)
		timer.Reset(k.interval)
	}

	end := time.Now()
	processing := end.Sub(start).Seconds()
	l.Info("Burger ready!", "event", "burger_ready", "processing_time", processing)

	if k.roll() < k.burnRate {
		return nil, ErrBurned
	}
	return Result{Completed: true, ProcessingTime: processing, CompletedAt: end}, nil
}
