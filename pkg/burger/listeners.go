package burger

import (
	"fmt"
	"log/slog"

	"burger-queue/pkg/events"
)

func orderNumber(e events.Event) int {
	if e.Job == nil {
		return 0
	}
	o, err := Decode(e.Job.Payload)
	if err != nil {
		return 0
	}
	return o.OrderNumber
}

// RegisterListeners logs the lifecycle of every burger job. Register before
// any worker starts.
func RegisterListeners(bus *events.Bus, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	bus.Subscribe(events.KindWaiting, func(e events.Event) error {
		logger.Info("job is waiting to be processed", "event", "job_waiting", "job_id", e.JobID)
		return nil
	})
	bus.Subscribe(events.KindActive, func(e events.Event) error {
		logger.Info("job has started processing", "event", "job_active", "job_id", e.JobID)
		return nil
	})
	bus.Subscribe(events.KindProgress, func(e events.Event) error {
		logger.Info("job progress", "event", "job_progress", "job_id", e.JobID, "progress", e.Progress)
		return nil
	})
	bus.Subscribe(events.KindCompleted, func(e events.Event) error {
		n := orderNumber(e)
		logger.Info("job has completed", "event", "job_completed", "job_id", e.JobID, "result", string(e.Result))
		logger.Info(fmt.Sprintf("Sending notification: Burger #%d is ready!", n), "event", "burger_notification", "order_number", n)
		return nil
	})
	bus.Subscribe(events.KindFailed, func(e events.Event) error {
		attrs := []any{"job_id", e.JobID, "order_number", orderNumber(e), "error", e.ErrorText()}
		if e.Job != nil {
			attrs = append(attrs, "attempts_made", e.Job.AttemptsMade, "max_attempts", e.Job.MaxAttempts)
		}
		if e.WillRetry {
			logger.Warn("job failed but will be retried", append([]any{"event", "job_retrying"}, attrs...)...)
			return nil
		}
		logger.Error("job has failed permanently", append([]any{"event", "job_failed"}, attrs...)...)
		return nil
	})
	bus.Subscribe(events.KindStalled, func(e events.Event) error {
		logger.Warn("job has stalled and will be reprocessed", "event", "job_stalled", "job_id", e.JobID)
		return nil
	})
}
