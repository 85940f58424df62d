package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"burger-queue/pkg/queue"
)

// Handler processes one claimed job. It returns the job's result, or an
// error to fail the attempt. The context is done when the job is cancelled,
// reclaimed, or the worker stops.
type Handler func(ctx context.Context, lease *queue.Lease) (any, error)

var ErrHandlerPanic = errors.New("handler panicked")

const DefaultPollInterval = time.Second

type Worker struct {
	id           int
	q            *queue.Queue
	handler      Handler
	logger       *slog.Logger
	pollInterval time.Duration
}

func New(id int, q *queue.Queue, handler Handler, logger *slog.Logger, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		id:           id,
		q:            q,
		handler:      handler,
		logger:       logger.With("worker_id", id),
		pollInterval: pollInterval,
	}
}

// Run claims and processes jobs until ctx is done. Handler failures become
// job transitions and never stop the loop.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started", "event", "worker_started")
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker shutting down", "event", "worker_stopped")
			return
		case <-timer.C:
		case <-w.q.Ready():
		}

		for w.processNext(ctx) {
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(w.pollInterval)
	}
}

// processNext handles at most one job and reports whether it found one.
func (w *Worker) processNext(ctx context.Context) bool {
	lease, err := w.q.FetchNext(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("failed to claim job", "event", "job_claim_error", "error", err)
		}
		return false
	}
	if lease == nil {
		return false
	}

	l := w.logger.With("job_id", lease.ID())
	l.Info("job claimed, starting processing", "event", "job_started", "attempt", lease.Job().AttemptsMade)

	result, herr := w.invoke(lease)

	// Transitions must land even while shutting down.
	bg := context.WithoutCancel(ctx)
	switch {
	case herr == nil:
		if err := w.q.Complete(bg, lease, result); err != nil {
			l.Error("failed to complete job", "event", "job_update_error", "error", err)
		}
	case ctx.Err() != nil && !lease.Cancelled():
		l.Info("job processing aborted due to shutdown", "event", "job_aborted")
		if err := w.q.Abandon(bg, lease); err != nil {
			l.Error("failed to abandon job", "event", "job_update_error", "error", err)
		}
	default:
		l.Info("job attempt failed", "event", "job_attempt_failed", "error", herr)
		if err := w.q.Fail(bg, lease, herr); err != nil {
			l.Error("failed to record job failure", "event", "job_update_error", "error", err)
		}
	}
	return true
}

func (w *Worker) invoke(lease *queue.Lease) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("handler panicked", "event", "handler_panic", "job_id", lease.ID(), "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return w.handler(lease.Context(), lease)
}

// Pool runs a fixed number of workers against one queue.
type Pool struct {
	workers []*Worker
	wg      sync.WaitGroup
}

func NewPool(concurrency int, q *queue.Queue, handler Handler, logger *slog.Logger, pollInterval time.Duration) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	p := &Pool{}
	for i := 1; i <= concurrency; i++ {
		p.workers = append(p.workers, New(i, q, handler, logger, pollInterval))
	}
	return p
}

func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Wait blocks until every worker has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) Size() int {
	return len(p.workers)
}
