package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"burger-queue/pkg/events"
	"burger-queue/pkg/job"
	"burger-queue/pkg/queue"

	"github.com/onsi/gomega"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newQueue(bus *events.Bus) *queue.Queue {
	return queue.New("burger", bus, queue.WithLogger(quietLogger()))
}

func startPool(t *testing.T, n int, q *queue.Queue, h Handler) (context.CancelFunc, *Pool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPool(n, q, h, quietLogger(), 5*time.Millisecond)
	p.Start(ctx)
	t.Cleanup(func() {
		cancel()
		p.Wait()
	})
	return cancel, p
}

func TestPoolCompletesJobs(t *testing.T) {
	g := gomega.NewWithT(t)
	q := newQueue(nil)
	ctx := context.Background()

	startPool(t, 3, q, func(ctx context.Context, l *queue.Lease) (any, error) {
		var p struct{ N int }
		if err := l.Decode(&p); err != nil {
			return nil, err
		}
		return p.N * 2, nil
	})

	var ids []string
	for i := 0; i < 20; i++ {
		j, err := q.Submit(ctx, map[string]int{"N": i}, job.Options{})
		g.Expect(err).NotTo(gomega.HaveOccurred())
		ids = append(ids, j.ID)
	}

	g.Eventually(func() int {
		c, _ := q.Counts(ctx)
		return c[job.StateCompleted]
	}, 2*time.Second, 10*time.Millisecond).Should(gomega.Equal(20))

	got, _ := q.Get(ctx, ids[7])
	g.Expect(string(got.Result)).To(gomega.Equal("14"))
}

func TestHandlerErrorsAndPanicsBecomeTransitions(t *testing.T) {
	g := gomega.NewWithT(t)
	bus := events.NewBus("test", quietLogger())
	var failures atomic.Int32
	bus.Subscribe(events.KindFailed, func(e events.Event) error {
		failures.Add(1)
		return nil
	})
	q := newQueue(bus)
	ctx := context.Background()

	var calls atomic.Int32
	startPool(t, 1, q, func(ctx context.Context, l *queue.Lease) (any, error) {
		switch calls.Add(1) {
		case 1:
			return nil, errors.New("Burger burned! Need to remake.")
		case 2:
			panic("grill on fire")
		default:
			return "ok", nil
		}
	})

	j, err := q.Submit(ctx, map[string]string{"bun": "x"}, job.Options{MaxAttempts: 3})
	g.Expect(err).NotTo(gomega.HaveOccurred())

	g.Eventually(func() job.State {
		got, _ := q.Get(ctx, j.ID)
		return got.State
	}, 2*time.Second, 10*time.Millisecond).Should(gomega.Equal(job.StateCompleted))

	got, _ := q.Get(ctx, j.ID)
	g.Expect(got.AttemptsMade).To(gomega.Equal(3))
	g.Expect(failures.Load()).To(gomega.Equal(int32(2)))
}

func TestPanicOnLastAttemptFailsJob(t *testing.T) {
	g := gomega.NewWithT(t)
	q := newQueue(nil)
	ctx := context.Background()

	startPool(t, 1, q, func(ctx context.Context, l *queue.Lease) (any, error) {
		panic("boom")
	})

	j, _ := q.Submit(ctx, map[string]string{"bun": "x"}, job.Options{MaxAttempts: 1})
	g.Eventually(func() job.State {
		got, _ := q.Get(ctx, j.ID)
		return got.State
	}, 2*time.Second, 10*time.Millisecond).Should(gomega.Equal(job.StateFailed))

	got, _ := q.Get(ctx, j.ID)
	g.Expect(got.FailureReason).To(gomega.ContainSubstring("handler panicked"))
}

func TestShutdownAbandonsInFlightJob(t *testing.T) {
	g := gomega.NewWithT(t)
	q := newQueue(nil)
	ctx := context.Background()

	started := make(chan struct{})
	var once sync.Once
	cancel, p := startPool(t, 1, q, func(ctx context.Context, l *queue.Lease) (any, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return nil, ctx.Err()
	})

	j, _ := q.Submit(ctx, map[string]string{"bun": "x"}, job.Options{MaxAttempts: 1})
	g.Eventually(started, time.Second).Should(gomega.BeClosed())

	cancel()
	p.Wait()

	got, err := q.Get(ctx, j.ID)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(got.State).To(gomega.Equal(job.StateWaiting))
	g.Expect(got.AttemptsMade).To(gomega.BeZero())
}

func TestCancelledActiveJobFailsWithoutRetry(t *testing.T) {
	g := gomega.NewWithT(t)
	q := newQueue(nil)
	ctx := context.Background()

	started := make(chan string, 1)
	startPool(t, 1, q, func(ctx context.Context, l *queue.Lease) (any, error) {
		started <- l.ID()
		<-ctx.Done()
		return nil, ctx.Err()
	})

	j, _ := q.Submit(ctx, map[string]string{"bun": "x"}, job.Options{MaxAttempts: 5})
	var id string
	g.Eventually(started, time.Second).Should(gomega.Receive(&id))
	g.Expect(id).To(gomega.Equal(j.ID))
	g.Expect(q.Cancel(ctx, j.ID)).To(gomega.Succeed())

	g.Eventually(func() job.State {
		got, _ := q.Get(ctx, j.ID)
		return got.State
	}, time.Second, 10*time.Millisecond).Should(gomega.Equal(job.StateFailed))
	got, _ := q.Get(ctx, j.ID)
	g.Expect(got.FailureReason).To(gomega.Equal(job.ErrCancelled.Error()))
	g.Expect(got.AttemptsMade).To(gomega.Equal(1))
}

func TestPausedQueueIsNotDrained(t *testing.T) {
	g := gomega.NewWithT(t)
	q := newQueue(nil)
	ctx := context.Background()
	q.Pause()

	var calls atomic.Int32
	startPool(t, 2, q, func(ctx context.Context, l *queue.Lease) (any, error) {
		calls.Add(1)
		return nil, nil
	})
	for i := 0; i < 3; i++ {
		_, _ = q.Submit(ctx, map[string]int{"n": i}, job.Options{})
	}

	g.Consistently(calls.Load, 100*time.Millisecond, 10*time.Millisecond).Should(gomega.BeZero())
	q.Resume()
	g.Eventually(calls.Load, time.Second, 10*time.Millisecond).Should(gomega.Equal(int32(3)))
}
