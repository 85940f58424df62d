package observability

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"burger-queue/pkg/events"
	"burger-queue/pkg/job"

	"github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestParseLevel(t *testing.T) {
	g := gomega.NewWithT(t)
	g.Expect(ParseLevel("DEBUG")).To(gomega.Equal(slog.LevelDebug))
	g.Expect(ParseLevel("warning")).To(gomega.Equal(slog.LevelWarn))
	g.Expect(ParseLevel("error")).To(gomega.Equal(slog.LevelError))
	g.Expect(ParseLevel("")).To(gomega.Equal(slog.LevelInfo))
	g.Expect(ParseLevel("chatty")).To(gomega.Equal(slog.LevelInfo))
}

func TestSubscribeCountsOutcomes(t *testing.T) {
	g := gomega.NewWithT(t)
	bus := events.NewBus("metrics-test", nil)
	Subscribe(bus)

	const q = "metrics-test"
	start := time.Now()
	end := start.Add(2 * time.Second)
	done := &job.Job{ID: "a", ProcessedAt: &start, FinishedAt: &end}

	completed := JobsProcessed.WithLabelValues(q, "completed")
	retried := JobsProcessed.WithLabelValues(q, "retried")
	failed := JobsProcessed.WithLabelValues(q, "failed")
	stalled := JobsProcessed.WithLabelValues(q, "stalled")

	bus.Publish(events.Event{Kind: events.KindCompleted, Queue: q, Job: done})
	bus.Publish(events.Event{Kind: events.KindFailed, Queue: q, WillRetry: true, Err: errors.New("burned")})
	bus.Publish(events.Event{Kind: events.KindFailed, Queue: q, Job: done, Err: errors.New("burned")})
	bus.Publish(events.Event{Kind: events.KindStalled, Queue: q})

	g.Expect(testutil.ToFloat64(completed)).To(gomega.Equal(1.0))
	g.Expect(testutil.ToFloat64(retried)).To(gomega.Equal(1.0))
	g.Expect(testutil.ToFloat64(failed)).To(gomega.Equal(1.0))
	g.Expect(testutil.ToFloat64(stalled)).To(gomega.Equal(1.0))
}

type fakeCounter struct {
	counts map[job.State]int
	paused bool
	err    error
}

func (f fakeCounter) Name() string { return "burger" }

func (f fakeCounter) Counts(context.Context) (map[job.State]int, error) {
	return f.counts, f.err
}

func (f fakeCounter) IsPaused() bool { return f.paused }

func TestQueueCollector(t *testing.T) {
	g := gomega.NewWithT(t)
	c := NewQueueCollector(fakeCounter{
		counts: map[job.State]int{job.StatePaused: 3, job.StateCompleted: 2},
		paused: true,
	})

	// One series per state plus the paused gauge.
	g.Expect(testutil.CollectAndCount(c)).To(gomega.Equal(len(job.States) + 1))

	expected := `
# HELP queue_paused 1 when the queue is paused.
# TYPE queue_paused gauge
queue_paused{queue="burger"} 1
`
	g.Expect(testutil.CollectAndCompare(c, strings.NewReader(expected), "queue_paused")).To(gomega.Succeed())
}
