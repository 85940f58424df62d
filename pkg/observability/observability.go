package observability

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"burger-queue/pkg/events"
	"burger-queue/pkg/job"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_submitted_total",
		Help: "The total number of submitted jobs",
	}, []string{"queue"})

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_processed_total",
		Help: "The total number of processed job attempts",
	}, []string{"queue", "status"}) // status: completed, failed, retried, stalled

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "job_duration_seconds",
		Help:    "Duration of job processing.",
		Buckets: prometheus.LinearBuckets(0.5, 1, 15),
	}, []string{"queue"})
)

// NewLogger creates a new structured logger at the given level
// (debug, info, warn, error). Unknown levels fall back to info.
func NewLogger(level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Subscribe feeds the processing counters from the bus. Submissions are
// counted by the producer.
func Subscribe(bus *events.Bus) {
	bus.Subscribe(events.KindCompleted, func(e events.Event) error {
		JobsProcessed.WithLabelValues(e.Queue, "completed").Inc()
		observeDuration(e)
		return nil
	})
	bus.Subscribe(events.KindFailed, func(e events.Event) error {
		status := "failed"
		if e.WillRetry {
			status = "retried"
		}
		JobsProcessed.WithLabelValues(e.Queue, status).Inc()
		if !e.WillRetry {
			observeDuration(e)
		}
		return nil
	})
	bus.Subscribe(events.KindStalled, func(e events.Event) error {
		JobsProcessed.WithLabelValues(e.Queue, "stalled").Inc()
		return nil
	})
}

func observeDuration(e events.Event) {
	if e.Job == nil || e.Job.ProcessedAt == nil || e.Job.FinishedAt == nil {
		return
	}
	JobDuration.WithLabelValues(e.Queue).Observe(e.Job.FinishedAt.Sub(*e.Job.ProcessedAt).Seconds())
}

// Counter is the part of a queue the collector reads.
type Counter interface {
	Name() string
	Counts(ctx context.Context) (map[job.State]int, error)
	IsPaused() bool
}

// QueueCollector reports the live per-state job counts of a queue on scrape.
type QueueCollector struct {
	q      Counter
	jobs   *prometheus.Desc
	paused *prometheus.Desc
}

func NewQueueCollector(q Counter) *QueueCollector {
	labels := prometheus.Labels{"queue": q.Name()}
	return &QueueCollector{
		q:      q,
		jobs:   prometheus.NewDesc("queue_jobs", "Number of jobs per state.", []string{"state"}, labels),
		paused: prometheus.NewDesc("queue_paused", "1 when the queue is paused.", nil, labels),
	}
}

func (c *QueueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.jobs
	ch <- c.paused
}

func (c *QueueCollector) Collect(ch chan<- prometheus.Metric) {
	counts, err := c.q.Counts(context.Background())
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.jobs, err)
		return
	}
	for _, s := range job.States {
		ch <- prometheus.MustNewConstMetric(c.jobs, prometheus.GaugeValue, float64(counts[s]), string(s))
	}
	paused := 0.0
	if c.q.IsPaused() {
		paused = 1
	}
	ch <- prometheus.MustNewConstMetric(c.paused, prometheus.GaugeValue, paused)
}

// StartMetricsServer runs an HTTP server to expose Prometheus metrics. The
// server stops when ctx is done.
func StartMetricsServer(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
