package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"burger-queue/pkg/burger"
	"burger-queue/pkg/job"
	"burger-queue/pkg/observability"
	"burger-queue/pkg/queue"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Server exposes a burger queue over HTTP.
type Server struct {
	echo   *echo.Echo
	q      *queue.Queue
	logger *slog.Logger
}

func New(q *queue.Queue, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, q: q, logger: logger}
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("request handled", "event", "http_request",
				"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo
	e.GET("/", s.handleIndex)
	e.GET("/health", s.handleHealth)

	e.POST("/burger", s.handlePlaceOrder)
	e.GET("/burger/:id", s.handleGetOrder)
	e.PATCH("/burger/:id", s.handleUpdateOrder)
	e.DELETE("/burger/:id", s.handleRemoveOrder)
	e.POST("/burger/:id/cancel", s.handleCancelOrder)
	e.POST("/burger/:id/retry", s.handleRetryOrder)
	e.POST("/burger/:id/promote", s.handlePromoteOrder)
	e.POST("/create-jobs", s.handleCreateJobs)

	e.GET("/jobs", s.handleListJobs)
	e.GET("/jobs/status", s.handleStatus)
	e.POST("/jobs/pause", s.handlePause)
	e.POST("/jobs/resume", s.handleResume)
	e.POST("/jobs/clean", s.handleClean)
	e.POST("/jobs/drain", s.handleDrain)
	e.POST("/jobs/promote", s.handlePromoteAll)
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("api server listening", "event", "api_started", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// PlaceBatch submits n batch orders numbered 1..n.
func (s *Server) PlaceBatch(ctx context.Context, n int) ([]job.Job, error) {
	jobs := make([]job.Job, 0, n)
	for i := 0; i < n; i++ {
		j, err := s.submit(ctx, burger.NewOrder(i), burger.BatchOptions())
		if err != nil {
			return jobs, err
		}
		s.logger.Info("added burger job", "event", "job_submitted", "job_id", j.ID, "order_number", i+1)
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (s *Server) submit(ctx context.Context, o burger.Order, opts job.Options) (job.Job, error) {
	if err := o.Validate(); err != nil {
		return job.Job{}, err
	}
	j, err := s.q.Submit(ctx, o, opts)
	if err != nil {
		return job.Job{}, err
	}
	observability.JobsSubmitted.WithLabelValues(s.q.Name()).Inc()
	return j, nil
}

// failure pairs a user-facing message with its cause.
type failure struct {
	msg string
	err error
}

func (f *failure) Error() string { return f.msg + ": " + f.err.Error() }
func (f *failure) Unwrap() error { return f.err }

func fail(msg string, err error) error {
	return &failure{msg: msg, err: err}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, job.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, job.ErrInvalidPayload), errors.Is(err, job.ErrInvalidProgress):
		return http.StatusBadRequest
	case errors.Is(err, job.ErrInvalidState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok {
			msg = m
		}
		_ = c.JSON(he.Code, echo.Map{"error": msg})
		return
	}

	code := statusFor(err)
	body := echo.Map{"error": err.Error()}
	var f *failure
	if errors.As(err, &f) {
		body = echo.Map{"error": f.msg, "details": f.err.Error()}
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "event", "http_error", "uri", c.Request().RequestURI, "error", err)
	}
	_ = c.JSON(code, body)
}
