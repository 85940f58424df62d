package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"burger-queue/pkg/burger"
	"burger-queue/pkg/job"
	"burger-queue/pkg/queue"

	"github.com/labstack/echo/v4"
)

const (
	defaultBatch    = 10
	maxBatch        = 1000
	defaultKeep     = 10
	defaultPageSize = 50
)

// OrderView is the public shape of a burger job.
type OrderView struct {
	JobID        string          `json:"jobId"`
	Burger       json.RawMessage `json:"burger"`
	Status       job.State       `json:"status"`
	Progress     float64         `json:"progress"`
	Result       json.RawMessage `json:"result,omitempty"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"maxAttempts"`
	FailedReason string          `json:"failedReason,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	ProcessedAt  *time.Time      `json:"processedAt,omitempty"`
	FinishedAt   *time.Time      `json:"finishedAt,omitempty"`
	DelayUntil   *time.Time      `json:"delayUntil,omitempty"`
}

func viewOf(j job.Job) OrderView {
	return OrderView{
		JobID:        j.ID,
		Burger:       j.Payload,
		Status:       j.State,
		Progress:     j.Progress,
		Result:       j.Result,
		Attempts:     j.AttemptsMade,
		MaxAttempts:  j.MaxAttempts,
		FailedReason: j.FailureReason,
		CreatedAt:    j.CreatedAt,
		ProcessedAt:  j.ProcessedAt,
		FinishedAt:   j.FinishedAt,
		DelayUntil:   j.DelayUntil,
	}
}

type PlaceOrderRequest struct {
	Burger *burger.Order `json:"burger"`
}

type PlaceOrderResponse struct {
	Message string       `json:"message"`
	JobID   string       `json:"jobId"`
	Burger  burger.Order `json:"burger"`
	Status  string       `json:"status"`
}

type CreateJobsRequest struct {
	Count int `json:"count"`
}

type CreatedJob struct {
	JobID  string          `json:"jobId"`
	Burger json.RawMessage `json:"burger"`
}

type CreateJobsResponse struct {
	Message string       `json:"message"`
	Jobs    []CreatedJob `json:"jobs"`
}

type Summary struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
	Paused    int `json:"paused"`
	Total     int `json:"total"`
}

type ActiveJob struct {
	ID          string  `json:"id"`
	Progress    float64 `json:"progress"`
	OrderNumber int     `json:"orderNumber"`
}

type StatusResponse struct {
	Summary     Summary     `json:"summary"`
	ActiveJobs  []ActiveJob `json:"activeJobs"`
	QueuePaused bool        `json:"queuePaused"`
}

type ListResponse struct {
	State  job.State   `json:"state"`
	Offset int         `json:"offset"`
	Limit  int         `json:"limit"`
	Jobs   []OrderView `json:"jobs"`
}

type CleanRequest struct {
	Keep      *int   `json:"keep"`
	OlderThan string `json:"olderThan"`
}

type MessageResponse struct {
	Message string   `json:"message"`
	JobIDs  []string `json:"jobIds,omitempty"`
	Count   int      `json:"count"`
}

func (s *Server) handleIndex(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"message": "Burger Queue API",
		"endpoints": echo.Map{
			"GET /":                    "API info",
			"GET /health":              "Liveness probe",
			"POST /burger":             "Add new burger order",
			"GET /burger/:id":          "Get burger order status",
			"PATCH /burger/:id":        "Change a pending burger order",
			"DELETE /burger/:id":       "Remove a burger order",
			"POST /burger/:id/cancel":  "Cancel a burger order",
			"POST /burger/:id/retry":   "Retry a failed burger order",
			"POST /burger/:id/promote": "Start a delayed burger order now",
			"POST /create-jobs":        "Create 10 new burger jobs",
			"GET /jobs?state=":         "List jobs in a state",
			"GET /jobs/status":         "Get summary of all jobs",
			"POST /jobs/pause":         "Stop handing out jobs",
			"POST /jobs/resume":        "Resume handing out jobs",
			"POST /jobs/clean":         "Clean completed and failed jobs",
			"POST /jobs/drain":         "Remove all waiting and delayed jobs",
			"POST /jobs/promote":       "Start every delayed job now",
		},
	})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok", "queue": s.q.Name(), "paused": s.q.IsPaused()})
}

func (s *Server) handlePlaceOrder(c echo.Context) error {
	const msg = "Failed to place burger order"
	var req PlaceOrderRequest
	if err := c.Bind(&req); err != nil {
		return fail(msg, fmt.Errorf("%w: %v", job.ErrInvalidPayload, err))
	}
	order := burger.DefaultOrder()
	if req.Burger != nil {
		order = *req.Burger
	}

	ctx := c.Request().Context()
	j, err := s.submit(ctx, order, burger.OrderOptions())
	if err != nil {
		return fail(msg, err)
	}
	s.logger.Info("burger order placed", "event", "job_submitted", "job_id", j.ID)
	return c.JSON(http.StatusCreated, PlaceOrderResponse{
		Message: "Burger order placed successfully",
		JobID:   j.ID,
		Burger:  order,
		Status:  "processing",
	})
}

func (s *Server) handleCreateJobs(c echo.Context) error {
	const msg = "Failed to create burger jobs"
	req := CreateJobsRequest{Count: defaultBatch}
	if err := c.Bind(&req); err != nil {
		return fail(msg, fmt.Errorf("%w: %v", job.ErrInvalidPayload, err))
	}
	if req.Count < 1 || req.Count > maxBatch {
		return fail(msg, fmt.Errorf("%w: count must be between 1 and %d", job.ErrInvalidPayload, maxBatch))
	}

	jobs, err := s.PlaceBatch(c.Request().Context(), req.Count)
	if err != nil {
		return fail(msg, err)
	}
	out := make([]CreatedJob, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, CreatedJob{JobID: j.ID, Burger: j.Payload})
	}
	return c.JSON(http.StatusCreated, CreateJobsResponse{
		Message: fmt.Sprintf("Created %d new burger jobs", len(out)),
		Jobs:    out,
	})
}

func (s *Server) handleGetOrder(c echo.Context) error {
	j, err := s.q.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail("Burger order not found", err)
	}
	return c.JSON(http.StatusOK, viewOf(j))
}

func (s *Server) handleUpdateOrder(c echo.Context) error {
	const msg = "Failed to update burger order"
	var order burger.Order
	if err := c.Bind(&order); err != nil {
		return fail(msg, fmt.Errorf("%w: %v", job.ErrInvalidPayload, err))
	}
	if err := order.Validate(); err != nil {
		return fail(msg, err)
	}
	j, err := s.q.UpdatePayload(c.Request().Context(), c.Param("id"), order)
	if err != nil {
		return fail(msg, err)
	}
	return c.JSON(http.StatusOK, viewOf(j))
}

func (s *Server) handleRemoveOrder(c echo.Context) error {
	id := c.Param("id")
	if err := s.q.Remove(c.Request().Context(), id); err != nil {
		return fail("Failed to remove burger order", err)
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: "Burger order removed", JobIDs: []string{id}, Count: 1})
}

func (s *Server) handleCancelOrder(c echo.Context) error {
	id := c.Param("id")
	if err := s.q.Cancel(c.Request().Context(), id); err != nil {
		return fail("Failed to cancel burger order", err)
	}
	return c.JSON(http.StatusAccepted, MessageResponse{Message: "Burger order cancellation requested", JobIDs: []string{id}, Count: 1})
}

func (s *Server) handleRetryOrder(c echo.Context) error {
	j, err := s.q.Retry(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail("Failed to retry burger order", err)
	}
	return c.JSON(http.StatusOK, viewOf(j))
}

func (s *Server) handlePromoteOrder(c echo.Context) error {
	id := c.Param("id")
	if err := s.q.Promote(c.Request().Context(), id); err != nil {
		return fail("Failed to promote burger order", err)
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: "Burger order promoted", JobIDs: []string{id}, Count: 1})
}

func (s *Server) handleListJobs(c echo.Context) error {
	const msg = "Failed to list jobs"
	var (
		rawState = string(job.StateWaiting)
		offset   int
		limit    = defaultPageSize
	)
	err := echo.QueryParamsBinder(c).
		String("state", &rawState).
		Int("offset", &offset).
		Int("limit", &limit).
		BindError()
	if err != nil {
		return fail(msg, fmt.Errorf("%w: %v", job.ErrInvalidPayload, err))
	}
	state, ok := job.ParseState(rawState)
	if !ok {
		return fail(msg, fmt.Errorf("%w: unknown state %q", job.ErrInvalidPayload, rawState))
	}
	if offset < 0 || limit < 0 {
		return fail(msg, fmt.Errorf("%w: offset and limit must not be negative", job.ErrInvalidPayload))
	}

	jobs, err := s.q.ListByState(c.Request().Context(), state, queue.Range{Offset: offset, Limit: limit})
	if err != nil {
		return fail(msg, err)
	}
	views := make([]OrderView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, viewOf(j))
	}
	return c.JSON(http.StatusOK, ListResponse{State: state, Offset: offset, Limit: limit, Jobs: views})
}

func (s *Server) handleStatus(c echo.Context) error {
	const msg = "Failed to fetch jobs status"
	ctx := c.Request().Context()
	counts, err := s.q.Counts(ctx)
	if err != nil {
		return fail(msg, err)
	}
	active, err := s.q.ListByState(ctx, job.StateActive, queue.Range{})
	if err != nil {
		return fail(msg, err)
	}

	sum := Summary{
		Waiting:   counts[job.StateWaiting],
		Active:    counts[job.StateActive],
		Completed: counts[job.StateCompleted],
		Failed:    counts[job.StateFailed],
		Delayed:   counts[job.StateDelayed],
		Paused:    counts[job.StatePaused],
	}
	sum.Total = sum.Waiting + sum.Active + sum.Completed + sum.Failed + sum.Delayed + sum.Paused

	details := make([]ActiveJob, 0, len(active))
	for _, j := range active {
		a := ActiveJob{ID: j.ID, Progress: j.Progress}
		if o, err := burger.Decode(j.Payload); err == nil {
			a.OrderNumber = o.OrderNumber
		}
		details = append(details, a)
	}
	return c.JSON(http.StatusOK, StatusResponse{Summary: sum, ActiveJobs: details, QueuePaused: s.q.IsPaused()})
}

func (s *Server) handlePause(c echo.Context) error {
	s.q.Pause()
	return c.JSON(http.StatusOK, MessageResponse{Message: "Queue paused"})
}

func (s *Server) handleResume(c echo.Context) error {
	s.q.Resume()
	return c.JSON(http.StatusOK, MessageResponse{Message: "Queue resumed"})
}

func (s *Server) handleClean(c echo.Context) error {
	const msg = "Failed to clean jobs"
	var req CleanRequest
	if err := c.Bind(&req); err != nil {
		return fail(msg, fmt.Errorf("%w: %v", job.ErrInvalidPayload, err))
	}
	keep := defaultKeep
	if req.Keep != nil {
		keep = *req.Keep
	}
	if keep < 0 {
		return fail(msg, fmt.Errorf("%w: keep must not be negative", job.ErrInvalidPayload))
	}
	var olderThan time.Duration
	if req.OlderThan != "" {
		d, err := time.ParseDuration(req.OlderThan)
		if err != nil || d < 0 {
			return fail(msg, fmt.Errorf("%w: invalid olderThan %q", job.ErrInvalidPayload, req.OlderThan))
		}
		olderThan = d
	}

	ctx := c.Request().Context()
	var removed []string
	for _, state := range []job.State{job.StateCompleted, job.StateFailed} {
		ids, err := s.q.Purge(ctx, state, olderThan, keep)
		if err != nil {
			return fail(msg, err)
		}
		removed = append(removed, ids...)
	}
	return c.JSON(http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("Cleaned completed and failed jobs (kept %d most recent)", keep),
		JobIDs:  removed,
		Count:   len(removed),
	})
}

func (s *Server) handleDrain(c echo.Context) error {
	ids, err := s.q.Drain(c.Request().Context())
	if err != nil {
		return fail("Failed to drain queue", err)
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: "Queue drained", JobIDs: ids, Count: len(ids)})
}

func (s *Server) handlePromoteAll(c echo.Context) error {
	n, err := s.q.PromoteAll(c.Request().Context())
	if err != nil {
		return fail("Failed to promote delayed jobs", err)
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: "Delayed jobs promoted", Count: n})
}
