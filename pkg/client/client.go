package client

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"burger-queue/pkg/api"
	"burger-queue/pkg/burger"
	"burger-queue/pkg/job"

	"github.com/go-resty/resty/v2"
)

// Client talks to the burger queue HTTP API.
type Client struct {
	client *resty.Client
}

func New(baseURL string) *Client {
	r := resty.New()
	r.SetRedirectPolicy(resty.NoRedirectPolicy())
	r.SetBaseURL(baseURL)
	r.SetTimeout(10 * time.Second)
	r.SetHeader("Accept", "application/json")
	return &Client{client: r}
}

// APIError is a non-2xx answer from the server. It unwraps to the job
// sentinel matching its status code.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Details string `json:"details"`
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Message, e.Details)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return job.ErrNotFound
	case http.StatusBadRequest:
		return job.ErrInvalidPayload
	case http.StatusConflict:
		return job.ErrInvalidState
	default:
		return nil
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	apiErr := &APIError{}
	req := c.client.R().SetContext(ctx).SetError(apiErr)
	if body != nil {
		req = req.SetBody(body)
	}
	if result != nil {
		req = req.SetResult(result)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		apiErr.Status = resp.StatusCode()
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode())
		}
		return apiErr
	}
	return nil
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// PlaceOrder submits one order. A nil order asks for the house burger.
func (c *Client) PlaceOrder(ctx context.Context, order *burger.Order) (api.PlaceOrderResponse, error) {
	var out api.PlaceOrderResponse
	err := c.do(ctx, http.MethodPost, "/burger", api.PlaceOrderRequest{Burger: order}, &out)
	return out, err
}

func (c *Client) CreateJobs(ctx context.Context, count int) (api.CreateJobsResponse, error) {
	var out api.CreateJobsResponse
	err := c.do(ctx, http.MethodPost, "/create-jobs", api.CreateJobsRequest{Count: count}, &out)
	return out, err
}

func (c *Client) GetOrder(ctx context.Context, id string) (api.OrderView, error) {
	var out api.OrderView
	err := c.do(ctx, http.MethodGet, "/burger/"+id, nil, &out)
	return out, err
}

func (c *Client) UpdateOrder(ctx context.Context, id string, order burger.Order) (api.OrderView, error) {
	var out api.OrderView
	err := c.do(ctx, http.MethodPatch, "/burger/"+id, order, &out)
	return out, err
}

func (c *Client) RemoveOrder(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/burger/"+id, nil, nil)
}

func (c *Client) CancelOrder(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/burger/"+id+"/cancel", nil, nil)
}

func (c *Client) RetryOrder(ctx context.Context, id string) (api.OrderView, error) {
	var out api.OrderView
	err := c.do(ctx, http.MethodPost, "/burger/"+id+"/retry", nil, &out)
	return out, err
}

func (c *Client) PromoteOrder(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/burger/"+id+"/promote", nil, nil)
}

func (c *Client) Status(ctx context.Context) (api.StatusResponse, error) {
	var out api.StatusResponse
	err := c.do(ctx, http.MethodGet, "/jobs/status", nil, &out)
	return out, err
}

func (c *Client) List(ctx context.Context, state job.State, offset, limit int) (api.ListResponse, error) {
	var out api.ListResponse
	apiErr := &APIError{}
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"state":  string(state),
			"offset": strconv.Itoa(offset),
			"limit":  strconv.Itoa(limit),
		}).
		SetResult(&out).
		SetError(apiErr).
		Get("/jobs")
	if err != nil {
		return out, fmt.Errorf("GET /jobs: %w", err)
	}
	if resp.IsError() {
		apiErr.Status = resp.StatusCode()
		return out, apiErr
	}
	return out, nil
}

func (c *Client) Pause(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/jobs/pause", nil, nil)
}

func (c *Client) Resume(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/jobs/resume", nil, nil)
}

// Clean purges finished jobs, keeping the most recent keep of each state.
func (c *Client) Clean(ctx context.Context, keep int, olderThan time.Duration) (api.MessageResponse, error) {
	req := api.CleanRequest{Keep: &keep}
	if olderThan > 0 {
		req.OlderThan = olderThan.String()
	}
	var out api.MessageResponse
	err := c.do(ctx, http.MethodPost, "/jobs/clean", req, &out)
	return out, err
}

func (c *Client) Drain(ctx context.Context) (api.MessageResponse, error) {
	var out api.MessageResponse
	err := c.do(ctx, http.MethodPost, "/jobs/drain", nil, &out)
	return out, err
}

func (c *Client) PromoteAll(ctx context.Context) (api.MessageResponse, error) {
	var out api.MessageResponse
	err := c.do(ctx, http.MethodPost, "/jobs/promote", nil, &out)
	return out, err
}
