package job

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPayload  = errors.New("invalid payload")
	ErrNotFound        = errors.New("job not found")
	ErrInvalidProgress = errors.New("progress must be between 0 and 100")
	ErrCancelled       = errors.New("job cancelled")
	ErrStalled         = errors.New("job stalled more than allowable limit")
	ErrInvalidState    = errors.New("invalid job state for operation")
	ErrLeaseLost       = errors.New("lease no longer held")
)

// HandlerError is what a failed attempt records: the handler's error (or
// recovered panic) tagged with the job and attempt it belongs to.
type HandlerError struct {
	JobID   string
	Attempt int
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("job %s attempt %d: %v", e.JobID, e.Attempt, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
