package job

import (
	"encoding/json"
	"math"
	"time"
)

type State string
type BackoffType string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateDelayed   State = "delayed"
	StatePaused    State = "paused"
)

// States lists every state in the order summaries report them.
var States = []State{StateWaiting, StateActive, StateCompleted, StateFailed, StateDelayed, StatePaused}

func ParseState(s string) (State, bool) {
	for _, st := range States {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// Terminal reports whether no further transition happens without an explicit retry.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

type Backoff struct {
	Type  BackoffType   `json:"type,omitempty"`
	Delay time.Duration `json:"delay,omitempty"`
}

func Fixed(delay time.Duration) Backoff {
	return Backoff{Type: BackoffFixed, Delay: delay}
}

func Exponential(base time.Duration) Backoff {
	return Backoff{Type: BackoffExponential, Delay: base}
}

// maxShift caps the exponent; larger products saturate at maxDelay.
const (
	maxShift = 30
	maxDelay = time.Duration(math.MaxInt64)
)

// Next returns the minimum wait before the next attempt, given the attempts
// already made. The result is advisory: the job becomes eligible at or after it.
func (b Backoff) Next(attemptsMade int) time.Duration {
	if b.Delay <= 0 {
		return 0
	}
	switch b.Type {
	case BackoffExponential:
		shift := attemptsMade - 1
		if shift < 0 {
			shift = 0
		}
		if shift > maxShift {
			shift = maxShift
		}
		if b.Delay > maxDelay>>uint(shift) {
			return maxDelay
		}
		return b.Delay << uint(shift)
	default:
		return b.Delay
	}
}

type Options struct {
	MaxAttempts      int           `json:"max_attempts"`
	Backoff          Backoff       `json:"backoff"`
	Delay            time.Duration `json:"delay"`
	RemoveOnComplete bool          `json:"remove_on_complete"`
	RemoveOnFail     bool          `json:"remove_on_fail"`
}

// Normalize fills in defaults: a job is always attempted at least once.
func (o Options) Normalize() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 1
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	return o
}

type Job struct {
	ID               string          `json:"id"`
	Seq              uint64          `json:"seq"`
	State            State           `json:"state"`
	Payload          json.RawMessage `json:"payload"`
	AttemptsMade     int             `json:"attempts_made"`
	MaxAttempts      int             `json:"max_attempts"`
	Backoff          Backoff         `json:"backoff"`
	Progress         float64         `json:"progress"`
	Result           json.RawMessage `json:"result,omitempty"`
	FailureReason    string          `json:"failure_reason,omitempty"`
	StalledCount     int             `json:"stalled_count"`
	RemoveOnComplete bool            `json:"remove_on_complete"`
	RemoveOnFail     bool            `json:"remove_on_fail"`
	CreatedAt        time.Time       `json:"created_at"`
	ProcessedAt      *time.Time      `json:"processed_at,omitempty"`
	FinishedAt       *time.Time      `json:"finished_at,omitempty"`
	DelayUntil       *time.Time      `json:"delay_until,omitempty"`
}

// Clone returns a deep copy, so callers never share buffers with the queue.
func (j Job) Clone() Job {
	c := j
	c.Payload = cloneRaw(j.Payload)
	c.Result = cloneRaw(j.Result)
	c.ProcessedAt = cloneTime(j.ProcessedAt)
	c.FinishedAt = cloneTime(j.FinishedAt)
	c.DelayUntil = cloneTime(j.DelayUntil)
	return c
}

// CanRetry reports whether a failed attempt leaves room for another one.
func (j Job) CanRetry() bool {
	return j.AttemptsMade < j.MaxAttempts
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	out := make(json.RawMessage, len(r))
	copy(out, r)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
