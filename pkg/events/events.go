package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"burger-queue/pkg/job"

	"github.com/gookit/event"
)

type Kind string

const (
	KindWaiting   Kind = "waiting"
	KindActive    Kind = "active"
	KindProgress  Kind = "progress"
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
	KindStalled   Kind = "stalled"

	// Queue-level kinds carry no job.
	KindPaused  Kind = "paused"
	KindResumed Kind = "resumed"
	KindCleaned Kind = "cleaned"
	KindDrained Kind = "drained"
	KindRemoved Kind = "removed"
)

var JobKinds = []Kind{KindWaiting, KindActive, KindProgress, KindCompleted, KindFailed, KindStalled}
var QueueKinds = []Kind{KindPaused, KindResumed, KindCleaned, KindDrained, KindRemoved}

type Event struct {
	Kind      Kind            `json:"kind"`
	Queue     string          `json:"queue"`
	JobID     string          `json:"job_id,omitempty"`
	Job       *job.Job        `json:"job,omitempty"`
	Progress  float64         `json:"progress,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Err       error           `json:"-"`
	WillRetry bool            `json:"will_retry,omitempty"`
	JobIDs    []string        `json:"job_ids,omitempty"`
	At        time.Time       `json:"at"`
}

// ErrorText is the text of Err, empty when the event carries no error.
func (e Event) ErrorText() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	return json.Marshal(struct {
		plain
		Error string `json:"error,omitempty"`
	}{plain(e), e.ErrorText()})
}

type Handler func(Event) error

const dataKey = "event"

// Bus delivers events synchronously to every subscriber of a kind. A
// subscriber that errors or panics is logged and skipped; the others still
// receive the event.
type Bus struct {
	mgr    *event.Manager
	logger *slog.Logger
}

func NewBus(name string, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		mgr:    event.NewManager(name),
		logger: logger,
	}
}

func (b *Bus) Subscribe(kind Kind, h Handler) {
	b.mgr.On(string(kind), event.ListenerFunc(func(e event.Event) error {
		evt, ok := e.Get(dataKey).(Event)
		if !ok {
			return nil
		}
		b.deliver(evt, h)
		return nil
	}), event.Normal)
}

// SubscribeAll registers h for every job and queue kind.
func (b *Bus) SubscribeAll(h Handler) {
	for _, k := range JobKinds {
		b.Subscribe(k, h)
	}
	for _, k := range QueueKinds {
		b.Subscribe(k, h)
	}
}

func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	if err, _ := b.mgr.Fire(string(evt.Kind), event.M{dataKey: evt}); err != nil {
		b.logger.Error("event dispatch failed", "event", evt.Kind, "job_id", evt.JobID, "error", err)
	}
}

func (b *Bus) deliver(evt Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked",
				"event", evt.Kind,
				"job_id", evt.JobID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	if err := h(evt); err != nil {
		b.logger.Error("event subscriber failed", "event", evt.Kind, "job_id", evt.JobID, "error", err)
	}
}
