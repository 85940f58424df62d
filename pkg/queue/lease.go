package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"burger-queue/pkg/events"
	"burger-queue/pkg/job"
)

// Lease is a worker's time-bounded claim on an active job. It is released by
// Complete, Fail or Abandon; once the queue reclaims the job (stall, restore)
// every call on the lease returns job.ErrLeaseLost.
type Lease struct {
	q     *Queue
	job   job.Job
	token uint64
	ctx   context.Context
}

// Job is the snapshot taken at claim time.
func (l *Lease) Job() job.Job {
	return l.job.Clone()
}

func (l *Lease) ID() string {
	return l.job.ID
}

// Context is cancelled when the job is cancelled, reclaimed, or the context
// passed to FetchNext ends.
func (l *Lease) Context() context.Context {
	return l.ctx
}

// Decode unmarshals the job payload into v.
func (l *Lease) Decode(v any) error {
	if err := json.Unmarshal(l.job.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", job.ErrInvalidPayload, err)
	}
	return nil
}

// Cancelled reports whether Cancel was called for this job while active.
func (l *Lease) Cancelled() bool {
	l.q.mu.Lock()
	defer l.q.mu.Unlock()
	e, ok := l.q.held(l)
	return ok && e.cancelRequested
}

// ReportProgress records v (0-100), renews the lease and emits a progress
// event. Out-of-range values are rejected and leave the job untouched.
func (l *Lease) ReportProgress(ctx context.Context, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 100 {
		return fmt.Errorf("%w: got %v", job.ErrInvalidProgress, v)
	}
	q := l.q
	q.mu.Lock()
	e, ok := q.held(l)
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: job %s", job.ErrLeaseLost, l.job.ID)
	}
	e.job.Progress = v
	e.leaseUntil = q.now().Add(q.leaseDuration)
	q.persist(ctx, e)
	evt := q.event(events.KindProgress, e)
	evt.Progress = v
	q.unlockAndEmit([]events.Event{evt})
	return nil
}

// Heartbeat renews the lease without reporting progress.
func (l *Lease) Heartbeat(ctx context.Context) error {
	q := l.q
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.held(l)
	if !ok {
		return fmt.Errorf("%w: job %s", job.ErrLeaseLost, l.job.ID)
	}
	e.leaseUntil = q.now().Add(q.leaseDuration)
	return nil
}

// FetchNext claims the oldest eligible job and returns its lease, or nil when
// the queue is paused or nothing is eligible. Due delayed jobs are promoted
// first, in due-time order.
func (q *Queue) FetchNext(ctx context.Context) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	evts := q.promoteDueLocked(ctx)
	if q.paused || len(q.waiting) == 0 {
		q.unlockAndEmit(evts)
		return nil, nil
	}

	id := q.waiting[0]
	q.waiting = q.waiting[1:]
	e := q.jobs[id]
	now := q.now()

	q.tokens++
	lctx, cancel := context.WithCancel(ctx)
	e.token = q.tokens
	e.cancel = cancel
	e.leaseUntil = now.Add(q.leaseDuration)
	e.job.State = job.StateActive
	e.job.AttemptsMade++
	e.job.ProcessedAt = &now
	q.active[id] = e
	q.persist(ctx, e)

	lease := &Lease{q: q, job: e.job.Clone(), token: e.token, ctx: lctx}
	evts = append(evts, q.event(events.KindActive, e))
	q.unlockAndEmit(evts)
	return lease, nil
}

// Complete records a successful attempt. A result that cannot be encoded
// fails the attempt instead and the encoding error is returned. A job
// cancelled while active fails with job.ErrCancelled even when its handler
// succeeded.
func (q *Queue) Complete(ctx context.Context, l *Lease, result any) error {
	var raw []byte
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			encErr := fmt.Errorf("encode result: %w", err)
			if ferr := q.Fail(ctx, l, encErr); ferr != nil {
				return ferr
			}
			return encErr
		}
		raw = b
	}

	q.mu.Lock()
	e, ok := q.held(l)
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: job %s", job.ErrLeaseLost, l.job.ID)
	}
	q.release(e)

	if e.cancelRequested {
		herr := &job.HandlerError{JobID: e.job.ID, Attempt: e.job.AttemptsMade, Err: job.ErrCancelled}
		q.unlockAndEmit(q.finishFailed(ctx, e, job.ErrCancelled, herr))
		q.signal()
		return nil
	}

	now := q.now()
	e.job.State = job.StateCompleted
	e.job.Result = raw
	e.job.FailureReason = ""
	e.job.FinishedAt = &now
	evt := q.event(events.KindCompleted, e)
	evt.Result = e.job.Result
	if e.job.RemoveOnComplete {
		q.drop(ctx, e.job.ID)
	} else {
		q.persist(ctx, e)
	}
	q.unlockAndEmit([]events.Event{evt})
	return nil
}

// Fail records a failed attempt. The job is retried after its backoff while
// attempts remain; otherwise, or when it was cancelled, it fails for good.
func (q *Queue) Fail(ctx context.Context, l *Lease, cause error) error {
	if cause == nil {
		cause = fmt.Errorf("attempt failed without an error")
	}
	q.mu.Lock()
	e, ok := q.held(l)
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: job %s", job.ErrLeaseLost, l.job.ID)
	}
	q.release(e)

	herr := &job.HandlerError{JobID: e.job.ID, Attempt: e.job.AttemptsMade, Err: cause}
	var evts []events.Event
	switch {
	case e.cancelRequested:
		herr.Err = job.ErrCancelled
		evts = q.finishFailed(ctx, e, job.ErrCancelled, herr)
	case e.job.CanRetry():
		evts = q.scheduleRetry(ctx, e, herr)
	default:
		evts = q.finishFailed(ctx, e, cause, herr)
	}
	q.unlockAndEmit(evts)
	q.signal()
	return nil
}

// Abandon hands an active job back without counting the attempt, e.g. when
// the worker shuts down mid-handler.
func (q *Queue) Abandon(ctx context.Context, l *Lease) error {
	q.mu.Lock()
	e, ok := q.held(l)
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: job %s", job.ErrLeaseLost, l.job.ID)
	}
	q.release(e)
	if e.job.AttemptsMade > 0 {
		e.job.AttemptsMade--
	}
	e.job.ProcessedAt = nil
	// Abandoned jobs go back to the head: they were next in line already.
	e.job.State = job.StateWaiting
	q.waiting = append([]string{e.job.ID}, q.waiting...)
	q.persist(ctx, e)
	q.unlockAndEmit([]events.Event{q.event(events.KindWaiting, e)})
	q.signal()
	return nil
}

// ReapStalled reclaims active jobs whose lease expired. The interrupted
// attempt is not counted; the stall is. Jobs that stalled more than the
// allowed number of times fail with job.ErrStalled.
func (q *Queue) ReapStalled(ctx context.Context) []string {
	q.mu.Lock()
	now := q.now()
	var stalled []*entry
	for _, e := range q.active {
		if now.After(e.leaseUntil) {
			stalled = append(stalled, e)
		}
	}
	var evts []events.Event
	var ids []string
	for _, e := range sortBySeq(stalled) {
		q.release(e)
		evts = append(evts, q.stall(ctx, e)...)
		ids = append(ids, e.job.ID)
	}
	q.unlockAndEmit(evts)
	if len(ids) > 0 {
		q.signal()
	}
	return ids
}

func (q *Queue) stall(ctx context.Context, e *entry) []events.Event {
	if e.job.AttemptsMade > 0 {
		e.job.AttemptsMade--
	}
	e.job.StalledCount++
	q.logger.Warn("job stalled", "event", "job_stalled", "job_id", e.job.ID, "stalled_count", e.job.StalledCount)

	stalledEvt := q.event(events.KindStalled, e)
	stalledEvt.Err = job.ErrStalled
	evts := []events.Event{stalledEvt}
	if e.job.StalledCount > q.maxStalls {
		return append(evts, q.finishFailed(ctx, e, job.ErrStalled, job.ErrStalled)...)
	}
	return append(evts, q.enqueue(ctx, e)...)
}

func (q *Queue) scheduleRetry(ctx context.Context, e *entry, herr *job.HandlerError) []events.Event {
	delay := e.job.Backoff.Next(e.job.AttemptsMade)
	q.logger.Info("job attempt failed, retrying",
		"event", "job_retry_scheduled",
		"job_id", e.job.ID,
		"attempt", e.job.AttemptsMade,
		"max_attempts", e.job.MaxAttempts,
		"delay", delay,
		"error", herr.Err)

	var waiting []events.Event
	if delay <= 0 {
		waiting = q.enqueue(ctx, e)
	} else {
		due := q.now().Add(delay)
		e.job.State = job.StateDelayed
		e.job.DelayUntil = &due
		q.delayed[e.job.ID] = e
		q.persist(ctx, e)
	}
	failed := q.event(events.KindFailed, e)
	failed.Err = herr
	failed.WillRetry = true
	return append([]events.Event{failed}, waiting...)
}

// held returns the entry l still owns.
func (q *Queue) held(l *Lease) (*entry, bool) {
	e, ok := q.jobs[l.job.ID]
	if !ok || e.job.State != job.StateActive || e.token != l.token {
		return nil, false
	}
	return e, true
}

func (q *Queue) release(e *entry) {
	delete(q.active, e.job.ID)
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.token = 0
}
