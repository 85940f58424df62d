package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"burger-queue/pkg/events"
	"burger-queue/pkg/job"

	"github.com/google/uuid"
)

const (
	DefaultLeaseDuration       = 30 * time.Second
	DefaultMaxStalls           = 1
	DefaultMaintenanceInterval = 5 * time.Second
)

// Journal persists job snapshots so a queue can be rebuilt after a restart.
// Every state transition is written through before it is announced. Writes
// happen while the queue lock is held, so a slow journal delays claims.
// Restore orders waiting jobs by Seq; requeued jobs take a fresh Seq so a
// restart keeps them behind the jobs they were queued after.
type Journal interface {
	Save(ctx context.Context, j job.Job) error
	Delete(ctx context.Context, ids ...string) error
	Load(ctx context.Context) ([]job.Job, error)
}

type Option func(*Queue)

func WithJournal(j Journal) Option {
	return func(q *Queue) { q.journal = j }
}

func WithLeaseDuration(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.leaseDuration = d
		}
	}
}

// WithMaxStalls sets how many lease expiries a job survives before it fails.
func WithMaxStalls(n int) Option {
	return func(q *Queue) {
		if n >= 0 {
			q.maxStalls = n
		}
	}
}

func WithMaintenanceInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.interval = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

type entry struct {
	job             job.Job
	token           uint64
	leaseUntil      time.Time
	cancel          context.CancelFunc
	cancelRequested bool
}

// Queue is a named, in-memory job store partitioned by state. All mutation
// happens under mu; the claim in FetchNext is the only synchronization point
// between workers.
type Queue struct {
	name          string
	bus           *events.Bus
	journal       Journal
	logger        *slog.Logger
	now           func() time.Time
	leaseDuration time.Duration
	maxStalls     int
	interval      time.Duration

	mu      sync.Mutex
	jobs    map[string]*entry
	waiting []string
	delayed map[string]*entry
	active  map[string]*entry
	seq     uint64
	tokens  uint64
	paused  bool
	tickets uint64

	// Events leave in ticket order, which is the order transitions took mu.
	emitMu   sync.Mutex
	emitCond *sync.Cond
	served   uint64

	ready chan struct{}
}

func New(name string, bus *events.Bus, opts ...Option) *Queue {
	q := &Queue{
		name:          name,
		bus:           bus,
		logger:        slog.Default(),
		now:           time.Now,
		leaseDuration: DefaultLeaseDuration,
		maxStalls:     DefaultMaxStalls,
		interval:      DefaultMaintenanceInterval,
		jobs:          make(map[string]*entry),
		delayed:       make(map[string]*entry),
		active:        make(map[string]*entry),
		ready:         make(chan struct{}, 1),
	}
	q.emitCond = sync.NewCond(&q.emitMu)
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With("queue", name)
	return q
}

func (q *Queue) Name() string {
	return q.name
}

// Ready is signalled whenever a job may have become claimable.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

func (q *Queue) Submit(ctx context.Context, payload any, opts job.Options) (job.Job, error) {
	if err := ctx.Err(); err != nil {
		return job.Job{}, err
	}
	raw, err := encode(payload)
	if err != nil {
		return job.Job{}, fmt.Errorf("%w: %v", job.ErrInvalidPayload, err)
	}
	opts = opts.Normalize()
	now := q.now()

	q.mu.Lock()
	q.seq++
	j := job.Job{
		ID:               uuid.NewString(),
		Seq:              q.seq,
		State:            job.StateWaiting,
		Payload:          raw,
		MaxAttempts:      opts.MaxAttempts,
		Backoff:          opts.Backoff,
		RemoveOnComplete: opts.RemoveOnComplete,
		RemoveOnFail:     opts.RemoveOnFail,
		CreatedAt:        now,
	}
	if opts.Delay > 0 {
		due := now.Add(opts.Delay)
		j.State = job.StateDelayed
		j.DelayUntil = &due
	}
	if err := q.save(ctx, j); err != nil {
		q.mu.Unlock()
		return job.Job{}, fmt.Errorf("store job: %w", err)
	}

	e := &entry{job: j}
	q.jobs[j.ID] = e
	var evts []events.Event
	if j.State == job.StateDelayed {
		q.delayed[j.ID] = e
	} else {
		q.waiting = append(q.waiting, j.ID)
		evts = append(evts, q.event(events.KindWaiting, e))
	}
	out := j.Clone()
	q.unlockAndEmit(evts)

	if out.State == job.StateWaiting {
		q.signal()
	}
	return out, nil
}

func (q *Queue) Get(ctx context.Context, id string) (job.Job, error) {
	if err := ctx.Err(); err != nil {
		return job.Job{}, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.jobs[id]
	if !ok {
		return job.Job{}, fmt.Errorf("%w: %s", job.ErrNotFound, id)
	}
	return q.view(e), nil
}

type Range struct {
	Offset int
	Limit  int
}

func (r Range) apply(n int) (int, int) {
	start := r.Offset
	if start < 0 {
		start = 0
	}
	if start > n {
		start = n
	}
	end := n
	if r.Limit > 0 && r.Limit < n-start {
		end = start + r.Limit
	}
	return start, end
}

func (q *Queue) ListByState(ctx context.Context, state job.State, r Range) ([]job.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	var list []*entry
	switch state {
	case job.StateWaiting, job.StatePaused:
		if (state == job.StatePaused) == q.paused {
			for _, id := range q.waiting {
				list = append(list, q.jobs[id])
			}
		}
	case job.StateDelayed:
		list = q.delayedByDue()
	case job.StateActive:
		for _, e := range q.active {
			list = append(list, e)
		}
		sort.Slice(list, func(a, b int) bool {
			pa, pb := list[a].job.ProcessedAt, list[b].job.ProcessedAt
			if !pa.Equal(*pb) {
				return pa.Before(*pb)
			}
			return list[a].job.Seq < list[b].job.Seq
		})
	case job.StateCompleted, job.StateFailed:
		list = q.finished(state)
	default:
		return nil, fmt.Errorf("%w: unknown state %q", job.ErrInvalidState, state)
	}

	start, end := r.apply(len(list))
	out := make([]job.Job, 0, end-start)
	for _, e := range list[start:end] {
		out = append(out, q.view(e))
	}
	return out, nil
}

// Counts reports every state, including zero counts. While the queue is
// paused its waiting jobs are counted as paused.
func (q *Queue) Counts(ctx context.Context) (map[job.State]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	counts := make(map[job.State]int, len(job.States))
	for _, s := range job.States {
		counts[s] = 0
	}
	for _, e := range q.jobs {
		counts[e.job.State]++
	}
	if q.paused {
		counts[job.StatePaused] = counts[job.StateWaiting]
		counts[job.StateWaiting] = 0
	}
	return counts, nil
}

// Purge removes completed or failed jobs beyond the retention policy: the
// keep most recently finished survive, and of the rest only those finished
// at least olderThan ago are removed.
func (q *Queue) Purge(ctx context.Context, state job.State, olderThan time.Duration, keep int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !state.Terminal() {
		return nil, fmt.Errorf("%w: cannot purge %s jobs", job.ErrInvalidState, state)
	}
	if keep < 0 {
		keep = 0
	}
	q.mu.Lock()
	list := q.finished(state)
	cutoff := q.now().Add(-olderThan)
	var removed []string
	for i, e := range list {
		if i < keep {
			continue
		}
		if olderThan > 0 && e.job.FinishedAt.After(cutoff) {
			continue
		}
		removed = append(removed, e.job.ID)
	}
	q.drop(ctx, removed...)

	var evts []events.Event
	if len(removed) > 0 {
		evts = append(evts, q.queueEvent(events.KindCleaned, removed))
	}
	q.unlockAndEmit(evts)
	return removed, nil
}

func (q *Queue) Pause() {
	q.mu.Lock()
	if q.paused {
		q.mu.Unlock()
		return
	}
	q.paused = true
	q.unlockAndEmit([]events.Event{q.queueEvent(events.KindPaused, nil)})
	q.logger.Info("queue paused", "event", "queue_paused")
}

func (q *Queue) Resume() {
	q.mu.Lock()
	if !q.paused {
		q.mu.Unlock()
		return
	}
	q.paused = false
	q.unlockAndEmit([]events.Event{q.queueEvent(events.KindResumed, nil)})
	q.logger.Info("queue resumed", "event", "queue_resumed")
	q.signal()
}

func (q *Queue) IsPaused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Cancel fails a waiting or delayed job immediately. For an active job it
// raises the cooperative flag and cancels the lease context; the job fails
// with ErrCancelled once its handler returns, whatever the outcome.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	e, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", job.ErrNotFound, id)
	}

	var evts []events.Event
	switch e.job.State {
	case job.StateActive:
		e.cancelRequested = true
		if e.cancel != nil {
			e.cancel()
		}
		q.mu.Unlock()
		q.logger.Info("cancellation requested", "event", "job_cancel_requested", "job_id", id)
		return nil
	case job.StateWaiting, job.StateDelayed:
		q.unlink(e)
		evts = q.finishFailed(ctx, e, job.ErrCancelled, job.ErrCancelled)
	default:
		q.mu.Unlock()
		return fmt.Errorf("%w: job %s is %s", job.ErrInvalidState, id, e.job.State)
	}
	q.unlockAndEmit(evts)
	return nil
}

// Retry moves a failed job back to waiting with a fresh attempt budget.
func (q *Queue) Retry(ctx context.Context, id string) (job.Job, error) {
	if err := ctx.Err(); err != nil {
		return job.Job{}, err
	}
	q.mu.Lock()
	e, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return job.Job{}, fmt.Errorf("%w: %s", job.ErrNotFound, id)
	}
	if e.job.State != job.StateFailed {
		q.mu.Unlock()
		return job.Job{}, fmt.Errorf("%w: only failed jobs can be retried, job %s is %s", job.ErrInvalidState, id, e.job.State)
	}
	e.job.AttemptsMade = 0
	e.job.StalledCount = 0
	e.job.Progress = 0
	e.job.FailureReason = ""
	e.job.ProcessedAt = nil
	e.job.FinishedAt = nil
	e.job.DelayUntil = nil
	e.cancelRequested = false
	evts := q.enqueue(ctx, e)
	out := e.job.Clone()
	q.unlockAndEmit(evts)
	q.signal()
	return out, nil
}

func (q *Queue) Promote(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	e, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", job.ErrNotFound, id)
	}
	if e.job.State != job.StateDelayed {
		q.mu.Unlock()
		return fmt.Errorf("%w: job %s is not delayed", job.ErrInvalidState, id)
	}
	delete(q.delayed, id)
	e.job.DelayUntil = nil
	evts := q.enqueue(ctx, e)
	q.unlockAndEmit(evts)
	q.signal()
	return nil
}

// PromoteAll makes every delayed job claimable now, in due-time order.
func (q *Queue) PromoteAll(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	q.mu.Lock()
	var evts []events.Event
	for _, e := range q.delayedByDue() {
		delete(q.delayed, e.job.ID)
		e.job.DelayUntil = nil
		evts = append(evts, q.enqueue(ctx, e)...)
	}
	q.unlockAndEmit(evts)
	if len(evts) > 0 {
		q.signal()
	}
	return len(evts), nil
}

// Drain removes every waiting and delayed job. Active and finished jobs stay.
func (q *Queue) Drain(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	removed := append([]string(nil), q.waiting...)
	for _, e := range q.delayedByDue() {
		removed = append(removed, e.job.ID)
	}
	q.drop(ctx, removed...)
	var evts []events.Event
	if len(removed) > 0 {
		evts = append(evts, q.queueEvent(events.KindDrained, removed))
	}
	q.unlockAndEmit(evts)
	return removed, nil
}

func (q *Queue) Remove(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	e, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", job.ErrNotFound, id)
	}
	if e.job.State == job.StateActive {
		q.mu.Unlock()
		return fmt.Errorf("%w: job %s is active", job.ErrInvalidState, id)
	}
	q.drop(ctx, id)
	q.unlockAndEmit([]events.Event{q.queueEvent(events.KindRemoved, []string{id})})
	return nil
}

func (q *Queue) UpdatePayload(ctx context.Context, id string, payload any) (job.Job, error) {
	if err := ctx.Err(); err != nil {
		return job.Job{}, err
	}
	raw, err := encode(payload)
	if err != nil {
		return job.Job{}, fmt.Errorf("%w: %v", job.ErrInvalidPayload, err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.jobs[id]
	if !ok {
		return job.Job{}, fmt.Errorf("%w: %s", job.ErrNotFound, id)
	}
	if e.job.State == job.StateActive {
		return job.Job{}, fmt.Errorf("%w: job %s is active", job.ErrInvalidState, id)
	}
	prev := e.job.Payload
	e.job.Payload = raw
	if err := q.save(ctx, e.job); err != nil {
		e.job.Payload = prev
		return job.Job{}, fmt.Errorf("store job: %w", err)
	}
	return q.view(e), nil
}

// Run promotes due delayed jobs and reaps stalled ones until ctx is done.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			q.logger.Info("queue maintenance stopped", "event", "maintenance_stopped")
			return
		case <-ticker.C:
			if n := q.PromoteDue(ctx); n > 0 {
				q.signal()
			}
			if stalled := q.ReapStalled(ctx); len(stalled) > 0 {
				q.logger.Warn("stalled jobs reclaimed", "event", "jobs_stalled", "count", len(stalled))
			}
		}
	}
}

// PromoteDue moves delayed jobs whose due time has passed to waiting.
func (q *Queue) PromoteDue(ctx context.Context) int {
	q.mu.Lock()
	evts := q.promoteDueLocked(ctx)
	q.unlockAndEmit(evts)
	return len(evts)
}

// ---------------------------------------------------------------------------
// helpers; callers hold mu
// ---------------------------------------------------------------------------

func (q *Queue) promoteDueLocked(ctx context.Context) []events.Event {
	now := q.now()
	var evts []events.Event
	for _, e := range q.delayedByDue() {
		if e.job.DelayUntil.After(now) {
			break
		}
		delete(q.delayed, e.job.ID)
		e.job.DelayUntil = nil
		evts = append(evts, q.enqueue(ctx, e)...)
	}
	return evts
}

func (q *Queue) enqueue(ctx context.Context, e *entry) []events.Event {
	q.seq++
	e.job.Seq = q.seq
	e.job.State = job.StateWaiting
	q.waiting = append(q.waiting, e.job.ID)
	q.persist(ctx, e)
	return []events.Event{q.event(events.KindWaiting, e)}
}

func (q *Queue) finishFailed(ctx context.Context, e *entry, reason error, cause error) []events.Event {
	now := q.now()
	e.job.State = job.StateFailed
	e.job.FailureReason = reason.Error()
	e.job.Result = nil
	e.job.FinishedAt = &now
	e.job.DelayUntil = nil
	evt := q.event(events.KindFailed, e)
	evt.Err = cause
	if e.job.RemoveOnFail {
		q.drop(ctx, e.job.ID)
	} else {
		q.persist(ctx, e)
	}
	q.logger.Info("job failed", "event", "job_failed", "job_id", e.job.ID, "attempts", e.job.AttemptsMade, "reason", e.job.FailureReason)
	return []events.Event{evt}
}

// unlink detaches e from the waiting/delayed/active indexes.
func (q *Queue) unlink(e *entry) {
	id := e.job.ID
	switch e.job.State {
	case job.StateWaiting:
		q.waiting = removeID(q.waiting, id)
	case job.StateDelayed:
		delete(q.delayed, id)
	case job.StateActive:
		delete(q.active, id)
	}
}

func (q *Queue) drop(ctx context.Context, ids ...string) {
	if len(ids) == 0 {
		return
	}
	for _, id := range ids {
		if e, ok := q.jobs[id]; ok {
			q.unlink(e)
			delete(q.jobs, id)
		}
	}
	if q.journal == nil {
		return
	}
	if err := q.journal.Delete(ctx, ids...); err != nil {
		q.logger.Error("journal delete failed", "event", "journal_error", "count", len(ids), "error", err)
	}
}

func (q *Queue) save(ctx context.Context, j job.Job) error {
	if q.journal == nil {
		return nil
	}
	return q.journal.Save(ctx, j)
}

// persist writes a transition through to the journal. Failures are logged:
// the in-memory state stays authoritative.
func (q *Queue) persist(ctx context.Context, e *entry) {
	if err := q.save(ctx, e.job); err != nil {
		q.logger.Error("journal save failed", "event", "journal_error", "job_id", e.job.ID, "state", e.job.State, "error", err)
	}
}

func (q *Queue) delayedByDue() []*entry {
	list := make([]*entry, 0, len(q.delayed))
	for _, e := range q.delayed {
		list = append(list, e)
	}
	sort.Slice(list, func(a, b int) bool {
		da, db := list[a].job.DelayUntil, list[b].job.DelayUntil
		if !da.Equal(*db) {
			return da.Before(*db)
		}
		return list[a].job.Seq < list[b].job.Seq
	})
	return list
}

// finished lists jobs in a terminal state, most recently finished first.
func (q *Queue) finished(state job.State) []*entry {
	var list []*entry
	for _, e := range q.jobs {
		if e.job.State == state {
			list = append(list, e)
		}
	}
	sort.Slice(list, func(a, b int) bool {
		fa, fb := list[a].job.FinishedAt, list[b].job.FinishedAt
		if !fa.Equal(*fb) {
			return fa.After(*fb)
		}
		return list[a].job.Seq > list[b].job.Seq
	})
	return list
}

func (q *Queue) view(e *entry) job.Job {
	j := e.job.Clone()
	if q.paused && j.State == job.StateWaiting {
		j.State = job.StatePaused
	}
	return j
}

func (q *Queue) event(kind events.Kind, e *entry) events.Event {
	snap := e.job.Clone()
	return events.Event{
		Kind:  kind,
		Queue: q.name,
		JobID: snap.ID,
		Job:   &snap,
		At:    q.now(),
	}
}

func (q *Queue) queueEvent(kind events.Kind, ids []string) events.Event {
	return events.Event{
		Kind:   kind,
		Queue:  q.name,
		JobIDs: ids,
		At:     q.now(),
	}
}

// unlockAndEmit releases mu and delivers evts before returning. Deliveries
// are serialised in the order transitions acquired mu, so a job's events
// always arrive in transition order. Subscribers may read from the queue but
// must not change job state from inside a handler.
func (q *Queue) unlockAndEmit(evts []events.Event) {
	if len(evts) == 0 {
		q.mu.Unlock()
		return
	}
	ticket := q.tickets
	q.tickets++
	q.mu.Unlock()

	q.emitMu.Lock()
	for q.served != ticket {
		q.emitCond.Wait()
	}
	q.emitMu.Unlock()

	defer func() {
		q.emitMu.Lock()
		q.served++
		q.emitCond.Broadcast()
		q.emitMu.Unlock()
	}()
	for _, evt := range evts {
		q.bus.Publish(evt)
	}
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func encode(payload any) (json.RawMessage, error) {
	var raw []byte
	switch p := payload.(type) {
	case nil:
		return nil, errors.New("payload is nil")
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	if !json.Valid(raw) {
		return nil, errors.New("payload is not valid JSON")
	}
	if string(raw) == "null" {
		return nil, errors.New("payload is null")
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out, nil
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
