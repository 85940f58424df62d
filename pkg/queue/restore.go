package queue

import (
	"context"
	"fmt"
	"sort"

	"burger-queue/pkg/events"
	"burger-queue/pkg/job"
)

// Restore rebuilds the queue from its journal. Jobs recorded as active were
// interrupted mid-attempt and are treated as stalled. Restore is meant to run
// once, before any worker starts.
func (q *Queue) Restore(ctx context.Context) (int, error) {
	if q.journal == nil {
		return 0, nil
	}
	jobs, err := q.journal.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load journal: %w", err)
	}
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].Seq < jobs[b].Seq })

	q.mu.Lock()
	for _, j := range jobs {
		if j.Seq > q.seq {
			q.seq = j.Seq
		}
	}
	var interrupted []*entry
	for _, j := range jobs {
		j := j
		if _, exists := q.jobs[j.ID]; exists {
			continue
		}
		e := &entry{job: j}
		q.jobs[j.ID] = e
		switch j.State {
		case job.StateWaiting, job.StatePaused:
			e.job.State = job.StateWaiting
			q.waiting = append(q.waiting, j.ID)
		case job.StateDelayed:
			if e.job.DelayUntil == nil {
				e.job.DelayUntil = &j.CreatedAt
			}
			q.delayed[j.ID] = e
		case job.StateActive:
			interrupted = append(interrupted, e)
		case job.StateCompleted, job.StateFailed:
			if e.job.FinishedAt == nil {
				at := j.CreatedAt
				e.job.FinishedAt = &at
			}
		default:
			q.logger.Warn("skipping journal entry with unknown state", "event", "restore_skipped", "job_id", j.ID, "state", j.State)
			delete(q.jobs, j.ID)
		}
	}
	// Interrupted jobs rejoin behind everything that was already waiting,
	// as a stall at runtime would.
	var evts []events.Event
	for _, e := range interrupted {
		evts = append(evts, q.stall(ctx, e)...)
	}
	recovered := len(interrupted)
	restored := len(q.jobs)
	q.unlockAndEmit(evts)

	q.logger.Info("queue restored", "event", "queue_restored", "jobs", restored, "interrupted", recovered)
	q.signal()
	return restored, nil
}

func sortBySeq(list []*entry) []*entry {
	sort.Slice(list, func(a, b int) bool { return list[a].job.Seq < list[b].job.Seq })
	return list
}
