package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"burger-queue/pkg/job"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Client journals jobs of one queue into Postgres.
type Client struct {
	pool  *pgxpool.Pool
	queue string
}

func New(ctx context.Context, databaseURL string, maxConns int32, queueName string) (*Client, error) {
	// Parse connection string into pgxpool.Config to allow tweaking settings.
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}
	return &Client{pool: pool, queue: queueName}, nil
}

func (c *Client) Close() error {
	c.pool.Close()
	return nil
}

// InitSchema creates the jobs table. Safe to run on every start.
func (c *Client) InitSchema(ctx context.Context) error {
	schema := `
    CREATE TABLE IF NOT EXISTS jobs (
        id UUID PRIMARY KEY,
        queue TEXT NOT NULL,
        seq BIGINT NOT NULL,
        state TEXT NOT NULL,
        payload JSONB NOT NULL,
        attempts_made INTEGER NOT NULL DEFAULT 0,
        max_attempts INTEGER NOT NULL DEFAULT 1,
        backoff_type TEXT NOT NULL DEFAULT '',
        backoff_delay_ms BIGINT NOT NULL DEFAULT 0,
        progress DOUBLE PRECISION NOT NULL DEFAULT 0,
        result JSONB,
        failure_reason TEXT,
        stalled_count INTEGER NOT NULL DEFAULT 0,
        remove_on_complete BOOLEAN NOT NULL DEFAULT FALSE,
        remove_on_fail BOOLEAN NOT NULL DEFAULT FALSE,
        created_at TIMESTAMPTZ NOT NULL,
        processed_at TIMESTAMPTZ,
        finished_at TIMESTAMPTZ,
        delay_until TIMESTAMPTZ,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );
    CREATE INDEX IF NOT EXISTS idx_jobs_queue_state ON jobs (queue, state);
    `
	_, err := c.pool.Exec(ctx, schema)
	return err
}

// Save upserts the job snapshot.
func (c *Client) Save(ctx context.Context, j job.Job) error {
	query := `
        INSERT INTO jobs (id, queue, seq, state, payload, attempts_made, max_attempts, backoff_type,
            backoff_delay_ms, progress, result, failure_reason, stalled_count, remove_on_complete,
            remove_on_fail, created_at, processed_at, finished_at, delay_until)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
        ON CONFLICT (id) DO UPDATE SET
            seq = EXCLUDED.seq,
            state = EXCLUDED.state,
            payload = EXCLUDED.payload,
            attempts_made = EXCLUDED.attempts_made,
            progress = EXCLUDED.progress,
            result = EXCLUDED.result,
            failure_reason = EXCLUDED.failure_reason,
            stalled_count = EXCLUDED.stalled_count,
            processed_at = EXCLUDED.processed_at,
            finished_at = EXCLUDED.finished_at,
            delay_until = EXCLUDED.delay_until,
            updated_at = NOW()
    `
	_, err := c.pool.Exec(ctx, query,
		j.ID, c.queue, int64(j.Seq), string(j.State), string(j.Payload), j.AttemptsMade, j.MaxAttempts,
		string(j.Backoff.Type), j.Backoff.Delay.Milliseconds(), j.Progress, nullableJSON(j.Result),
		nullableText(j.FailureReason), j.StalledCount, j.RemoveOnComplete, j.RemoveOnFail,
		j.CreatedAt, j.ProcessedAt, j.FinishedAt, j.DelayUntil,
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", j.ID, err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := c.pool.Exec(ctx, `DELETE FROM jobs WHERE queue = $1 AND id::text = ANY($2)`, c.queue, ids)
	return err
}

func (c *Client) Load(ctx context.Context) ([]job.Job, error) {
	query := `
        SELECT id, seq, state, payload, attempts_made, max_attempts, backoff_type, backoff_delay_ms,
               progress, result, failure_reason, stalled_count, remove_on_complete, remove_on_fail,
               created_at, processed_at, finished_at, delay_until
        FROM jobs WHERE queue = $1 ORDER BY seq`
	rows, err := c.pool.Query(ctx, query, c.queue)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []job.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Get reads a single journaled job, mostly useful for inspection.
func (c *Client) Get(ctx context.Context, id string) (job.Job, error) {
	query := `
        SELECT id, seq, state, payload, attempts_made, max_attempts, backoff_type, backoff_delay_ms,
               progress, result, failure_reason, stalled_count, remove_on_complete, remove_on_fail,
               created_at, processed_at, finished_at, delay_until
        FROM jobs WHERE queue = $1 AND id = $2`
	j, err := scanJob(c.pool.QueryRow(ctx, query, c.queue, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return job.Job{}, fmt.Errorf("%w: %s", job.ErrNotFound, id)
	}
	return j, err
}

func scanJob(row pgx.Row) (job.Job, error) {
	var (
		j             job.Job
		seq           int64
		state         string
		payload       []byte
		result        []byte
		backoffType   string
		backoffMS     int64
		failureReason sql.NullString
		processedAt   *time.Time
		finishedAt    *time.Time
		delayUntil    *time.Time
	)
	err := row.Scan(
		&j.ID, &seq, &state, &payload, &j.AttemptsMade, &j.MaxAttempts, &backoffType, &backoffMS,
		&j.Progress, &result, &failureReason, &j.StalledCount, &j.RemoveOnComplete, &j.RemoveOnFail,
		&j.CreatedAt, &processedAt, &finishedAt, &delayUntil,
	)
	if err != nil {
		return job.Job{}, err
	}
	j.Seq = uint64(seq)
	j.State = job.State(state)
	j.Payload = payload
	j.Result = result
	j.Backoff = job.Backoff{Type: job.BackoffType(backoffType), Delay: time.Duration(backoffMS) * time.Millisecond}
	if failureReason.Valid {
		j.FailureReason = failureReason.String
	}
	j.ProcessedAt = processedAt
	j.FinishedAt = finishedAt
	j.DelayUntil = delayUntil
	return j, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullableText(s string) any {
	if s == "" {
		return nil
	}
	return s
}
