package database

import (
	"context"
	"encoding/json"
	"fmt"

	"burger-queue/pkg/job"

	"github.com/go-redis/redis/v8"
)

// RedisJournal keeps one hash per queue, field = job ID, value = job JSON.
type RedisJournal struct {
	rdb *redis.Client
	key string
}

func NewRedis(ctx context.Context, redisURL, queueName string) (*RedisJournal, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("unable to reach redis: %w", err)
	}
	return &RedisJournal{rdb: rdb, key: RedisKey(queueName)}, nil
}

// RedisKey names the hash holding a queue's jobs.
func RedisKey(queueName string) string {
	return "burger-queue:" + queueName + ":jobs"
}

func (r *RedisJournal) Save(ctx context.Context, j job.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", j.ID, err)
	}
	if err := r.rdb.HSet(ctx, r.key, j.ID, data).Err(); err != nil {
		return fmt.Errorf("save job %s: %w", j.ID, err)
	}
	return nil
}

func (r *RedisJournal) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.rdb.HDel(ctx, r.key, ids...).Err()
}

func (r *RedisJournal) Load(ctx context.Context) ([]job.Job, error) {
	raw, err := r.rdb.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]job.Job, 0, len(raw))
	for id, data := range raw {
		var j job.Job
		if err := json.Unmarshal([]byte(data), &j); err != nil {
			return nil, fmt.Errorf("decode job %s: %w", id, err)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (r *RedisJournal) Close() error {
	return r.rdb.Close()
}
