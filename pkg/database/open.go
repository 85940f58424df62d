package database

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"burger-queue/pkg/queue"
)

var ErrUnsupportedJournal = errors.New("unsupported journal url")

// Journal is a queue journal that owns a connection.
type Journal interface {
	queue.Journal
	Close() error
}

var (
	_ Journal = (*Client)(nil)
	_ Journal = (*RedisJournal)(nil)
)

// Backend reports which journal a URL selects: "memory", "postgres" or "redis".
func Backend(rawURL string) (string, error) {
	if rawURL == "" || strings.EqualFold(rawURL, "memory") {
		return "memory", nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedJournal, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		return "postgres", nil
	case "redis", "rediss":
		return "redis", nil
	default:
		return "", fmt.Errorf("%w: scheme %q", ErrUnsupportedJournal, u.Scheme)
	}
}

// Open connects the journal selected by rawURL. The memory backend has no
// journal and returns nil.
func Open(ctx context.Context, rawURL, queueName string, maxConns int32) (Journal, error) {
	backend, err := Backend(rawURL)
	if err != nil {
		return nil, err
	}
	switch backend {
	case "postgres":
		c, err := New(ctx, rawURL, maxConns, queueName)
		if err != nil {
			return nil, err
		}
		if err := c.InitSchema(ctx); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("init schema: %w", err)
		}
		return c, nil
	case "redis":
		r, err := NewRedis(ctx, rawURL, queueName)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, nil
	}
}
