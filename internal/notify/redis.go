package notify

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gomodule/redigo/redis"
)

// Channel is the Redis pub/sub channel issue group events are published on.
const Channel = "fathom:issue-groups"

const (
	redisConnectTimeout = 5 * time.Second
	redisMaxIdle        = 3
	redisIdleTimeout    = 240 * time.Second
)

// RedisNotifier publishes issue group events to a Redis channel so other
// processes (dashboard backends, webhooks) can react to cluster changes.
type RedisNotifier struct {
	pool *redis.Pool
}

// NewRedisNotifier creates a notifier backed by a Redis connection pool.
func NewRedisNotifier(url string) (*RedisNotifier, error) {
	pool := &redis.Pool{
		MaxIdle:     redisMaxIdle,
		IdleTimeout: redisIdleTimeout,
		Dial: func() (redis.Conn, error) {
			return redis.DialURL(url, redis.DialConnectTimeout(redisConnectTimeout))
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}

	// Verify connectivity up front; a misconfigured URL should surface at
	// startup, not on the first batch.
	conn := pool.Get()
	defer conn.Close()
	if _, err := conn.Do("PING"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisNotifier{pool: pool}, nil
}

// Publish sends the event as JSON on the issue groups channel.
func (n *RedisNotifier) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	conn, err := n.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("get redis connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Do("PUBLISH", Channel, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", Channel, err)
	}

	return nil
}

// Close releases the connection pool.
func (n *RedisNotifier) Close() error {
	return n.pool.Close()
}
