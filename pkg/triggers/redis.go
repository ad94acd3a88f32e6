package triggers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/playbookd/playbookd/pkg/log"
	"github.com/playbookd/playbookd/pkg/models"
)

// RedisQueue implements Queue on a Redis list. Producers RPUSH JSON-encoded
// events; the scheduler LPOPs them in arrival order.
type RedisQueue struct {
	client redis.UniversalClient
	key    string
	logger *slog.Logger
}

// NewRedisQueue connects to Redis and returns the queue. An empty key falls
// back to DefaultQueueKey.
func NewRedisQueue(ctx context.Context, addr, password string, db int, key string) (*RedisQueue, error) {
	if key == "" {
		key = DefaultQueueKey
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := client.Ping(pingCtx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisQueue{
		client: client,
		key:    key,
		logger: log.WithModule("trigger_queue"),
	}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, event *models.TriggerEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger event: %w", err)
	}

	err = q.client.RPush(ctx, q.key, payload).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue trigger event: %w", err)
	}

	return nil
}

func (q *RedisQueue) Drain(ctx context.Context, max int) ([]*models.TriggerEvent, error) {
	if max <= 0 {
		return nil, nil
	}

	drained := make([]*models.TriggerEvent, 0)

	for len(drained) < max {
		raw, err := q.client.LPop(ctx, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				break
			}

			return drained, fmt.Errorf("failed to pop trigger event: %w", err)
		}

		var event models.TriggerEvent
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			q.logger.WarnContext(ctx, "Dropping malformed trigger event", "error", err)

			continue
		}

		drained = append(drained, &event)
	}

	return drained, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
