package cmd

import (
	"context"
	"log/slog"

	redis "github.com/redis/go-redis/v9"

	"github.com/playbookd/playbookd/pkg/triggers"
)

// NewTriggerQueue creates the trigger event queue. A Redis URL gets the
// shared Redis-backed queue; an empty URL falls back to the in-process
// queue, which only works when API and engine run in the same binary.
func NewTriggerQueue(ctx context.Context, logger *slog.Logger, redisURL string) triggers.Queue {
	if redisURL == "" {
		logger.WarnContext(ctx, "No Redis URL configured, using in-memory trigger queue")

		return triggers.NewMemoryQueue()
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		panic(err)
	}

	queue, err := triggers.NewRedisQueue(ctx, opts.Addr, opts.Password, opts.DB, triggers.DefaultQueueKey)
	if err != nil {
		panic(err)
	}

	return queue
}

// NewRedisClient creates a raw Redis client for components that share the
// connection, such as the scheduler stats mirror.
func NewRedisClient(redisURL string) redis.UniversalClient {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		panic(err)
	}

	return redis.NewClient(opts)
}
