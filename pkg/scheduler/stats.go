package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/playbookd/playbookd/pkg/log"
)

// TickStats summarizes one scheduler pass.
type TickStats struct {
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
	SchedulesFired   int           `json:"schedules_fired"`
	EventsProcessed  int           `json:"events_processed"`
	InstancesCreated int           `json:"instances_created"`
	Resumed          int           `json:"resumed"`
	Expired          int           `json:"expired"`
}

// StatsRecorder receives the summary of each tick.
type StatsRecorder interface {
	Record(ctx context.Context, tick TickStats)
}

// MemoryStats keeps the latest tick plus running totals in process memory.
type MemoryStats struct {
	mu      sync.RWMutex
	last    TickStats
	totals  TickStats
	ticks   int
	started time.Time
}

// NewMemoryStats creates an empty stats recorder.
func NewMemoryStats() *MemoryStats {
	return &MemoryStats{started: time.Now().UTC()}
}

func (s *MemoryStats) Record(_ context.Context, tick TickStats) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.last = tick
	s.ticks++
	s.totals.SchedulesFired += tick.SchedulesFired
	s.totals.EventsProcessed += tick.EventsProcessed
	s.totals.InstancesCreated += tick.InstancesCreated
	s.totals.Resumed += tick.Resumed
	s.totals.Expired += tick.Expired
}

// Snapshot returns the last tick, the running totals and the tick count.
func (s *MemoryStats) Snapshot() (TickStats, TickStats, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.last, s.totals, s.ticks
}

// RedisStats mirrors each tick summary into a Redis key with a TTL so
// external dashboards can read scheduler health without touching the
// database.
type RedisStats struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisStats creates a Redis-backed stats recorder.
func NewRedisStats(client redis.UniversalClient, key string, ttl time.Duration) *RedisStats {
	if key == "" {
		key = "playbookd:scheduler_stats"
	}

	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	return &RedisStats{
		client: client,
		key:    key,
		ttl:    ttl,
		logger: log.WithModule("scheduler_stats"),
	}
}

func (s *RedisStats) Record(ctx context.Context, tick TickStats) {
	payload, err := json.Marshal(tick)
	if err != nil {
		return
	}

	err = s.client.Set(ctx, s.key, payload, s.ttl).Err()
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to store scheduler stats", "error", err)
	}
}

// Last reads the most recent tick summary. The second return is false when no
// summary exists, meaning no scheduler ticked within the TTL window.
func (s *RedisStats) Last(ctx context.Context) (TickStats, bool, error) {
	payload, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return TickStats{}, false, nil
		}

		return TickStats{}, false, err
	}

	var tick TickStats
	if err := json.Unmarshal(payload, &tick); err != nil {
		return TickStats{}, false, err
	}

	return tick, true, nil
}
