package triggers

import (
	"context"
	"sync"
	"time"

	"github.com/playbookd/playbookd/pkg/models"
)

// MemoryQueue implements Queue with a process-local slice. Used by tests and
// local development.
type MemoryQueue struct {
	mu     sync.Mutex
	events []*models.TriggerEvent
}

// NewMemoryQueue creates an empty in-memory trigger queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(_ context.Context, event *models.TriggerEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	q.events = append(q.events, event)

	return nil
}

func (q *MemoryQueue) Drain(_ context.Context, max int) ([]*models.TriggerEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if max <= 0 || len(q.events) == 0 {
		return nil, nil
	}

	if max > len(q.events) {
		max = len(q.events)
	}

	drained := q.events[:max]
	q.events = q.events[max:]

	return drained, nil
}

func (q *MemoryQueue) Close() error {
	return nil
}
