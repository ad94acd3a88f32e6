// Package triggers provides the trigger event queue consumed by the
// scheduler tick. The surrounding API layer and messaging webhooks enqueue;
// the scheduler drains.
package triggers

import (
	"context"

	"github.com/playbookd/playbookd/pkg/models"
)

// DefaultQueueKey is the list the trigger ingestion surface appends to.
const DefaultQueueKey = "playbookd:trigger_events"

// Queue is an append-only queue of trigger events.
type Queue interface {
	Enqueue(ctx context.Context, event *models.TriggerEvent) error
	// Drain removes and returns up to max pending events. A malformed
	// entry is dropped, not returned as an error, so one bad event can
	// never halt the scheduler tick.
	Drain(ctx context.Context, max int) ([]*models.TriggerEvent, error)
	Close() error
}
