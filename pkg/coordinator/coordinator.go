// Package coordinator owns instance execution concurrency: a bounded worker
// pool with single-flight ownership per instance id.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/playbookd/playbookd/pkg/executor"
	"github.com/playbookd/playbookd/pkg/log"
	"github.com/playbookd/playbookd/pkg/models"
	"github.com/playbookd/playbookd/pkg/persistence"
)

const defaultWorkers = 10

// Runner executes one instance until it terminates or suspends.
type Runner interface {
	Run(ctx context.Context, instanceID string) (executor.Outcome, error)
}

// Coordinator serializes execution per instance and bounds total
// concurrency. An instance id already owned by a running worker is rejected
// as a no-op; suspension releases both the slot and the ownership so the
// resumption pass can re-submit later.
type Coordinator struct {
	runner      Runner
	persistence persistence.Persistence
	logger      *slog.Logger

	slots chan struct{}

	mu       sync.Mutex
	inFlight map[string]struct{}

	wg sync.WaitGroup
}

// NewCoordinator creates a coordinator with the given pool size. A
// non-positive size falls back to the default.
func NewCoordinator(runner Runner, store persistence.Persistence, workers int) *Coordinator {
	if workers <= 0 {
		workers = defaultWorkers
	}

	return &Coordinator{
		runner:      runner,
		persistence: store,
		logger:      log.WithModule("coordinator"),
		slots:       make(chan struct{}, workers),
		inFlight:    make(map[string]struct{}),
	}
}

// Submit hands an instance to the pool. It returns false without running
// anything when the instance is already owned by a worker. The call blocks
// while the pool is saturated, up to context cancellation.
func (c *Coordinator) Submit(ctx context.Context, instanceID string) bool {
	if !c.acquire(instanceID) {
		c.logger.DebugContext(ctx, "Instance already in flight", "instance_id", instanceID)

		return false
	}

	select {
	case c.slots <- struct{}{}:
	case <-ctx.Done():
		c.release(instanceID)

		return false
	}

	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		defer func() { <-c.slots }()
		defer c.release(instanceID)

		outcome, err := c.runner.Run(ctx, instanceID)
		if err != nil {
			c.logger.ErrorContext(ctx, "Worker run failed",
				"instance_id", instanceID,
				"error", err)

			return
		}

		c.logger.DebugContext(ctx, "Worker run finished",
			"instance_id", instanceID,
			"outcome", string(outcome))
	}()

	return true
}

// RecoverOrphaned re-queues instances left in executing status by a previous
// process. They are parked back to scheduled with an immediate resume time so
// the next resumption pass picks them up; the step cursor was persisted after
// every completed step, so at most the in-flight step is re-attempted.
func (c *Coordinator) RecoverOrphaned(ctx context.Context) (int, error) {
	orphans, err := c.persistence.OrphanedInstances(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list orphaned instances: %w", err)
	}

	recovered := 0

	for _, orphan := range orphans {
		if c.owned(orphan.ID) {
			continue
		}

		_, err := c.persistence.UpdateInstance(ctx, orphan.ID, func(i *models.Instance) error {
			if i.Status != models.InstanceStatusExecuting {
				return nil
			}

			now := i.UpdatedAt
			i.Status = models.InstanceStatusScheduled
			i.ResumeAt = &now

			return nil
		})
		if err != nil {
			c.logger.WarnContext(ctx, "Failed to recover orphaned instance",
				"instance_id", orphan.ID,
				"error", err)

			continue
		}

		recovered++
	}

	if recovered > 0 {
		c.logger.InfoContext(ctx, "Recovered orphaned instances", "count", recovered)
	}

	return recovered, nil
}

// InFlight returns how many instances are currently owned by workers.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.inFlight)
}

// Wait blocks until all running workers finish. Used during shutdown.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) acquire(instanceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.inFlight[instanceID]; exists {
		return false
	}

	c.inFlight[instanceID] = struct{}{}

	return true
}

func (c *Coordinator) release(instanceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.inFlight, instanceID)
}

func (c *Coordinator) owned(instanceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, exists := c.inFlight[instanceID]

	return exists
}
