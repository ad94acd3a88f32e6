package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/playbookd/playbookd/pkg/coordinator"
	"github.com/playbookd/playbookd/pkg/eventbus"
	"github.com/playbookd/playbookd/pkg/events"
	"github.com/playbookd/playbookd/pkg/scheduler"
)

// EngineManager owns the lifecycle of the execution engine: orphan recovery,
// the scheduler loop and a drained shutdown of the worker pool.
type EngineManager struct {
	id        string
	logger    *slog.Logger
	pool      *coordinator.Coordinator
	scheduler *scheduler.Scheduler
	eventBus  eventbus.EventBus
}

func NewEngineManager(
	id string,
	pool *coordinator.Coordinator,
	sched *scheduler.Scheduler,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
) *EngineManager {
	return &EngineManager{
		id:        id,
		logger:    logger.With("module", "playbookd", "worker_id", id),
		pool:      pool,
		scheduler: sched,
		eventBus:  eventBus,
	}
}

func (m *EngineManager) Start(ctx context.Context) error {
	m.logger.InfoContext(ctx, "Starting engine", "worker_id", m.id)

	recovered, err := m.pool.RecoverOrphaned(ctx)
	if err != nil {
		return err
	}

	if recovered > 0 {
		m.logger.InfoContext(ctx, "Recovered orphaned instances", "count", recovered)
	}

	err = m.eventBus.Handle(events.InstanceCompletedEvent, m.handleInstanceCompleted)
	if err != nil {
		return err
	}

	err = m.eventBus.Handle(events.InstanceFailedEvent, m.handleInstanceFailed)
	if err != nil {
		return err
	}

	err = m.eventBus.Subscribe(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	// Start blocks until Stop; it gets its own goroutine so the signal
	// wait below stays reachable.
	go m.scheduler.Start(ctx)

	m.logger.InfoContext(ctx, "Engine started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	m.logger.InfoContext(ctx, "Shutting down engine...")

	m.scheduler.Stop()
	m.pool.Wait()

	m.logger.InfoContext(ctx, "Engine stopped")

	return nil
}

func (m *EngineManager) handleInstanceCompleted(ctx context.Context, event any) error {
	completed, ok := event.(*events.InstanceCompleted)
	if !ok {
		m.logger.ErrorContext(ctx, "Invalid event type for InstanceCompleted")

		return nil
	}

	m.logger.InfoContext(ctx, "Instance completed",
		"instance_id", completed.InstanceID,
		"playbook_id", completed.PlaybookID,
		"target_id", completed.TargetID,
	)

	return nil
}

func (m *EngineManager) handleInstanceFailed(ctx context.Context, event any) error {
	failed, ok := event.(*events.InstanceFailed)
	if !ok {
		m.logger.ErrorContext(ctx, "Invalid event type for InstanceFailed")

		return nil
	}

	m.logger.WarnContext(ctx, "Instance failed",
		"instance_id", failed.InstanceID,
		"playbook_id", failed.PlaybookID,
		"target_id", failed.TargetID,
		"error", failed.Error,
	)

	return nil
}
