// Package scheduler runs the polling trigger engine: recurring schedule
// fan-out, trigger event consumption, the resumption pass and the stuck
// instance sweep, all on one fixed-interval tick.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/playbookd/playbookd/pkg/gateway"
	"github.com/playbookd/playbookd/pkg/log"
	"github.com/playbookd/playbookd/pkg/models"
	"github.com/playbookd/playbookd/pkg/persistence"
	"github.com/playbookd/playbookd/pkg/triggers"
)

const (
	defaultTickInterval   = 60 * time.Second
	defaultStuckThreshold = 48 * time.Hour
	defaultDrainBatch     = 100
)

// Submitter hands instances to the worker pool.
type Submitter interface {
	Submit(ctx context.Context, instanceID string) bool
}

// Config tunes scheduler behavior.
type Config struct {
	TickInterval time.Duration
	// StuckThreshold is how long an executing instance may go without a
	// write before the sweep force-fails it.
	StuckThreshold time.Duration
	// DrainBatch caps trigger events consumed per tick.
	DrainBatch int
}

// Scheduler drives the engine's time-based behavior.
type Scheduler struct {
	persistence persistence.Persistence
	directory   gateway.Directory
	queue       triggers.Queue
	pool        Submitter
	stats       StatsRecorder
	config      Config
	logger      *slog.Logger
	tracer      trace.Tracer
	clock       func() time.Time
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// NewScheduler creates a scheduler. The stats recorder may be nil.
func NewScheduler(store persistence.Persistence, directory gateway.Directory, queue triggers.Queue, pool Submitter, stats StatsRecorder, config Config) *Scheduler {
	if config.TickInterval <= 0 {
		config.TickInterval = defaultTickInterval
	}

	if config.StuckThreshold <= 0 {
		config.StuckThreshold = defaultStuckThreshold
	}

	if config.DrainBatch <= 0 {
		config.DrainBatch = defaultDrainBatch
	}

	return &Scheduler{
		persistence: store,
		directory:   directory,
		queue:       queue,
		pool:        pool,
		stats:       stats,
		config:      config,
		logger:      log.WithModule("scheduler"),
		tracer:      otel.Tracer("playbookd/scheduler"),
		clock:       func() time.Time { return time.Now().UTC() },
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// WithClock replaces the scheduler's time source. Used by tests.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock

	return s
}

// Start runs the tick loop until Stop is called or the context is
// cancelled. It blocks; callers run it in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.doneCh)

	s.logger.InfoContext(ctx, "Scheduler started", "tick_interval", s.config.TickInterval)

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.Tick(ctx)

	for {
		select {
		case <-s.stopCh:
			s.logger.InfoContext(ctx, "Scheduler stopped")

			return
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "Scheduler context cancelled")

			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Stop signals the tick loop to exit and waits for the current tick.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// Tick runs one full scheduler pass. Each responsibility isolates its own
// failures: one bad schedule or event is logged and skipped, never halting
// the loop.
func (s *Scheduler) Tick(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "scheduler.tick")
	defer span.End()

	now := s.clock()
	tick := TickStats{StartedAt: now}

	tick.InstancesCreated += s.fireDueSchedules(ctx, now, &tick)
	tick.InstancesCreated += s.consumeTriggerEvents(ctx, &tick)
	tick.Resumed = s.resumeDueInstances(ctx, now)
	tick.Expired = s.sweepStuckInstances(ctx, now)

	tick.Duration = s.clock().Sub(now)

	if s.stats != nil {
		s.stats.Record(ctx, tick)
	}

	s.logger.DebugContext(ctx, "Tick finished",
		"schedules_fired", tick.SchedulesFired,
		"events_processed", tick.EventsProcessed,
		"instances_created", tick.InstancesCreated,
		"resumed", tick.Resumed,
		"expired", tick.Expired,
		"duration", tick.Duration)
}

// fireDueSchedules fans out every due schedule to its filtered targets. A
// schedule's fan-out completes before the next schedule starts; correctness
// under overlapping targets is guaranteed by the uniqueness check at
// creation, the ordering is a performance concern only.
func (s *Scheduler) fireDueSchedules(ctx context.Context, now time.Time, tick *TickStats) int {
	due, err := s.persistence.DueSchedules(ctx, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list due schedules", "error", err)

		return 0
	}

	created := 0

	for _, schedule := range due {
		n, err := s.fireSchedule(ctx, schedule, now)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to fire schedule",
				"schedule_id", schedule.ID,
				"error", err)

			continue
		}

		tick.SchedulesFired++
		created += n
	}

	return created
}

func (s *Scheduler) fireSchedule(ctx context.Context, schedule *models.Schedule, now time.Time) (int, error) {
	playbook, err := s.persistence.PlaybookByID(ctx, schedule.PlaybookID)
	if err != nil {
		return 0, fmt.Errorf("failed to load playbook: %w", err)
	}

	created := 0

	if playbook.IsActive() {
		targets, err := s.directory.Targets(ctx, gateway.TargetQuery{
			Tags:       schedule.TargetFilter.Tags,
			ChannelIDs: schedule.TargetFilter.ChannelIDs,
			Limit:      schedule.TargetFilter.EffectiveLimit(),
		})
		if err != nil {
			return 0, fmt.Errorf("failed to resolve targets: %w", err)
		}

		for _, target := range targets {
			if s.createAndSubmit(ctx, playbook, target.TargetID, target.ChannelID, nil) {
				created++
			}
		}

		s.bumpPlaybookCounters(ctx, playbook.ID, created, now)
	} else {
		s.logger.DebugContext(ctx, "Schedule references inactive playbook, skipping fan-out",
			"schedule_id", schedule.ID,
			"playbook_id", playbook.ID)
	}

	schedule.ExecutionCount++
	schedule.SuccessCount++
	schedule.LastExecutionAt = &now

	if err := schedule.UpdateNextExecution(); err != nil {
		return created, fmt.Errorf("failed to compute next execution: %w", err)
	}

	if err := s.persistence.SaveSchedule(ctx, schedule); err != nil {
		return created, fmt.Errorf("failed to save schedule: %w", err)
	}

	return created, nil
}

// consumeTriggerEvents drains the ingestion queue and applies each event.
func (s *Scheduler) consumeTriggerEvents(ctx context.Context, tick *TickStats) int {
	if s.queue == nil {
		return 0
	}

	events, err := s.queue.Drain(ctx, s.config.DrainBatch)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to drain trigger queue", "error", err)
	}

	created := 0

	for _, event := range events {
		n, err := s.applyTriggerEvent(ctx, event)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to apply trigger event",
				"event_type", string(event.Type),
				"target_id", event.TargetID,
				"error", err)

			continue
		}

		tick.EventsProcessed++
		created += n
	}

	return created
}

func (s *Scheduler) applyTriggerEvent(ctx context.Context, event *models.TriggerEvent) (int, error) {
	switch event.Type {
	case models.TriggerNewTarget:
		return s.applyNewTargetEvent(ctx, event)
	case models.TriggerMessageReceived:
		return s.applyMessageEvent(ctx, event)
	case models.TriggerManual:
		return s.applyManualEvent(ctx, event)
	default:
		return 0, fmt.Errorf("unknown trigger event type %q", event.Type)
	}
}

func (s *Scheduler) applyNewTargetEvent(ctx context.Context, event *models.TriggerEvent) (int, error) {
	playbooks, err := s.persistence.ActivePlaybooks(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active playbooks: %w", err)
	}

	created := 0

	for _, playbook := range playbooks {
		if !playbook.Trigger.OnNewTarget {
			continue
		}

		if s.createAndSubmit(ctx, playbook, event.TargetID, event.ChannelID, nil) {
			created++
			s.bumpPlaybookCounters(ctx, playbook.ID, 1, s.clock())
		}
	}

	return created, nil
}

// applyMessageEvent serves two purposes: early resumption of instances
// waiting on a reply from this target, and keyword-triggered instance
// creation.
func (s *Scheduler) applyMessageEvent(ctx context.Context, event *models.TriggerEvent) (int, error) {
	s.resumeWaitingInstances(ctx, event.TargetID)

	playbooks, err := s.persistence.ActivePlaybooks(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active playbooks: %w", err)
	}

	created := 0

	for _, playbook := range playbooks {
		if !playbook.Trigger.MatchesKeywords(event.Message) {
			continue
		}

		variables := map[string]any{"trigger_message": event.Message}

		if s.createAndSubmit(ctx, playbook, event.TargetID, event.ChannelID, variables) {
			created++
			s.bumpPlaybookCounters(ctx, playbook.ID, 1, s.clock())
		}
	}

	return created, nil
}

func (s *Scheduler) applyManualEvent(ctx context.Context, event *models.TriggerEvent) (int, error) {
	playbook, err := s.persistence.PlaybookByID(ctx, event.PlaybookID)
	if err != nil {
		return 0, fmt.Errorf("failed to load playbook: %w", err)
	}

	if !playbook.IsActive() {
		return 0, models.ErrPlaybookNotActive
	}

	created := 0

	for _, target := range event.Targets {
		if s.createAndSubmit(ctx, playbook, target.TargetID, target.ChannelID, nil) {
			created++
		}
	}

	if created > 0 {
		s.bumpPlaybookCounters(ctx, playbook.ID, created, s.clock())
	}

	return created, nil
}

// resumeWaitingInstances clears the waiting flag on instances parked for a
// reply from this target and forces immediate resumption.
func (s *Scheduler) resumeWaitingInstances(ctx context.Context, targetID string) {
	waiting, err := s.persistence.WaitingInstances(ctx, targetID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list waiting instances",
			"target_id", targetID,
			"error", err)

		return
	}

	now := s.clock()

	for _, instance := range waiting {
		updated, err := s.persistence.UpdateInstance(ctx, instance.ID, func(i *models.Instance) error {
			// False means the reply arrived; the wait step reads it
			// on resumption.
			i.SetVariable("waiting_for_reply", false)
			i.Suspend(now)

			return nil
		})
		if err != nil {
			s.logger.WarnContext(ctx, "Failed to mark reply received",
				"instance_id", instance.ID,
				"error", err)

			continue
		}

		s.pool.Submit(ctx, updated.ID)
	}
}

// resumeDueInstances re-submits suspended instances whose resume_at has
// elapsed. Completed instances are excluded by the query, so re-running the
// pass is idempotent.
func (s *Scheduler) resumeDueInstances(ctx context.Context, now time.Time) int {
	due, err := s.persistence.ResumableInstances(ctx, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list resumable instances", "error", err)

		return 0
	}

	resumed := 0

	for _, instance := range due {
		if s.pool.Submit(ctx, instance.ID) {
			resumed++
		}
	}

	return resumed
}

// sweepStuckInstances force-fails executing instances with no progress past
// the stuck threshold. Safety net against workers that died without
// releasing ownership.
func (s *Scheduler) sweepStuckInstances(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-s.config.StuckThreshold)

	stuck, err := s.persistence.StuckInstances(ctx, cutoff)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list stuck instances", "error", err)

		return 0
	}

	expired := 0

	for _, instance := range stuck {
		_, err := s.persistence.UpdateInstance(ctx, instance.ID, func(i *models.Instance) error {
			if i.Status != models.InstanceStatusExecuting {
				return nil
			}

			i.MarkFailed(now, "execution timeout")

			return nil
		})
		if err != nil {
			s.logger.WarnContext(ctx, "Failed to expire stuck instance",
				"instance_id", instance.ID,
				"error", err)

			continue
		}

		expired++

		s.logger.WarnContext(ctx, "Force-failed stuck instance",
			"instance_id", instance.ID,
			"stuck_since", instance.UpdatedAt)
	}

	return expired
}

// createAndSubmit creates one instance and hands it to the pool. A duplicate
// active instance for the (playbook, target) pair is skipped silently:
// idempotent fan-out.
func (s *Scheduler) createAndSubmit(ctx context.Context, playbook *models.Playbook, targetID, channelID string, variables map[string]any) bool {
	now := s.clock()
	instance := &models.Instance{
		ID:             uuid.New().String(),
		PlaybookID:     playbook.ID,
		OrganizationID: playbook.OrganizationID,
		ChannelID:      channelID,
		TargetID:       targetID,
		Name:           fmt.Sprintf("%s - %s", playbook.Name, targetID),
		CurrentStepID:  playbook.FirstStepID(),
		Status:         models.InstanceStatusPending,
		Variables:      variables,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.persistence.CreateInstance(ctx, instance)
	if err != nil {
		if persistence.IsDuplicateActiveInstance(err) {
			s.logger.DebugContext(ctx, "Target already has an active instance, skipping",
				"playbook_id", playbook.ID,
				"target_id", targetID)

			return false
		}

		s.logger.ErrorContext(ctx, "Failed to create instance",
			"playbook_id", playbook.ID,
			"target_id", targetID,
			"error", err)

		return false
	}

	s.pool.Submit(ctx, instance.ID)

	return true
}

func (s *Scheduler) bumpPlaybookCounters(ctx context.Context, playbookID string, created int, now time.Time) {
	if created <= 0 {
		return
	}

	playbook, err := s.persistence.PlaybookByID(ctx, playbookID)
	if err != nil {
		return
	}

	playbook.TotalInstances += created
	playbook.ActiveInstances += created
	playbook.LastUsedAt = &now

	if err := s.persistence.SavePlaybook(ctx, playbook); err != nil {
		s.logger.WarnContext(ctx, "Failed to update playbook counters",
			"playbook_id", playbookID,
			"error", err)
	}
}
