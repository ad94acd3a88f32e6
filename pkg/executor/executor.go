// Package executor runs the step loop of a single instance: resolving the
// current step, recording a task per attempt, dispatching the action and
// persisting every cursor mutation transactionally.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/playbookd/playbookd/pkg/eventbus"
	"github.com/playbookd/playbookd/pkg/gateway"
	"github.com/playbookd/playbookd/pkg/log"
	"github.com/playbookd/playbookd/pkg/models"
	"github.com/playbookd/playbookd/pkg/otelhelper"
	"github.com/playbookd/playbookd/pkg/persistence"
)

// Outcome is the result of one executor run over an instance.
type Outcome string

const (
	// OutcomeTerminal means the instance reached completed, failed or
	// cancelled; it will never be submitted again.
	OutcomeTerminal Outcome = "terminal"
	// OutcomeSuspended means the instance persisted a resume_at and
	// released its worker; the resumption pass re-submits it later.
	OutcomeSuspended Outcome = "suspended"
)

const (
	defaultRetryBackoff = 30 * time.Second
	defaultReplyTimeout = 24 * time.Hour

	// waitingForReplyVar flags an instance parked on a wait-for-reply
	// step. An inbound message path clears it for early resumption.
	waitingForReplyVar = "waiting_for_reply"
	replyReceivedVar   = "reply_received"
)

// Dependencies are the collaborators the executor calls out to.
type Dependencies struct {
	Persistence persistence.Persistence
	Gateway     gateway.Gateway
	Directory   gateway.Directory
	Assets      gateway.AssetStore
	Notifier    gateway.Notifier
	Publisher   eventbus.EventPublisher
}

// Config tunes executor behavior.
type Config struct {
	WorkerID string
	// AccountNickname is the sending account's display name, exposed to
	// message templates as {account_nickname}.
	AccountNickname string
	// RetryBackoff is the fixed suspension between attempts of a failed
	// task.
	RetryBackoff time.Duration
	// ReplyTimeout is the default wait-for-reply window when a step does
	// not set timeout_minutes.
	ReplyTimeout time.Duration
	// InstanceBaseURL prefixes the action link attached to human
	// notifications.
	InstanceBaseURL string
}

// Executor drives instances through their playbook steps.
type Executor struct {
	deps   Dependencies
	config Config
	logger *slog.Logger
	tracer trace.Tracer
	clock  func() time.Time
}

// NewExecutor creates an executor with the given collaborators.
func NewExecutor(deps Dependencies, config Config) *Executor {
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = defaultRetryBackoff
	}

	if config.ReplyTimeout <= 0 {
		config.ReplyTimeout = defaultReplyTimeout
	}

	return &Executor{
		deps:   deps,
		config: config,
		logger: log.WithModule("executor"),
		tracer: otel.Tracer("playbookd/executor"),
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the executor's time source. Used by tests.
func (e *Executor) WithClock(clock func() time.Time) *Executor {
	e.clock = clock

	return e
}

// Run executes the instance's step loop until it terminates or suspends. It
// never raises past its own boundary for domain failures: those become
// instance and task status transitions. The returned error covers
// infrastructure faults only (persistence unreachable).
func (e *Executor) Run(ctx context.Context, instanceID string) (Outcome, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "executor.run",
		attribute.String(otelhelper.InstanceIDKey, instanceID),
		attribute.String(otelhelper.WorkerIDKey, e.config.WorkerID))
	defer span.End()

	logger := e.logger.With("instance_id", instanceID)

	instance, err := e.deps.Persistence.InstanceByID(ctx, instanceID)
	if err != nil {
		return OutcomeTerminal, fmt.Errorf("failed to load instance: %w", err)
	}

	if instance.IsTerminal() {
		logger.DebugContext(ctx, "Instance already terminal", "status", instance.Status)

		return OutcomeTerminal, nil
	}

	playbook, err := e.deps.Persistence.PlaybookByID(ctx, instance.PlaybookID)
	if err != nil {
		if persistence.IsPlaybookNotFound(err) {
			return e.failInstance(ctx, instance, "", "", "playbook no longer exists")
		}

		return OutcomeTerminal, fmt.Errorf("failed to load playbook: %w", err)
	}

	target, err := e.deps.Directory.Resolve(ctx, instance.TargetID)
	if err != nil || !target.Reachable {
		// Precondition, not a transient fault: never retried.
		message := "target is not reachable"
		if err != nil {
			message = fmt.Sprintf("failed to resolve target: %v", err)
		}

		return e.failInstance(ctx, instance, playbook.Name, "", message)
	}

	instance, err = e.start(ctx, instance, playbook, target)
	if err != nil {
		return OutcomeTerminal, err
	}

	for {
		// Cooperative cancellation: re-check status before every step.
		instance, err = e.deps.Persistence.InstanceByID(ctx, instance.ID)
		if err != nil {
			return OutcomeTerminal, fmt.Errorf("failed to reload instance: %w", err)
		}

		if instance.Status == models.InstanceStatusCancelled {
			e.publish(ctx, instance, cancelledEvent(e.baseEvent(instance, playbook.Name, target.DisplayName)))
			logger.InfoContext(ctx, "Instance cancelled, stopping")

			return OutcomeTerminal, nil
		}

		if instance.IsTerminal() {
			return OutcomeTerminal, nil
		}

		step, found := playbook.StepByID(instance.CurrentStepID)
		if instance.CurrentStepID == "" || !found {
			return e.completeInstance(ctx, instance, playbook, target)
		}

		outcome, done, err := e.runStep(ctx, instance, playbook, target, step)
		if err != nil {
			return OutcomeTerminal, err
		}

		if done {
			return outcome, nil
		}
	}
}

// start transitions a freshly submitted or resumed instance into executing
// and positions the cursor on the first step when unset.
func (e *Executor) start(ctx context.Context, instance *models.Instance, playbook *models.Playbook, target *gateway.TargetInfo) (*models.Instance, error) {
	firstStart := instance.StartedAt == nil
	now := e.clock()

	updated, err := e.deps.Persistence.UpdateInstance(ctx, instance.ID, func(i *models.Instance) error {
		if i.CurrentStepID == "" && i.StartedAt == nil {
			i.CurrentStepID = playbook.FirstStepID()
			i.CurrentStepIndex = 0
		}

		i.MarkStarted(now)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to mark instance started: %w", err)
	}

	if firstStart {
		e.publish(ctx, updated, startedEvent(e.baseEvent(updated, playbook.Name, target.DisplayName), updated.Variables))
		e.logger.InfoContext(ctx, "Instance started",
			"instance_id", updated.ID,
			"playbook_id", playbook.ID,
			"target_id", updated.TargetID)
	}

	return updated, nil
}

// runStep performs one iteration of the loop: task creation, guard
// evaluation, action dispatch and the resulting instance transition. The
// returned done flag tells the caller to stop looping with the given outcome.
func (e *Executor) runStep(ctx context.Context, instance *models.Instance, playbook *models.Playbook, target *gateway.TargetInfo, step models.Step) (Outcome, bool, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "executor.step",
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.String(otelhelper.StepActionKey, string(step.Action)))
	defer span.End()

	now := e.clock()
	logger := e.logger.With("instance_id", instance.ID, "step_id", step.ID, "action", string(step.Action))

	priorFailures, err := e.deps.Persistence.CountFailedAttempts(ctx, instance.ID, step.ID)
	if err != nil {
		return OutcomeTerminal, true, fmt.Errorf("failed to count attempts: %w", err)
	}

	task := &models.Task{
		ID:          uuid.New().String(),
		InstanceID:  instance.ID,
		StepID:      step.ID,
		StepName:    step.Name,
		Action:      step.Action,
		Status:      models.TaskStatusPending,
		RetryCount:  priorFailures,
		MaxRetries:  maxRetriesFor(step),
		Input:       step.Payload,
		ScheduledAt: now,
	}

	if err := e.deps.Persistence.SaveTask(ctx, task); err != nil {
		return OutcomeTerminal, true, fmt.Errorf("failed to save task: %w", err)
	}

	// Guards gate execution, they do not block progression: a failing
	// guard skips the step and still advances.
	hold, guardErr := step.Conditions.Evaluate(instance.Variables)
	if guardErr != nil {
		task.MarkFailed(now, guardErr.Error())
		_ = e.deps.Persistence.SaveTask(ctx, task)

		outcome, err := e.failInstance(ctx, instance, playbook.Name, step.ID,
			fmt.Sprintf("guard evaluation failed: %v", guardErr))

		return outcome, true, err
	}

	if !hold {
		task.MarkSkipped(now, "guard conditions not met")

		if err := e.deps.Persistence.SaveTask(ctx, task); err != nil {
			return OutcomeTerminal, true, fmt.Errorf("failed to save task: %w", err)
		}

		logger.InfoContext(ctx, "Step skipped by guard")

		return e.advance(ctx, instance, playbook, target, step, false)
	}

	task.MarkStarted(e.clock())

	if err := e.deps.Persistence.SaveTask(ctx, task); err != nil {
		return OutcomeTerminal, true, fmt.Errorf("failed to save task: %w", err)
	}

	base := e.baseEvent(instance, playbook.Name, target.DisplayName)
	e.publish(ctx, instance, stepStartedEvent(base, step, task))

	result, actionErr := e.dispatch(ctx, instance, target, step)

	if actionErr != nil {
		otelhelper.SetError(span, actionErr, attribute.String(otelhelper.TaskIDKey, task.ID))

		return e.handleActionFailure(ctx, instance, playbook, target, step, task, actionErr)
	}

	completedAt := e.clock()
	task.MarkCompleted(completedAt, result.output)

	if err := e.deps.Persistence.SaveTask(ctx, task); err != nil {
		return OutcomeTerminal, true, fmt.Errorf("failed to save task: %w", err)
	}

	e.publish(ctx, instance, stepCompletedEvent(base, step, task, completedAt.Sub(now)))

	if len(result.variables) > 0 || len(result.clearVariables) > 0 {
		instance, err = e.deps.Persistence.UpdateInstance(ctx, instance.ID, func(i *models.Instance) error {
			for key, value := range result.variables {
				i.SetVariable(key, value)
			}

			for _, key := range result.clearVariables {
				i.ClearVariable(key)
			}

			return nil
		})
		if err != nil {
			return OutcomeTerminal, true, fmt.Errorf("failed to persist variables: %w", err)
		}
	}

	if result.suspendUntil != nil {
		// The step itself parks the instance (wait-for-reply). The
		// cursor stays on this step; resumption re-dispatches it and
		// the handler recognizes the second visit.
		outcome, err := e.suspend(ctx, instance, playbook.Name, target.DisplayName, step.ID, result.reason, *result.suspendUntil)

		return outcome, true, err
	}

	return e.advance(ctx, instance, playbook, target, step, true)
}

// advance moves the cursor past the step, applying the post-advance delay.
func (e *Executor) advance(ctx context.Context, instance *models.Instance, playbook *models.Playbook, target *gateway.TargetInfo, step models.Step, executed bool) (Outcome, bool, error) {
	hasSuccessor := playbook.NextStepID(step) != ""

	if !hasSuccessor {
		outcome, err := e.completeInstance(ctx, instance, playbook, target)

		return outcome, true, err
	}

	delay := time.Duration(step.DelayMinutes) * time.Minute
	suspendAfter := executed && delay > 0

	updated, err := e.deps.Persistence.UpdateInstance(ctx, instance.ID, func(i *models.Instance) error {
		if !i.Advance(playbook) {
			return nil
		}

		if suspendAfter {
			i.Suspend(e.clock().Add(delay))
		}

		return nil
	})
	if err != nil {
		return OutcomeTerminal, true, fmt.Errorf("failed to advance instance: %w", err)
	}

	if suspendAfter {
		e.publish(ctx, updated, suspendedEvent(e.baseEvent(updated, playbook.Name, target.DisplayName), step.ID, "post_step_delay", *updated.ResumeAt))
		e.logger.InfoContext(ctx, "Instance suspended for post-step delay",
			"instance_id", updated.ID,
			"resume_at", updated.ResumeAt)

		return OutcomeSuspended, true, nil
	}

	return "", false, nil
}

// handleActionFailure records the failed task and either schedules a retry
// backoff suspension or fails the instance.
func (e *Executor) handleActionFailure(ctx context.Context, instance *models.Instance, playbook *models.Playbook, target *gateway.TargetInfo, step models.Step, task *models.Task, actionErr error) (Outcome, bool, error) {
	now := e.clock()
	task.MarkFailed(now, actionErr.Error())

	if err := e.deps.Persistence.SaveTask(ctx, task); err != nil {
		return OutcomeTerminal, true, fmt.Errorf("failed to save task: %w", err)
	}

	e.logger.WarnContext(ctx, "Step action failed",
		"instance_id", instance.ID,
		"step_id", step.ID,
		"attempt", task.RetryCount,
		"max_retries", task.MaxRetries,
		"error", actionErr)

	nonRetryable := gateway.IsValidationError(actionErr) || errors.Is(actionErr, errInvalidPayload)

	if !nonRetryable && task.IsRetryable() {
		outcome, err := e.retryBackoff(ctx, instance, playbook.Name, target.DisplayName, step.ID, now.Add(e.config.RetryBackoff))

		return outcome, true, err
	}

	outcome, err := e.failInstance(ctx, instance, playbook.Name, step.ID, actionErr.Error())

	return outcome, true, err
}

func (e *Executor) suspend(ctx context.Context, instance *models.Instance, playbookName, targetName, stepID, reason string, resumeAt time.Time) (Outcome, error) {
	updated, err := e.deps.Persistence.UpdateInstance(ctx, instance.ID, func(i *models.Instance) error {
		i.Suspend(resumeAt)

		return nil
	})
	if err != nil {
		return OutcomeTerminal, fmt.Errorf("failed to suspend instance: %w", err)
	}

	e.publish(ctx, updated, suspendedEvent(e.baseEvent(updated, playbookName, targetName), stepID, reason, resumeAt))
	e.logger.InfoContext(ctx, "Instance suspended",
		"instance_id", updated.ID,
		"reason", reason,
		"resume_at", resumeAt)

	return OutcomeSuspended, nil
}

// retryBackoff parks the instance until the next attempt of the current step
// and bumps its retry counter.
func (e *Executor) retryBackoff(ctx context.Context, instance *models.Instance, playbookName, targetName, stepID string, resumeAt time.Time) (Outcome, error) {
	updated, err := e.deps.Persistence.UpdateInstance(ctx, instance.ID, func(i *models.Instance) error {
		i.RetryCount++
		i.Suspend(resumeAt)

		return nil
	})
	if err != nil {
		return OutcomeTerminal, fmt.Errorf("failed to suspend instance: %w", err)
	}

	e.publish(ctx, updated, suspendedEvent(e.baseEvent(updated, playbookName, targetName), stepID, "retry_backoff", resumeAt))
	e.logger.InfoContext(ctx, "Instance suspended for retry",
		"instance_id", updated.ID,
		"retry_count", updated.RetryCount,
		"resume_at", resumeAt)

	return OutcomeSuspended, nil
}

func (e *Executor) completeInstance(ctx context.Context, instance *models.Instance, playbook *models.Playbook, target *gateway.TargetInfo) (Outcome, error) {
	now := e.clock()

	updated, err := e.deps.Persistence.UpdateInstance(ctx, instance.ID, func(i *models.Instance) error {
		i.MarkCompleted(now)

		return nil
	})
	if err != nil {
		return OutcomeTerminal, fmt.Errorf("failed to complete instance: %w", err)
	}

	var durationMs int64
	if updated.StartedAt != nil {
		durationMs = now.Sub(*updated.StartedAt).Milliseconds()
	}

	e.publish(ctx, updated, completedEvent(e.baseEvent(updated, playbook.Name, target.DisplayName), updated.Result, durationMs))
	e.logger.InfoContext(ctx, "Instance completed",
		"instance_id", updated.ID,
		"playbook_id", playbook.ID)

	return OutcomeTerminal, nil
}

func (e *Executor) failInstance(ctx context.Context, instance *models.Instance, playbookName, stepID, message string) (Outcome, error) {
	now := e.clock()

	updated, err := e.deps.Persistence.UpdateInstance(ctx, instance.ID, func(i *models.Instance) error {
		i.MarkFailed(now, message)

		return nil
	})
	if err != nil {
		return OutcomeTerminal, fmt.Errorf("failed to fail instance: %w", err)
	}

	e.publish(ctx, updated, failedEvent(e.baseEvent(updated, playbookName, ""), stepID, message))
	e.logger.WarnContext(ctx, "Instance failed",
		"instance_id", updated.ID,
		"step_id", stepID,
		"error", message)

	return OutcomeTerminal, nil
}

func (e *Executor) publish(ctx context.Context, instance *models.Instance, event eventbus.Event) {
	if e.deps.Publisher == nil {
		return
	}

	if err := e.deps.Publisher.Publish(ctx, instance.ID, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish event",
			"instance_id", instance.ID,
			"event_type", string(event.GetType()),
			"error", err)
	}
}

func maxRetriesFor(step models.Step) int {
	if v := step.PayloadInt("max_retries", 0); v > 0 {
		return v
	}

	return models.DefaultMaxRetries
}
