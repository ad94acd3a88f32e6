package executor

import (
	"time"

	"github.com/google/uuid"

	"github.com/playbookd/playbookd/pkg/events"
	"github.com/playbookd/playbookd/pkg/models"
)

func (e *Executor) baseEvent(instance *models.Instance, playbookName, targetName string) events.BaseEvent {
	return events.BaseEvent{
		ID:           uuid.New().String(),
		Timestamp:    e.clock(),
		InstanceID:   instance.ID,
		PlaybookID:   instance.PlaybookID,
		PlaybookName: playbookName,
		TargetID:     instance.TargetID,
		TargetName:   targetName,
		Progress:     instance.Progress,
		WorkerID:     e.config.WorkerID,
	}
}

func startedEvent(base events.BaseEvent, variables map[string]any) events.InstanceStarted {
	base.Type = events.InstanceStartedEvent

	return events.InstanceStarted{BaseEvent: base, Variables: variables}
}

func stepStartedEvent(base events.BaseEvent, step models.Step, task *models.Task) events.StepStarted {
	base.Type = events.StepStartedEvent

	return events.StepStarted{
		BaseEvent: base,
		StepID:    step.ID,
		StepName:  step.Name,
		Action:    string(step.Action),
		TaskID:    task.ID,
		Attempt:   task.RetryCount + 1,
	}
}

func stepCompletedEvent(base events.BaseEvent, step models.Step, task *models.Task, duration time.Duration) events.StepCompleted {
	base.Type = events.StepCompletedEvent

	return events.StepCompleted{
		BaseEvent:  base,
		StepID:     step.ID,
		StepName:   step.Name,
		TaskID:     task.ID,
		TaskStatus: string(task.Status),
		Output:     task.Output,
		DurationMs: duration.Milliseconds(),
	}
}

func suspendedEvent(base events.BaseEvent, stepID, reason string, resumeAt time.Time) events.InstanceSuspended {
	base.Type = events.InstanceSuspendedEvent

	return events.InstanceSuspended{
		BaseEvent: base,
		StepID:    stepID,
		Reason:    reason,
		ResumeAt:  resumeAt,
	}
}

func completedEvent(base events.BaseEvent, result map[string]any, durationMs int64) events.InstanceCompleted {
	base.Type = events.InstanceCompletedEvent

	return events.InstanceCompleted{
		BaseEvent:  base,
		Result:     result,
		DurationMs: durationMs,
	}
}

func failedEvent(base events.BaseEvent, stepID, message string) events.InstanceFailed {
	base.Type = events.InstanceFailedEvent

	return events.InstanceFailed{
		BaseEvent: base,
		StepID:    stepID,
		Error:     message,
	}
}

func cancelledEvent(base events.BaseEvent) events.InstanceCancelled {
	base.Type = events.InstanceCancelledEvent

	return events.InstanceCancelled{BaseEvent: base}
}
