// Package events defines event types and structures for instance lifecycle
// notifications.
package events

import (
	"time"
)

type EventType string

// Topic is the event bus topic instance lifecycle events are published to.
const Topic = "playbookd.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	InstanceStartedEvent   EventType = "instance.started"
	StepStartedEvent       EventType = "instance.step.started"
	StepCompletedEvent     EventType = "instance.step.completed"
	InstanceCompletedEvent EventType = "instance.completed"
	InstanceFailedEvent    EventType = "instance.failed"
	InstanceSuspendedEvent EventType = "instance.suspended"
	InstanceCancelledEvent EventType = "instance.cancelled"
)

// BaseEvent carries the fields shared by every lifecycle event.
type BaseEvent struct {
	ID           string         `json:"id"`
	Type         EventType      `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	InstanceID   string         `json:"instance_id"`
	PlaybookID   string         `json:"playbook_id"`
	PlaybookName string         `json:"playbook_name"`
	TargetID     string         `json:"target_id"`
	TargetName   string         `json:"target_name,omitempty"`
	Progress     int            `json:"progress"`
	WorkerID     string         `json:"worker_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type InstanceStarted struct {
	BaseEvent

	Variables map[string]any `json:"variables,omitempty"`
}

func (e InstanceStarted) GetType() EventType {
	return InstanceStartedEvent
}

type StepStarted struct {
	BaseEvent

	StepID   string `json:"step_id"`
	StepName string `json:"step_name"`
	Action   string `json:"action"`
	TaskID   string `json:"task_id"`
	Attempt  int    `json:"attempt"`
}

func (e StepStarted) GetType() EventType {
	return StepStartedEvent
}

type StepCompleted struct {
	BaseEvent

	StepID     string         `json:"step_id"`
	StepName   string         `json:"step_name"`
	TaskID     string         `json:"task_id"`
	TaskStatus string         `json:"task_status"`
	Output     map[string]any `json:"output,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

func (e StepCompleted) GetType() EventType {
	return StepCompletedEvent
}

type InstanceCompleted struct {
	BaseEvent

	Result     map[string]any `json:"result,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

func (e InstanceCompleted) GetType() EventType {
	return InstanceCompletedEvent
}

type InstanceFailed struct {
	BaseEvent

	StepID string `json:"step_id,omitempty"`
	Error  string `json:"error"`
}

func (e InstanceFailed) GetType() EventType {
	return InstanceFailedEvent
}

// InstanceSuspended is published whenever the executor parks an instance:
// post-step delay, wait-for-reply timeout or retry backoff.
type InstanceSuspended struct {
	BaseEvent

	StepID   string    `json:"step_id"`
	Reason   string    `json:"reason"`
	ResumeAt time.Time `json:"resume_at"`
}

func (e InstanceSuspended) GetType() EventType {
	return InstanceSuspendedEvent
}

type InstanceCancelled struct {
	BaseEvent

	Initiator string `json:"initiator,omitempty"`
}

func (e InstanceCancelled) GetType() EventType {
	return InstanceCancelledEvent
}
