// Package web provides HTTP request and response types for the playbook API.
package web

import "github.com/playbookd/playbookd/pkg/models"

// CreatePlaybookRequest represents the request body for creating a new playbook.
type CreatePlaybookRequest struct {
	Name           string               `json:"name"            validate:"required,min=3"`
	Description    string               `json:"description"`
	Type           models.PlaybookType  `json:"type"`
	OrganizationID string               `json:"organization_id"`
	Owner          string               `json:"owner"`
	Steps          []models.Step        `json:"steps"`
	Trigger        models.TriggerConfig `json:"trigger"`
}

// UpdatePlaybookRequest represents the request body for updating a playbook.
// All fields are optional to support partial updates.
type UpdatePlaybookRequest struct {
	Name        *string               `json:"name,omitempty"        validate:"omitempty,min=3"`
	Description *string               `json:"description,omitempty"`
	Steps       []models.Step         `json:"steps,omitempty"`
	Trigger     *models.TriggerConfig `json:"trigger,omitempty"`
}

// CreateInstanceRequest represents the request body for starting one instance.
type CreateInstanceRequest struct {
	PlaybookID string         `json:"playbook_id" validate:"required"`
	TargetID   string         `json:"target_id"   validate:"required"`
	ChannelID  string         `json:"channel_id"`
	Variables  map[string]any `json:"variables,omitempty"`
}

// BatchInstancesRequest represents the request body for a fan-out run over
// many targets.
type BatchInstancesRequest struct {
	PlaybookID string                `json:"playbook_id" validate:"required"`
	Targets    []models.ManualTarget `json:"targets"     validate:"required,min=1,dive"`
}

// CreateScheduleRequest represents the request body for creating a schedule.
type CreateScheduleRequest struct {
	PlaybookID     string              `json:"playbook_id"     validate:"required"`
	Name           string              `json:"name"            validate:"required"`
	Description    string              `json:"description"`
	CronExpression string              `json:"cron_expression" validate:"required"`
	TargetFilter   models.TargetFilter `json:"target_filter"`
}

// TriggerEventRequest represents an inbound trigger submitted by the
// surrounding messaging layer.
type TriggerEventRequest struct {
	Type      models.TriggerEventType `json:"type"       validate:"required,oneof=new_target message_received manual"`
	TargetID  string                  `json:"target_id"`
	ChannelID string                  `json:"channel_id"`
	Message   string                  `json:"message"`

	PlaybookID string                `json:"playbook_id,omitempty"`
	Targets    []models.ManualTarget `json:"targets,omitempty"`
}
