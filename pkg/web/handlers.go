// Package web provides HTTP handlers and REST API endpoints for playbook management.
package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/playbookd/playbookd/pkg/models"
	"github.com/playbookd/playbookd/pkg/persistence"
	"github.com/playbookd/playbookd/pkg/scheduler"
	"github.com/playbookd/playbookd/pkg/services"
	"github.com/playbookd/playbookd/pkg/triggers"
)

// StatsReader exposes the latest scheduler tick summary to the API process,
// which does not run the scheduler itself.
type StatsReader interface {
	Last(ctx context.Context) (scheduler.TickStats, bool, error)
}

type APIHandlers struct {
	playbookService *services.Playbook
	instanceService *services.Instance
	scheduleService *services.Schedule
	queue           triggers.Queue
	stats           StatsReader
	validator       *validator.Validate
}

func NewAPIHandlers(
	playbookService *services.Playbook,
	instanceService *services.Instance,
	scheduleService *services.Schedule,
	queue triggers.Queue,
	stats StatsReader,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		playbookService: playbookService,
		instanceService: instanceService,
		scheduleService: scheduleService,
		queue:           queue,
		stats:           stats,
		validator:       validator,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.playbookService.HealthCheck(c.Context())

	status := "unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetPlaybooks(c fiber.Ctx) error {
	playbooks, err := h.playbookService.List(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"playbooks": playbooks,
		"count":     len(playbooks),
	})
}

func (h *APIHandlers) GetPlaybook(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Playbook ID is required")
	}

	playbook, err := h.playbookService.Get(c.Context(), id)
	if err != nil {
		if persistence.IsPlaybookNotFound(err) {
			return notFound(c, "Playbook not found")
		}

		return internalError(c, err)
	}

	return c.JSON(playbook)
}

func (h *APIHandlers) CreatePlaybook(c fiber.Ctx) error {
	var req CreatePlaybookRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	playbook := &models.Playbook{
		Name:           req.Name,
		Description:    req.Description,
		Type:           req.Type,
		OrganizationID: req.OrganizationID,
		Owner:          req.Owner,
		Steps:          req.Steps,
		Trigger:        req.Trigger,
	}

	created, err := h.playbookService.Create(c.Context(), playbook)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdatePlaybook(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Playbook ID is required")
	}

	var req UpdatePlaybookRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.playbookService.Update(c.Context(), id, func(playbook *models.Playbook) error {
		if req.Name != nil {
			playbook.Name = *req.Name
		}

		if req.Description != nil {
			playbook.Description = *req.Description
		}

		if req.Steps != nil {
			playbook.Steps = req.Steps
		}

		if req.Trigger != nil {
			playbook.Trigger = *req.Trigger
		}

		return nil
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) ActivatePlaybook(c fiber.Ctx) error {
	return h.transitionPlaybook(c, h.playbookService.Activate)
}

func (h *APIHandlers) PausePlaybook(c fiber.Ctx) error {
	return h.transitionPlaybook(c, h.playbookService.Pause)
}

func (h *APIHandlers) ArchivePlaybook(c fiber.Ctx) error {
	return h.transitionPlaybook(c, h.playbookService.Archive)
}

func (h *APIHandlers) transitionPlaybook(
	c fiber.Ctx,
	transition func(context.Context, string) (*models.Playbook, error),
) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Playbook ID is required")
	}

	playbook, err := transition(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(playbook)
}

func (h *APIHandlers) GetInstances(c fiber.Ctx) error {
	opts, err := h.parseListInstancesOptions(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	instances, err := h.instanceService.List(c.Context(), *opts)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"instances": instances,
		"count":     len(instances),
		"pagination": fiber.Map{
			"limit":  opts.Limit,
			"offset": opts.Offset,
		},
	})
}

func (h *APIHandlers) parseListInstancesOptions(c fiber.Ctx) (*persistence.ListInstancesOptions, error) {
	opts := &persistence.ListInstancesOptions{
		PlaybookID: c.Query("playbook_id"),
		TargetID:   c.Query("target_id"),
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.InstanceStatus(statusStr)
		opts.Status = &status
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		opts.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		opts.Offset = offset
	}

	return opts, nil
}

func (h *APIHandlers) GetInstance(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	instance, err := h.instanceService.Get(c.Context(), id)
	if err != nil {
		if persistence.IsInstanceNotFound(err) {
			return notFound(c, "Instance not found")
		}

		return internalError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) CreateInstance(c fiber.Ctx) error {
	var req CreateInstanceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	instance, err := h.instanceService.Create(c.Context(), services.CreateRequest{
		PlaybookID: req.PlaybookID,
		TargetID:   req.TargetID,
		ChannelID:  req.ChannelID,
		Variables:  req.Variables,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(instance)
}

func (h *APIHandlers) CreateInstanceBatch(c fiber.Ctx) error {
	var req BatchInstancesRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	err := h.instanceService.CreateBatch(c.Context(), req.PlaybookID, req.Targets)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"playbook_id": req.PlaybookID,
		"targets":     len(req.Targets),
		"status":      "enqueued",
	})
}

func (h *APIHandlers) GetInstanceTasks(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	tasks, err := h.instanceService.Tasks(c.Context(), id)
	if err != nil {
		if persistence.IsInstanceNotFound(err) {
			return notFound(c, "Instance not found")
		}

		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"instance_id": id,
		"tasks":       tasks,
		"count":       len(tasks),
	})
}

func (h *APIHandlers) PauseInstance(c fiber.Ctx) error {
	return h.transitionInstance(c, h.instanceService.Pause)
}

func (h *APIHandlers) ResumeInstance(c fiber.Ctx) error {
	return h.transitionInstance(c, h.instanceService.Resume)
}

func (h *APIHandlers) CancelInstance(c fiber.Ctx) error {
	return h.transitionInstance(c, h.instanceService.Cancel)
}

func (h *APIHandlers) transitionInstance(
	c fiber.Ctx,
	transition func(context.Context, string) (*models.Instance, error),
) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	instance, err := transition(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) GetSchedules(c fiber.Ctx) error {
	schedules, err := h.scheduleService.List(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"schedules": schedules,
		"count":     len(schedules),
	})
}

func (h *APIHandlers) GetSchedule(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Schedule ID is required")
	}

	schedule, err := h.scheduleService.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(schedule)
}

func (h *APIHandlers) CreateSchedule(c fiber.Ctx) error {
	var req CreateScheduleRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	schedule, err := h.scheduleService.Create(c.Context(), services.ScheduleRequest{
		PlaybookID:     req.PlaybookID,
		Name:           req.Name,
		Description:    req.Description,
		CronExpression: req.CronExpression,
		TargetFilter:   req.TargetFilter,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(schedule)
}

func (h *APIHandlers) UpdateSchedule(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Schedule ID is required")
	}

	var req CreateScheduleRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	schedule, err := h.scheduleService.Update(c.Context(), id, services.ScheduleRequest{
		PlaybookID:     req.PlaybookID,
		Name:           req.Name,
		Description:    req.Description,
		CronExpression: req.CronExpression,
		TargetFilter:   req.TargetFilter,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(schedule)
}

func (h *APIHandlers) ActivateSchedule(c fiber.Ctx) error {
	return h.transitionSchedule(c, h.scheduleService.Activate)
}

func (h *APIHandlers) DeactivateSchedule(c fiber.Ctx) error {
	return h.transitionSchedule(c, h.scheduleService.Deactivate)
}

func (h *APIHandlers) transitionSchedule(
	c fiber.Ctx,
	transition func(context.Context, string) (*models.Schedule, error),
) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Schedule ID is required")
	}

	schedule, err := transition(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(schedule)
}

// CreateTriggerEvent accepts an inbound trigger from the messaging layer and
// appends it to the queue. The scheduler drains the queue on its next tick;
// no instance work happens on the request path.
func (h *APIHandlers) CreateTriggerEvent(c fiber.Ctx) error {
	var req TriggerEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	event := &models.TriggerEvent{
		Type:       req.Type,
		TargetID:   req.TargetID,
		ChannelID:  req.ChannelID,
		Message:    req.Message,
		PlaybookID: req.PlaybookID,
		Targets:    req.Targets,
	}

	if err := h.queue.Enqueue(c.Context(), event); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"type":   event.Type,
		"status": "enqueued",
	})
}

// GetSchedulerStats returns the latest scheduler tick summary, if a
// scheduler reported one recently.
func (h *APIHandlers) GetSchedulerStats(c fiber.Ctx) error {
	if h.stats == nil {
		return notFound(c, "Scheduler stats not configured")
	}

	tick, ok, err := h.stats.Last(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	if !ok {
		return c.JSON(fiber.Map{"available": false})
	}

	return c.JSON(fiber.Map{
		"available": true,
		"last_tick": tick,
	})
}
