// Package main provides the playbookd API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/playbookd/playbookd/pkg/persistence"
	"github.com/playbookd/playbookd/pkg/services"
	"github.com/playbookd/playbookd/pkg/triggers"
	"github.com/playbookd/playbookd/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	queue       triggers.Queue
	stats       web.StatsReader
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	queue triggers.Queue,
	stats web.StatsReader,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		queue:       queue,
		stats:       stats,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	playbookService := services.NewPlaybook(a.persistence)
	instanceService := services.NewInstance(a.persistence, a.queue, nil)
	scheduleService := services.NewSchedule(a.persistence)

	handlers := web.NewAPIHandlers(playbookService, instanceService, scheduleService, a.queue, a.stats, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Playbookd API")
	})

	p := app.Group("/playbooks")
	p.Get("/", handlers.GetPlaybooks)
	p.Post("/", handlers.CreatePlaybook)
	p.Get("/:id", handlers.GetPlaybook)
	p.Patch("/:id", handlers.UpdatePlaybook)
	p.Post("/:id/activate", handlers.ActivatePlaybook)
	p.Post("/:id/pause", handlers.PausePlaybook)
	p.Post("/:id/archive", handlers.ArchivePlaybook)

	i := app.Group("/instances")
	i.Get("/", handlers.GetInstances)
	i.Post("/", handlers.CreateInstance)
	i.Post("/batch", handlers.CreateInstanceBatch)
	i.Get("/:id", handlers.GetInstance)
	i.Get("/:id/tasks", handlers.GetInstanceTasks)
	i.Post("/:id/pause", handlers.PauseInstance)
	i.Post("/:id/resume", handlers.ResumeInstance)
	i.Post("/:id/cancel", handlers.CancelInstance)

	s := app.Group("/schedules")
	s.Get("/", handlers.GetSchedules)
	s.Post("/", handlers.CreateSchedule)
	s.Get("/:id", handlers.GetSchedule)
	s.Patch("/:id", handlers.UpdateSchedule)
	s.Post("/:id/activate", handlers.ActivateSchedule)
	s.Post("/:id/deactivate", handlers.DeactivateSchedule)

	app.Post("/triggers", handlers.CreateTriggerEvent)
	app.Get("/scheduler/stats", handlers.GetSchedulerStats)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
