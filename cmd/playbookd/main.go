package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/playbookd/playbookd/pkg/cmd"
	"github.com/playbookd/playbookd/pkg/coordinator"
	"github.com/playbookd/playbookd/pkg/executor"
	"github.com/playbookd/playbookd/pkg/log"
	"github.com/playbookd/playbookd/pkg/otelhelper"
	"github.com/playbookd/playbookd/pkg/scheduler"
)

func main() {
	command := &cli.Command{
		Name:                  "playbookd",
		EnableShellCompletion: true,
		Usage:                 "Start the playbook execution engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL for persistence",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis connection URL for the trigger queue and scheduler stats",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:     "gateway-url",
				Usage:    "Base URL of the messaging gateway",
				Required: true,
				Sources:  cli.EnvVars("GATEWAY_URL"),
			},
			&cli.StringFlag{
				Name:    "gateway-api-key",
				Usage:   "API key for the messaging gateway",
				Sources: cli.EnvVars("GATEWAY_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "instance-base-url",
				Usage:   "Base URL used to build links in human notifications",
				Sources: cli.EnvVars("INSTANCE_BASE_URL"),
			},
			&cli.StringFlag{
				Name:    "account-nickname",
				Usage:   "Sending account display name, substituted for {account_nickname}",
				Sources: cli.EnvVars("ACCOUNT_NICKNAME"),
			},
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "Maximum instances executing concurrently",
				Value:   10,
				Sources: cli.EnvVars("WORKERS"),
			},
			&cli.DurationFlag{
				Name:    "tick-interval",
				Usage:   "Scheduler tick interval",
				Value:   time.Minute,
				Sources: cli.EnvVars("TICK_INTERVAL"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OpenTelemetry tracing",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "engine-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("playbookd").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing playbookd engine")

			if command.Bool("tracing") {
				if _, err := otelhelper.NewTracer(ctx, "playbookd"); err != nil {
					logger.WarnContext(ctx, "Failed to initialize tracer", "error", err)
				}
			}

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			redisURL := command.String("redis-url")
			queue := cmd.NewTriggerQueue(ctx, logger, redisURL)
			defer func() {
				if err := queue.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close trigger queue", "error", err)
				}
			}()

			gw := cmd.NewGateway(command.String("gateway-url"), command.String("gateway-api-key"), 0)

			exec := executor.NewExecutor(executor.Dependencies{
				Persistence: persistence,
				Gateway:     gw,
				Directory:   gw,
				Assets:      gw,
				Notifier:    gw,
				Publisher:   eventBus,
			}, executor.Config{
				WorkerID:        workerID,
				AccountNickname: command.String("account-nickname"),
				InstanceBaseURL: command.String("instance-base-url"),
			})

			pool := coordinator.NewCoordinator(exec, persistence, command.Int("workers"))

			var stats scheduler.StatsRecorder = scheduler.NewMemoryStats()
			if redisURL != "" {
				stats = scheduler.NewRedisStats(cmd.NewRedisClient(redisURL), "", 10*time.Minute)
			}

			sched := scheduler.NewScheduler(persistence, gw, queue, pool, stats, scheduler.Config{
				TickInterval: command.Duration("tick-interval"),
			})

			engine := NewEngineManager(workerID, pool, sched, eventBus, logger)

			err := engine.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start engine", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
