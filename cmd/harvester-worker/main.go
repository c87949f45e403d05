package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/keylin/harvester/pkg/cmd"
	"github.com/keylin/harvester/pkg/executor"
	"github.com/keylin/harvester/pkg/lock"
	"github.com/keylin/harvester/pkg/log"
	"github.com/keylin/harvester/pkg/orchestrator"
	"github.com/keylin/harvester/pkg/scheduler"
)

const (
	defaultStepWorkers    = 8
	defaultCollectWorkers = 4
)

func main() {
	command := &cli.Command{
		Name:                  "harvester-worker",
		Usage:                 "Run collection jobs and pipeline steps",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL (postgres://...) or directory path for file persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, memory)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.IntFlag{
				Name:    "step-workers",
				Usage:   "Maximum concurrent pipeline steps",
				Value:   defaultStepWorkers,
				Sources: cli.EnvVars("STEP_WORKERS"),
			},
			&cli.IntFlag{
				Name:    "collect-workers",
				Usage:   "Maximum concurrent collection jobs",
				Value:   defaultCollectWorkers,
				Sources: cli.EnvVars("COLLECT_WORKERS"),
			},
			&cli.StringFlag{
				Name:    "headless-url",
				Usage:   "Browser rendering service URL for tier 2 extraction",
				Sources: cli.EnvVars("HEADLESS_URL"),
			},
			&cli.StringFlag{
				Name:    "agent-url",
				Usage:   "Agent extraction service URL for tier 3 extraction",
				Sources: cli.EnvVars("AGENT_URL"),
			},
			&cli.StringFlag{
				Name:    "llm-base-url",
				Usage:   "OpenAI-compatible API base URL for analysis steps",
				Sources: cli.EnvVars("LLM_BASE_URL"),
			},
			&cli.StringFlag{
				Name:    "llm-api-key",
				Usage:   "API key for the analysis LLM",
				Sources: cli.EnvVars("LLM_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "llm-model",
				Usage:   "Model for analysis steps",
				Sources: cli.EnvVars("LLM_MODEL"),
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
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("harvester-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing harvester worker")

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

			registry := cmd.NewRegistry(logger, persistence, cmd.RegistryConfig{
				HeadlessURL: command.String("headless-url"),
				AgentURL:    command.String("agent-url"),
				LLMBaseURL:  command.String("llm-base-url"),
				LLMAPIKey:   command.String("llm-api-key"),
				LLMModel:    command.String("llm-model"),
			})

			worker := NewWorkerManager(
				workerID,
				logger,
				persistence,
				registry,
				eventBus,
				executor.NewExecutor(logger, persistence, registry, eventBus),
				orchestrator.NewOrchestrator(logger, persistence, registry, eventBus),
				scheduler.NewScheduler(logger, persistence, eventBus, lock.NewLocalManager(), scheduler.DefaultSweepInterval),
				command.Int("step-workers"),
				command.Int("collect-workers"),
			)

			if err := worker.Start(ctx); err != nil {
				logger.ErrorContext(ctx, "Failed to start worker", "error", err)
			}

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
