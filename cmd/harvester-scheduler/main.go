package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/keylin/harvester/pkg/cmd"
	"github.com/keylin/harvester/pkg/config"
	"github.com/keylin/harvester/pkg/log"
	"github.com/keylin/harvester/pkg/otelhelper"
	"github.com/keylin/harvester/pkg/scheduler"
)

func main() {
	command := &cli.Command{
		Name:                  "harvester-scheduler",
		Usage:                 "Sweep sources and enqueue due collection jobs",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
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
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the sweep lock (in-process lock when empty)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.DurationFlag{
				Name:    "sweep-interval",
				Usage:   "How often to check for due sources",
				Value:   scheduler.DefaultSweepInterval,
				Sources: cli.EnvVars("SWEEP_INTERVAL"),
			},
			&cli.StringFlag{
				Name:    "seed-file",
				Usage:   "Optional YAML file of sources and templates to upsert at startup",
				Sources: cli.EnvVars("SEED_FILE"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OTLP trace export",
				Sources: cli.EnvVars("TRACING_ENABLED"),
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

			logger := log.WithModule("harvester-scheduler")

			logger.InfoContext(ctx, "Initializing harvester scheduler")

			if command.Bool("tracing") {
				if _, err := otelhelper.NewTracer(ctx, "harvester-scheduler"); err != nil {
					return err
				}
			}

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			if seedFile := command.String("seed-file"); seedFile != "" {
				seed, err := config.LoadSeedFile(seedFile)
				if err != nil {
					return err
				}

				if err := seed.Apply(ctx, persistence); err != nil {
					return err
				}

				logger.InfoContext(ctx, "Applied seed file",
					"sources", len(seed.Sources), "templates", len(seed.Templates))
			}

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			locks := cmd.NewLockManager(logger, command.String("redis-url"))

			sched := scheduler.NewScheduler(
				logger,
				persistence,
				eventBus,
				locks,
				command.Duration("sweep-interval"),
			)

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			go func() {
				sigChan := make(chan os.Signal, 1)
				signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
				<-sigChan
				logger.Info("Shutting down scheduler...")
				cancel()
			}()

			return sched.Run(runCtx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
