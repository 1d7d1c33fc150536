package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/dukex/siteflow/pkg/cmd"
	"github.com/dukex/siteflow/pkg/config"
	"github.com/dukex/siteflow/pkg/log"
	"github.com/dukex/siteflow/pkg/otelhelper"
	"github.com/dukex/siteflow/pkg/services"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

var errInvalidInterval = errors.New("interval must be positive")

func main() {
	command := &cli.Command{
		Name:                  "siteflow-dispatcher",
		Usage:                 "Start the Siteflow dispatcher service",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			NewValidateCommand(),
		},
		Flags: slices.Concat([]cli.Flag{
			&cli.StringFlag{
				Name:    "dispatcher-id",
				Aliases: []string{"id"},
				Usage:   "Custom dispatcher ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("DISPATCHER_ID"),
			},
			&cli.StringFlag{
				Name:    "seed-file",
				Usage:   "YAML file with workflow definitions saved at startup",
				Sources: cli.EnvVars("SEED_FILE"),
			},
			&cli.DurationFlag{
				Name:    "schedule-reload",
				Usage:   "How often scheduled workflows are reloaded from the database",
				Value:   time.Minute,
				Sources: cli.EnvVars("SCHEDULE_RELOAD"),
			},
			&cli.DurationFlag{
				Name:    "maintenance-interval",
				Usage:   "How often expired trigger claims and old executions are purged",
				Value:   5 * time.Minute,
				Sources: cli.EnvVars("MAINTENANCE_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "shutdown-grace",
				Usage:   "How long shutdown waits for running executions",
				Value:   30 * time.Second,
				Sources: cli.EnvVars("SHUTDOWN_GRACE"),
			},
		}, cmd.CommonFlags(), cmd.EngineFlags()),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), "siteflow-dispatcher")

			dispatcherID := command.String("dispatcher-id")
			if dispatcherID == "" {
				dispatcherID = "dispatcher-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("siteflow-dispatcher").With("dispatcher_id", dispatcherID)

			logger.InfoContext(ctx, "Initializing Siteflow Dispatcher")

			limits := cmd.EngineFromCommand(command)

			opts := ManagerOptions{
				ScheduleReload:      command.Duration("schedule-reload"),
				MaintenanceInterval: command.Duration("maintenance-interval"),
				Retention:           limits.ExecutionRetention,
				ShutdownGrace:       command.Duration("shutdown-grace"),
			}

			if opts.ScheduleReload <= 0 || opts.MaintenanceInterval <= 0 {
				return fmt.Errorf("schedule-reload and maintenance-interval: %w", errInvalidInterval)
			}

			tracer, shutdownTracer, err := otelhelper.NewTracer(ctx, "siteflow-dispatcher", command.Bool("tracing"))
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}
			defer func() {
				if err := shutdownTracer(context.WithoutCancel(ctx)); err != nil {
					logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
				}
			}()

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"), command.String("redis-url"))
			if err != nil {
				return err
			}
			defer func() {
				if err := persistence.Close(context.WithoutCancel(ctx)); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.StringSlice("kafka-brokers"), "siteflow-dispatcher", logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			runtime, err := cmd.NewRuntime(logger, persistence, eventBus, tracer, limits)
			if err != nil {
				return err
			}

			if seedFile := command.String("seed-file"); seedFile != "" {
				workflows, err := config.LoadDefinitions(seedFile)
				if err != nil {
					return err
				}

				err = services.NewWorkflow(logger, persistence, runtime.Registry).Seed(ctx, workflows)
				if err != nil {
					return fmt.Errorf("failed to seed workflows: %w", err)
				}
			}

			return NewDispatcherManager(dispatcherID, logger, persistence, eventBus, runtime, opts).Start(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		slog.Error("Siteflow dispatcher stopped", "error", err)
		os.Exit(1)
	}
}
