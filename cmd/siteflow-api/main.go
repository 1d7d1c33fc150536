package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/dukex/siteflow/pkg/cmd"
	"github.com/dukex/siteflow/pkg/config"
	"github.com/dukex/siteflow/pkg/log"
	"github.com/dukex/siteflow/pkg/otelhelper"
	"github.com/dukex/siteflow/pkg/services"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPort          = 9091
	defaultShutdownGrace = 30 * time.Second
)

func main() {
	command := &cli.Command{
		Name:                  "siteflow-api",
		Usage:                 "Create, run and inspect site workflows",
		EnableShellCompletion: true,
		Flags: slices.Concat([]cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "seed-file",
				Usage:   "YAML file with workflow definitions saved at startup",
				Sources: cli.EnvVars("SEED_FILE"),
			},
			&cli.DurationFlag{
				Name:    "shutdown-grace",
				Usage:   "How long shutdown waits for running executions",
				Value:   defaultShutdownGrace,
				Sources: cli.EnvVars("SHUTDOWN_GRACE"),
			},
		}, cmd.CommonFlags(), cmd.EngineFlags()),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), "siteflow-api")

			logger := log.WithModule("api")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.InfoContext(ctx, "Initializing Siteflow API")

			tracer, shutdownTracer, err := otelhelper.NewTracer(ctx, "siteflow-api", command.Bool("tracing"))
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

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.StringSlice("kafka-brokers"), "siteflow-api", logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			runtime, err := cmd.NewRuntime(logger, persistence, eventBus, tracer, cmd.EngineFromCommand(command))
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

			message, ok := runtime.Registry.HealthCheck()
			if !ok {
				logger.WarnContext(ctx, message)
			}

			api := NewAPI(logger, persistence, runtime.Registry, runtime.Engine, runtime.Dispatcher)

			return api.Serve(ctx, command.Int("port"), command.Duration("shutdown-grace"))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		slog.Error("Siteflow API stopped", "error", err)
		os.Exit(1)
	}
}
