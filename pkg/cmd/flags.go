package cmd

import (
	"github.com/dukex/siteflow/pkg/config"
	cli "github.com/urfave/cli/v3"
)

// CommonFlags are shared by every siteflow binary.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL for persistence (file://<dir> or postgres://...)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL used to share trigger claims between dispatchers",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (kafka, gochannel)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringSliceFlag{
			Name:    "kafka-brokers",
			Usage:   "Kafka brokers used by the kafka event bus",
			Value:   []string{"localhost:9092"},
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
	}
}

// EngineFlags expose the execution limits, defaulting to config.DefaultEngine.
func EngineFlags() []cli.Flag {
	defaults := config.DefaultEngine()

	return []cli.Flag{
		&cli.DurationFlag{
			Name:    "run-timeout",
			Usage:   "Maximum duration of one execution",
			Value:   defaults.RunTimeout,
			Sources: cli.EnvVars("RUN_TIMEOUT"),
		},
		&cli.DurationFlag{
			Name:    "step-timeout",
			Usage:   "Maximum duration of one step",
			Value:   defaults.StepTimeout,
			Sources: cli.EnvVars("STEP_TIMEOUT"),
		},
		&cli.IntFlag{
			Name:    "max-steps",
			Usage:   "Maximum number of steps a workflow may run",
			Value:   defaults.MaxSteps,
			Sources: cli.EnvVars("MAX_STEPS"),
		},
		&cli.IntFlag{
			Name:    "max-hops",
			Usage:   "Maximum depth of run_workflow chains",
			Value:   defaults.MaxHops,
			Sources: cli.EnvVars("MAX_HOPS"),
		},
		&cli.IntFlag{
			Name:    "persist-retries",
			Usage:   "Retries for execution record writes",
			Value:   defaults.PersistRetries,
			Sources: cli.EnvVars("PERSIST_RETRIES"),
		},
		&cli.DurationFlag{
			Name:    "persist-retry-delay",
			Usage:   "Initial delay between execution record write retries",
			Value:   defaults.PersistRetryDelay,
			Sources: cli.EnvVars("PERSIST_RETRY_DELAY"),
		},
		&cli.DurationFlag{
			Name:    "dedup-window",
			Usage:   "How long a trigger identity is remembered, 0 disables dedup",
			Value:   defaults.DedupWindow,
			Sources: cli.EnvVars("DEDUP_WINDOW"),
		},
		&cli.DurationFlag{
			Name:    "manual-wait-timeout",
			Usage:   "How long a manual run request waits for the execution",
			Value:   defaults.ManualWaitTimeout,
			Sources: cli.EnvVars("MANUAL_WAIT_TIMEOUT"),
		},
		&cli.DurationFlag{
			Name:    "execution-retention",
			Usage:   "Age after which finished executions are purged, 0 keeps them",
			Value:   defaults.ExecutionRetention,
			Sources: cli.EnvVars("EXECUTION_RETENTION"),
		},
	}
}

// EngineFromCommand reads the limits set by EngineFlags.
func EngineFromCommand(command *cli.Command) config.Engine {
	return config.Engine{
		RunTimeout:         command.Duration("run-timeout"),
		StepTimeout:        command.Duration("step-timeout"),
		MaxSteps:           command.Int("max-steps"),
		MaxHops:            command.Int("max-hops"),
		PersistRetries:     command.Int("persist-retries"),
		PersistRetryDelay:  command.Duration("persist-retry-delay"),
		DedupWindow:        command.Duration("dedup-window"),
		ManualWaitTimeout:  command.Duration("manual-wait-timeout"),
		ExecutionRetention: command.Duration("execution-retention"),
	}
}
