package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/siteflow/pkg/config"
	"github.com/dukex/siteflow/pkg/eventbus"
	"github.com/dukex/siteflow/pkg/persistence"
	"github.com/dukex/siteflow/pkg/registry"
	"github.com/dukex/siteflow/pkg/workflow"
	"go.opentelemetry.io/otel/trace"
)

// Runtime is the wired execution core shared by the api and the dispatcher.
type Runtime struct {
	Registry   *registry.Registry
	Engine     *workflow.Engine
	Dispatcher *workflow.Dispatcher
}

// NewRuntime builds the registry, the engine and the dispatcher on top of store.
func NewRuntime(
	logger *slog.Logger,
	store persistence.Persistence,
	bus eventbus.EventPublisher,
	tracer trace.Tracer,
	limits config.Engine,
) (*Runtime, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}

	reg, err := NewRegistry(logger, store.RecordRepository(), bus, &http.Client{Timeout: limits.StepTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to register actions: %w", err)
	}

	engine := workflow.NewEngine(
		logger,
		reg,
		store.WorkflowRepository(),
		store.ExecutionRepository(),
		limits.Options(),
		workflow.WithPublisher(bus),
		workflow.WithTracer(tracer),
	)

	if err := RegisterChaining(reg, engine); err != nil {
		return nil, fmt.Errorf("failed to register actions: %w", err)
	}

	dispatcher := workflow.NewDispatcher(
		logger,
		engine,
		workflow.NewMatcher(logger, store.WorkflowRepository()),
		store.WorkflowRepository(),
		store.TriggerClaimRepository(),
		limits.DispatcherOptions(),
	)

	return &Runtime{Registry: reg, Engine: engine, Dispatcher: dispatcher}, nil
}

// Maintain purges expired trigger claims and, with a retention, old finished
// executions every interval until ctx is done.
func Maintain(ctx context.Context, logger *slog.Logger, store persistence.Persistence, retention, interval time.Duration) {
	logger = logger.With("module", "maintenance")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			PurgeOnce(ctx, logger, store, retention, time.Now().UTC())
		}
	}
}

// PurgeOnce runs one maintenance pass.
func PurgeOnce(ctx context.Context, logger *slog.Logger, store persistence.Persistence, retention time.Duration, now time.Time) {
	claims, err := store.TriggerClaimRepository().PurgeExpired(ctx, now)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to purge trigger claims", "error", err)
	} else if claims > 0 {
		logger.InfoContext(ctx, "Purged expired trigger claims", "count", claims)
	}

	if retention <= 0 {
		return
	}

	executions, err := store.ExecutionRepository().PurgeCompletedBefore(ctx, now.Add(-retention))
	if err != nil {
		logger.ErrorContext(ctx, "Failed to purge executions", "error", err)

		return
	}

	if executions > 0 {
		logger.InfoContext(ctx, "Purged finished executions", "count", executions, "retention", retention)
	}
}
