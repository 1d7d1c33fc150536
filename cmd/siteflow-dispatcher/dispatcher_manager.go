package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dukex/siteflow/pkg/cmd"
	"github.com/dukex/siteflow/pkg/eventbus"
	"github.com/dukex/siteflow/pkg/events"
	"github.com/dukex/siteflow/pkg/persistence"
	"github.com/dukex/siteflow/pkg/scheduler"
	"github.com/dukex/siteflow/pkg/workflow"
)

type ManagerOptions struct {
	ScheduleReload      time.Duration
	MaintenanceInterval time.Duration
	Retention           time.Duration
	ShutdownGrace       time.Duration
}

// DispatcherManager turns trigger events from the bus and schedule ticks into
// executions.
type DispatcherManager struct {
	id          string
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	engine      *workflow.Engine
	dispatcher  *workflow.Dispatcher
	scheduler   *scheduler.Scheduler
	opts        ManagerOptions
}

func NewDispatcherManager(
	id string,
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	runtime *cmd.Runtime,
	opts ManagerOptions,
) *DispatcherManager {
	logger = logger.With("module", "siteflow-dispatcher", "dispatcher_id", id)

	return &DispatcherManager{
		id:          id,
		logger:      logger,
		persistence: persistence,
		eventBus:    eventBus,
		engine:      runtime.Engine,
		dispatcher:  runtime.Dispatcher,
		scheduler:   scheduler.New(logger, persistence.WorkflowRepository(), runtime.Dispatcher),
		opts:        opts,
	}
}

// Start blocks until ctx is done or a termination signal arrives, then waits
// up to the shutdown grace for running executions.
func (dm *DispatcherManager) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	dm.logger.InfoContext(ctx, "Starting dispatcher manager")

	if err := dm.eventBus.Handle(events.TriggerReceivedEvent, dm.handleTrigger); err != nil {
		return fmt.Errorf("failed to register trigger handler: %w", err)
	}

	if err := dm.eventBus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to triggers: %w", err)
	}

	dm.signals(ctx, cancel)

	var wg sync.WaitGroup

	wg.Add(2)

	go func() {
		defer wg.Done()

		if err := dm.scheduler.Run(ctx, dm.opts.ScheduleReload); err != nil {
			dm.logger.ErrorContext(ctx, "Scheduler stopped", "error", err)
			cancel()
		}
	}()

	go func() {
		defer wg.Done()

		cmd.Maintain(ctx, dm.logger, dm.persistence, dm.opts.Retention, dm.opts.MaintenanceInterval)
	}()

	<-ctx.Done()
	wg.Wait()

	dm.logger.InfoContext(ctx, "Shutting down gracefully...")

	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), dm.opts.ShutdownGrace)
	defer stop()

	if err := dm.engine.Shutdown(shutdownCtx); err != nil {
		dm.logger.WarnContext(shutdownCtx, "Executions still running at shutdown", "error", err)
	}

	dm.logger.InfoContext(shutdownCtx, "Dispatcher manager stopped")

	return nil
}

func (dm *DispatcherManager) signals(ctx context.Context, cancel context.CancelFunc) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)

		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-signals:
				dm.logger.InfoContext(ctx, "Received signal", "signal", sig)

				switch sig {
				case syscall.SIGHUP:
					dm.logger.InfoContext(ctx, "Reloading schedules...")

					if err := dm.scheduler.Reload(ctx); err != nil {
						dm.logger.ErrorContext(ctx, "Failed to reload schedules", "error", err)
					}
				case syscall.SIGINT, syscall.SIGTERM:
					cancel()

					return
				default:
					dm.logger.WarnContext(ctx, "Unhandled signal received", "signal", sig)
				}
			}
		}
	}()
}

// handleTrigger dispatches one platform event. Malformed events and unknown
// trigger types are dropped; storage failures are returned so the bus
// redelivers the message.
func (dm *DispatcherManager) handleTrigger(ctx context.Context, event any) error {
	trigger, ok := event.(*events.TriggerReceived)
	if !ok {
		dm.logger.ErrorContext(ctx, "Unexpected event for trigger handler", "event", fmt.Sprintf("%T", event))

		return nil
	}

	if err := trigger.Validate(); err != nil {
		dm.logger.WarnContext(ctx, "Dropping invalid trigger", "event_id", trigger.ID, "error", err)

		return nil
	}

	handles, err := dm.dispatcher.Dispatch(ctx, trigger.SiteID, trigger.TriggerType, trigger.Payload)
	if err != nil {
		if errors.Is(err, workflow.ErrSiteRequired) || errors.Is(err, workflow.ErrInvalidTriggerType) {
			dm.logger.WarnContext(ctx, "Dropping invalid trigger", "event_id", trigger.ID, "error", err)

			return nil
		}

		return fmt.Errorf("failed to dispatch trigger %s: %w", trigger.ID, err)
	}

	dm.logger.DebugContext(ctx, "Trigger handled", "event_id", trigger.ID, "executions", len(handles))

	return nil
}
