// Package scheduler fires schedule triggers for active workflows using their cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/siteflow/pkg/models"
	"github.com/dukex/siteflow/pkg/persistence"
	"github.com/dukex/siteflow/pkg/workflow"
	"github.com/robfig/cron/v3"
)

// ScheduledAtKey is the payload field holding the tick a schedule trigger was fired for.
const ScheduledAtKey = "scheduled_at"

// Dispatcher receives the schedule triggers.
type Dispatcher interface {
	Dispatch(ctx context.Context, siteID string, triggerType models.TriggerType, payload map[string]any) ([]*workflow.Handle, error)
}

type entry struct {
	id     cron.EntryID
	spec   string
	siteID string
}

// Scheduler keeps one cron entry per active schedule workflow. Ticks are
// truncated to the minute so replicas firing the same tick share a trigger key.
type Scheduler struct {
	logger     *slog.Logger
	workflows  persistence.WorkflowRepository
	dispatcher Dispatcher
	cron       *cron.Cron
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

func New(logger *slog.Logger, workflows persistence.WorkflowRepository, dispatcher Dispatcher) *Scheduler {
	logger = logger.With("module", "scheduler")
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelWarn))

	return &Scheduler{
		logger:     logger,
		workflows:  workflows,
		dispatcher: dispatcher,
		cron: cron.New(
			cron.WithParser(models.ScheduleParser),
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cronLogger)),
		),
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// Reload syncs the cron entries with the active schedule workflows.
func (s *Scheduler) Reload(ctx context.Context) error {
	workflows, err := s.workflows.ListActiveByTriggerType(ctx, models.TriggerSchedule)
	if err != nil {
		return fmt.Errorf("failed to load schedule workflows: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]*models.Workflow, len(workflows))
	for _, wf := range workflows {
		wanted[wf.ID] = wf
	}

	for workflowID, current := range s.entries {
		wf, ok := wanted[workflowID]
		if ok && wf.Schedule == current.spec && wf.SiteID == current.siteID {
			continue
		}

		s.cron.Remove(current.id)
		delete(s.entries, workflowID)

		s.logger.InfoContext(ctx, "Schedule removed", "workflow_id", workflowID, "schedule", current.spec)
	}

	for workflowID, wf := range wanted {
		if _, ok := s.entries[workflowID]; ok {
			continue
		}

		siteID := wf.SiteID

		id, err := s.cron.AddFunc(wf.Schedule, func() {
			s.fire(context.Background(), siteID, workflowID)
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "Invalid schedule, workflow skipped", "workflow_id", workflowID, "schedule", wf.Schedule, "error", err)

			continue
		}

		s.entries[workflowID] = entry{id: id, spec: wf.Schedule, siteID: siteID}

		s.logger.InfoContext(ctx, "Schedule added", "workflow_id", workflowID, "schedule", wf.Schedule)
	}

	return nil
}

// Scheduled returns the cron expression of every scheduled workflow by id.
func (s *Scheduler) Scheduled() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	scheduled := make(map[string]string, len(s.entries))
	for workflowID, e := range s.entries {
		scheduled[workflowID] = e.spec
	}

	return scheduled
}

// Run loads the schedules, starts the cron and reloads every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context, reloadInterval time.Duration) error {
	if err := s.Reload(ctx); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Scheduler started", "workflows", len(s.Scheduled()))

	ticker := time.NewTicker(reloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			<-s.cron.Stop().Done()
			s.logger.Info("Scheduler stopped")

			return nil
		case <-ticker.C:
			if err := s.Reload(ctx); err != nil {
				s.logger.ErrorContext(ctx, "Failed to reload schedules", "error", err)
			}
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, siteID, workflowID string) {
	scheduledAt := s.now().UTC().Truncate(time.Minute)

	payload := map[string]any{
		workflow.ScheduleWorkflowKey: workflowID,
		ScheduledAtKey:               scheduledAt.Format(time.RFC3339),
	}

	handles, err := s.dispatcher.Dispatch(ctx, siteID, models.TriggerSchedule, payload)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to dispatch schedule trigger", "workflow_id", workflowID, "error", err)

		return
	}

	s.logger.InfoContext(ctx, "Schedule trigger fired",
		"workflow_id", workflowID,
		"scheduled_at", scheduledAt,
		"executions", len(handles),
	)
}
