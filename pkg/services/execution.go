package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/siteflow/pkg/models"
	"github.com/dukex/siteflow/pkg/persistence"
	"github.com/dukex/siteflow/pkg/workflow"
)

const (
	DefaultRecentExecutions = 10
	MaxRecentExecutions     = 100
)

// Execution exposes runs and their audit records to operators.
type Execution struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	dispatcher  *workflow.Dispatcher
	engine      *workflow.Engine
}

// NewExecution creates a new execution service.
func NewExecution(
	logger *slog.Logger,
	persistence persistence.Persistence,
	dispatcher *workflow.Dispatcher,
	engine *workflow.Engine,
) *Execution {
	return &Execution{
		logger:      logger.With("module", "execution_service"),
		persistence: persistence,
		dispatcher:  dispatcher,
		engine:      engine,
	}
}

// RunNow runs a workflow immediately with the given trigger data.
func (s *Execution) RunNow(ctx context.Context, workflowID string, triggerData map[string]any) (*workflow.ManualResult, error) {
	result, err := s.dispatcher.RunManually(ctx, workflowID, triggerData)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Manual run finished waiting",
		"workflow_id", workflowID,
		"execution_id", result.ExecutionID,
		"status", result.Status,
		"timed_out", result.TimedOut,
	)

	return result, nil
}

// Recent returns summaries of the latest executions of a workflow, newest first.
func (s *Execution) Recent(ctx context.Context, workflowID string, limit int) ([]models.ExecutionSummary, error) {
	if limit < 0 {
		return nil, NewValidationError("Recent", "INVALID_LIMIT", "limit cannot be negative", ErrInvalidRequest)
	}

	if limit == 0 {
		limit = DefaultRecentExecutions
	}

	limit = min(limit, MaxRecentExecutions)

	if _, err := s.persistence.WorkflowRepository().LoadWorkflow(ctx, workflowID); err != nil {
		return nil, err
	}

	executions, err := s.persistence.ExecutionRepository().ListRecent(ctx, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	summaries := make([]models.ExecutionSummary, 0, len(executions))
	for _, execution := range executions {
		summaries = append(summaries, execution.Summary())
	}

	return summaries, nil
}

// Get returns the full audit record of an execution.
func (s *Execution) Get(ctx context.Context, executionID string) (*models.Execution, error) {
	return s.persistence.ExecutionRepository().GetExecution(ctx, executionID)
}

// Cancel stops a run in progress. Runs that already finished, or that are
// owned by another process, cannot be cancelled.
func (s *Execution) Cancel(ctx context.Context, executionID string) error {
	err := s.engine.Cancel(executionID)
	if err == nil {
		return nil
	}

	if !errors.Is(err, workflow.ErrExecutionNotActive) {
		return err
	}

	execution, getErr := s.persistence.ExecutionRepository().GetExecution(ctx, executionID)
	if getErr != nil {
		return getErr
	}

	return &ServiceError{
		Op:      "Cancel",
		Code:    "EXECUTION_NOT_ACTIVE",
		Message: fmt.Sprintf("execution %s is %s and not running here", executionID, execution.Status),
		Err:     ErrExecutionNotActive,
	}
}

// Dispatch delivers a platform event to the workflows of a site and returns
// the ids of the executions it started.
func (s *Execution) Dispatch(ctx context.Context, siteID string, triggerType models.TriggerType, payload map[string]any) ([]string, error) {
	handles, err := s.dispatcher.Dispatch(ctx, siteID, triggerType, payload)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(handles))
	for _, h := range handles {
		ids = append(ids, h.ExecutionID)
	}

	return ids, nil
}

// Shutdown waits for runs started by this service.
func (s *Execution) Shutdown(ctx context.Context) error {
	return s.engine.Shutdown(ctx)
}
