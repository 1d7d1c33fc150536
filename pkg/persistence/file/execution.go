package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dukex/siteflow/pkg/models"
	"github.com/dukex/siteflow/pkg/persistence"
	"github.com/google/uuid"
)

// ExecutionRepository handles execution-related file operations.
type ExecutionRepository struct {
	root string
	mu   sync.Mutex
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{root: root}
}

func (er *ExecutionRepository) dir() string {
	return filepath.Join(er.root, "executions")
}

func (er *ExecutionRepository) path(executionID string) string {
	return filepath.Join(er.dir(), executionID+".json")
}

func (er *ExecutionRepository) read(op, executionID string) (*models.Execution, error) {
	if err := validateID(executionID); err != nil {
		return nil, persistence.NewExecutionError(op, executionID, err)
	}

	var execution models.Execution

	err := readJSON(er.path(executionID), &execution)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewExecutionError(op, executionID, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to read execution %s: %w", executionID, err)
	}

	return &execution, nil
}

// update applies mutate to the stored execution under the repository lock.
func (er *ExecutionRepository) update(op, executionID string, mutate func(*models.Execution) error) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	execution, err := er.read(op, executionID)
	if err != nil {
		return err
	}

	err = mutate(execution)
	if err != nil {
		return persistence.NewExecutionError(op, executionID, err)
	}

	return writeJSON(er.path(executionID), execution)
}

// CreateExecution stores a pending execution and returns its id.
func (er *ExecutionRepository) CreateExecution(_ context.Context, workflowID string, triggerType models.TriggerType, payload map[string]any) (string, error) {
	if payload == nil {
		payload = map[string]any{}
	}

	execution := &models.Execution{
		ID:             uuid.New().String(),
		WorkflowID:     workflowID,
		TriggerType:    triggerType,
		TriggerPayload: payload,
		Status:         models.ExecutionStatusPending,
		StepResults:    []models.StepResult{},
		CreatedAt:      time.Now().UTC(),
	}

	er.mu.Lock()
	defer er.mu.Unlock()

	err := writeJSON(er.path(execution.ID), execution)
	if err != nil {
		return "", persistence.NewExecutionError("CreateExecution", execution.ID, err)
	}

	return execution.ID, nil
}

// MarkRunning moves a pending execution to running.
func (er *ExecutionRepository) MarkRunning(_ context.Context, executionID string, startedAt time.Time) error {
	return er.update("MarkRunning", executionID, func(execution *models.Execution) error {
		if !execution.Status.CanTransitionTo(models.ExecutionStatusRunning) {
			return transitionError(execution.Status, models.ExecutionStatusRunning)
		}

		started := startedAt.UTC()
		execution.Status = models.ExecutionStatusRunning
		execution.StartedAt = &started

		return nil
	})
}

// AppendStepResult appends a step result to a running execution.
func (er *ExecutionRepository) AppendStepResult(_ context.Context, executionID string, result models.StepResult) error {
	return er.update("AppendStepResult", executionID, func(execution *models.Execution) error {
		if execution.Status.IsFinal() {
			return persistence.ErrExecutionFinalized
		}

		execution.StepResults = append(execution.StepResults, result)

		return nil
	})
}

// FinalizeExecution records the final status of an execution.
func (er *ExecutionRepository) FinalizeExecution(_ context.Context, executionID string, status models.ExecutionStatus, failure *models.ExecutionError, completedAt time.Time) error {
	return er.update("FinalizeExecution", executionID, func(execution *models.Execution) error {
		if !status.IsFinal() || !execution.Status.CanTransitionTo(status) {
			return transitionError(execution.Status, status)
		}

		completed := completedAt.UTC()
		execution.Status = status
		execution.Failure = failure
		execution.CompletedAt = &completed

		return nil
	})
}

// GetExecution retrieves an execution by its ID.
func (er *ExecutionRepository) GetExecution(_ context.Context, executionID string) (*models.Execution, error) {
	er.mu.Lock()
	defer er.mu.Unlock()

	return er.read("GetExecution", executionID)
}

// ListRecent returns the newest executions of a workflow.
func (er *ExecutionRepository) ListRecent(_ context.Context, workflowID string, limit int) ([]*models.Execution, error) {
	er.mu.Lock()
	defer er.mu.Unlock()

	executions, err := er.filter(func(execution *models.Execution) bool {
		return execution.WorkflowID == workflowID
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(executions, func(i, j int) bool {
		if executions[i].CreatedAt.Equal(executions[j].CreatedAt) {
			return executions[i].ID > executions[j].ID
		}

		return executions[i].CreatedAt.After(executions[j].CreatedAt)
	})

	if limit > 0 && len(executions) > limit {
		executions = executions[:limit]
	}

	return executions, nil
}

// PurgeCompletedBefore removes finalized executions created before cutoff.
func (er *ExecutionRepository) PurgeCompletedBefore(_ context.Context, cutoff time.Time) (int, error) {
	er.mu.Lock()
	defer er.mu.Unlock()

	executions, err := er.filter(func(execution *models.Execution) bool {
		return execution.Status.IsFinal() && execution.CreatedAt.Before(cutoff)
	})
	if err != nil {
		return 0, err
	}

	return er.remove(executions)
}

func (er *ExecutionRepository) deleteByWorkflow(_ context.Context, workflowID string) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	executions, err := er.filter(func(execution *models.Execution) bool {
		return execution.WorkflowID == workflowID
	})
	if err != nil {
		return err
	}

	_, err = er.remove(executions)

	return err
}

func (er *ExecutionRepository) filter(keep func(*models.Execution) bool) ([]*models.Execution, error) {
	ids, err := listJSON(er.dir())
	if err != nil {
		return nil, err
	}

	executions := make([]*models.Execution, 0)

	for _, id := range ids {
		execution, err := er.read("List", id)
		if err != nil {
			// Skip invalid files
			continue
		}

		if keep(execution) {
			executions = append(executions, execution)
		}
	}

	return executions, nil
}

func (er *ExecutionRepository) remove(executions []*models.Execution) (int, error) {
	removed := 0

	for _, execution := range executions {
		err := os.Remove(er.path(execution.ID))
		if err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to delete execution %s: %w", execution.ID, err)
		}

		removed++
	}

	return removed, nil
}

func transitionError(from, to models.ExecutionStatus) error {
	if from.IsFinal() {
		return persistence.ErrExecutionFinalized
	}

	return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, from, to)
}
