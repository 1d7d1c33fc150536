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
)

// WorkflowRepository handles workflow-related file operations.
// Steps are stored inside the workflow document.
type WorkflowRepository struct {
	root       string
	mu         sync.RWMutex
	executions *ExecutionRepository
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(root string, executions *ExecutionRepository) *WorkflowRepository {
	return &WorkflowRepository{root: root, executions: executions}
}

func (wr *WorkflowRepository) dir() string {
	return filepath.Join(wr.root, "workflows")
}

func (wr *WorkflowRepository) all() ([]*models.Workflow, error) {
	ids, err := listJSON(wr.dir())
	if err != nil {
		return nil, err
	}

	workflows := make([]*models.Workflow, 0, len(ids))

	for _, id := range ids {
		workflow, err := wr.read(id)
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
	})

	return workflows, nil
}

func (wr *WorkflowRepository) read(workflowID string) (*models.Workflow, error) {
	var workflow models.Workflow

	err := readJSON(filepath.Join(wr.dir(), workflowID+".json"), &workflow)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewWorkflowError("LoadWorkflow", workflowID, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to fetch workflow %s: %w", workflowID, err)
	}

	models.SortSteps(workflow.Steps)

	return &workflow, nil
}

// LoadActiveWorkflows returns the active workflows of the site for the trigger type.
func (wr *WorkflowRepository) LoadActiveWorkflows(_ context.Context, siteID string, triggerType models.TriggerType) ([]*models.Workflow, error) {
	wr.mu.RLock()
	defer wr.mu.RUnlock()

	workflows, err := wr.all()
	if err != nil {
		return nil, err
	}

	matches := make([]*models.Workflow, 0)

	for _, workflow := range workflows {
		if workflow.SiteID == siteID && workflow.Active && workflow.TriggerType == triggerType {
			matches = append(matches, workflow)
		}
	}

	return matches, nil
}

// ListActiveByTriggerType returns active workflows of every site for the trigger type.
func (wr *WorkflowRepository) ListActiveByTriggerType(_ context.Context, triggerType models.TriggerType) ([]*models.Workflow, error) {
	wr.mu.RLock()
	defer wr.mu.RUnlock()

	workflows, err := wr.all()
	if err != nil {
		return nil, err
	}

	matches := make([]*models.Workflow, 0)

	for _, workflow := range workflows {
		if workflow.Active && workflow.TriggerType == triggerType {
			matches = append(matches, workflow)
		}
	}

	return matches, nil
}

// ListBySite returns every workflow of the site, oldest first.
func (wr *WorkflowRepository) ListBySite(_ context.Context, siteID string) ([]*models.Workflow, error) {
	wr.mu.RLock()
	defer wr.mu.RUnlock()

	workflows, err := wr.all()
	if err != nil {
		return nil, err
	}

	matches := make([]*models.Workflow, 0)

	for _, workflow := range workflows {
		if siteID == "" || workflow.SiteID == siteID {
			matches = append(matches, workflow)
		}
	}

	return matches, nil
}

// LoadWorkflow retrieves a workflow by its ID from the file system.
func (wr *WorkflowRepository) LoadWorkflow(_ context.Context, workflowID string) (*models.Workflow, error) {
	if err := validateID(workflowID); err != nil {
		return nil, persistence.NewWorkflowError("LoadWorkflow", workflowID, err)
	}

	wr.mu.RLock()
	defer wr.mu.RUnlock()

	return wr.read(workflowID)
}

// LoadSteps returns the ordered steps of a workflow.
func (wr *WorkflowRepository) LoadSteps(ctx context.Context, workflowID string) ([]*models.Step, error) {
	workflow, err := wr.LoadWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	return workflow.Steps, nil
}

// Save saves a workflow to the file system.
func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	if err := validateID(workflow.ID); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	wr.mu.Lock()
	defer wr.mu.Unlock()

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	models.SortSteps(workflow.Steps)

	for _, step := range workflow.Steps {
		step.WorkflowID = workflow.ID
	}

	err := writeJSON(filepath.Join(wr.dir(), workflow.ID+".json"), workflow)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

// Delete removes a workflow and its execution history.
func (wr *WorkflowRepository) Delete(ctx context.Context, workflowID string) error {
	if err := validateID(workflowID); err != nil {
		return persistence.NewWorkflowError("Delete", workflowID, err)
	}

	wr.mu.Lock()
	defer wr.mu.Unlock()

	err := os.Remove(filepath.Join(wr.dir(), workflowID+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return persistence.NewWorkflowError("Delete", workflowID, persistence.ErrWorkflowNotFound)
		}

		return fmt.Errorf("failed to delete workflow %s: %w", workflowID, err)
	}

	return wr.executions.deleteByWorkflow(ctx, workflowID)
}
