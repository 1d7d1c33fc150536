package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/siteflow/pkg/models"
	"github.com/dukex/siteflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	// ErrWorkflowNotFound is returned when a workflow is not found.
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound
)

// ConfigValidator checks a raw step configuration against its action schema.
type ConfigValidator interface {
	ValidateConfig(actionType models.ActionType, config map[string]any) error
}

type Workflow struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	actions     ConfigValidator
	validate    *validator.Validate
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(logger *slog.Logger, persistence persistence.Persistence, actions ConfigValidator) *Workflow {
	return &Workflow{
		logger:      logger.With("module", "workflow_service"),
		persistence: persistence,
		actions:     actions,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// List returns the workflows owned by a site.
func (w *Workflow) List(ctx context.Context, siteID string) ([]*models.Workflow, error) {
	if siteID == "" {
		return nil, NewValidationError("List", "SITE_REQUIRED", "site_id is required", ErrInvalidRequest)
	}

	workflows, err := w.persistence.WorkflowRepository().ListBySite(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return workflows, nil
}

// FetchByID retrieves a workflow by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	return w.persistence.WorkflowRepository().LoadWorkflow(ctx, id)
}

// Create validates and stores a new workflow. Steps keep the order they are given in.
func (w *Workflow) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil {
		return nil, NewValidationError("Create", "WORKFLOW_REQUIRED", "workflow cannot be nil", ErrInvalidRequest)
	}

	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	if err := w.prepare(workflow); err != nil {
		return nil, err
	}

	err := w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow created", "workflow_id", workflow.ID, "site_id", workflow.SiteID, "steps", len(workflow.Steps))

	return workflow, nil
}

// Update replaces an existing workflow by its ID. The owning site cannot change.
func (w *Workflow) Update(
	ctx context.Context,
	workflowID string,
	workflow *models.Workflow,
) (*models.Workflow, error) {
	if workflow == nil {
		return nil, NewValidationError("Update", "WORKFLOW_REQUIRED", "workflow cannot be nil", ErrInvalidRequest)
	}

	existing, err := w.persistence.WorkflowRepository().LoadWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.SiteID != "" && workflow.SiteID != existing.SiteID {
		return nil, NewValidationError("Update", "SITE_MISMATCH", "site_id cannot change", ErrSiteMismatch)
	}

	workflow.ID = workflowID
	workflow.SiteID = existing.SiteID
	workflow.CreatedAt = existing.CreatedAt

	if err := w.prepare(workflow); err != nil {
		return nil, err
	}

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow updated", "workflow_id", workflow.ID, "active", workflow.Active)

	return workflow, nil
}

// Delete removes a workflow together with its steps and executions.
func (w *Workflow) Delete(ctx context.Context, workflowID string) error {
	_, err := w.persistence.WorkflowRepository().LoadWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}

	err = w.persistence.WorkflowRepository().Delete(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow deleted", "workflow_id", workflowID)

	return nil
}

// Seed stores workflow definitions as given, keeping their IDs.
func (w *Workflow) Seed(ctx context.Context, workflows []*models.Workflow) error {
	for _, workflow := range workflows {
		if err := w.prepare(workflow); err != nil {
			return fmt.Errorf("workflow %s: %w", workflow.ID, err)
		}

		if err := w.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
			return fmt.Errorf("failed to seed workflow %s: %w", workflow.ID, err)
		}
	}

	w.logger.InfoContext(ctx, "Workflows seeded", "count", len(workflows))

	return nil
}

func (w *Workflow) prepare(workflow *models.Workflow) error {
	for _, step := range workflow.Steps {
		if step != nil && step.ID == "" {
			step.ID = uuid.New().String()
		}
	}

	return w.Validate(workflow)
}

// Validate checks a workflow definition before it is stored. Step configs are
// checked against their action schema with placeholders standing in for
// runtime values.
func (w *Workflow) Validate(workflow *models.Workflow) error {
	for i, step := range workflow.Steps {
		if step == nil {
			return NewValidationError("Validate", "INVALID_STEP", fmt.Sprintf("step %d is empty", i), ErrInvalidStep)
		}
	}

	workflow.NormalizeStepOrder()

	if err := w.validate.Struct(workflow); err != nil {
		return NewValidationError("Validate", "INVALID_WORKFLOW", err.Error(), ErrInvalidWorkflow)
	}

	if !workflow.TriggerType.IsValid() {
		return NewValidationError("Validate", "INVALID_TRIGGER_TYPE",
			fmt.Sprintf("unknown trigger type %q", workflow.TriggerType), ErrInvalidWorkflow)
	}

	if err := workflow.TriggerFilter.Validate(); err != nil {
		return NewValidationError("Validate", "INVALID_TRIGGER_FILTER", err.Error(), ErrInvalidWorkflow)
	}

	if workflow.TriggerType == models.TriggerSchedule {
		if err := models.ValidateSchedule(workflow.Schedule); err != nil {
			return NewValidationError("Validate", "INVALID_SCHEDULE", err.Error(), ErrInvalidWorkflow)
		}
	} else if workflow.Schedule != "" {
		return NewValidationError("Validate", "INVALID_SCHEDULE",
			"schedule is only allowed on schedule triggers", ErrInvalidWorkflow)
	}

	for _, step := range workflow.Steps {
		if !step.ActionType.IsValid() {
			return NewValidationError("Validate", "INVALID_ACTION_TYPE",
				fmt.Sprintf("step %q: unknown action type %q", step.Name, step.ActionType), ErrInvalidStep)
		}

		if w.actions == nil {
			continue
		}

		if err := w.actions.ValidateConfig(step.ActionType, step.ActionConfig()); err != nil {
			return NewValidationError("Validate", "INVALID_STEP_CONFIG",
				fmt.Sprintf("step %q: %v", step.Name, err), ErrInvalidStep)
		}
	}

	if err := workflow.ValidateSteps(); err != nil {
		return NewValidationError("Validate", "INVALID_STEPS", err.Error(), ErrInvalidStep)
	}

	return nil
}
