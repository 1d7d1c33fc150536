package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/siteflow/pkg/models"
	"github.com/dukex/siteflow/pkg/persistence"
	"github.com/google/uuid"
)

const workflowColumns = `
	id
  , site_id
  , name
  , description
  , trigger_type
  , trigger_filter
  , schedule
  , active
  , created_at
  , updated_at
`

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// LoadActiveWorkflows returns the active workflows of the site for the trigger type.
func (r *WorkflowRepository) LoadActiveWorkflows(ctx context.Context, siteID string, triggerType models.TriggerType) ([]*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + `
		FROM workflows
		WHERE site_id = $1 AND trigger_type = $2 AND active
		ORDER BY created_at, id
	`

	return r.query(ctx, query, siteID, triggerType)
}

// ListActiveByTriggerType returns active workflows of every site for the trigger type.
func (r *WorkflowRepository) ListActiveByTriggerType(ctx context.Context, triggerType models.TriggerType) ([]*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + `
		FROM workflows
		WHERE trigger_type = $1 AND active
		ORDER BY created_at, id
	`

	return r.query(ctx, query, triggerType)
}

// ListBySite returns every workflow of the site, oldest first. An empty site lists all.
func (r *WorkflowRepository) ListBySite(ctx context.Context, siteID string) ([]*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + `
		FROM workflows
		WHERE $1 = '' OR site_id = $1
		ORDER BY created_at, id
	`

	return r.query(ctx, query, siteID)
}

func (r *WorkflowRepository) LoadWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE id = $1`

	workflow, err := r.scanWorkflow(r.db.QueryRowContext(ctx, query, workflowID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("LoadWorkflow", workflowID, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	workflow.Steps, err = r.LoadSteps(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	return workflow, nil
}

// LoadSteps returns the ordered steps of a workflow.
func (r *WorkflowRepository) LoadSteps(ctx context.Context, workflowID string) ([]*models.Step, error) {
	query := `
		SELECT
			id
		  , workflow_id
		  , name
		  , action_type
		  , config
		  , order_index
		  , continue_on_error
		FROM workflow_steps
		WHERE workflow_id = $1
		ORDER BY order_index
	`

	rows, err := r.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow steps: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	steps := make([]*models.Step, 0)

	for rows.Next() {
		var (
			step       models.Step
			configJSON []byte
		)

		err := rows.Scan(&step.ID, &step.WorkflowID, &step.Name, &step.ActionType, &configJSON, &step.OrderIndex, &step.ContinueOnError)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}

		err = json.Unmarshal(configJSON, &step.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal step config: %w", err)
		}

		steps = append(steps, &step)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}

	return steps, nil
}

// Save upserts a workflow and replaces its steps in one transaction.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	var filterJSON []byte

	if workflow.TriggerFilter != nil {
		encoded, err := json.Marshal(workflow.TriggerFilter)
		if err != nil {
			return fmt.Errorf("failed to marshal trigger filter: %w", err)
		}

		filterJSON = encoded
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	workflowQuery := `
		INSERT INTO workflows (id, site_id, name, description, trigger_type, trigger_filter, schedule, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			site_id = EXCLUDED.site_id,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			trigger_type = EXCLUDED.trigger_type,
			trigger_filter = EXCLUDED.trigger_filter,
			schedule = EXCLUDED.schedule,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`

	_, err = tx.ExecContext(ctx, workflowQuery,
		workflow.ID,
		workflow.SiteID,
		workflow.Name,
		workflow.Description,
		workflow.TriggerType,
		filterJSON,
		workflow.Schedule,
		workflow.Active,
		workflow.CreatedAt,
		workflow.UpdatedAt,
	)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM workflow_steps WHERE workflow_id = $1", workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing steps: %w", err)
	}

	err = r.saveSteps(ctx, tx, workflow)
	if err != nil {
		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *WorkflowRepository) saveSteps(ctx context.Context, tx *sql.Tx, workflow *models.Workflow) error {
	models.SortSteps(workflow.Steps)

	query := `
		INSERT INTO workflow_steps (workflow_id, id, name, action_type, config, order_index, continue_on_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	for _, step := range workflow.Steps {
		step.WorkflowID = workflow.ID

		if step.ID == "" {
			step.ID = uuid.NewString()
		}

		config := step.Config
		if config == nil {
			config = map[string]any{}
		}

		configJSON, err := json.Marshal(config)
		if err != nil {
			return fmt.Errorf("failed to marshal config of step %s: %w", step.Name, err)
		}

		_, err = tx.ExecContext(ctx, query,
			workflow.ID,
			step.ID,
			step.Name,
			step.ActionType,
			configJSON,
			step.OrderIndex,
			step.ContinueOnError,
		)
		if err != nil {
			return fmt.Errorf("failed to save step %s: %w", step.Name, err)
		}
	}

	return nil
}

// Delete removes a workflow. Steps and executions go with it through ON DELETE CASCADE.
func (r *WorkflowRepository) Delete(ctx context.Context, workflowID string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = $1", workflowID)
	if err != nil {
		return persistence.NewWorkflowError("Delete", workflowID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("Delete", workflowID, persistence.ErrWorkflowNotFound)
	}

	return nil
}

func (r *WorkflowRepository) query(ctx context.Context, query string, args ...any) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	for _, workflow := range workflows {
		workflow.Steps, err = r.LoadSteps(ctx, workflow.ID)
		if err != nil {
			return nil, err
		}
	}

	return workflows, nil
}

func (r *WorkflowRepository) scanWorkflow(scanner rowScanner) (*models.Workflow, error) {
	var (
		workflow   models.Workflow
		filterJSON []byte
	)

	err := scanner.Scan(
		&workflow.ID,
		&workflow.SiteID,
		&workflow.Name,
		&workflow.Description,
		&workflow.TriggerType,
		&filterJSON,
		&workflow.Schedule,
		&workflow.Active,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(filterJSON) > 0 {
		workflow.TriggerFilter = &models.TriggerFilter{}

		err = json.Unmarshal(filterJSON, workflow.TriggerFilter)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger filter: %w", err)
		}
	}

	return &workflow, nil
}
