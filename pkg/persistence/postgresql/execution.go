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
	"github.com/lib/pq"
)

var executionStatuses = []models.ExecutionStatus{
	models.ExecutionStatusPending,
	models.ExecutionStatusRunning,
	models.ExecutionStatusCompleted,
	models.ExecutionStatusFailed,
}

// ExecutionRepository handles execution-related database operations.
// Status updates are guarded in SQL so a status never moves backwards.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

func (r *ExecutionRepository) CreateExecution(ctx context.Context, workflowID string, triggerType models.TriggerType, payload map[string]any) (string, error) {
	if payload == nil {
		payload = map[string]any{}
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal trigger payload: %w", err)
	}

	executionID := uuid.NewString()

	query := `
		INSERT INTO executions (id, workflow_id, trigger_type, trigger_payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = r.db.ExecContext(ctx, query,
		executionID,
		workflowID,
		triggerType,
		payloadJSON,
		models.ExecutionStatusPending,
		time.Now().UTC(),
	)
	if err != nil {
		return "", persistence.NewExecutionError("CreateExecution", executionID, err)
	}

	return executionID, nil
}

func (r *ExecutionRepository) MarkRunning(ctx context.Context, executionID string, startedAt time.Time) error {
	query := `
		UPDATE executions
		SET status = $2, started_at = $3
		WHERE id = $1 AND status = ANY($4)
	`

	result, err := r.db.ExecContext(ctx, query,
		executionID,
		models.ExecutionStatusRunning,
		startedAt.UTC(),
		pq.Array(allowedFrom(models.ExecutionStatusRunning)),
	)
	if err != nil {
		return persistence.NewExecutionError("MarkRunning", executionID, err)
	}

	return r.checkTransition(ctx, "MarkRunning", executionID, models.ExecutionStatusRunning, result)
}

// AppendStepResult appends a step result. The execution row is locked so
// positions stay dense and finalized executions are left untouched.
func (r *ExecutionRepository) AppendStepResult(ctx context.Context, executionID string, result models.StepResult) error {
	outputJSON, err := json.Marshal(result.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal step output: %w", err)
	}

	errorJSON, err := marshalFailure(result.Error)
	if err != nil {
		return err
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

	var status models.ExecutionStatus

	err = tx.QueryRowContext(ctx, "SELECT status FROM executions WHERE id = $1 FOR UPDATE", executionID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NewExecutionError("AppendStepResult", executionID, persistence.ErrExecutionNotFound)
		}

		return persistence.NewExecutionError("AppendStepResult", executionID, err)
	}

	if status.IsFinal() {
		err = persistence.NewExecutionError("AppendStepResult", executionID, persistence.ErrExecutionFinalized)

		return err
	}

	query := `
		INSERT INTO execution_steps (execution_id, position, step_id, step_name, status, output, error, started_at, duration_ms)
		SELECT $1, COALESCE(MAX(position), -1) + 1, $2, $3, $4, $5, $6, $7, $8
		FROM execution_steps
		WHERE execution_id = $1
	`

	_, err = tx.ExecContext(ctx, query,
		executionID,
		result.StepID,
		result.StepName,
		result.Status,
		outputJSON,
		errorJSON,
		result.StartedAt.UTC(),
		result.DurationMs,
	)
	if err != nil {
		return persistence.NewExecutionError("AppendStepResult", executionID, err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *ExecutionRepository) FinalizeExecution(ctx context.Context, executionID string, status models.ExecutionStatus, failure *models.ExecutionError, completedAt time.Time) error {
	if !status.IsFinal() {
		return persistence.NewExecutionError("FinalizeExecution", executionID,
			fmt.Errorf("%w: %s is not a final status", models.ErrInvalidTransition, status))
	}

	failureJSON, err := marshalFailure(failure)
	if err != nil {
		return err
	}

	query := `
		UPDATE executions
		SET status = $2, failure = $3, completed_at = $4
		WHERE id = $1 AND status = ANY($5)
	`

	result, err := r.db.ExecContext(ctx, query,
		executionID,
		status,
		failureJSON,
		completedAt.UTC(),
		pq.Array(allowedFrom(status)),
	)
	if err != nil {
		return persistence.NewExecutionError("FinalizeExecution", executionID, err)
	}

	return r.checkTransition(ctx, "FinalizeExecution", executionID, status, result)
}

func (r *ExecutionRepository) GetExecution(ctx context.Context, executionID string) (*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, executionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetExecution", executionID, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	execution.StepResults, err = r.loadStepResults(ctx, executionID)
	if err != nil {
		return nil, err
	}

	return execution, nil
}

func (r *ExecutionRepository) ListRecent(ctx context.Context, workflowID string, limit int) ([]*models.Execution, error) {
	query := `SELECT ` + executionColumns + `
		FROM executions
		WHERE workflow_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT NULLIF($2, 0)
	`

	rows, err := r.db.QueryContext(ctx, query, workflowID, max(limit, 0))
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	for _, execution := range executions {
		execution.StepResults, err = r.loadStepResults(ctx, execution.ID)
		if err != nil {
			return nil, err
		}
	}

	return executions, nil
}

func (r *ExecutionRepository) PurgeCompletedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM executions WHERE status IN ($1, $2) AND created_at < $3",
		models.ExecutionStatusCompleted,
		models.ExecutionStatusFailed,
		cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge executions: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return int(affected), nil
}

func (r *ExecutionRepository) loadStepResults(ctx context.Context, executionID string) ([]models.StepResult, error) {
	query := `
		SELECT
			step_id
		  , step_name
		  , status
		  , output
		  , error
		  , started_at
		  , duration_ms
		FROM execution_steps
		WHERE execution_id = $1
		ORDER BY position
	`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query step results: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	results := make([]models.StepResult, 0)

	for rows.Next() {
		var (
			result     models.StepResult
			outputJSON []byte
			errorJSON  []byte
		)

		err := rows.Scan(&result.StepID, &result.StepName, &result.Status, &outputJSON, &errorJSON, &result.StartedAt, &result.DurationMs)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step result: %w", err)
		}

		if len(outputJSON) > 0 {
			err = json.Unmarshal(outputJSON, &result.Output)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal step output: %w", err)
			}
		}

		result.Error, err = unmarshalFailure(errorJSON)
		if err != nil {
			return nil, err
		}

		results = append(results, result)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating step results: %w", err)
	}

	return results, nil
}

// checkTransition explains why a guarded update touched no row.
func (r *ExecutionRepository) checkTransition(ctx context.Context, op, executionID string, to models.ExecutionStatus, result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected > 0 {
		return nil
	}

	var current models.ExecutionStatus

	err = r.db.QueryRowContext(ctx, "SELECT status FROM executions WHERE id = $1", executionID).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NewExecutionError(op, executionID, persistence.ErrExecutionNotFound)
		}

		return persistence.NewExecutionError(op, executionID, err)
	}

	if current.IsFinal() {
		return persistence.NewExecutionError(op, executionID, persistence.ErrExecutionFinalized)
	}

	return persistence.NewExecutionError(op, executionID,
		fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, current, to))
}

const executionColumns = `
	id
  , workflow_id
  , trigger_type
  , trigger_payload
  , status
  , failure
  , created_at
  , started_at
  , completed_at
`

func scanExecution(scanner rowScanner) (*models.Execution, error) {
	var (
		execution   models.Execution
		payloadJSON []byte
		failureJSON []byte
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)

	err := scanner.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.TriggerType,
		&payloadJSON,
		&execution.Status,
		&failureJSON,
		&execution.CreatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(payloadJSON, &execution.TriggerPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger payload: %w", err)
	}

	execution.Failure, err = unmarshalFailure(failureJSON)
	if err != nil {
		return nil, err
	}

	if startedAt.Valid {
		execution.StartedAt = &startedAt.Time
	}

	if completedAt.Valid {
		execution.CompletedAt = &completedAt.Time
	}

	return &execution, nil
}

// allowedFrom lists the statuses that may move to target.
func allowedFrom(target models.ExecutionStatus) []string {
	from := make([]string, 0, len(executionStatuses))

	for _, status := range executionStatuses {
		if status.CanTransitionTo(target) {
			from = append(from, string(status))
		}
	}

	return from
}

func marshalFailure(failure *models.ExecutionError) ([]byte, error) {
	if failure == nil {
		return nil, nil
	}

	encoded, err := json.Marshal(failure)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal failure: %w", err)
	}

	return encoded, nil
}

func unmarshalFailure(data []byte) (*models.ExecutionError, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var failure models.ExecutionError

	err := json.Unmarshal(data, &failure)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal failure: %w", err)
	}

	return &failure, nil
}
