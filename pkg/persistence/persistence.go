// Package persistence provides the storage abstraction used by the workflow engine.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/siteflow/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	TriggerClaimRepository() TriggerClaimRepository
	RecordRepository() RecordRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow definitions and their steps.
type WorkflowRepository interface {
	// LoadActiveWorkflows returns active workflows of the site listening to triggerType, with steps.
	LoadActiveWorkflows(ctx context.Context, siteID string, triggerType models.TriggerType) ([]*models.Workflow, error)
	// LoadSteps returns the steps of a workflow ordered by order index.
	LoadSteps(ctx context.Context, workflowID string) ([]*models.Step, error)
	// LoadWorkflow returns the workflow with its steps or ErrWorkflowNotFound.
	LoadWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error)
	ListBySite(ctx context.Context, siteID string) ([]*models.Workflow, error)
	// ListActiveByTriggerType returns active workflows of every site listening to triggerType.
	ListActiveByTriggerType(ctx context.Context, triggerType models.TriggerType) ([]*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	// Delete removes the workflow together with its steps and execution history.
	Delete(ctx context.Context, workflowID string) error
}

// ExecutionRepository stores execution records. Implementations reject writes that
// would move a status backwards or touch a finalized execution.
type ExecutionRepository interface {
	CreateExecution(ctx context.Context, workflowID string, triggerType models.TriggerType, payload map[string]any) (string, error)
	MarkRunning(ctx context.Context, executionID string, startedAt time.Time) error
	AppendStepResult(ctx context.Context, executionID string, result models.StepResult) error
	FinalizeExecution(ctx context.Context, executionID string, status models.ExecutionStatus, failure *models.ExecutionError, completedAt time.Time) error
	GetExecution(ctx context.Context, executionID string) (*models.Execution, error)
	// ListRecent returns at most limit executions of the workflow, newest first.
	ListRecent(ctx context.Context, workflowID string, limit int) ([]*models.Execution, error)
	// PurgeCompletedBefore deletes finalized executions created before cutoff.
	PurgeCompletedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// TriggerClaimRepository remembers trigger identities for a bounded time.
type TriggerClaimRepository interface {
	// Claim records key for ttl and reports whether this call created the claim.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release drops the claim on key so the same trigger can be claimed again.
	Release(ctx context.Context, key string) error
	// PurgeExpired removes claims that expired before now.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// RecordRepository stores site records written by workflow actions.
type RecordRepository interface {
	CreateRecord(ctx context.Context, siteID, collection string, fields map[string]any) (*models.Record, error)
	UpdateRecord(ctx context.Context, siteID, collection, recordID string, fields map[string]any) (*models.Record, error)
	GetRecord(ctx context.Context, siteID, collection, recordID string) (*models.Record, error)
}
