package mocks

import (
	"context"
	"time"

	"github.com/dukex/siteflow/pkg/models"
	"github.com/dukex/siteflow/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock
}

func (m *MockPersistence) WorkflowRepository() persistence.WorkflowRepository {
	args := m.Called()

	return args.Get(0).(persistence.WorkflowRepository)
}

func (m *MockPersistence) ExecutionRepository() persistence.ExecutionRepository {
	args := m.Called()

	return args.Get(0).(persistence.ExecutionRepository)
}

func (m *MockPersistence) TriggerClaimRepository() persistence.TriggerClaimRepository {
	args := m.Called()

	return args.Get(0).(persistence.TriggerClaimRepository)
}

func (m *MockPersistence) RecordRepository() persistence.RecordRepository {
	args := m.Called()

	return args.Get(0).(persistence.RecordRepository)
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// MockWorkflowRepository is a mock implementation of persistence.WorkflowRepository interface.
type MockWorkflowRepository struct {
	mock.Mock
}

func (m *MockWorkflowRepository) LoadActiveWorkflows(ctx context.Context, siteID string, triggerType models.TriggerType) ([]*models.Workflow, error) {
	args := m.Called(ctx, siteID, triggerType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) LoadSteps(ctx context.Context, workflowID string) ([]*models.Step, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Step), args.Error(1)
}

func (m *MockWorkflowRepository) LoadWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) ListBySite(ctx context.Context, siteID string) ([]*models.Workflow, error) {
	args := m.Called(ctx, siteID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) ListActiveByTriggerType(ctx context.Context, triggerType models.TriggerType) ([]*models.Workflow, error) {
	args := m.Called(ctx, triggerType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

func (m *MockWorkflowRepository) Delete(ctx context.Context, workflowID string) error {
	args := m.Called(ctx, workflowID)

	return args.Error(0)
}

// MockExecutionRepository is a mock implementation of persistence.ExecutionRepository interface.
type MockExecutionRepository struct {
	mock.Mock
}

func (m *MockExecutionRepository) CreateExecution(ctx context.Context, workflowID string, triggerType models.TriggerType, payload map[string]any) (string, error) {
	args := m.Called(ctx, workflowID, triggerType, payload)

	return args.String(0), args.Error(1)
}

func (m *MockExecutionRepository) MarkRunning(ctx context.Context, executionID string, startedAt time.Time) error {
	args := m.Called(ctx, executionID, startedAt)

	return args.Error(0)
}

func (m *MockExecutionRepository) AppendStepResult(ctx context.Context, executionID string, result models.StepResult) error {
	args := m.Called(ctx, executionID, result)

	return args.Error(0)
}

func (m *MockExecutionRepository) FinalizeExecution(ctx context.Context, executionID string, status models.ExecutionStatus, failure *models.ExecutionError, completedAt time.Time) error {
	args := m.Called(ctx, executionID, status, failure, completedAt)

	return args.Error(0)
}

func (m *MockExecutionRepository) GetExecution(ctx context.Context, executionID string) (*models.Execution, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Execution), args.Error(1)
}

func (m *MockExecutionRepository) ListRecent(ctx context.Context, workflowID string, limit int) ([]*models.Execution, error) {
	args := m.Called(ctx, workflowID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Execution), args.Error(1)
}

func (m *MockExecutionRepository) PurgeCompletedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	args := m.Called(ctx, cutoff)

	return args.Int(0), args.Error(1)
}

// MockTriggerClaimRepository is a mock implementation of persistence.TriggerClaimRepository interface.
type MockTriggerClaimRepository struct {
	mock.Mock
}

func (m *MockTriggerClaimRepository) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)

	return args.Bool(0), args.Error(1)
}

func (m *MockTriggerClaimRepository) Release(ctx context.Context, key string) error {
	args := m.Called(ctx, key)

	return args.Error(0)
}

func (m *MockTriggerClaimRepository) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)

	return args.Int(0), args.Error(1)
}
