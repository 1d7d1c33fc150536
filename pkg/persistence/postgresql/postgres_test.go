//go:build integration

package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/siteflow/pkg/models"
	"github.com/dukex/siteflow/pkg/persistence"
	"github.com/dukex/siteflow/pkg/persistence/postgresql"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"execution_steps", "executions", "workflow_steps", "workflows", "trigger_claims", "records", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("siteflow_test"),
			postgres.WithUsername("siteflow"),
			postgres.WithPassword("siteflow"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func newWorkflow(siteID string, triggerType models.TriggerType, active bool) *models.Workflow {
	return &models.Workflow{
		SiteID:      siteID,
		Name:        "Welcome email",
		Description: "Sends a welcome email",
		TriggerType: triggerType,
		TriggerFilter: &models.TriggerFilter{
			Match: models.MatchAll,
			Conditions: []models.Condition{
				{Field: "form_id", Operator: models.OperatorEquals, Value: "contact"},
			},
		},
		Active: active,
		Steps: []*models.Step{
			{Name: "notify", ActionType: models.ActionSendEmail, OrderIndex: 0, Config: map[string]any{"to": "{{trigger.email}}", "subject": "Hi"}},
			{Name: "store", ActionType: models.ActionCreateRecord, OrderIndex: 1, Config: map[string]any{"collection": "leads"}, ContinueOnError: true},
		},
	}
}

func TestNewPersistence_Migrations(t *testing.T) {
	p, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	for _, table := range []string{"workflows", "workflow_steps", "executions", "execution_steps", "trigger_claims", "records"} {
		var exists bool

		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 3, version)

	assert.NoError(t, p.HealthCheck(ctx))
}

func TestWorkflowRepository_SaveAndLoad(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	workflow := newWorkflow("site-a", models.TriggerFormSubmit, true)
	require.NoError(t, repo.Save(ctx, workflow))
	assert.NotEmpty(t, workflow.ID)
	assert.False(t, workflow.CreatedAt.IsZero())

	loaded, err := repo.LoadWorkflow(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, "site-a", loaded.SiteID)
	require.NotNil(t, loaded.TriggerFilter)
	assert.Equal(t, "contact", loaded.TriggerFilter.Conditions[0].Value)
	require.Len(t, loaded.Steps, 2)
	assert.Equal(t, "notify", loaded.Steps[0].Name)
	assert.Equal(t, "{{trigger.email}}", loaded.Steps[0].Config["to"])
	assert.True(t, loaded.Steps[1].ContinueOnError)

	loaded.Steps = loaded.Steps[:1]
	loaded.Name = "Renamed"
	require.NoError(t, repo.Save(ctx, loaded))

	steps, err := repo.LoadSteps(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Len(t, steps, 1)

	_, err = repo.LoadWorkflow(ctx, uuid.NewString())
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestWorkflowRepository_ActiveFiltering(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	require.NoError(t, repo.Save(ctx, newWorkflow("site-a", models.TriggerFormSubmit, true)))
	require.NoError(t, repo.Save(ctx, newWorkflow("site-a", models.TriggerFormSubmit, false)))
	require.NoError(t, repo.Save(ctx, newWorkflow("site-a", models.TriggerOrderPlaced, true)))
	require.NoError(t, repo.Save(ctx, newWorkflow("site-b", models.TriggerFormSubmit, true)))

	active, err := repo.LoadActiveWorkflows(ctx, "site-a", models.TriggerFormSubmit)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Len(t, active[0].Steps, 2)

	everywhere, err := repo.ListActiveByTriggerType(ctx, models.TriggerFormSubmit)
	require.NoError(t, err)
	assert.Len(t, everywhere, 2)

	bySite, err := repo.ListBySite(ctx, "site-a")
	require.NoError(t, err)
	assert.Len(t, bySite, 3)

	all, err := repo.ListBySite(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestExecutionRepository_Lifecycle(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	workflow := newWorkflow("site-a", models.TriggerManual, true)
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	repo := p.ExecutionRepository()

	executionID, err := repo.CreateExecution(ctx, workflow.ID, models.TriggerManual, map[string]any{"email": "x@y.com"})
	require.NoError(t, err)

	err = repo.FinalizeExecution(ctx, executionID, models.ExecutionStatusCompleted, nil, time.Now())
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	require.NoError(t, repo.MarkRunning(ctx, executionID, time.Now()))

	err = repo.MarkRunning(ctx, executionID, time.Now())
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	require.NoError(t, repo.AppendStepResult(ctx, executionID, models.StepResult{
		StepName: "notify", Status: models.StepStatusSuccess, Output: map[string]any{"message_id": "m1"}, StartedAt: time.Now(),
	}))
	require.NoError(t, repo.AppendStepResult(ctx, executionID, models.StepResult{
		StepName: "store", Status: models.StepStatusFailed, StartedAt: time.Now(),
		Error: &models.ExecutionError{Kind: models.ErrorKindHandler, Message: "boom"},
	}))

	failure := &models.ExecutionError{Kind: models.ErrorKindHandler, Message: "boom", StepName: "store"}
	require.NoError(t, repo.FinalizeExecution(ctx, executionID, models.ExecutionStatusFailed, failure, time.Now()))

	execution, err := repo.GetExecution(ctx, executionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, "x@y.com", execution.TriggerPayload["email"])
	require.Len(t, execution.StepResults, 2)
	assert.Equal(t, "m1", execution.StepResults[0].Output["message_id"])
	assert.Equal(t, models.ErrorKindHandler, execution.StepResults[1].Error.Kind)
	require.NotNil(t, execution.Failure)
	assert.Equal(t, "store", execution.Failure.StepName)

	err = repo.AppendStepResult(ctx, executionID, models.StepResult{StepName: "late", StartedAt: time.Now()})
	require.ErrorIs(t, err, persistence.ErrExecutionFinalized)

	err = repo.FinalizeExecution(ctx, executionID, models.ExecutionStatusCompleted, nil, time.Now())
	require.ErrorIs(t, err, persistence.ErrExecutionFinalized)

	_, err = repo.GetExecution(ctx, uuid.NewString())
	require.ErrorIs(t, err, persistence.ErrExecutionNotFound)
}

func TestExecutionRepository_ListRecentPurgeAndCascade(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	workflow := newWorkflow("site-a", models.TriggerManual, true)
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	repo := p.ExecutionRepository()
	ids := make([]string, 0, 3)

	for range 3 {
		id, err := repo.CreateExecution(ctx, workflow.ID, models.TriggerManual, nil)
		require.NoError(t, err)

		ids = append(ids, id)

		time.Sleep(5 * time.Millisecond)
	}

	recent, err := repo.ListRecent(ctx, workflow.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, ids[2], recent[0].ID)
	assert.Equal(t, ids[1], recent[1].ID)

	require.NoError(t, repo.FinalizeExecution(ctx, ids[0], models.ExecutionStatusFailed, nil, time.Now()))

	purged, err := repo.PurgeCompletedBefore(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	require.NoError(t, p.WorkflowRepository().Delete(ctx, workflow.ID))

	_, err = repo.GetExecution(ctx, ids[1])
	require.ErrorIs(t, err, persistence.ErrExecutionNotFound)

	err = p.WorkflowRepository().Delete(ctx, workflow.ID)
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestTriggerClaimRepository_Claim(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.TriggerClaimRepository()

	claimed, err := repo.Claim(ctx, "site-a:form_submit:sub-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = repo.Claim(ctx, "site-a:form_submit:sub-1", time.Hour)
	require.NoError(t, err)
	assert.False(t, claimed)

	claimed, err = repo.Claim(ctx, "site-a:form_submit:short", time.Millisecond)
	require.NoError(t, err)
	assert.True(t, claimed)

	time.Sleep(10 * time.Millisecond)

	claimed, err = repo.Claim(ctx, "site-a:form_submit:short", time.Millisecond)
	require.NoError(t, err)
	assert.True(t, claimed, "expired claims are taken over")

	time.Sleep(10 * time.Millisecond)

	purged, err := repo.PurgeExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	require.NoError(t, repo.Release(ctx, "site-a:form_submit:sub-1"))
	require.NoError(t, repo.Release(ctx, "site-a:unknown"), "releasing an unknown key is a no-op")

	claimed, err = repo.Claim(ctx, "site-a:form_submit:sub-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed, "released claims can be taken again")
}

func TestRecordRepository(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.RecordRepository()

	record, err := repo.CreateRecord(ctx, "site-a", "leads", map[string]any{"email": "x@y.com"})
	require.NoError(t, err)

	updated, err := repo.UpdateRecord(ctx, "site-a", "leads", record.ID, map[string]any{"status": "contacted"})
	require.NoError(t, err)
	assert.Equal(t, "x@y.com", updated.Fields["email"])
	assert.Equal(t, "contacted", updated.Fields["status"])

	_, err = repo.GetRecord(ctx, "site-b", "leads", record.ID)
	require.ErrorIs(t, err, persistence.ErrRecordNotFound)
}
