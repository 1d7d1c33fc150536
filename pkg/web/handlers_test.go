package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/siteflow/pkg/models"
	"github.com/dukex/siteflow/pkg/persistence/file"
	"github.com/dukex/siteflow/pkg/registry"
	"github.com/dukex/siteflow/pkg/services"
	"github.com/dukex/siteflow/pkg/web"
	"github.com/dukex/siteflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoAction struct{}

func (echoAction) Execute(_ context.Context, config map[string]any, _ *models.ActionContext, _ *slog.Logger) (map[string]any, error) {
	return config, nil
}

type failingAction struct{}

func (failingAction) Execute(context.Context, map[string]any, *models.ActionContext, *slog.Logger) (map[string]any, error) {
	return nil, io.ErrUnexpectedEOF
}

func setupTestApp(t *testing.T) (*fiber.App, *services.Workflow) {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	store := file.NewPersistence(t.TempDir())

	reg := registry.NewRegistry(logger)
	require.NoError(t, reg.Register(models.ActionCallWebhook, echoAction{}, &models.JSONSchema{
		Type:       "object",
		Properties: map[string]*models.Property{"url": {Type: "string"}},
		Required:   []string{"url"},
	}))
	require.NoError(t, reg.Register(models.ActionDelay, failingAction{}, nil))

	engine := workflow.NewEngine(logger, reg, store.WorkflowRepository(), store.ExecutionRepository(), workflow.DefaultOptions())
	dispatcher := workflow.NewDispatcher(
		logger,
		engine,
		workflow.NewMatcher(logger, store.WorkflowRepository()),
		store.WorkflowRepository(),
		store.TriggerClaimRepository(),
		workflow.DispatcherOptions{DedupWindow: time.Minute, ManualWaitTimeout: 5 * time.Second},
	)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		_ = engine.Shutdown(ctx)
	})

	workflowService := services.NewWorkflow(logger, store, reg)
	executionService := services.NewExecution(logger, store, dispatcher, engine)

	handlers := web.NewAPIHandlers(workflowService, executionService, validator.New(validator.WithRequiredStructEnabled()), reg)

	app := fiber.New()

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Patch("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/:id/run", handlers.RunWorkflow)
	w.Get("/:id/executions", handlers.GetWorkflowExecutions)

	e := app.Group("/executions")
	e.Get("/:id", handlers.GetExecution)
	e.Post("/:id/cancel", handlers.CancelExecution)

	app.Post("/sites/:siteId/events", handlers.DispatchEvent)
	app.Post("/sites/:siteId/webhook", handlers.ReceiveWebhook)
	app.Get("/actions", handlers.GetActions)
	app.Get("/health", handlers.HealthCheck)

	return app, workflowService
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader

	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		encoded, err := json.Marshal(b)
		require.NoError(t, err)

		reader = bytes.NewBuffer(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, respBody
}

func createWorkflow(t *testing.T, service *services.Workflow, steps ...*models.Step) *models.Workflow {
	t.Helper()

	created, err := service.Create(t.Context(), &models.Workflow{
		SiteID:      "site-a",
		Name:        "Contact form",
		TriggerType: models.TriggerFormSubmit,
		Active:      true,
		Steps:       steps,
	})
	require.NoError(t, err)

	return created
}

func webhookStep(name string) *models.Step {
	return &models.Step{Name: name, ActionType: models.ActionCallWebhook, Config: map[string]any{"url": "https://example.com/" + name}}
}

func problemType(t *testing.T, body []byte) string {
	t.Helper()

	var problem map[string]any
	require.NoError(t, json.Unmarshal(body, &problem))

	problemType, _ := problem["type"].(string)

	return problemType
}

func TestAPIHandlers_CreateWorkflow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
		validateResult func(t *testing.T, body []byte)
	}{
		{
			name: "successful creation",
			requestBody: web.CreateWorkflowRequest{
				SiteID:      "site-a",
				Name:        "Contact form",
				TriggerType: models.TriggerFormSubmit,
				Active:      true,
				Steps: []web.StepRequest{
					{Name: "notify", ActionType: models.ActionCallWebhook, Config: map[string]any{"url": "{{trigger.callback}}"}},
					{Name: "audit", ActionType: models.ActionCallWebhook, Config: map[string]any{"url": "https://example.com"}, ContinueOnError: true},
				},
			},
			expectedStatus: http.StatusCreated,
			validateResult: func(t *testing.T, body []byte) {
				t.Helper()

				var workflow models.Workflow
				require.NoError(t, json.Unmarshal(body, &workflow))
				assert.NotEmpty(t, workflow.ID)
				assert.Equal(t, "site-a", workflow.SiteID)
				require.Len(t, workflow.Steps, 2)
				assert.Equal(t, 1, workflow.Steps[1].OrderIndex)
				assert.True(t, workflow.Steps[1].ContinueOnError)
			},
		},
		{
			name:           "validation error - missing site",
			requestBody:    web.CreateWorkflowRequest{Name: "Contact form", TriggerType: models.TriggerFormSubmit},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "validation error - name too short",
			requestBody:    web.CreateWorkflowRequest{SiteID: "site-a", Name: "Co", TriggerType: models.TriggerFormSubmit},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "validation error - unknown action type",
			requestBody: web.CreateWorkflowRequest{
				SiteID:      "site-a",
				Name:        "Contact form",
				TriggerType: models.TriggerFormSubmit,
				Steps:       []web.StepRequest{{Name: "x", ActionType: "launch_rocket"}},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "validation error - config misses required field",
			requestBody: web.CreateWorkflowRequest{
				SiteID:      "site-a",
				Name:        "Contact form",
				TriggerType: models.TriggerFormSubmit,
				Steps:       []web.StepRequest{{Name: "x", ActionType: models.ActionCallWebhook, Config: map[string]any{}}},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid JSON",
			requestBody:    "invalid-json",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, _ := setupTestApp(t)

			status, body := doRequest(t, app, http.MethodPost, "/workflows", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, status)

			if tt.validateResult != nil {
				tt.validateResult(t, body)
			} else {
				assert.Equal(t, "validation_error", problemType(t, body))
			}
		})
	}
}

func TestAPIHandlers_GetWorkflows(t *testing.T) {
	t.Parallel()

	app, service := setupTestApp(t)
	created := createWorkflow(t, service, webhookStep("notify"))

	status, body := doRequest(t, app, http.MethodGet, "/workflows?site_id=site-a", nil)
	require.Equal(t, http.StatusOK, status)

	var result struct {
		Workflows  []models.Workflow `json:"workflows"`
		TotalCount int               `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(body, &result))
	require.Len(t, result.Workflows, 1)
	assert.Equal(t, created.ID, result.Workflows[0].ID)

	status, body = doRequest(t, app, http.MethodGet, "/workflows?site_id=site-b", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Empty(t, result.Workflows)

	status, _ = doRequest(t, app, http.MethodGet, "/workflows", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_GetWorkflowWithExecutions(t *testing.T) {
	t.Parallel()

	app, service := setupTestApp(t)
	created := createWorkflow(t, service, webhookStep("notify"))

	var executionIDs []string

	for range 3 {
		status, body := doRequest(t, app, http.MethodPost, "/workflows/"+created.ID+"/run", web.RunWorkflowRequest{
			TriggerData: map[string]any{"email": "x@y.com"},
		})
		require.Equal(t, http.StatusOK, status)

		var run web.RunWorkflowResponse
		require.NoError(t, json.Unmarshal(body, &run))
		assert.True(t, run.Success)
		assert.Equal(t, models.ExecutionStatusCompleted, run.Status)

		executionIDs = append(executionIDs, run.ExecutionID)
	}

	status, body := doRequest(t, app, http.MethodGet, "/workflows/"+created.ID+"?executions=2", nil)
	require.Equal(t, http.StatusOK, status)

	var response web.WorkflowResponse
	require.NoError(t, json.Unmarshal(body, &response))
	assert.Equal(t, created.ID, response.ID)
	require.Len(t, response.RecentExecutions, 2)
	assert.Equal(t, executionIDs[2], response.RecentExecutions[0].ID)
	assert.Equal(t, executionIDs[1], response.RecentExecutions[1].ID)

	status, body = doRequest(t, app, http.MethodGet, "/workflows/"+created.ID+"/executions", nil)
	require.Equal(t, http.StatusOK, status)

	var list struct {
		Executions []models.ExecutionSummary `json:"executions"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list.Executions, 3)

	status, body = doRequest(t, app, http.MethodGet, "/workflows/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "workflow_not_found", problemType(t, body))

	status, _ = doRequest(t, app, http.MethodGet, "/workflows/"+created.ID+"?executions=abc", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_RunWorkflowFailure(t *testing.T) {
	t.Parallel()

	app, service := setupTestApp(t)
	created := createWorkflow(t, service, &models.Step{Name: "wait", ActionType: models.ActionDelay, Config: map[string]any{}})

	status, body := doRequest(t, app, http.MethodPost, "/workflows/"+created.ID+"/run", nil)
	require.Equal(t, http.StatusOK, status)

	var run web.RunWorkflowResponse
	require.NoError(t, json.Unmarshal(body, &run))
	assert.False(t, run.Success)
	assert.Equal(t, models.ExecutionStatusFailed, run.Status)
	require.NotNil(t, run.Failure)
	assert.Equal(t, models.ErrorKindHandler, run.Failure.Kind)
	assert.Equal(t, "wait", run.Failure.StepName)

	status, body = doRequest(t, app, http.MethodGet, "/executions/"+run.ExecutionID, nil)
	require.Equal(t, http.StatusOK, status)

	var execution web.ExecutionResponse
	require.NoError(t, json.Unmarshal(body, &execution))
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	require.NotNil(t, execution.FirstFailure)
	assert.Equal(t, created.Steps[0].ID, execution.FirstFailure.StepID)

	status, body = doRequest(t, app, http.MethodPost, "/executions/"+run.ExecutionID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", problemType(t, body))

	status, body = doRequest(t, app, http.MethodGet, "/executions/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "execution_not_found", problemType(t, body))

	status, _ = doRequest(t, app, http.MethodPost, "/workflows/missing/run", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_UpdateWorkflow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
		validate       func(t *testing.T, updated *models.Workflow)
	}{
		{
			name:           "deactivate only",
			requestBody:    map[string]any{"active": false},
			expectedStatus: http.StatusOK,
			validate: func(t *testing.T, updated *models.Workflow) {
				t.Helper()
				assert.False(t, updated.Active)
				assert.Equal(t, "Contact form", updated.Name)
				assert.Len(t, updated.Steps, 2)
			},
		},
		{
			name: "replace steps",
			requestBody: map[string]any{
				"steps": []map[string]any{{"name": "only", "action_type": "call_webhook", "config": map[string]any{"url": "https://example.com"}}},
			},
			expectedStatus: http.StatusOK,
			validate: func(t *testing.T, updated *models.Workflow) {
				t.Helper()
				require.Len(t, updated.Steps, 1)
				assert.Equal(t, "only", updated.Steps[0].Name)
				assert.True(t, updated.Active)
			},
		},
		{
			name:           "clear steps",
			requestBody:    map[string]any{"steps": []any{}},
			expectedStatus: http.StatusOK,
			validate: func(t *testing.T, updated *models.Workflow) {
				t.Helper()
				assert.Empty(t, updated.Steps)
			},
		},
		{
			name:           "name too short",
			requestBody:    map[string]any{"name": "ab"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "schedule on a form trigger",
			requestBody:    map[string]any{"schedule": "@daily"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid JSON",
			requestBody:    "{",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, service := setupTestApp(t)
			created := createWorkflow(t, service, webhookStep("first"), webhookStep("second"))

			status, body := doRequest(t, app, http.MethodPatch, "/workflows/"+created.ID, tt.requestBody)
			require.Equal(t, tt.expectedStatus, status)

			if tt.validate == nil {
				return
			}

			var updated models.Workflow
			require.NoError(t, json.Unmarshal(body, &updated))
			tt.validate(t, &updated)

			stored, err := service.FetchByID(t.Context(), created.ID)
			require.NoError(t, err)
			assert.Len(t, stored.Steps, len(updated.Steps))
		})
	}
}

func TestAPIHandlers_DeleteWorkflow(t *testing.T) {
	t.Parallel()

	app, service := setupTestApp(t)
	created := createWorkflow(t, service)

	status, _ := doRequest(t, app, http.MethodDelete, "/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = doRequest(t, app, http.MethodDelete, "/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_DispatchEvent(t *testing.T) {
	t.Parallel()

	app, service := setupTestApp(t)
	created := createWorkflow(t, service, webhookStep("notify"))

	event := web.DispatchEventRequest{
		TriggerType: models.TriggerFormSubmit,
		Payload:     map[string]any{"submission_id": "sub-1", "email": "x@y.com"},
	}

	status, body := doRequest(t, app, http.MethodPost, "/sites/site-a/events", event)
	require.Equal(t, http.StatusAccepted, status)

	var dispatched web.DispatchEventResponse
	require.NoError(t, json.Unmarshal(body, &dispatched))
	require.Len(t, dispatched.ExecutionIDs, 1)

	status, body = doRequest(t, app, http.MethodPost, "/sites/site-a/events", event)
	require.Equal(t, http.StatusAccepted, status)
	require.NoError(t, json.Unmarshal(body, &dispatched))
	assert.Empty(t, dispatched.ExecutionIDs)

	status, _ = doRequest(t, app, http.MethodPost, "/sites/site-a/events", web.DispatchEventRequest{TriggerType: "page_view"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = doRequest(t, app, http.MethodPost, "/sites/site-a/events", map[string]any{"payload": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, status)

	require.Eventually(t, func() bool {
		status, body := doRequest(t, app, http.MethodGet, "/workflows/"+created.ID+"/executions", nil)
		if status != http.StatusOK {
			return false
		}

		var list struct {
			Executions []models.ExecutionSummary `json:"executions"`
		}
		if err := json.Unmarshal(body, &list); err != nil {
			return false
		}

		return len(list.Executions) == 1 && list.Executions[0].Status == models.ExecutionStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)
}

func TestAPIHandlers_GetActions(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	status, body := doRequest(t, app, http.MethodGet, "/actions", nil)
	require.Equal(t, http.StatusOK, status)

	var result struct {
		Actions []models.RegisteredAction `json:"actions"`
	}
	require.NoError(t, json.Unmarshal(body, &result))
	require.Len(t, result.Actions, 2)
	assert.Equal(t, models.ActionCallWebhook, result.Actions[0].Type)
	assert.Equal(t, models.ActionDelay, result.Actions[1].Type)
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	status, body := doRequest(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusInternalServerError, status)

	var result map[string]any
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, "unhealthy", result["status"])

	checkers, ok := result["checkers"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Persistence layer is healthy", checkers["repository"])
	assert.Contains(t, checkers["registry"], "send_email")
}
