package workflow_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/siteflow/pkg/mocks"
	"github.com/dukex/siteflow/pkg/models"
	"github.com/dukex/siteflow/pkg/persistence"
	"github.com/dukex/siteflow/pkg/persistence/file"
	"github.com/dukex/siteflow/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func welcomeStep() *models.Step {
	return &models.Step{
		ID:         "step-welcome",
		Name:       "welcome",
		ActionType: models.ActionSendEmail,
		Config: map[string]any{
			"to":      "{{trigger.email}}",
			"subject": "Thanks for reaching out",
			"body":    "We received your message.",
		},
	}
}

func TestDispatcher_FormSubmitSendsEmail(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testOptions(), workflow.DispatcherOptions{DedupWindow: time.Minute})
	env.save(t, newWorkflow("wf-welcome", models.TriggerFormSubmit, welcomeStep()))

	disabled := newWorkflow("wf-disabled", models.TriggerFormSubmit, scriptedStep("never", "ok"))
	disabled.Active = false
	env.save(t, disabled)

	handles, err := env.dispatcher.Dispatch(t.Context(), "site-a", models.TriggerFormSubmit, map[string]any{"email": "x@y.com"})
	require.NoError(t, err)
	require.Len(t, handles, 1)

	execution := waitDone(t, handles[0])

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	require.Len(t, execution.StepResults, 1)
	assert.Equal(t, models.StepStatusSuccess, execution.StepResults[0].Status)

	sent := env.outbox.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "x@y.com", sent[0].To)
	assert.Empty(t, env.scripted.Calls())

	stored := env.execution(t, handles[0].ExecutionID)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)
	assert.Equal(t, "x@y.com", stored.TriggerPayload["email"])
}

func TestDispatcher_Dedup(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		window   time.Duration
		payloads []map[string]any
		expected int
	}{
		{
			name:   "same submission within the window runs once",
			window: time.Minute,
			payloads: []map[string]any{
				{"submission_id": "sub-1", "email": "x@y.com"},
				{"submission_id": "sub-1", "email": "x@y.com"},
			},
			expected: 1,
		},
		{
			name:   "distinct submissions both run",
			window: time.Minute,
			payloads: []map[string]any{
				{"submission_id": "sub-1"},
				{"submission_id": "sub-2"},
			},
			expected: 2,
		},
		{
			name:   "payload without natural key is never deduplicated",
			window: time.Minute,
			payloads: []map[string]any{
				{"email": "x@y.com"},
				{"email": "x@y.com"},
			},
			expected: 2,
		},
		{
			name:   "zero window disables dedup",
			window: 0,
			payloads: []map[string]any{
				{"submission_id": "sub-1"},
				{"submission_id": "sub-1"},
			},
			expected: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t, testOptions(), workflow.DispatcherOptions{DedupWindow: tt.window})
			env.save(t, newWorkflow("wf-form", models.TriggerFormSubmit, scriptedStep("record", "ok")))

			var handles []*workflow.Handle

			for _, payload := range tt.payloads {
				dispatched, err := env.dispatcher.Dispatch(t.Context(), "site-a", models.TriggerFormSubmit, payload)
				require.NoError(t, err)

				handles = append(handles, dispatched...)
			}

			for _, h := range handles {
				waitDone(t, h)
			}

			executions, err := env.store.ExecutionRepository().ListRecent(t.Context(), "wf-form", 0)
			require.NoError(t, err)
			assert.Len(t, executions, tt.expected)
			assert.Len(t, handles, tt.expected)
		})
	}
}

func TestDispatcher_DoesNotWaitForRuns(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testOptions(), workflow.DispatcherOptions{})
	env.save(t, newWorkflow("wf-slow", models.TriggerOrderPlaced, scriptedStep("waiting", "gate")))

	handles, err := env.dispatcher.Dispatch(t.Context(), "site-a", models.TriggerOrderPlaced, map[string]any{"order_id": "o-1"})
	require.NoError(t, err)
	require.Len(t, handles, 1)

	stored := env.execution(t, handles[0].ExecutionID)
	assert.False(t, stored.Status.IsFinal())
	assert.Nil(t, handles[0].Result())

	close(env.scripted.gate)

	execution := waitDone(t, handles[0])
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
}

func TestDispatcher_RejectsInvalidTriggers(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testOptions(), workflow.DispatcherOptions{})

	_, err := env.dispatcher.Dispatch(t.Context(), "", models.TriggerFormSubmit, nil)
	require.ErrorIs(t, err, workflow.ErrSiteRequired)

	_, err = env.dispatcher.Dispatch(t.Context(), "site-a", models.TriggerType("page_view"), nil)
	require.ErrorIs(t, err, workflow.ErrInvalidTriggerType)

	handles, err := env.dispatcher.Dispatch(t.Context(), "site-a", models.TriggerUserSignup, map[string]any{"user_id": "u-1"})
	require.NoError(t, err)
	assert.Empty(t, handles)
}

func TestDispatcher_RunManually(t *testing.T) {
	t.Parallel()

	t.Run("runs inactive workflows of any trigger and waits", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, testOptions(), workflow.DispatcherOptions{ManualWaitTimeout: 5 * time.Second})

		wf := newWorkflow("wf-orders", models.TriggerOrderPlaced, scriptedStep("sync", "ok"))
		wf.Active = false
		wf.TriggerFilter = &models.TriggerFilter{Conditions: []models.Condition{
			{Field: "status", Operator: models.OperatorEquals, Value: "paid"},
		}}
		env.save(t, wf)

		result, err := env.dispatcher.RunManually(t.Context(), "wf-orders", map[string]any{"status": "draft"})
		require.NoError(t, err)

		assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
		assert.False(t, result.TimedOut)
		assert.Nil(t, result.Failure)

		stored := env.execution(t, result.ExecutionID)
		assert.Equal(t, models.TriggerManual, stored.TriggerType)
		assert.Equal(t, "draft", stored.TriggerPayload["status"])
	})

	t.Run("reports the first failing step", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, testOptions(), workflow.DispatcherOptions{ManualWaitTimeout: 5 * time.Second})
		env.save(t, newWorkflow("wf-broken", models.TriggerManual, scriptedStep("call", "fail")))

		result, err := env.dispatcher.RunManually(t.Context(), "wf-broken", nil)
		require.NoError(t, err)

		assert.Equal(t, models.ExecutionStatusFailed, result.Status)
		require.NotNil(t, result.Failure)
		assert.Equal(t, models.ErrorKindHandler, result.Failure.Kind)
		assert.Equal(t, "step-call", result.Failure.StepID)
	})

	t.Run("returns running when the wait expires", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, testOptions(), workflow.DispatcherOptions{ManualWaitTimeout: 30 * time.Millisecond})
		env.save(t, newWorkflow("wf-long", models.TriggerManual, scriptedStep("waiting", "gate")))

		result, err := env.dispatcher.RunManually(t.Context(), "wf-long", nil)
		require.NoError(t, err)

		assert.True(t, result.TimedOut)
		assert.Equal(t, models.ExecutionStatusRunning, result.Status)

		close(env.scripted.gate)

		require.Eventually(t, func() bool {
			stored, err := env.store.ExecutionRepository().GetExecution(t.Context(), result.ExecutionID)

			return err == nil && stored.Status == models.ExecutionStatusCompleted
		}, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("unknown workflow", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, testOptions(), workflow.DispatcherOptions{})

		_, err := env.dispatcher.RunManually(t.Context(), "wf-missing", nil)
		require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
	})
}

func TestTriggerKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		triggerType models.TriggerType
		payload     map[string]any
		key         string
		ok          bool
	}{
		{
			name:        "event id wins",
			triggerType: models.TriggerFormSubmit,
			payload:     map[string]any{"event_id": "evt-1", "submission_id": "sub-1"},
			key:         "site-a:form_submit:event_id=evt-1",
			ok:          true,
		},
		{
			name:        "form submission id",
			triggerType: models.TriggerFormSubmit,
			payload:     map[string]any{"submission_id": "sub-1"},
			key:         "site-a:form_submit:submission_id=sub-1",
			ok:          true,
		},
		{
			name:        "record update includes the version",
			triggerType: models.TriggerRecordUpdate,
			payload:     map[string]any{"record_id": "r-1", "version": 3},
			key:         "site-a:record_update:record_id=r-1&version=3",
			ok:          true,
		},
		{
			name:        "record update without version falls back to updated_at",
			triggerType: models.TriggerRecordUpdate,
			payload:     map[string]any{"record_id": "r-1", "updated_at": "2026-01-01T00:00:00Z"},
			key:         "site-a:record_update:record_id=r-1&updated_at=2026-01-01T00:00:00Z",
			ok:          true,
		},
		{
			name:        "schedule tick",
			triggerType: models.TriggerSchedule,
			payload:     map[string]any{"workflow_id": "wf-1", "scheduled_at": "2026-01-01T10:00:00Z"},
			key:         "site-a:schedule:workflow_id=wf-1&scheduled_at=2026-01-01T10:00:00Z",
			ok:          true,
		},
		{
			name:        "signup is once per user",
			triggerType: models.TriggerUserSignup,
			payload:     map[string]any{"user_id": "u-1"},
			key:         "site-a:user_signup:user_id=u-1",
			ok:          true,
		},
		{
			name:        "login is keyed by session",
			triggerType: models.TriggerUserLogin,
			payload:     map[string]any{"user_id": "u-1", "session_id": "s-9"},
			key:         "site-a:user_login:session_id=s-9",
			ok:          true,
		},
		{
			name:        "login without session is not deduplicated",
			triggerType: models.TriggerUserLogin,
			payload:     map[string]any{"user_id": "u-1", "ip": "1.1.1.1"},
			ok:          false,
		},
		{
			name:        "generic idempotency key",
			triggerType: models.TriggerWebhook,
			payload:     map[string]any{"idempotency_key": "abc"},
			key:         "site-a:webhook:idempotency_key=abc",
			ok:          true,
		},
		{
			name:        "record update without any complete key",
			triggerType: models.TriggerRecordUpdate,
			payload:     map[string]any{"record_id": "r-1"},
			ok:          false,
		},
		{
			name:        "empty values do not count",
			triggerType: models.TriggerOrderPlaced,
			payload:     map[string]any{"order_id": ""},
			ok:          false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			key, ok := workflow.TriggerKey("site-a", tt.triggerType, tt.payload)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.key, key)
		})
	}
}

func TestDispatcher_ExecutionStoreFailureReleasesClaim(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	store := file.NewPersistence(t.TempDir())
	env := newTestEnvWithStore(t, testOptions(), workflow.DispatcherOptions{}, store)
	env.save(t, newWorkflow("wf-orders", models.TriggerOrderPlaced, scriptedStep("sync", "ok")))

	executions := &mocks.MockExecutionRepository{}
	executions.On("CreateExecution", mock.Anything, "wf-orders", models.TriggerOrderPlaced, mock.Anything).Return("", errStoreDown).Times(3)
	executions.On("CreateExecution", mock.Anything, "wf-orders", models.TriggerOrderPlaced, mock.Anything).Return("exec-1", nil).Once()
	executions.On("MarkRunning", mock.Anything, "exec-1", mock.Anything).Return(nil).Once()
	executions.On("AppendStepResult", mock.Anything, "exec-1", mock.Anything).Return(nil).Once()
	executions.On("FinalizeExecution", mock.Anything, "exec-1", models.ExecutionStatusCompleted, mock.Anything, mock.Anything).Return(nil).Once()

	engine := workflow.NewEngine(logger, env.registry, store.WorkflowRepository(), executions, testOptions())
	dispatcher := workflow.NewDispatcher(
		logger,
		engine,
		workflow.NewMatcher(logger, store.WorkflowRepository()),
		store.WorkflowRepository(),
		store.TriggerClaimRepository(),
		workflow.DispatcherOptions{DedupWindow: time.Minute},
	)

	payload := map[string]any{"order_id": "o-1"}

	handles, err := dispatcher.Dispatch(t.Context(), "site-a", models.TriggerOrderPlaced, payload)
	require.ErrorIs(t, err, workflow.ErrDispatchFailed)
	require.ErrorIs(t, err, errStoreDown)
	assert.Empty(t, handles)

	handles, err = dispatcher.Dispatch(t.Context(), "site-a", models.TriggerOrderPlaced, payload)
	require.NoError(t, err)
	require.Len(t, handles, 1, "the redelivered trigger is not taken for a duplicate")

	execution := waitDone(t, handles[0])
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)

	handles, err = dispatcher.Dispatch(t.Context(), "site-a", models.TriggerOrderPlaced, payload)
	require.NoError(t, err)
	assert.Empty(t, handles, "once recorded the trigger is deduplicated again")

	executions.AssertExpectations(t)
}
