package workflow_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/siteflow/pkg/actions/runworkflow"
	"github.com/dukex/siteflow/pkg/actions/sendemail"
	"github.com/dukex/siteflow/pkg/eventbus"
	"github.com/dukex/siteflow/pkg/models"
	"github.com/dukex/siteflow/pkg/persistence/file"
	"github.com/dukex/siteflow/pkg/registry"
	"github.com/dukex/siteflow/pkg/workflow"
	"github.com/stretchr/testify/require"
)

var errDownstream = errors.New("downstream returned 502")

// scriptedAction behaves according to the "mode" key of its config.
type scriptedAction struct {
	mu      sync.Mutex
	calls   []string
	started chan string
	gate    chan struct{}
}

func newScriptedAction() *scriptedAction {
	return &scriptedAction{
		started: make(chan string, 16),
		gate:    make(chan struct{}),
	}
}

func (a *scriptedAction) Execute(ctx context.Context, config map[string]any, actionCtx *models.ActionContext, _ *slog.Logger) (map[string]any, error) {
	name, _ := config["name"].(string)

	a.mu.Lock()
	a.calls = append(a.calls, name)
	a.mu.Unlock()

	select {
	case a.started <- name:
	default:
	}

	switch config["mode"] {
	case "fail":
		return nil, errDownstream
	case "panic":
		panic("handler exploded")
	case "block":
		<-ctx.Done()

		return nil, context.Cause(ctx)
	case "gate":
		select {
		case <-a.gate:
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		}
	}

	return map[string]any{"echo": config["value"], "execution_id": actionCtx.ExecutionID}, nil
}

func (a *scriptedAction) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]string(nil), a.calls...)
}

type outbox struct {
	mu   sync.Mutex
	sent []sendemail.Email
}

func (o *outbox) Send(_ context.Context, email sendemail.Email) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.sent = append(o.sent, email)

	return "msg-" + email.To, nil
}

func (o *outbox) Sent() []sendemail.Email {
	o.mu.Lock()
	defer o.mu.Unlock()

	return append([]sendemail.Email(nil), o.sent...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

type testEnv struct {
	store      *file.Persistence
	registry   *registry.Registry
	engine     *workflow.Engine
	dispatcher *workflow.Dispatcher
	scripted   *scriptedAction
	outbox     *outbox
	publisher  *recordingPublisher
}

func testOptions() workflow.Options {
	return workflow.Options{
		RunTimeout:        5 * time.Second,
		StepTimeout:       2 * time.Second,
		MaxSteps:          10,
		MaxHops:           3,
		PersistRetries:    2,
		PersistRetryDelay: time.Millisecond,
	}
}

func newTestEnv(t *testing.T, opts workflow.Options, dispatcherOpts workflow.DispatcherOptions) *testEnv {
	t.Helper()

	return newTestEnvWithStore(t, opts, dispatcherOpts, file.NewPersistence(t.TempDir()))
}

func newTestEnvWithStore(t *testing.T, opts workflow.Options, dispatcherOpts workflow.DispatcherOptions, store *file.Persistence, engineOptions ...workflow.EngineOption) *testEnv {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	env := &testEnv{
		store:     store,
		registry:  registry.NewRegistry(logger),
		scripted:  newScriptedAction(),
		outbox:    &outbox{},
		publisher: &recordingPublisher{},
	}

	engineOptions = append([]workflow.EngineOption{workflow.WithPublisher(env.publisher)}, engineOptions...)

	env.engine = workflow.NewEngine(logger, env.registry, store.WorkflowRepository(), store.ExecutionRepository(), opts, engineOptions...)
	env.dispatcher = workflow.NewDispatcher(
		logger,
		env.engine,
		workflow.NewMatcher(logger, store.WorkflowRepository()),
		store.WorkflowRepository(),
		store.TriggerClaimRepository(),
		dispatcherOpts,
	)

	require.NoError(t, env.registry.Register(models.ActionCallWebhook, env.scripted, nil))
	require.NoError(t, env.registry.RegisterAction(sendemail.NewActionFactory(env.outbox)))
	require.NoError(t, env.registry.RegisterAction(runworkflow.NewActionFactory(env.engine)))

	return env
}

func (env *testEnv) save(t *testing.T, wf *models.Workflow) *models.Workflow {
	t.Helper()

	require.NoError(t, env.store.WorkflowRepository().Save(t.Context(), wf))

	return wf
}

func (env *testEnv) execution(t *testing.T, executionID string) *models.Execution {
	t.Helper()

	execution, err := env.store.ExecutionRepository().GetExecution(t.Context(), executionID)
	require.NoError(t, err)

	return execution
}

func newWorkflow(id string, triggerType models.TriggerType, steps ...*models.Step) *models.Workflow {
	for i, step := range steps {
		step.OrderIndex = i
	}

	return &models.Workflow{
		ID:          id,
		SiteID:      "site-a",
		Name:        "workflow " + id,
		TriggerType: triggerType,
		Active:      true,
		Steps:       steps,
	}
}

func scriptedStep(name, mode string) *models.Step {
	return &models.Step{
		ID:         "step-" + name,
		Name:       name,
		ActionType: models.ActionCallWebhook,
		Config:     map[string]any{"name": name, "mode": mode},
	}
}

func waitDone(t *testing.T, h *workflow.Handle) *models.Execution {
	t.Helper()

	select {
	case <-h.Done():
		return h.Result()
	case <-time.After(5 * time.Second):
		t.Fatalf("execution %s did not finish", h.ExecutionID)

		return nil
	}
}

func stepNames(results []models.StepResult) []string {
	names := make([]string, 0, len(results))
	for _, result := range results {
		names = append(names, result.StepName)
	}

	return names
}

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]string, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, string(event.GetType()))
	}

	return types
}
