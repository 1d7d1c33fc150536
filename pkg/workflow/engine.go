// Package workflow runs site workflows: step execution, trigger matching, the
// execution engine and the trigger dispatcher.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/siteflow/pkg/eventbus"
	"github.com/dukex/siteflow/pkg/events"
	"github.com/dukex/siteflow/pkg/models"
	"github.com/dukex/siteflow/pkg/otelhelper"
	"github.com/dukex/siteflow/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Options bounds every run of the engine.
type Options struct {
	RunTimeout        time.Duration
	StepTimeout       time.Duration
	MaxSteps          int
	MaxHops           int
	PersistRetries    int
	PersistRetryDelay time.Duration
}

func DefaultOptions() Options {
	return Options{
		RunTimeout:        5 * time.Minute,
		StepTimeout:       30 * time.Second,
		MaxSteps:          50,
		MaxHops:           3,
		PersistRetries:    3,
		PersistRetryDelay: 200 * time.Millisecond,
	}
}

// Handle tracks one prepared execution until it finishes.
type Handle struct {
	ExecutionID string
	Workflow    *models.Workflow
	TriggerType models.TriggerType
	Payload     map[string]any

	remainingHops int
	chain         []string

	mu     sync.Mutex
	cancel context.CancelCauseFunc
	cause  error
	done   chan struct{}
	result *models.Execution
}

// Done is closed once the execution is finalized.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result returns the final execution, or nil while it is still running.
func (h *Handle) Result() *models.Execution {
	select {
	case <-h.done:
		return h.result
	default:
		return nil
	}
}

func (h *Handle) bind(cancel context.CancelCauseFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cancel = cancel
	if h.cause != nil {
		cancel(h.cause)
	}
}

func (h *Handle) abort(cause error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cause == nil {
		h.cause = cause
	}

	if h.cancel != nil {
		h.cancel(h.cause)
	}
}

type EngineOption func(*Engine)

// WithPublisher publishes execution lifecycle events.
func WithPublisher(publisher eventbus.EventPublisher) EngineOption {
	return func(e *Engine) {
		e.publisher = publisher
	}
}

// WithTracer records execution and step spans. A nil tracer keeps the no-op one.
func WithTracer(tracer trace.Tracer) EngineOption {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// Engine owns workflow runs: it creates the execution record, runs the steps in
// order and finalizes the record, enforcing the run budget, the step cap and the
// chaining guards. Only a run cancelled or timed out before it starts, or one
// whose running mark cannot be stored, goes from pending straight to failed.
type Engine struct {
	logger     *slog.Logger
	workflows  persistence.WorkflowRepository
	executions persistence.ExecutionRepository
	runner     *Runner
	publisher  eventbus.EventPublisher
	tracer     trace.Tracer
	opts       Options
	now        func() time.Time

	mu      sync.Mutex
	active  map[string]*Handle
	wg      sync.WaitGroup
	stopped bool
}

func NewEngine(
	logger *slog.Logger,
	resolver ActionResolver,
	workflows persistence.WorkflowRepository,
	executions persistence.ExecutionRepository,
	opts Options,
	options ...EngineOption,
) *Engine {
	e := &Engine{
		logger:     logger.With("module", "execution_engine"),
		workflows:  workflows,
		executions: executions,
		tracer:     otelhelper.NoopTracer(),
		opts:       opts,
		now:        time.Now,
		active:     make(map[string]*Handle),
	}

	for _, option := range options {
		option(e)
	}

	e.runner = NewRunner(logger, resolver, e.tracer, opts.StepTimeout)

	return e
}

// Prepare creates the pending execution record of a top-level run.
func (e *Engine) Prepare(ctx context.Context, workflow *models.Workflow, triggerType models.TriggerType, payload map[string]any) (*Handle, error) {
	return e.prepare(ctx, workflow, triggerType, payload, e.opts.MaxHops, nil)
}

func (e *Engine) prepare(ctx context.Context, workflow *models.Workflow, triggerType models.TriggerType, payload map[string]any, remainingHops int, chain []string) (*Handle, error) {
	e.mu.Lock()
	stopped := e.stopped
	e.mu.Unlock()

	if stopped {
		return nil, ErrEngineStopped
	}

	if payload == nil {
		payload = map[string]any{}
	}

	logger := e.logger.With("workflow_id", workflow.ID, "site_id", workflow.SiteID)

	var executionID string

	err := e.persist(ctx, logger, "create_execution", func(ctx context.Context) error {
		id, err := e.executions.CreateExecution(ctx, workflow.ID, triggerType, payload)
		if err != nil {
			return err
		}

		executionID = id

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create execution for workflow %s: %w", workflow.ID, err)
	}

	h := &Handle{
		ExecutionID:   executionID,
		Workflow:      workflow,
		TriggerType:   triggerType,
		Payload:       payload,
		remainingHops: remainingHops,
		chain:         chain,
		done:          make(chan struct{}),
	}

	e.mu.Lock()
	e.active[executionID] = h
	e.mu.Unlock()

	logger.DebugContext(ctx, "Execution created", "execution_id", executionID, "trigger_type", triggerType)

	return h, nil
}

// Start runs a prepared execution in the background. The run is detached from
// ctx cancellation but keeps its values.
func (e *Engine) Start(ctx context.Context, h *Handle) {
	ctx = context.WithoutCancel(ctx)

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		h.abort(ErrEngineStopped)
		e.Execute(ctx, h)

		return
	}

	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()

		e.Execute(ctx, h)
	}()
}

// Execute runs a prepared execution inline and returns its final state.
func (e *Engine) Execute(ctx context.Context, h *Handle) *models.Execution {
	startedAt := e.now()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	h.bind(cancel)

	if e.opts.RunTimeout > 0 {
		var stop context.CancelFunc

		ctx, stop = context.WithTimeoutCause(ctx, e.opts.RunTimeout, ErrRunTimeout)
		defer stop()
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.execution",
		attribute.String(otelhelper.ExecutionIDKey, h.ExecutionID),
		attribute.String(otelhelper.WorkflowIDKey, h.Workflow.ID),
		attribute.String(otelhelper.WorkflowNameKey, h.Workflow.Name),
		attribute.String(otelhelper.SiteIDKey, h.Workflow.SiteID),
		attribute.String(otelhelper.TriggerTypeKey, string(h.TriggerType)),
	)
	defer span.End()

	logger := e.logger.With(
		"execution_id", h.ExecutionID,
		"workflow_id", h.Workflow.ID,
		"site_id", h.Workflow.SiteID,
		"trigger_type", h.TriggerType,
	)

	execution := &models.Execution{
		ID:             h.ExecutionID,
		WorkflowID:     h.Workflow.ID,
		TriggerType:    h.TriggerType,
		TriggerPayload: h.Payload,
		Status:         models.ExecutionStatusPending,
		StepResults:    []models.StepResult{},
	}

	failure := e.run(ctx, h, execution, logger)

	e.finalize(ctx, execution, failure, logger)

	duration := e.now().Sub(startedAt)

	if failure != nil {
		otelhelper.SetError(span, failure, string(failure.Kind))
		logger.WarnContext(ctx, "Execution failed", "kind", failure.Kind, "error", failure.Message, "duration", duration)

		e.publish(ctx, logger, h.Workflow.SiteID, &events.ExecutionFailed{
			BaseEvent:   events.NewBaseEvent(events.ExecutionFailedEvent, h.Workflow.SiteID, h.Workflow.ID),
			ExecutionID: execution.ID,
			Failure:     failure,
			Duration:    duration,
		})
	} else {
		logger.InfoContext(ctx, "Execution completed", "steps", len(execution.StepResults), "duration", duration)

		e.publish(ctx, logger, h.Workflow.SiteID, &events.ExecutionCompleted{
			BaseEvent:   events.NewBaseEvent(events.ExecutionCompletedEvent, h.Workflow.SiteID, h.Workflow.ID),
			ExecutionID: execution.ID,
			StepCount:   len(execution.StepResults),
			Duration:    duration,
		})
	}

	e.mu.Lock()
	delete(e.active, h.ExecutionID)
	e.mu.Unlock()

	h.result = execution
	close(h.done)

	return execution
}

func (e *Engine) run(ctx context.Context, h *Handle, execution *models.Execution, logger *slog.Logger) *models.ExecutionError {
	if failure := runFailure(ctx); failure != nil {
		return failure
	}

	steps := slices.Clone(h.Workflow.Steps)
	models.SortSteps(steps)

	startedAt := e.now().UTC()

	err := e.persist(ctx, logger, "mark_running", func(ctx context.Context) error {
		return e.executions.MarkRunning(ctx, execution.ID, startedAt)
	})
	if err != nil {
		return &models.ExecutionError{Kind: models.ErrorKindPersistence, Message: err.Error()}
	}

	execution.Status = models.ExecutionStatusRunning
	execution.StartedAt = &startedAt

	if e.opts.MaxSteps > 0 && len(steps) > e.opts.MaxSteps {
		return &models.ExecutionError{
			Kind:    models.ErrorKindStepLimitExceeded,
			Message: fmt.Sprintf("workflow has %d steps, the limit per run is %d", len(steps), e.opts.MaxSteps),
		}
	}

	logger.InfoContext(ctx, "Execution started", "steps", len(steps))

	e.publish(ctx, logger, h.Workflow.SiteID, &events.ExecutionStarted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionStartedEvent, h.Workflow.SiteID, h.Workflow.ID),
		ExecutionID: execution.ID,
		TriggerType: h.TriggerType,
	})

	actionCtx := models.NewActionContext(execution.ID, h.Workflow, h.TriggerType, h.Payload, h.remainingHops, h.chain)

	for _, step := range steps {
		if failure := runFailure(ctx); failure != nil {
			return failure
		}

		result := e.runner.Run(ctx, step, actionCtx)
		execution.StepResults = append(execution.StepResults, result)

		_ = e.persist(ctx, logger, "append_step_result", func(ctx context.Context) error {
			return e.executions.AppendStepResult(ctx, execution.ID, result)
		})

		if result.Status == models.StepStatusSuccess {
			continue
		}

		if failure := runFailure(ctx); failure != nil {
			failure.StepID = step.ID
			failure.StepName = step.Name

			return failure
		}

		if step.ToleratesErrors() && result.Error.Kind.Tolerable() {
			logger.WarnContext(ctx, "Step failure tolerated", "step", step.Name, "kind", result.Error.Kind)

			continue
		}

		return result.Error
	}

	return nil
}

func (e *Engine) finalize(ctx context.Context, execution *models.Execution, failure *models.ExecutionError, logger *slog.Logger) {
	status := models.ExecutionStatusCompleted
	if failure != nil {
		status = models.ExecutionStatusFailed
	}

	completedAt := e.now().UTC()

	_ = e.persist(ctx, logger, "finalize_execution", func(ctx context.Context) error {
		return e.executions.FinalizeExecution(ctx, execution.ID, status, failure, completedAt)
	})

	execution.Status = status
	execution.Failure = failure
	execution.CompletedAt = &completedAt
}

// InvokeChained runs workflowID inline as a hop of the chain parent belongs to.
// The hop shares the caller's deadline and cancellation.
func (e *Engine) InvokeChained(ctx context.Context, parent *models.ActionContext, workflowID string, payload map[string]any) (*models.Execution, error) {
	if parent.InChain(workflowID) {
		return nil, &models.ExecutionError{
			Kind:    models.ErrorKindReentrancy,
			Message: fmt.Sprintf("workflow %s is already running on this chain", workflowID),
		}
	}

	if parent.RemainingHops <= 0 {
		return nil, &models.ExecutionError{
			Kind:    models.ErrorKindHopLimitExceeded,
			Message: fmt.Sprintf("no chained hops left to run workflow %s", workflowID),
		}
	}

	workflow, err := e.workflows.LoadWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.SiteID != parent.SiteID {
		return nil, fmt.Errorf("%w: %s", ErrCrossSiteChain, workflowID)
	}

	h, err := e.prepare(ctx, workflow, models.TriggerManual, payload, parent.RemainingHops-1, parent.Chain)
	if err != nil {
		return nil, err
	}

	return e.Execute(ctx, h), nil
}

// Cancel asks a pending or running execution to stop. Handlers observe the
// cancellation through their context.
func (e *Engine) Cancel(executionID string) error {
	e.mu.Lock()
	h, ok := e.active[executionID]
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrExecutionNotActive, executionID)
	}

	h.abort(ErrCancelled)

	e.logger.Info("Execution cancellation requested", "execution_id", executionID)

	return nil
}

// Shutdown stops accepting runs and waits for in-flight background runs. When ctx
// expires first the remaining runs are cancelled and awaited.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()

	done := make(chan struct{})

	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	e.mu.Lock()
	for _, h := range e.active {
		h.abort(ErrEngineStopped)
	}
	e.mu.Unlock()

	<-done

	return ctx.Err()
}

// persist retries a store write with a constant delay. The write is detached
// from run cancellation so that cancelled and timed out runs are still recorded.
func (e *Engine) persist(ctx context.Context, logger *slog.Logger, op string, write func(ctx context.Context) error) error {
	ctx = context.WithoutCancel(ctx)

	retries := max(e.opts.PersistRetries, 0)
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(e.opts.PersistRetryDelay), uint64(retries)),
		ctx,
	)

	err := backoff.RetryNotify(func() error {
		err := write(ctx)
		if err != nil && permanentStoreError(err) {
			return backoff.Permanent(err)
		}

		return err
	}, policy, func(err error, wait time.Duration) {
		logger.WarnContext(ctx, "Persisting execution failed, retrying", "op", op, "error", err, "retry_in", wait)
	})
	if err != nil {
		logger.ErrorContext(ctx, "Giving up persisting execution", "op", op, "error", err)
	}

	return err
}

func permanentStoreError(err error) bool {
	return errors.Is(err, persistence.ErrExecutionFinalized) ||
		errors.Is(err, persistence.ErrExecutionNotFound) ||
		errors.Is(err, persistence.ErrInvalidID) ||
		errors.Is(err, models.ErrInvalidTransition)
}

func (e *Engine) publish(ctx context.Context, logger *slog.Logger, siteID string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	err := e.publisher.Publish(context.WithoutCancel(ctx), siteID, event)
	if err != nil {
		logger.WarnContext(ctx, "Failed to publish execution event", "event_type", event.GetType(), "error", err)
	}
}

// runFailure reports the run-level reason ctx is done, if any.
func runFailure(ctx context.Context) *models.ExecutionError {
	if ctx.Err() == nil {
		return nil
	}

	cause := context.Cause(ctx)

	return &models.ExecutionError{Kind: kindOfCause(cause), Message: cause.Error()}
}
