package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukex/siteflow/pkg/models"
	"github.com/dukex/siteflow/pkg/otelhelper"
	"github.com/dukex/siteflow/pkg/protocol"
	"github.com/dukex/siteflow/pkg/template"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ActionResolver looks up the handler and config schema of an action type.
type ActionResolver interface {
	Resolve(actionType models.ActionType) (protocol.Action, *models.JSONSchema, error)
}

// Runner executes a single step: handler lookup, config resolution, bounded
// invocation and error classification. It never retries.
type Runner struct {
	resolver    ActionResolver
	logger      *slog.Logger
	tracer      trace.Tracer
	stepTimeout time.Duration
}

func NewRunner(logger *slog.Logger, resolver ActionResolver, tracer trace.Tracer, stepTimeout time.Duration) *Runner {
	if tracer == nil {
		tracer = otelhelper.NoopTracer()
	}

	return &Runner{
		resolver:    resolver,
		logger:      logger.With("module", "step_runner"),
		tracer:      tracer,
		stepTimeout: stepTimeout,
	}
}

// Run executes step against actionCtx. On success the output is stored in the
// context under the step name.
func (r *Runner) Run(ctx context.Context, step *models.Step, actionCtx *models.ActionContext) models.StepResult {
	startedAt := time.Now()

	logger := r.logger.With(
		"execution_id", actionCtx.ExecutionID,
		"workflow_id", actionCtx.WorkflowID,
		"step", step.Name,
		"action_type", step.ActionType,
	)

	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "workflow.step",
		attribute.String(otelhelper.ExecutionIDKey, actionCtx.ExecutionID),
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.String(otelhelper.StepNameKey, step.Name),
		attribute.String(otelhelper.ActionTypeKey, string(step.ActionType)),
	)
	defer span.End()

	logger.DebugContext(ctx, "Executing step")

	output, failure := r.execute(ctx, step, actionCtx, logger)

	result := models.StepResult{
		StepID:     step.ID,
		StepName:   step.Name,
		StartedAt:  startedAt.UTC(),
		DurationMs: time.Since(startedAt).Milliseconds(),
	}

	if failure != nil {
		result.Status = models.StepStatusFailed
		result.Error = failure

		otelhelper.SetError(span, failure, string(failure.Kind))
		logger.WarnContext(ctx, "Step failed", "kind", failure.Kind, "error", failure.Message, "duration_ms", result.DurationMs)

		return result
	}

	if output == nil {
		output = map[string]any{}
	}

	actionCtx.SetStepOutput(step.Name, output)

	result.Status = models.StepStatusSuccess
	result.Output = output

	logger.InfoContext(ctx, "Step completed", "duration_ms", result.DurationMs)

	return result
}

func (r *Runner) execute(ctx context.Context, step *models.Step, actionCtx *models.ActionContext, logger *slog.Logger) (map[string]any, *models.ExecutionError) {
	handler, schema, err := r.resolver.Resolve(step.ActionType)
	if err != nil {
		return nil, stepFailure(step, models.ErrorKindConfig, err.Error())
	}

	config, err := template.Resolve(step.ActionConfig(), actionCtx.TemplateData(), schema)
	if err != nil {
		return nil, stepFailure(step, models.ErrorKindContext, err.Error())
	}

	stepCtx := ctx

	if r.stepTimeout > 0 {
		var cancel context.CancelFunc

		stepCtx, cancel = context.WithTimeoutCause(ctx, r.stepTimeout, ErrStepTimeout)
		defer cancel()
	}

	output, err := invoke(stepCtx, handler, config, actionCtx, logger)
	if err != nil {
		kind := classify(stepCtx, err)

		message := err.Error()
		if kind == models.ErrorKindTimeout || kind == models.ErrorKindCancelled {
			message = context.Cause(stepCtx).Error()
		}

		var execErr *models.ExecutionError
		if errors.As(err, &execErr) {
			message = execErr.Message
		}

		return nil, stepFailure(step, kind, message)
	}

	return output, nil
}

// invoke runs the handler and stops waiting for it once ctx is done, so a
// handler that ignores cancellation cannot hold the run.
func invoke(ctx context.Context, handler protocol.Action, config map[string]any, actionCtx *models.ActionContext, logger *slog.Logger) (map[string]any, error) {
	type outcome struct {
		output map[string]any
		err    error
	}

	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if value := recover(); value != nil {
				done <- outcome{err: &PanicError{Value: value}}
			}
		}()

		output, err := handler.Execute(ctx, config, actionCtx, logger)
		done <- outcome{output: output, err: err}
	}()

	select {
	case res := <-done:
		return res.output, res.err
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

// classify maps a step error to its stable kind.
func classify(ctx context.Context, err error) models.ErrorKind {
	var (
		execErr  *models.ExecutionError
		panicErr *PanicError
	)

	switch {
	case errors.As(err, &execErr):
		return execErr.Kind
	case errors.As(err, &panicErr):
		return models.ErrorKindHandler
	case ctx.Err() != nil:
		return kindOfCause(context.Cause(ctx))
	case errors.Is(err, protocol.ErrInvalidConfig):
		return models.ErrorKindConfig
	case errors.Is(err, template.ErrMissingContextValue), errors.Is(err, template.ErrCoercion):
		return models.ErrorKindContext
	case errors.Is(err, context.DeadlineExceeded):
		return models.ErrorKindTimeout
	case errors.Is(err, context.Canceled):
		return models.ErrorKindCancelled
	default:
		return models.ErrorKindHandler
	}
}

func kindOfCause(cause error) models.ErrorKind {
	if errors.Is(cause, ErrRunTimeout) || errors.Is(cause, ErrStepTimeout) || errors.Is(cause, context.DeadlineExceeded) {
		return models.ErrorKindTimeout
	}

	return models.ErrorKindCancelled
}

func stepFailure(step *models.Step, kind models.ErrorKind, message string) *models.ExecutionError {
	return &models.ExecutionError{
		Kind:     kind,
		Message:  message,
		StepID:   step.ID,
		StepName: step.Name,
	}
}
