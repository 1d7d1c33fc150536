package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/dukex/siteflow/pkg/models"
	"github.com/dukex/siteflow/pkg/persistence"
)

// IdempotencyKeyField is the generic payload field used when no natural key is present.
const IdempotencyKeyField = "idempotency_key"

type DispatcherOptions struct {
	// DedupWindow is how long a trigger identity is remembered. Zero disables dedup.
	DedupWindow time.Duration
	// ManualWaitTimeout bounds how long RunManually waits for the run to finish.
	ManualWaitTimeout time.Duration
}

// ManualResult is the outcome of a "run now" request.
type ManualResult struct {
	ExecutionID string                 `json:"execution_id"`
	Status      models.ExecutionStatus `json:"status"`
	TimedOut    bool                   `json:"timed_out"`
	Failure     *models.ExecutionError `json:"failure,omitempty"`
}

// Dispatcher is the entry point for platform events and manual runs.
type Dispatcher struct {
	logger    *slog.Logger
	engine    *Engine
	matcher   *Matcher
	workflows persistence.WorkflowRepository
	claims    persistence.TriggerClaimRepository
	opts      DispatcherOptions
}

func NewDispatcher(
	logger *slog.Logger,
	engine *Engine,
	matcher *Matcher,
	workflows persistence.WorkflowRepository,
	claims persistence.TriggerClaimRepository,
	opts DispatcherOptions,
) *Dispatcher {
	if opts.ManualWaitTimeout <= 0 {
		opts.ManualWaitTimeout = DefaultOptions().RunTimeout
	}

	return &Dispatcher{
		logger:    logger.With("module", "trigger_dispatcher"),
		engine:    engine,
		matcher:   matcher,
		workflows: workflows,
		claims:    claims,
		opts:      opts,
	}
}

// Dispatch starts every workflow of the site matching the event and returns
// without waiting for them. Execution records exist when Dispatch returns.
// A trigger identity seen within the dedup window starts nothing. When no
// execution record can be created the claim is released and ErrDispatchFailed
// is returned so the caller can retry.
func (d *Dispatcher) Dispatch(ctx context.Context, siteID string, triggerType models.TriggerType, payload map[string]any) ([]*Handle, error) {
	if siteID == "" {
		return nil, ErrSiteRequired
	}

	if !triggerType.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTriggerType, triggerType)
	}

	payload = maps.Clone(payload)
	if payload == nil {
		payload = map[string]any{}
	}

	logger := d.logger.With("site_id", siteID, "trigger_type", triggerType)

	workflows, err := d.matcher.Match(ctx, siteID, triggerType, payload)
	if err != nil {
		return nil, err
	}

	if len(workflows) == 0 {
		logger.DebugContext(ctx, "No workflow matched trigger")

		return nil, nil
	}

	key, fresh := d.claim(ctx, logger, siteID, triggerType, payload)
	if !fresh {
		return nil, nil
	}

	handles := make([]*Handle, 0, len(workflows))

	var prepareErr error

	for _, workflow := range workflows {
		h, err := d.engine.Prepare(ctx, workflow, triggerType, payload)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to prepare execution", "workflow_id", workflow.ID, "error", err)

			if prepareErr == nil {
				prepareErr = err
			}

			continue
		}

		handles = append(handles, h)
	}

	// Nothing was recorded: forget the trigger so a redelivery is not taken
	// for a duplicate.
	if len(handles) == 0 && prepareErr != nil {
		d.release(ctx, logger, key)

		return nil, fmt.Errorf("%w: %w", ErrDispatchFailed, prepareErr)
	}

	for _, h := range handles {
		d.engine.Start(ctx, h)
	}

	logger.InfoContext(ctx, "Trigger dispatched", "executions", len(handles))

	return handles, nil
}

// claim reports whether the trigger is new and returns the key it holds, if
// any. Claim store failures let the trigger through.
func (d *Dispatcher) claim(ctx context.Context, logger *slog.Logger, siteID string, triggerType models.TriggerType, payload map[string]any) (string, bool) {
	if d.claims == nil || d.opts.DedupWindow <= 0 {
		return "", true
	}

	key, ok := TriggerKey(siteID, triggerType, payload)
	if !ok {
		return "", true
	}

	claimed, err := d.claims.Claim(ctx, key, d.opts.DedupWindow)
	if err != nil {
		logger.WarnContext(ctx, "Trigger claim failed, dispatching without dedup", "key", key, "error", err)

		return "", true
	}

	if !claimed {
		logger.InfoContext(ctx, "Duplicate trigger ignored", "key", key)

		return "", false
	}

	return key, true
}

func (d *Dispatcher) release(ctx context.Context, logger *slog.Logger, key string) {
	if key == "" {
		return
	}

	err := d.claims.Release(context.WithoutCancel(ctx), key)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to release trigger claim", "key", key, "error", err)
	}
}

// RunManually runs a workflow regardless of its trigger, filter or active flag
// and waits for it up to the manual wait timeout. A run still in progress at
// that point keeps going and reports TimedOut.
func (d *Dispatcher) RunManually(ctx context.Context, workflowID string, payload map[string]any) (*ManualResult, error) {
	workflow, err := d.workflows.LoadWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	h, err := d.engine.Prepare(ctx, workflow, models.TriggerManual, maps.Clone(payload))
	if err != nil {
		return nil, err
	}

	d.engine.Start(ctx, h)

	timer := time.NewTimer(d.opts.ManualWaitTimeout)
	defer timer.Stop()

	select {
	case <-h.Done():
		summary := h.Result().Summary()

		return &ManualResult{
			ExecutionID: h.ExecutionID,
			Status:      summary.Status,
			Failure:     summary.Failure,
		}, nil
	case <-timer.C:
	case <-ctx.Done():
	}

	d.logger.InfoContext(ctx, "Manual run still in progress", "workflow_id", workflowID, "execution_id", h.ExecutionID)

	return &ManualResult{
		ExecutionID: h.ExecutionID,
		Status:      models.ExecutionStatusRunning,
		TimedOut:    true,
	}, nil
}

// TriggerKey returns the identity of one trigger occurrence: the site, the
// trigger type and the first complete natural key found in the payload.
func TriggerKey(siteID string, triggerType models.TriggerType, payload map[string]any) (string, bool) {
	candidates := append(triggerType.NaturalKeyFields(), []string{IdempotencyKeyField})

	for _, fields := range candidates {
		parts := make([]string, 0, len(fields))

		for _, field := range fields {
			value, ok := payload[field]
			if !ok || value == nil || value == "" {
				break
			}

			parts = append(parts, field+"="+fmt.Sprint(value))
		}

		if len(parts) == len(fields) {
			return siteID + ":" + string(triggerType) + ":" + strings.Join(parts, "&"), true
		}
	}

	return "", false
}
