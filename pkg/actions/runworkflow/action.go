// Package runworkflow provides the run_workflow action, which runs another workflow of
// the same site inline as a chained hop.
package runworkflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/siteflow/pkg/models"
	"github.com/dukex/siteflow/pkg/protocol"
)

// Invoker runs a workflow as a hop of the chain described by parent.
// Refusals are returned as *models.ExecutionError with kind reentrancy_refused
// or hop_limit_exceeded.
type Invoker interface {
	InvokeChained(ctx context.Context, parent *models.ActionContext, workflowID string, payload map[string]any) (*models.Execution, error)
}

type Config struct {
	WorkflowID string         `json:"workflow_id" validate:"required"`
	Payload    map[string]any `json:"payload"`
}

type Action struct {
	invoker Invoker
}

func NewAction(invoker Invoker) *Action {
	return &Action{invoker: invoker}
}

// Execute runs the target and fails when the chained execution fails.
// Without an explicit payload the target receives the current trigger payload.
func (a *Action) Execute(ctx context.Context, config map[string]any, actionCtx *models.ActionContext, logger *slog.Logger) (map[string]any, error) {
	var cfg Config

	err := protocol.DecodeConfig(config, &cfg)
	if err != nil {
		return nil, err
	}

	payload := cfg.Payload
	if payload == nil {
		payload = actionCtx.Trigger
	}

	logger.InfoContext(ctx, "Running chained workflow", "target_workflow_id", cfg.WorkflowID, "remaining_hops", actionCtx.RemainingHops)

	execution, err := a.invoker.InvokeChained(ctx, actionCtx, cfg.WorkflowID, payload)
	if err != nil {
		return nil, err
	}

	output := map[string]any{
		"execution_id": execution.ID,
		"workflow_id":  execution.WorkflowID,
		"status":       string(execution.Status),
	}

	if execution.Status == models.ExecutionStatusFailed {
		summary := execution.Summary()
		if summary.Failure != nil {
			return nil, fmt.Errorf("chained workflow %s failed: %s", cfg.WorkflowID, summary.Failure.Error())
		}

		return nil, fmt.Errorf("chained workflow %s failed", cfg.WorkflowID)
	}

	return output, nil
}

type ActionFactory struct {
	invoker Invoker
}

func NewActionFactory(invoker Invoker) *ActionFactory {
	return &ActionFactory{invoker: invoker}
}

func (*ActionFactory) ID() models.ActionType {
	return models.ActionRunWorkflow
}

func (*ActionFactory) Name() string {
	return "Run Workflow"
}

func (*ActionFactory) Description() string {
	return "Runs another workflow of the same site and waits for it to finish."
}

func (f *ActionFactory) Action() protocol.Action {
	return NewAction(f.invoker)
}

func (*ActionFactory) Schema() *models.JSONSchema {
	return &models.JSONSchema{
		Type:  "object",
		Title: "Run Workflow",
		Properties: map[string]*models.Property{
			"workflow_id": {
				Type:      "string",
				MinLength: models.Int(1),
			},
			"payload": {
				Type:        "object",
				Description: "Trigger payload of the chained run. Defaults to the current trigger payload.",
			},
		},
		Required:             []string{"workflow_id"},
		AdditionalProperties: models.Bool(false),
	}
}
