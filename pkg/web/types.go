// Package web provides HTTP request and response types for the workflow API.
package web

import "github.com/dukex/siteflow/pkg/models"

// StepRequest describes one step of a workflow in create and update requests.
type StepRequest struct {
	ID              string            `json:"id,omitempty"`
	Name            string            `json:"name"                        validate:"required"`
	ActionType      models.ActionType `json:"action_type"                 validate:"required"`
	Config          map[string]any    `json:"config"`
	ContinueOnError bool              `json:"continue_on_error,omitempty"`
}

// CreateWorkflowRequest represents the request body for creating a new workflow.
// Steps run in the order they are listed.
type CreateWorkflowRequest struct {
	SiteID        string                `json:"site_id"                  validate:"required"`
	Name          string                `json:"name"                     validate:"required,min=3"`
	Description   string                `json:"description"`
	TriggerType   models.TriggerType    `json:"trigger_type"             validate:"required"`
	TriggerFilter *models.TriggerFilter `json:"trigger_filter,omitempty"`
	Schedule      string                `json:"schedule,omitempty"`
	Active        bool                  `json:"active"`
	Steps         []StepRequest         `json:"steps"                    validate:"dive"`
}

// UpdateWorkflowRequest represents the request body for updating an existing workflow.
// All fields are optional to support partial updates; a present steps list
// replaces every step.
type UpdateWorkflowRequest struct {
	Name          *string               `json:"name,omitempty"           validate:"omitempty,min=3"`
	Description   *string               `json:"description,omitempty"`
	TriggerType   *models.TriggerType   `json:"trigger_type,omitempty"`
	TriggerFilter *models.TriggerFilter `json:"trigger_filter,omitempty"`
	Schedule      *string               `json:"schedule,omitempty"`
	Active        *bool                 `json:"active,omitempty"`
	Steps         []StepRequest         `json:"steps,omitempty"          validate:"dive"`
}

// RunWorkflowRequest is the body of a "run now" request.
type RunWorkflowRequest struct {
	TriggerData map[string]any `json:"triggerData"`
}

// RunWorkflowResponse reports the outcome of a "run now" request.
type RunWorkflowResponse struct {
	Success     bool                   `json:"success"`
	ExecutionID string                 `json:"executionId"`
	Status      models.ExecutionStatus `json:"status"`
	TimedOut    bool                   `json:"timedOut,omitempty"`
	Failure     *models.ExecutionError `json:"failure,omitempty"`
}

// WorkflowResponse is a workflow definition with its latest executions, newest first.
type WorkflowResponse struct {
	*models.Workflow

	RecentExecutions []models.ExecutionSummary `json:"recent_executions"`
}

// DispatchEventRequest carries a platform event for a site.
type DispatchEventRequest struct {
	TriggerType models.TriggerType `json:"trigger_type" validate:"required"`
	Payload     map[string]any     `json:"payload"`
}

// DispatchEventResponse lists the executions started by an event.
type DispatchEventResponse struct {
	ExecutionIDs []string `json:"execution_ids"`
}

// ExecutionResponse is the operator view of an execution: its status and the
// first failing step.
type ExecutionResponse struct {
	*models.Execution

	FirstFailure *models.ExecutionError `json:"first_failure,omitempty"`
}

func toSteps(requests []StepRequest) []*models.Step {
	steps := make([]*models.Step, 0, len(requests))

	for _, req := range requests {
		steps = append(steps, &models.Step{
			ID:              req.ID,
			Name:            req.Name,
			ActionType:      req.ActionType,
			Config:          req.Config,
			ContinueOnError: req.ContinueOnError,
		})
	}

	return steps
}

func toExecutionResponse(execution *models.Execution) ExecutionResponse {
	return ExecutionResponse{
		Execution:    execution,
		FirstFailure: execution.Summary().Failure,
	}
}
