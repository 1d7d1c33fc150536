package models

import (
	"errors"
	"time"
)

// ExecutionStatus is the state of one workflow run.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// ErrInvalidTransition is returned when a status change would move an execution backwards.
var ErrInvalidTransition = errors.New("invalid execution status transition")

// IsFinal reports whether the status can no longer change.
func (s ExecutionStatus) IsFinal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// CanTransitionTo reports whether moving from s to next keeps the status monotonic.
// A pending run may fail directly (cancelled or rejected before its first step).
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	switch s {
	case ExecutionStatusPending:
		return next == ExecutionStatusRunning || next == ExecutionStatusFailed
	case ExecutionStatusRunning:
		return next == ExecutionStatusCompleted || next == ExecutionStatusFailed
	default:
		return false
	}
}

// StepStatus is the outcome of one step.
type StepStatus string

const (
	StepStatusSuccess StepStatus = "success"
	StepStatusFailed  StepStatus = "failed"
)

// ErrorKind is the stable classification of an execution or step failure.
type ErrorKind string

const (
	ErrorKindConfig            ErrorKind = "config_error"
	ErrorKindContext           ErrorKind = "context_error"
	ErrorKindHandler           ErrorKind = "handler_error"
	ErrorKindTimeout           ErrorKind = "timeout"
	ErrorKindCancelled         ErrorKind = "cancelled"
	ErrorKindStepLimitExceeded ErrorKind = "step_limit_exceeded"
	ErrorKindHopLimitExceeded  ErrorKind = "hop_limit_exceeded"
	ErrorKindReentrancy        ErrorKind = "reentrancy_refused"
	ErrorKindPersistence       ErrorKind = "persistence_error"
)

// Tolerable reports whether a step flagged continueOnError may absorb this failure.
func (k ErrorKind) Tolerable() bool {
	switch k {
	case ErrorKindConfig, ErrorKindContext, ErrorKindHandler, ErrorKindTimeout:
		return true
	default:
		return false
	}
}

// ExecutionError is the user visible reason of a failure: a stable kind and a message.
type ExecutionError struct {
	Kind     ErrorKind `json:"kind"`
	Message  string    `json:"message"`
	StepID   string    `json:"step_id,omitempty"`
	StepName string    `json:"step_name,omitempty"`
}

func (e *ExecutionError) Error() string {
	if e.StepName != "" {
		return string(e.Kind) + " in step " + e.StepName + ": " + e.Message
	}

	return string(e.Kind) + ": " + e.Message
}

// StepResult records the outcome of one step of an execution.
type StepResult struct {
	StepID     string          `json:"step_id"`
	StepName   string          `json:"step_name"`
	Status     StepStatus      `json:"status"`
	Output     map[string]any  `json:"output,omitempty"`
	Error      *ExecutionError `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	DurationMs int64           `json:"duration_ms"`
}

// Execution is the audit record of one workflow run.
type Execution struct {
	ID             string          `json:"id"`
	WorkflowID     string          `json:"workflow_id"`
	TriggerType    TriggerType     `json:"trigger_type"`
	TriggerPayload map[string]any  `json:"trigger_payload"`
	Status         ExecutionStatus `json:"status"`
	Failure        *ExecutionError `json:"failure,omitempty"`
	StepResults    []StepResult    `json:"step_results"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// FirstFailure returns the first failed step result, if any.
func (e *Execution) FirstFailure() *StepResult {
	for i := range e.StepResults {
		if e.StepResults[i].Status == StepStatusFailed {
			return &e.StepResults[i]
		}
	}

	return nil
}

// ExecutionSummary is the compact view of an execution shown next to a workflow.
type ExecutionSummary struct {
	ID          string          `json:"id"`
	TriggerType TriggerType     `json:"trigger_type"`
	Status      ExecutionStatus `json:"status"`
	Failure     *ExecutionError `json:"failure,omitempty"`
	StepCount   int             `json:"step_count"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Summary builds the compact view of the execution.
func (e *Execution) Summary() ExecutionSummary {
	failure := e.Failure
	if failure == nil {
		if step := e.FirstFailure(); step != nil {
			failure = step.Error
		}
	}

	return ExecutionSummary{
		ID:          e.ID,
		TriggerType: e.TriggerType,
		Status:      e.Status,
		Failure:     failure,
		StepCount:   len(e.StepResults),
		CreatedAt:   e.CreatedAt,
		StartedAt:   e.StartedAt,
		CompletedAt: e.CompletedAt,
	}
}
