// Package models defines the core domain models for per-site workflow automation.
package models

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ContinueOnErrorKey is the step config key that opts a step into error tolerance.
const ContinueOnErrorKey = "continueOnError"

var (
	ErrDuplicateStepName = errors.New("duplicate step name")
	ErrInvalidStepOrder  = errors.New("step order indices must be a dense 0..n-1 sequence")
)

// Workflow is an automation owned by a site: a trigger plus an ordered list of steps.
type Workflow struct {
	ID            string         `json:"id"`
	SiteID        string         `json:"site_id"                  validate:"required"`
	Name          string         `json:"name"                     validate:"required,min=3"`
	Description   string         `json:"description"`
	TriggerType   TriggerType    `json:"trigger_type"             validate:"required"`
	TriggerFilter *TriggerFilter `json:"trigger_filter,omitempty"`
	Schedule      string         `json:"schedule,omitempty"`
	Active        bool           `json:"active"`
	Steps         []*Step        `json:"steps"                    validate:"dive"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Step is one typed action in a workflow.
type Step struct {
	ID              string         `json:"id"`
	WorkflowID      string         `json:"workflow_id"`
	Name            string         `json:"name"                        validate:"required"`
	ActionType      ActionType     `json:"action_type"                 validate:"required"`
	Config          map[string]any `json:"config"`
	OrderIndex      int            `json:"order_index"`
	ContinueOnError bool           `json:"continue_on_error,omitempty"`
}

// ToleratesErrors reports whether a failure of this step lets the run proceed.
func (s *Step) ToleratesErrors() bool {
	if s.ContinueOnError {
		return true
	}

	flag, ok := s.Config[ContinueOnErrorKey].(bool)

	return ok && flag
}

// ActionConfig returns the step config without engine-level keys.
func (s *Step) ActionConfig() map[string]any {
	config := make(map[string]any, len(s.Config))

	for key, value := range s.Config {
		if key == ContinueOnErrorKey {
			continue
		}

		config[key] = value
	}

	return config
}

// SortSteps orders steps by their order index.
func SortSteps(steps []*Step) {
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].OrderIndex < steps[j].OrderIndex
	})
}

// NormalizeStepOrder rewrites order indices so that they follow the slice order as 0..n-1
// and stamps the owning workflow id on every step.
func (w *Workflow) NormalizeStepOrder() {
	for i, step := range w.Steps {
		step.OrderIndex = i
		step.WorkflowID = w.ID
	}
}

// ValidateSteps checks step order density and step name uniqueness.
func (w *Workflow) ValidateSteps() error {
	seen := make(map[string]struct{}, len(w.Steps))

	for i, step := range w.Steps {
		if step.OrderIndex != i {
			return fmt.Errorf("%w: step %q has index %d at position %d", ErrInvalidStepOrder, step.Name, step.OrderIndex, i)
		}

		if _, ok := seen[step.Name]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateStepName, step.Name)
		}

		seen[step.Name] = struct{}{}
	}

	return nil
}
