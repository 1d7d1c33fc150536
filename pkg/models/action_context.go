package models

// ActionContext is the in-memory data of one run: the trigger payload plus the
// outputs of the steps executed so far. It is owned by a single run and never shared.
type ActionContext struct {
	ExecutionID   string
	WorkflowID    string
	SiteID        string
	TriggerType   TriggerType
	Trigger       map[string]any
	Steps         map[string]map[string]any
	RemainingHops int
	Chain         []string
}

// NewActionContext creates the context for a run of workflow.
func NewActionContext(executionID string, workflow *Workflow, triggerType TriggerType, payload map[string]any, remainingHops int, chain []string) *ActionContext {
	if payload == nil {
		payload = map[string]any{}
	}

	fullChain := make([]string, 0, len(chain)+1)
	fullChain = append(fullChain, chain...)
	fullChain = append(fullChain, workflow.ID)

	return &ActionContext{
		ExecutionID:   executionID,
		WorkflowID:    workflow.ID,
		SiteID:        workflow.SiteID,
		TriggerType:   triggerType,
		Trigger:       payload,
		Steps:         map[string]map[string]any{},
		RemainingHops: remainingHops,
		Chain:         fullChain,
	}
}

// SetStepOutput stores the output of a step under its name.
func (c *ActionContext) SetStepOutput(stepName string, output map[string]any) {
	if output == nil {
		output = map[string]any{}
	}

	c.Steps[stepName] = output
}

// InChain reports whether workflowID already runs on this chain.
func (c *ActionContext) InChain(workflowID string) bool {
	for _, id := range c.Chain {
		if id == workflowID {
			return true
		}
	}

	return false
}

// TemplateData exposes the context to the template resolver.
func (c *ActionContext) TemplateData() map[string]any {
	steps := make(map[string]any, len(c.Steps))
	for name, output := range c.Steps {
		steps[name] = map[string]any{"output": output}
	}

	return map[string]any{
		"trigger":   c.Trigger,
		"steps":     steps,
		"execution": map[string]any{"id": c.ExecutionID, "trigger_type": string(c.TriggerType)},
		"workflow":  map[string]any{"id": c.WorkflowID},
		"site":      map[string]any{"id": c.SiteID},
	}
}
