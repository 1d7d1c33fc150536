package models

// ActionType identifies the concrete operation a step performs.
// The set is closed: step definitions naming anything else are rejected on save.
type ActionType string

const (
	ActionSendEmail    ActionType = "send_email"
	ActionCreateRecord ActionType = "create_record"
	ActionUpdateRecord ActionType = "update_record"
	ActionCallWebhook  ActionType = "call_webhook"
	ActionDelay        ActionType = "delay"
	ActionRunWorkflow  ActionType = "run_workflow"
)

// ActionTypes lists every action type in declaration order.
func ActionTypes() []ActionType {
	return []ActionType{
		ActionSendEmail,
		ActionCreateRecord,
		ActionUpdateRecord,
		ActionCallWebhook,
		ActionDelay,
		ActionRunWorkflow,
	}
}

func (a ActionType) IsValid() bool {
	for _, known := range ActionTypes() {
		if a == known {
			return true
		}
	}

	return false
}

// RegisteredAction describes an action available in the registry.
type RegisteredAction struct {
	Type        ActionType  `json:"type"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Schema      *JSONSchema `json:"schema"`
}
