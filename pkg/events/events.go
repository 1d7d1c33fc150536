// Package events defines the messages exchanged over the event bus: incoming platform
// triggers, execution lifecycle notifications and email requests.
package events

import (
	"errors"
	"time"

	"github.com/dukex/siteflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Kafka topics.
const (
	TriggersTopic   = "siteflow.triggers"
	ExecutionsTopic = "siteflow.executions"
	EmailsTopic     = "siteflow.emails"
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	TriggerReceivedEvent EventType = "trigger.received"

	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"

	EmailRequestedEvent EventType = "email.requested"
)

var ErrInvalidEvent = errors.New("invalid event")

// TopicFor returns the topic an event type travels on.
func TopicFor(eventType EventType) string {
	switch eventType {
	case TriggerReceivedEvent:
		return TriggersTopic
	case EmailRequestedEvent:
		return EmailsTopic
	default:
		return ExecutionsTopic
	}
}

type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	SiteID     string    `json:"site_id"`
	WorkflowID string    `json:"workflow_id,omitempty"`
}

func NewBaseEvent(eventType EventType, siteID, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		SiteID:     siteID,
		WorkflowID: workflowID,
	}
}

// TriggerReceived carries a platform event into the dispatcher.
type TriggerReceived struct {
	BaseEvent

	TriggerType models.TriggerType `json:"trigger_type"`
	Payload     map[string]any     `json:"payload"`
}

func (TriggerReceived) GetType() EventType {
	return TriggerReceivedEvent
}

func (t *TriggerReceived) Validate() error {
	if t.SiteID == "" {
		return errors.Join(ErrInvalidEvent, errors.New("site_id is required"))
	}

	if !t.TriggerType.IsValid() {
		return errors.Join(ErrInvalidEvent, errors.New("unknown trigger_type "+string(t.TriggerType)))
	}

	return nil
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string             `json:"execution_id"`
	TriggerType models.TriggerType `json:"trigger_type"`
}

func (ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	StepCount   int           `json:"step_count"`
	Duration    time.Duration `json:"duration"`
}

func (ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID string                 `json:"execution_id"`
	Failure     *models.ExecutionError `json:"failure"`
	Duration    time.Duration          `json:"duration"`
}

func (ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

// EmailRequested asks the delivery service to send an email.
type EmailRequested struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	To          string `json:"to"`
	From        string `json:"from,omitempty"`
	ReplyTo     string `json:"reply_to,omitempty"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
}

func (EmailRequested) GetType() EventType {
	return EmailRequestedEvent
}
