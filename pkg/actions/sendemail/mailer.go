package sendemail

import (
	"context"
	"fmt"

	"github.com/dukex/siteflow/pkg/eventbus"
	"github.com/dukex/siteflow/pkg/events"
)

// EventBusMailer publishes email requests on the emails topic for the delivery service.
type EventBusMailer struct {
	publisher eventbus.EventPublisher
}

func NewEventBusMailer(publisher eventbus.EventPublisher) *EventBusMailer {
	return &EventBusMailer{publisher: publisher}
}

// Send publishes the request and returns the event id as message id.
func (m *EventBusMailer) Send(ctx context.Context, email Email) (string, error) {
	event := events.EmailRequested{
		BaseEvent:   events.NewBaseEvent(events.EmailRequestedEvent, email.SiteID, email.WorkflowID),
		ExecutionID: email.ExecutionID,
		To:          email.To,
		From:        email.From,
		ReplyTo:     email.ReplyTo,
		Subject:     email.Subject,
		Body:        email.Body,
	}

	err := m.publisher.Publish(ctx, email.SiteID, event)
	if err != nil {
		return "", fmt.Errorf("failed to publish email request: %w", err)
	}

	return event.ID, nil
}
