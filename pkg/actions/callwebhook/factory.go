package callwebhook

import (
	"net/http"

	"github.com/dukex/siteflow/pkg/models"
	"github.com/dukex/siteflow/pkg/protocol"
)

// ActionFactory describes the call_webhook action.
type ActionFactory struct {
	client *http.Client
}

// NewActionFactory creates the factory. client may be nil.
func NewActionFactory(client *http.Client) *ActionFactory {
	return &ActionFactory{client: client}
}

func (*ActionFactory) ID() models.ActionType {
	return models.ActionCallWebhook
}

func (*ActionFactory) Name() string {
	return "Call Webhook"
}

func (*ActionFactory) Description() string {
	return "Sends an HTTP request to an external URL and exposes the response as step output."
}

func (f *ActionFactory) Action() protocol.Action {
	return NewAction(f.client)
}

func (*ActionFactory) Schema() *models.JSONSchema {
	return &models.JSONSchema{
		Type:  "object",
		Title: "Call Webhook",
		Properties: map[string]*models.Property{
			"url": {
				Type:        "string",
				Format:      "uri",
				Description: "Endpoint URL. Supports templating.",
			},
			"method": {
				Type:    "string",
				Default: "POST",
				Enum:    []any{"GET", "POST", "PUT", "PATCH", "DELETE"},
			},
			"headers": {
				Type:                 "object",
				AdditionalProperties: &models.Property{Type: "string"},
			},
			"body": {
				Description: "Request body. Objects are sent as JSON.",
			},
			"timeout_seconds": {
				Type:    "integer",
				Minimum: models.Float(1),
				Maximum: models.Float(120),
			},
			"retry": {
				Type: "object",
				Properties: map[string]*models.Property{
					"attempts": {
						Type:        "integer",
						Description: "Retries after the first attempt on transport errors and 5xx",
						Minimum:     models.Float(0),
						Maximum:     models.Float(5),
					},
					"delay_ms": {
						Type:    "integer",
						Minimum: models.Float(100),
						Maximum: models.Float(30000),
					},
				},
			},
		},
		Required:             []string{"url"},
		AdditionalProperties: models.Bool(false),
	}
}
