package sendemail

import (
	"github.com/dukex/siteflow/pkg/models"
	"github.com/dukex/siteflow/pkg/protocol"
)

// ActionFactory describes the send_email action.
type ActionFactory struct {
	mailer Mailer
}

func NewActionFactory(mailer Mailer) *ActionFactory {
	return &ActionFactory{mailer: mailer}
}

func (*ActionFactory) ID() models.ActionType {
	return models.ActionSendEmail
}

func (*ActionFactory) Name() string {
	return "Send Email"
}

func (*ActionFactory) Description() string {
	return "Sends an email. Fields support templating, e.g. {{trigger.email}}."
}

func (f *ActionFactory) Action() protocol.Action {
	return NewAction(f.mailer)
}

func (*ActionFactory) Schema() *models.JSONSchema {
	return &models.JSONSchema{
		Type:  "object",
		Title: "Send Email",
		Properties: map[string]*models.Property{
			"to": {
				Type:        "string",
				Format:      "email",
				Description: "Recipient address",
			},
			"from": {
				Type:        "string",
				Format:      "email",
				Description: "Sender address. Defaults to the site sender.",
			},
			"reply_to": {
				Type:   "string",
				Format: "email",
			},
			"subject": {
				Type:      "string",
				MinLength: models.Int(1),
				MaxLength: models.Int(998),
			},
			"body": {
				Type:        "string",
				Description: "Plain text body",
			},
		},
		Required:             []string{"to", "subject"},
		AdditionalProperties: models.Bool(false),
	}
}
