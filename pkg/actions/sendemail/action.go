// Package sendemail provides the send_email action. Delivery itself belongs to an
// external collaborator reached through the Mailer interface.
package sendemail

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/siteflow/pkg/models"
	"github.com/dukex/siteflow/pkg/protocol"
)

// Email is a fully resolved message handed to the Mailer.
type Email struct {
	SiteID      string
	WorkflowID  string
	ExecutionID string
	To          string
	From        string
	ReplyTo     string
	Subject     string
	Body        string
}

// Mailer accepts an email for delivery and returns its message id.
type Mailer interface {
	Send(ctx context.Context, email Email) (string, error)
}

// Config is the step configuration of send_email.
type Config struct {
	To      string `json:"to"       validate:"required,email"`
	From    string `json:"from"     validate:"omitempty,email"`
	ReplyTo string `json:"reply_to" validate:"omitempty,email"`
	Subject string `json:"subject"  validate:"required,max=998"`
	Body    string `json:"body"`
}

// Action hands a rendered email to the Mailer.
type Action struct {
	mailer Mailer
}

func NewAction(mailer Mailer) *Action {
	return &Action{mailer: mailer}
}

func (a *Action) Execute(ctx context.Context, config map[string]any, actionCtx *models.ActionContext, logger *slog.Logger) (map[string]any, error) {
	var cfg Config

	err := protocol.DecodeConfig(config, &cfg)
	if err != nil {
		return nil, err
	}

	logger = logger.With("action_type", models.ActionSendEmail)
	logger.DebugContext(ctx, "Sending email", "to", cfg.To)

	messageID, err := a.mailer.Send(ctx, Email{
		SiteID:      actionCtx.SiteID,
		WorkflowID:  actionCtx.WorkflowID,
		ExecutionID: actionCtx.ExecutionID,
		To:          cfg.To,
		From:        cfg.From,
		ReplyTo:     cfg.ReplyTo,
		Subject:     cfg.Subject,
		Body:        cfg.Body,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send email to %s: %w", cfg.To, err)
	}

	logger.InfoContext(ctx, "Email accepted for delivery", "message_id", messageID)

	return map[string]any{
		"message_id": messageID,
		"to":         cfg.To,
		"subject":    cfg.Subject,
	}, nil
}
