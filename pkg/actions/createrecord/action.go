// Package createrecord provides the create_record action.
package createrecord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/siteflow/pkg/models"
	"github.com/dukex/siteflow/pkg/persistence"
	"github.com/dukex/siteflow/pkg/protocol"
)

type Config struct {
	Collection string         `json:"collection" validate:"required,max=255,excludesall=/\\"`
	Fields     map[string]any `json:"fields"     validate:"required"`
}

// Action creates a record in a collection of the running site.
type Action struct {
	records persistence.RecordRepository
}

func NewAction(records persistence.RecordRepository) *Action {
	return &Action{records: records}
}

func (a *Action) Execute(ctx context.Context, config map[string]any, actionCtx *models.ActionContext, logger *slog.Logger) (map[string]any, error) {
	var cfg Config

	err := protocol.DecodeConfig(config, &cfg)
	if err != nil {
		return nil, err
	}

	record, err := a.records.CreateRecord(ctx, actionCtx.SiteID, cfg.Collection, cfg.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to create record: %w", err)
	}

	logger.InfoContext(ctx, "Record created", "collection", cfg.Collection, "record_id", record.ID)

	return map[string]any{
		"record_id":  record.ID,
		"collection": record.Collection,
		"fields":     record.Fields,
	}, nil
}

type ActionFactory struct {
	records persistence.RecordRepository
}

func NewActionFactory(records persistence.RecordRepository) *ActionFactory {
	return &ActionFactory{records: records}
}

func (*ActionFactory) ID() models.ActionType {
	return models.ActionCreateRecord
}

func (*ActionFactory) Name() string {
	return "Create Record"
}

func (*ActionFactory) Description() string {
	return "Creates a record in a site collection."
}

func (f *ActionFactory) Action() protocol.Action {
	return NewAction(f.records)
}

func (*ActionFactory) Schema() *models.JSONSchema {
	return &models.JSONSchema{
		Type:  "object",
		Title: "Create Record",
		Properties: map[string]*models.Property{
			"collection": {
				Type:        "string",
				Description: "Target collection",
				MinLength:   models.Int(1),
				MaxLength:   models.Int(255),
			},
			"fields": {
				Type:        "object",
				Description: "Field values. Each value supports templating.",
			},
		},
		Required:             []string{"collection", "fields"},
		AdditionalProperties: models.Bool(false),
	}
}
