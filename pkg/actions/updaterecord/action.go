// Package updaterecord provides the update_record action.
package updaterecord

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
	RecordID   string         `json:"record_id"  validate:"required"`
	Fields     map[string]any `json:"fields"     validate:"required"`
}

// Action merges fields into an existing record of the running site.
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

	record, err := a.records.UpdateRecord(ctx, actionCtx.SiteID, cfg.Collection, cfg.RecordID, cfg.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to update record %s: %w", cfg.RecordID, err)
	}

	logger.InfoContext(ctx, "Record updated", "collection", cfg.Collection, "record_id", record.ID)

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
	return models.ActionUpdateRecord
}

func (*ActionFactory) Name() string {
	return "Update Record"
}

func (*ActionFactory) Description() string {
	return "Merges field values into an existing record."
}

func (f *ActionFactory) Action() protocol.Action {
	return NewAction(f.records)
}

func (*ActionFactory) Schema() *models.JSONSchema {
	return &models.JSONSchema{
		Type:  "object",
		Title: "Update Record",
		Properties: map[string]*models.Property{
			"collection": {
				Type:      "string",
				MinLength: models.Int(1),
				MaxLength: models.Int(255),
			},
			"record_id": {
				Type:        "string",
				Description: "Id of the record, usually {{trigger.record_id}} or a previous step output",
			},
			"fields": {
				Type: "object",
			},
		},
		Required:             []string{"collection", "record_id", "fields"},
		AdditionalProperties: models.Bool(false),
	}
}
