// Package protocol defines the contract between the engine and action handlers.
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/siteflow/pkg/models"
	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig marks handler failures caused by the step configuration rather
// than by the side effect itself.
var ErrInvalidConfig = errors.New("invalid action configuration")

// Action executes one step with an already resolved configuration.
// Side effects happen inside Execute; the returned map becomes the step output.
type Action interface {
	Execute(ctx context.Context, config map[string]any, actionCtx *models.ActionContext, logger *slog.Logger) (map[string]any, error)
}

// ActionFactory describes a built-in action: its identity, its handler and its config schema.
type ActionFactory interface {
	ID() models.ActionType
	Name() string
	Description() string
	Schema() *models.JSONSchema
	Action() Action
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeConfig converts a resolved config map into the typed config of an action
// and validates its struct tags.
func DecodeConfig(config map[string]any, target any) error {
	raw, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	err = json.Unmarshal(raw, target)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	err = validate.Struct(target)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return nil
}
