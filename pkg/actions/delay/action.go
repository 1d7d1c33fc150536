// Package delay provides the delay action, a context-aware pause between steps.
package delay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/siteflow/pkg/models"
	"github.com/dukex/siteflow/pkg/protocol"
)

// MaxDelay bounds a single pause. The run budget usually cuts it shorter.
const MaxDelay = 24 * time.Hour

type Config struct {
	Duration string `json:"duration" validate:"required_without=Seconds"`
	Seconds  int    `json:"seconds"  validate:"required_without=Duration,min=0,max=86400"`
}

func (c Config) wait() (time.Duration, error) {
	if c.Duration == "" {
		return time.Duration(c.Seconds) * time.Second, nil
	}

	wait, err := time.ParseDuration(c.Duration)
	if err != nil {
		return 0, fmt.Errorf("%w: duration: %w", protocol.ErrInvalidConfig, err)
	}

	if wait < 0 || wait > MaxDelay {
		return 0, fmt.Errorf("%w: duration %s out of range", protocol.ErrInvalidConfig, wait)
	}

	return wait, nil
}

type Action struct{}

func NewAction() *Action {
	return &Action{}
}

func (a *Action) Execute(ctx context.Context, config map[string]any, _ *models.ActionContext, logger *slog.Logger) (map[string]any, error) {
	var cfg Config

	err := protocol.DecodeConfig(config, &cfg)
	if err != nil {
		return nil, err
	}

	wait, err := cfg.wait()
	if err != nil {
		return nil, err
	}

	logger.DebugContext(ctx, "Delaying", "wait", wait)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, fmt.Errorf("delay interrupted: %w", context.Cause(ctx))
	}

	return map[string]any{"delayed_ms": wait.Milliseconds()}, nil
}

type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() models.ActionType {
	return models.ActionDelay
}

func (*ActionFactory) Name() string {
	return "Delay"
}

func (*ActionFactory) Description() string {
	return "Waits before running the next step, e.g. \"30s\" or \"5m\"."
}

func (*ActionFactory) Action() protocol.Action {
	return NewAction()
}

func (*ActionFactory) Schema() *models.JSONSchema {
	return &models.JSONSchema{
		Type:  "object",
		Title: "Delay",
		Properties: map[string]*models.Property{
			"duration": {
				Type:        "string",
				Description: "Go duration such as 30s, 5m or 1h",
				Pattern:     `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`,
			},
			"seconds": {
				Type:    "integer",
				Minimum: models.Float(0),
				Maximum: models.Float(86400),
			},
		},
		AdditionalProperties: models.Bool(false),
	}
}
