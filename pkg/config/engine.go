// Package config holds the engine limits and the workflow seed definitions.
package config

import (
	"fmt"
	"time"

	"github.com/dukex/siteflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
)

// Engine holds the limits applied to every execution and trigger.
type Engine struct {
	RunTimeout        time.Duration `validate:"gt=0s"`
	StepTimeout       time.Duration `validate:"gt=0s,ltefield=RunTimeout"`
	MaxSteps          int           `validate:"gt=0"`
	MaxHops           int           `validate:"gte=0"`
	PersistRetries    int           `validate:"gte=0,lte=10"`
	PersistRetryDelay time.Duration `validate:"gte=0s"`

	// DedupWindow of zero disables trigger deduplication.
	DedupWindow       time.Duration `validate:"gte=0s"`
	ManualWaitTimeout time.Duration `validate:"gt=0s"`
	// ExecutionRetention of zero keeps finished executions forever.
	ExecutionRetention time.Duration `validate:"gte=0s"`
}

// DefaultEngine returns the limits used when no flag overrides them.
func DefaultEngine() Engine {
	opts := workflow.DefaultOptions()

	return Engine{
		RunTimeout:         opts.RunTimeout,
		StepTimeout:        opts.StepTimeout,
		MaxSteps:           opts.MaxSteps,
		MaxHops:            opts.MaxHops,
		PersistRetries:     opts.PersistRetries,
		PersistRetryDelay:  opts.PersistRetryDelay,
		DedupWindow:        10 * time.Minute,
		ManualWaitTimeout:  opts.RunTimeout,
		ExecutionRetention: 0,
	}
}

// Validate checks the limits for consistency.
func (e Engine) Validate() error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(e)
	if err != nil {
		return fmt.Errorf("invalid engine configuration: %w", err)
	}

	return nil
}

func (e Engine) Options() workflow.Options {
	return workflow.Options{
		RunTimeout:        e.RunTimeout,
		StepTimeout:       e.StepTimeout,
		MaxSteps:          e.MaxSteps,
		MaxHops:           e.MaxHops,
		PersistRetries:    e.PersistRetries,
		PersistRetryDelay: e.PersistRetryDelay,
	}
}

func (e Engine) DispatcherOptions() workflow.DispatcherOptions {
	return workflow.DispatcherOptions{
		DedupWindow:       e.DedupWindow,
		ManualWaitTimeout: e.ManualWaitTimeout,
	}
}
