// Package registry maps action types to their handlers and configuration schemas.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/dukex/siteflow/pkg/models"
	"github.com/dukex/siteflow/pkg/protocol"
	"github.com/dukex/siteflow/pkg/template"
	"github.com/xeipuuv/gojsonschema"
)

var (
	ErrActionNotFound          = errors.New("action type not registered")
	ErrUnknownActionType       = errors.New("unknown action type")
	ErrActionAlreadyRegistered = errors.New("action type already registered")
	ErrInvalidSchema           = errors.New("invalid action schema")
	ErrInvalidActionConfig     = errors.New("invalid action configuration")
)

// ConfigValidationError lists the schema violations of a step configuration.
type ConfigValidationError struct {
	ActionType models.ActionType
	Details    []string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("invalid configuration for action %s: %s", e.ActionType, strings.Join(e.Details, "; "))
}

func (e *ConfigValidationError) Unwrap() error {
	return ErrInvalidActionConfig
}

type entry struct {
	handler     protocol.Action
	schema      *models.JSONSchema
	compiled    *gojsonschema.Schema
	name        string
	description string
}

// Registry is written once at process start and read concurrently by running executions.
type Registry struct {
	logger  *slog.Logger
	mu      sync.RWMutex
	actions map[models.ActionType]*entry
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:  log,
		actions: make(map[models.ActionType]*entry),
	}
}

// Register adds a handler and its config schema for actionType.
func (r *Registry) Register(actionType models.ActionType, handler protocol.Action, schema *models.JSONSchema) error {
	return r.register(actionType, handler, schema, string(actionType), "")
}

// RegisterAction registers a built-in action described by its factory.
func (r *Registry) RegisterAction(factory protocol.ActionFactory) error {
	return r.register(factory.ID(), factory.Action(), factory.Schema(), factory.Name(), factory.Description())
}

func (r *Registry) register(actionType models.ActionType, handler protocol.Action, schema *models.JSONSchema, name, description string) error {
	if !actionType.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownActionType, actionType)
	}

	if handler == nil {
		return fmt.Errorf("action %s: nil handler", actionType)
	}

	if schema == nil {
		schema = &models.JSONSchema{Type: "object"}
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return fmt.Errorf("%w for %s: %w", ErrInvalidSchema, actionType, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actions[actionType]; exists {
		return fmt.Errorf("%w: %s", ErrActionAlreadyRegistered, actionType)
	}

	r.actions[actionType] = &entry{
		handler:     handler,
		schema:      schema,
		compiled:    compiled,
		name:        name,
		description: description,
	}

	r.logger.Debug("Registered action", "action_type", actionType)

	return nil
}

// Resolve returns the handler and schema registered for actionType.
func (r *Registry) Resolve(actionType models.ActionType) (protocol.Action, *models.JSONSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.actions[actionType]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrActionNotFound, actionType)
	}

	return e.handler, e.schema, nil
}

// ValidateConfig checks a raw step configuration against the action schema.
// Placeholders stand in for values of the declared type, since they only resolve at run time.
func (r *Registry) ValidateConfig(actionType models.ActionType, config map[string]any) error {
	if !actionType.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownActionType, actionType)
	}

	r.mu.RLock()
	e, ok := r.actions[actionType]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrActionNotFound, actionType)
	}

	if config == nil {
		config = map[string]any{}
	}

	document := withPlaceholderSamples(config, e.schema.Root())

	result, err := e.compiled.Validate(gojsonschema.NewGoLoader(document))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidActionConfig, err)
	}

	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, resultErr := range result.Errors() {
		details = append(details, resultErr.String())
	}

	return &ConfigValidationError{ActionType: actionType, Details: details}
}

// Actions lists registered actions sorted by type.
func (r *Registry) Actions() []models.RegisteredAction {
	r.mu.RLock()
	defer r.mu.RUnlock()

	actions := make([]models.RegisteredAction, 0, len(r.actions))
	for actionType, e := range r.actions {
		actions = append(actions, models.RegisteredAction{
			Type:        actionType,
			Name:        e.name,
			Description: e.description,
			Schema:      e.schema,
		})
	}

	sort.Slice(actions, func(i, j int) bool {
		return actions[i].Type < actions[j].Type
	})

	return actions
}

func withPlaceholderSamples(value any, prop *models.Property) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = withPlaceholderSamples(item, prop.Child(key))
		}

		return out
	case []any:
		var itemProp *models.Property
		if prop != nil {
			itemProp = prop.Items
		}

		out := make([]any, len(v))
		for i, item := range v {
			out[i] = withPlaceholderSamples(item, itemProp)
		}

		return out
	case string:
		if prop == nil || !template.HasPlaceholder(v) {
			return v
		}

		return sampleFor(prop)
	default:
		return v
	}
}

func sampleFor(prop *models.Property) any {
	if len(prop.Enum) > 0 {
		return prop.Enum[0]
	}

	switch prop.Type {
	case "integer", "number":
		if prop.Minimum != nil {
			return *prop.Minimum
		}

		return 0
	case "boolean":
		return false
	case "object":
		return map[string]any{}
	case "array":
		return []any{}
	}

	switch prop.Format {
	case "email":
		return "placeholder@example.com"
	case "uri", "url":
		return "https://example.com/placeholder"
	}

	if prop.MinLength != nil && *prop.MinLength > 0 {
		return strings.Repeat("x", *prop.MinLength)
	}

	return "placeholder"
}

// HealthCheck reports whether every action type has a handler.
func (r *Registry) HealthCheck() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []string

	for _, actionType := range models.ActionTypes() {
		if _, ok := r.actions[actionType]; !ok {
			missing = append(missing, string(actionType))
		}
	}

	if len(missing) > 0 {
		return "Actions not registered: " + strings.Join(missing, ", "), false
	}

	return "All actions registered", true
}
