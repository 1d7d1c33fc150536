package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/dukex/siteflow/pkg/models"
	"gopkg.in/yaml.v3"
)

var ErrInvalidDefinition = errors.New("invalid workflow definition")

// DefinitionsFile is the layout of a workflow seed file.
type DefinitionsFile struct {
	Workflows []WorkflowDefinition `yaml:"workflows"`
}

type WorkflowDefinition struct {
	ID            string                `yaml:"id"`
	SiteID        string                `yaml:"site_id"`
	Name          string                `yaml:"name"`
	Description   string                `yaml:"description"`
	TriggerType   models.TriggerType    `yaml:"trigger_type"`
	TriggerFilter *models.TriggerFilter `yaml:"trigger_filter"`
	Schedule      string                `yaml:"schedule"`
	Active        *bool                 `yaml:"active"`
	Steps         []StepDefinition      `yaml:"steps"`
}

type StepDefinition struct {
	ID              string            `yaml:"id"`
	Name            string            `yaml:"name"`
	ActionType      models.ActionType `yaml:"action_type"`
	ContinueOnError bool              `yaml:"continue_on_error"`
	Config          map[string]any    `yaml:"config"`
}

// LoadDefinitions reads workflow definitions from a YAML file.
func LoadDefinitions(path string) ([]*models.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions file %s: %w", path, err)
	}

	return ParseDefinitions(data)
}

// ParseDefinitions decodes YAML workflow definitions. Workflows are active
// unless they say otherwise and steps keep the order they are listed in.
func ParseDefinitions(data []byte) ([]*models.Workflow, error) {
	var file DefinitionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML definitions: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(file.Workflows))

	for i, def := range file.Workflows {
		if def.ID == "" || def.SiteID == "" {
			return nil, fmt.Errorf("%w: workflow %d needs id and site_id", ErrInvalidDefinition, i)
		}

		workflow := &models.Workflow{
			ID:            def.ID,
			SiteID:        def.SiteID,
			Name:          def.Name,
			Description:   def.Description,
			TriggerType:   def.TriggerType,
			TriggerFilter: def.TriggerFilter,
			Schedule:      def.Schedule,
			Active:        def.Active == nil || *def.Active,
			Steps:         make([]*models.Step, 0, len(def.Steps)),
		}

		for j, stepDef := range def.Steps {
			id := stepDef.ID
			if id == "" {
				id = fmt.Sprintf("%s-step-%d", def.ID, j)
			}

			workflow.Steps = append(workflow.Steps, &models.Step{
				ID:              id,
				Name:            stepDef.Name,
				ActionType:      stepDef.ActionType,
				Config:          stepDef.Config,
				ContinueOnError: stepDef.ContinueOnError,
			})
		}

		workflow.NormalizeStepOrder()
		workflows = append(workflows, workflow)
	}

	return workflows, nil
}
