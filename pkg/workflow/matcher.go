package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/siteflow/pkg/models"
	"github.com/dukex/siteflow/pkg/persistence"
)

// ScheduleWorkflowKey is the payload field naming the workflow a schedule tick belongs to.
const ScheduleWorkflowKey = "workflow_id"

// Matcher selects the active workflows of a site that an incoming event applies to.
type Matcher struct {
	workflows persistence.WorkflowRepository
	logger    *slog.Logger
}

func NewMatcher(logger *slog.Logger, workflows persistence.WorkflowRepository) *Matcher {
	return &Matcher{
		workflows: workflows,
		logger:    logger.With("module", "workflow_matcher"),
	}
}

// Match returns every candidate whose trigger and filter accept the event.
func (m *Matcher) Match(ctx context.Context, siteID string, triggerType models.TriggerType, payload map[string]any) ([]*models.Workflow, error) {
	candidates, err := m.workflows.LoadActiveWorkflows(ctx, siteID, triggerType)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflows of site %s: %w", siteID, err)
	}

	matched := make([]*models.Workflow, 0, len(candidates))

	for _, workflow := range candidates {
		if !Matches(workflow, siteID, triggerType, payload) {
			continue
		}

		matched = append(matched, workflow)
	}

	m.logger.DebugContext(ctx, "Matched workflows",
		"site_id", siteID,
		"trigger_type", triggerType,
		"candidates", len(candidates),
		"matched", len(matched))

	return matched, nil
}

// Matches reports whether workflow accepts an event. Inactive workflows never match.
// Schedule ticks only match the workflow they were fired for.
func Matches(workflow *models.Workflow, siteID string, triggerType models.TriggerType, payload map[string]any) bool {
	if workflow == nil || !workflow.Active {
		return false
	}

	if workflow.SiteID != siteID || workflow.TriggerType != triggerType {
		return false
	}

	if triggerType == models.TriggerSchedule {
		target, _ := payload[ScheduleWorkflowKey].(string)
		if target != workflow.ID {
			return false
		}
	}

	return workflow.TriggerFilter.Evaluate(payload)
}
