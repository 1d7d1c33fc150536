package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/siteflow/pkg/config"
	"github.com/dukex/siteflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seed = `
workflows:
  - id: wf-welcome
    site_id: site-a
    name: Welcome email
    trigger_type: form_submit
    trigger_filter:
      match: all
      conditions:
        - field: form.id
          operator: equals
          value: contact
    steps:
      - name: welcome
        action_type: send_email
        config:
          to: "{{trigger.email}}"
          subject: Thanks
      - name: notify
        action_type: call_webhook
        continue_on_error: true
        config:
          url: https://hooks.example.com/contact
  - id: wf-nightly
    site_id: site-a
    name: Nightly sync
    trigger_type: schedule
    schedule: "0 3 * * *"
    active: false
`

func TestParseDefinitions(t *testing.T) {
	t.Parallel()

	workflows, err := config.ParseDefinitions([]byte(seed))
	require.NoError(t, err)
	require.Len(t, workflows, 2)

	welcome := workflows[0]
	assert.Equal(t, "site-a", welcome.SiteID)
	assert.Equal(t, models.TriggerFormSubmit, welcome.TriggerType)
	assert.True(t, welcome.Active)
	require.NotNil(t, welcome.TriggerFilter)
	assert.Equal(t, models.OperatorEquals, welcome.TriggerFilter.Conditions[0].Operator)

	require.Len(t, welcome.Steps, 2)
	assert.Equal(t, "wf-welcome-step-0", welcome.Steps[0].ID)
	assert.Equal(t, "wf-welcome", welcome.Steps[1].WorkflowID)
	assert.Equal(t, 1, welcome.Steps[1].OrderIndex)
	assert.True(t, welcome.Steps[1].ContinueOnError)
	assert.Equal(t, "{{trigger.email}}", welcome.Steps[0].Config["to"])
	require.NoError(t, welcome.ValidateSteps())

	nightly := workflows[1]
	assert.False(t, nightly.Active)
	assert.Equal(t, "0 3 * * *", nightly.Schedule)
	assert.Empty(t, nightly.Steps)
}

func TestParseDefinitions_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
	}{
		{name: "malformed yaml", data: "workflows: [::"},
		{name: "missing site", data: "workflows:\n  - id: wf-1\n    name: x\n"},
		{name: "missing id", data: "workflows:\n  - site_id: site-a\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := config.ParseDefinitions([]byte(tt.data))
			require.Error(t, err)
		})
	}
}

func TestLoadDefinitions(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "workflows.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o600))

	workflows, err := config.LoadDefinitions(path)
	require.NoError(t, err)
	assert.Len(t, workflows, 2)

	_, err = config.LoadDefinitions(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
