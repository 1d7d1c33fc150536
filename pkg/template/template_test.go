package template_test

import (
	"math"
	"testing"

	"github.com/dukex/siteflow/pkg/models"
	"github.com/dukex/siteflow/pkg/template"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func emailSchema() *models.JSONSchema {
	return &models.JSONSchema{
		Type: "object",
		Properties: map[string]*models.Property{
			"to":      {Type: "string", Format: "email"},
			"subject": {Type: "string"},
			"body":    {Type: "string"},
			"count":   {Type: "integer"},
			"urgent":  {Type: "boolean"},
			"meta": {
				Type: "object",
				Properties: map[string]*models.Property{
					"order_id": {Type: "string"},
				},
				Required: []string{"order_id"},
			},
		},
		Required: []string{"to"},
	}
}

func TestResolve_TriggerEmailRoundTrip(t *testing.T) {
	t.Parallel()

	data := map[string]any{"trigger": map[string]any{"email": "a@b.com"}}

	resolved, err := template.Resolve(map[string]any{"to": "{{trigger.email}}"}, data, emailSchema())
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", resolved["to"])
}

func TestResolve(t *testing.T) {
	t.Parallel()

	data := map[string]any{
		"trigger": map[string]any{
			"email":    "x@y.com",
			"name":     "Ada",
			"quantity": "3",
			"vip":      "true",
			"items":    []any{map[string]any{"sku": "A-1"}},
			"address":  map[string]any{"city": "Lisbon"},
			"evil":     "{{trigger.email}}",
		},
		"steps": map[string]any{
			"create": map[string]any{"output": map[string]any{"record_id": "rec-9"}},
		},
	}

	tests := []struct {
		name     string
		config   map[string]any
		expected map[string]any
	}{
		{
			name:     "mixed string interpolation",
			config:   map[string]any{"subject": "Hello {{ trigger.name }}, order {{steps.create.output.record_id}}"},
			expected: map[string]any{"subject": "Hello Ada, order rec-9"},
		},
		{
			name:     "coerces to integer and boolean",
			config:   map[string]any{"count": "{{trigger.quantity}}", "urgent": "{{trigger.vip}}"},
			expected: map[string]any{"count": int64(3), "urgent": true},
		},
		{
			name:     "array index path",
			config:   map[string]any{"body": "sku={{trigger.items.0.sku}}"},
			expected: map[string]any{"body": "sku=A-1"},
		},
		{
			name:     "object value becomes JSON inside strings",
			config:   map[string]any{"body": "addr={{trigger.address}}"},
			expected: map[string]any{"body": `addr={"city":"Lisbon"}`},
		},
		{
			name:     "untyped field keeps native value",
			config:   map[string]any{"extra": "{{trigger.address}}"},
			expected: map[string]any{"extra": map[string]any{"city": "Lisbon"}},
		},
		{
			name:     "missing optional reference resolves empty",
			config:   map[string]any{"subject": "Hi {{trigger.unknown}}!", "body": "{{trigger.nope}}"},
			expected: map[string]any{"subject": "Hi !", "body": ""},
		},
		{
			name:     "substituted values are not expanded again",
			config:   map[string]any{"body": "{{trigger.evil}}"},
			expected: map[string]any{"body": "{{trigger.email}}"},
		},
		{
			name:     "literals pass through",
			config:   map[string]any{"subject": "static", "count": 2.0},
			expected: map[string]any{"subject": "static", "count": int64(2)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resolved, err := template.Resolve(tt.config, data, emailSchema())
			require.NoError(t, err)
			assert.Equal(t, tt.expected, resolved)
		})
	}
}

func TestResolve_RequiredFieldMissing(t *testing.T) {
	t.Parallel()

	data := map[string]any{"trigger": map[string]any{}}

	_, err := template.Resolve(map[string]any{"to": "{{trigger.email}}"}, data, emailSchema())
	require.ErrorIs(t, err, template.ErrMissingContextValue)

	var missing *template.MissingValueError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "to", missing.Field)
	assert.Equal(t, "trigger.email", missing.Reference)

	_, err = template.Resolve(map[string]any{"meta": map[string]any{"order_id": "#{{trigger.order}}"}}, data, emailSchema())
	require.ErrorIs(t, err, template.ErrMissingContextValue)
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "meta.order_id", missing.Field)
}

func TestResolve_CoercionFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		quantity any
	}{
		{name: "not a number", quantity: "many"},
		{name: "fraction", quantity: 2.5},
		{name: "above int64", quantity: 1e19},
		{name: "exactly 2^63", quantity: "9223372036854775808"},
		{name: "below int64", quantity: -1e19},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data := map[string]any{"trigger": map[string]any{"quantity": tt.quantity}}

			_, err := template.Resolve(map[string]any{"count": "{{trigger.quantity}}"}, data, emailSchema())
			require.ErrorIs(t, err, template.ErrCoercion)
		})
	}
}

func TestResolve_IntegerBounds(t *testing.T) {
	t.Parallel()

	data := map[string]any{"trigger": map[string]any{"big": int64(math.MaxInt64), "low": -9.2e18}}

	resolved, err := template.Resolve(map[string]any{"count": "{{trigger.big}}"}, data, emailSchema())
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), resolved["count"])

	resolved, err = template.Resolve(map[string]any{"count": "{{trigger.low}}"}, data, emailSchema())
	require.NoError(t, err)
	assert.Equal(t, int64(-9.2e18), resolved["count"])
}

func TestPlaceholderHelpers(t *testing.T) {
	t.Parallel()

	assert.True(t, template.IsPlaceholder("{{trigger.email}}"))
	assert.True(t, template.IsPlaceholder(" {{ trigger.email }} "))
	assert.False(t, template.IsPlaceholder("to: {{trigger.email}}"))
	assert.True(t, template.HasPlaceholder("to: {{trigger.email}}"))
	assert.False(t, template.HasPlaceholder("{{ }}"))
	assert.Equal(t, []string{"trigger.a", "steps.s.output.b"}, template.References("{{trigger.a}}-{{steps.s.output.b}}"))
}
