package config_test

import (
	"testing"
	"time"

	"github.com/dukex/siteflow/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Engine)
		wantErr bool
	}{
		{
			name:   "defaults",
			mutate: func(*config.Engine) {},
		},
		{
			name:   "dedup and retention disabled",
			mutate: func(e *config.Engine) { e.DedupWindow = 0; e.ExecutionRetention = 0 },
		},
		{
			name:    "zero run timeout",
			mutate:  func(e *config.Engine) { e.RunTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "step timeout above run timeout",
			mutate:  func(e *config.Engine) { e.StepTimeout = e.RunTimeout + time.Second },
			wantErr: true,
		},
		{
			name:    "no steps allowed",
			mutate:  func(e *config.Engine) { e.MaxSteps = 0 },
			wantErr: true,
		},
		{
			name:    "negative hops",
			mutate:  func(e *config.Engine) { e.MaxHops = -1 },
			wantErr: true,
		},
		{
			name:    "negative dedup window",
			mutate:  func(e *config.Engine) { e.DedupWindow = -time.Second },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			engine := config.DefaultEngine()
			tt.mutate(&engine)

			err := engine.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestEngine_Options(t *testing.T) {
	t.Parallel()

	engine := config.DefaultEngine()
	engine.MaxSteps = 7
	engine.DedupWindow = time.Minute
	engine.ManualWaitTimeout = 3 * time.Second

	opts := engine.Options()
	assert.Equal(t, 7, opts.MaxSteps)
	assert.Equal(t, engine.RunTimeout, opts.RunTimeout)
	assert.Equal(t, engine.PersistRetryDelay, opts.PersistRetryDelay)

	dispatcherOpts := engine.DispatcherOptions()
	assert.Equal(t, time.Minute, dispatcherOpts.DedupWindow)
	assert.Equal(t, 3*time.Second, dispatcherOpts.ManualWaitTimeout)
}
