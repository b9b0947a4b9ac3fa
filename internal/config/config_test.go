package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestDecodeOverlaysDefaults(t *testing.T) {
	cfg, err := Decode(strings.NewReader(`
run:
  seed: 42
  wall_clock_budget: 30s
  log_format: json
kinematics:
  max_accel: 0.2
decision:
  red_run_prob: 0
`))
	require.NoError(t, err)

	assert.Equal(t, uint64(42), cfg.Run.Seed)
	assert.Equal(t, 30*time.Second, cfg.Run.WallClockBudget)
	assert.Equal(t, "json", cfg.Run.LogFormat)
	assert.Equal(t, 0.2, cfg.Kinematics.MaxAccel)
	assert.Zero(t, cfg.Decision.RedRunProb)

	def := Default()
	assert.Equal(t, def.Run.MaxTicks, cfg.Run.MaxTicks)
	assert.Equal(t, def.Kinematics.MaxBrake, cfg.Kinematics.MaxBrake)
	assert.Equal(t, def.Hazard, cfg.Hazard)
}

func TestDecodeEmptyInputGivesDefaults(t *testing.T) {
	cfg, err := Decode(strings.NewReader("  \n"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	_, err := Decode(strings.NewReader("run:\n  sede: 3\n"))
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestValidateNamesTheField(t *testing.T) {
	tests := []struct {
		field  string
		mutate func(*Config)
	}{
		{"run.max_ticks", func(c *Config) { c.Run.MaxTicks = 0 }},
		{"run.completion_fraction", func(c *Config) { c.Run.CompletionFraction = 1.5 }},
		{"run.log_format", func(c *Config) { c.Run.LogFormat = "xml" }},
		{"run.trace_every", func(c *Config) { c.Run.TraceEvery = -1 }},
		{"kinematics.avg_brake", func(c *Config) { c.Kinematics.AvgBrake = 2 * c.Kinematics.MaxBrake }},
		{"kinematics.margin", func(c *Config) { c.Kinematics.Margin = 0.5 }},
		{"decision.turn_speed", func(c *Config) { c.Decision.TurnSpeed = 0 }},
		{"route.leave_prob", func(c *Config) { c.Route.LeaveProb = -0.1 }},
		{"hazard.aegl3", func(c *Config) { c.Hazard.AEGL3 = c.Hazard.AEGL2 - 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestDecodeValidates(t *testing.T) {
	_, err := Decode(strings.NewReader("hazard:\n  update_interval: 0\n"))
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "hazard.update_interval", ce.Field)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(t.TempDir() + "/missing.yaml")
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}
