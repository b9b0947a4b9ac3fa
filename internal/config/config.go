// Package config holds the tunable parameters of an evacuation run and loads
// them from YAML on top of built-in defaults.
//
// Most decision thresholds are empirically tuned; they are kept here as named
// values rather than constants in the packages that use them.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigError reports missing or malformed setup data. It is always fatal
// before the first tick.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Errorf builds a ConfigError for field.
func Errorf(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Run holds run-level parameters.
type Run struct {
	Seed                uint64        `yaml:"seed" json:"seed"`
	MaxTicks            int           `yaml:"max_ticks" json:"max_ticks"`
	WallClockBudget     time.Duration `yaml:"wall_clock_budget" json:"wall_clock_budget"`
	CompletionFraction  float64       `yaml:"completion_fraction" json:"completion_fraction"`
	ShortWait           int           `yaml:"short_wait" json:"short_wait"` // ticks
	Accidents           bool          `yaml:"accidents" json:"accidents"`
	AlarmTick           int           `yaml:"alarm_tick" json:"alarm_tick"` // -1 = never
	DisabledRetireTicks int           `yaml:"disabled_retire_ticks" json:"disabled_retire_ticks"`
	OffMapRespawnTicks  int           `yaml:"off_map_respawn_ticks" json:"off_map_respawn_ticks"`
	GarageSpawnProb     float64       `yaml:"garage_spawn_prob" json:"garage_spawn_prob"`
	LogLevel            string        `yaml:"log_level" json:"log_level"`
	LogFormat           string        `yaml:"log_format" json:"log_format"` // text | json
	LogEvery            int           `yaml:"log_every" json:"log_every"`
	// TraceEvery records every on-grid vehicle every n ticks into the run
	// output. 0 disables the trace.
	TraceEvery          int           `yaml:"trace_every" json:"trace_every"`
}

// Kinematics holds vehicle motion limits. Units are cells and ticks.
type Kinematics struct {
	MaxAccel       float64 `yaml:"max_accel" json:"max_accel"`
	MaxBrake       float64 `yaml:"max_brake" json:"max_brake"`
	AvgBrake       float64 `yaml:"avg_brake" json:"avg_brake"`
	Margin         float64 `yaml:"margin" json:"margin"`
	InchSpeed      float64 `yaml:"inch_speed" json:"inch_speed"`
	InchLookahead  float64 `yaml:"inch_lookahead" json:"inch_lookahead"`
	Jitter         float64 `yaml:"jitter" json:"jitter"`
	UrgencyBonus   float64 `yaml:"urgency_bonus" json:"urgency_bonus"`
	LookaheadBound int     `yaml:"lookahead_bound" json:"lookahead_bound"`
}

// Signal holds network-wide signal parameters.
type Signal struct {
	AccelToCruiseDistance float64 `yaml:"accel_to_cruise_distance" json:"accel_to_cruise_distance"`
	GreenWave             bool    `yaml:"green_wave" json:"green_wave"`
}

// Decision holds thresholds for turning, lane changing and right-of-way.
type Decision struct {
	DecisionDistance   int     `yaml:"decision_distance" json:"decision_distance"`
	LeftQueueMax       int     `yaml:"left_queue_max" json:"left_queue_max"`
	BoxClearCells      int     `yaml:"box_clear_cells" json:"box_clear_cells"`
	OncomingBase       int     `yaml:"oncoming_base" json:"oncoming_base"`
	OncomingStep       int     `yaml:"oncoming_step" json:"oncoming_step"`
	RightOnRedLookback int     `yaml:"right_on_red_lookback" json:"right_on_red_lookback"`
	LaneChangeWait     int     `yaml:"lane_change_wait" json:"lane_change_wait"`
	LaneChangeCooldown int     `yaml:"lane_change_cooldown" json:"lane_change_cooldown"`
	OvertakeWait       int     `yaml:"overtake_wait" json:"overtake_wait"`
	OvertakeSpeedRatio float64 `yaml:"overtake_speed_ratio" json:"overtake_speed_ratio"`
	LeftBiasProb       float64 `yaml:"left_bias_prob" json:"left_bias_prob"`
	RightBiasProb      float64 `yaml:"right_bias_prob" json:"right_bias_prob"`
	PassHoldTicks      int     `yaml:"pass_hold_ticks" json:"pass_hold_ticks"`
	UTurnWait          int     `yaml:"uturn_wait" json:"uturn_wait"`
	TunnelVision       float64 `yaml:"tunnel_vision" json:"tunnel_vision"`
	MinRedWait         int     `yaml:"min_red_wait" json:"min_red_wait"`
	RedRunProb         float64 `yaml:"red_run_prob" json:"red_run_prob"`
	DeadlockWait       int     `yaml:"deadlock_wait" json:"deadlock_wait"`
	TurnSpeed          float64 `yaml:"turn_speed" json:"turn_speed"` // cells/tick through a turn
}

// Route holds goal selection and evacuation-direction parameters.
type Route struct {
	FlipThreshold      float64 `yaml:"flip_threshold" json:"flip_threshold"`
	FlipProb           float64 `yaml:"flip_prob" json:"flip_prob"`
	KnowledgeGain      float64 `yaml:"knowledge_gain" json:"knowledge_gain"`
	AwarenessSignGain  float64 `yaml:"awareness_sign_gain" json:"awareness_sign_gain"`
	AwarenessBroadcast float64 `yaml:"awareness_broadcast" json:"awareness_broadcast"`
	SignRadius         float64 `yaml:"sign_radius" json:"sign_radius"`
	CorridorDetour     bool    `yaml:"corridor_detour" json:"corridor_detour"`
	CorridorWeight     float64 `yaml:"corridor_weight" json:"corridor_weight"`
	LeaveProb          float64 `yaml:"leave_prob" json:"leave_prob"` // chance a reached local goal is followed by leaving
}

// Hazard holds exposure thresholds.
type Hazard struct {
	AEGL2          float64 `yaml:"aegl2" json:"aegl2"`
	AEGL3          float64 `yaml:"aegl3" json:"aegl3"`
	UpdateInterval int     `yaml:"update_interval" json:"update_interval"` // ticks per field frame
	UrgencyGain    float64 `yaml:"urgency_gain" json:"urgency_gain"`
}

// Config is the complete parameter set for a run.
type Config struct {
	Run        Run        `yaml:"run" json:"run"`
	Kinematics Kinematics `yaml:"kinematics" json:"kinematics"`
	Signal     Signal     `yaml:"signal" json:"signal"`
	Decision   Decision   `yaml:"decision" json:"decision"`
	Route      Route      `yaml:"route" json:"route"`
	Hazard     Hazard     `yaml:"hazard" json:"hazard"`
}

// Default returns the baseline parameter set.
func Default() Config {
	return Config{
		Run: Run{
			Seed:                1,
			MaxTicks:            20000,
			CompletionFraction:  0.95,
			ShortWait:           10,
			Accidents:           true,
			AlarmTick:           -1,
			DisabledRetireTicks: 0,
			OffMapRespawnTicks:  20,
			GarageSpawnProb:     0.25,
			LogLevel:            "info",
			LogFormat:           "text",
			LogEvery:            100,
		},
		Kinematics: Kinematics{
			MaxAccel:       0.1,
			MaxBrake:       0.5,
			AvgBrake:       0.25,
			Margin:         1,
			InchSpeed:      0.1,
			InchLookahead:  1.5,
			Jitter:         0.05,
			UrgencyBonus:   0.3,
			LookaheadBound: 64,
		},
		Signal: Signal{
			AccelToCruiseDistance: 10,
			GreenWave:             true,
		},
		Decision: Decision{
			DecisionDistance:   6,
			LeftQueueMax:       4,
			BoxClearCells:      3,
			OncomingBase:       4,
			OncomingStep:       2,
			RightOnRedLookback: 5,
			LaneChangeWait:     5,
			LaneChangeCooldown: 8,
			OvertakeWait:       10,
			OvertakeSpeedRatio: 0.8,
			LeftBiasProb:       0.3,
			RightBiasProb:      0.3,
			PassHoldTicks:      3,
			UTurnWait:          60,
			TunnelVision:       0.9,
			MinRedWait:         30,
			RedRunProb:         0.05,
			DeadlockWait:       5,
			TurnSpeed:          0.5,
		},
		Route: Route{
			FlipThreshold:      1.5,
			FlipProb:           0.1,
			KnowledgeGain:      0.1,
			AwarenessSignGain:  0.2,
			AwarenessBroadcast: 0.5,
			SignRadius:         3,
			CorridorDetour:     true,
			CorridorWeight:     0.5,
			LeaveProb:          0.5,
		},
		Hazard: Hazard{
			AEGL2:          50,
			AEGL3:          200,
			UpdateInterval: 10,
			UrgencyGain:    0.01,
		},
	}
}

// Load reads a YAML configuration from path, overlaid on Default.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, &ConfigError{Field: "file", Reason: "opening " + path, Err: err}
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads YAML from r, overlaid on Default. Unknown keys are rejected.
func Decode(r io.Reader) (Config, error) {
	cfg := Default()
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, &ConfigError{Field: "file", Reason: "reading", Err: err}
	}
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, &ConfigError{Field: "file", Reason: "parsing YAML", Err: err}
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that every parameter is usable.
func (c Config) Validate() error {
	k := c.Kinematics
	switch {
	case c.Run.MaxTicks <= 0:
		return Errorf("run.max_ticks", "must be positive, got %d", c.Run.MaxTicks)
	case c.Run.CompletionFraction <= 0 || c.Run.CompletionFraction > 1:
		return Errorf("run.completion_fraction", "must be in (0,1], got %g", c.Run.CompletionFraction)
	case c.Run.GarageSpawnProb < 0 || c.Run.GarageSpawnProb > 1:
		return Errorf("run.garage_spawn_prob", "must be a probability, got %g", c.Run.GarageSpawnProb)
	case c.Run.TraceEvery < 0:
		return Errorf("run.trace_every", "must not be negative, got %d", c.Run.TraceEvery)
	case c.Run.LogFormat != "text" && c.Run.LogFormat != "json":
		return Errorf("run.log_format", "unknown format %q", c.Run.LogFormat)
	case k.MaxAccel <= 0:
		return Errorf("kinematics.max_accel", "must be positive")
	case k.MaxBrake <= 0 || k.AvgBrake <= 0:
		return Errorf("kinematics.max_brake", "braking rates must be positive")
	case k.AvgBrake > k.MaxBrake:
		return Errorf("kinematics.avg_brake", "exceeds max_brake (%g > %g)", k.AvgBrake, k.MaxBrake)
	case k.Margin < 1:
		return Errorf("kinematics.margin", "must be at least one cell")
	case k.Jitter < 0:
		return Errorf("kinematics.jitter", "must not be negative")
	case k.LookaheadBound < 4:
		return Errorf("kinematics.lookahead_bound", "too small (%d)", k.LookaheadBound)
	case c.Signal.AccelToCruiseDistance <= 0:
		return Errorf("signal.accel_to_cruise_distance", "must be positive")
	case c.Decision.LeftQueueMax < 0:
		return Errorf("decision.left_queue_max", "must not be negative")
	case c.Decision.TunnelVision <= 0 || c.Decision.TunnelVision > 1:
		return Errorf("decision.tunnel_vision", "must be in (0,1]")
	case c.Decision.TurnSpeed <= 0:
		return Errorf("decision.turn_speed", "must be positive")
	case c.Route.LeaveProb < 0 || c.Route.LeaveProb > 1:
		return Errorf("route.leave_prob", "must be a probability, got %g", c.Route.LeaveProb)
	case c.Route.CorridorWeight <= 0:
		return Errorf("route.corridor_weight", "must be positive")
	case c.Hazard.AEGL3 < c.Hazard.AEGL2:
		return Errorf("hazard.aegl3", "below aegl2")
	case c.Hazard.UpdateInterval <= 0:
		return Errorf("hazard.update_interval", "must be positive")
	}
	return nil
}
