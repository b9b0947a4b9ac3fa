package engine

import (
	"encoding/json"
	"time"

	"github.com/cxd309/evacsim/internal/config"
	"github.com/cxd309/evacsim/internal/grid"
	"github.com/cxd309/evacsim/internal/hazard"
	"github.com/cxd309/evacsim/internal/signal"
	"github.com/cxd309/evacsim/internal/vehicle"
)

// Status is the end-of-run status code.
type Status int

const (
	Running        Status = iota
	Completed             // evacuation completion predicate held
	TickLimit             // max_ticks reached
	Fatal                 // an invariant violation halted the run
	BudgetExceeded        // wall-clock budget spent; a snapshot was taken
)

var statusNames = [...]string{"running", "completed", "tick-limit", "fatal", "budget-exceeded"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// VehicleData places one vehicle at setup.
type VehicleData struct {
	X        float64      `json:"x"`
	Y        float64      `json:"y"`
	Heading  grid.Heading `json:"heading"`
	Speed    float64      `json:"speed"`
	Limit    float64      `json:"limit"` // personal speed limit; 0 = road default
	Disabled bool         `json:"disabled,omitempty"`
	// Driver overrides the randomly drawn driver attributes when present.
	Driver *vehicle.Driver `json:"driver,omitempty"`
}

// SimulationInput is the JSON-serialisable input to the engine.
type SimulationInput struct {
	RunID string `json:"run_id,omitempty"`
	// Config overrides config.Default field by field.
	Config *json.RawMessage `json:"config,omitempty"`

	GridData grid.GridData `json:"grid"`
	// Timings is the baseline signal-timing table, one entry per controller.
	Timings []signal.Timing `json:"timings"`
	// AlarmTimings replaces Timings through the retiming protocol when the
	// alarm is raised. Empty keeps the baseline.
	AlarmTimings []signal.Timing `json:"alarm_timings,omitempty"`

	Garages  []vehicle.GarageData `json:"garages,omitempty"`
	Vehicles []VehicleData        `json:"vehicles,omitempty"`
	// Population places this many additional vehicles on random free road
	// cells at setup.
	Population int `json:"population,omitempty"`

	// Frames is the concentration field, one frame per update interval.
	Frames []hazard.Frame `json:"frames,omitempty"`
	// Force overrides every controller's colours for the whole run:
	// "green" or "red". Used by diagnostics and scenario tests.
	Force string `json:"force,omitempty"`
}

// Result is the end-of-run record.
type Result struct {
	Status          Status `json:"status"`
	StatusName      string `json:"status_name"`
	AEGL2           int    `json:"aegl2"`
	AEGL3           int    `json:"aegl3"`
	Ticks           int    `json:"ticks"`
	Remaining       int    `json:"remaining"` // active vehicles still on the map
	GarageRemaining int    `json:"garage_remaining"`
	RunID           string `json:"run_id"`
	Seed            uint64 `json:"seed"`
	Collisions      int    `json:"collisions"`
	Evacuated       int    `json:"evacuated"`
	Deadlocks       int    `json:"deadlocks"`
	Accidents       int    `json:"accidents"`
	RedRuns         int    `json:"red_runs"`

	Fatal *FatalRecord `json:"fatal,omitempty"`
}

// FatalRecord describes the condition that halted a run.
type FatalRecord struct {
	Message string    `json:"message"`
	RunID   string    `json:"run_id"`
	Time    time.Time `json:"time"`
}

// Output is what RunJSON returns.
type Output struct {
	Result Result `json:"result"`
	// Snapshot is the msgpack world state, present when the run stopped on
	// its wall-clock budget.
	Snapshot []byte `json:"snapshot,omitempty"`
	// Trace holds the per-vehicle log frames when run.trace_every is set.
	Trace []TraceFrame `json:"trace,omitempty"`
}

// TraceFrame is the state of every on-grid vehicle at the end of a tick.
type TraceFrame struct {
	Tick     int           `json:"tick"`
	Vehicles []vehicle.Log `json:"vehicles"`
}

// DecodeConfig overlays raw on the defaults and validates the result.
func DecodeConfig(raw *json.RawMessage) (config.Config, error) {
	cfg := config.Default()
	if raw != nil {
		if err := json.Unmarshal(*raw, &cfg); err != nil {
			return config.Config{}, &config.ConfigError{Field: "config", Reason: "parsing JSON", Err: err}
		}
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
