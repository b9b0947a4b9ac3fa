// Package engine implements the evacuation simulation loop.
//
// The simulation advances in discrete ticks. Each tick:
//
//  1. Setup pass - the alarm is raised when due, signal controllers advance
//     their phase, the concentration field is refreshed and exposure is
//     accumulated, garages and off-map vehicles feed the network.
//
//  2. Motion pass - vehicles are ordered by queue rank; each in turn has its
//     goal and intent updated by the route manager, resolves that intent into
//     lane and turn actions in the decision engine, and commits motion
//     bounded by the safe-speed solver.
//
//  3. Safety pass - overlapping and crossing vehicles are disabled, exits and
//     retirements are applied, counters are published and the completion
//     predicate is checked.
package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cxd309/evacsim/internal/config"
	"github.com/cxd309/evacsim/internal/decision"
	"github.com/cxd309/evacsim/internal/grid"
	"github.com/cxd309/evacsim/internal/hazard"
	"github.com/cxd309/evacsim/internal/route"
	"github.com/cxd309/evacsim/internal/signal"
	"github.com/cxd309/evacsim/internal/telemetry"
	"github.com/cxd309/evacsim/internal/vehicle"
	"github.com/cxd309/evacsim/internal/world"
)

// ErrBudgetExceeded marks a run stopped on its wall-clock budget.
var ErrBudgetExceeded = errors.New("wall-clock budget exceeded")

// Sim is one evacuation run.
type Sim struct {
	ctx      *world.Context
	provider hazard.Provider
	sinks    []telemetry.Sink
	logger   *logrus.Logger

	runID  string
	status Status
	start  time.Time
	now    func() time.Time

	// frame is the index of the current field frame, or -1.
	frame        int
	alarmTimings []signal.Timing
	entries      []entry
	snapshot     []byte
	trace        []TraceFrame
}

// entry is a road cell on the map edge where an off-map vehicle can
// re-enter, with the inward heading.
type entry struct {
	cell    grid.Coord
	heading grid.Heading
}

// Option configures a Sim.
type Option func(*Sim)

// WithSink adds a telemetry sink.
func WithSink(sink telemetry.Sink) Option {
	return func(s *Sim) { s.sinks = append(s.sinks, sink) }
}

// WithClock replaces the wall clock used for the budget and fatal records.
func WithClock(now func() time.Time) Option {
	return func(s *Sim) { s.now = now }
}

// WithLogger replaces the logger built from the run configuration.
func WithLogger(l *logrus.Logger) Option {
	return func(s *Sim) { s.logger = l }
}

// WithProvider replaces the in-memory field frames from the input.
func WithProvider(p hazard.Provider) Option {
	return func(s *Sim) { s.provider = p }
}

// NewSim validates input and builds the initial world. Every setup failure
// is a *config.ConfigError.
func NewSim(input SimulationInput, cfg config.Config, opts ...Option) (*Sim, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Sim{
		now:      time.Now,
		frame:    -1,
		provider: hazard.Sequence(input.Frames),
		runID:    input.RunID,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		l, err := newLogger(cfg.Run)
		if err != nil {
			return nil, err
		}
		s.logger = l
	}
	if s.runID == "" {
		s.runID = uuid.New().String()
	}
	if cfg.Run.LogEvery > 0 {
		s.sinks = append(s.sinks, telemetry.LogSink{Log: s.log(cfg), Every: cfg.Run.LogEvery})
	}

	g, err := grid.NewGrid(input.GridData)
	if err != nil {
		return nil, &config.ConfigError{Field: "grid", Reason: "building grid", Err: err}
	}
	for i, f := range input.Frames {
		if err := f.Validate(g); err != nil {
			return nil, &config.ConfigError{Field: fmt.Sprintf("frames[%d]", i), Reason: "invalid frame", Err: err}
		}
	}
	ctx, err := world.New(cfg, g, input.Timings, s.log(cfg))
	if err != nil {
		return nil, err
	}
	s.ctx = ctx
	if err := s.checkLookahead(s.topSpeed((1 + limitSpread) * g.MaxSpeedLimit())); err != nil {
		return nil, &config.ConfigError{Field: "grid", Reason: "speed limit too high", Err: err}
	}

	if err := s.setupSignals(input); err != nil {
		return nil, err
	}
	for i, d := range input.Garages {
		gar, err := vehicle.NewGarage(i, d, g)
		if err != nil {
			return nil, &config.ConfigError{Field: fmt.Sprintf("garages[%d]", i), Reason: "invalid garage", Err: err}
		}
		ctx.Garages = append(ctx.Garages, gar)
	}
	s.entries = entries(g)
	for i, vd := range input.Vehicles {
		if err := s.place(vd); err != nil {
			return nil, &config.ConfigError{Field: fmt.Sprintf("vehicles[%d]", i), Reason: "invalid vehicle", Err: err}
		}
	}
	if err := s.populate(input.Population); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sim) log(cfg config.Config) *logrus.Entry {
	return s.logger.WithFields(logrus.Fields{"run_id": s.runID, "seed": cfg.Run.Seed})
}

func (s *Sim) setupSignals(input SimulationInput) error {
	ctx := s.ctx
	if n := len(input.AlarmTimings); n > 0 {
		if n != len(input.Timings) {
			return config.Errorf("alarm_timings", "%d entries for %d controllers", n, len(input.Timings))
		}
		for i, t := range input.AlarmTimings {
			if err := t.Validate(); err != nil {
				return &config.ConfigError{Field: fmt.Sprintf("alarm_timings[%d]", i), Reason: "invalid timing", Err: err}
			}
		}
		s.alarmTimings = input.AlarmTimings
		if ctx.Cfg.Signal.GreenWave {
			s.alarmTimings = greenWave(ctx.Cfg, ctx.Grid, input.AlarmTimings)
		}
	}
	switch input.Force {
	case "":
	case "green":
		ctx.Signals.ForceAll(signal.ForceGreen)
	case "red":
		ctx.Signals.ForceAll(signal.ForceRed)
	default:
		return config.Errorf("force", "unknown mode %q", input.Force)
	}
	return nil
}

// Context exposes the simulation context to tests and diagnostics.
func (s *Sim) Context() *world.Context { return s.ctx }

// RunID returns the run identifier.
func (s *Sim) RunID() string { return s.runID }

// Status returns the current status.
func (s *Sim) Status() Status { return s.status }

// Snapshot returns the encoded state saved when the run stopped on its
// budget, or nil.
func (s *Sim) Snapshot() []byte { return s.snapshot }

// Trace returns the vehicle log frames recorded so far.
func (s *Sim) Trace() []TraceFrame { return s.trace }

// Run steps the simulation until it leaves the Running status and returns
// the end-of-run record.
func (s *Sim) Run() Result {
	l := s.ctx.Log
	l.WithField("vehicles", s.ctx.Fleet.Size()).Info("run started")
	for s.status == Running {
		s.Step()
	}
	res := s.Result()
	l.WithFields(logrus.Fields{
		"status":    res.StatusName,
		"ticks":     res.Ticks,
		"evacuated": res.Evacuated,
		"aegl2":     res.AEGL2,
		"aegl3":     res.AEGL3,
	}).Info("run finished")
	for _, sink := range s.sinks {
		if r, ok := sink.(*telemetry.Recorder); ok {
			r.Finish(res)
		}
	}
	return res
}

// Step advances the simulation by one tick and returns the resulting
// status. A fatal condition raised during a tick halts the run at the top of
// the next call.
func (s *Sim) Step() Status {
	if s.status != Running {
		return s.status
	}
	ctx := s.ctx
	if s.start.IsZero() {
		s.start = s.now()
	}
	switch {
	case ctx.Fatal() != nil:
		s.status = Fatal
		return s.status
	case ctx.Tick >= ctx.Cfg.Run.MaxTicks:
		s.status = TickLimit
		return s.status
	case ctx.Cfg.Run.WallClockBudget > 0 && s.now().Sub(s.start) >= ctx.Cfg.Run.WallClockBudget:
		data, err := s.Encode()
		if err != nil {
			ctx.Fail(fmt.Errorf("saving snapshot: %w", err))
			s.status = Fatal
			return s.status
		}
		s.snapshot = data
		ctx.Log.WithError(ErrBudgetExceeded).WithField("tick", ctx.Tick).Warn("stopping on budget; snapshot saved")
		s.status = BudgetExceeded
		return s.status
	}

	s.tick()

	if s.complete() {
		s.status = Completed
	}
	return s.status
}

func (s *Sim) tick() {
	ctx := s.ctx
	if due := ctx.Cfg.Run.AlarmTick; !ctx.Alarm && due >= 0 && ctx.Tick >= due {
		s.raiseAlarm()
	}
	for _, ev := range ctx.Signals.Advance(ctx.Tick) {
		ctx.Log.WithFields(logrus.Fields{"controller": ev.Controller, "state": ev.State.String()}).Debug("retiming")
	}
	s.updateField()
	s.expose()
	s.spawnGarages()
	s.respawn()

	ctx.Reindex()
	for _, v := range s.order() {
		if !v.OnGrid() {
			continue
		}
		route.Update(ctx, v)
		leader := s.leader(v)
		plan := decision.Step(ctx, v, leader)
		if plan.Moved {
			leader = s.leader(v)
		}
		s.move(v, leader, plan)
	}
	s.collisions()
	s.retireDisabled()
	s.urgency()
	ctx.Tick++
	s.publish()
}

// Result returns the end-of-run record for the current state.
func (s *Sim) Result() Result {
	ctx := s.ctx
	res := Result{
		Status:     s.status,
		StatusName: s.status.String(),
		AEGL2:      ctx.Counters.AEGL2,
		AEGL3:      ctx.Counters.AEGL3,
		Ticks:      ctx.Tick,
		Remaining:  ctx.Fleet.Count(vehicle.Ordinary) + ctx.Fleet.Count(vehicle.LeftTurnAgent),
		RunID:      s.runID,
		Seed:       ctx.Cfg.Run.Seed,
		Collisions: ctx.Counters.Collisions,
		Evacuated:  ctx.Counters.Evacuated,
		Deadlocks:  ctx.Counters.Deadlocks,
		Accidents:  ctx.Counters.Accidents,
		RedRuns:    ctx.Counters.RedRuns,
	}
	for _, g := range ctx.Garages {
		res.GarageRemaining += g.Remaining + len(g.Queue)
	}
	if err := ctx.Fatal(); err != nil && s.status == Fatal {
		res.Fatal = &FatalRecord{Message: err.Error(), RunID: s.runID, Time: s.now().UTC()}
	}
	return res
}

func (s *Sim) publish() {
	ctx := s.ctx
	c := telemetry.Counters{
		Tick:       ctx.Tick,
		Evacuated:  ctx.Counters.Evacuated,
		Collisions: ctx.Counters.Collisions,
	}
	for _, v := range ctx.Fleet.Vehicles {
		switch {
		case v == nil:
		case v.Active():
			c.Active++
			if v.Stopped() {
				c.Stopped++
			}
		case v.Role == vehicle.OffMap:
			c.OffMap++
		case v.Role == vehicle.Disabled:
			c.Disabled++
		}
	}
	for _, sink := range s.sinks {
		sink.Publish(c)
	}
	if n := ctx.Cfg.Run.TraceEvery; n > 0 && ctx.Tick%n == 0 {
		s.record()
	}
}

func (s *Sim) record() {
	f := TraceFrame{Tick: s.ctx.Tick, Vehicles: []vehicle.Log{}}
	for _, v := range s.ctx.Fleet.Vehicles {
		if v != nil && v.OnGrid() {
			f.Vehicles = append(f.Vehicles, v.GetLog())
		}
	}
	s.trace = append(s.trace, f)
}

// RunJSON is the primary entry point for the CLI and WASM targets. It
// accepts a JSON-encoded SimulationInput, runs the simulation, and returns a
// JSON-encoded Output.
func RunJSON(jsonInput string) (string, error) {
	var input SimulationInput
	if err := json.Unmarshal([]byte(jsonInput), &input); err != nil {
		return "", fmt.Errorf("invalid input JSON: %w", err)
	}
	cfg, err := DecodeConfig(input.Config)
	if err != nil {
		return "", err
	}
	sim, err := NewSim(input, cfg)
	if err != nil {
		return "", fmt.Errorf("setting up simulation: %w", err)
	}
	out := Output{Result: sim.Run(), Snapshot: sim.Snapshot(), Trace: sim.Trace()}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("marshaling output: %w", err)
	}
	return string(data), nil
}
