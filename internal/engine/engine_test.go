package engine

import (
	"encoding/json"
	"io"
	"math"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cxd309/evacsim/internal/config"
	"github.com/cxd309/evacsim/internal/grid"
	"github.com/cxd309/evacsim/internal/signal"
	"github.com/cxd309/evacsim/internal/telemetry"
	"github.com/cxd309/evacsim/internal/vehicle"
	"github.com/cxd309/evacsim/internal/world"
)

func quietConfig() config.Config {
	cfg := config.Default()
	cfg.Run.LogEvery = 0
	cfg.Run.AlarmTick = -1
	cfg.Kinematics.Jitter = 0
	cfg.Decision.RedRunProb = 0
	return cfg
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// calm is a driver who never speeds or breaks rules.
func calm() *vehicle.Driver {
	return &vehicle.Driver{LawThreshold: 1, SpeedingThreshold: 1, Susceptibility: 1}
}

func newSim(t *testing.T, input SimulationInput, cfg config.Config, opts ...Option) *Sim {
	t.Helper()
	sim, err := NewSim(input, cfg, append([]Option{WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)
	return sim
}

// assertSeparated fails if any two on-grid vehicles overlap.
func assertSeparated(t *testing.T, ctx *world.Context) {
	t.Helper()
	live := ctx.Fleet.Live()
	for i, a := range live {
		if !a.OnGrid() {
			continue
		}
		for _, b := range live[i+1:] {
			if !b.OnGrid() {
				continue
			}
			if math.Abs(a.X-b.X) < 1-1e-6 && math.Abs(a.Y-b.Y) < 1-1e-6 {
				t.Fatalf("tick %d: vehicles %d (%.3f,%.3f) and %d (%.3f,%.3f) overlap",
					ctx.Tick, a.ID, a.X, a.Y, b.ID, b.X, b.Y)
			}
		}
	}
}

func TestApproachStopsBeforeDisabledVehicle(t *testing.T) {
	input := SimulationInput{
		GridData: grid.NewBuilder(30, 5).HStreet(2, 0, 29, grid.East).Data(),
		Vehicles: []VehicleData{
			{X: 12, Y: 2, Heading: grid.East, Disabled: true},
			{X: 2, Y: 2, Heading: grid.East, Speed: 1, Limit: 1, Driver: calm()},
		},
		Force: "green",
	}
	cfg := quietConfig()
	cfg.Run.MaxTicks = 80
	sim := newSim(t, input, cfg)
	ctx := sim.Context()
	blocked := ctx.Fleet.Get(0)
	v := ctx.Fleet.Get(1)

	stopped := false
	for sim.Step() == Running {
		require.NotEqual(t, blocked.Cell(), v.Cell(), "tick %d", ctx.Tick)
		if v.Stopped() {
			stopped = true
		}
	}
	assert.Equal(t, TickLimit, sim.Status())
	assert.True(t, stopped)
	assert.LessOrEqual(t, v.X, 11.0+1e-9)
	assert.Greater(t, v.X, 8.0)
	assert.Equal(t, vehicle.Disabled, blocked.Role)
	assert.Zero(t, ctx.Counters.Collisions)
}

func TestFastFollowerNeverClosesOnSlowLeader(t *testing.T) {
	input := SimulationInput{
		GridData: grid.NewBuilder(200, 5).HStreet(2, 0, 199, grid.East).Data(),
		Vehicles: []VehicleData{
			{X: 20, Y: 2, Heading: grid.East, Limit: 0.5, Driver: calm()},
			{X: 2, Y: 2, Heading: grid.East, Limit: 2, Driver: calm()},
		},
		Force: "green",
	}
	cfg := quietConfig()
	cfg.Run.MaxTicks = 500
	sim := newSim(t, input, cfg)
	ctx := sim.Context()
	slow, fast := ctx.Fleet.Get(0), ctx.Fleet.Get(1)

	closest := math.Inf(1)
	for sim.Step() == Running {
		assertSeparated(t, ctx)
		if slow.OnGrid() && fast.OnGrid() && fast.X < slow.X {
			closest = min(closest, slow.X-fast.X)
		}
	}
	assert.Equal(t, 500, ctx.Tick)
	assert.GreaterOrEqual(t, closest, 1.0-1e-9)
	assert.Less(t, closest, 3.0, "the fast vehicle caught up")
	assert.Zero(t, ctx.Counters.Collisions)
}

func TestQueueBehindRedHasNoCollisions(t *testing.T) {
	input := SimulationInput{
		GridData: grid.NewBuilder(60, 12).
			HStreet(5, 0, 59, grid.East, grid.East).
			VStreet(50, 0, 11, grid.South, grid.North).
			Signal(50, 5, 0).
			Data(),
		Timings: []signal.Timing{{GreenH: 40, YellowH: 4, GreenV: 40, YellowV: 4, AllRed: 2}},
		Force:   "red",
	}
	for k := 0; k < 17; k++ {
		input.Vehicles = append(input.Vehicles, VehicleData{X: float64(48 - 2*k), Y: 5, Heading: grid.East, Speed: 0.5})
	}
	for k := 0; k < 16; k++ {
		input.Vehicles = append(input.Vehicles, VehicleData{X: float64(48 - 2*k), Y: 6, Heading: grid.East, Speed: 0.5})
	}
	cfg := quietConfig()
	cfg.Run.MaxTicks = 300
	sim := newSim(t, input, cfg)
	ctx := sim.Context()
	require.Equal(t, 33, ctx.Fleet.Size())

	for sim.Step() == Running {
		assertSeparated(t, ctx)
	}
	assert.Equal(t, TickLimit, sim.Status())
	assert.Zero(t, ctx.Counters.Collisions)
	assert.Zero(t, ctx.Counters.RedRuns)
}

func TestEvacuatedVehicleCompletesRun(t *testing.T) {
	input := SimulationInput{
		GridData: grid.NewBuilder(20, 5).HStreet(2, 0, 19, grid.East).Data(),
		Vehicles: []VehicleData{{X: 2, Y: 2, Heading: grid.East, Speed: 1, Limit: 1, Driver: calm()}},
	}
	cfg := quietConfig()
	cfg.Run.AlarmTick = 0
	cfg.Run.MaxTicks = 200
	rec := &telemetry.Recorder{}
	sim := newSim(t, input, cfg, WithSink(rec))

	res := sim.Run()
	assert.Equal(t, Completed, res.Status)
	assert.Equal(t, "completed", res.StatusName)
	assert.Equal(t, 1, res.Evacuated)
	assert.Zero(t, res.Remaining)
	assert.Nil(t, res.Fatal)
	assert.Equal(t, res, rec.Result())
	last, ok := rec.Latest()
	require.True(t, ok)
	assert.Equal(t, res.Ticks, last.Tick)
}

func TestOffMapVehicleRespawnsBeforeAlarm(t *testing.T) {
	input := SimulationInput{
		GridData: grid.NewBuilder(10, 5).HStreet(2, 0, 9, grid.East).Data(),
		Vehicles: []VehicleData{{X: 8, Y: 2, Heading: grid.East, Speed: 1, Limit: 1, Driver: calm()}},
	}
	cfg := quietConfig()
	cfg.Run.OffMapRespawnTicks = 5
	sim := newSim(t, input, cfg)
	ctx := sim.Context()
	v := ctx.Fleet.Get(0)

	for i := 0; i < 3 && v.Role != vehicle.OffMap; i++ {
		sim.Step()
	}
	require.Equal(t, vehicle.OffMap, v.Role)
	left := v.OffMapAt
	for ctx.Tick < left+cfg.Run.OffMapRespawnTicks+1 {
		sim.Step()
	}
	assert.Equal(t, vehicle.Ordinary, v.Role)
	assert.Equal(t, grid.East, v.Heading)
	assert.Less(t, v.X, 3.0)
	assert.Zero(t, ctx.Counters.Evacuated)
}

func TestGarageReleasesVehicles(t *testing.T) {
	input := SimulationInput{
		GridData: grid.NewBuilder(40, 5).HStreet(2, 0, 39, grid.East).Data(),
		Garages:  []vehicle.GarageData{{X: 3, Y: 2, Heading: grid.East, Capacity: 3}},
	}
	cfg := quietConfig()
	cfg.Run.GarageSpawnProb = 1
	cfg.Run.MaxTicks = 60
	sim := newSim(t, input, cfg)
	ctx := sim.Context()

	for sim.Step() == Running {
		assertSeparated(t, ctx)
	}
	assert.Equal(t, 3, ctx.Counters.Spawned)
	assert.Zero(t, sim.Result().GarageRemaining)
}

func TestQueueRanks(t *testing.T) {
	ranks, broken := queueRanks([]int{7, 6, 5}, map[int]int{6: 5, 7: 6})
	assert.Equal(t, map[int]int{5: 0, 6: 1, 7: 2}, ranks)
	assert.Empty(t, broken)

	ranks, broken = queueRanks([]int{1, 2, 3}, map[int]int{1: 2, 2: 3, 3: 1})
	assert.Equal(t, []int{1}, broken)
	assert.Equal(t, map[int]int{1: 0, 3: 1, 2: 2}, ranks)
}

func TestCrossedPaths(t *testing.T) {
	at := func(px, py, x, y float64) *vehicle.Vehicle {
		return &vehicle.Vehicle{PrevX: px, PrevY: py, X: x, Y: y}
	}
	assert.True(t, crossed(at(0, 0, 2, 0), at(1, -1, 1, 1)), "same point at the same time")
	assert.False(t, crossed(at(0, 0, 4, 0), at(1, -3.9, 1, 0.1)), "same point at different times")
	assert.False(t, crossed(at(0, 0, 2, 0), at(0, 1, 2, 1)), "parallel lanes")
	assert.False(t, crossed(at(0, 0, 0, 0), at(1, -1, 1, 1)), "stationary")

	assert.True(t, overlap(at(0, 0, 3, 2), at(0, 0, 3.5, 2.5)))
	assert.False(t, overlap(at(0, 0, 3, 2), at(0, 0, 4, 2)))
}

func TestNewSimRejectsBadInput(t *testing.T) {
	base := func() SimulationInput {
		return SimulationInput{GridData: grid.NewBuilder(10, 5).HStreet(2, 0, 9, grid.East).Data()}
	}
	tests := []struct {
		name   string
		mutate func(*SimulationInput)
	}{
		{"force mode", func(in *SimulationInput) { in.Force = "blue" }},
		{"wrong heading", func(in *SimulationInput) {
			in.Vehicles = []VehicleData{{X: 2, Y: 2, Heading: grid.West}}
		}},
		{"overlap", func(in *SimulationInput) {
			in.Vehicles = []VehicleData{{X: 2, Y: 2, Heading: grid.East}, {X: 2.5, Y: 2, Heading: grid.East}}
		}},
		{"population", func(in *SimulationInput) { in.Population = 11 }},
		{"missing timings", func(in *SimulationInput) {
			in.GridData = grid.NewBuilder(12, 12).
				HStreet(5, 0, 11, grid.East).VStreet(5, 0, 11, grid.South).Signal(5, 5, 0).Data()
		}},
		{"grid", func(in *SimulationInput) { in.GridData.Width = 0 }},
		{"road limit over the lookahead bound", func(in *SimulationInput) {
			in.GridData = grid.NewBuilder(10, 5).HStreet(2, 0, 9, grid.East).Limit(4, 2, 10).Data()
		}},
		{"vehicle limit over the lookahead bound", func(in *SimulationInput) {
			in.Vehicles = []VehicleData{{X: 2, Y: 2, Heading: grid.East, Limit: 10}}
		}},
		{"vehicle speed over the lookahead bound", func(in *SimulationInput) {
			in.Vehicles = []VehicleData{{X: 2, Y: 2, Heading: grid.East, Speed: 10}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base()
			tt.mutate(&in)
			_, err := NewSim(in, quietConfig(), WithLogger(quietLogger()))
			require.Error(t, err)
			assert.True(t, config.IsConfigError(err), "%v", err)
		})
	}
}

func TestBudgetStopsWithSnapshot(t *testing.T) {
	input := SimulationInput{
		GridData:   grid.NewBuilder(30, 5).HStreet(2, 0, 29, grid.East).Data(),
		Population: 5,
	}
	cfg := quietConfig()
	cfg.Run.WallClockBudget = 3 * time.Second
	now := time.Unix(0, 0)
	clock := func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	sim := newSim(t, input, cfg, WithClock(clock))

	res := sim.Run()
	assert.Equal(t, BudgetExceeded, res.Status)
	assert.Equal(t, 2, res.Ticks)
	require.NotEmpty(t, sim.Snapshot())

	snap, err := Decode(sim.Snapshot())
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Tick)
	assert.Equal(t, sim.RunID(), snap.RunID)
}

func TestTraceRecordsOnGridVehicles(t *testing.T) {
	input := SimulationInput{
		GridData: grid.NewBuilder(30, 5).HStreet(2, 0, 29, grid.East).Data(),
		Vehicles: []VehicleData{
			{X: 2, Y: 2, Heading: grid.East, Speed: 0.5, Limit: 1, Driver: calm()},
			{X: 12, Y: 2, Heading: grid.East, Disabled: true},
		},
	}
	cfg := quietConfig()
	cfg.Run.MaxTicks = 20
	cfg.Run.TraceEvery = 5
	sim := newSim(t, input, cfg)
	sim.Run()

	trace := sim.Trace()
	require.Len(t, trace, 4)
	for i, f := range trace {
		assert.Equal(t, 5*(i+1), f.Tick)
		require.Len(t, f.Vehicles, 2)
	}
	first := trace[0].Vehicles[0]
	assert.Equal(t, "ordinary", first.Role)
	assert.Equal(t, "straight", first.Maneuver)
	assert.Greater(t, first.X, 2.0)
	assert.Equal(t, "disabled", trace[0].Vehicles[1].Role)
	assert.Greater(t, trace[3].Vehicles[0].X, first.X)
}

func TestTraceOffByDefault(t *testing.T) {
	input := SimulationInput{
		GridData:   grid.NewBuilder(30, 5).HStreet(2, 0, 29, grid.East).Data(),
		Population: 2,
	}
	cfg := quietConfig()
	cfg.Run.MaxTicks = 10
	sim := newSim(t, input, cfg)
	sim.Run()
	assert.Empty(t, sim.Trace())
}

func TestRunJSON(t *testing.T) {
	raw := json.RawMessage(`{"run":{"max_ticks":25,"log_level":"error","log_every":0}}`)
	input := SimulationInput{
		RunID:      "run-1",
		Config:     &raw,
		GridData:   grid.NewBuilder(30, 5).HStreet(2, 0, 29, grid.East).Data(),
		Population: 3,
	}
	data, err := json.Marshal(input)
	require.NoError(t, err)

	out, err := RunJSON(string(data))
	require.NoError(t, err)
	var got Output
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, TickLimit, got.Result.Status)
	assert.Equal(t, 25, got.Result.Ticks)
	assert.Equal(t, "run-1", got.Result.RunID)
	assert.Empty(t, got.Snapshot)
	assert.Empty(t, got.Trace)

	_, err = RunJSON("{")
	assert.Error(t, err)
}
