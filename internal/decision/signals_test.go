package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cxd309/evacsim/internal/grid"
	"github.com/cxd309/evacsim/internal/signal"
	"github.com/cxd309/evacsim/internal/vehicle"
	"github.com/cxd309/evacsim/internal/world"
)

// atLine places an eastbound vehicle on the stop line at (4, 5) and returns
// it with the signal it faces.
func atLine(t *testing.T, ctx *world.Context) (*vehicle.Vehicle, world.Signal) {
	t.Helper()
	v := spawn(t, ctx, 4, 5, grid.East)
	sig, ok := signalAhead(ctx, v)
	require.True(t, ok)
	require.Equal(t, 1, sig.Cells)
	return v, sig
}

// leftAgent places a left-turn agent on the stop line.
func leftAgent(t *testing.T, ctx *world.Context) (*vehicle.Vehicle, world.Signal) {
	t.Helper()
	v, sig := atLine(t, ctx)
	v.Intent, v.IntentJunction = vehicle.TurnLeft, sig.Junction.ID
	v.ToLeftTurnAgent()
	return v, sig
}

func TestLeftClearOnEmptyJunction(t *testing.T) {
	ctx := crossroads(t)
	v, sig := leftAgent(t, ctx)
	assert.True(t, leftClear(ctx, v, sig))
}

func TestLeftClearNeedsEmptyBox(t *testing.T) {
	ctx := crossroads(t)
	v, sig := leftAgent(t, ctx)
	// Third cell of the exit lane north of the junction.
	spawn(t, ctx, 6, 9, grid.North)

	assert.False(t, boxClear(ctx, v, grid.Coord{X: 6, Y: 7}, grid.North))
	assert.True(t, oncomingClear(ctx, v))
	assert.False(t, opposingAgent(ctx, v, sig.Junction))
	assert.False(t, leftClear(ctx, v, sig))
}

func TestLeftClearOncomingReach(t *testing.T) {
	tests := []struct {
		name  string
		x     int
		speed float64
		want  bool
	}{
		{"moving at the end of the reach", 10, 0.5, false},
		{"moving beyond the reach", 11, 0.5, true},
		{"stopped on the approach", 10, 0, true},
		{"stopped inside the junction", 6, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := crossroads(t)
			require.Equal(t, 4, ctx.Cfg.Decision.OncomingBase)
			v, sig := leftAgent(t, ctx)
			o := spawn(t, ctx, tt.x, 6, grid.West)
			o.Speed = tt.speed

			assert.Equal(t, tt.want, oncomingClear(ctx, v))
			assert.True(t, boxClear(ctx, v, grid.Coord{X: 6, Y: 7}, grid.North))
			assert.Equal(t, tt.want, leftClear(ctx, v, sig))
		})
	}
}

func TestOncomingReachWidensPerLane(t *testing.T) {
	// Two westbound lanes; the outer one is scanned two cells further.
	build := func(t *testing.T) *world.Context {
		return newContext(t, grid.NewBuilder(16, 12).
			HStreet(5, 0, 15, grid.East, grid.West, grid.West).
			VStreet(5, 0, 11, grid.South, grid.North).
			Signal(5, 5, 0))
	}
	tests := []struct {
		name string
		x, y int
		want bool
	}{
		{"inner lane at reach 4", 10, 6, false},
		{"inner lane beyond reach 4", 11, 6, true},
		{"outer lane at reach 6", 12, 7, false},
		{"outer lane beyond reach 6", 13, 7, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := build(t)
			require.Equal(t, 2, ctx.Cfg.Decision.OncomingStep)
			v, sig := leftAgent(t, ctx)
			o := spawn(t, ctx, tt.x, tt.y, grid.West)
			o.Speed = 0.5

			assert.Equal(t, tt.want, oncomingClear(ctx, v))
			assert.Equal(t, tt.want, leftClear(ctx, v, sig))
		})
	}
}

func TestOpposingAgentInJunction(t *testing.T) {
	ctx := crossroads(t)
	v, sig := leftAgent(t, ctx)

	w := spawn(t, ctx, 6, 6, grid.West)
	w.Intent, w.IntentJunction = vehicle.TurnLeft, sig.Junction.ID
	w.ToLeftTurnAgent()
	assert.True(t, opposingAgent(ctx, v, sig.Junction))
	assert.False(t, leftClear(ctx, v, sig))

	w.ToOrdinary()
	assert.False(t, opposingAgent(ctx, v, sig.Junction), "ordinary traffic is left to the oncoming scan")

	// A same-direction agent already turning is no conflict.
	same := spawn(t, ctx, 5, 5, grid.East)
	same.Intent, same.IntentJunction = vehicle.TurnLeft, sig.Junction.ID
	same.ToLeftTurnAgent()
	assert.False(t, opposingAgent(ctx, v, sig.Junction))
}

func TestRightOnRedLookback(t *testing.T) {
	tests := []struct {
		name string
		y    int // row of a southbound vehicle on the cross street; 0 for none
		want bool
	}{
		{"no cross traffic", 0, true},
		{"cross traffic at the lookback", 10, false},
		{"cross traffic beyond the lookback", 11, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := crossroads(t)
			require.Equal(t, 5, ctx.Cfg.Decision.RightOnRedLookback)
			v, _ := atLine(t, ctx)
			if tt.y > 0 {
				spawn(t, ctx, 5, tt.y, grid.South)
			}
			assert.Equal(t, tt.want, rightOnRed(ctx, v))
		})
	}
}

func TestRightOnRedOnlyFromStop(t *testing.T) {
	ctx := crossroads(t)
	v, _ := atLine(t, ctx)
	v.Speed = 0.3
	assert.False(t, rightOnRed(ctx, v))
}

func TestMayRunRedGates(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(t *testing.T, ctx *world.Context, v *vehicle.Vehicle)
		want   bool
	}{
		{"all gates pass", func(*testing.T, *world.Context, *vehicle.Vehicle) {}, true},
		{"short wait", func(_ *testing.T, _ *world.Context, v *vehicle.Vehicle) { v.Wait-- }, false},
		{"urgency at law threshold", func(_ *testing.T, _ *world.Context, v *vehicle.Vehicle) {
			v.Driver.Urgency = v.Driver.LawThreshold
		}, false},
		{"still moving", func(_ *testing.T, _ *world.Context, v *vehicle.Vehicle) { v.Speed = 0.2 }, false},
		{"cross traffic", func(t *testing.T, ctx *world.Context, _ *vehicle.Vehicle) {
			spawn(t, ctx, 5, 8, grid.South)
		}, false},
		{"no luck", func(_ *testing.T, ctx *world.Context, _ *vehicle.Vehicle) { ctx.Cfg.Decision.RedRunProb = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := crossroads(t)
			ctx.Cfg.Decision.RedRunProb = 1
			v, sig := atLine(t, ctx)
			v.Wait = ctx.Cfg.Decision.MinRedWait
			v.Driver.Urgency, v.Driver.LawThreshold = 0.6, 0.3
			tt.mutate(t, ctx, v)
			assert.Equal(t, tt.want, mayRunRed(ctx, v, sig))
		})
	}
}

func TestRedRunnerProceeds(t *testing.T) {
	ctx := crossroads(t)
	ctx.Signals.ForceAll(signal.ForceRed)
	ctx.Cfg.Decision.RedRunProb = 1
	v, _ := atLine(t, ctx)
	v.Wait = ctx.Cfg.Decision.MinRedWait
	v.Driver.Urgency, v.Driver.LawThreshold = 0.6, 0.3

	p := Step(ctx, v, nil)
	assert.Empty(t, p.Stops)
	assert.True(t, v.RunRed)
	assert.Equal(t, 1, ctx.Counters.RedRuns)

	// A law-abiding driver holds.
	ctx = crossroads(t)
	ctx.Signals.ForceAll(signal.ForceRed)
	ctx.Cfg.Decision.RedRunProb = 1
	v, _ = atLine(t, ctx)
	v.Wait = ctx.Cfg.Decision.MinRedWait
	v.Driver.Urgency, v.Driver.LawThreshold = 0.6, 0.9

	p = Step(ctx, v, nil)
	assert.NotEmpty(t, p.Stops)
	assert.False(t, v.RunRed)
	assert.Zero(t, ctx.Counters.RedRuns)
}
