package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cxd309/evacsim/internal/config"
	"github.com/cxd309/evacsim/internal/grid"
	"github.com/cxd309/evacsim/internal/kinematics"
	"github.com/cxd309/evacsim/internal/signal"
	"github.com/cxd309/evacsim/internal/vehicle"
	"github.com/cxd309/evacsim/internal/world"
)

func newContext(t *testing.T, b *grid.Builder) *world.Context {
	t.Helper()
	g, err := b.Build()
	require.NoError(t, err)
	cfg := config.Default()
	cfg.Decision.RedRunProb = 0
	timings := make([]signal.Timing, g.Controllers())
	for i := range timings {
		timings[i] = signal.Timing{GreenH: 40, YellowH: 4, GreenV: 40, YellowV: 4, AllRed: 2}
	}
	ctx, err := world.New(cfg, g, timings, nil)
	require.NoError(t, err)
	return ctx
}

// crossroads has two-way streets on both axes meeting at (5..6, 5..6).
func crossroads(t *testing.T) *world.Context {
	return newContext(t, grid.NewBuilder(12, 12).
		HStreet(5, 0, 11, grid.East, grid.West).
		VStreet(5, 0, 11, grid.South, grid.North).
		Signal(5, 5, 0))
}

// teeJunction has no road north of the junction.
func teeJunction(t *testing.T) *world.Context {
	return newContext(t, grid.NewBuilder(12, 12).
		HStreet(5, 0, 11, grid.East, grid.West).
		VStreet(5, 0, 6, grid.South, grid.North).
		Signal(5, 5, 0))
}

func spawn(t *testing.T, ctx *world.Context, x, y int, h grid.Heading) *vehicle.Vehicle {
	t.Helper()
	v, err := ctx.Spawn(grid.Coord{X: x, Y: y}, h)
	require.NoError(t, err)
	v.Limit = 1
	return v
}

func TestRedHoldsAtStopLine(t *testing.T) {
	ctx := crossroads(t)
	ctx.Signals.ForceAll(signal.ForceRed)
	v := spawn(t, ctx, 2, 5, grid.East)
	v.Speed = 0.5

	p := Step(ctx, v, nil)
	assert.Contains(t, p.Stops, kinematics.Obstacle{Gap: 2})
	assert.False(t, p.Turn)
}

func TestGreenDoesNotHold(t *testing.T) {
	ctx := crossroads(t)
	ctx.Signals.ForceAll(signal.ForceGreen)
	v := spawn(t, ctx, 2, 5, grid.East)
	v.Speed = 0.5

	p := Step(ctx, v, nil)
	assert.Empty(t, p.Stops)
}

func TestLeftTurnAgentWaitsUntilAtLine(t *testing.T) {
	ctx := crossroads(t)
	ctx.Signals.ForceAll(signal.ForceGreen)
	v := spawn(t, ctx, 2, 5, grid.East)
	v.Intent, v.IntentJunction = vehicle.TurnLeft, 0

	p := Step(ctx, v, nil)
	assert.Equal(t, vehicle.LeftTurnAgent, v.Role)
	assert.Equal(t, vehicle.TurnLeft, v.Intent)
	assert.Contains(t, p.Stops, kinematics.Obstacle{Gap: 2})
	require.True(t, p.Turn)
	assert.Equal(t, grid.Coord{X: 6, Y: 5}, p.Pivot)
	assert.Equal(t, grid.North, p.To)
}

func TestRightTurnPlansPivot(t *testing.T) {
	ctx := crossroads(t)
	ctx.Signals.ForceAll(signal.ForceGreen)
	v := spawn(t, ctx, 4, 5, grid.East)
	v.Speed = 0.5
	v.Intent, v.IntentJunction = vehicle.TurnRight, 0

	p := Step(ctx, v, nil)
	require.True(t, p.Turn)
	assert.Equal(t, grid.Coord{X: 5, Y: 5}, p.Pivot)
	assert.Equal(t, grid.South, p.To)
	assert.Equal(t, ctx.Cfg.Decision.TurnSpeed, p.Limit)
}

func TestCorrectFallsBackToLegalTurn(t *testing.T) {
	ctx := teeJunction(t)

	v := spawn(t, ctx, 3, 5, grid.East)
	v.Intent, v.IntentJunction = vehicle.TurnLeft, 0
	Correct(ctx, v)
	assert.Equal(t, vehicle.GoStraight, v.Intent, "no road north, go straight")

	flex := spawn(t, ctx, 2, 5, grid.East)
	flex.Driver.Flexible = true
	flex.Intent, flex.IntentJunction = vehicle.TurnLeft, 0
	Correct(ctx, flex)
	assert.Equal(t, vehicle.TurnRight, flex.Intent, "flexible drivers take the mirror turn")
}

func TestCorrectDemotesLeftTurnAgent(t *testing.T) {
	ctx := teeJunction(t)
	v := spawn(t, ctx, 3, 5, grid.East)
	v.Intent, v.IntentJunction = vehicle.TurnLeft, 0
	v.ToLeftTurnAgent()

	Correct(ctx, v)
	assert.Equal(t, vehicle.Ordinary, v.Role)
}

func TestCanChangeLane(t *testing.T) {
	ctx := newContext(t, grid.NewBuilder(20, 12).
		HStreet(5, 0, 19, grid.East, grid.East).
		VStreet(12, 0, 11, grid.South, grid.North))
	v := spawn(t, ctx, 5, 5, grid.East)

	assert.True(t, CanChangeLane(ctx, v, grid.LeftSide))
	assert.False(t, CanChangeLane(ctx, v, grid.RightSide), "no lane to the right")

	v.LastLaneChange = ctx.Tick
	assert.False(t, CanChangeLane(ctx, v, grid.LeftSide), "cooling down")
	v.LastLaneChange = -1

	spawn(t, ctx, 5, 6, grid.East)
	assert.False(t, CanChangeLane(ctx, v, grid.LeftSide), "target occupied")

	atLine := spawn(t, ctx, 11, 5, grid.East)
	assert.False(t, CanChangeLane(ctx, atLine, grid.LeftSide), "stop line")
}

func TestLaneChangeRespectsFastFollower(t *testing.T) {
	ctx := newContext(t, grid.NewBuilder(20, 6).HStreet(2, 0, 19, grid.East, grid.East))
	v := spawn(t, ctx, 8, 2, grid.East)
	f := spawn(t, ctx, 6, 3, grid.East)
	f.Speed = 1.5

	assert.False(t, CanChangeLane(ctx, v, grid.LeftSide))
	f.Speed = 0
	assert.True(t, CanChangeLane(ctx, v, grid.LeftSide))
}
