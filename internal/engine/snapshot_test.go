package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cxd309/evacsim/internal/config"
	"github.com/cxd309/evacsim/internal/grid"
	"github.com/cxd309/evacsim/internal/signal"
	"github.com/cxd309/evacsim/internal/world"
)

type position struct {
	ID      int
	Role    string
	X, Y    float64
	Heading grid.Heading
	Speed   float64
}

type state struct {
	Tick      int
	Alarm     bool
	Counters  world.Counters
	Positions []position
}

func stateOf(s *Sim) state {
	ctx := s.Context()
	st := state{Tick: ctx.Tick, Alarm: ctx.Alarm, Counters: ctx.Counters}
	for _, v := range ctx.Fleet.Live() {
		st.Positions = append(st.Positions, position{v.ID, v.Role.String(), v.X, v.Y, v.Heading, v.Speed})
	}
	return st
}

// busyCity has a signalled crossroads, a random population and an alarm
// partway through, so the random source is drawn from on most ticks.
func busyCity() (SimulationInput, config.Config) {
	input := SimulationInput{
		GridData: grid.NewBuilder(30, 30).
			HStreet(14, 0, 29, grid.East, grid.West).
			VStreet(14, 0, 29, grid.South, grid.North).
			Signal(14, 14, 0).
			Data(),
		Timings:    []signal.Timing{{GreenH: 20, YellowH: 3, GreenV: 20, YellowV: 3, AllRed: 2}},
		Population: 20,
	}
	cfg := config.Default()
	cfg.Run.Seed = 7
	cfg.Run.LogEvery = 0
	cfg.Run.AlarmTick = 40
	return input, cfg
}

func steps(s *Sim, n int) {
	for i := 0; i < n; i++ {
		s.Step()
	}
}

func TestRestoreContinuesIdentically(t *testing.T) {
	input, cfg := busyCity()
	a := newSim(t, input, cfg)
	steps(a, 30)
	data, err := a.Encode()
	require.NoError(t, err)
	steps(a, 40)

	b, err := Restore(input, cfg, data, WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.Equal(t, a.RunID(), b.RunID())
	assert.Equal(t, 30, b.Context().Tick)
	steps(b, 40)

	assert.Equal(t, stateOf(a), stateOf(b))
}

func TestRewindReplaysTheSameTicks(t *testing.T) {
	input, cfg := busyCity()
	s := newSim(t, input, cfg)
	steps(s, 25)
	cp, err := s.Checkpoint()
	require.NoError(t, err)

	steps(s, 30)
	first := stateOf(s)
	require.NoError(t, s.Rewind(cp))
	assert.Equal(t, 25, s.Context().Tick)
	steps(s, 30)
	assert.Equal(t, first, stateOf(s))

	// The checkpoint survives being applied.
	require.NoError(t, s.Rewind(cp))
	steps(s, 30)
	assert.Equal(t, first, stateOf(s))

	assert.Error(t, s.Rewind(Checkpoint{}))
}

func TestRestoreRejectsForeignSnapshots(t *testing.T) {
	input, cfg := busyCity()
	s := newSim(t, input, cfg)
	steps(s, 5)
	data, err := s.Encode()
	require.NoError(t, err)

	other := cfg
	other.Run.Seed = 8
	_, err = Restore(input, other, data, WithLogger(quietLogger()))
	assert.Error(t, err)

	plain := input
	plain.GridData = grid.NewBuilder(30, 30).HStreet(14, 0, 29, grid.East, grid.West).Data()
	plain.Timings = nil
	_, err = Restore(plain, cfg, data, WithLogger(quietLogger()))
	assert.Error(t, err)

	_, err = Restore(input, cfg, []byte{0xc1}, WithLogger(quietLogger()))
	assert.Error(t, err)
}
