package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cxd309/evacsim/internal/grid"
)

func scenarioD() Timing {
	return Timing{GreenH: 40, YellowH: 4, GreenV: 40, YellowV: 4, AllRed: 2}
}

func TestStageBoundaries(t *testing.T) {
	tm := scenarioD()
	require.NoError(t, tm.Validate())

	cases := []struct {
		phase int
		stage Stage
		h, v  Color
	}{
		{0, AllRed2, Red, Red},
		{1, AllRed2, Red, Red},
		{2, GreenH, Green, Red},
		{35, GreenH, Green, Red},
		{36, YellowH, Yellow, Red},
		{38, YellowH, Yellow, Red},
		{40, AllRed1, Red, Red},
		{42, GreenV, Red, Green},
		{44, GreenV, Red, Green},
		{76, YellowV, Red, Yellow},
		{79, YellowV, Red, Yellow},
		{80, AllRed2, Red, Red},
	}
	for _, c := range cases {
		s := tm.StageAt(c.phase)
		assert.Equal(t, c.stage, s, "phase %d", c.phase)
		assert.Equal(t, c.h, ForAxis(s, grid.AxisH), "phase %d H", c.phase)
		assert.Equal(t, c.v, ForAxis(s, grid.AxisV), "phase %d V", c.phase)
	}
}

func TestValidateRejectsDegenerateTimings(t *testing.T) {
	bad := []Timing{
		{GreenH: 40, YellowH: 4, GreenV: 40, YellowV: 4, AllRed: 0},
		{GreenH: 40, YellowH: 0, GreenV: 40, YellowV: 4, AllRed: 2},
		{GreenH: 6, YellowH: 4, GreenV: 40, YellowV: 4, AllRed: 2},
		{GreenH: 40, YellowH: 4, GreenV: 7, YellowV: 5, AllRed: 2},
	}
	for _, tm := range bad {
		assert.Error(t, tm.Validate(), "%+v", tm)
	}
}

func TestGreenWaveOffsets(t *testing.T) {
	assert.Equal(t, []int{0}, GreenWaveOffsets(5, nil, 10))
	assert.Equal(t, []int{0, 5, 15}, GreenWaveOffsets(5, []float64{10, 20}, 10))
	assert.Equal(t, []int{0, 2, 3}, GreenWaveOffsets(4, []float64{6, 2}, 10))
}
