// Package signal implements the intersection signal controllers: a cyclic
// phase counter per controller whose colours are a pure function of the
// phase, and a four-stage retiming protocol coordinated by Network.
package signal

import (
	"fmt"
	"math"

	"github.com/cxd309/evacsim/internal/grid"
)

// Color is a signal aspect shown to one approach group.
type Color uint8

const (
	Red Color = iota
	Yellow
	Green
)

func (c Color) String() string {
	switch c {
	case Green:
		return "GREEN"
	case Yellow:
		return "YELLOW"
	default:
		return "RED"
	}
}

// Stage is the sub-phase a controller is in. The cycle runs
// AllRed2 → GreenH → YellowH → AllRed1 → GreenV → YellowV → AllRed2.
type Stage uint8

const (
	AllRed2 Stage = iota
	GreenH
	YellowH
	AllRed1
	GreenV
	YellowV
)

var stageNames = [...]string{"ALL_RED_2", "GREEN_H", "YELLOW_H", "ALL_RED_1", "GREEN_V", "YELLOW_V"}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("Stage(%d)", s)
}

// Next is the stage that follows s in the cycle.
func (s Stage) Next() Stage { return (s + 1) % 6 }

// AllRed reports whether no approach may enter during s.
func (s Stage) AllRed() bool { return s == AllRed1 || s == AllRed2 }

// Colors returns the aspects shown to the H and V approach groups.
func (s Stage) Colors() (h, v Color) {
	switch s {
	case GreenH:
		return Green, Red
	case YellowH:
		return Yellow, Red
	case GreenV:
		return Red, Green
	case YellowV:
		return Red, Yellow
	default:
		return Red, Red
	}
}

// Timing is the duration table of one controller, in ticks. GreenH and
// GreenV are each approach group's whole share of the cycle: the leading
// all-red gap, the green proper and the trailing yellow.
type Timing struct {
	GreenH  int `json:"green_h" msgpack:"gh"`
	YellowH int `json:"yellow_h" msgpack:"yh"`
	GreenV  int `json:"green_v" msgpack:"gv"`
	YellowV int `json:"yellow_v" msgpack:"yv"`
	AllRed  int `json:"all_red" msgpack:"ar"`
	// Offset aligns this controller with the rest of the network: after t
	// advances the phase is (t + Offset) mod Cycle.
	Offset int `json:"offset" msgpack:"off"`
}

// Cycle returns the cycle length.
func (t Timing) Cycle() int { return t.GreenH + t.GreenV }

// Validate checks that every stage lasts at least one tick.
func (t Timing) Validate() error {
	switch {
	case t.AllRed < 1:
		return fmt.Errorf("all-red gap %d must be at least one tick", t.AllRed)
	case t.YellowH < 1 || t.YellowV < 1:
		return fmt.Errorf("yellow durations %d/%d must be at least one tick", t.YellowH, t.YellowV)
	case t.GreenH-t.YellowH-t.AllRed < 1:
		return fmt.Errorf("green_h %d leaves no green after yellow %d and all-red %d", t.GreenH, t.YellowH, t.AllRed)
	case t.GreenV-t.YellowV-t.AllRed < 1:
		return fmt.Errorf("green_v %d leaves no green after yellow %d and all-red %d", t.GreenV, t.YellowV, t.AllRed)
	}
	return nil
}

// start returns the first phase of stage s.
func (t Timing) start(s Stage) int {
	switch s {
	case AllRed2:
		return 0
	case GreenH:
		return t.AllRed
	case YellowH:
		return t.GreenH - t.YellowH
	case AllRed1:
		return t.GreenH
	case GreenV:
		return t.GreenH + t.AllRed
	default:
		return t.Cycle() - t.YellowV
	}
}

// StageAt returns the stage for phase.
func (t Timing) StageAt(phase int) Stage {
	phase = mod(phase, t.Cycle())
	switch {
	case phase < t.AllRed:
		return AllRed2
	case phase < t.GreenH-t.YellowH:
		return GreenH
	case phase < t.GreenH:
		return YellowH
	case phase < t.GreenH+t.AllRed:
		return AllRed1
	case phase < t.Cycle()-t.YellowV:
		return GreenV
	default:
		return YellowV
	}
}

// GreenWaveOffsets returns per-controller offsets for controllers strung
// along a corridor. distances[k] is the distance in cells between controller
// k and k+1; each hop adds base scaled by distance over the
// accelerate-to-cruise distance.
func GreenWaveOffsets(base int, distances []float64, accelToCruise float64) []int {
	out := make([]int, len(distances)+1)
	for k, d := range distances {
		out[k+1] = out[k] + int(math.Round(float64(base)*d/accelToCruise))
	}
	return out
}

// ForAxis returns the colour c shows to the approach group of heading h.
func ForAxis(s Stage, a grid.Axis) Color {
	h, v := s.Colors()
	if a == grid.AxisH {
		return h
	}
	return v
}

func mod(a, n int) int {
	if n <= 0 {
		return 0
	}
	a %= n
	if a < 0 {
		a += n
	}
	return a
}
