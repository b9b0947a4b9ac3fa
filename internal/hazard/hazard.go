// Package hazard consumes the externally supplied chemical concentration
// field and turns it into per-driver exposure, AEGL classification and the
// hazard centre used for evacuation direction choices.
package hazard

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/cxd309/evacsim/internal/grid"
	"github.com/cxd309/evacsim/internal/vehicle"
)

// Frame is one update interval of the concentration field, already
// interpolated to cells.
type Frame struct {
	Width  int       `json:"width" msgpack:"w"`
	Height int       `json:"height" msgpack:"h"`
	Values []float64 `json:"values" msgpack:"v"` // row-major, y*Width+x
	// Center is the reported plume centre; when absent the
	// concentration-weighted centroid is used.
	Center *[2]float64 `json:"center,omitempty" msgpack:"c,omitempty"`
}

// Validate checks the frame dimensions against the grid.
func (f Frame) Validate(g *grid.Grid) error {
	if f.Width != g.Width() || f.Height != g.Height() {
		return fmt.Errorf("frame is %dx%d, grid is %dx%d", f.Width, f.Height, g.Width(), g.Height())
	}
	if len(f.Values) != f.Width*f.Height {
		return fmt.Errorf("frame has %d values, want %d", len(f.Values), f.Width*f.Height)
	}
	for i, v := range f.Values {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("frame value %d is %g", i, v)
		}
	}
	return nil
}

// At returns the concentration in c, or 0 outside the frame.
func (f Frame) At(c grid.Coord) float64 {
	if c.X < 0 || c.Y < 0 || c.X >= f.Width || c.Y >= f.Height {
		return 0
	}
	return f.Values[c.Y*f.Width+c.X]
}

// Centre returns the plume centre, falling back to the weighted centroid.
// ok is false for an empty field.
func (f Frame) Centre() (orb.Point, bool) {
	if f.Center != nil {
		return orb.Point{f.Center[0], f.Center[1]}, true
	}
	var sx, sy, sw float64
	for i, v := range f.Values {
		if v <= 0 {
			continue
		}
		sx += float64(i%f.Width) * v
		sy += float64(i/f.Width) * v
		sw += v
	}
	if sw == 0 {
		return orb.Point{}, false
	}
	return orb.Point{sx / sw, sy / sw}, true
}

// Provider is the environmental field stream: one frame per update
// interval.
type Provider interface {
	// Frame returns frame i. ok is false when no field is available.
	Frame(i int) (f Frame, ok bool)
}

// Sequence is an in-memory Provider. Indices past the end repeat the last
// frame.
type Sequence []Frame

func (s Sequence) Frame(i int) (Frame, bool) {
	if len(s) == 0 {
		return Frame{}, false
	}
	if i >= len(s) {
		i = len(s) - 1
	}
	if i < 0 {
		i = 0
	}
	return s[i], true
}

// Uniform returns a frame with the same concentration everywhere.
func Uniform(g *grid.Grid, value float64) Frame {
	vals := make([]float64, g.Width()*g.Height())
	for i := range vals {
		vals[i] = value
	}
	return Frame{Width: g.Width(), Height: g.Height(), Values: vals}
}

// Thresholds are the AEGL exposure levels.
type Thresholds struct {
	AEGL2 float64
	AEGL3 float64
}

// Outcome is what a dose did to a driver.
type Outcome uint8

const (
	Unaffected Outcome = iota
	ReachedAEGL2
	ReachedAEGL3
)

// Expose adds one tick of exposure to d and reports any newly crossed
// threshold. A driver crossing both in one tick reports ReachedAEGL3 and is
// marked AEGL-2 affected as well. Incapacitated drivers, whether by dose or
// by a crash, accumulate nothing further.
func Expose(d *vehicle.Driver, conc float64, th Thresholds) Outcome {
	if conc <= 0 || d.Incapacitated {
		return Unaffected
	}
	d.Exposure += conc * d.Susceptibility
	out := Unaffected
	if !d.AEGL2 && d.Exposure >= th.AEGL2 {
		d.AEGL2 = true
		out = ReachedAEGL2
	}
	if d.Exposure >= th.AEGL3 {
		d.Incapacitated = true
		out = ReachedAEGL3
	}
	return out
}

// AwayFrom returns the cardinal heading best aligned with the direction from
// centre to pos. ok is false when pos is at the centre.
func AwayFrom(centre, pos orb.Point) (grid.Heading, bool) {
	if planar.Distance(centre, pos) < 1e-9 {
		return grid.North, false
	}
	dx, dy := pos[0]-centre[0], pos[1]-centre[1]
	best, bestDot := grid.North, math.Inf(-1)
	for _, h := range grid.Headings {
		hx, hy := h.Vec()
		if dot := dx*float64(hx) + dy*float64(hy); dot > bestDot {
			best, bestDot = h, dot
		}
	}
	return best, true
}

// Point converts a continuous grid position to an orb point.
func Point(x, y float64) orb.Point { return orb.Point{x, y} }
