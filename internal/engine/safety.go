package engine

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/cxd309/evacsim/internal/grid"
	"github.com/cxd309/evacsim/internal/vehicle"
)

const (
	// overlapEps keeps vehicles exactly one cell apart from counting as
	// overlapping.
	overlapEps = 1e-9
	// collisionReach is how many cells around a vehicle the collision pass
	// looks for a partner. A tick moves a vehicle less than this.
	collisionReach = 3
)

// collisions disables every pair of vehicles that overlap after motion or
// whose paths crossed at the same time during the tick. The pass is skipped
// when accident modelling is off.
func (s *Sim) collisions() {
	ctx := s.ctx
	if !ctx.Cfg.Run.Accidents {
		return
	}
	for _, a := range ctx.Fleet.Vehicles {
		if a == nil || !a.OnGrid() {
			continue
		}
		c := a.Cell()
		for dy := -collisionReach; dy <= collisionReach; dy++ {
			for dx := -collisionReach; dx <= collisionReach; dx++ {
				for _, id := range ctx.Occ.At(grid.Coord{X: c.X + dx, Y: c.Y + dy}) {
					if id <= a.ID {
						continue
					}
					b := ctx.Fleet.Get(id)
					if b == nil || !b.OnGrid() || (!a.Active() && !b.Active()) {
						continue
					}
					if overlap(a, b) || crossed(a, b) {
						s.crash(a, b)
					}
				}
			}
		}
	}
}

func (s *Sim) crash(a, b *vehicle.Vehicle) {
	ctx := s.ctx
	for _, v := range []*vehicle.Vehicle{a, b} {
		v.Disable(ctx.Tick)
		v.Driver.Incapacitated = true
		v.Speed, v.Accel = 0, 0
	}
	ctx.Counters.Collisions++
	ctx.Counters.Accidents++
	ctx.Log.WithFields(logrus.Fields{
		"tick": ctx.Tick,
		"a":    a.ID,
		"b":    b.ID,
		"x":    a.X,
		"y":    a.Y,
	}).Warn("collision")
}

// overlap reports whether the one-cell footprints of a and b intersect.
func overlap(a, b *vehicle.Vehicle) bool {
	return math.Abs(a.X-b.X) < 1-overlapEps && math.Abs(a.Y-b.Y) < 1-overlapEps
}

// crossed reports whether a and b travelled through the same point this
// tick within one vehicle length of each other. Each vehicle's travel is
// taken as the straight segment from its start to its end position.
func crossed(a, b *vehicle.Vehicle) bool {
	ax, ay := a.X-a.PrevX, a.Y-a.PrevY
	bx, by := b.X-b.PrevX, b.Y-b.PrevY
	la, lb := math.Hypot(ax, ay), math.Hypot(bx, by)
	if la < overlapEps || lb < overlapEps {
		return false
	}
	t, u, ok := intersect(a.PrevX, a.PrevY, ax, ay, b.PrevX, b.PrevY, bx, by)
	if !ok {
		return false
	}
	// t and u are fractions of each vehicle's travel; a vehicle covers its
	// own half-length in 0.5/l of the tick.
	return math.Abs(t-u) < 0.5/la+0.5/lb
}

// intersect solves p + t*r = q + u*s for two segments and reports whether
// they meet with t and u in [0, 1]. Parallel segments never meet here;
// same-lane conflicts are caught by the overlap test.
func intersect(px, py, rx, ry, qx, qy, sx, sy float64) (t, u float64, ok bool) {
	den := rx*sy - ry*sx
	if math.Abs(den) < overlapEps {
		return 0, 0, false
	}
	wx, wy := qx-px, qy-py
	t = (wx*sy - wy*sx) / den
	u = (wx*ry - wy*rx) / den
	if t < 0 || t > 1 || u < 0 || u > 1 {
		return 0, 0, false
	}
	return t, u, true
}
