package world

import (
	"math"

	"github.com/cxd309/evacsim/internal/grid"
	"github.com/cxd309/evacsim/internal/kinematics"
	"github.com/cxd309/evacsim/internal/signal"
	"github.com/cxd309/evacsim/internal/vehicle"
)

// laneHalfWidth is how far off a lane's centre line another vehicle may sit
// and still count as being in that lane.
const laneHalfWidth = 0.5

// Neighbour is a vehicle found by a lane scan.
type Neighbour struct {
	V *vehicle.Vehicle
	// Dist is the centre-to-centre distance along the scan heading.
	Dist float64
	// Speed is the neighbour's speed component along the scan heading,
	// clamped at zero.
	Speed float64
}

// Gap returns the free space between the two vehicles.
func (n Neighbour) Gap() float64 { return n.Dist - 1 }

// Obstacle converts n into the kinematics view of a leader.
func (n Neighbour) Obstacle() *kinematics.Obstacle {
	return &kinematics.Obstacle{Gap: n.Gap(), Speed: n.Speed}
}

// Vantage is a position and heading to scan from. It need not be a real
// vehicle: lane-change checks scan the target lane.
type Vantage struct {
	X, Y    float64
	Heading grid.Heading
	// Self is excluded from results; -1 for none.
	Self int
}

// VantageOf returns the vantage at v's position.
func VantageOf(v *vehicle.Vehicle) Vantage {
	return Vantage{X: v.X, Y: v.Y, Heading: v.Heading, Self: v.ID}
}

// Shifted returns p moved one lane to side.
func (p Vantage) Shifted(side grid.Side) Vantage {
	c := grid.Lateral(grid.Coord{}, p.Heading, side)
	p.X += float64(c.X)
	p.Y += float64(c.Y)
	return p
}

func (p Vantage) cell() grid.Coord { return grid.CellOf(p.X, p.Y) }

// relative returns o's offset from p along and across p's heading.
func (p Vantage) relative(o *vehicle.Vehicle) (along, lat float64) {
	dx, dy := o.X-p.X, o.Y-p.Y
	hx, hy := p.Heading.Vec()
	lx, ly := p.Heading.Left().Vec()
	return dx*float64(hx) + dy*float64(hy), dx*float64(lx) + dy*float64(ly)
}

func projected(o *vehicle.Vehicle, h grid.Heading) float64 {
	ox, oy := o.Heading.Vec()
	hx, hy := h.Vec()
	return math.Max(0, o.Speed*float64(ox*hx+oy*hy))
}

// checkRadius clamps radius to the configured bound and raises an
// invariant violation when it is exceeded.
func (c *Context) checkRadius(self, radius int) int {
	bound := c.Cfg.Kinematics.LookaheadBound
	if radius > bound {
		c.Violation(self, "lookahead of %d cells exceeds bound %d", radius, bound)
		return bound
	}
	return radius
}

// Ahead returns the nearest on-grid vehicle in p's lane within radius cells
// ahead. Same-cell occupants are considered first and ties go to the lower
// id. skip, if non-nil, drops individual relations.
func (c *Context) Ahead(p Vantage, radius int, skip func(o *vehicle.Vehicle) bool) (Neighbour, bool) {
	radius = c.checkRadius(p.Self, radius)
	var (
		best  Neighbour
		found bool
	)
	origin := p.cell()
	for k := 0; k <= radius; k++ {
		cell := origin.Step(p.Heading, k)
		if !c.Grid.InBounds(cell) {
			break
		}
		if found && float64(k-1) > best.Dist {
			break
		}
		for _, id := range c.Occ.At(cell) {
			if id == p.Self {
				continue
			}
			o := c.Fleet.Get(id)
			if o == nil || !o.OnGrid() {
				continue
			}
			along, lat := p.relative(o)
			if math.Abs(lat) >= laneHalfWidth || along < 0 || along > float64(radius) {
				continue
			}
			if along == 0 && o.Heading == p.Heading && (p.Self < 0 || o.ID > p.Self) {
				continue
			}
			if skip != nil && skip(o) {
				continue
			}
			if !found || along < best.Dist || (along == best.Dist && o.ID < best.V.ID) {
				best = Neighbour{V: o, Dist: along, Speed: projected(o, p.Heading)}
				found = true
			}
		}
	}
	return best, found
}

// Behind returns the nearest on-grid vehicle travelling on p's heading in
// p's lane within radius cells behind.
func (c *Context) Behind(p Vantage, radius int) (Neighbour, bool) {
	radius = c.checkRadius(p.Self, radius)
	var (
		best  Neighbour
		found bool
	)
	origin := p.cell()
	back := p.Heading.Opposite()
	for k := 0; k <= radius; k++ {
		cell := origin.Step(back, k)
		if !c.Grid.InBounds(cell) {
			break
		}
		for _, id := range c.Occ.At(cell) {
			if id == p.Self {
				continue
			}
			o := c.Fleet.Get(id)
			if o == nil || !o.OnGrid() || o.Heading != p.Heading {
				continue
			}
			along, lat := p.relative(o)
			if math.Abs(lat) >= laneHalfWidth || along > 0 || -along > float64(radius) {
				continue
			}
			if along == 0 && (p.Self < 0 || o.ID < p.Self) {
				continue
			}
			if !found || -along < best.Dist || (-along == best.Dist && o.ID < best.V.ID) {
				best = Neighbour{V: o, Dist: -along, Speed: o.Speed}
				found = true
			}
		}
	}
	return best, found
}

// Occupied reports whether any on-grid vehicle other than self is in c.
func (c *Context) Occupied(cell grid.Coord, self int) bool {
	for _, id := range c.Occ.At(cell) {
		if id == self {
			continue
		}
		if o := c.Fleet.Get(id); o != nil && o.OnGrid() {
			return true
		}
	}
	return false
}

// Footprint reports whether an on-grid vehicle other than self overlaps the
// one-cell footprint centred at (x, y).
func (c *Context) Footprint(x, y float64, self int) bool {
	centre := grid.CellOf(x, y)
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			for _, id := range c.Occ.At(grid.Coord{X: centre.X + dx, Y: centre.Y + dy}) {
				if id == self {
					continue
				}
				o := c.Fleet.Get(id)
				if o == nil || !o.OnGrid() {
					continue
				}
				if math.Abs(o.X-x) < 1-1e-9 && math.Abs(o.Y-y) < 1-1e-9 {
					return true
				}
			}
		}
	}
	return false
}

// Signal is the next controlled stop line ahead of a vehicle.
type Signal struct {
	Junction grid.Junction
	Color    signal.Color
	// Gap is the free space to the stop line: the vehicle stops with its
	// centre on the last road cell before the junction.
	Gap float64
	// Cells is the distance in whole cells from the vehicle's cell to the
	// first junction cell.
	Cells int
}

// SignalAhead finds the next junction within max cells of p. Vehicles
// already inside a junction see no signal.
func (c *Context) SignalAhead(p Vantage, max int) (Signal, bool) {
	origin := p.cell()
	if c.Grid.IsIntersection(origin) {
		return Signal{}, false
	}
	j, k, ok := c.Grid.NextJunction(origin, p.Heading, max)
	if !ok {
		return Signal{}, false
	}
	entry := origin.Step(p.Heading, k)
	hx, hy := p.Heading.Vec()
	entryAlong := float64(entry.X*hx + entry.Y*hy)
	selfAlong := p.X*float64(hx) + p.Y*float64(hy)
	return Signal{
		Junction: j,
		Color:    c.Color(j, p.Heading),
		Gap:      entryAlong - selfAlong - 1,
		Cells:    k,
	}, true
}

// Stationary reports whether o is a stopped obstacle that will not move on
// its own: disabled and stopped.
func Stationary(o *vehicle.Vehicle) bool {
	return o.Role == vehicle.Disabled && o.Stopped()
}

// Relocate moves v to (x, y) and keeps the occupancy index current.
func (c *Context) Relocate(v *vehicle.Vehicle, x, y float64) {
	from := v.Cell()
	v.X, v.Y = x, y
	c.Occ.Move(from, v.Cell(), v.ID)
}

// HeadingAt reports whether an on-grid vehicle other than self with
// heading h is in cell. If moving is set, stopped vehicles are ignored.
func (c *Context) HeadingAt(cell grid.Coord, h grid.Heading, self int, moving bool) bool {
	for _, id := range c.Occ.At(cell) {
		if id == self {
			continue
		}
		o := c.Fleet.Get(id)
		if o == nil || !o.OnGrid() || o.Heading != h {
			continue
		}
		if moving && o.Stopped() {
			continue
		}
		return true
	}
	return false
}
