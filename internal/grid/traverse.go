package grid

// Side selects a lateral neighbour relative to a heading.
type Side int8

const (
	LeftSide  Side = -1
	RightSide Side = 1
)

// Ahead returns the cell n steps ahead of c along h and whether it is on the
// grid.
func (g *Grid) Ahead(c Coord, h Heading, n int) (Cell, bool) {
	return g.Cell(c.Step(h, n))
}

// Ray visits the cells 0..max steps ahead of c along h, stopping early at
// the grid edge or when fn returns false. It returns the number of cells
// visited.
func (g *Grid) Ray(c Coord, h Heading, max int, fn func(k int, cell Cell) bool) int {
	visited := 0
	for k := 0; k <= max; k++ {
		cell, ok := g.Ahead(c, h, k)
		if !ok {
			break
		}
		visited++
		if !fn(k, cell) {
			break
		}
	}
	return visited
}

// Lateral returns the neighbouring coordinate on side of c when travelling
// along h.
func Lateral(c Coord, h Heading, side Side) Coord {
	if side == LeftSide {
		return c.Step(h.Left(), 1)
	}
	return c.Step(h.Right(), 1)
}

// NextJunction scans forward from c along h (excluding c itself) and returns
// the first junction reached within max cells and its distance in cells.
// The scan stops at the first non-drivable cell.
func (g *Grid) NextJunction(c Coord, h Heading, max int) (Junction, int, bool) {
	var (
		found Junction
		dist  int
		ok    bool
	)
	g.Ray(c, h, max, func(k int, cell Cell) bool {
		if k == 0 {
			return true
		}
		if cell.Role == NonRoad {
			return false
		}
		if cell.Role == Intersection {
			found, dist, ok = g.junctions[cell.Junction], k, true
			return false
		}
		return true
	})
	return found, dist, ok
}

// IsStopLine reports whether c is the last road cell before a junction when
// travelling along h.
func (g *Grid) IsStopLine(c Coord, h Heading) bool {
	cell, ok := g.Cell(c)
	if !ok || cell.Role != Road {
		return false
	}
	return g.IsIntersection(c.Step(h, 1))
}

// ExitCell returns the first road cell reached from c along h after leaving
// the junction c is in. ok is false if the path leaves the grid or the
// drivable network first.
func (g *Grid) ExitCell(c Coord, h Heading) (Coord, bool) {
	for k := 1; ; k++ {
		n := c.Step(h, k)
		cell, ok := g.Cell(n)
		if !ok || cell.Role == NonRoad {
			return Coord{}, false
		}
		if cell.Role == Road {
			return n, true
		}
	}
}

// PivotCell returns the cell inside the junction ahead of c where a vehicle
// travelling along h should turn to heading to. It is the first junction
// cell on the path that carries to as a legal heading and from which a legal
// exit along to exists.
func (g *Grid) PivotCell(c Coord, h, to Heading) (Coord, bool) {
	entered := false
	for k := 1; ; k++ {
		n := c.Step(h, k)
		cell, ok := g.Cell(n)
		if !ok || cell.Role == NonRoad {
			return Coord{}, false
		}
		if cell.Role == Road {
			if entered {
				return Coord{}, false
			}
			continue
		}
		entered = true
		if !cell.Headings.Has(to) {
			continue
		}
		if exit, ok := g.ExitCell(n, to); ok && g.Legal(exit, to) {
			return n, true
		}
	}
}

// LaneIndex returns how many legal same-heading lanes lie on side of c, i.e.
// 0 for the outermost lane on that side.
func (g *Grid) LaneIndex(c Coord, h Heading, side Side) int {
	n := 0
	for cur := Lateral(c, h, side); g.Legal(cur, h) && !g.IsIntersection(cur); cur = Lateral(cur, h, side) {
		n++
	}
	return n
}

// OnEdge reports whether moving one cell from c along h leaves the grid.
func (g *Grid) OnEdge(c Coord, h Heading) bool {
	return !g.InBounds(c.Step(h, 1))
}

// EdgeDistance returns the number of cells from c to the grid edge along h.
func (g *Grid) EdgeDistance(c Coord, h Heading) int {
	switch h {
	case North:
		return g.height - 1 - c.Y
	case East:
		return g.width - 1 - c.X
	case South:
		return c.Y
	default:
		return c.X
	}
}
