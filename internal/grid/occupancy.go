package grid

import "slices"

// Occupancy indexes vehicle ids by cell. It is derived from vehicle
// positions and rebuilt every tick; committed moves update it in place.
type Occupancy struct {
	width, height int
	cells         [][]int
}

// NewOccupancy returns an empty index sized for g.
func NewOccupancy(g *Grid) *Occupancy {
	return &Occupancy{
		width:  g.width,
		height: g.height,
		cells:  make([][]int, g.width*g.height),
	}
}

// Reset empties every cell.
func (o *Occupancy) Reset() {
	for i := range o.cells {
		o.cells[i] = o.cells[i][:0]
	}
}

func (o *Occupancy) slot(c Coord) (int, bool) {
	if c.X < 0 || c.Y < 0 || c.X >= o.width || c.Y >= o.height {
		return 0, false
	}
	return c.Y*o.width + c.X, true
}

// Add records id in c, keeping ids sorted. Off-grid coordinates are ignored.
func (o *Occupancy) Add(c Coord, id int) {
	i, ok := o.slot(c)
	if !ok {
		return
	}
	ids := o.cells[i]
	at, found := slices.BinarySearch(ids, id)
	if found {
		return
	}
	o.cells[i] = slices.Insert(ids, at, id)
}

// Remove deletes id from c.
func (o *Occupancy) Remove(c Coord, id int) {
	i, ok := o.slot(c)
	if !ok {
		return
	}
	ids := o.cells[i]
	if at, found := slices.BinarySearch(ids, id); found {
		o.cells[i] = slices.Delete(ids, at, at+1)
	}
}

// Move relocates id from one cell to another.
func (o *Occupancy) Move(from, to Coord, id int) {
	if from == to {
		return
	}
	o.Remove(from, id)
	o.Add(to, id)
}

// At returns the ids in c in ascending order. The slice must not be
// modified.
func (o *Occupancy) At(c Coord) []int {
	i, ok := o.slot(c)
	if !ok {
		return nil
	}
	return o.cells[i]
}

// Occupied reports whether any vehicle is recorded in c.
func (o *Occupancy) Occupied(c Coord) bool { return len(o.At(c)) > 0 }
