package grid

// Builder lays out streets on an empty grid and produces GridData. Where
// streets of different axes overlap the cells become intersection cells
// carrying the union of both streets' headings.
type Builder struct {
	width, height int
	cells         map[Coord]*CellData
	order         []Coord
	signals       []IntersectionData
	signs         []SignData
}

// NewBuilder starts an empty width x height grid.
func NewBuilder(width, height int) *Builder {
	return &Builder{width: width, height: height, cells: make(map[Coord]*CellData)}
}

func (b *Builder) lay(c Coord, h Heading, corridor bool) {
	cd, ok := b.cells[c]
	if !ok {
		cd = &CellData{X: c.X, Y: c.Y, Role: Road}
		b.cells[c] = cd
		b.order = append(b.order, c)
	}
	for _, have := range cd.Headings {
		if have == h {
			cd.Corridor = cd.Corridor || corridor
			return
		}
		if have.Axis() != h.Axis() {
			cd.Role = Intersection
		}
	}
	cd.Headings = append(cd.Headings, h)
	cd.Corridor = cd.Corridor || corridor
}

// HStreet lays an east-west street from x0 to x1 whose i-th lane occupies
// row y+i with heading lanes[i].
func (b *Builder) HStreet(y, x0, x1 int, lanes ...Heading) *Builder {
	return b.hstreet(y, x0, x1, false, lanes)
}

// VStreet lays a north-south street from y0 to y1 whose i-th lane occupies
// column x+i with heading lanes[i].
func (b *Builder) VStreet(x, y0, y1 int, lanes ...Heading) *Builder {
	return b.vstreet(x, y0, y1, false, lanes)
}

// HCorridor is HStreet with every cell marked as an evacuation corridor.
func (b *Builder) HCorridor(y, x0, x1 int, lanes ...Heading) *Builder {
	return b.hstreet(y, x0, x1, true, lanes)
}

// VCorridor is VStreet with every cell marked as an evacuation corridor.
func (b *Builder) VCorridor(x, y0, y1 int, lanes ...Heading) *Builder {
	return b.vstreet(x, y0, y1, true, lanes)
}

func (b *Builder) hstreet(y, x0, x1 int, corridor bool, lanes []Heading) *Builder {
	for i, h := range lanes {
		for x := min(x0, x1); x <= max(x0, x1); x++ {
			b.lay(Coord{x, y + i}, h, corridor)
		}
	}
	return b
}

func (b *Builder) vstreet(x, y0, y1 int, corridor bool, lanes []Heading) *Builder {
	for i, h := range lanes {
		for y := min(y0, y1); y <= max(y0, y1); y++ {
			b.lay(Coord{x + i, y}, h, corridor)
		}
	}
	return b
}

// Limit sets the speed limit of an existing cell.
func (b *Builder) Limit(x, y int, limit float64) *Builder {
	if cd, ok := b.cells[Coord{x, y}]; ok {
		cd.SpeedLimit = limit
	}
	return b
}

// Signal attaches controller to the intersection containing (x, y).
func (b *Builder) Signal(x, y, controller int) *Builder {
	b.signals = append(b.signals, IntersectionData{X: x, Y: y, Controller: controller})
	return b
}

// Sign places an evacuation sign.
func (b *Builder) Sign(x, y int) *Builder {
	b.signs = append(b.signs, SignData{X: x, Y: y})
	return b
}

// Data returns the accumulated GridData.
func (b *Builder) Data() GridData {
	d := GridData{Width: b.width, Height: b.height}
	for _, c := range b.order {
		d.Cells = append(d.Cells, *b.cells[c])
	}
	d.Intersections = append(d.Intersections, b.signals...)
	d.Signs = append(d.Signs, b.signs...)
	return d
}

// Build validates and returns the grid.
func (b *Builder) Build() (*Grid, error) { return NewGrid(b.Data()) }
