// Package grid provides the spatial network model of the simulation: a static
// grid of road, intersection and non-road cells, each with a set of legal
// travel headings, plus traversal helpers and a vehicle occupancy index.
//
// A Grid is read-only once built. Occupancy is derived from vehicle
// positions and lives in a separate Occupancy value.
package grid

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Coord is an integer cell coordinate. +Y is north.
type Coord struct {
	X int `json:"x" msgpack:"x"`
	Y int `json:"y" msgpack:"y"`
}

func (c Coord) String() string { return fmt.Sprintf("(%d,%d)", c.X, c.Y) }

// Step returns the coordinate n cells from c along h.
func (c Coord) Step(h Heading, n int) Coord {
	dx, dy := h.Vec()
	return Coord{X: c.X + dx*n, Y: c.Y + dy*n}
}

// CellOf returns the cell containing the continuous position (x, y).
func CellOf(x, y float64) Coord {
	return Coord{X: int(math.Floor(x + 0.5)), Y: int(math.Floor(y + 0.5))}
}

// Role classifies a cell.
type Role uint8

const (
	NonRoad Role = iota
	Road
	Intersection
)

var roleNames = map[Role]string{NonRoad: "nonroad", Road: "road", Intersection: "intersection"}

func (r Role) String() string { return roleNames[r] }

func (r Role) MarshalJSON() ([]byte, error) { return json.Marshal(r.String()) }

func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch strings.ToLower(s) {
	case "road":
		*r = Road
	case "intersection":
		*r = Intersection
	case "nonroad", "non-road", "":
		*r = NonRoad
	default:
		return fmt.Errorf("unknown cell role %q", s)
	}
	return nil
}

// DefaultSpeedLimit is the road speed limit (cells/tick) used when a cell
// does not specify one.
const DefaultSpeedLimit = 1.0

// CellData is the serialisable description of one cell.
type CellData struct {
	X          int       `json:"x"`
	Y          int       `json:"y"`
	Role       Role      `json:"role"`
	Headings   []Heading `json:"headings"`
	Corridor   bool      `json:"corridor,omitempty"`
	SpeedLimit float64   `json:"speed_limit,omitempty"` // cells/tick; 0 = DefaultSpeedLimit
}

// IntersectionData attaches a signal controller to the intersection that
// contains the cell at (X, Y).
type IntersectionData struct {
	X          int `json:"x"`
	Y          int `json:"y"`
	Controller int `json:"controller"`
}

// SignData places an evacuation sign.
type SignData struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// GridData is the serialisable input representation of the network, as
// produced by the external geometry loader.
type GridData struct {
	Width         int                `json:"width"`
	Height        int                `json:"height"`
	Cells         []CellData         `json:"cells"`
	Intersections []IntersectionData `json:"intersections"`
	Signs         []SignData         `json:"signs,omitempty"`
}

// Cell is one unit location of the network.
type Cell struct {
	Coord
	Role       Role
	Headings   HeadingSet
	Corridor   bool
	SpeedLimit float64
	// Junction is the index of the intersection this cell belongs to, or -1.
	Junction int
}

// Junction is a contiguous block of intersection cells.
type Junction struct {
	ID    int
	Cells []Coord
	// Anchor is the south-west corner; route goals refer to junctions by it.
	Anchor   Coord
	Min, Max Coord
	// Controller is the signal controller index, or -1 when unsignalised.
	Controller int
	// Corridor is set when any approach or exit road is an evacuation corridor.
	Corridor bool
}

// Center returns the continuous centre of the junction.
func (j Junction) Center() (float64, float64) {
	return float64(j.Min.X+j.Max.X) / 2, float64(j.Min.Y+j.Max.Y) / 2
}

// Contains reports whether c lies inside the junction's bounding box.
func (j Junction) Contains(c Coord) bool {
	return c.X >= j.Min.X && c.X <= j.Max.X && c.Y >= j.Min.Y && c.Y <= j.Max.Y
}

// Grid is the static spatial network.
type Grid struct {
	width, height int
	cells         []Cell
	junctions     []Junction
	byAnchor      map[Coord]int
	signs         []Coord
	controllers   int
}

// NewGrid builds a Grid from GridData, returning an error if the data is
// malformed. Cells omitted from data are non-road.
func NewGrid(data GridData) (*Grid, error) {
	if data.Width <= 0 || data.Height <= 0 {
		return nil, fmt.Errorf("grid size %dx%d is not positive", data.Width, data.Height)
	}
	g := &Grid{
		width:    data.Width,
		height:   data.Height,
		cells:    make([]Cell, data.Width*data.Height),
		byAnchor: make(map[Coord]int),
	}
	for y := 0; y < g.height; y++ {
		for x := 0; x < g.width; x++ {
			g.cells[g.index(Coord{x, y})] = Cell{Coord: Coord{x, y}, Junction: -1}
		}
	}
	seen := make(map[Coord]bool, len(data.Cells))
	for _, cd := range data.Cells {
		if err := g.addCell(cd, seen); err != nil {
			return nil, err
		}
	}
	g.groupJunctions()
	for _, id := range data.Intersections {
		if err := g.attachController(id); err != nil {
			return nil, err
		}
	}
	for _, s := range data.Signs {
		c := Coord{s.X, s.Y}
		if !g.InBounds(c) {
			return nil, fmt.Errorf("sign %v out of bounds", c)
		}
		g.signs = append(g.signs, c)
	}
	return g, nil
}

func (g *Grid) addCell(cd CellData, seen map[Coord]bool) error {
	c := Coord{cd.X, cd.Y}
	if !g.InBounds(c) {
		return fmt.Errorf("cell %v out of bounds %dx%d", c, g.width, g.height)
	}
	if seen[c] {
		return fmt.Errorf("cell %v defined twice", c)
	}
	seen[c] = true
	hs := SetOf(cd.Headings...)
	switch cd.Role {
	case Road, Intersection:
		if hs.Empty() {
			return fmt.Errorf("%s cell %v has no legal headings", cd.Role, c)
		}
	case NonRoad:
		if !hs.Empty() {
			return fmt.Errorf("non-road cell %v has headings %s", c, hs)
		}
	}
	limit := cd.SpeedLimit
	if limit < 0 {
		return fmt.Errorf("cell %v has negative speed limit", c)
	}
	if limit == 0 {
		limit = DefaultSpeedLimit
	}
	g.cells[g.index(c)] = Cell{
		Coord:      c,
		Role:       cd.Role,
		Headings:   hs,
		Corridor:   cd.Corridor,
		SpeedLimit: limit,
		Junction:   -1,
	}
	return nil
}

// groupJunctions flood-fills 4-connected intersection cells into junctions.
func (g *Grid) groupJunctions() {
	for i := range g.cells {
		start := g.cells[i]
		if start.Role != Intersection || start.Junction >= 0 {
			continue
		}
		id := len(g.junctions)
		j := Junction{ID: id, Min: start.Coord, Max: start.Coord, Controller: -1}
		stack := []Coord{start.Coord}
		g.cells[i].Junction = id
		for len(stack) > 0 {
			c := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			j.Cells = append(j.Cells, c)
			j.Min = Coord{min(j.Min.X, c.X), min(j.Min.Y, c.Y)}
			j.Max = Coord{max(j.Max.X, c.X), max(j.Max.Y, c.Y)}
			for _, h := range Headings {
				n := c.Step(h, 1)
				if !g.InBounds(n) {
					continue
				}
				nc := &g.cells[g.index(n)]
				if nc.Role == Intersection && nc.Junction < 0 {
					nc.Junction = id
					stack = append(stack, n)
				} else if nc.Role == Road && nc.Corridor {
					j.Corridor = true
				}
			}
		}
		j.Anchor = j.Min
		g.byAnchor[j.Anchor] = id
		g.junctions = append(g.junctions, j)
	}
}

func (g *Grid) attachController(d IntersectionData) error {
	c := Coord{d.X, d.Y}
	cell, ok := g.Cell(c)
	if !ok || cell.Role != Intersection {
		return fmt.Errorf("intersection reference %v is not an intersection cell", c)
	}
	if d.Controller < 0 {
		return fmt.Errorf("intersection %v: negative controller index %d", c, d.Controller)
	}
	j := &g.junctions[cell.Junction]
	if j.Controller >= 0 && j.Controller != d.Controller {
		return fmt.Errorf("intersection %v has controllers %d and %d", c, j.Controller, d.Controller)
	}
	j.Controller = d.Controller
	if d.Controller+1 > g.controllers {
		g.controllers = d.Controller + 1
	}
	return nil
}

func (g *Grid) index(c Coord) int { return c.Y*g.width + c.X }

// Width returns the grid width in cells.
func (g *Grid) Width() int { return g.width }

// Height returns the grid height in cells.
func (g *Grid) Height() int { return g.height }

// InBounds reports whether c lies on the grid.
func (g *Grid) InBounds(c Coord) bool {
	return c.X >= 0 && c.Y >= 0 && c.X < g.width && c.Y < g.height
}

// Cell looks up the cell at c.
func (g *Grid) Cell(c Coord) (Cell, bool) {
	if !g.InBounds(c) {
		return Cell{}, false
	}
	return g.cells[g.index(c)], true
}

// Drivable reports whether c is a road or intersection cell.
func (g *Grid) Drivable(c Coord) bool {
	cell, ok := g.Cell(c)
	return ok && cell.Role != NonRoad
}

// Legal reports whether h is a legal travel heading on c.
func (g *Grid) Legal(c Coord, h Heading) bool {
	cell, ok := g.Cell(c)
	return ok && cell.Role != NonRoad && cell.Headings.Has(h)
}

// IsIntersection reports whether c is an intersection cell.
func (g *Grid) IsIntersection(c Coord) bool {
	cell, ok := g.Cell(c)
	return ok && cell.Role == Intersection
}

// SpeedLimit returns the posted limit on c, or 0 off-road.
func (g *Grid) SpeedLimit(c Coord) float64 {
	cell, ok := g.Cell(c)
	if !ok || cell.Role == NonRoad {
		return 0
	}
	return cell.SpeedLimit
}

// MaxSpeedLimit returns the highest posted limit on the grid.
func (g *Grid) MaxSpeedLimit() float64 {
	top := 0.0
	for _, c := range g.cells {
		if c.Role != NonRoad {
			top = max(top, c.SpeedLimit)
		}
	}
	return top
}

// Junctions returns all junctions in id order.
func (g *Grid) Junctions() []Junction { return g.junctions }

// Junction returns the junction with id.
func (g *Grid) Junction(id int) (Junction, bool) {
	if id < 0 || id >= len(g.junctions) {
		return Junction{}, false
	}
	return g.junctions[id], true
}

// JunctionAt returns the junction containing c.
func (g *Grid) JunctionAt(c Coord) (Junction, bool) {
	cell, ok := g.Cell(c)
	if !ok || cell.Junction < 0 {
		return Junction{}, false
	}
	return g.junctions[cell.Junction], true
}

// JunctionByAnchor resolves a route goal coordinate to its junction.
func (g *Grid) JunctionByAnchor(c Coord) (Junction, bool) {
	id, ok := g.byAnchor[c]
	if !ok {
		return Junction{}, false
	}
	return g.junctions[id], true
}

// ControllerFor returns the controller index of junction id, or -1.
func (g *Grid) ControllerFor(id int) int {
	j, ok := g.Junction(id)
	if !ok {
		return -1
	}
	return j.Controller
}

// Controllers returns one more than the highest controller index referenced.
func (g *Grid) Controllers() int { return g.controllers }

// Signs returns the sign positions.
func (g *Grid) Signs() []Coord { return g.signs }

// Data serialises g back to GridData.
func (g *Grid) Data() GridData {
	d := GridData{Width: g.width, Height: g.height}
	for _, c := range g.cells {
		if c.Role == NonRoad {
			continue
		}
		cd := CellData{X: c.X, Y: c.Y, Role: c.Role, Headings: c.Headings.List(), Corridor: c.Corridor}
		if c.SpeedLimit != DefaultSpeedLimit {
			cd.SpeedLimit = c.SpeedLimit
		}
		d.Cells = append(d.Cells, cd)
	}
	for _, j := range g.junctions {
		if j.Controller >= 0 {
			d.Intersections = append(d.Intersections, IntersectionData{X: j.Anchor.X, Y: j.Anchor.Y, Controller: j.Controller})
		}
	}
	for _, s := range g.signs {
		d.Signs = append(d.Signs, SignData{X: s.X, Y: s.Y})
	}
	return d
}
