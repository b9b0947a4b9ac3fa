package vehicle

import (
	"fmt"

	"github.com/cxd309/evacsim/internal/grid"
)

// GarageData is the serialisable description of a garage from the external
// garage loader.
type GarageData struct {
	X        int          `json:"x"`
	Y        int          `json:"y"`
	Heading  grid.Heading `json:"heading"` // forced direction onto the road
	Capacity int          `json:"capacity"`
}

// Garage releases a fixed number of vehicles onto its exit cell. Capacity
// is never replenished.
type Garage struct {
	ID        int          `msgpack:"id"`
	Exit      grid.Coord   `msgpack:"exit"`
	Heading   grid.Heading `msgpack:"heading"`
	Capacity  int          `msgpack:"capacity"`
	Remaining int          `msgpack:"remaining"`
	// Queue holds ids of GarageSpawn vehicles waiting for the exit cell.
	Queue []int `msgpack:"queue"`
}

// NewGarage validates d against g.
func NewGarage(id int, d GarageData, g *grid.Grid) (*Garage, error) {
	c := grid.Coord{X: d.X, Y: d.Y}
	if d.Capacity < 0 {
		return nil, fmt.Errorf("garage %d: negative capacity %d", id, d.Capacity)
	}
	if !g.Legal(c, d.Heading) || g.IsIntersection(c) {
		return nil, fmt.Errorf("garage %d: exit %v is not a road cell carrying heading %s", id, c, d.Heading)
	}
	return &Garage{ID: id, Exit: c, Heading: d.Heading, Capacity: d.Capacity, Remaining: d.Capacity}, nil
}

// Take decrements the remaining count, reporting false once exhausted.
func (g *Garage) Take() bool {
	if g.Remaining <= 0 {
		return false
	}
	g.Remaining--
	return true
}

// Enqueue adds a spawned vehicle to the exit queue.
func (g *Garage) Enqueue(id int) { g.Queue = append(g.Queue, id) }

// Head returns the first queued vehicle.
func (g *Garage) Head() (int, bool) {
	if len(g.Queue) == 0 {
		return 0, false
	}
	return g.Queue[0], true
}

// Pop removes the first queued vehicle.
func (g *Garage) Pop() {
	if len(g.Queue) > 0 {
		g.Queue = g.Queue[1:]
	}
}
