package grid

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// link is a directed road connection between two adjacent junctions.
type link struct {
	heading  Heading
	length   int
	corridor bool
}

// RouteInfo holds the result of a shortest-route computation.
type RouteInfo struct {
	// Junctions lists anchors of the junctions visited, start first.
	Junctions []Coord
	Weight    float64
}

const tieBreak = 1e-6

// Router finds junction-to-junction routes over the road network. Corridor
// links are cheaper by the configured weight so evacuation detours prefer
// them.
type Router struct {
	grid           *Grid
	g              *simple.WeightedDirectedGraph
	links          map[[2]int]link
	corridorWeight float64
	trees          map[int]path.Shortest
	cache          map[[2]int]RouteInfo
}

// NewRouter builds the junction adjacency graph of grid. corridorWeight
// scales the cost of links that run entirely along corridor cells.
func NewRouter(grid *Grid, corridorWeight float64) (*Router, error) {
	if corridorWeight <= 0 {
		return nil, fmt.Errorf("corridor weight %g must be positive", corridorWeight)
	}
	r := &Router{
		grid:           grid,
		g:              simple.NewWeightedDirectedGraph(0, math.Inf(1)),
		links:          make(map[[2]int]link),
		corridorWeight: corridorWeight,
		trees:          make(map[int]path.Shortest),
		cache:          make(map[[2]int]RouteInfo),
	}
	for _, j := range grid.junctions {
		r.g.AddNode(simple.Node(j.ID))
	}
	for _, j := range grid.junctions {
		for _, h := range Headings {
			r.linkFrom(j, h)
		}
	}
	return r, nil
}

// linkFrom follows every exit lane of j along h to the next junction and
// keeps the shortest.
func (r *Router) linkFrom(j Junction, h Heading) {
	best := link{length: -1}
	to := -1
	for _, c := range j.Cells {
		n := c.Step(h, 1)
		if !r.grid.Legal(n, h) || r.grid.IsIntersection(n) {
			continue
		}
		corridor := true
		for k := 0; ; k++ {
			cell, ok := r.grid.Cell(n.Step(h, k))
			if !ok || cell.Role == NonRoad || !cell.Headings.Has(h) {
				break
			}
			if cell.Role == Intersection {
				if cell.Junction != j.ID && (best.length < 0 || k+1 < best.length) {
					best = link{heading: h, length: k + 1, corridor: corridor}
					to = cell.Junction
				}
				break
			}
			corridor = corridor && cell.Corridor
		}
	}
	if to < 0 {
		return
	}
	w := float64(best.length)
	if best.corridor {
		w *= r.corridorWeight
	}
	// Break equal-cost ties by target id so routes do not depend on map order.
	w += tieBreak * float64(to+1) / float64(len(r.grid.junctions)+1)
	r.g.SetWeightedEdge(r.g.NewWeightedEdge(simple.Node(j.ID), simple.Node(to), w))
	r.links[[2]int{j.ID, to}] = best
}

// Route returns the cheapest junction sequence from junction id from to id to.
func (r *Router) Route(from, to int) (RouteInfo, error) {
	key := [2]int{from, to}
	if ri, ok := r.cache[key]; ok {
		return ri, nil
	}
	fj, ok := r.grid.Junction(from)
	if !ok {
		return RouteInfo{}, fmt.Errorf("junction %d not found", from)
	}
	if _, ok := r.grid.Junction(to); !ok {
		return RouteInfo{}, fmt.Errorf("junction %d not found", to)
	}
	if from == to {
		ri := RouteInfo{Junctions: []Coord{fj.Anchor}}
		r.cache[key] = ri
		return ri, nil
	}
	tree, ok := r.trees[from]
	if !ok {
		tree = path.DijkstraFrom(simple.Node(from), r.g)
		r.trees[from] = tree
	}
	nodes, w := tree.To(int64(to))
	if len(nodes) == 0 || math.IsInf(w, 1) {
		return RouteInfo{}, fmt.Errorf("no route from junction %d to %d", from, to)
	}
	ri := RouteInfo{Junctions: make([]Coord, len(nodes)), Weight: w}
	for i, n := range nodes {
		ri.Junctions[i] = r.grid.junctions[n.ID()].Anchor
	}
	r.cache[key] = ri
	return ri, nil
}

// ExitHeading returns the heading a vehicle leaves junction from on to reach
// the adjacent junction to.
func (r *Router) ExitHeading(from, to int) (Heading, bool) {
	l, ok := r.links[[2]int{from, to}]
	return l.heading, ok
}

// Neighbours returns the junctions directly reachable from id.
func (r *Router) Neighbours(id int) []int {
	var out []int
	it := r.g.From(int64(id))
	for it.Next() {
		out = append(out, int(it.Node().ID()))
	}
	slices.Sort(out)
	return out
}

// NearestCorridor returns the corridor junction with the cheapest route from
// junction id.
func (r *Router) NearestCorridor(id int) (int, bool) {
	best, bestW := -1, math.Inf(1)
	for _, j := range r.grid.junctions {
		if !j.Corridor {
			continue
		}
		if j.ID == id {
			return id, true
		}
		ri, err := r.Route(id, j.ID)
		if err != nil {
			continue
		}
		if ri.Weight < bestW {
			best, bestW = j.ID, ri.Weight
		}
	}
	return best, best >= 0
}
