// Package route is the route and goal manager. It keeps every vehicle's
// goal current (local junction, leaving the map, or evacuating away from the
// hazard) and derives the turn intent for the next junction it approaches.
package route

import (
	"math"

	"github.com/paulmach/orb/planar"

	"github.com/cxd309/evacsim/internal/grid"
	"github.com/cxd309/evacsim/internal/hazard"
	"github.com/cxd309/evacsim/internal/vehicle"
	"github.com/cxd309/evacsim/internal/world"
)

// Update refreshes v's goal and, when v is on a road within the decision
// distance of a junction it has not yet planned for, sets its intent for
// that junction.
func Update(ctx *world.Context, v *vehicle.Vehicle) {
	if !v.Active() {
		return
	}
	if ctx.Alarm && !v.Evacuating {
		Evacuate(ctx, v)
	}
	traverse(ctx, v)
	sightSigns(ctx, v)

	c := v.Cell()
	if ctx.Grid.IsIntersection(c) {
		return
	}
	j, _, ok := ctx.Grid.NextJunction(c, v.Heading, ctx.Cfg.Decision.DecisionDistance)
	if !ok || v.IntentJunction == j.ID {
		return
	}
	plan(ctx, v, j)
}

// Assign gives a newly placed vehicle a local goal: a random junction other
// than the one ahead of it, with the router's path to it.
func Assign(ctx *world.Context, v *vehicle.Vehicle) {
	js := ctx.Grid.Junctions()
	if len(js) == 0 {
		v.Goal = vehicle.Goal{Kind: vehicle.Leave, Direction: v.Heading}
		return
	}
	target := js[ctx.Rng.IntN(len(js))]
	v.Goal = vehicle.Goal{Kind: vehicle.Local, Target: target.Anchor, Route: []grid.Coord{target.Anchor}}
	from, _, ok := ctx.Grid.NextJunction(v.Cell(), v.Heading, ctx.Cfg.Kinematics.LookaheadBound)
	if !ok || from.ID == target.ID {
		return
	}
	if ri, err := ctx.Router.Route(from.ID, target.ID); err == nil {
		v.Goal.Route = append([]grid.Coord(nil), ri.Junctions...)
	}
}

// Evacuate switches v to an evacuation goal: the cardinal direction pointing
// away from the hazard centre, or the nearest map edge when no field is
// available. With corridor detours enabled the route first leads to the
// nearest corridor junction.
func Evacuate(ctx *world.Context, v *vehicle.Vehicle) {
	v.Evacuating = true
	v.Goal = vehicle.Goal{Kind: vehicle.Evacuate, Direction: evacuationDirection(ctx, v)}
	if !ctx.Cfg.Route.CorridorDetour {
		return
	}
	from, _, ok := ctx.Grid.NextJunction(v.Cell(), v.Heading, ctx.Cfg.Kinematics.LookaheadBound)
	if !ok {
		return
	}
	to, ok := ctx.Router.NearestCorridor(from.ID)
	if !ok || to == from.ID {
		return
	}
	if ri, err := ctx.Router.Route(from.ID, to); err == nil {
		v.Goal.Route = append([]grid.Coord(nil), ri.Junctions...)
	}
}

func evacuationDirection(ctx *world.Context, v *vehicle.Vehicle) grid.Heading {
	if ctx.HasField {
		if centre, ok := ctx.Field.Centre(); ok {
			if h, ok := hazard.AwayFrom(centre, hazard.Point(v.X, v.Y)); ok {
				return h
			}
		}
	}
	return nearestEdge(ctx.Grid, v.Cell())
}

func nearestEdge(g *grid.Grid, c grid.Coord) grid.Heading {
	best, dist := grid.North, math.MaxInt
	for _, h := range grid.Headings {
		if d := g.EdgeDistance(c, h); d < dist {
			best, dist = h, d
		}
	}
	return best
}

// traverse credits knowledge the first time v enters each junction and
// gives an evacuating driver with enough knowledge and awareness a bounded
// chance to reconsider its direction.
func traverse(ctx *world.Context, v *vehicle.Vehicle) {
	cell, ok := ctx.Grid.Cell(v.Cell())
	if !ok || cell.Junction < 0 || cell.Junction == v.LastJunction {
		return
	}
	v.LastJunction = cell.Junction
	r := ctx.Cfg.Route
	v.Driver.Knowledge += r.KnowledgeGain
	if v.Evacuating && !v.Flipped && v.Driver.Knowledge+v.Driver.Awareness >= r.FlipThreshold && ctx.Chance(r.FlipProb) {
		flip(ctx, v)
	}
}

// flip points v's evacuation goal away from the reported hazard centre.
func flip(ctx *world.Context, v *vehicle.Vehicle) {
	if !ctx.HasField {
		return
	}
	centre, ok := ctx.Field.Centre()
	if !ok {
		return
	}
	h, ok := hazard.AwayFrom(centre, hazard.Point(v.X, v.Y))
	if !ok || h == v.Goal.Direction {
		return
	}
	v.Flipped = true
	v.Goal.Direction = h
	v.Goal.Route = nil
	ctx.Log.WithField("vehicle", v.ID).WithField("direction", h.String()).Debug("evacuation direction flipped")
}

// sightSigns raises awareness while an evacuating driver is within sight of
// a sign.
func sightSigns(ctx *world.Context, v *vehicle.Vehicle) {
	if !ctx.Alarm {
		return
	}
	r := ctx.Cfg.Route
	pos := hazard.Point(v.X, v.Y)
	for _, s := range ctx.Grid.Signs() {
		if planar.Distance(pos, hazard.Point(float64(s.X), float64(s.Y))) <= r.SignRadius {
			v.Driver.Awareness += r.AwarenessSignGain
			return
		}
	}
}

// plan sets v's intent for junction j from its goal.
func plan(ctx *world.Context, v *vehicle.Vehicle, j grid.Junction) {
	v.IntentJunction = j.ID
	v.MayReverse = false
	v.Intent = vehicle.GoStraight

	if len(v.Goal.Route) > 0 && v.Goal.Route[0] == j.Anchor {
		v.Goal.Route = v.Goal.Route[1:]
	}
	if len(v.Goal.Route) > 0 {
		next, ok := ctx.Grid.JunctionByAnchor(v.Goal.Route[0])
		if ok {
			if h, ok := ctx.Router.ExitHeading(j.ID, next.ID); ok {
				v.Intent = Toward(v.Heading, h)
				v.MayReverse = h == v.Heading.Opposite()
				return
			}
			v.Intent, v.MayReverse = Derive(v.Heading, j, next.Anchor)
			return
		}
		v.Goal.Route = nil
	}

	switch v.Goal.Kind {
	case vehicle.Local:
		if j.Anchor == v.Goal.Target {
			reached(ctx, v, j)
			plan(ctx, v, j)
			return
		}
		v.Intent, v.MayReverse = Derive(v.Heading, j, v.Goal.Target)
	case vehicle.Leave, vehicle.Evacuate:
		v.Intent = Toward(v.Heading, v.Goal.Direction)
		v.MayReverse = v.Goal.Direction == v.Heading.Opposite()
	}
}

// reached picks what a vehicle does after arriving at its local goal: a new
// local goal, or leaving the map in a random direction.
func reached(ctx *world.Context, v *vehicle.Vehicle, at grid.Junction) {
	if ctx.Chance(ctx.Cfg.Route.LeaveProb) {
		v.Goal = vehicle.Goal{Kind: vehicle.Leave, Direction: grid.Headings[ctx.Rng.IntN(len(grid.Headings))]}
		return
	}
	js := ctx.Grid.Junctions()
	target := js[ctx.Rng.IntN(len(js))]
	if target.ID == at.ID {
		v.Goal = vehicle.Goal{Kind: vehicle.Leave, Direction: v.Heading}
		return
	}
	v.Goal = vehicle.Goal{Kind: vehicle.Local, Target: target.Anchor}
	if ri, err := ctx.Router.Route(at.ID, target.ID); err == nil {
		v.Goal.Route = append([]grid.Coord(nil), ri.Junctions...)
	}
}

// Toward returns the turn that changes heading h into want. Reversing is
// reported as a left turn; callers set MayReverse so the correction step can
// pick whichever side is legal.
func Toward(h, want grid.Heading) vehicle.Intent {
	switch want {
	case h:
		return vehicle.GoStraight
	case h.Left():
		return vehicle.TurnLeft
	case h.Right():
		return vehicle.TurnRight
	default:
		return vehicle.TurnLeft
	}
}

// Derive returns the turn at junction j that heads toward target, measured
// in the frame of heading h: ahead along h, lateral positive to the left.
// A target mostly ahead means straight on; a target behind on the same line
// returns a left turn with mayReverse set.
func Derive(h grid.Heading, j grid.Junction, target grid.Coord) (intent vehicle.Intent, mayReverse bool) {
	cx, cy := j.Center()
	dx, dy := float64(target.X)-cx, float64(target.Y)-cy
	hx, hy := h.Vec()
	lx, ly := h.Left().Vec()
	ahead := dx*float64(hx) + dy*float64(hy)
	lateral := dx*float64(lx) + dy*float64(ly)
	switch {
	case math.Abs(lateral) < 1 && ahead >= 0:
		return vehicle.GoStraight, false
	case math.Abs(lateral) < 1:
		return vehicle.TurnLeft, true
	case ahead > math.Abs(lateral):
		return vehicle.GoStraight, false
	case lateral > 0:
		return vehicle.TurnLeft, false
	default:
		return vehicle.TurnRight, false
	}
}
