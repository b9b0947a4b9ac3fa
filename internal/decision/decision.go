// Package decision resolves a vehicle's turn intent into what it does this
// tick: lane changes, turn pivots, stop lines, passing and U-turns.
//
// Step is called once per vehicle, in queue-rank order, after the route
// manager has set the vehicle's intent. Lane changes and U-turns are
// committed immediately; longitudinal motion is left to the engine, which
// receives the stop lines and turn pivot in the returned Plan.
package decision

import (
	"github.com/cxd309/evacsim/internal/grid"
	"github.com/cxd309/evacsim/internal/kinematics"
	"github.com/cxd309/evacsim/internal/vehicle"
	"github.com/cxd309/evacsim/internal/world"
)

// Plan is the outcome of one decision step.
type Plan struct {
	// Stops are stationary obstacles the vehicle must stay behind this tick:
	// a stop line it may not cross or the end of the road.
	Stops []kinematics.Obstacle
	// Limit caps the vehicle's speed limit when positive.
	Limit float64
	// Turn is set when the vehicle turns to To on reaching the centre of
	// Pivot.
	Turn  bool
	Pivot grid.Coord
	To    grid.Heading
	// Moved is set when the vehicle changed lane or heading in place, so its
	// leader must be searched again.
	Moved bool
}

func (p *Plan) stop(gap float64) {
	p.Stops = append(p.Stops, kinematics.Obstacle{Gap: gap})
}

func (p *Plan) cap(limit float64) {
	if p.Limit == 0 || limit < p.Limit {
		p.Limit = limit
	}
}

// Step runs the decision engine for v. leader is v's lane leader before any
// lane change, if it has one.
func Step(ctx *world.Context, v *vehicle.Vehicle, leader *world.Neighbour) Plan {
	var p Plan
	if !v.Active() {
		return p
	}
	if v.PassHold > 0 {
		v.PassHold--
	}
	if ctx.Grid.IsIntersection(v.Cell()) {
		v.RunRed = false
	}

	if v.Maneuver == vehicle.Passing {
		p.Moved = continuePassing(ctx, v)
		roadEnd(ctx, v, &p)
		return p
	}

	sig, hasSig := signalAhead(ctx, v)
	intended := hasSig && v.IntentJunction == sig.Junction.ID
	if intended {
		Correct(ctx, v)
	}

	switch {
	case intended && v.Intent == vehicle.TurnLeft:
		p.Moved = prepareLeft(ctx, v, sig)
	case intended && v.Intent == vehicle.TurnRight:
		p.Moved = prepareRight(ctx, v, sig)
	default:
		if v.Maneuver == vehicle.PreparingLeft || v.Maneuver == vehicle.PreparingRight {
			v.Maneuver = vehicle.Straight
		}
		p.Moved = discretionary(ctx, v, leader)
	}
	if !p.Moved && leader != nil {
		p.Moved = tryPass(ctx, v, leader)
		if p.Moved {
			roadEnd(ctx, v, &p)
			return p
		}
	}
	if !p.Moved {
		p.Moved = tryUTurn(ctx, v)
	}
	if p.Moved {
		sig, hasSig = signalAhead(ctx, v)
	}

	if hasSig {
		approach(ctx, v, sig, &p)
	}
	planTurn(ctx, v, sig, hasSig, &p)
	roadEnd(ctx, v, &p)
	return p
}

// signalAhead looks for the next junction far enough ahead to cover both the
// decision distance and v's stopping envelope.
func signalAhead(ctx *world.Context, v *vehicle.Vehicle) (world.Signal, bool) {
	reach := max(ctx.Cfg.Decision.DecisionDistance, kinematics.LookaheadRadius(ctx.Model, v.Speed))
	return ctx.SignalAhead(world.VantageOf(v), reach)
}

// Correct rejects an intent whose resulting heading is not legal beyond the
// junction ahead. Flexible drivers and collinear goals try the mirror turn
// first; otherwise the vehicle goes straight. A junction with no straight
// exit falls back to any legal turn.
func Correct(ctx *world.Context, v *vehicle.Vehicle) {
	order := []vehicle.Intent{v.Intent}
	if v.MayReverse || v.Driver.Flexible {
		order = append(order, v.Intent.Mirror())
	}
	order = append(order, vehicle.GoStraight, vehicle.TurnRight, vehicle.TurnLeft)
	chosen := vehicle.GoStraight
	for _, i := range order {
		if _, ok := pivotFor(ctx, v, i.Apply(v.Heading)); ok {
			chosen = i
			break
		}
	}
	v.Intent = chosen
	if v.Role == vehicle.LeftTurnAgent && chosen != vehicle.TurnLeft {
		v.ToOrdinary()
	}
}

// pivotFor finds where v turns to heading to in the junction ahead of it or
// the junction it is already in.
func pivotFor(ctx *world.Context, v *vehicle.Vehicle, to grid.Heading) (grid.Coord, bool) {
	from := v.Cell()
	if ctx.Grid.IsIntersection(from) {
		from = from.Step(v.Heading.Opposite(), 1)
	}
	return ctx.Grid.PivotCell(from, v.Heading, to)
}

// planTurn sets the turn pivot when v intends to turn at the junction it is
// approaching or crossing.
func planTurn(ctx *world.Context, v *vehicle.Vehicle, sig world.Signal, hasSig bool, p *Plan) {
	if v.IntentJunction < 0 || v.Intent == vehicle.GoStraight {
		return
	}
	cell, _ := ctx.Grid.Cell(v.Cell())
	inside := cell.Junction == v.IntentJunction
	if !inside && !(hasSig && sig.Junction.ID == v.IntentJunction) {
		return
	}
	if v.Intent == vehicle.TurnLeft && v.Role != vehicle.LeftTurnAgent {
		return
	}
	to := v.Intent.Apply(v.Heading)
	pivot, ok := pivotFor(ctx, v, to)
	if !ok {
		if inside {
			v.ClearIntent()
			v.ToOrdinary()
		}
		return
	}
	p.Turn, p.Pivot, p.To = true, pivot, to

	hx, hy := v.Heading.Vec()
	dist := float64(pivot.X*hx+pivot.Y*hy) - v.Along(v.Heading)
	if dist <= ctx.Model.BrakingDistance(v.Speed)+1 {
		p.cap(ctx.Cfg.Decision.TurnSpeed)
	}
	if inside && v.Intent == vehicle.TurnRight {
		v.Maneuver = vehicle.RightTurn
	}
}

// roadEnd adds a stop at the first non-drivable cell ahead. Leaving the grid
// is not an obstacle. A planned turn only checks up to its pivot.
func roadEnd(ctx *world.Context, v *vehicle.Vehicle, p *Plan) {
	h := v.Heading
	reach := kinematics.LookaheadRadius(ctx.Model, v.Speed)
	origin := v.Cell()
	if p.Turn {
		hx, hy := h.Vec()
		reach = min(reach, (p.Pivot.X-origin.X)*hx+(p.Pivot.Y-origin.Y)*hy)
	}
	for k := 1; k <= reach; k++ {
		c := origin.Step(h, k)
		if !ctx.Grid.InBounds(c) {
			return
		}
		if !ctx.Grid.Drivable(c) {
			hx, hy := h.Vec()
			p.stop(float64(c.X*hx+c.Y*hy) - v.Along(h) - 1)
			return
		}
	}
}
