package decision

import (
	"github.com/cxd309/evacsim/internal/grid"
	"github.com/cxd309/evacsim/internal/kinematics"
	"github.com/cxd309/evacsim/internal/vehicle"
	"github.com/cxd309/evacsim/internal/world"
)

// prepareLeft moves v toward the leftmost lane and, once there, converts it
// into a left-turn agent unless the agent queue is already too long.
func prepareLeft(ctx *world.Context, v *vehicle.Vehicle, sig world.Signal) bool {
	if v.Role == vehicle.LeftTurnAgent {
		return false
	}
	if ctx.Grid.LaneIndex(v.Cell(), v.Heading, grid.LeftSide) > 0 {
		v.Maneuver = vehicle.PreparingLeft
		if sig.Cells <= 1 {
			abandon(ctx, v)
			return false
		}
		return changeLane(ctx, v, grid.LeftSide)
	}
	if leftQueue(ctx, v, sig) > ctx.Cfg.Decision.LeftQueueMax {
		abandon(ctx, v)
		return false
	}
	v.ToLeftTurnAgent()
	return false
}

// prepareRight moves v toward the rightmost lane.
func prepareRight(ctx *world.Context, v *vehicle.Vehicle, sig world.Signal) bool {
	if ctx.Grid.LaneIndex(v.Cell(), v.Heading, grid.RightSide) == 0 {
		if v.Maneuver == vehicle.PreparingRight {
			v.Maneuver = vehicle.Straight
		}
		return false
	}
	v.Maneuver = vehicle.PreparingRight
	if sig.Cells <= 1 {
		abandon(ctx, v)
		return false
	}
	return changeLane(ctx, v, grid.RightSide)
}

// abandon drops a turn the vehicle could not set up in time.
func abandon(ctx *world.Context, v *vehicle.Vehicle) {
	v.Intent = vehicle.GoStraight
	v.MayReverse = false
	v.Maneuver = vehicle.Straight
	ctx.Counters.Abandoned++
	Correct(ctx, v)
}

// leftQueue counts the left-turn agents between v and the stop line.
func leftQueue(ctx *world.Context, v *vehicle.Vehicle, sig world.Signal) int {
	n := 0
	origin := v.Cell()
	for k := 0; k < sig.Cells; k++ {
		for _, id := range ctx.Occ.At(origin.Step(v.Heading, k)) {
			a := ctx.Fleet.Get(id)
			if a != nil && a.ID != v.ID && a.Role == vehicle.LeftTurnAgent && a.Heading == v.Heading {
				n++
			}
		}
	}
	return n
}

// discretionary handles lane changes not required by a turn: escaping a
// stopped leader, overtaking a slow one, and the speed-dependent lane bias.
func discretionary(ctx *world.Context, v *vehicle.Vehicle, leader *world.Neighbour) bool {
	if v.Role != vehicle.Ordinary || v.Maneuver != vehicle.Straight {
		return false
	}
	d := ctx.Cfg.Decision
	if leader != nil {
		if v.Wait >= d.LaneChangeWait && !world.Stationary(leader.V) {
			if changeLane(ctx, v, grid.LeftSide) || changeLane(ctx, v, grid.RightSide) {
				return true
			}
		}
		if v.FollowTicks >= d.OvertakeWait {
			if changeLane(ctx, v, grid.LeftSide) || changeLane(ctx, v, grid.RightSide) {
				v.FollowTicks = 0
				return true
			}
		}
	}
	road := ctx.Grid.SpeedLimit(v.Cell())
	switch {
	case v.Limit > road:
		if ctx.Chance(d.LeftBiasProb) {
			return changeLane(ctx, v, grid.LeftSide)
		}
	case v.Limit < road:
		if ctx.Chance(d.RightBiasProb) {
			return changeLane(ctx, v, grid.RightSide)
		}
	}
	return false
}

// CanChangeLane reports whether v may move one lane to side: outside
// junctions, not on a stop line, into a drivable cell that carries v's
// heading, and safe against both the new leader and the new follower.
func CanChangeLane(ctx *world.Context, v *vehicle.Vehicle, side grid.Side) bool {
	c := v.Cell()
	h := v.Heading
	if ctx.Grid.IsIntersection(c) || ctx.Grid.IsStopLine(c, h) {
		return false
	}
	if v.LastLaneChange >= 0 && ctx.Tick-v.LastLaneChange < ctx.Cfg.Decision.LaneChangeCooldown {
		return false
	}
	t := grid.Lateral(c, h, side)
	if !ctx.Grid.Legal(t, h) || ctx.Grid.IsIntersection(t) {
		return false
	}
	return safeAt(ctx, v, world.VantageOf(v).Shifted(side), v.Speed)
}

// safeAt is the two-sided lane safety predicate: a vehicle at speed placed
// at p must overlap nobody, must be able to stop behind its new leader
// and must leave its new follower room to stop behind it.
func safeAt(ctx *world.Context, v *vehicle.Vehicle, p world.Vantage, speed float64) bool {
	if ctx.Footprint(p.X, p.Y, v.ID) {
		return false
	}
	m := ctx.Model
	if n, ok := ctx.Ahead(p, kinematics.LookaheadRadius(m, speed), nil); ok {
		if !kinematics.Follow(m, speed, 0, n.Obstacle()).Safe {
			return false
		}
	}
	if f, ok := ctx.Behind(p, ctx.Cfg.Kinematics.LookaheadBound/2); ok {
		ob := &kinematics.Obstacle{Gap: f.Gap(), Speed: speed}
		if !kinematics.Follow(m, f.Speed, 0, ob).Safe {
			return false
		}
	}
	return true
}

func changeLane(ctx *world.Context, v *vehicle.Vehicle, side grid.Side) bool {
	if !CanChangeLane(ctx, v, side) {
		return false
	}
	shift(ctx, v, side)
	v.LastLaneChange = ctx.Tick
	ctx.Counters.LaneChanges++
	return true
}

func shift(ctx *world.Context, v *vehicle.Vehicle, side grid.Side) {
	p := world.VantageOf(v).Shifted(side)
	ctx.Relocate(v, p.X, p.Y)
}

// tryPass starts an opposing-lane overtake of a contiguous run of stopped
// incapacitated vehicles directly ahead. The opposing lane must be clear for
// 2n+3 cells, n being the length of the run. The vehicle behind is told to
// hold off so it does not pull into the same gap.
func tryPass(ctx *world.Context, v *vehicle.Vehicle, leader *world.Neighbour) bool {
	if v.Role != vehicle.Ordinary || v.Maneuver != vehicle.Straight || v.PassHold > 0 || !v.Stopped() {
		return false
	}
	if !world.Stationary(leader.V) || leader.Gap() > 1 {
		return false
	}
	h := v.Heading
	n, reach := 1, leader.Dist
	last := leader.V
	for {
		next, ok := ctx.Ahead(world.VantageOf(last), 2, nil)
		if !ok || !world.Stationary(next.V) || next.Gap() > 1 {
			break
		}
		n++
		reach += next.Dist
		last = next.V
	}

	c := v.Cell()
	if ctx.Grid.IsIntersection(c) {
		return false
	}
	lane := grid.Lateral(c, h, grid.LeftSide)
	if !ctx.Grid.Legal(lane, h.Opposite()) {
		return false
	}
	for k := 0; k < 2*n+3; k++ {
		cell := lane.Step(h, k)
		if !ctx.Grid.Drivable(cell) || ctx.Grid.IsIntersection(cell) || ctx.Occupied(cell, v.ID) {
			return false
		}
	}
	p := world.VantageOf(v).Shifted(grid.LeftSide)
	if ctx.Footprint(p.X, p.Y, v.ID) {
		return false
	}

	if f, ok := ctx.Behind(world.VantageOf(v), ctx.Cfg.Kinematics.LookaheadBound/2); ok {
		f.V.PassHold = ctx.Cfg.Decision.PassHoldTicks
	}
	v.PassUntil = v.Along(h) + reach + 1
	shift(ctx, v, grid.LeftSide)
	v.Maneuver = vehicle.Passing
	ctx.Counters.Passes++
	ctx.Log.WithField("vehicle", v.ID).WithField("run", n).Debug("passing disabled vehicles")
	return true
}

// continuePassing returns a passing vehicle to its lane once it is clear of
// the run it overtook.
func continuePassing(ctx *world.Context, v *vehicle.Vehicle) bool {
	if v.Along(v.Heading) < v.PassUntil-1e-9 {
		return false
	}
	p := world.VantageOf(v).Shifted(grid.RightSide)
	if !ctx.Grid.Legal(grid.CellOf(p.X, p.Y), v.Heading) || !safeAt(ctx, v, p, v.Speed) {
		return false
	}
	ctx.Relocate(v, p.X, p.Y)
	v.Maneuver = vehicle.Straight
	return true
}

// tryUTurn turns a long-stopped vehicle into the opposite-direction lane.
// Only drivers whose urgency has passed their law threshold but not yet the
// tunnel-vision level consider it.
func tryUTurn(ctx *world.Context, v *vehicle.Vehicle) bool {
	d := ctx.Cfg.Decision
	if v.Role != vehicle.Ordinary || v.Maneuver != vehicle.Straight || !v.Stopped() || v.Wait < d.UTurnWait {
		return false
	}
	if u := v.Driver.Urgency; u <= v.Driver.LawThreshold || u >= d.TunnelVision {
		return false
	}
	c := v.Cell()
	h := v.Heading
	o := h.Opposite()
	t := grid.Lateral(c, h, grid.LeftSide)
	if ctx.Grid.IsIntersection(c) || !ctx.Grid.Legal(t, o) || ctx.Grid.IsIntersection(t) {
		return false
	}
	p := world.VantageOf(v).Shifted(grid.LeftSide)
	p.Heading = o
	if !safeAt(ctx, v, p, 0) {
		return false
	}
	ctx.Relocate(v, p.X, p.Y)
	v.Heading = o
	v.Maneuver = vehicle.UTurn
	v.ClearIntent()
	v.Wait = 0
	v.FollowTicks = 0
	if v.Goal.Kind == vehicle.Leave || v.Goal.Kind == vehicle.Evacuate {
		v.Goal.Direction = o
		v.Goal.Route = nil
	}
	ctx.Counters.UTurns++
	ctx.Log.WithField("vehicle", v.ID).Debug("u-turn")
	return true
}
