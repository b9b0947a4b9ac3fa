package decision

import (
	"github.com/cxd309/evacsim/internal/grid"
	"github.com/cxd309/evacsim/internal/signal"
	"github.com/cxd309/evacsim/internal/vehicle"
	"github.com/cxd309/evacsim/internal/world"
)

// approach applies the signal at the junction ahead. A vehicle that must
// hold gets a stop at the line; one already nearly stopped close to the line
// is capped to the inching speed so it crawls up to it.
func approach(ctx *world.Context, v *vehicle.Vehicle, sig world.Signal, p *Plan) {
	turning := vehicle.GoStraight
	if v.IntentJunction == sig.Junction.ID {
		turning = v.Intent
	}
	atLine := sig.Cells == 1
	hold := false

	switch sig.Color {
	case signal.Green:
		hold = v.Role == vehicle.LeftTurnAgent && turning == vehicle.TurnLeft &&
			!(atLine && leftClear(ctx, v, sig))
	case signal.Yellow:
		// Past the point of stopping comfortably: clear the junction.
		hold = sig.Gap >= ctx.Model.BrakingDistance(v.Speed) || v.Role == vehicle.LeftTurnAgent
	case signal.Red:
		hold = !redException(ctx, v, sig, turning, atLine)
		if hold && !v.Stopped() && sig.Gap < ctx.Model.StopDistance(v.Speed) && v.Role != vehicle.LeftTurnAgent {
			hold = false
		}
	}
	if !hold {
		return
	}
	p.stop(sig.Gap)
	k := ctx.Cfg.Kinematics
	if v.Speed <= k.InchSpeed && sig.Gap > 0 && sig.Gap <= k.InchLookahead {
		p.cap(k.InchSpeed)
	}
}

// redException reports whether v may proceed against a red: an earlier
// red-light-running commitment whose path is still clear, right on red, or a
// fresh decision to run the light.
func redException(ctx *world.Context, v *vehicle.Vehicle, sig world.Signal, turning vehicle.Intent, atLine bool) bool {
	if v.RunRed {
		if crossClear(ctx, v, sig) {
			return true
		}
		v.RunRed = false
	}
	if !atLine || v.Role == vehicle.LeftTurnAgent {
		return false
	}
	if turning == vehicle.TurnRight && rightOnRed(ctx, v) {
		return true
	}
	if mayRunRed(ctx, v, sig) {
		v.RunRed = true
		ctx.Counters.RedRuns++
		ctx.Log.WithField("vehicle", v.ID).Debug("running red light")
		return true
	}
	return false
}

// mayRunRed gates red-light running on a long wait, urgency above the
// driver's law threshold, a clear crossing and finally a random draw.
func mayRunRed(ctx *world.Context, v *vehicle.Vehicle, sig world.Signal) bool {
	d := ctx.Cfg.Decision
	if !v.Stopped() || v.Wait < d.MinRedWait || v.Driver.Urgency <= v.Driver.LawThreshold {
		return false
	}
	if !crossClear(ctx, v, sig) {
		return false
	}
	return ctx.Chance(d.RedRunProb)
}

// crossClear checks that v's straight path through the junction is empty
// and that no cross traffic is within the lookback distance of it.
func crossClear(ctx *world.Context, v *vehicle.Vehicle, sig world.Signal) bool {
	h := v.Heading
	lookback := ctx.Cfg.Decision.RightOnRedLookback
	entry := v.Cell().Step(h, sig.Cells)
	for c := entry; ctx.Grid.IsIntersection(c); c = c.Step(h, 1) {
		if ctx.Occupied(c, v.ID) {
			return false
		}
		cell, _ := ctx.Grid.Cell(c)
		for _, x := range []grid.Heading{h.Left(), h.Right()} {
			if !cell.Headings.Has(x) {
				continue
			}
			for k := 1; k <= lookback; k++ {
				if ctx.HeadingAt(c.Step(x.Opposite(), k), x, v.ID, false) {
					return false
				}
			}
		}
	}
	return true
}

// rightOnRed allows a stopped vehicle to turn right against a red when the
// target lane accepts the new heading and no cross traffic bound for it is
// within the lookback distance.
func rightOnRed(ctx *world.Context, v *vehicle.Vehicle) bool {
	if !v.Stopped() {
		return false
	}
	to := v.Heading.Right()
	pivot, ok := pivotFor(ctx, v, to)
	if !ok {
		return false
	}
	exit, ok := ctx.Grid.ExitCell(pivot, to)
	if !ok || !ctx.Grid.Legal(exit, to) {
		return false
	}
	if ctx.Occupied(pivot, v.ID) || ctx.Occupied(exit, v.ID) {
		return false
	}
	for k := 1; k <= ctx.Cfg.Decision.RightOnRedLookback; k++ {
		if ctx.HeadingAt(pivot.Step(to.Opposite(), k), to, v.ID, false) {
			return false
		}
	}
	return true
}

// leftClear runs the three checks a ready left-turn agent must pass: the
// exit box is clear, no oncoming lane has approaching traffic within its
// staircase reach, and no opposing left-turn agent is already in the
// junction.
func leftClear(ctx *world.Context, v *vehicle.Vehicle, sig world.Signal) bool {
	h := v.Heading
	to := h.Left()
	pivot, ok := pivotFor(ctx, v, to)
	if !ok {
		return false
	}
	exit, ok := ctx.Grid.ExitCell(pivot, to)
	if !ok {
		return false
	}
	return boxClear(ctx, v, exit, to) && oncomingClear(ctx, v) && !opposingAgent(ctx, v, sig.Junction)
}

func boxClear(ctx *world.Context, v *vehicle.Vehicle, exit grid.Coord, to grid.Heading) bool {
	for k := 0; k < ctx.Cfg.Decision.BoxClearCells; k++ {
		c := exit.Step(to, k)
		if !ctx.Grid.InBounds(c) {
			break
		}
		if ctx.Occupied(c, v.ID) {
			return false
		}
	}
	return true
}

// oncomingClear scans each oncoming lane, nearest first, through the
// junction and on up the opposite approach. Lane k is scanned
// oncoming_base + k*oncoming_step road cells beyond the junction, so the
// scan widens like a staircase. Vehicles inside the junction always block;
// stopped vehicles on the approach do not.
func oncomingClear(ctx *world.Context, v *vehicle.Vehicle) bool {
	d := ctx.Cfg.Decision
	h := v.Heading
	o := h.Opposite()
	lane := v.Cell()
	for k := 0; ; k++ {
		lane = grid.Lateral(lane, h, grid.LeftSide)
		if !ctx.Grid.Legal(lane, o) || ctx.Grid.IsIntersection(lane) {
			return true
		}
		reach := d.OncomingBase + k*d.OncomingStep
		road := 0
		blocked := false
		ctx.Grid.Ray(lane, h, ctx.Cfg.Kinematics.LookaheadBound, func(i int, cell grid.Cell) bool {
			if i == 0 {
				return true
			}
			switch cell.Role {
			case grid.NonRoad:
				return false
			case grid.Intersection:
				blocked = ctx.HeadingAt(cell.Coord, o, v.ID, false)
			default:
				road++
				if road > reach {
					return false
				}
				blocked = ctx.HeadingAt(cell.Coord, o, v.ID, true)
			}
			return !blocked
		})
		if blocked {
			return false
		}
	}
}

func opposingAgent(ctx *world.Context, v *vehicle.Vehicle, j grid.Junction) bool {
	o := v.Heading.Opposite()
	for _, c := range j.Cells {
		for _, id := range ctx.Occ.At(c) {
			if a := ctx.Fleet.Get(id); a != nil && a.Role == vehicle.LeftTurnAgent && a.Heading == o {
				return true
			}
		}
	}
	return false
}
