package engine

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/paulmach/orb/planar"
	"github.com/sirupsen/logrus"

	"github.com/cxd309/evacsim/internal/config"
	"github.com/cxd309/evacsim/internal/grid"
	"github.com/cxd309/evacsim/internal/hazard"
	"github.com/cxd309/evacsim/internal/kinematics"
	"github.com/cxd309/evacsim/internal/route"
	"github.com/cxd309/evacsim/internal/signal"
	"github.com/cxd309/evacsim/internal/vehicle"
)

// raiseAlarm starts the evacuation: every driver hears the broadcast,
// off-map vehicles are dropped from the run and the alarm timings are
// loaded through the retiming protocol.
func (s *Sim) raiseAlarm() {
	ctx := s.ctx
	ctx.Alarm = true
	ctx.Log.WithField("tick", ctx.Tick).Info("alarm raised")
	for _, v := range ctx.Fleet.Vehicles {
		if v == nil || v.Role == vehicle.Free {
			continue
		}
		if v.Role == vehicle.OffMap {
			s.retire(v)
			continue
		}
		v.Driver.Awareness += ctx.Cfg.Route.AwarenessBroadcast
	}
	if len(s.alarmTimings) == 0 {
		return
	}
	events, err := ctx.Signals.Retime(s.alarmTimings)
	if err != nil {
		if errors.Is(err, signal.ErrRetimeInProgress) {
			ctx.Log.WithError(err).Warn("alarm timings not loaded")
			return
		}
		ctx.Fail(fmt.Errorf("loading alarm timings: %w", err))
		return
	}
	for _, ev := range events {
		ctx.Log.WithFields(logrus.Fields{"controller": ev.Controller, "state": ev.State.String()}).Info("retiming")
	}
}

// updateField fetches the next concentration frame at the start of each
// update interval.
func (s *Sim) updateField() {
	ctx := s.ctx
	if ctx.Tick%ctx.Cfg.Hazard.UpdateInterval != 0 {
		return
	}
	s.loadFrame(ctx.Tick / ctx.Cfg.Hazard.UpdateInterval)
}

func (s *Sim) loadFrame(i int) {
	f, ok := s.provider.Frame(i)
	if !ok {
		return
	}
	if err := f.Validate(s.ctx.Grid); err != nil {
		s.ctx.Fail(&config.ConfigError{Field: fmt.Sprintf("frames[%d]", i), Reason: "invalid frame", Err: err})
		return
	}
	s.ctx.Field, s.ctx.HasField, s.frame = f, true, i
}

// expose adds one tick of the current field to every driver on the map.
// Crossing AEGL-3 incapacitates the driver.
func (s *Sim) expose() {
	ctx := s.ctx
	if !ctx.HasField {
		return
	}
	th := hazard.Thresholds{AEGL2: ctx.Cfg.Hazard.AEGL2, AEGL3: ctx.Cfg.Hazard.AEGL3}
	for _, v := range ctx.Fleet.Vehicles {
		if v == nil || !v.OnGrid() {
			continue
		}
		conc := ctx.Field.At(v.Cell())
		was := v.Driver.AEGL2
		out := hazard.Expose(&v.Driver, conc, th)
		if !was && v.Driver.AEGL2 {
			ctx.Counters.AEGL2++
		}
		if out == hazard.ReachedAEGL3 {
			ctx.Counters.AEGL3++
			v.Disable(ctx.Tick)
			ctx.Log.WithFields(logrus.Fields{"vehicle": v.ID, "exposure": v.Driver.Exposure}).Info("driver incapacitated")
		}
		if v.Active() {
			v.Driver.Urgency = math.Min(1, v.Driver.Urgency+conc*ctx.Cfg.Hazard.UrgencyGain)
		}
	}
}

// urgency raises the urgency of drivers held stopped after the alarm.
func (s *Sim) urgency() {
	ctx := s.ctx
	if !ctx.Alarm {
		return
	}
	for _, v := range ctx.Fleet.Vehicles {
		if v != nil && v.Active() && v.Stopped() {
			v.Driver.Urgency = math.Min(1, v.Driver.Urgency+ctx.Cfg.Hazard.UrgencyGain)
		}
	}
}

// spawnGarages lets each garage release a vehicle with the configured
// probability and places the head of its queue once the exit is clear.
func (s *Sim) spawnGarages() {
	ctx := s.ctx
	for _, g := range ctx.Garages {
		if g.Remaining > 0 && ctx.Chance(ctx.Cfg.Run.GarageSpawnProb) && g.Take() {
			v := ctx.Fleet.Alloc()
			v.Role = vehicle.GarageSpawn
			v.Garage = g.ID
			v.Heading = g.Heading
			v.Driver = s.newDriver()
			v.Limit = s.personalLimit(g.Exit)
			g.Enqueue(v.ID)
		}
		id, ok := g.Head()
		if !ok || ctx.Footprint(float64(g.Exit.X), float64(g.Exit.Y), -1) {
			continue
		}
		g.Pop()
		v := ctx.Fleet.Get(id)
		if v == nil || v.Role != vehicle.GarageSpawn {
			ctx.Violation(id, "garage %d queue holds a vehicle that is not waiting", g.ID)
			continue
		}
		v.Place(g.Exit, g.Heading)
		v.ToOrdinary()
		ctx.Occ.Add(g.Exit, v.ID)
		ctx.Counters.Spawned++
		route.Assign(ctx, v)
	}
}

// respawn returns off-map vehicles through a random edge entry once they
// have been away long enough. Nothing respawns after the alarm.
func (s *Sim) respawn() {
	ctx := s.ctx
	if ctx.Alarm || len(s.entries) == 0 {
		return
	}
	for _, v := range ctx.Fleet.Vehicles {
		if v == nil || v.Role != vehicle.OffMap || ctx.Tick-v.OffMapAt < ctx.Cfg.Run.OffMapRespawnTicks {
			continue
		}
		e := s.entries[ctx.Rng.IntN(len(s.entries))]
		if ctx.Footprint(float64(e.cell.X), float64(e.cell.Y), -1) {
			continue
		}
		v.Place(e.cell, e.heading)
		v.ToOrdinary()
		v.LastJunction = -1
		ctx.Occ.Add(e.cell, v.ID)
		route.Assign(ctx, v)
	}
}

// exit handles a vehicle that left the grid from cell from.
func (s *Sim) exit(v *vehicle.Vehicle, from grid.Coord) {
	ctx := s.ctx
	ctx.Occ.Remove(from, v.ID)
	switch {
	case v.Role == vehicle.Disabled:
		ctx.Counters.Retired++
		s.retire(v)
	case v.Evacuating || ctx.Alarm:
		ctx.Counters.Evacuated++
		s.retire(v)
	default:
		v.ToOffMap(ctx.Tick)
	}
}

// retireDisabled removes vehicles disabled for longer than the configured
// limit.
func (s *Sim) retireDisabled() {
	ctx := s.ctx
	limit := ctx.Cfg.Run.DisabledRetireTicks
	if limit <= 0 {
		return
	}
	for _, v := range ctx.Fleet.Vehicles {
		if v == nil || v.Role != vehicle.Disabled || ctx.Tick-v.DisabledAt < limit {
			continue
		}
		ctx.Occ.Remove(v.Cell(), v.ID)
		ctx.Counters.Retired++
		s.retire(v)
	}
}

func (s *Sim) retire(v *vehicle.Vehicle) {
	if err := s.ctx.Fleet.Retire(v.ID); err != nil {
		s.ctx.Violation(v.ID, "%v", err)
	}
}

// complete reports whether the evacuation is over: the alarm has been
// raised, the evacuated, retired and disabled vehicles make up at least the
// completion fraction of all vehicles, and every vehicle still driving has
// been stuck for at least the short-wait threshold.
func (s *Sim) complete() bool {
	ctx := s.ctx
	if !ctx.Alarm {
		return false
	}
	var active, disabled, waiting int
	for _, v := range ctx.Fleet.Vehicles {
		switch {
		case v == nil:
		case v.Active():
			if v.Wait < ctx.Cfg.Run.ShortWait {
				return false
			}
			active++
		case v.Role == vehicle.Disabled:
			disabled++
		case v.Role == vehicle.GarageSpawn:
			waiting++
		}
	}
	for _, g := range ctx.Garages {
		waiting += g.Remaining
	}
	done := ctx.Counters.Evacuated + ctx.Counters.Retired + disabled
	total := done + active + waiting
	if total == 0 {
		return true
	}
	return float64(done)/float64(total) >= ctx.Cfg.Run.CompletionFraction
}

// newDriver draws random driver attributes.
func (s *Sim) newDriver() vehicle.Driver {
	return vehicle.Driver{
		Urgency:           s.uniform(0, 0.3),
		LawThreshold:      s.uniform(0.3, 0.9),
		SpeedingThreshold: s.uniform(0.2, 0.8),
		Susceptibility:    s.uniform(0.5, 1.5),
		Flexible:          s.ctx.Chance(0.5),
	}
}

// topSpeed is the fastest a vehicle with personal limit can drive: the
// limit, the full urgency bonus and the jitter on top.
func (s *Sim) topSpeed(limit float64) float64 {
	k := s.ctx.Cfg.Kinematics
	return limit + k.UrgencyBonus + k.Jitter
}

// checkLookahead fails when a vehicle at speed would have to scan further
// than the configured lookahead bound.
func (s *Sim) checkLookahead(speed float64) error {
	bound := s.ctx.Cfg.Kinematics.LookaheadBound
	if r := kinematics.LookaheadRadius(s.ctx.Model, speed); r > bound {
		return fmt.Errorf("speed %g needs a lookahead of %d cells, over the bound of %d", speed, r, bound)
	}
	return nil
}

// limitSpread is how far a drawn personal limit may stray from the road
// limit, as a fraction of it.
const limitSpread = 0.2

// personalLimit draws a personal speed limit around the road limit at c.
func (s *Sim) personalLimit(c grid.Coord) float64 {
	return s.ctx.Grid.SpeedLimit(c) * s.uniform(1-limitSpread, 1+limitSpread)
}

func (s *Sim) uniform(a, b float64) float64 {
	return a + (b-a)*s.ctx.Rng.Float64()
}

// place puts a vehicle from the input on the grid.
func (s *Sim) place(vd VehicleData) error {
	ctx := s.ctx
	c := grid.CellOf(vd.X, vd.Y)
	if !ctx.Grid.Legal(c, vd.Heading) {
		return fmt.Errorf("cell %v does not carry heading %s", c, vd.Heading)
	}
	if ctx.Footprint(vd.X, vd.Y, -1) {
		return fmt.Errorf("position (%g,%g) overlaps another vehicle", vd.X, vd.Y)
	}
	if vd.Speed < 0 {
		return fmt.Errorf("negative speed %g", vd.Speed)
	}
	if err := s.checkLookahead(max(vd.Speed, s.topSpeed(vd.Limit))); err != nil {
		return err
	}
	v := ctx.Fleet.Alloc()
	v.Place(c, vd.Heading)
	v.X, v.Y = vd.X, vd.Y
	v.PrevX, v.PrevY = vd.X, vd.Y
	v.Speed = vd.Speed
	v.Driver = s.newDriver()
	if vd.Driver != nil {
		v.Driver = *vd.Driver
	}
	v.Limit = vd.Limit
	if v.Limit <= 0 {
		v.Limit = s.personalLimit(c)
	}
	ctx.Occ.Add(c, v.ID)
	if vd.Disabled {
		v.Disable(0)
		return nil
	}
	route.Assign(ctx, v)
	return nil
}

// populate places n vehicles on random free road cells.
func (s *Sim) populate(n int) error {
	if n <= 0 {
		return nil
	}
	ctx := s.ctx
	var free []entry
	for y := 0; y < ctx.Grid.Height(); y++ {
		for x := 0; x < ctx.Grid.Width(); x++ {
			cell, ok := ctx.Grid.Cell(grid.Coord{X: x, Y: y})
			if !ok || cell.Role != grid.Road {
				continue
			}
			for _, h := range cell.Headings.List() {
				free = append(free, entry{cell: cell.Coord, heading: h})
			}
		}
	}
	ctx.Rng.Shuffle(len(free), func(i, j int) { free[i], free[j] = free[j], free[i] })
	placed := 0
	for _, e := range free {
		if placed == n {
			break
		}
		if ctx.Occ.Occupied(e.cell) {
			continue
		}
		if err := s.place(VehicleData{X: float64(e.cell.X), Y: float64(e.cell.Y), Heading: e.heading}); err != nil {
			continue
		}
		placed++
	}
	if placed < n {
		return config.Errorf("population", "only %d free road cells for %d vehicles", placed, n)
	}
	return nil
}

// entries lists the edge cells where traffic enters the grid.
func entries(g *grid.Grid) []entry {
	var out []entry
	for y := 0; y < g.Height(); y++ {
		for x := 0; x < g.Width(); x++ {
			cell, ok := g.Cell(grid.Coord{X: x, Y: y})
			if !ok || cell.Role != grid.Road {
				continue
			}
			for _, h := range cell.Headings.List() {
				if g.OnEdge(cell.Coord, h.Opposite()) {
					out = append(out, entry{cell: cell.Coord, heading: h})
				}
			}
		}
	}
	return out
}

// greenWave offsets the corridor controllers so a vehicle leaving the
// outermost one at cruise speed meets green at each following one.
// Controllers are ordered by distance to the map edge, outermost first.
func greenWave(cfg config.Config, g *grid.Grid, timings []signal.Timing) []signal.Timing {
	out := slices.Clone(timings)
	seen := make(map[int]bool)
	var js []grid.Junction
	for _, j := range g.Junctions() {
		if j.Corridor && j.Controller >= 0 && j.Controller < len(out) && !seen[j.Controller] {
			seen[j.Controller] = true
			js = append(js, j)
		}
	}
	if len(js) < 2 {
		return out
	}
	edge := func(j grid.Junction) int {
		d := math.MaxInt
		for _, h := range grid.Headings {
			d = min(d, g.EdgeDistance(j.Anchor, h))
		}
		return d
	}
	slices.SortFunc(js, func(a, b grid.Junction) int {
		if c := cmp.Compare(edge(a), edge(b)); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	dists := make([]float64, len(js)-1)
	for k := range dists {
		ax, ay := js[k].Center()
		bx, by := js[k+1].Center()
		dists[k] = planar.Distance(hazard.Point(ax, ay), hazard.Point(bx, by))
	}
	accel := cfg.Signal.AccelToCruiseDistance
	base := int(math.Round(accel / grid.DefaultSpeedLimit))
	for k, off := range signal.GreenWaveOffsets(base, dists, accel) {
		out[js[k].Controller].Offset += off
	}
	return out
}
