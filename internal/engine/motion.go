package engine

import (
	"cmp"
	"slices"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/cxd309/evacsim/internal/decision"
	"github.com/cxd309/evacsim/internal/kinematics"
	"github.com/cxd309/evacsim/internal/vehicle"
	"github.com/cxd309/evacsim/internal/world"
)

// order computes every on-grid vehicle's queue rank and returns the
// vehicles in processing order: ascending rank, left-turn agents first at
// equal rank, then by id.
func (s *Sim) order() []*vehicle.Vehicle {
	ctx := s.ctx
	vs := lo.Filter(ctx.Fleet.Vehicles, func(v *vehicle.Vehicle, _ int) bool {
		return v != nil && v.OnGrid()
	})
	leader := make(map[int]int, len(vs))
	for _, v := range vs {
		if n, ok := s.rankLeader(v); ok {
			leader[v.ID] = n.V.ID
		}
	}
	ids := lo.Map(vs, func(v *vehicle.Vehicle, _ int) int { return v.ID })
	ranks, broken := queueRanks(ids, leader)
	for _, id := range broken {
		ctx.Log.WithField("vehicle", id).Debug("queue rank cycle broken")
	}
	for _, v := range vs {
		v.Rank = ranks[v.ID]
		want := 0
		if l, ok := leader[v.ID]; ok {
			want = ranks[l] + 1
		}
		if v.Rank != want || v.Rank < 0 {
			ctx.Violation(v.ID, "queue rank %d, want %d", v.Rank, want)
		}
	}
	slices.SortStableFunc(vs, func(a, b *vehicle.Vehicle) int {
		if c := cmp.Compare(a.Rank, b.Rank); c != 0 {
			return c
		}
		aa, ba := a.Role == vehicle.LeftTurnAgent, b.Role == vehicle.LeftTurnAgent
		if aa != ba {
			if aa {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return vs
}

// queueRanks assigns rank 0 to vehicles without a leader and 1 + the
// leader's rank otherwise. A cycle of leaders is broken by dropping the
// relation of its lowest id; the dropped ids are returned.
func queueRanks(ids []int, leader map[int]int) (map[int]int, []int) {
	rank := make(map[int]int, len(ids))
	var broken []int
	for _, start := range ids {
		for {
			chain, cycle := walk(start, leader, rank)
			if cycle == nil {
				for i := len(chain) - 1; i >= 0; i-- {
					id := chain[i]
					if l, ok := leader[id]; ok {
						rank[id] = rank[l] + 1
					} else {
						rank[id] = 0
					}
				}
				break
			}
			low := slices.Min(cycle)
			delete(leader, low)
			broken = append(broken, low)
		}
	}
	return rank, broken
}

// walk follows leaders from start until it reaches a ranked vehicle or one
// without a leader. It returns the unranked chain in order, or the cycle if
// the walk revisits a vehicle.
func walk(start int, leader map[int]int, rank map[int]int) (chain, cycle []int) {
	pos := make(map[int]int)
	for id := start; ; {
		if _, ok := rank[id]; ok {
			return chain, nil
		}
		if i, seen := pos[id]; seen {
			return nil, chain[i:]
		}
		pos[id] = len(chain)
		chain = append(chain, id)
		l, ok := leader[id]
		if !ok {
			return chain, nil
		}
		id = l
	}
}

// deadlocked reports whether v drops its relation to o: both active and
// stopped in the same cell on different headings, both having waited at
// least the deadlock threshold. The longer waiter goes; on equal waits the
// lower id does.
func (s *Sim) deadlocked(v, o *vehicle.Vehicle) bool {
	d := s.ctx.Cfg.Decision.DeadlockWait
	if !v.Active() || !o.Active() || v.Heading == o.Heading || v.Cell() != o.Cell() {
		return false
	}
	if !v.Stopped() || !o.Stopped() || v.Wait < d || o.Wait < d {
		return false
	}
	if v.Wait != o.Wait {
		return v.Wait > o.Wait
	}
	return v.ID < o.ID
}

// rankLeader finds v's leader for queue ranking and records deadlock
// arbitration the first time v drops a relation.
func (s *Sim) rankLeader(v *vehicle.Vehicle) (world.Neighbour, bool) {
	ctx := s.ctx
	dropped := -1
	n, ok := ctx.Ahead(world.VantageOf(v), kinematics.LookaheadRadius(ctx.Model, v.Speed), func(o *vehicle.Vehicle) bool {
		if s.deadlocked(v, o) {
			dropped = o.ID
			return true
		}
		return false
	})
	if dropped >= 0 && !v.Yielded {
		v.Yielded = true
		ctx.Counters.Deadlocks++
		if ctx.Cfg.Run.Accidents {
			ctx.Counters.Accidents++
		}
		ctx.Log.WithFields(logrus.Fields{"vehicle": v.ID, "other": dropped, "wait": v.Wait}).Warn("deadlock arbitrated")
	}
	return n, ok
}

// leader returns v's current lane leader, honouring deadlock arbitration.
func (s *Sim) leader(v *vehicle.Vehicle) *world.Neighbour {
	ctx := s.ctx
	n, ok := ctx.Ahead(world.VantageOf(v), kinematics.LookaheadRadius(ctx.Model, v.Speed), func(o *vehicle.Vehicle) bool {
		return s.deadlocked(v, o)
	})
	if !ok {
		return nil
	}
	return &n
}

// jitter draws the per-tick speed-limit noise.
func (s *Sim) jitter() float64 {
	j := s.ctx.Cfg.Kinematics.Jitter
	if j == 0 {
		return 0
	}
	return (2*s.ctx.Rng.Float64() - 1) * j
}

// move commits v's motion for this tick. The chosen speed is the most
// restrictive of the safe speeds against the leader and every stop in the
// plan; disabled vehicles brake at the maximum rate until stopped.
func (s *Sim) move(v *vehicle.Vehicle, leader *world.Neighbour, p decision.Plan) {
	ctx := s.ctx
	m := ctx.Model
	from := v.Cell()
	v.PrevX, v.PrevY = v.X, v.Y

	obstacles := make([]*kinematics.Obstacle, 0, len(p.Stops)+1)
	if leader != nil {
		obstacles = append(obstacles, leader.Obstacle())
	}
	for i := range p.Stops {
		obstacles = append(obstacles, &p.Stops[i])
	}

	desired := 0.0
	if v.Active() {
		limit := max(0, ctx.SpeedLimit(v)+s.jitter())
		if p.Limit > 0 {
			limit = min(limit, p.Limit)
		}
		action := kinematics.Coast
		for _, ob := range obstacles {
			action = max(action, kinematics.Decide(m, v.Speed, ob))
		}
		desired = kinematics.Desired(m, action, v.Speed, limit)
	}
	motion := kinematics.Follow(m, v.Speed, desired, nil)
	for _, ob := range obstacles {
		if mo := kinematics.Follow(m, v.Speed, desired, ob); mo.Dist < motion.Dist {
			motion = mo
		}
	}

	speed := max(0, motion.Speed)
	v.Accel = lo.Clamp(speed-v.Speed, -m.MaxBrake(), m.MaxAccel())
	v.Speed = speed
	s.advance(v, motion.Dist, p)
	if v.Maneuver == vehicle.UTurn {
		v.Maneuver = vehicle.Straight
	}

	to := v.Cell()
	if !ctx.Grid.InBounds(to) {
		s.exit(v, from)
		return
	}
	if !ctx.Grid.Drivable(to) {
		ctx.Violation(v.ID, "moved onto non-road cell %v", to)
	}
	if to != from {
		ctx.Occ.Move(from, to, v.ID)
	}

	if !v.Active() {
		return
	}
	if v.Stopped() {
		v.Wait++
	} else {
		v.Wait = 0
		v.Yielded = false
	}
	d := ctx.Cfg.Decision
	if leader != nil && !world.Stationary(leader.V) &&
		leader.Speed < d.OvertakeSpeedRatio*ctx.SpeedLimit(v) &&
		leader.Gap() <= m.SafeDistance(v.Speed)+1 {
		v.FollowTicks++
	} else {
		v.FollowTicks = 0
	}
}

// advance moves v dist cells, turning onto the planned heading when it
// reaches the pivot centre and carrying the remaining distance along the new
// heading.
func (s *Sim) advance(v *vehicle.Vehicle, dist float64, p decision.Plan) {
	if !p.Turn || !v.Active() {
		v.Advance(dist)
		return
	}
	hx, hy := v.Heading.Vec()
	toPivot := float64(p.Pivot.X*hx+p.Pivot.Y*hy) - v.Along(v.Heading)
	if toPivot < -1e-9 || dist < toPivot-1e-9 {
		v.Advance(dist)
		return
	}
	v.X, v.Y = float64(p.Pivot.X), float64(p.Pivot.Y)
	v.Heading = p.To
	v.Advance(max(0, dist-toPivot))
	v.ClearIntent()
	v.ToOrdinary()
	v.Maneuver = vehicle.Straight
}
