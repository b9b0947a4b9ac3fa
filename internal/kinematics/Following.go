package kinematics

import (
	"math"

	"github.com/samber/lo"
)

const eps = 1e-9

// Action is the speed decision for one tick.
type Action uint8

const (
	Coast Action = iota // keep or approach the speed limit
	Slow                // ordinary braking
	Brake               // maximum braking
)

func (a Action) String() string {
	switch a {
	case Coast:
		return "coast"
	case Slow:
		return "slow"
	default:
		return "brake"
	}
}

// Obstacle is the nearest thing ahead that a vehicle must stay behind: a
// leader vehicle, or a stop line modelled as a stationary leader.
type Obstacle struct {
	// Gap is the free space between the vehicle's front and the obstacle's
	// rear, in cells. Negative means the two already overlap.
	Gap float64
	// Speed is the obstacle's speed component along the vehicle's heading,
	// clamped at zero.
	Speed float64
}

// Motion is the committed longitudinal movement for one tick.
type Motion struct {
	Dist  float64
	Speed float64
	// Safe is false when even maximum braking cannot keep the vehicle behind
	// the obstacle's stopping point.
	Safe bool
}

// MustBrake is the closed-form test rel² ≥ 2·a·gap: closing at rel with
// ordinary braking would bring the separation under one cell.
func MustBrake(m MotionModel, rel, gap float64) bool {
	return rel > 0 && rel*rel >= 2*m.AvgBrake()*gap
}

// Decide classifies the speed decision against ob (nil = free road).
func Decide(m MotionModel, v float64, ob *Obstacle) Action {
	if ob == nil {
		return Coast
	}
	rel := v - ob.Speed
	switch {
	case ob.Gap <= 0 || MustBrake(m, rel, ob.Gap):
		return Brake
	case rel > 0 && ob.Gap < m.BrakingDistance(v)+1:
		return Slow
	}
	return Coast
}

// Desired returns the end-of-tick speed wanted for action a given the
// vehicle's current speed limit, before any obstacle constraint.
func Desired(m MotionModel, a Action, v, limit float64) float64 {
	var want float64
	switch a {
	case Brake:
		want = v - m.MaxBrake()
	case Slow:
		want = v - m.AvgBrake()
	default:
		if v < limit {
			want = math.Min(limit, v+m.MaxAccel())
		} else {
			want = math.Max(limit, v-m.AvgBrake())
		}
	}
	return lo.Clamp(want, math.Max(0, v-m.MaxBrake()), v+m.MaxAccel())
}

// Travel is the distance covered in one tick while changing speed from v to
// speed: traction when speeding up, ordinary braking when that is enough and
// maximum braking otherwise. A target reached mid-tick is held for the rest
// of the tick.
func Travel(m MotionModel, v, speed float64) float64 {
	var d float64
	switch {
	case speed >= v:
		d, _ = m.AccelerateStep(v, speed, 1)
	case v-speed <= m.AvgBrake()+eps:
		d, _ = m.DecelerateStep(v, speed, 1)
	default:
		d, _ = m.EmergencyStep(v, speed, 1)
	}
	return d
}

// Follow resolves the movement for one tick from speed v toward desired
// without entering ob's stopping envelope. The result satisfies, whenever
// Safe is true,
//
//	dist ≤ gap  and  gap − dist + vl²/2B ≥ speed²/2B
//
// so the vehicle can always stop behind the obstacle even if it brakes at the
// maximum rate B from now on.
func Follow(m MotionModel, v, desired float64, ob *Obstacle) Motion {
	b := m.MaxBrake()
	floor := math.Max(0, v-b)
	desired = lo.Clamp(desired, floor, v+m.MaxAccel())
	if ob == nil {
		return Motion{Dist: Travel(m, v, desired), Speed: desired, Safe: true}
	}

	gap := ob.Gap
	budget := gap + ob.Speed*ob.Speed/(2*b)
	vcap := math.Inf(-1)
	if disc := b*b - 4*b*v + 8*b*budget; disc >= 0 {
		vcap = (-b + math.Sqrt(disc)) / 2
	}
	vcap = math.Min(vcap, 2*gap-v)
	speed := math.Min(desired, vcap)

	if speed > 0 && speed >= floor {
		// The cap holds for a linear speed change; a trapezoid that reaches
		// its target early covers more ground and is only kept if it still
		// fits the envelope.
		dist := Travel(m, v, speed)
		if dist > gap+eps || dist+speed*speed/(2*b) > budget+eps {
			dist = (v + speed) / 2
		}
		return Motion{Dist: dist, Speed: speed, Safe: true}
	}
	if v <= b {
		// Stops within the tick; travel anywhere between the emergency stop
		// distance and the linear-deceleration distance.
		minD, _ := m.EmergencyStep(v, 0, 1)
		maxD := v / 2
		room := math.Min(gap, budget)
		return Motion{Dist: lo.Clamp(room, minD, maxD), Safe: room >= minD-eps}
	}
	dist, speed := m.EmergencyStep(v, v-b, 1)
	safe := dist <= gap+eps && dist+speed*speed/(2*b) <= budget+eps
	return Motion{Dist: dist, Speed: speed, Safe: safe}
}

// LookaheadRadius is how far ahead (in cells) a vehicle at speed v must scan
// for leaders: one tick of travel at full acceleration, the emergency stop
// distance from there, and the margin cell.
func LookaheadRadius(m MotionModel, v float64) int {
	top := v + m.MaxAccel()
	return int(math.Ceil(top+m.StopDistance(top))) + 1
}
