package kinematics

import (
	"math"

	"github.com/cxd309/evacsim/internal/config"
)

// ConstantAcceleration implements MotionModel using fixed acceleration and deceleration
// rates. Every vehicle in a run shares one instance built from configuration.
type ConstantAcceleration struct {
	AAcc   float64 `json:"a_acc"`  // traction acceleration
	ADcc   float64 `json:"a_dcc"`  // ordinary braking (positive)
	AEmg   float64 `json:"a_emg"`  // maximum braking (positive)
	Margin float64 `json:"margin"` // cells kept clear beyond the stopping point
}

// FromConfig builds the model from kinematics configuration.
func FromConfig(k config.Kinematics) ConstantAcceleration {
	return ConstantAcceleration{AAcc: k.MaxAccel, ADcc: k.AvgBrake, AEmg: k.MaxBrake, Margin: k.Margin}
}

func (c ConstantAcceleration) MaxAccel() float64 { return c.AAcc }
func (c ConstantAcceleration) MaxBrake() float64 { return c.AEmg }
func (c ConstantAcceleration) AvgBrake() float64 { return c.ADcc }

func (c ConstantAcceleration) BrakingDistance(v float64) float64 {
	if c.ADcc <= 0 {
		return math.Inf(1)
	}
	return (v * v) / (2 * c.ADcc)
}

func (c ConstantAcceleration) StopDistance(v float64) float64 {
	if c.AEmg <= 0 {
		return math.Inf(1)
	}
	return (v * v) / (2 * c.AEmg)
}

func (c ConstantAcceleration) SafeDistance(v float64) float64 {
	return c.StopDistance(v) + c.Margin
}

func (c ConstantAcceleration) AccelerateStep(v, targetV, dt float64) (float64, float64) {
	if c.AAcc <= 0 || v >= targetV {
		return targetV * dt, targetV
	}
	tToTarget := (targetV - v) / c.AAcc
	if tToTarget <= dt {
		// Reaches targetV mid-step: accelerate, then cruise for the remainder.
		s1 := v*tToTarget + 0.5*c.AAcc*tToTarget*tToTarget
		s2 := targetV * (dt - tToTarget)
		return s1 + s2, targetV
	}
	newV := v + c.AAcc*dt
	return v*dt + 0.5*c.AAcc*dt*dt, newV
}

func (c ConstantAcceleration) DecelerateStep(v, targetV, dt float64) (float64, float64) {
	return decelerate(v, targetV, c.ADcc, dt)
}

// EmergencyStep brakes toward targetV at the maximum rate.
func (c ConstantAcceleration) EmergencyStep(v, targetV, dt float64) (float64, float64) {
	return decelerate(v, targetV, c.AEmg, dt)
}

func decelerate(v, targetV, rate, dt float64) (float64, float64) {
	if rate <= 0 || v <= targetV {
		return targetV * dt, targetV
	}
	tToTarget := (v - targetV) / rate
	if tToTarget <= dt {
		// Reaches targetV mid-step: brake, then cruise for the remainder.
		s1 := v*tToTarget - 0.5*rate*tToTarget*tToTarget
		s2 := targetV * (dt - tToTarget)
		return math.Max(0, s1) + s2, targetV
	}
	newV := v - rate*dt
	return math.Max(0, v*dt-0.5*rate*dt*dt), newV
}
