// Package kinematics defines the MotionModel interface for vehicle traction and braking
// physics, along with the closed-form safety rules built on it.
//
// Distances are in cells, speeds in cells per tick and accelerations in cells per
// tick². A vehicle is one cell long.
package kinematics

// MotionModel is the physics contract every kinematics implementation must satisfy.
type MotionModel interface {
	// MaxAccel returns the traction acceleration limit.
	MaxAccel() float64

	// MaxBrake returns the emergency braking limit (positive).
	MaxBrake() float64

	// AvgBrake returns the ordinary braking rate (positive).
	AvgBrake() float64

	// BrakingDistance returns the distance needed to stop from v under ordinary braking.
	BrakingDistance(v float64) float64

	// StopDistance returns the distance needed to stop from v under maximum braking.
	StopDistance(v float64) float64

	// SafeDistance is StopDistance plus the margin cell.
	SafeDistance(v float64) float64

	// AccelerateStep advances the vehicle toward targetV over dt ticks.
	// If targetV is reached before dt expires, the vehicle cruises at targetV for the
	// remainder. Returns (distance travelled, new velocity).
	AccelerateStep(v, targetV, dt float64) (dist, newV float64)

	// DecelerateStep brakes the vehicle toward targetV (≥ 0) over dt ticks at the
	// ordinary rate, cruising at targetV once reached.
	// Returns (distance travelled, new velocity).
	DecelerateStep(v, targetV, dt float64) (dist, newV float64)

	// EmergencyStep is DecelerateStep at the maximum braking rate.
	EmergencyStep(v, targetV, dt float64) (dist, newV float64)
}
