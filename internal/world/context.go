// Package world holds the explicit simulation context threaded through every
// component call: the static grid, the derived occupancy index, the vehicle
// arena, the signal network, the random stream, the alarm flag, counters and
// the fatal slot. There is no ambient global state.
package world

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/sirupsen/logrus"

	"github.com/cxd309/evacsim/internal/config"
	"github.com/cxd309/evacsim/internal/grid"
	"github.com/cxd309/evacsim/internal/hazard"
	"github.com/cxd309/evacsim/internal/kinematics"
	"github.com/cxd309/evacsim/internal/signal"
	"github.com/cxd309/evacsim/internal/vehicle"
)

// ErrInvariant is matched by every InvariantViolation.
var ErrInvariant = errors.New("invariant violation")

// InvariantViolation signals a data or logic defect, such as a lookahead
// walking past its sane bound. It is fatal at the end of the tick.
type InvariantViolation struct {
	Tick    int
	Vehicle int // -1 when not vehicle specific
	Detail  string
}

func (e *InvariantViolation) Error() string {
	if e.Vehicle >= 0 {
		return fmt.Sprintf("invariant violation at tick %d (vehicle %d): %s", e.Tick, e.Vehicle, e.Detail)
	}
	return fmt.Sprintf("invariant violation at tick %d: %s", e.Tick, e.Detail)
}

func (e *InvariantViolation) Is(target error) bool { return target == ErrInvariant }

// Counters are cumulative run statistics.
type Counters struct {
	Evacuated   int `msgpack:"evacuated" json:"evacuated"`
	Collisions  int `msgpack:"collisions" json:"collisions"`
	Deadlocks   int `msgpack:"deadlocks" json:"deadlocks"`
	Accidents   int `msgpack:"accidents" json:"accidents"`
	AEGL2       int `msgpack:"aegl2" json:"aegl2"`
	AEGL3       int `msgpack:"aegl3" json:"aegl3"`
	RedRuns     int `msgpack:"red_runs" json:"red_runs"`
	LaneChanges int `msgpack:"lane_changes" json:"lane_changes"`
	Passes      int `msgpack:"passes" json:"passes"`
	UTurns      int `msgpack:"uturns" json:"uturns"`
	Abandoned   int `msgpack:"abandoned" json:"abandoned"` // left turns given up
	Spawned     int `msgpack:"spawned" json:"spawned"`
	Retired     int `msgpack:"retired" json:"retired"`
}

// Context is the simulation state shared by every component.
type Context struct {
	Cfg     config.Config
	Grid    *grid.Grid
	Occ     *grid.Occupancy
	Fleet   *vehicle.Arena
	Signals *signal.Network
	Router  *grid.Router
	Model   kinematics.ConstantAcceleration
	Garages []*vehicle.Garage

	Rng *rand.Rand
	// Src is Rng's source, kept so snapshots can persist its state.
	Src *rand.PCG

	Log *logrus.Entry

	Tick  int
	Alarm bool
	// Field is the current concentration frame; HasField is false before
	// any frame is available.
	Field    hazard.Frame
	HasField bool

	Counters Counters

	fatal error
}

// Fail records err as the run's fatal condition. Only the first is kept.
func (c *Context) Fail(err error) {
	if c.fatal == nil && err != nil {
		c.fatal = err
		if c.Log != nil {
			c.Log.WithError(err).Error("fatal condition raised")
		}
	}
}

// Violation records an InvariantViolation for vehicle id (-1 for none).
func (c *Context) Violation(id int, format string, args ...any) {
	c.Fail(&InvariantViolation{Tick: c.Tick, Vehicle: id, Detail: fmt.Sprintf(format, args...)})
}

// Fatal returns the recorded fatal condition, if any.
func (c *Context) Fatal() error { return c.fatal }

// Chance draws true with probability p.
func (c *Context) Chance(p float64) bool {
	if p <= 0 {
		return false
	}
	return c.Rng.Float64() < p
}

// Vehicle returns the live record for id, or nil.
func (c *Context) Vehicle(id int) *vehicle.Vehicle { return c.Fleet.Get(id) }

// Color returns the signal aspect that junction j shows to traffic on
// heading h. Unsignalised junctions show green.
func (c *Context) Color(j grid.Junction, h grid.Heading) signal.Color {
	if j.Controller < 0 {
		return signal.Green
	}
	return c.Signals.Color(j.Controller, h.Axis())
}

// SpeedLimit is the vehicle's effective top speed this tick before jitter:
// its personal limit, plus an urgency-scaled bonus once urgency passes the
// driver's speeding threshold.
func (c *Context) SpeedLimit(v *vehicle.Vehicle) float64 {
	limit := v.Limit
	if v.Driver.Urgency > v.Driver.SpeedingThreshold {
		limit += c.Cfg.Kinematics.UrgencyBonus * v.Driver.Urgency
	}
	return limit
}
