// Package vehicle defines the vehicle record, its role and maneuver state
// machines, driver attributes, the arena that recycles vehicle slots and the
// garages that feed new vehicles onto the network.
package vehicle

import "github.com/cxd309/evacsim/internal/grid"

// Role is the fundamental kind a vehicle currently plays. Exactly one role
// is held at a time; transitions go through the methods below.
type Role uint8

const (
	Free          Role = iota // arena slot not in use
	Ordinary                  // regular through traffic
	LeftTurnAgent             // queued in a dedicated left-turn queue
	GarageSpawn               // waiting in a garage for its exit cell to clear
	OffMap                    // left the map before the alarm; waiting to respawn
	Disabled                  // crashed or incapacitated; an obstacle
)

var roleNames = [...]string{"free", "ordinary", "left-turn", "garage-spawn", "off-map", "disabled"}

func (r Role) String() string { return roleNames[r] }

// Maneuver is the decision engine's per-vehicle state.
type Maneuver uint8

const (
	Straight Maneuver = iota
	PreparingLeft
	PreparingRight
	RightTurn
	Passing
	UTurn
)

var maneuverNames = [...]string{"straight", "preparing-left", "preparing-right", "right-turn", "passing", "u-turn"}

func (m Maneuver) String() string { return maneuverNames[m] }

// Intent is the turn a vehicle plans to make at its next junction.
type Intent uint8

const (
	GoStraight Intent = iota
	TurnLeft
	TurnRight
)

var intentNames = [...]string{"straight", "left", "right"}

func (i Intent) String() string { return intentNames[i] }

// Apply returns the heading after executing i from h.
func (i Intent) Apply(h grid.Heading) grid.Heading {
	switch i {
	case TurnLeft:
		return h.Left()
	case TurnRight:
		return h.Right()
	default:
		return h
	}
}

// Mirror swaps left and right turns.
func (i Intent) Mirror() Intent {
	switch i {
	case TurnLeft:
		return TurnRight
	case TurnRight:
		return TurnLeft
	default:
		return i
	}
}

// GoalKind selects how the route manager steers a vehicle.
type GoalKind uint8

const (
	NoGoal   GoalKind = iota
	Local             // reach a specific junction
	Leave             // drive off the map along Direction
	Evacuate          // drive off the map away from the hazard
)

var goalNames = [...]string{"none", "local", "leave", "evacuate"}

func (k GoalKind) String() string { return goalNames[k] }

// Goal is the route manager's tracked target.
type Goal struct {
	Kind GoalKind `msgpack:"kind"`
	// Target is the junction anchor for Local goals.
	Target grid.Coord `msgpack:"target"`
	// Direction is the edge direction for Leave and Evacuate goals.
	Direction grid.Heading `msgpack:"dir"`
	// Route lists junction anchors still to visit, in order. An empty route
	// means the next turn is decided at the next junction.
	Route []grid.Coord `msgpack:"route"`
}

// Driver holds behavioural attributes.
type Driver struct {
	Urgency           float64 `msgpack:"urgency" json:"urgency"`     // [0,1]
	Knowledge         float64 `msgpack:"knowledge" json:"knowledge"` // grows with junctions traversed
	Awareness         float64 `msgpack:"awareness" json:"awareness"` // grows with sign and broadcast exposure
	LawThreshold      float64 `msgpack:"law" json:"law_threshold"`   // urgency above this permits rule breaking
	SpeedingThreshold float64 `msgpack:"speeding" json:"speeding_threshold"`
	Susceptibility    float64 `msgpack:"suscept" json:"susceptibility"`
	Exposure          float64 `msgpack:"exposure" json:"exposure"`
	Incapacitated     bool    `msgpack:"incap" json:"incapacitated"`
	AEGL2             bool    `msgpack:"aegl2" json:"aegl2"`
	// Flexible drivers substitute the mirror turn when a turn is illegal.
	Flexible bool `msgpack:"flexible" json:"flexible"`
}

// Vehicle is one arena record.
type Vehicle struct {
	ID   int  `msgpack:"id"`
	Role Role `msgpack:"role"`

	X       float64      `msgpack:"x"`
	Y       float64      `msgpack:"y"`
	Heading grid.Heading `msgpack:"heading"`
	Speed   float64      `msgpack:"speed"`
	Accel   float64      `msgpack:"accel"`
	Limit   float64      `msgpack:"limit"` // personal speed limit
	Rank    int          `msgpack:"rank"`

	Intent     Intent `msgpack:"intent"`
	MayReverse bool   `msgpack:"may_reverse"`
	// IntentJunction is the junction the intent was derived for, or -1.
	IntentJunction int      `msgpack:"intent_junction"`
	Maneuver       Maneuver `msgpack:"maneuver"`
	Goal           Goal     `msgpack:"goal"`
	Driver         Driver   `msgpack:"driver"`

	Wait           int `msgpack:"wait"`         // consecutive ticks stopped
	FollowTicks    int `msgpack:"follow_ticks"` // ticks held up by a slower leader
	LastLaneChange int `msgpack:"last_lc"`
	PassHold       int `msgpack:"pass_hold"` // ticks during which passing is suppressed
	// PassUntil is the along-heading coordinate past which a passing
	// vehicle may return to its own lane.
	PassUntil    float64 `msgpack:"pass_until"`
	LastJunction int     `msgpack:"last_junction"`
	// Yielded is set while the vehicle has dropped a deadlocked relation.
	Yielded bool `msgpack:"yielded"`

	Evacuating bool `msgpack:"evacuating"`
	Flipped    bool `msgpack:"flipped"`
	RunRed     bool `msgpack:"run_red"`

	DisabledAt int `msgpack:"disabled_at"`
	OffMapAt   int `msgpack:"off_map_at"`
	Garage     int `msgpack:"garage"`

	// PrevX, PrevY is where the vehicle started this tick.
	PrevX float64 `msgpack:"px"`
	PrevY float64 `msgpack:"py"`
}

// Cell returns the cell the vehicle occupies.
func (v *Vehicle) Cell() grid.Coord { return grid.CellOf(v.X, v.Y) }

// Along projects the vehicle position onto h.
func (v *Vehicle) Along(h grid.Heading) float64 {
	dx, dy := h.Vec()
	return v.X*float64(dx) + v.Y*float64(dy)
}

// OnGrid reports whether the vehicle physically occupies a cell.
func (v *Vehicle) OnGrid() bool {
	return v.Role == Ordinary || v.Role == LeftTurnAgent || v.Role == Disabled
}

// Active reports whether the vehicle is driving.
func (v *Vehicle) Active() bool { return v.Role == Ordinary || v.Role == LeftTurnAgent }

// Stopped reports whether the vehicle is at rest.
func (v *Vehicle) Stopped() bool { return v.Speed < 1e-6 }

// Place puts the vehicle at the centre of c facing h.
func (v *Vehicle) Place(c grid.Coord, h grid.Heading) {
	v.X, v.Y = float64(c.X), float64(c.Y)
	v.PrevX, v.PrevY = v.X, v.Y
	v.Heading = h
}

// Advance moves the vehicle dist cells along its heading.
func (v *Vehicle) Advance(dist float64) {
	dx, dy := v.Heading.Vec()
	v.X += float64(dx) * dist
	v.Y += float64(dy) * dist
}

// ClearIntent resets the turn intent.
func (v *Vehicle) ClearIntent() {
	v.Intent = GoStraight
	v.MayReverse = false
	v.IntentJunction = -1
}

// ToLeftTurnAgent converts an ordinary vehicle into a dedicated left-turn
// agent.
func (v *Vehicle) ToLeftTurnAgent() {
	if v.Role == Ordinary {
		v.Role = LeftTurnAgent
		v.Maneuver = PreparingLeft
	}
}

// ToOrdinary returns a left-turn agent or a spawned vehicle to ordinary
// traffic.
func (v *Vehicle) ToOrdinary() {
	if v.Role == LeftTurnAgent || v.Role == GarageSpawn || v.Role == OffMap {
		v.Role = Ordinary
		v.Maneuver = Straight
	}
}

// Disable marks the vehicle as a stationary-bound obstacle.
func (v *Vehicle) Disable(tick int) {
	if v.Role == Disabled {
		return
	}
	v.Role = Disabled
	v.Maneuver = Straight
	v.DisabledAt = tick
	v.ClearIntent()
}

// ToOffMap parks the vehicle in the off-map holding state.
func (v *Vehicle) ToOffMap(tick int) {
	v.Role = OffMap
	v.OffMapAt = tick
	v.Speed, v.Accel = 0, 0
	v.Wait = 0
	v.Maneuver = Straight
	v.ClearIntent()
}

// Log is a point-in-time snapshot of a vehicle's state.
type Log struct {
	ID       int          `json:"id"`
	Role     string       `json:"role"`
	X        float64      `json:"x"`
	Y        float64      `json:"y"`
	Heading  grid.Heading `json:"heading"`
	Speed    float64      `json:"speed"`
	Rank     int          `json:"rank"`
	Intent   string       `json:"intent"`
	Maneuver string       `json:"maneuver"`
	Exposure float64      `json:"exposure"`
}

// GetLog returns a point-in-time snapshot of the vehicle state.
func (v *Vehicle) GetLog() Log {
	return Log{
		ID:       v.ID,
		Role:     v.Role.String(),
		X:        v.X,
		Y:        v.Y,
		Heading:  v.Heading,
		Speed:    v.Speed,
		Rank:     v.Rank,
		Intent:   v.Intent.String(),
		Maneuver: v.Maneuver.String(),
		Exposure: v.Driver.Exposure,
	}
}
