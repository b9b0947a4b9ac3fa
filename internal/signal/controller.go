package signal

import (
	"errors"
	"fmt"

	"github.com/cxd309/evacsim/internal/grid"
)

// RetimeState tracks a controller's progress through the retiming protocol.
type RetimeState uint8

const (
	Stale   RetimeState = iota // no change pending
	Fresh                      // new durations loaded, waiting for an all-red stage
	Syncing                    // new durations committed, waiting for the network
)

func (r RetimeState) String() string {
	switch r {
	case Fresh:
		return "FRESH"
	case Syncing:
		return "SYNCING"
	default:
		return "STALE"
	}
}

// Force overrides the colours a controller shows without touching its phase.
type Force uint8

const (
	NoForce Force = iota
	ForceGreen
	ForceRed
)

// Controller owns the phase and timing state of one signalised intersection.
type Controller struct {
	ID         int         `msgpack:"id"`
	Phase      int         `msgpack:"phase"`
	Timing     Timing      `msgpack:"timing"`
	State      RetimeState `msgpack:"state"`
	Pending    Timing      `msgpack:"pending"`
	SyncOffset int         `msgpack:"sync_offset"`
	Aligned    bool        `msgpack:"aligned"`
	Force      Force       `msgpack:"force"`
}

// NewController starts a controller at the phase its offset prescribes for
// tick 0.
func NewController(id int, t Timing) (*Controller, error) {
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("controller %d: %w", id, err)
	}
	return &Controller{ID: id, Timing: t, Phase: mod(t.Offset, t.Cycle())}, nil
}

// Stage returns the current stage.
func (c *Controller) Stage() Stage { return c.Timing.StageAt(c.Phase) }

// Color returns the aspect shown to approach group a.
func (c *Controller) Color(a grid.Axis) Color {
	switch c.Force {
	case ForceGreen:
		return Green
	case ForceRed:
		return Red
	}
	return ForAxis(c.Stage(), a)
}

// load puts the controller in FRESH with t pending. A running green is cut
// short to its yellow; an all-red commits at once.
func (c *Controller) load(t Timing) {
	c.Pending = t
	c.State = Fresh
	switch s := c.Stage(); s {
	case GreenH:
		c.Phase = c.Timing.start(YellowH)
	case GreenV:
		c.Phase = c.Timing.start(YellowV)
	}
}

// commit adopts the pending timing while the controller sits in an all-red
// stage, keeping it at the same position within that stage.
func (c *Controller) commit() {
	s := c.Stage()
	within := c.Phase - c.Timing.start(s)
	next := c.Pending
	c.Phase = next.start(s) + min(within, next.AllRed-1)
	c.Timing = next
	c.Pending = Timing{}
	c.SyncOffset = next.Offset
	c.Aligned = false
	c.State = Syncing
}

// Event reports a retiming milestone from Network.Advance.
type Event struct {
	Controller int
	State      RetimeState
}

// Network advances every controller and coordinates the retiming barrier.
type Network struct {
	Controllers []*Controller `msgpack:"controllers"`
	// Synced counts controllers that have committed their pending timing in
	// the current retiming round.
	Synced int `msgpack:"synced"`
}

// NewNetwork builds one controller per timing entry, indexed by position.
func NewNetwork(timings []Timing) (*Network, error) {
	n := &Network{Controllers: make([]*Controller, len(timings))}
	for i, t := range timings {
		c, err := NewController(i, t)
		if err != nil {
			return nil, err
		}
		n.Controllers[i] = c
	}
	return n, nil
}

// ErrRetimeInProgress is returned when a retiming round is requested before
// the previous one has finished.
var ErrRetimeInProgress = errors.New("retiming already in progress")

// Retime loads new timings into every controller. timings must have one
// entry per controller.
func (n *Network) Retime(timings []Timing) ([]Event, error) {
	if len(timings) != len(n.Controllers) {
		return nil, fmt.Errorf("retime: %d timings for %d controllers", len(timings), len(n.Controllers))
	}
	for i, t := range timings {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("retime controller %d: %w", i, err)
		}
	}
	if n.Retiming() {
		return nil, ErrRetimeInProgress
	}
	n.Synced = 0
	var events []Event
	for i, c := range n.Controllers {
		c.load(timings[i])
		if c.Stage().AllRed() {
			c.commit()
			n.Synced++
			events = append(events, Event{Controller: c.ID, State: Syncing})
		} else {
			events = append(events, Event{Controller: c.ID, State: Fresh})
		}
	}
	return events, nil
}

// Retiming reports whether any controller is still FRESH or SYNCING.
func (n *Network) Retiming() bool {
	for _, c := range n.Controllers {
		if c.State != Stale {
			return true
		}
	}
	return false
}

// Advance moves every controller forward by one tick. tick is the index of
// the tick being started.
func (n *Network) Advance(tick int) []Event {
	var events []Event
	total := len(n.Controllers)
	for _, c := range n.Controllers {
		cycle := c.Timing.Cycle()
		if c.State == Syncing {
			if n.Synced < total {
				// Stretch the all-red stage until the whole network has
				// committed.
				continue
			}
			if !c.Aligned {
				// After Advance(tick) the network clock has run tick+1
				// ticks; hold until this controller's next phase matches it.
				if mod(tick+1+c.SyncOffset, cycle) != mod(c.Phase+1, cycle) {
					continue
				}
				c.Aligned = true
			}
			c.Phase = mod(c.Phase+1, cycle)
			if c.Phase == 0 {
				c.State = Stale
				c.SyncOffset = 0
				c.Aligned = false
				events = append(events, Event{Controller: c.ID, State: Stale})
			}
			continue
		}
		c.Phase = mod(c.Phase+1, cycle)
		if c.State == Fresh && c.Stage().AllRed() {
			c.commit()
			n.Synced++
			events = append(events, Event{Controller: c.ID, State: Syncing})
		}
	}
	return events
}

// Color returns the aspect controller id shows to approach group a. Unknown
// controllers show green.
func (n *Network) Color(id int, a grid.Axis) Color {
	if id < 0 || id >= len(n.Controllers) {
		return Green
	}
	return n.Controllers[id].Color(a)
}

// ForceAll overrides every controller's colours.
func (n *Network) ForceAll(f Force) {
	for _, c := range n.Controllers {
		c.Force = f
	}
}
