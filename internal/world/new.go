package world

import (
	"fmt"
	"io"
	"math/rand/v2"

	"github.com/sirupsen/logrus"

	"github.com/cxd309/evacsim/internal/config"
	"github.com/cxd309/evacsim/internal/grid"
	"github.com/cxd309/evacsim/internal/kinematics"
	"github.com/cxd309/evacsim/internal/signal"
	"github.com/cxd309/evacsim/internal/vehicle"
)

// pcgStream is the second PCG seed word; the run seed supplies the first.
const pcgStream = 0x9e3779b97f4a7c15

// New builds a context over g with one controller per timing entry. A nil
// log discards output.
func New(cfg config.Config, g *grid.Grid, timings []signal.Timing, log *logrus.Entry) (*Context, error) {
	if len(timings) < g.Controllers() {
		return nil, config.Errorf("timings", "%d entries for %d controllers", len(timings), g.Controllers())
	}
	net, err := signal.NewNetwork(timings)
	if err != nil {
		return nil, &config.ConfigError{Field: "timings", Reason: "invalid timing", Err: err}
	}
	router, err := grid.NewRouter(g, cfg.Route.CorridorWeight)
	if err != nil {
		return nil, &config.ConfigError{Field: "route.corridor_weight", Reason: "building router", Err: err}
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = logrus.NewEntry(l)
	}
	src := rand.NewPCG(cfg.Run.Seed, cfg.Run.Seed^pcgStream)
	return &Context{
		Cfg:     cfg,
		Grid:    g,
		Occ:     grid.NewOccupancy(g),
		Fleet:   &vehicle.Arena{},
		Signals: net,
		Router:  router,
		Model:   kinematics.FromConfig(cfg.Kinematics),
		Rng:     rand.New(src),
		Src:     src,
		Log:     log,
	}, nil
}

// Reindex rebuilds the occupancy index from vehicle positions.
func (c *Context) Reindex() {
	c.Occ.Reset()
	for _, v := range c.Fleet.Vehicles {
		if v != nil && v.OnGrid() {
			c.Occ.Add(v.Cell(), v.ID)
		}
	}
}

// Spawn allocates an ordinary vehicle at the centre of cell facing h and
// indexes it. The cell must carry h.
func (c *Context) Spawn(cell grid.Coord, h grid.Heading) (*vehicle.Vehicle, error) {
	if !c.Grid.Legal(cell, h) {
		return nil, fmt.Errorf("cell %v does not carry heading %s", cell, h)
	}
	v := c.Fleet.Alloc()
	v.Place(cell, h)
	c.Occ.Add(cell, v.ID)
	return v, nil
}
