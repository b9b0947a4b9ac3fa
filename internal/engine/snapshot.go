package engine

import (
	"fmt"

	"github.com/brunoga/deep"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/cxd309/evacsim/internal/config"
	"github.com/cxd309/evacsim/internal/signal"
	"github.com/cxd309/evacsim/internal/vehicle"
	"github.com/cxd309/evacsim/internal/world"
)

// Snapshot is the mutable world state. Together with the input it was
// built from it is enough to resume a run tick for tick.
type Snapshot struct {
	RunID    string            `msgpack:"run_id"`
	Seed     uint64            `msgpack:"seed"`
	Tick     int               `msgpack:"tick"`
	Alarm    bool              `msgpack:"alarm"`
	Frame    int               `msgpack:"frame"`
	Fleet    vehicle.Arena     `msgpack:"fleet"`
	Signals  signal.Network    `msgpack:"signals"`
	Garages  []*vehicle.Garage `msgpack:"garages"`
	Counters world.Counters    `msgpack:"counters"`
	Rng      []byte            `msgpack:"rng"`
}

// Capture returns the current state as a Snapshot sharing no memory with
// the running simulation.
func (s *Sim) Capture() (*Snapshot, error) {
	ctx := s.ctx
	rng, err := ctx.Src.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("saving rng state: %w", err)
	}
	snap := &Snapshot{
		RunID:    s.runID,
		Seed:     ctx.Cfg.Run.Seed,
		Tick:     ctx.Tick,
		Alarm:    ctx.Alarm,
		Frame:    s.frame,
		Fleet:    *ctx.Fleet,
		Signals:  *ctx.Signals,
		Garages:  ctx.Garages,
		Counters: ctx.Counters,
		Rng:      rng,
	}
	return deep.Copy(snap)
}

// Encode captures the current state in msgpack form.
func (s *Sim) Encode() ([]byte, error) {
	snap, err := s.Capture()
	if err != nil {
		return nil, err
	}
	data, err := msgpack.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return data, nil
}

// Decode parses an encoded snapshot.
func Decode(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &snap, nil
}

// Restore rebuilds a simulation from the input and configuration it was
// started with and a snapshot of its state.
func Restore(input SimulationInput, cfg config.Config, data []byte, opts ...Option) (*Sim, error) {
	snap, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if snap.Seed != cfg.Run.Seed {
		return nil, fmt.Errorf("snapshot seed %d does not match config seed %d", snap.Seed, cfg.Run.Seed)
	}
	input.RunID = snap.RunID
	sim, err := NewSim(input, cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := sim.Apply(snap); err != nil {
		return nil, err
	}
	return sim, nil
}

// Apply replaces the simulation state with snap. The snapshot is copied so
// it can be applied again.
func (s *Sim) Apply(snap *Snapshot) error {
	ctx := s.ctx
	if len(snap.Signals.Controllers) != len(ctx.Signals.Controllers) {
		return fmt.Errorf("snapshot has %d controllers, network has %d", len(snap.Signals.Controllers), len(ctx.Signals.Controllers))
	}
	if len(snap.Garages) != len(ctx.Garages) {
		return fmt.Errorf("snapshot has %d garages, input has %d", len(snap.Garages), len(ctx.Garages))
	}
	cp, err := deep.Copy(snap)
	if err != nil {
		return fmt.Errorf("copying snapshot: %w", err)
	}
	if err := ctx.Src.UnmarshalBinary(cp.Rng); err != nil {
		return fmt.Errorf("restoring rng state: %w", err)
	}
	s.runID = cp.RunID
	ctx.Tick = cp.Tick
	ctx.Alarm = cp.Alarm
	ctx.Fleet = &cp.Fleet
	ctx.Signals = &cp.Signals
	ctx.Garages = cp.Garages
	ctx.Counters = cp.Counters
	ctx.HasField, s.frame = false, -1
	if cp.Frame >= 0 {
		s.loadFrame(cp.Frame)
	}
	ctx.Reindex()
	s.status = Running
	s.snapshot = nil
	return nil
}

// Checkpoint is an in-memory snapshot for rewinding a run without encoding.
type Checkpoint struct {
	snap *Snapshot
}

// Checkpoint captures the current state.
func (s *Sim) Checkpoint() (Checkpoint, error) {
	snap, err := s.Capture()
	if err != nil {
		return Checkpoint{}, err
	}
	return Checkpoint{snap: snap}, nil
}

// Rewind returns the simulation to cp.
func (s *Sim) Rewind(cp Checkpoint) error {
	if cp.snap == nil {
		return fmt.Errorf("empty checkpoint")
	}
	return s.Apply(cp.snap)
}
