// Package telemetry publishes per-tick aggregate counters to display
// collaborators: a periodic log line, a websocket broadcast hub and an HTTP
// status endpoint.
package telemetry

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Counters is the per-tick aggregate published after every tick.
type Counters struct {
	Tick       int `json:"tick"`
	Active     int `json:"active"`
	Stopped    int `json:"stopped"`
	Evacuated  int `json:"evacuated"`
	OffMap     int `json:"off_map"`
	Disabled   int `json:"disabled"`
	Collisions int `json:"collisions"`
}

// Sink receives counters. Publish must not block the simulation.
type Sink interface {
	Publish(c Counters)
}

// LogSink logs counters every Every ticks at debug level.
type LogSink struct {
	Log   *logrus.Entry
	Every int
}

func (s LogSink) Publish(c Counters) {
	if s.Every <= 0 || c.Tick%s.Every != 0 {
		return
	}
	s.Log.WithFields(logrus.Fields{
		"tick":       c.Tick,
		"active":     c.Active,
		"stopped":    c.Stopped,
		"evacuated":  c.Evacuated,
		"off_map":    c.OffMap,
		"disabled":   c.Disabled,
		"collisions": c.Collisions,
	}).Debug("tick")
}

// Recorder keeps the latest counters and the final result for the status
// endpoints. It is safe for concurrent use.
type Recorder struct {
	mu     sync.RWMutex
	latest Counters
	seen   bool
	result any
}

func (r *Recorder) Publish(c Counters) {
	r.mu.Lock()
	r.latest, r.seen = c, true
	r.mu.Unlock()
}

// Latest returns the most recent counters; ok is false before the first
// tick.
func (r *Recorder) Latest() (Counters, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest, r.seen
}

// Finish stores the end-of-run record.
func (r *Recorder) Finish(result any) {
	r.mu.Lock()
	r.result = result
	r.mu.Unlock()
}

// Result returns the end-of-run record, or nil while the run is going.
func (r *Recorder) Result() any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.result
}
