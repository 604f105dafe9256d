package clocksync

import (
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
)

var ErrInsufficientSamples = errors.New("insufficient clock samples")

// Sample is one completed round trip: the client sent its local time t0, the
// server stamped receipt t1 and reply t2, and the client stamped receipt t3.
// All values are milliseconds on their respective clocks.
type Sample struct {
	T0, T1, T2, T3 int64
}

// Delay is the estimated round-trip network delay of the sample, with the
// server's processing time removed.
func (s Sample) Delay() int64 {
	return (s.T3 - s.T0) - (s.T2 - s.T1)
}

// Offset estimates server-clock minus client-clock: the amount to add to a
// client reading to obtain server time. Assumes symmetric
// one-way latency; the error from asymmetry is bounded by half the delay,
// which is why the lowest-delay sample wins.
func (s Sample) Offset() int64 {
	return ((s.T1 - s.T0) + (s.T2 - s.T3)) / 2
}

// Estimator collects round-trip samples for a single camera and selects the
// minimum-delay one. Samples must accumulate within a bounded window starting
// at the first Add; a camera that can't complete enough round trips in time
// is retried from scratch, never partially accepted.
type Estimator struct {
	clock      clockwork.Clock
	window     time.Duration
	minSamples int

	started time.Time
	samples []Sample
}

func NewEstimator(clock clockwork.Clock, window time.Duration, minSamples int) *Estimator {
	return &Estimator{clock: clock, window: window, minSamples: minSamples}
}

// Add records a completed round trip. Samples arriving after the window has
// elapsed are dropped; they belong to a retry, not this attempt.
func (e *Estimator) Add(s Sample) {
	now := e.clock.Now()
	if len(e.samples) == 0 {
		e.started = now
	}
	if now.Sub(e.started) > e.window {
		return
	}
	e.samples = append(e.samples, s)
}

// Count returns how many samples have been accepted.
func (e *Estimator) Count() int { return len(e.samples) }

// Best returns the offset of the minimum-delay sample, or
// ErrInsufficientSamples if fewer than the required round trips completed
// within the window.
func (e *Estimator) Best() (int64, error) {
	if len(e.samples) < e.minSamples {
		return 0, ErrInsufficientSamples
	}
	best := e.samples[0]
	for _, s := range e.samples[1:] {
		if s.Delay() < best.Delay() {
			best = s
		}
	}
	return best.Offset(), nil
}

// Reset discards all samples so the camera can retry the whole exchange.
func (e *Estimator) Reset() {
	e.samples = nil
	e.started = time.Time{}
}
