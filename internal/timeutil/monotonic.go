package timeutil

import "time"

// Monotonic converts clock readings into seconds since a fixed epoch taken at
// construction. time.Time values from time.Now carry a monotonic reading, so
// differences are immune to wall-clock steps.
type Monotonic struct {
	clock Clock
	epoch time.Time
}

// NewMonotonic starts a monotonic seconds counter at zero.
func NewMonotonic(clock Clock) *Monotonic {
	if clock == nil {
		clock = RealClock{}
	}
	return &Monotonic{clock: clock, epoch: clock.Now()}
}

// Seconds returns the elapsed seconds since the epoch.
func (m *Monotonic) Seconds() float64 {
	return m.clock.Since(m.epoch).Seconds()
}

// At converts an already captured reading into seconds since the epoch.
func (m *Monotonic) At(t time.Time) float64 {
	return t.Sub(m.epoch).Seconds()
}

// Clock returns the underlying clock.
func (m *Monotonic) Clock() Clock {
	return m.clock
}
