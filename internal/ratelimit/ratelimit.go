// Package ratelimit gates publishes on one stream to a fixed frequency.
package ratelimit

import (
	"time"
)

// Limiter admits at most one publish per interval. A zero frequency builds
// an irregular limiter that admits every attempt.
//
// Limiter is not safe for concurrent use; each stream owns one.
type Limiter struct {
	hz       float64
	interval time.Duration
	last     time.Time
	accepted bool
}

// New returns a limiter for hz publishes per second. hz <= 0 means
// irregular.
func New(hz float64) *Limiter {
	l := &Limiter{hz: hz}
	if hz > 0 {
		l.interval = time.Duration(float64(time.Second) / hz)
	}
	return l
}

// NominalRate is the rate advertised in a stream descriptor: the configured
// frequency, or 0 for irregular streams.
func (l *Limiter) NominalRate() float64 {
	if l.interval == 0 {
		return 0
	}
	return l.hz
}

// Interval returns the minimum spacing between accepted publishes.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// Ready reports whether a publish at now would be admitted. It does not
// change state.
func (l *Limiter) Ready(now time.Time) bool {
	if l.interval == 0 || !l.accepted {
		return true
	}
	return now.Sub(l.last) >= l.interval
}

// Mark records now as the last accepted publish.
func (l *Limiter) Mark(now time.Time) {
	l.last = now
	l.accepted = true
}

// TryAcquire admits and records a publish at now if Ready, and otherwise
// leaves state unchanged.
func (l *Limiter) TryAcquire(now time.Time) bool {
	if !l.Ready(now) {
		return false
	}
	l.Mark(now)
	return true
}
