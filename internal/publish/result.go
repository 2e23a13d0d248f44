// Package publish owns the two output channels. It re-validates each
// candidate sample, applies the channel's rate limit, stamps accepted samples
// with a monotonic timestamp and pushes them, recording a status per channel.
// Nothing in the per-frame path returns an error to the caller.
package publish

import (
	"fmt"
)

// Policy decides what a rejected frame produces.
type Policy string

const (
	// PolicySuppress emits nothing for a rejected frame.
	PolicySuppress Policy = "suppress"
	// PolicySentinel emits an all-NaN sample for a rejected frame, keeping
	// one record per input frame.
	PolicySentinel Policy = "sentinel"
)

// IsValid reports whether p is a known policy.
func (p Policy) IsValid() bool {
	switch p {
	case PolicySuppress, PolicySentinel:
		return true
	}
	return false
}

// Candidate is a builder's output for one frame on one channel.
type Candidate struct {
	// Values is the fixed-length sample, possibly all NaN.
	Values []float64

	// Send is false when the frame produced no sample under the suppress
	// policy.
	Send bool

	// Note is the status text shown when the sample is sent, e.g.
	// "x=0.500 y=0.250 (blink=0)".
	Note string

	// Reason says why a frame was rejected. Empty when it was accepted.
	Reason string
}

// Status classifies the outcome of one publish attempt.
type Status string

const (
	StatusSent           Status = "sent"
	StatusSentinel       Status = "sentinel"
	StatusSuppressed     Status = "suppressed"
	StatusBlocked        Status = "blocked"
	StatusRateLimited    Status = "rate_limited"
	StatusTransportError Status = "transport_error"
	StatusDisabled       Status = "disabled"
)

// Delivered reports whether the sample reached the transport.
func (s Status) Delivered() bool {
	return s == StatusSent || s == StatusSentinel
}

// Result is the outcome of one publish attempt on one channel.
type Result struct {
	Channel   string
	Status    Status
	Timestamp float64 // set when delivered
	Err       error   // set for StatusBlocked and StatusTransportError
}

func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", r.Channel, r.Status, r.Err)
	}
	return fmt.Sprintf("%s: %s", r.Channel, r.Status)
}

// FrameResult pairs the outcomes of one frame.
type FrameResult struct {
	Gaze      Result
	Landmarks Result
}
