// Package smoothing provides the 2-D gaze position filters. A Smoother is
// chosen once at startup by Method and then driven one Step per accepted,
// non-blink frame.
package smoothing

import (
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/gazestream/internal/timeutil"
)

// Method selects a smoothing variant.
type Method string

const (
	MethodKalman Method = "kalman"
	MethodKDE    Method = "kde"
	MethodNone   Method = "none"
)

// IsValid reports whether m names a known variant.
func (m Method) IsValid() bool {
	switch m {
	case MethodKalman, MethodKDE, MethodNone:
		return true
	}
	return false
}

// ErrUntuned is returned when a smoother that needs calibration is used
// before Tune has been called.
var ErrUntuned = errors.New("smoother has not been tuned")

// Point is a position in screen pixels.
type Point struct {
	X, Y float64
}

// Smoother is a stateful position filter. Implementations are not safe for
// concurrent use; the frame loop owns its smoother exclusively.
type Smoother interface {
	// Step feeds one raw position and returns the filtered estimate. The
	// result may be non-finite, which callers treat as a rejected frame.
	Step(x, y float64) (float64, float64)

	// Tune fits the filter to calibration fixations and resets its state.
	Tune(samples []Point) error

	// Tuned reports whether the smoother is ready for Step.
	Tuned() bool

	// Debug returns auxiliary geometry for visualisation.
	Debug() Debug
}

// Debug is the optional visualisation geometry a smoother exposes. Fields a
// variant has no notion of are left zero.
type Debug struct {
	Method Method

	// Estimate is the last value returned by Step.
	Estimate Point

	// Velocity and Variance are the Kalman state velocity and position
	// covariance diagonal.
	Velocity Point
	Variance Point

	// Bandwidth is the KDE kernel width per axis, and Region lists the grid
	// cell centres that together hold Confidence of the density mass.
	Bandwidth  Point
	Region     []Point
	Confidence float64
	Samples    int
}

// Params holds the settings for every variant; each reads only its own.
type Params struct {
	ProcessNoisePos  float64
	ProcessNoiseVel  float64
	MeasurementNoise float64

	KDEWindow     time.Duration
	KDEConfidence float64
	KDEGridStep   float64
	KDEMinSamples int
}

// DefaultParams returns the built-in defaults.
func DefaultParams() Params {
	return Params{
		ProcessNoisePos:  1.0,
		ProcessNoiseVel:  10.0,
		MeasurementNoise: 25.0,
		KDEWindow:        500 * time.Millisecond,
		KDEConfidence:    0.5,
		KDEGridStep:      20,
		KDEMinSamples:    3,
	}
}

// New builds the smoother for method. clock is used by time-windowed
// variants; nil means the real clock.
func New(method Method, p Params, clock timeutil.Clock) (Smoother, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	switch method {
	case MethodKalman:
		return NewKalman(p), nil
	case MethodKDE:
		return NewKDE(p, clock), nil
	case MethodNone:
		return Passthrough{}, nil
	default:
		return nil, fmt.Errorf("unknown smoothing method %q", method)
	}
}

// Passthrough returns its input unchanged.
type Passthrough struct{}

func (Passthrough) Step(x, y float64) (float64, float64) { return x, y }
func (Passthrough) Tune([]Point) error                   { return nil }
func (Passthrough) Tuned() bool                          { return true }
func (Passthrough) Debug() Debug                         { return Debug{Method: MethodNone} }
