// Package gaze builds the 3-channel gaze sample (x, y, blink) of each
// frame from the blink flag and the raw gaze prediction.
package gaze

import (
	"errors"
	"fmt"

	"github.com/banshee-data/gazestream/internal/perception"
	"github.com/banshee-data/gazestream/internal/publish"
	"github.com/banshee-data/gazestream/internal/smoothing"
	"github.com/banshee-data/gazestream/internal/validate"
)

// Screen dimension limits, in pixels.
const (
	MinScreenDimension = 100
	MaxScreenDimension = 10000
)

// Channels is the gaze sample width.
const Channels = 3

// Rejection reasons.
const (
	ReasonNoFeatures = "no features"
	ReasonNoPredict  = "no prediction"
	ReasonNonFinite  = "non-finite prediction"
	ReasonExtreme    = "extreme prediction"
	ReasonSmoothed   = "non-finite smoothed point"
	ReasonNormalized = "non-finite normalized point"
)

// BuilderConfig is the input to NewBuilder.
type BuilderConfig struct {
	Smoother  smoothing.Smoother
	Predictor perception.GazePredictor
	Width     int
	Height    int
	Policy    publish.Policy

	// ExtremePx rejects raw predictions whose magnitude exceeds it.
	ExtremePx float64
	// CursorStep is the cursor intensity ramp per frame.
	CursorStep float64
}

// Builder classifies each frame as blink, accepted or rejected and builds
// the candidate sample. It is owned by the frame loop.
type Builder struct {
	smoother  smoothing.Smoother
	predictor perception.GazePredictor
	width     float64
	height    float64
	policy    publish.Policy
	extreme   float64
	step      float64

	cursor float64
	last   smoothing.Point
}

// NewBuilder validates cfg. Screen dimensions outside
// [MinScreenDimension, MaxScreenDimension] are a configuration error.
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if cfg.Smoother == nil || cfg.Predictor == nil {
		return nil, errors.New("gaze builder needs a smoother and a predictor")
	}
	for _, d := range []struct {
		name string
		v    int
	}{{"width", cfg.Width}, {"height", cfg.Height}} {
		if d.v < MinScreenDimension || d.v > MaxScreenDimension {
			return nil, fmt.Errorf("screen %s %d outside [%d, %d]", d.name, d.v, MinScreenDimension, MaxScreenDimension)
		}
	}
	if !cfg.Policy.IsValid() {
		return nil, fmt.Errorf("unknown transmission policy %q", cfg.Policy)
	}
	if cfg.ExtremePx <= 0 {
		return nil, fmt.Errorf("extreme threshold must be positive, got %v", cfg.ExtremePx)
	}
	return &Builder{
		smoother:  cfg.Smoother,
		predictor: cfg.Predictor,
		width:     float64(cfg.Width),
		height:    float64(cfg.Height),
		policy:    cfg.Policy,
		extreme:   cfg.ExtremePx,
		step:      cfg.CursorStep,
	}, nil
}

// Build produces the gaze candidate of one frame.
//
// A blink yields (0, 0, 1) without touching the smoother. Otherwise the
// raw prediction is checked, smoothed, normalized by the screen size and
// clamped into [0, 1]. Any failed check rejects the frame: nothing is sent
// under the suppress policy and an all-NaN sample under sentinel.
func (b *Builder) Build(features *perception.Features, blink bool) publish.Candidate {
	if blink {
		b.rampCursor(-1)
		return publish.Candidate{
			Values: []float64{0, 0, 1},
			Send:   true,
			Note:   "BLINK (0,0,1)",
		}
	}
	if features == nil {
		return b.reject(ReasonNoFeatures)
	}

	raw, err := b.predictor.Predict(features)
	if err != nil {
		return b.reject(ReasonNoPredict)
	}
	if !validate.AllFinite(raw.X, raw.Y) {
		return b.reject(ReasonNonFinite)
	}
	if validate.AnyExtreme(b.extreme, raw.X, raw.Y) {
		return b.reject(ReasonExtreme)
	}

	sx, sy := b.smoother.Step(raw.X, raw.Y)
	b.rampCursor(1)
	if !validate.AllFinite(sx, sy) {
		return b.rejectKeepCursor(ReasonSmoothed)
	}
	b.last = smoothing.Point{X: sx, Y: sy}

	nx, ny := sx/b.width, sy/b.height
	if !validate.AllFinite(nx, ny) {
		return b.rejectKeepCursor(ReasonNormalized)
	}
	nx = validate.Clamp(nx, 0, 1)
	ny = validate.Clamp(ny, 0, 1)
	return publish.Candidate{
		Values: []float64{nx, ny, 0},
		Send:   true,
		Note:   fmt.Sprintf("x=%.3f y=%.3f (blink=0)", nx, ny),
	}
}

func (b *Builder) reject(reason string) publish.Candidate {
	b.rampCursor(-1)
	return b.rejectKeepCursor(reason)
}

func (b *Builder) rejectKeepCursor(reason string) publish.Candidate {
	return publish.Candidate{
		Values: validate.Sentinel(Channels),
		Send:   b.policy == publish.PolicySentinel,
		Reason: reason,
	}
}

func (b *Builder) rampCursor(dir float64) {
	b.cursor = validate.Clamp(b.cursor+dir*b.step, 0, 1)
}

// CursorIntensity is the smoothed-cursor opacity in [0, 1]. It rises while
// frames are accepted and falls on blinks and rejects. It has no effect on
// published samples.
func (b *Builder) CursorIntensity() float64 { return b.cursor }

// LastSmoothed returns the most recent finite smoothed point in pixels.
func (b *Builder) LastSmoothed() smoothing.Point { return b.last }

// Smoother returns the builder's smoother.
func (b *Builder) Smoother() smoothing.Smoother { return b.smoother }
