package perception

import (
	"context"
	"io"
	"math"
	"math/rand"
	"time"

	"github.com/banshee-data/gazestream/internal/timeutil"
)

// MeshSize is the number of points in a full face mesh.
const MeshSize = 478

// SyntheticConfig configures the synthetic source.
type SyntheticConfig struct {
	FrameRate    float64 // frames per second (default 30)
	Width        int     // screen pixels (default 1920)
	Height       int     // screen pixels (default 1080)
	BlinkEvery   int     // a 3-frame blink starts every N frames; 0 disables
	InvalidEvery int     // every Nth frame carries a bad gaze point; 0 disables
	NoFaceEvery  int     // every Nth frame has no face; 0 disables
	Frames       int     // stop after N frames with io.EOF; 0 is unbounded
	Seed         int64
	Clock        timeutil.Clock
}

// DefaultSyntheticConfig returns a config exercising every frame class.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		FrameRate:    30,
		Width:        1920,
		Height:       1080,
		BlinkEvery:   90,
		InvalidEvery: 47,
		NoFaceEvery:  61,
		Seed:         1,
	}
}

// Synthetic generates frames along a Lissajous gaze path with periodic
// blinks, injected invalid frames and a jittered face mesh.
type Synthetic struct {
	cfg    SyntheticConfig
	clock  timeutil.Clock
	ticker timeutil.Ticker
	rng    *rand.Rand
	start  time.Time
	seq    uint64
	base   Face
}

// NewSynthetic creates a synthetic source. Zero fields take defaults.
func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	def := DefaultSyntheticConfig()
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = def.FrameRate
	}
	if cfg.Width <= 0 {
		cfg.Width = def.Width
	}
	if cfg.Height <= 0 {
		cfg.Height = def.Height
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	s := &Synthetic{
		cfg:   cfg,
		clock: cfg.Clock,
		rng:   rng,
		start: cfg.Clock.Now(),
		base:  neutralFace(rng),
	}
	s.ticker = cfg.Clock.NewTicker(time.Duration(float64(time.Second) / cfg.FrameRate))
	return s
}

// Next waits for the next frame tick and returns a generated frame.
func (s *Synthetic) Next(ctx context.Context) (*Frame, error) {
	if s.cfg.Frames > 0 && s.seq >= uint64(s.cfg.Frames) {
		return nil, io.EOF
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ticker.C():
	}
	return s.Generate(), nil
}

// Generate builds the next frame immediately, without pacing.
func (s *Synthetic) Generate() *Frame {
	s.seq++
	n := s.seq
	now := s.clock.Now()
	t := now.Sub(s.start).Seconds()

	f := &Frame{Seq: n, CapturedAt: now}

	if every := uint64(s.cfg.BlinkEvery); every > 0 && n%every < 3 && n >= every {
		f.Blink = true
	}

	w, h := float64(s.cfg.Width), float64(s.cfg.Height)
	gaze := Point{
		X: w/2 + 0.45*w*math.Sin(2*math.Pi*0.13*t) + s.rng.NormFloat64()*8,
		Y: h/2 + 0.45*h*math.Sin(2*math.Pi*0.21*t+math.Pi/4) + s.rng.NormFloat64()*8,
	}
	if every := uint64(s.cfg.InvalidEvery); every > 0 && n%every == 0 {
		// Alternate between a NaN and an implausible regression output.
		if (n/every)%2 == 0 {
			gaze = Point{X: math.NaN(), Y: gaze.Y}
		} else {
			gaze = Point{X: 1e9, Y: -1e9}
		}
	}
	f.Features = &Features{Vector: []float64{gaze.X / w, gaze.Y / h}, Gaze: &gaze}

	if every := uint64(s.cfg.NoFaceEvery); every == 0 || n%every != 0 {
		f.Faces = []Face{s.jitter(t)}
	}
	return f
}

// Close stops the frame ticker.
func (s *Synthetic) Close() error {
	s.ticker.Stop()
	return nil
}

// neutralFace lays the mesh out on an ellipse around the image centre.
func neutralFace(rng *rand.Rand) Face {
	face := make(Face, MeshSize)
	for i := range face {
		a := 2 * math.Pi * float64(i) / MeshSize
		r := 0.05 + 0.15*rng.Float64()
		face[i] = Landmark{
			X: 0.5 + r*math.Cos(a)*0.8,
			Y: 0.5 + r*math.Sin(a),
			Z: (rng.Float64() - 0.5) * 0.1,
		}
	}
	return face
}

// jitter returns the base mesh with a slow head sway and per-point noise.
func (s *Synthetic) jitter(t float64) Face {
	dx := 0.02 * math.Sin(2*math.Pi*0.1*t)
	dy := 0.01 * math.Cos(2*math.Pi*0.07*t)
	face := make(Face, len(s.base))
	for i, p := range s.base {
		face[i] = Landmark{
			X: p.X + dx + s.rng.NormFloat64()*0.001,
			Y: p.Y + dy + s.rng.NormFloat64()*0.001,
			Z: p.Z + s.rng.NormFloat64()*0.001,
		}
	}
	return face
}
