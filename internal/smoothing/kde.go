package smoothing

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/gazestream/internal/timeutil"
)

// maxGridCells caps the density grid per axis; the step widens to fit.
const maxGridCells = 128

type timedPoint struct {
	at time.Time
	p  Point
}

// KDE estimates the gaze position as the mode of a Gaussian kernel density
// over the samples seen in a sliding time window. Bandwidth follows Scott's
// rule per axis.
type KDE struct {
	clock      timeutil.Clock
	window     time.Duration
	confidence float64
	gridStep   float64
	minSamples int

	samples []timedPoint
	last    Debug
}

// NewKDE returns a KDE smoother.
func NewKDE(p Params, clock timeutil.Clock) *KDE {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &KDE{
		clock:      clock,
		window:     p.KDEWindow,
		confidence: p.KDEConfidence,
		gridStep:   p.KDEGridStep,
		minSamples: p.KDEMinSamples,
		last:       Debug{Method: MethodKDE, Confidence: p.KDEConfidence},
	}
}

// Tune clears the window. KDE needs no calibration.
func (k *KDE) Tune([]Point) error {
	k.samples = k.samples[:0]
	return nil
}

// Tuned is always true.
func (k *KDE) Tuned() bool { return true }

// Debug returns the geometry computed by the last Step.
func (k *KDE) Debug() Debug {
	d := k.last
	d.Region = append([]Point(nil), k.last.Region...)
	return d
}

// Step adds (x, y) to the window and returns the density mode. Until the
// window holds minSamples points the raw input is returned.
func (k *KDE) Step(x, y float64) (float64, float64) {
	now := k.clock.Now()
	k.samples = append(k.samples, timedPoint{at: now, p: Point{x, y}})
	k.evict(now)

	n := len(k.samples)
	if n < k.minSamples {
		k.last = Debug{Method: MethodKDE, Estimate: Point{x, y}, Confidence: k.confidence, Samples: n}
		return x, y
	}

	xs := make([]float64, n)
	ys := make([]float64, n)
	for i, s := range k.samples {
		xs[i], ys[i] = s.p.X, s.p.Y
	}

	hx := k.bandwidth(xs)
	hy := k.bandwidth(ys)

	gx := k.axis(floats.Min(xs)-3*hx, floats.Max(xs)+3*hx)
	gy := k.axis(floats.Min(ys)-3*hy, floats.Max(ys)+3*hy)

	density := make([]float64, len(gx)*len(gy))
	for j, cy := range gy {
		for i, cx := range gx {
			var d float64
			for s := range xs {
				u := (cx - xs[s]) / hx
				v := (cy - ys[s]) / hy
				d += math.Exp(-0.5 * (u*u + v*v))
			}
			density[j*len(gx)+i] = d
		}
	}

	best := floats.MaxIdx(density)
	mode := Point{gx[best%len(gx)], gy[best/len(gx)]}

	k.last = Debug{
		Method:     MethodKDE,
		Estimate:   mode,
		Bandwidth:  Point{hx, hy},
		Region:     k.region(density, gx, gy),
		Confidence: k.confidence,
		Samples:    n,
	}
	return mode.X, mode.Y
}

func (k *KDE) evict(now time.Time) {
	cut := 0
	for cut < len(k.samples) && now.Sub(k.samples[cut].at) > k.window {
		cut++
	}
	if cut > 0 {
		k.samples = append(k.samples[:0], k.samples[cut:]...)
	}
}

// bandwidth applies Scott's rule for two dimensions, h = sigma * n^(-1/6),
// floored at half a grid step so a motionless fixation still has a kernel.
func (k *KDE) bandwidth(vs []float64) float64 {
	h := stat.StdDev(vs, nil) * math.Pow(float64(len(vs)), -1.0/6.0)
	floor := k.gridStep / 2
	if math.IsNaN(h) || h < floor {
		return floor
	}
	return h
}

// axis returns the grid cell centres covering [lo, hi].
func (k *KDE) axis(lo, hi float64) []float64 {
	step := k.gridStep
	if span := hi - lo; span/step > maxGridCells {
		step = span / maxGridCells
	}
	n := int(math.Floor((hi-lo)/step)) + 1
	out := make([]float64, n)
	if n == 1 {
		out[0] = (lo + hi) / 2
		return out
	}
	floats.Span(out, lo, lo+float64(n-1)*step)
	return out
}

// region returns the highest-density cells that together hold the
// configured fraction of the total mass.
func (k *KDE) region(density, gx, gy []float64) []Point {
	total := floats.Sum(density)
	if total <= 0 {
		return nil
	}
	sorted := append([]float64(nil), density...)
	inds := make([]int, len(sorted))
	floats.Argsort(sorted, inds)

	var out []Point
	var mass float64
	for i := len(sorted) - 1; i >= 0 && mass < k.confidence*total; i-- {
		idx := inds[i]
		mass += sorted[i]
		out = append(out, Point{gx[idx%len(gx)], gy[idx/len(gx)]})
	}
	return out
}
