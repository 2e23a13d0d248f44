package smoothing

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// minDeterminant guards the innovation covariance inversion.
const minDeterminant = 1e-9

// Kalman is a constant-velocity filter over (x, y, vx, vy) with a fixed
// step of one frame. The state is seeded by the first measurement.
type Kalman struct {
	processNoisePos  float64
	processNoiseVel  float64
	measurementNoise float64

	seeded bool
	tuned  bool

	x, y, vx, vy float64
	p            [16]float64 // 4x4 row-major covariance
}

// NewKalman returns an untuned filter.
func NewKalman(p Params) *Kalman {
	return &Kalman{
		processNoisePos:  p.ProcessNoisePos,
		processNoiseVel:  p.ProcessNoiseVel,
		measurementNoise: p.MeasurementNoise,
	}
}

// MeasurementNoise returns the current measurement variance R.
func (k *Kalman) MeasurementNoise() float64 {
	return k.measurementNoise
}

// Tune estimates the measurement variance from calibration fixations: R is
// the mean of the per-axis sample variances. With fewer than two samples, or
// a degenerate variance, the configured R is kept. Either way the filter is
// reset and marked tuned.
func (k *Kalman) Tune(samples []Point) error {
	if len(samples) >= 2 {
		xs := make([]float64, len(samples))
		ys := make([]float64, len(samples))
		for i, s := range samples {
			xs[i], ys[i] = s.X, s.Y
		}
		r := (stat.Variance(xs, nil) + stat.Variance(ys, nil)) / 2
		if r > 0 && !math.IsInf(r, 0) {
			k.measurementNoise = r
		}
	}
	k.reset()
	k.tuned = true
	return nil
}

// Tuned reports whether Tune has been called.
func (k *Kalman) Tuned() bool {
	return k.tuned
}

// Step runs predict and update for one measurement and returns the updated
// position. A non-finite state resets the filter and yields NaN.
func (k *Kalman) Step(zx, zy float64) (float64, float64) {
	if !k.seeded {
		k.x, k.y = zx, zy
		k.vx, k.vy = 0, 0
		k.p = initialCovariance(k.measurementNoise)
		k.seeded = true
		if !k.isFinite() {
			k.reset()
			return math.NaN(), math.NaN()
		}
		return k.x, k.y
	}

	k.predict()
	k.update(zx, zy)

	if !k.isFinite() {
		k.reset()
		return math.NaN(), math.NaN()
	}
	return k.x, k.y
}

// Debug returns the current state.
func (k *Kalman) Debug() Debug {
	return Debug{
		Method:   MethodKalman,
		Estimate: Point{k.x, k.y},
		Velocity: Point{k.vx, k.vy},
		Variance: Point{k.p[0], k.p[5]},
	}
}

func initialCovariance(r float64) [16]float64 {
	return [16]float64{
		r, 0, 0, 0,
		0, r, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

func (k *Kalman) reset() {
	k.seeded = false
	k.x, k.y, k.vx, k.vy = 0, 0, 0, 0
	k.p = [16]float64{}
}

// predict applies x' = F x and P' = F P F^T + Q with dt = 1.
func (k *Kalman) predict() {
	k.x += k.vx
	k.y += k.vy

	P := k.p
	var FP [16]float64
	for j := 0; j < 4; j++ {
		FP[0*4+j] = P[0*4+j] + P[2*4+j]
		FP[1*4+j] = P[1*4+j] + P[3*4+j]
		FP[2*4+j] = P[2*4+j]
		FP[3*4+j] = P[3*4+j]
	}
	for i := 0; i < 4; i++ {
		k.p[i*4+0] = FP[i*4+0] + FP[i*4+2]
		k.p[i*4+1] = FP[i*4+1] + FP[i*4+3]
		k.p[i*4+2] = FP[i*4+2]
		k.p[i*4+3] = FP[i*4+3]
	}

	k.p[0*4+0] += k.processNoisePos
	k.p[1*4+1] += k.processNoisePos
	k.p[2*4+2] += k.processNoiseVel
	k.p[3*4+3] += k.processNoiseVel
}

// update folds in measurement (zx, zy) with H selecting position.
func (k *Kalman) update(zx, zy float64) {
	yX := zx - k.x
	yY := zy - k.y

	S00 := k.p[0*4+0] + k.measurementNoise
	S01 := k.p[0*4+1]
	S10 := k.p[1*4+0]
	S11 := k.p[1*4+1] + k.measurementNoise

	det := S00*S11 - S01*S10
	if math.Abs(det) < minDeterminant {
		return
	}
	invS00 := S11 / det
	invS01 := -S01 / det
	invS10 := -S10 / det
	invS11 := S00 / det

	// K = P H^T S^-1, a 4x2 matrix.
	var K [8]float64
	for i := 0; i < 4; i++ {
		K[i*2+0] = k.p[i*4+0]*invS00 + k.p[i*4+1]*invS10
		K[i*2+1] = k.p[i*4+0]*invS01 + k.p[i*4+1]*invS11
	}

	k.x += K[0]*yX + K[1]*yY
	k.y += K[2]*yX + K[3]*yY
	k.vx += K[4]*yX + K[5]*yY
	k.vy += K[6]*yX + K[7]*yY

	// P' = (I - K H) P
	var IminusKH [16]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var v float64
			if i == j {
				v = 1
			}
			switch j {
			case 0:
				v -= K[i*2+0]
			case 1:
				v -= K[i*2+1]
			}
			IminusKH[i*4+j] = v
		}
	}
	var newP [16]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float64
			for m := 0; m < 4; m++ {
				sum += IminusKH[i*4+m] * k.p[m*4+j]
			}
			newP[i*4+j] = sum
		}
	}
	k.p = newP
}

// isFinite reports whether the state vector and covariance diagonal are
// free of NaN and ±Inf.
func (k *Kalman) isFinite() bool {
	for _, v := range []float64{k.x, k.y, k.vx, k.vy, k.p[0], k.p[5], k.p[10], k.p[15]} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
