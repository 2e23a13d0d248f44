package smoothing

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/gazestream/internal/timeutil"
)

func TestMethod_IsValid(t *testing.T) {
	t.Parallel()

	for _, m := range []Method{MethodKalman, MethodKDE, MethodNone} {
		assert.True(t, m.IsValid(), m)
	}
	assert.False(t, Method("median").IsValid())
	assert.False(t, Method("").IsValid())
}

func TestNew_SelectsVariant(t *testing.T) {
	t.Parallel()

	tests := []struct {
		method Method
		want   interface{}
	}{
		{MethodKalman, &Kalman{}},
		{MethodKDE, &KDE{}},
		{MethodNone, Passthrough{}},
	}
	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			s, err := New(tt.method, DefaultParams(), nil)
			require.NoError(t, err)
			assert.IsType(t, tt.want, s)
			assert.Equal(t, tt.method, s.Debug().Method)
		})
	}

	_, err := New("median", DefaultParams(), nil)
	require.Error(t, err)
}

func TestPassthrough(t *testing.T) {
	t.Parallel()

	var s Smoother = Passthrough{}
	x, y := s.Step(12.5, -3)
	assert.Equal(t, 12.5, x)
	assert.Equal(t, -3.0, y)
	assert.True(t, s.Tuned())
	assert.NoError(t, s.Tune(nil))
}

func TestKalman_RequiresTune(t *testing.T) {
	t.Parallel()

	k := NewKalman(DefaultParams())
	assert.False(t, k.Tuned())
	require.NoError(t, k.Tune(nil))
	assert.True(t, k.Tuned())
	assert.Equal(t, 25.0, k.MeasurementNoise(), "empty calibration keeps configured noise")
}

func TestKalman_TuneFromCalibrationVariance(t *testing.T) {
	t.Parallel()

	k := NewKalman(DefaultParams())
	samples := []Point{{100, 200}, {104, 196}, {96, 204}, {100, 200}}
	require.NoError(t, k.Tune(samples))

	// var(x) = var(y) = 32/3 with the unbiased estimator.
	assert.InDelta(t, 32.0/3.0, k.MeasurementNoise(), 1e-9)
}

func TestKalman_TuneIgnoresDegenerateCalibration(t *testing.T) {
	t.Parallel()

	k := NewKalman(DefaultParams())
	require.NoError(t, k.Tune([]Point{{5, 5}, {5, 5}, {5, 5}}))
	assert.Equal(t, 25.0, k.MeasurementNoise())
	assert.True(t, k.Tuned())
}

func TestKalman_SeedsFromFirstMeasurement(t *testing.T) {
	t.Parallel()

	k := NewKalman(DefaultParams())
	require.NoError(t, k.Tune(nil))

	x, y := k.Step(960, 540)
	assert.Equal(t, 960.0, x)
	assert.Equal(t, 540.0, y)
}

func TestKalman_ConvergesOnStationaryTarget(t *testing.T) {
	t.Parallel()

	k := NewKalman(DefaultParams())
	require.NoError(t, k.Tune(nil))

	k.Step(0, 0)
	var x, y float64
	for i := 0; i < 200; i++ {
		x, y = k.Step(500, 300)
	}
	assert.InDelta(t, 500, x, 1)
	assert.InDelta(t, 300, y, 1)
}

func TestKalman_SmoothsJitter(t *testing.T) {
	t.Parallel()

	k := NewKalman(DefaultParams())
	require.NoError(t, k.Tune(nil))

	for i := 0; i < 50; i++ {
		k.Step(400, 400)
	}
	// A single 100px spike should be pulled well short of the raw value.
	x, _ := k.Step(500, 400)
	assert.Less(t, x, 490.0)
	assert.Greater(t, x, 400.0)
}

func TestKalman_NonFiniteResets(t *testing.T) {
	t.Parallel()

	k := NewKalman(DefaultParams())
	require.NoError(t, k.Tune(nil))
	k.Step(10, 10)

	x, y := k.Step(math.Inf(1), 10)
	assert.True(t, math.IsNaN(x))
	assert.True(t, math.IsNaN(y))

	// The next finite measurement re-seeds the filter.
	x, y = k.Step(20, 30)
	assert.Equal(t, 20.0, x)
	assert.Equal(t, 30.0, y)
	assert.True(t, k.Tuned(), "a reset keeps the tuning")
}

func TestKDE_RawUntilMinSamples(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	k := NewKDE(DefaultParams(), clock)

	x, y := k.Step(100, 100)
	assert.Equal(t, 100.0, x)
	assert.Equal(t, 100.0, y)
	clock.Advance(10 * time.Millisecond)
	x, _ = k.Step(300, 100)
	assert.Equal(t, 300.0, x)
	assert.Equal(t, 2, k.Debug().Samples)
}

func TestKDE_ModeIgnoresOutlier(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	k := NewKDE(DefaultParams(), clock)

	for _, p := range []Point{{500, 500}, {505, 498}, {498, 503}, {502, 500}, {499, 501}} {
		k.Step(p.X, p.Y)
		clock.Advance(10 * time.Millisecond)
	}
	x, y := k.Step(1500, 900)

	assert.InDelta(t, 500, x, 25, "mode stays with the cluster")
	assert.InDelta(t, 500, y, 25)

	d := k.Debug()
	assert.Equal(t, MethodKDE, d.Method)
	assert.Equal(t, 6, d.Samples)
	assert.NotEmpty(t, d.Region)
	assert.Greater(t, d.Bandwidth.X, 0.0)
}

func TestKDE_WindowEvictsOldSamples(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	p := DefaultParams()
	p.KDEWindow = 100 * time.Millisecond
	k := NewKDE(p, clock)

	for i := 0; i < 5; i++ {
		k.Step(200, 200)
	}
	clock.Advance(time.Second)

	x, y := k.Step(800, 600)
	assert.Equal(t, 800.0, x, "window holds one sample, below the minimum")
	assert.Equal(t, 600.0, y)
	assert.Equal(t, 1, k.Debug().Samples)
}

func TestKDE_DebugRegionIsCopy(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	k := NewKDE(DefaultParams(), clock)
	for i := 0; i < 4; i++ {
		k.Step(float64(100+i), 100)
	}

	d := k.Debug()
	require.NotEmpty(t, d.Region)
	d.Region[0] = Point{-1, -1}
	assert.NotEqual(t, Point{-1, -1}, k.Debug().Region[0])
}
