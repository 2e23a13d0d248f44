package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/gazestream/internal/timeutil"
)

func TestLimiter_ThirtyHz(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	l := New(30)

	assert.True(t, l.TryAcquire(clock.Now()), "first attempt is always accepted")

	clock.Advance(10 * time.Millisecond)
	assert.False(t, l.TryAcquire(clock.Now()), "10ms after is too soon")

	clock.Advance(30 * time.Millisecond)
	assert.True(t, l.TryAcquire(clock.Now()), "40ms after the last accept is admitted")
}

func TestLimiter_DeclineLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	start := time.Unix(0, 0)
	l := New(30)
	assert.True(t, l.TryAcquire(start))

	// Repeated declines must not push the window forward.
	for ms := 5; ms < 33; ms += 5 {
		assert.False(t, l.TryAcquire(start.Add(time.Duration(ms)*time.Millisecond)))
	}
	assert.True(t, l.TryAcquire(start.Add(l.Interval())))
}

func TestLimiter_NeverAcceptsCloserThanInterval(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	l := New(30)

	var accepted []time.Time
	for i := 0; i < 500; i++ {
		if l.TryAcquire(clock.Now()) {
			accepted = append(accepted, clock.Now())
		}
		clock.Advance(7 * time.Millisecond)
	}

	assert.NotEmpty(t, accepted)
	for i := 1; i < len(accepted); i++ {
		gap := accepted[i].Sub(accepted[i-1])
		assert.GreaterOrEqual(t, gap, time.Second/30, "gap %d", i)
	}
}

func TestLimiter_Irregular(t *testing.T) {
	t.Parallel()

	l := New(0)
	now := time.Unix(0, 0)
	for i := 0; i < 10; i++ {
		assert.True(t, l.TryAcquire(now), "irregular limiter admits everything")
	}
	assert.Equal(t, 0.0, l.NominalRate())
	assert.Equal(t, time.Duration(0), l.Interval())
}

func TestLimiter_ReadyThenMark(t *testing.T) {
	t.Parallel()

	l := New(10)
	now := time.Unix(0, 0)

	assert.True(t, l.Ready(now))
	assert.True(t, l.Ready(now), "Ready does not consume the slot")
	l.Mark(now)
	assert.False(t, l.Ready(now.Add(50*time.Millisecond)))
	assert.True(t, l.Ready(now.Add(100*time.Millisecond)))
	assert.Equal(t, 10.0, l.NominalRate())
}
