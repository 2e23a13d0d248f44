package perception

import (
	"context"
	"errors"
	"io"
	"math"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/gazestream/internal/timeutil"
)

func TestDecodeDatagram(t *testing.T) {
	t.Parallel()

	at := time.Unix(100, 0)
	f, err := DecodeDatagram([]byte(`{
  "seq": 7,
  "blink": false,
  "features": [0.1, 0.2],
  "gaze": [960, 540],
  "faces": [[[0.5, 0.5, 0.01], [0.6, 0.4, -0.02]]]
}`), at)
	require.NoError(t, err)

	want := &Frame{
		Seq:        7,
		CapturedAt: at,
		Features:   &Features{Vector: []float64{0.1, 0.2}, Gaze: &Point{960, 540}},
		Faces:      []Face{{{0.5, 0.5, 0.01}, {0.6, 0.4, -0.02}}},
	}
	if diff := cmp.Diff(want, f); diff != "" {
		t.Errorf("frame mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeDatagram_OptionalFields(t *testing.T) {
	t.Parallel()

	f, err := DecodeDatagram([]byte(`{"seq":1,"blink":true,"features":null,"gaze":null,"faces":[]}`), time.Time{})
	require.NoError(t, err)
	assert.True(t, f.Blink)
	assert.Nil(t, f.Features)
	assert.Empty(t, f.Faces)

	f, err = DecodeDatagram([]byte(`{"seq":2,"gaze":[1,2]}`), time.Time{})
	require.NoError(t, err)
	require.NotNil(t, f.Features, "a gaze estimate alone counts as features")
	assert.Equal(t, Point{1, 2}, *f.Features.Gaze)
}

func TestDecodeDatagram_Malformed(t *testing.T) {
	t.Parallel()

	for _, body := range []string{
		`not json`,
		`{"seq":1,"gaze":[1]}`,
		`{"seq":1,"faces":"none"}`,
	} {
		_, err := DecodeDatagram([]byte(body), time.Time{})
		assert.Error(t, err, body)
	}
}

func TestEncodeDatagram_RoundTrip(t *testing.T) {
	t.Parallel()

	in := &Frame{
		Seq:      3,
		Blink:    true,
		Features: &Features{Gaze: &Point{10, 20}},
		Faces:    []Face{{{0.1, 0.2, 0.3}}},
	}
	b, err := EncodeDatagram(in)
	require.NoError(t, err)
	out, err := DecodeDatagram(b, time.Time{})
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRemote(t *testing.T) {
	t.Parallel()

	var r Remote
	f := &Frame{Blink: true, Features: &Features{Gaze: &Point{3, 4}}, Faces: []Face{{}}}

	feats, blink := r.ExtractFeatures(f)
	assert.True(t, blink)
	p, err := r.Predict(feats)
	require.NoError(t, err)
	assert.Equal(t, Point{3, 4}, p)
	assert.Len(t, r.DetectFaceLandmarks(f), 1)

	_, err = r.Predict(&Features{Vector: []float64{1}})
	assert.ErrorIs(t, err, ErrNoPrediction)
	_, err = r.Predict(nil)
	assert.ErrorIs(t, err, ErrNoPrediction)
}

func TestQueue(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	assert.True(t, q.Offer(&Frame{Seq: 1}))
	assert.True(t, q.Offer(&Frame{Seq: 2}))
	assert.False(t, q.Offer(&Frame{Seq: 3}), "full queue drops")
	assert.Equal(t, uint64(1), q.Dropped())

	ctx := context.Background()
	f, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.Seq)

	require.NoError(t, q.Close())
	f, err = q.Next(ctx)
	require.NoError(t, err, "buffered frames drain after close")
	assert.Equal(t, uint64(2), f.Seq)

	_, err = q.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
	assert.False(t, q.Offer(&Frame{}))
	assert.Error(t, q.Put(ctx, &Frame{}))
}

func TestQueue_NextHonoursContext(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Next(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestUDPListener_QueuesDecodedFrames(t *testing.T) {
	q := NewQueue(8)
	stats := &Stats{}
	l := NewUDPListener(UDPListenerConfig{Address: "127.0.0.1:0", Queue: q, Stats: stats})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- l.Start(ctx) }()

	select {
	case <-l.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not bind")
	}

	conn, err := net.Dial("udp", l.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(`{"seq":42,"gaze":[100,200]}`))
	require.NoError(t, err)
	_, err = conn.Write([]byte(`garbage`))
	require.NoError(t, err)

	readCtx, readCancel := context.WithTimeout(ctx, 2*time.Second)
	defer readCancel()
	f, err := q.Next(readCtx)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), f.Seq)

	require.Eventually(t, func() bool { return stats.Snapshot().Malformed == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(2), stats.Snapshot().Packets)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
	_, err = q.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF, "listener closes the queue on exit")
}

func TestSynthetic_FrameClasses(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	s := NewSynthetic(SyntheticConfig{
		BlinkEvery:   10,
		InvalidEvery: 7,
		NoFaceEvery:  5,
		Clock:        clock,
	})
	defer s.Close()

	var blinks, invalid, noFace int
	for i := 0; i < 70; i++ {
		clock.Advance(33 * time.Millisecond)
		f := s.Generate()
		if f.Blink {
			blinks++
		}
		g := f.Features.Gaze
		if math.IsNaN(g.X) || math.Abs(g.X) > 1e5 {
			invalid++
		}
		if len(f.Faces) == 0 {
			noFace++
		} else {
			assert.Len(t, f.Faces[0], MeshSize)
		}
	}
	assert.Equal(t, 19, blinks, "3-frame blinks from frame 10 onwards")
	assert.Equal(t, 10, invalid)
	assert.Equal(t, 14, noFace)
}

func TestSynthetic_NextPacedByClock(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	s := NewSynthetic(SyntheticConfig{FrameRate: 10, Frames: 1, Clock: clock})
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	clock.Advance(100 * time.Millisecond)
	f, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.Seq)

	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}
