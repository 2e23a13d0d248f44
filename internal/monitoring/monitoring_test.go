package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...interface{}) { got = fmt.Sprintf(format, v...) })
	Logf("[Test] %d", 42)
	assert.Equal(t, "[Test] 42", got)

	got = ""
	SetLogger(nil)
	assert.NotPanics(t, func() { Logf("muted") })
	assert.Empty(t, got)
}

func TestStatusBoard_RefreshAtMostOncePerInterval(t *testing.T) {
	t.Parallel()

	b := NewStatusBoard(time.Second, "Gaze", "FaceMesh")
	t0 := time.Unix(100, 0)

	_, ok := b.Refresh(t0)
	assert.False(t, ok, "the first call starts the interval")

	for i := 1; i <= 30; i++ {
		b.Frame(t0.Add(time.Duration(i) * 33 * time.Millisecond))
	}
	b.SetStatus("Gaze", "Gaze: x=0.500 y=0.250 (blink=0)")
	b.SetStatus("FaceMesh", "FaceMesh: 68/68")

	_, ok = b.Refresh(t0.Add(500 * time.Millisecond))
	assert.False(t, ok)

	r, ok := b.Refresh(t0.Add(time.Second))
	require.True(t, ok)
	assert.InDelta(t, 30.0, r.FPS, 1e-9)
	assert.Equal(t, uint64(30), r.Frames)
	assert.Equal(t, "[FPS: 30.0] Gaze: x=0.500 y=0.250 (blink=0) | FaceMesh: 68/68", r.Line)

	_, ok = b.Refresh(t0.Add(1500 * time.Millisecond))
	assert.False(t, ok, "the interval restarts after a refresh")

	assert.Equal(t, r.Line, b.Snapshot().Line)
}

func TestStatusBoard_ChannelOrder(t *testing.T) {
	t.Parallel()

	b := NewStatusBoard(time.Second, "Gaze")
	b.SetStatus("FaceMesh", "FaceMesh: DISABLED")
	t0 := time.Unix(0, 0)
	b.Refresh(t0)
	r, ok := b.Refresh(t0.Add(2 * time.Second))
	require.True(t, ok)
	assert.Equal(t, "[FPS: 0.0] Gaze: - | FaceMesh: DISABLED", r.Line)
	assert.Equal(t, "FaceMesh: DISABLED", b.Status("FaceMesh"))
}

func TestStatusBoard_SnapshotIsCopy(t *testing.T) {
	t.Parallel()

	b := NewStatusBoard(time.Millisecond, "Gaze")
	t0 := time.Unix(0, 0)
	b.Refresh(t0)
	b.Refresh(t0.Add(time.Second))

	s := b.Snapshot()
	s.Channels["Gaze"] = "changed"
	assert.Equal(t, "Gaze: -", b.Snapshot().Channels["Gaze"])
}

func TestServer_StatusAndHealth(t *testing.T) {
	t.Parallel()

	board := NewStatusBoard(time.Second, "Gaze")
	board.SetStatus("Gaze", "Gaze: BLINK (0,0,1)")
	t0 := time.Unix(0, 0)
	board.Refresh(t0)
	board.Refresh(t0.Add(time.Second))

	s := NewServer(ServerConfig{Address: "127.0.0.1:0", Board: board})
	s.Register("ingest", func() any { return map[string]int{"packets": 7} })

	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status Report         `json:"status"`
		Ingest map[string]int `json:"ingest"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Gaze: BLINK (0,0,1)", body.Status.Channels["Gaze"])
	assert.Equal(t, 7, body.Ingest["packets"])

	rec = httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_StartStop(t *testing.T) {
	t.Parallel()

	s := NewServer(ServerConfig{Address: "127.0.0.1:0", Board: NewStatusBoard(time.Second)})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not bind")
	}

	resp, err := http.Get("http://" + s.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
