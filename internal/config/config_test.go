package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/gazestream/internal/publish"
	"github.com/banshee-data/gazestream/internal/smoothing"
	"github.com/banshee-data/gazestream/internal/stream"
)

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gazestream.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestEmptyConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := EmptyConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, smoothing.MethodKalman, cfg.GetSmoothingMethod())
	assert.Equal(t, publish.PolicySuppress, cfg.GetTransmissionPolicy())
	assert.Equal(t, stream.TransportGRPC, cfg.GetTransport())
	assert.Equal(t, StreamErrorDisable, cfg.GetOnStreamError())
	assert.Equal(t, 1920, cfg.GetScreenWidth())
	assert.Equal(t, 1080, cfg.GetScreenHeight())
	assert.Equal(t, 30.0, cfg.GetGazeRateHz())
	assert.Equal(t, 30.0, cfg.GetLandmarkRateHz())
	assert.Equal(t, "EyeGaze", cfg.GetGazeStreamName())
	assert.Equal(t, "FaceMesh", cfg.GetLandmarkStreamName())
	assert.Equal(t, 500*time.Millisecond, cfg.GetKDEWindow())
	assert.Equal(t, 50*time.Millisecond, cfg.GetPublishTimeout())
	assert.Equal(t, time.Second, cfg.GetStatusInterval())
	assert.Equal(t, "localhost:8081", cfg.GetStatusListen())
	assert.Equal(t, "", cfg.GetRecorderPath())

	profile, err := cfg.ResolveLandmarkProfile()
	require.NoError(t, err)
	assert.Equal(t, 68, profile.Count())
}

func TestLoadConfig_DefaultsFileMatchesAccessors(t *testing.T) {
	fromFile := MustLoadDefaultConfig()
	empty := EmptyConfig()

	// Every key in the canonical file must agree with the built-in default.
	assert.Equal(t, empty.GetSmoothingMethod(), fromFile.GetSmoothingMethod())
	assert.Equal(t, empty.SmoothingParams(), fromFile.SmoothingParams())
	assert.Equal(t, empty.GetTransmissionPolicy(), fromFile.GetTransmissionPolicy())
	assert.Equal(t, empty.GetGazeExtremePx(), fromFile.GetGazeExtremePx())
	assert.Equal(t, empty.GetGazeSourceID(), fromFile.GetGazeSourceID())
	assert.Equal(t, empty.GetLandmarkSourceID(), fromFile.GetLandmarkSourceID())
	assert.Equal(t, empty.GetGRPCListen(), fromFile.GetGRPCListen())
	assert.Equal(t, empty.GetPerceptionRcvBuf(), fromFile.GetPerceptionRcvBuf())
	assert.Equal(t, empty.GetSubscriberBuffer(), fromFile.GetSubscriberBuffer())
	assert.Equal(t, empty.GetStatusListen(), fromFile.GetStatusListen())
}

func TestLoadConfig_Partial(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{
  "smoothing_method": "kde",
  "transmission_policy": "sentinel",
  "gaze_rate_hz": 0,
  "landmark_profile": "face10",
  "kde_window": "250ms",
  "status_listen": "",
  "some_future_key": true
}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, smoothing.MethodKDE, cfg.GetSmoothingMethod())
	assert.Equal(t, publish.PolicySentinel, cfg.GetTransmissionPolicy())
	assert.Equal(t, 0.0, cfg.GetGazeRateHz())
	assert.Equal(t, 30.0, cfg.GetLandmarkRateHz(), "omitted keys keep defaults")
	assert.Equal(t, 250*time.Millisecond, cfg.GetKDEWindow())
	assert.Equal(t, "", cfg.GetStatusListen(), "explicit empty disables the status server")

	profile, err := cfg.ResolveLandmarkProfile()
	require.NoError(t, err)
	assert.Equal(t, "face10", profile.Name())
	assert.Equal(t, 10, profile.Count())
}

func TestLoadConfig_CustomLandmarks(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{
  "landmark_indices": [1, 33, 263],
  "landmark_labels": ["nose_tip", "right_eye", "left_eye"]
}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	profile, err := cfg.ResolveLandmarkProfile()
	require.NoError(t, err)
	if diff := cmp.Diff([]int{1, 33, 263}, profile.Indices()); diff != "" {
		t.Errorf("indices mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "left_eye_z", profile.ChannelLabels()[8])
}

func TestLoadConfig_FileChecks(t *testing.T) {
	t.Parallel()

	t.Run("extension", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "config.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), ".json extension")
	})

	t.Run("missing", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
		require.Error(t, err)
	})

	t.Run("too large", func(t *testing.T) {
		body := `{"gaze_stream_name": "` + strings.Repeat("x", 1<<20) + `"}`
		_, err := LoadConfig(writeConfig(t, body))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too large")
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, `{"screen_width": `))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse")
	})
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"unknown smoothing", func(c *Config) { c.SmoothingMethod = ptrString("median") }, "smoothing_method"},
		{"unknown policy", func(c *Config) { c.TransmissionPolicy = ptrString("drop") }, "transmission_policy"},
		{"unknown transport", func(c *Config) { c.Transport = ptrString("lsl") }, "transport"},
		{"unknown stream error mode", func(c *Config) { c.OnStreamError = ptrString("retry") }, "on_stream_error"},
		{"zero width", func(c *Config) { c.ScreenWidth = ptrInt(0) }, "screen_width"},
		{"huge height", func(c *Config) { c.ScreenHeight = ptrInt(20000) }, "screen_height"},
		{"negative rate", func(c *Config) { c.GazeRateHz = ptrFloat64(-1) }, "gaze_rate_hz"},
		{"confidence at one", func(c *Config) { c.KDEConfidence = ptrFloat64(1) }, "kde_confidence"},
		{"zero z bound", func(c *Config) { c.LandmarkZBound = ptrFloat64(0) }, "landmark_z_bound"},
		{"bad duration", func(c *Config) { c.PublishTimeout = ptrString("soon") }, "publish_timeout"},
		{"unknown profile", func(c *Config) { c.LandmarkProfile = ptrString("face5") }, "landmark_profile"},
		{"labels without indices", func(c *Config) { c.LandmarkLabels = []string{"a"} }, "landmark_labels"},
		{"label mismatch", func(c *Config) {
			c.LandmarkIndices = []int{1, 2}
			c.LandmarkLabels = []string{"a"}
		}, "landmark_indices"},
		{"negative index", func(c *Config) { c.LandmarkIndices = []int{-1} }, "landmark_indices"},
		{"qos", func(c *Config) { c.MQTTQoS = ptrInt(3) }, "mqtt_qos"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := EmptyConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStreamErrorMode_IsValid(t *testing.T) {
	t.Parallel()

	assert.True(t, StreamErrorDisable.IsValid())
	assert.True(t, StreamErrorFail.IsValid())
	assert.False(t, StreamErrorMode("").IsValid())
}

func TestLoadCalibration(t *testing.T) {
	t.Parallel()

	samples, err := LoadCalibration("")
	require.NoError(t, err)
	assert.Empty(t, samples)

	path := filepath.Join(t.TempDir(), "calibration.json")
	require.NoError(t, os.WriteFile(path, []byte(`[[960, 540], [962.5, 538], [958, 541]]`), 0o644))
	samples, err = LoadCalibration(path)
	require.NoError(t, err)
	want := []smoothing.Point{{X: 960, Y: 540}, {X: 962.5, Y: 538}, {X: 958, Y: 541}}
	if diff := cmp.Diff(want, samples); diff != "" {
		t.Errorf("calibration mismatch (-want +got):\n%s", diff)
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[[960, 540, 1]]`), 0o644))
	_, err = LoadCalibration(bad)
	assert.ErrorContains(t, err, "has 3 values")

	_, err = LoadCalibration(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
