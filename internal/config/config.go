package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/gazestream/internal/gaze"
	"github.com/banshee-data/gazestream/internal/landmarks"
	"github.com/banshee-data/gazestream/internal/publish"
	"github.com/banshee-data/gazestream/internal/smoothing"
	"github.com/banshee-data/gazestream/internal/stream"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/gazestream.defaults.json"

// StreamErrorMode selects what happens when one stream's outlet cannot be opened.
type StreamErrorMode string

const (
	// StreamErrorDisable keeps the other stream running.
	StreamErrorDisable StreamErrorMode = "disable"
	// StreamErrorFail aborts startup.
	StreamErrorFail StreamErrorMode = "fail"
)

// IsValid reports whether m is a known mode.
func (m StreamErrorMode) IsValid() bool {
	switch m {
	case StreamErrorDisable, StreamErrorFail:
		return true
	}
	return false
}

// Config is the root configuration. It is loaded once at startup and passed
// by pointer to every constructor that needs it. Omitted keys fall back to the
// defaults returned by the Get* accessors, so partial files are valid.
type Config struct {
	// Smoothing
	SmoothingMethod        *string  `json:"smoothing_method,omitempty"`
	KalmanProcessNoisePos  *float64 `json:"kalman_process_noise_pos,omitempty"`
	KalmanProcessNoiseVel  *float64 `json:"kalman_process_noise_vel,omitempty"`
	KalmanMeasurementNoise *float64 `json:"kalman_measurement_noise,omitempty"`
	CalibrationPath        *string  `json:"calibration_path,omitempty"`
	KDEWindow              *string  `json:"kde_window,omitempty"` // duration string like "500ms"
	KDEConfidence          *float64 `json:"kde_confidence,omitempty"`
	KDEGridStepPx          *float64 `json:"kde_grid_step_px,omitempty"`
	KDEMinSamples          *int     `json:"kde_min_samples,omitempty"`

	// Samples
	TransmissionPolicy  *string  `json:"transmission_policy,omitempty"`
	ScreenWidth         *int     `json:"screen_width,omitempty"`
	ScreenHeight        *int     `json:"screen_height,omitempty"`
	GazeExtremePx       *float64 `json:"gaze_extreme_px,omitempty"`
	CursorStep          *float64 `json:"cursor_step,omitempty"`
	LandmarkProfile     *string  `json:"landmark_profile,omitempty"`
	LandmarkIndices     []int    `json:"landmark_indices,omitempty"`
	LandmarkLabels      []string `json:"landmark_labels,omitempty"`
	LandmarkExtreme     *float64 `json:"landmark_extreme,omitempty"`
	LandmarkZBound      *float64 `json:"landmark_z_bound,omitempty"`
	GazeFinalAbsMax     *float64 `json:"gaze_final_abs_max,omitempty"`
	LandmarkFinalAbsMax *float64 `json:"landmark_final_abs_max,omitempty"`

	// Streams
	GazeStreamName     *string  `json:"gaze_stream_name,omitempty"`
	GazeStreamType     *string  `json:"gaze_stream_type,omitempty"`
	GazeSourceID       *string  `json:"gaze_source_id,omitempty"`
	GazeRateHz         *float64 `json:"gaze_rate_hz,omitempty"`
	LandmarkStreamName *string  `json:"landmark_stream_name,omitempty"`
	LandmarkStreamType *string  `json:"landmark_stream_type,omitempty"`
	LandmarkSourceID   *string  `json:"landmark_source_id,omitempty"`
	LandmarkRateHz     *float64 `json:"landmark_rate_hz,omitempty"`
	OnStreamError      *string  `json:"on_stream_error,omitempty"`

	// Transport
	Transport        *string `json:"transport,omitempty"`
	GRPCListen       *string `json:"grpc_listen,omitempty"`
	MQTTBroker       *string `json:"mqtt_broker,omitempty"`
	MQTTClientID     *string `json:"mqtt_client_id,omitempty"`
	MQTTTopicPrefix  *string `json:"mqtt_topic_prefix,omitempty"`
	MQTTQoS          *int    `json:"mqtt_qos,omitempty"`
	WebSocketListen  *string `json:"websocket_listen,omitempty"`
	PublishTimeout   *string `json:"publish_timeout,omitempty"`
	SubscriberBuffer *int    `json:"subscriber_buffer,omitempty"`

	// Ingest and operations
	PerceptionListen *string `json:"perception_listen,omitempty"`
	PerceptionRcvBuf *int    `json:"perception_rcvbuf,omitempty"`
	StatusListen     *string `json:"status_listen,omitempty"`
	StatusInterval   *string `json:"status_interval,omitempty"`
	RecorderPath     *string `json:"recorder_path,omitempty"`
}

// EmptyConfig returns a Config with every field unset, so every accessor
// yields its default.
func EmptyConfig() *Config {
	return &Config{}
}

// LoadConfig loads a Config from a JSON file. The file must have a .json
// extension and be under 1MB. Unknown fields are ignored.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching from the current
// directory up towards the repository root. Intended for test setup.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are usable. Anything it
// rejects is a fatal startup error.
func (c *Config) Validate() error {
	if m := c.GetSmoothingMethod(); !m.IsValid() {
		return fmt.Errorf("unknown smoothing_method %q", m)
	}
	if p := c.GetTransmissionPolicy(); !p.IsValid() {
		return fmt.Errorf("unknown transmission_policy %q", p)
	}
	if t := c.GetTransport(); !t.IsValid() {
		return fmt.Errorf("unknown transport %q", t)
	}
	if m := c.GetOnStreamError(); !m.IsValid() {
		return fmt.Errorf("unknown on_stream_error %q", m)
	}

	if err := validateScreen("screen_width", c.GetScreenWidth()); err != nil {
		return err
	}
	if err := validateScreen("screen_height", c.GetScreenHeight()); err != nil {
		return err
	}

	if r := c.GetGazeRateHz(); r < 0 {
		return fmt.Errorf("gaze_rate_hz must be non-negative, got %f", r)
	}
	if r := c.GetLandmarkRateHz(); r < 0 {
		return fmt.Errorf("landmark_rate_hz must be non-negative, got %f", r)
	}

	if v := c.GetKDEConfidence(); v <= 0 || v >= 1 {
		return fmt.Errorf("kde_confidence must be in (0, 1), got %f", v)
	}
	if v := c.GetKDEMinSamples(); v < 1 {
		return fmt.Errorf("kde_min_samples must be positive, got %d", v)
	}

	positives := []struct {
		name string
		v    float64
	}{
		{"kalman_process_noise_pos", c.GetKalmanProcessNoisePos()},
		{"kalman_process_noise_vel", c.GetKalmanProcessNoiseVel()},
		{"kalman_measurement_noise", c.GetKalmanMeasurementNoise()},
		{"kde_grid_step_px", c.GetKDEGridStepPx()},
		{"gaze_extreme_px", c.GetGazeExtremePx()},
		{"cursor_step", c.GetCursorStep()},
		{"landmark_extreme", c.GetLandmarkExtreme()},
		{"landmark_z_bound", c.GetLandmarkZBound()},
		{"gaze_final_abs_max", c.GetGazeFinalAbsMax()},
		{"landmark_final_abs_max", c.GetLandmarkFinalAbsMax()},
	}
	for _, p := range positives {
		if !(p.v > 0) {
			return fmt.Errorf("%s must be positive, got %f", p.name, p.v)
		}
	}

	if c.LandmarkIndices == nil {
		if _, ok := landmarks.ProfileByName(c.GetLandmarkProfile()); !ok {
			return fmt.Errorf("unknown landmark_profile %q", c.GetLandmarkProfile())
		}
		if len(c.LandmarkLabels) > 0 {
			return fmt.Errorf("landmark_labels requires landmark_indices")
		}
	} else if _, err := landmarks.NewProfile("custom", c.LandmarkIndices, c.LandmarkLabels); err != nil {
		return fmt.Errorf("invalid landmark_indices: %w", err)
	}

	if q := c.GetMQTTQoS(); q < 0 || q > 2 {
		return fmt.Errorf("mqtt_qos must be 0, 1 or 2, got %d", q)
	}
	if n := c.GetSubscriberBuffer(); n < 1 {
		return fmt.Errorf("subscriber_buffer must be positive, got %d", n)
	}
	if n := c.GetPerceptionRcvBuf(); n < 0 {
		return fmt.Errorf("perception_rcvbuf must be non-negative, got %d", n)
	}

	durations := []struct {
		name string
		v    *string
	}{
		{"kde_window", c.KDEWindow},
		{"publish_timeout", c.PublishTimeout},
		{"status_interval", c.StatusInterval},
	}
	for _, d := range durations {
		if d.v == nil || *d.v == "" {
			continue
		}
		parsed, err := time.ParseDuration(*d.v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.v, err)
		}
		if parsed <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, *d.v)
		}
	}

	return nil
}

func validateScreen(name string, v int) error {
	if v < gaze.MinScreenDimension || v > gaze.MaxScreenDimension {
		return fmt.Errorf("%s must be in [%d, %d], got %d", name, gaze.MinScreenDimension, gaze.MaxScreenDimension, v)
	}
	return nil
}

func getString(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

func getFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func getInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// getDuration returns def when p is unset or unparsable; Validate reports the
// latter.
func getDuration(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil {
		return def
	}
	return d
}

// GetSmoothingMethod returns the smoothing_method value or the default.
func (c *Config) GetSmoothingMethod() smoothing.Method {
	return smoothing.Method(getString(c.SmoothingMethod, string(smoothing.MethodKalman)))
}

// GetKalmanProcessNoisePos returns the kalman_process_noise_pos value or the default.
func (c *Config) GetKalmanProcessNoisePos() float64 {
	return getFloat(c.KalmanProcessNoisePos, 1.0)
}

// GetKalmanProcessNoiseVel returns the kalman_process_noise_vel value or the default.
func (c *Config) GetKalmanProcessNoiseVel() float64 {
	return getFloat(c.KalmanProcessNoiseVel, 10.0)
}

// GetKalmanMeasurementNoise returns the kalman_measurement_noise value or the default.
func (c *Config) GetKalmanMeasurementNoise() float64 {
	return getFloat(c.KalmanMeasurementNoise, 25.0)
}

// GetCalibrationPath returns the calibration_path value. Empty means none.
func (c *Config) GetCalibrationPath() string {
	return getString(c.CalibrationPath, "")
}

// GetKDEWindow parses and returns kde_window.
func (c *Config) GetKDEWindow() time.Duration {
	return getDuration(c.KDEWindow, 500*time.Millisecond)
}

// GetKDEConfidence returns the kde_confidence value or the default.
func (c *Config) GetKDEConfidence() float64 {
	return getFloat(c.KDEConfidence, 0.5)
}

// GetKDEGridStepPx returns the kde_grid_step_px value or the default.
func (c *Config) GetKDEGridStepPx() float64 {
	return getFloat(c.KDEGridStepPx, 20)
}

// GetKDEMinSamples returns the kde_min_samples value or the default.
func (c *Config) GetKDEMinSamples() int {
	return getInt(c.KDEMinSamples, 3)
}

// SmoothingParams collects the smoother settings.
func (c *Config) SmoothingParams() smoothing.Params {
	return smoothing.Params{
		ProcessNoisePos:  c.GetKalmanProcessNoisePos(),
		ProcessNoiseVel:  c.GetKalmanProcessNoiseVel(),
		MeasurementNoise: c.GetKalmanMeasurementNoise(),
		KDEWindow:        c.GetKDEWindow(),
		KDEConfidence:    c.GetKDEConfidence(),
		KDEGridStep:      c.GetKDEGridStepPx(),
		KDEMinSamples:    c.GetKDEMinSamples(),
	}
}

// GetTransmissionPolicy returns the transmission_policy value or the default.
func (c *Config) GetTransmissionPolicy() publish.Policy {
	return publish.Policy(getString(c.TransmissionPolicy, string(publish.PolicySuppress)))
}

// GetScreenWidth returns the screen_width value or the default.
func (c *Config) GetScreenWidth() int {
	return getInt(c.ScreenWidth, 1920)
}

// GetScreenHeight returns the screen_height value or the default.
func (c *Config) GetScreenHeight() int {
	return getInt(c.ScreenHeight, 1080)
}

// GetGazeExtremePx returns the gaze_extreme_px value or the default.
func (c *Config) GetGazeExtremePx() float64 {
	return getFloat(c.GazeExtremePx, 1e5)
}

// GetCursorStep returns the cursor_step value or the default.
func (c *Config) GetCursorStep() float64 {
	return getFloat(c.CursorStep, 0.05)
}

// GetLandmarkProfile returns the landmark_profile name or the default.
func (c *Config) GetLandmarkProfile() string {
	return getString(c.LandmarkProfile, landmarks.Face68.Name())
}

// ResolveLandmarkProfile resolves the configured landmark index mapping. Custom
// indices take precedence over the named profile.
func (c *Config) ResolveLandmarkProfile() (landmarks.Profile, error) {
	if c.LandmarkIndices != nil {
		return landmarks.NewProfile("custom", c.LandmarkIndices, c.LandmarkLabels)
	}
	p, ok := landmarks.ProfileByName(c.GetLandmarkProfile())
	if !ok {
		return landmarks.Profile{}, fmt.Errorf("unknown landmark_profile %q", c.GetLandmarkProfile())
	}
	return p, nil
}

// GetLandmarkExtreme returns the landmark_extreme value or the default.
func (c *Config) GetLandmarkExtreme() float64 {
	return getFloat(c.LandmarkExtreme, 10)
}

// GetLandmarkZBound returns the landmark_z_bound value or the default.
func (c *Config) GetLandmarkZBound() float64 {
	return getFloat(c.LandmarkZBound, 1)
}

// GetGazeFinalAbsMax returns the gaze_final_abs_max value or the default.
func (c *Config) GetGazeFinalAbsMax() float64 {
	return getFloat(c.GazeFinalAbsMax, 10)
}

// GetLandmarkFinalAbsMax returns the landmark_final_abs_max value or the default.
func (c *Config) GetLandmarkFinalAbsMax() float64 {
	return getFloat(c.LandmarkFinalAbsMax, 100)
}

// GetGazeStreamName returns the gaze_stream_name value or the default.
func (c *Config) GetGazeStreamName() string {
	return getString(c.GazeStreamName, "EyeGaze")
}

// GetGazeStreamType returns the gaze_stream_type value or the default.
func (c *Config) GetGazeStreamType() string {
	return getString(c.GazeStreamType, "Gaze")
}

// GetGazeSourceID returns the gaze_source_id value or the default.
func (c *Config) GetGazeSourceID() string {
	return getString(c.GazeSourceID, "eyetrax_source_001")
}

// GetGazeRateHz returns the gaze_rate_hz value or the default. Zero means
// irregular.
func (c *Config) GetGazeRateHz() float64 {
	return getFloat(c.GazeRateHz, 30)
}

// GetLandmarkStreamName returns the landmark_stream_name value or the default.
func (c *Config) GetLandmarkStreamName() string {
	return getString(c.LandmarkStreamName, "FaceMesh")
}

// GetLandmarkStreamType returns the landmark_stream_type value or the default.
func (c *Config) GetLandmarkStreamType() string {
	return getString(c.LandmarkStreamType, "FaceLandmarks")
}

// GetLandmarkSourceID returns the landmark_source_id value or the default.
func (c *Config) GetLandmarkSourceID() string {
	return getString(c.LandmarkSourceID, "eyetrax_facemesh_001")
}

// GetLandmarkRateHz returns the landmark_rate_hz value or the default.
func (c *Config) GetLandmarkRateHz() float64 {
	return getFloat(c.LandmarkRateHz, 30)
}

// GetOnStreamError returns the on_stream_error value or the default.
func (c *Config) GetOnStreamError() StreamErrorMode {
	return StreamErrorMode(getString(c.OnStreamError, string(StreamErrorDisable)))
}

// GetTransport returns the transport value or the default.
func (c *Config) GetTransport() stream.Transport {
	return stream.Transport(getString(c.Transport, string(stream.TransportGRPC)))
}

// GetGRPCListen returns the grpc_listen value or the default.
func (c *Config) GetGRPCListen() string {
	return getString(c.GRPCListen, "localhost:50061")
}

// GetMQTTBroker returns the mqtt_broker value or the default.
func (c *Config) GetMQTTBroker() string {
	return getString(c.MQTTBroker, "tcp://localhost:1883")
}

// GetMQTTClientID returns the mqtt_client_id value or the default.
func (c *Config) GetMQTTClientID() string {
	return getString(c.MQTTClientID, "gazestream")
}

// GetMQTTTopicPrefix returns the mqtt_topic_prefix value or the default.
func (c *Config) GetMQTTTopicPrefix() string {
	return getString(c.MQTTTopicPrefix, "gazestream")
}

// GetMQTTQoS returns the mqtt_qos value or the default.
func (c *Config) GetMQTTQoS() int {
	return getInt(c.MQTTQoS, 0)
}

// GetWebSocketListen returns the websocket_listen value or the default.
func (c *Config) GetWebSocketListen() string {
	return getString(c.WebSocketListen, "localhost:8765")
}

// GetPublishTimeout parses and returns publish_timeout.
func (c *Config) GetPublishTimeout() time.Duration {
	return getDuration(c.PublishTimeout, 50*time.Millisecond)
}

// GetSubscriberBuffer returns the subscriber_buffer value or the default.
func (c *Config) GetSubscriberBuffer() int {
	return getInt(c.SubscriberBuffer, 64)
}

// GetPerceptionListen returns the perception_listen value or the default.
func (c *Config) GetPerceptionListen() string {
	return getString(c.PerceptionListen, "localhost:5005")
}

// GetPerceptionRcvBuf returns the perception_rcvbuf value or the default.
func (c *Config) GetPerceptionRcvBuf() int {
	return getInt(c.PerceptionRcvBuf, 1<<20)
}

// GetStatusListen returns the status_listen value. An explicit empty string
// disables the status server.
func (c *Config) GetStatusListen() string {
	if c.StatusListen == nil {
		return "localhost:8081"
	}
	return *c.StatusListen
}

// GetStatusInterval parses and returns status_interval.
func (c *Config) GetStatusInterval() time.Duration {
	return getDuration(c.StatusInterval, time.Second)
}

// GetRecorderPath returns the recorder_path value. Empty disables recording.
func (c *Config) GetRecorderPath() string {
	return getString(c.RecorderPath, "")
}
