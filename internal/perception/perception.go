// Package perception defines the collaborator interfaces that feed the
// sample builders, and the frame sources used in practice: UDP datagrams
// from the external perception process, PCAP replay of those datagrams, and a
// synthetic generator for development.
package perception

import (
	"context"
	"errors"
	"time"
)

// ErrNoPrediction is returned by a GazePredictor that has no estimate for
// the given features.
var ErrNoPrediction = errors.New("no gaze prediction")

// Point is a raw gaze estimate in screen pixels.
type Point struct {
	X, Y float64
}

// Landmark is one face mesh point: x and y normalized to the image, z a
// relative depth.
type Landmark struct {
	X, Y, Z float64
}

// Face is one detected face, indexed by mesh index.
type Face []Landmark

// Features is the gaze feature vector of one frame. Gaze carries the
// external regression's output when the perception process ran it.
type Features struct {
	Vector []float64
	Gaze   *Point
}

// Frame is everything the perception process reported for one camera frame.
type Frame struct {
	Seq        uint64
	CapturedAt time.Time
	Blink      bool
	Features   *Features
	Faces      []Face
}

// FeatureExtractor yields the optional features and the blink flag.
type FeatureExtractor interface {
	ExtractFeatures(f *Frame) (*Features, bool)
}

// GazePredictor maps features to a raw pixel-space point.
type GazePredictor interface {
	Predict(f *Features) (Point, error)
}

// LandmarkDetector returns zero or more faces for a frame.
type LandmarkDetector interface {
	DetectFaceLandmarks(f *Frame) []Face
}

// Source yields frames in order. Next blocks until a frame is available or
// ctx ends, and returns io.EOF when the source is exhausted.
type Source interface {
	Next(ctx context.Context) (*Frame, error)
	Close() error
}

// Remote adapts frames whose fields were computed by the external
// perception process. It implements FeatureExtractor, GazePredictor and
// LandmarkDetector.
type Remote struct{}

// ExtractFeatures returns the frame's features and blink flag.
func (Remote) ExtractFeatures(f *Frame) (*Features, bool) {
	return f.Features, f.Blink
}

// Predict returns the regression output carried with the features.
func (Remote) Predict(f *Features) (Point, error) {
	if f == nil || f.Gaze == nil {
		return Point{}, ErrNoPrediction
	}
	return *f.Gaze, nil
}

// DetectFaceLandmarks returns the frame's faces.
func (Remote) DetectFaceLandmarks(f *Frame) []Face {
	return f.Faces
}
