// Package engine runs the frame loop: read a frame, build both candidate
// samples, publish them, update the status board. One frame is fully
// processed before the next is read.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/banshee-data/gazestream/internal/gaze"
	"github.com/banshee-data/gazestream/internal/landmarks"
	"github.com/banshee-data/gazestream/internal/monitoring"
	"github.com/banshee-data/gazestream/internal/perception"
	"github.com/banshee-data/gazestream/internal/publish"
	"github.com/banshee-data/gazestream/internal/smoothing"
	"github.com/banshee-data/gazestream/internal/timeutil"
)

// Config wires the engine's collaborators.
type Config struct {
	Source    perception.Source
	Extractor perception.FeatureExtractor
	Detector  perception.LandmarkDetector
	Gaze      *gaze.Builder
	Landmarks *landmarks.Builder
	Publisher *publish.Publisher
	Board     *monitoring.StatusBoard
	Clock     timeutil.Clock

	// Report receives each refreshed status report. nil logs the status line.
	Report func(monitoring.Report)
}

// Stats summarises the frames processed so far.
type Stats struct {
	Frames         uint64            `json:"frames"`
	GazeRejects    map[string]uint64 `json:"gaze_rejects"`
	LandmarkReject map[string]uint64 `json:"landmark_rejects"`
	Gaze           map[string]uint64 `json:"gaze"`
	Landmarks      map[string]uint64 `json:"landmarks"`
}

// Engine is the frame loop. Run must not be called concurrently.
type Engine struct {
	cfg Config

	mu          sync.Mutex
	frames      uint64
	gazeRejects map[string]uint64
	lmRejects   map[string]uint64
	pending     map[string]uint64
}

// New checks that every collaborator is present and that the smoother has
// been tuned.
func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Source == nil:
		return nil, errors.New("engine needs a frame source")
	case cfg.Extractor == nil || cfg.Detector == nil:
		return nil, errors.New("engine needs a feature extractor and a landmark detector")
	case cfg.Gaze == nil || cfg.Landmarks == nil || cfg.Publisher == nil:
		return nil, errors.New("engine needs both sample builders and a publisher")
	}
	if !cfg.Gaze.Smoother().Tuned() {
		return nil, fmt.Errorf("engine: %w", smoothing.ErrUntuned)
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Board == nil {
		cfg.Board = monitoring.NewStatusBoard(0, cfg.Publisher.Gaze().Label(), cfg.Publisher.Landmarks().Label())
	}
	e := &Engine{
		cfg:         cfg,
		gazeRejects: make(map[string]uint64),
		lmRejects:   make(map[string]uint64),
		pending:     make(map[string]uint64),
	}
	if e.cfg.Report == nil {
		e.cfg.Report = e.logReport
	}
	return e, nil
}

// Run processes frames until the source is exhausted or ctx is cancelled.
// A frame already read is always completed before Run returns. Cancellation
// and io.EOF return nil; any other source error is returned.
func (e *Engine) Run(ctx context.Context) error {
	monitoring.Logf("[Engine] frame loop started: %s, %s, policy %s",
		e.cfg.Publisher.Gaze().Descriptor(), e.cfg.Publisher.Landmarks().Descriptor(), e.cfg.Publisher.Policy())
	e.cfg.Board.Refresh(e.cfg.Clock.Now())

	for {
		if ctx.Err() != nil {
			monitoring.Logf("[Engine] stopping: %v", ctx.Err())
			return nil
		}
		f, err := e.cfg.Source.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			monitoring.Logf("[Engine] source exhausted after %d frames", e.Stats().Frames)
			return nil
		case ctx.Err() != nil:
			monitoring.Logf("[Engine] stopping: %v", ctx.Err())
			return nil
		default:
			return fmt.Errorf("read frame: %w", err)
		}

		e.ProcessFrame(f)

		now := e.cfg.Clock.Now()
		e.cfg.Board.Frame(now)
		if r, ok := e.cfg.Board.Refresh(now); ok {
			e.cfg.Report(r)
			e.flushRejects()
		}
	}
}

// ProcessFrame builds and publishes both samples of one frame.
func (e *Engine) ProcessFrame(f *perception.Frame) publish.FrameResult {
	features, blink := e.cfg.Extractor.ExtractFeatures(f)
	gc := e.cfg.Gaze.Build(features, blink)
	lc := e.cfg.Landmarks.Build(e.cfg.Detector.DetectFaceLandmarks(f))

	res := e.cfg.Publisher.Publish(gc, lc)

	e.mu.Lock()
	e.frames++
	if gc.Reason != "" {
		e.gazeRejects[gc.Reason]++
		e.pending["gaze: "+gc.Reason]++
	}
	if lc.Reason != "" {
		e.lmRejects[lc.Reason]++
		e.pending["landmarks: "+lc.Reason]++
	}
	e.mu.Unlock()
	return res
}

// Stats returns a copy of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	s := Stats{
		Frames:         e.frames,
		GazeRejects:    copyCounts(e.gazeRejects),
		LandmarkReject: copyCounts(e.lmRejects),
	}
	e.mu.Unlock()
	s.Gaze = statusCounts(e.cfg.Publisher.Gaze().Counts())
	s.Landmarks = statusCounts(e.cfg.Publisher.Landmarks().Counts())
	return s
}

func (e *Engine) logReport(r monitoring.Report) {
	monitoring.Logf("[Engine] %s", r.Line)
}

// flushRejects logs the rejects of the last status interval in one line.
func (e *Engine) flushRejects() {
	e.mu.Lock()
	if len(e.pending) == 0 {
		e.mu.Unlock()
		return
	}
	keys := make([]string, 0, len(e.pending))
	for k := range e.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, e.pending[k])
	}
	clear(e.pending)
	e.mu.Unlock()
	monitoring.Logf("[Engine] rejected frames: %s", strings.Join(parts, ", "))
}

func copyCounts(m map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func statusCounts(m map[publish.Status]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}
