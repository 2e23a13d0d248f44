package publish

import (
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/gazestream/internal/monitoring"
	"github.com/banshee-data/gazestream/internal/ratelimit"
	"github.com/banshee-data/gazestream/internal/stream"
	"github.com/banshee-data/gazestream/internal/timeutil"
)

// StatusSink receives the rolling status line of each channel.
type StatusSink interface {
	SetStatus(channel, text string)
}

// Tap observes every delivered sample. It must not block.
type Tap interface {
	Record(streamName string, s stream.Sample)
}

// ChannelConfig describes one output channel.
type ChannelConfig struct {
	// Label prefixes the status line, e.g. "Gaze" or "FaceMesh".
	Label      string
	Descriptor stream.Descriptor

	// Outlet is nil when the stream could not be opened; the channel then
	// reports StatusDisabled for every frame.
	Outlet  stream.Outlet
	Limiter *ratelimit.Limiter
	Bounds  Bounds

	// BlockedText is the status shown when final validation fails.
	BlockedText string
}

// Channel is one output stream with its limiter and status.
type Channel struct {
	cfg ChannelConfig

	mu       sync.Mutex
	status   string
	counts   map[Status]uint64
	failing  bool
	lastErr  error
	lastSent float64
}

func newChannel(cfg ChannelConfig) *Channel {
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.New(cfg.Descriptor.NominalRate())
	}
	if cfg.BlockedText == "" {
		cfg.BlockedText = "BLOCKED (invalid values)"
	}
	c := &Channel{cfg: cfg, counts: make(map[Status]uint64)}
	if cfg.Outlet == nil {
		c.status = cfg.Label + ": DISABLED"
	}
	return c
}

// Label returns the status prefix.
func (c *Channel) Label() string { return c.cfg.Label }

// Descriptor returns the stream descriptor.
func (c *Channel) Descriptor() stream.Descriptor { return c.cfg.Descriptor }

// Disabled reports whether the channel has no outlet.
func (c *Channel) Disabled() bool { return c.cfg.Outlet == nil }

// Status returns the current status line.
func (c *Channel) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Counts returns the number of attempts per outcome.
func (c *Channel) Counts() map[Status]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[Status]uint64, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// LastError returns the most recent blocked or transport error.
func (c *Channel) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// LastTimestamp returns the timestamp of the last delivered sample.
func (c *Channel) LastTimestamp() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSent
}

func (c *Channel) record(r Result, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[r.Status]++
	c.status = text
	if r.Err != nil {
		c.lastErr = r.Err
	}
	if r.Status.Delivered() {
		c.lastSent = r.Timestamp
	}
}

// Config is the input to New.
type Config struct {
	Policy    Policy
	Gaze      ChannelConfig
	Landmarks ChannelConfig

	// Clock stamps accepted samples. nil means a real monotonic clock
	// started now.
	Clock *timeutil.Monotonic

	Status StatusSink // optional
	Tap    Tap        // optional
}

// Publisher is the dual-channel publisher. Publish runs on the frame loop
// only; status and counters may be read from other goroutines.
type Publisher struct {
	policy    Policy
	mono      *timeutil.Monotonic
	gaze      *Channel
	landmarks *Channel
	sink      StatusSink
	tap       Tap
}

// New validates cfg and returns a Publisher. Both channels may be disabled
// individually, but not both at once.
func New(cfg Config) (*Publisher, error) {
	if !cfg.Policy.IsValid() {
		return nil, fmt.Errorf("unknown transmission policy %q", cfg.Policy)
	}
	if cfg.Gaze.Outlet == nil && cfg.Landmarks.Outlet == nil {
		return nil, errors.New("both output streams are disabled")
	}
	for _, ch := range []ChannelConfig{cfg.Gaze, cfg.Landmarks} {
		n := ch.Descriptor.ChannelCount()
		if ch.Bounds.Group <= 0 || n%ch.Bounds.Group != 0 {
			return nil, fmt.Errorf("stream %s: %d channels do not fit bounds group %d",
				ch.Descriptor.Name(), n, ch.Bounds.Group)
		}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.NewMonotonic(nil)
	}

	p := &Publisher{
		policy:    cfg.Policy,
		mono:      cfg.Clock,
		gaze:      newChannel(cfg.Gaze),
		landmarks: newChannel(cfg.Landmarks),
		sink:      cfg.Status,
		tap:       cfg.Tap,
	}
	for _, c := range []*Channel{p.gaze, p.landmarks} {
		if c.Disabled() {
			monitoring.Logf("[Publisher] %s stream disabled", c.cfg.Descriptor.Name())
			p.report(c)
		}
	}
	return p, nil
}

// Gaze returns the gaze channel.
func (p *Publisher) Gaze() *Channel { return p.gaze }

// Landmarks returns the landmark channel.
func (p *Publisher) Landmarks() *Channel { return p.landmarks }

// Policy returns the transmission policy.
func (p *Publisher) Policy() Policy { return p.policy }

// Publish attempts both candidates of one frame. The channels are
// independent: an outcome on one never affects the other.
func (p *Publisher) Publish(gaze, landmarks Candidate) FrameResult {
	return FrameResult{
		Gaze:      p.PublishOn(p.gaze, gaze),
		Landmarks: p.PublishOn(p.landmarks, landmarks),
	}
}

// PublishOn runs one candidate through final validation, rate limiting and
// the push on channel c.
func (p *Publisher) PublishOn(c *Channel, cand Candidate) Result {
	res := Result{Channel: c.cfg.Descriptor.Name()}
	label := c.cfg.Label

	if c.Disabled() {
		res.Status = StatusDisabled
		c.record(res, label+": DISABLED")
		p.report(c)
		return res
	}

	if !cand.Send {
		res.Status = StatusSuppressed
		c.record(res, label+": INVALID (not sent)")
		p.report(c)
		return res
	}

	if len(cand.Values) != c.cfg.Descriptor.ChannelCount() {
		res.Status = StatusBlocked
		res.Err = fmt.Errorf("sample has %d values, stream declares %d", len(cand.Values), c.cfg.Descriptor.ChannelCount())
		c.record(res, label+": "+c.cfg.BlockedText)
		p.report(c)
		return res
	}
	sentinel, err := c.cfg.Bounds.Validate(cand.Values, p.policy == PolicySentinel)
	if err != nil {
		res.Status = StatusBlocked
		res.Err = err
		c.record(res, label+": "+c.cfg.BlockedText)
		p.report(c)
		return res
	}

	now := p.mono.Clock().Now()
	if !c.cfg.Limiter.Ready(now) {
		res.Status = StatusRateLimited
		c.record(res, label+": SKIPPED (rate limit)")
		p.report(c)
		return res
	}

	sample := stream.Sample{Values: cand.Values, Timestamp: p.mono.At(now)}
	if err := c.cfg.Outlet.Push(sample); err != nil {
		res.Status = StatusTransportError
		res.Err = err
		c.mu.Lock()
		first := !c.failing
		c.failing = true
		c.mu.Unlock()
		if first {
			monitoring.Logf("[Publisher] %s push failed: %v", res.Channel, err)
		}
		c.record(res, fmt.Sprintf("%s Error: %v", label, err))
		p.report(c)
		return res
	}
	c.cfg.Limiter.Mark(now)

	c.mu.Lock()
	if c.failing {
		c.failing = false
		monitoring.Logf("[Publisher] %s push recovered", res.Channel)
	}
	c.mu.Unlock()

	res.Timestamp = sample.Timestamp
	if sentinel {
		res.Status = StatusSentinel
		c.record(res, label+": SENTINEL (NaN)")
	} else {
		res.Status = StatusSent
		c.record(res, label+": "+cand.Note)
	}
	p.report(c)

	if p.tap != nil {
		p.tap.Record(res.Channel, sample)
	}
	return res
}

func (p *Publisher) report(c *Channel) {
	if p.sink != nil {
		p.sink.SetStatus(c.cfg.Label, c.Status())
	}
}

// Close closes both outlets.
func (p *Publisher) Close() error {
	var errs []error
	for _, c := range []*Channel{p.gaze, p.landmarks} {
		if c.cfg.Outlet == nil {
			continue
		}
		if err := c.cfg.Outlet.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.cfg.Descriptor.Name(), err))
		}
	}
	return errors.Join(errs...)
}
