package monitoring

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Report is one refreshed view of the pipeline status.
type Report struct {
	At       time.Time         `json:"at"`
	FPS      float64           `json:"fps"`
	Frames   uint64            `json:"frames"`
	Channels map[string]string `json:"channels"`
	Line     string            `json:"line"`
}

// StatusBoard keeps the rolling status line of each output channel and a
// frame counter. Writers update it on every frame; Refresh folds the
// current state into a Report at most once per interval, which keeps the
// console output and the status endpoint off the per-frame path.
type StatusBoard struct {
	interval time.Duration

	mu      sync.Mutex
	order   []string
	lines   map[string]string
	frames  uint64
	total   uint64
	since   time.Time
	started bool
	last    Report
}

// NewStatusBoard returns a board refreshing at most once per interval.
// channels fixes the order of the status line; channels first seen later
// are appended.
func NewStatusBoard(interval time.Duration, channels ...string) *StatusBoard {
	if interval <= 0 {
		interval = time.Second
	}
	b := &StatusBoard{
		interval: interval,
		lines:    make(map[string]string),
	}
	for _, c := range channels {
		b.ensure(c)
	}
	return b
}

func (b *StatusBoard) ensure(channel string) {
	if _, ok := b.lines[channel]; !ok {
		b.order = append(b.order, channel)
		b.lines[channel] = channel + ": -"
	}
}

// SetStatus records the latest status text of channel.
func (b *StatusBoard) SetStatus(channel, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ensure(channel)
	b.lines[channel] = text
}

// Status returns the latest text of channel.
func (b *StatusBoard) Status(channel string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lines[channel]
}

// Frame counts one processed frame at now.
func (b *StatusBoard) Frame(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		b.started = true
		b.since = now
	}
	b.frames++
	b.total++
}

// Refresh builds a new Report if at least one interval has passed since the
// previous one. It returns false otherwise.
func (b *StatusBoard) Refresh(now time.Time) (Report, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		b.started = true
		b.since = now
		return Report{}, false
	}
	elapsed := now.Sub(b.since)
	if elapsed < b.interval {
		return Report{}, false
	}

	r := Report{
		At:       now,
		FPS:      float64(b.frames) / elapsed.Seconds(),
		Frames:   b.total,
		Channels: make(map[string]string, len(b.lines)),
	}
	parts := make([]string, 0, len(b.order))
	for _, c := range b.order {
		r.Channels[c] = b.lines[c]
		parts = append(parts, b.lines[c])
	}
	r.Line = fmt.Sprintf("[FPS: %.1f] %s", r.FPS, strings.Join(parts, " | "))

	b.last = r
	b.frames = 0
	b.since = now
	return r, true
}

// Snapshot returns the last refreshed Report.
func (b *StatusBoard) Snapshot() Report {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.last
	r.Channels = make(map[string]string, len(b.last.Channels))
	for k, v := range b.last.Channels {
		r.Channels[k] = v
	}
	return r
}
