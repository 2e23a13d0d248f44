// Package stream defines the typed output streams and the transports that
// carry them to subscribers: gRPC, MQTT and WebSocket.
package stream

import (
	"errors"
	"fmt"
)

// Buffering hints advertised with every descriptor.
const (
	ChannelFormat = "float32"
	ChunkSize     = 1
	MaxBuffered   = 360
)

// DescriptorConfig is the input to NewDescriptor.
type DescriptorConfig struct {
	Name        string
	Type        string
	SourceID    string
	NominalRate float64 // 0 = irregular
	Labels      []string
	Metadata    map[string]any
}

// Descriptor is the immutable metadata of one output stream. It is built
// once at startup and never changes after the outlet opens; accessors
// return copies.
type Descriptor struct {
	name     string
	typ      string
	sourceID string
	rate     float64
	labels   []string
	metadata map[string]any
}

// NewDescriptor validates cfg and returns a Descriptor holding deep copies
// of its slices and maps.
func NewDescriptor(cfg DescriptorConfig) (Descriptor, error) {
	if cfg.Name == "" {
		return Descriptor{}, errors.New("stream name is required")
	}
	if len(cfg.Labels) == 0 {
		return Descriptor{}, fmt.Errorf("stream %s: at least one channel label is required", cfg.Name)
	}
	if cfg.NominalRate < 0 {
		return Descriptor{}, fmt.Errorf("stream %s: nominal rate must be non-negative, got %f", cfg.Name, cfg.NominalRate)
	}
	seen := make(map[string]bool, len(cfg.Labels))
	for _, l := range cfg.Labels {
		if seen[l] {
			return Descriptor{}, fmt.Errorf("stream %s: duplicate channel label %q", cfg.Name, l)
		}
		seen[l] = true
	}
	return Descriptor{
		name:     cfg.Name,
		typ:      cfg.Type,
		sourceID: cfg.SourceID,
		rate:     cfg.NominalRate,
		labels:   append([]string(nil), cfg.Labels...),
		metadata: copyMetadata(cfg.Metadata),
	}, nil
}

func (d Descriptor) Name() string         { return d.name }
func (d Descriptor) Type() string         { return d.typ }
func (d Descriptor) SourceID() string     { return d.sourceID }
func (d Descriptor) NominalRate() float64 { return d.rate }
func (d Descriptor) ChannelCount() int    { return len(d.labels) }
func (d Descriptor) Irregular() bool      { return d.rate == 0 }

// Labels returns the ordered channel labels.
func (d Descriptor) Labels() []string {
	return append([]string(nil), d.labels...)
}

// Metadata returns a deep copy of the free-form metadata.
func (d Descriptor) Metadata() map[string]any {
	return copyMetadata(d.metadata)
}

func (d Descriptor) String() string {
	rate := fmt.Sprintf("%gHz", d.rate)
	if d.Irregular() {
		rate = "irregular"
	}
	return fmt.Sprintf("%s (%s, %d ch, %s)", d.name, d.typ, len(d.labels), rate)
}

// copyMetadata copies nested maps and slices; scalar values are copied by
// assignment.
func copyMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMetadata(t)
	case []any:
		c := make([]any, len(t))
		for i := range t {
			c[i] = copyValue(t[i])
		}
		return c
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
