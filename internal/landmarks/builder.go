package landmarks

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/gazestream/internal/monitoring"
	"github.com/banshee-data/gazestream/internal/perception"
	"github.com/banshee-data/gazestream/internal/publish"
	"github.com/banshee-data/gazestream/internal/stream"
	"github.com/banshee-data/gazestream/internal/validate"
)

// BuilderConfig is the input to NewBuilder.
type BuilderConfig struct {
	Profile Profile
	Policy  publish.Policy

	// Extreme rejects a triple if any coordinate magnitude exceeds it.
	Extreme float64
	// ZBound is the symmetric clamp applied to z.
	ZBound float64
}

// Builder turns a frame's detected faces into a landmark candidate.
type Builder struct {
	profile Profile
	indices []int
	policy  publish.Policy
	extreme float64
	zBound  float64

	shortMesh bool
}

// NewBuilder validates cfg.
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if cfg.Profile.Count() == 0 {
		return nil, errors.New("landmark builder needs a profile")
	}
	if !cfg.Policy.IsValid() {
		return nil, fmt.Errorf("unknown transmission policy %q", cfg.Policy)
	}
	if cfg.Extreme <= 0 || cfg.ZBound <= 0 {
		return nil, fmt.Errorf("landmark bounds must be positive: extreme=%v z=%v", cfg.Extreme, cfg.ZBound)
	}
	return &Builder{
		profile: cfg.Profile,
		indices: cfg.Profile.Indices(),
		policy:  cfg.Policy,
		extreme: cfg.Extreme,
		zBound:  cfg.ZBound,
	}, nil
}

// Profile returns the builder's profile.
func (b *Builder) Profile() Profile { return b.profile }

// Build samples the first detected face. Each triple is validated on its
// own: a rejected triple stays NaN and the others are still emitted. A
// frame with no face, or with every triple rejected, yields the all-NaN
// sentinel, which is sent only under the sentinel policy.
func (b *Builder) Build(faces []perception.Face) publish.Candidate {
	n := len(b.indices)
	values := validate.Sentinel(3 * n)
	if len(faces) == 0 {
		return b.reject(values, "no face")
	}

	face := faces[0]
	valid := 0
	for i, idx := range b.indices {
		if idx >= len(face) {
			if !b.shortMesh {
				b.shortMesh = true
				monitoring.Logf("[FaceMesh] mesh has %d points, profile %s needs index %d", len(face), b.profile.Name(), idx)
			}
			continue
		}
		lm := face[idx]
		if !validate.AllFinite(lm.X, lm.Y, lm.Z) || validate.AnyExtreme(b.extreme, lm.X, lm.Y, lm.Z) {
			continue
		}
		values[3*i] = validate.Clamp(lm.X, 0, 1)
		values[3*i+1] = validate.Clamp(lm.Y, 0, 1)
		values[3*i+2] = validate.Clamp(lm.Z, -b.zBound, b.zBound)
		valid++
	}
	if valid == 0 {
		return b.reject(values, "no valid landmarks")
	}
	return publish.Candidate{
		Values: values,
		Send:   true,
		Note:   fmt.Sprintf("%d/%d", valid, n),
	}
}

func (b *Builder) reject(values []float64, reason string) publish.Candidate {
	return publish.Candidate{
		Values: values,
		Send:   b.policy == publish.PolicySentinel,
		Reason: reason,
	}
}

// DescriptorConfig names the landmark stream.
type DescriptorConfig struct {
	Name        string
	Type        string
	SourceID    string
	NominalRate float64
}

// NewDescriptor builds the landmark stream descriptor for p.
func NewDescriptor(p Profile, cfg DescriptorConfig) (stream.Descriptor, error) {
	return stream.NewDescriptor(stream.DescriptorConfig{
		Name:        cfg.Name,
		Type:        cfg.Type,
		SourceID:    cfg.SourceID,
		NominalRate: cfg.NominalRate,
		Labels:      p.ChannelLabels(),
		Metadata: map[string]any{
			"description": fmt.Sprintf(
				"%d face mesh landmarks (x,y normalized [0,1], z relative depth) - profile %s",
				p.Count(), p.Name()),
			"landmark_profile": p.Name(),
			"landmarks":        p.Names(),
		},
	})
}

// Bounds is the final range contract of a landmark sample: per triple,
// x and y in [0,1] and z in [-zBound, zBound], every value at most absMax in
// magnitude. A NaN triple is the per-landmark sentinel.
func Bounds(zBound, absMax float64) publish.Bounds {
	if absMax <= 0 {
		absMax = math.Inf(1)
	}
	return publish.Bounds{
		Group:  3,
		Lo:     []float64{0, 0, -zBound},
		Hi:     []float64{1, 1, zBound},
		AbsMax: absMax,
	}
}
