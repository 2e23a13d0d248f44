package landmarks

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/gazestream/internal/perception"
	"github.com/banshee-data/gazestream/internal/publish"
)

func TestBuiltinProfiles(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 68, Face68.Count())
	assert.Equal(t, 204, len(Face68.ChannelLabels()))
	assert.Equal(t, "jaw_0_x", Face68.ChannelLabels()[0])
	assert.Equal(t, "inner_lip_7_z", Face68.ChannelLabels()[203])
	assert.Equal(t, 454, Face68.MaxIndex())

	assert.Equal(t, 10, Face10.Count())
	want := []string{"nose_tip_x", "nose_tip_y", "nose_tip_z", "right_eye_x"}
	if diff := cmp.Diff(want, Face10.ChannelLabels()[:4]); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}

	p, ok := ProfileByName("face10")
	require.True(t, ok)
	assert.Equal(t, Face10.Indices(), p.Indices())
	_, ok = ProfileByName("face5")
	assert.False(t, ok)
}

func TestNewProfile(t *testing.T) {
	t.Parallel()

	p, err := NewProfile("custom", []int{4, 9}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"landmark_4", "landmark_9"}, p.Names())

	tests := []struct {
		name    string
		indices []int
		labels  []string
	}{
		{"empty", nil, nil},
		{"negative", []int{-1}, nil},
		{"duplicate index", []int{1, 1}, nil},
		{"label count", []int{1, 2}, []string{"a"}},
		{"duplicate label", []int{1, 2}, []string{"a", "a"}},
		{"empty label", []int{1}, []string{""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProfile("custom", tt.indices, tt.labels)
			assert.Error(t, err)
		})
	}
}

func TestProfile_Immutable(t *testing.T) {
	t.Parallel()

	idx := []int{1, 2}
	p, err := NewProfile("custom", idx, nil)
	require.NoError(t, err)
	idx[0] = 99
	p.Indices()[1] = 99
	assert.Equal(t, []int{1, 2}, p.Indices())
}

func meshOf(n int, lm perception.Landmark) perception.Face {
	face := make(perception.Face, n)
	for i := range face {
		face[i] = lm
	}
	return face
}

func newBuilder(t *testing.T, p Profile, policy publish.Policy) *Builder {
	t.Helper()
	b, err := NewBuilder(BuilderConfig{Profile: p, Policy: policy, Extreme: 10, ZBound: 1})
	require.NoError(t, err)
	return b
}

func TestBuild_ValidFace(t *testing.T) {
	t.Parallel()

	b := newBuilder(t, Face10, publish.PolicySuppress)
	c := b.Build([]perception.Face{meshOf(perception.MeshSize, perception.Landmark{X: 0.4, Y: 0.6, Z: -0.05})})

	require.True(t, c.Send)
	assert.Equal(t, "10/10", c.Note)
	assert.Len(t, c.Values, 30)
	assert.Equal(t, []float64{0.4, 0.6, -0.05}, c.Values[:3])
}

func TestBuild_ClampsAndRejectsPerTriple(t *testing.T) {
	t.Parallel()

	p, err := NewProfile("custom", []int{0, 1, 2, 3}, nil)
	require.NoError(t, err)
	b := newBuilder(t, p, publish.PolicySuppress)

	face := perception.Face{
		{X: 1.2, Y: -0.1, Z: 3},             // clamped
		{X: math.NaN(), Y: 0.5, Z: 0},       // rejected: non-finite
		{X: 0.5, Y: 0.5, Z: 11},             // rejected: extreme
		{X: 0.25, Y: 0.75, Z: math.Inf(-1)}, // rejected: non-finite
	}
	c := b.Build([]perception.Face{face})

	require.True(t, c.Send)
	assert.Equal(t, "1/4", c.Note)
	assert.Equal(t, []float64{1, 0, 1}, c.Values[:3])
	for _, v := range c.Values[3:] {
		assert.True(t, math.IsNaN(v))
	}

	_, err = Bounds(1, 100).Validate(c.Values, false)
	assert.NoError(t, err, "builder output passes the final check")
}

func TestBuild_FirstFaceOnly(t *testing.T) {
	t.Parallel()

	b := newBuilder(t, Face10, publish.PolicySuppress)
	c := b.Build([]perception.Face{
		meshOf(perception.MeshSize, perception.Landmark{X: 0.1, Y: 0.1}),
		meshOf(perception.MeshSize, perception.Landmark{X: 0.9, Y: 0.9}),
	})
	assert.Equal(t, 0.1, c.Values[0])
}

func TestBuild_ShortMeshRejectsMissingIndices(t *testing.T) {
	t.Parallel()

	b := newBuilder(t, Face10, publish.PolicySuppress)
	// Only indices below 50 exist; 263, 61, 291, 152 and 50 are missing.
	c := b.Build([]perception.Face{meshOf(50, perception.Landmark{X: 0.5, Y: 0.5})})
	require.True(t, c.Send)
	assert.Equal(t, "5/10", c.Note)
}

func TestBuild_NoFace(t *testing.T) {
	t.Parallel()

	for _, policy := range []publish.Policy{publish.PolicySuppress, publish.PolicySentinel} {
		t.Run(string(policy), func(t *testing.T) {
			b := newBuilder(t, Face10, policy)

			for _, faces := range [][]perception.Face{
				nil,
				{meshOf(perception.MeshSize, perception.Landmark{X: math.NaN()})},
			} {
				c := b.Build(faces)
				assert.Equal(t, policy == publish.PolicySentinel, c.Send)
				assert.NotEmpty(t, c.Reason)
				assert.Len(t, c.Values, 30)
				for _, v := range c.Values {
					assert.True(t, math.IsNaN(v))
				}
			}
		})
	}
}

func TestNewBuilder_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewBuilder(BuilderConfig{Policy: publish.PolicySuppress, Extreme: 10, ZBound: 1})
	assert.Error(t, err)
	_, err = NewBuilder(BuilderConfig{Profile: Face10, Policy: "drop", Extreme: 10, ZBound: 1})
	assert.Error(t, err)
	_, err = NewBuilder(BuilderConfig{Profile: Face10, Policy: publish.PolicySuppress, ZBound: 1})
	assert.Error(t, err)
}

func TestNewDescriptor(t *testing.T) {
	t.Parallel()

	d, err := NewDescriptor(Face68, DescriptorConfig{
		Name: "FaceMesh", Type: "FaceLandmarks", SourceID: "eyetrax_facemesh_001", NominalRate: 30,
	})
	require.NoError(t, err)
	assert.Equal(t, 204, d.ChannelCount())
	assert.Equal(t, "face68", d.Metadata()["landmark_profile"])
	assert.Contains(t, d.Metadata()["description"], "68 face mesh landmarks")
}
