// Package landmarks maps a detected face mesh onto a fixed-width landmark
// sample. A Profile fixes which mesh indices are sampled and in which
// channel order; the Builder applies per-triple validation.
package landmarks

import (
	"errors"
	"fmt"
)

var axes = [3]string{"x", "y", "z"}

// Profile is an ordered list of mesh indices with one name per landmark.
// It is immutable once built.
type Profile struct {
	name    string
	indices []int
	names   []string
}

// NewProfile validates indices and names. A nil names slice generates
// "landmark_<index>" names.
func NewProfile(name string, indices []int, names []string) (Profile, error) {
	if len(indices) == 0 {
		return Profile{}, errors.New("landmark profile needs at least one index")
	}
	if names == nil {
		names = make([]string, len(indices))
		for i, idx := range indices {
			names[i] = fmt.Sprintf("landmark_%d", idx)
		}
	}
	if len(names) != len(indices) {
		return Profile{}, fmt.Errorf("landmark profile %s: %d labels for %d indices", name, len(names), len(indices))
	}
	seenIdx := make(map[int]bool, len(indices))
	seenName := make(map[string]bool, len(names))
	for i, idx := range indices {
		if idx < 0 {
			return Profile{}, fmt.Errorf("landmark profile %s: negative index %d", name, idx)
		}
		if seenIdx[idx] {
			return Profile{}, fmt.Errorf("landmark profile %s: duplicate index %d", name, idx)
		}
		if names[i] == "" || seenName[names[i]] {
			return Profile{}, fmt.Errorf("landmark profile %s: empty or duplicate label %q", name, names[i])
		}
		seenIdx[idx] = true
		seenName[names[i]] = true
	}
	return Profile{
		name:    name,
		indices: append([]int(nil), indices...),
		names:   append([]string(nil), names...),
	}, nil
}

func mustProfile(name string, indices []int, names []string) Profile {
	p, err := NewProfile(name, indices, names)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Profile) Name() string { return p.name }
func (p Profile) Count() int   { return len(p.indices) }

// Indices returns the mesh indices in channel order.
func (p Profile) Indices() []int { return append([]int(nil), p.indices...) }

// Names returns the landmark names in channel order.
func (p Profile) Names() []string { return append([]string(nil), p.names...) }

// ChannelLabels expands every name into its "<name>_x", "_y" and "_z"
// channel labels.
func (p Profile) ChannelLabels() []string {
	out := make([]string, 0, 3*len(p.names))
	for _, n := range p.names {
		for _, a := range axes {
			out = append(out, n+"_"+a)
		}
	}
	return out
}

// MaxIndex returns the largest mesh index the profile samples.
func (p Profile) MaxIndex() int {
	m := -1
	for _, idx := range p.indices {
		m = max(m, idx)
	}
	return m
}

func series(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s_%d", prefix, i)
	}
	return out
}

func concat(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Face68 is the standard 68-point facial landmark model expressed as
// face mesh indices.
var Face68 = mustProfile("face68",
	[]int{
		// jaw
		234, 127, 162, 21, 54, 103, 67, 109, 10, 338, 297, 332, 284, 251, 389, 356, 454,
		// right brow
		70, 63, 105, 66, 107,
		// left brow
		336, 296, 334, 293, 300,
		// nose bridge
		168, 6, 197, 195,
		// nose bottom
		5, 4, 1, 19, 94,
		// right eye
		33, 160, 158, 133, 153, 144,
		// left eye
		362, 385, 387, 263, 373, 380,
		// outer lip
		61, 185, 40, 39, 37, 0, 267, 269, 270, 409, 291, 375,
		// inner lip
		78, 191, 80, 81, 82, 13, 312, 311,
	},
	concat(
		series("jaw", 17),
		series("right_brow", 5),
		series("left_brow", 5),
		series("nose_bridge", 4),
		series("nose_bottom", 5),
		series("right_eye", 6),
		series("left_eye", 6),
		series("outer_lip", 12),
		series("inner_lip", 8),
	),
)

// Face10 is the reduced key-point profile.
var Face10 = mustProfile("face10",
	[]int{1, 33, 263, 61, 291, 152, 10, 13, 14, 50},
	[]string{
		"nose_tip", "right_eye", "left_eye", "mouth_right", "mouth_left",
		"chin", "forehead", "upper_lip", "lower_lip", "right_cheek",
	},
)

// ProfileByName returns a built-in profile.
func ProfileByName(name string) (Profile, bool) {
	switch name {
	case Face68.name:
		return Face68, true
	case Face10.name:
		return Face10, true
	}
	return Profile{}, false
}
