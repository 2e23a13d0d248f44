package publish

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/gazestream/internal/validate"
)

// Bounds is the final range contract of a channel. Values are checked in
// groups (a gaze sample is one group of 3, a landmark sample is one group
// per triple). A group is either entirely NaN, the per-group sentinel, or
// entirely finite and inside its per-position range and AbsMax.
type Bounds struct {
	Group  int
	Lo, Hi []float64 // per position within a group
	AbsMax float64

	// Check is an optional whole-sample rule applied to non-sentinel
	// samples.
	Check func(values []float64) error
}

var errSentinelNotAllowed = errors.New("sentinel sample under suppress policy")

// Validate checks values without modifying them. It reports whether the
// sample is the all-NaN sentinel, which is accepted only when
// allowSentinel is set.
func (b Bounds) Validate(values []float64, allowSentinel bool) (sentinel bool, err error) {
	if b.Group <= 0 || len(b.Lo) != b.Group || len(b.Hi) != b.Group {
		return false, fmt.Errorf("malformed bounds: group %d", b.Group)
	}
	if len(values) == 0 || len(values)%b.Group != 0 {
		return false, fmt.Errorf("length %d is not a multiple of %d", len(values), b.Group)
	}
	if validate.AllNaN(values) {
		if !allowSentinel {
			return true, errSentinelNotAllowed
		}
		return true, nil
	}

	for start := 0; start < len(values); start += b.Group {
		group := values[start : start+b.Group]
		if validate.AllNaN(group) {
			continue
		}
		for i, v := range group {
			idx := start + i
			if math.IsNaN(v) {
				return false, fmt.Errorf("channel %d: NaN mixed with values", idx)
			}
			if !validate.IsFinite(v) {
				return false, fmt.Errorf("channel %d: non-finite value %v", idx, v)
			}
			if validate.IsExtreme(v, b.AbsMax) {
				return false, fmt.Errorf("channel %d: |%v| exceeds %v", idx, v, b.AbsMax)
			}
			if !validate.IsInBound(v, b.Lo[i], b.Hi[i]) {
				return false, fmt.Errorf("channel %d: %v outside [%v, %v]", idx, v, b.Lo[i], b.Hi[i])
			}
		}
	}

	if b.Check != nil {
		if err := b.Check(values); err != nil {
			return false, err
		}
	}
	return false, nil
}
