package gaze

import (
	"errors"

	"github.com/banshee-data/gazestream/internal/publish"
	"github.com/banshee-data/gazestream/internal/stream"
)

// Labels are the gaze channel labels in sample order.
var Labels = []string{"gaze_x_normalized", "gaze_y_normalized", "blink"}

// DescriptorConfig names the gaze stream.
type DescriptorConfig struct {
	Name        string
	Type        string
	SourceID    string
	NominalRate float64
}

// NewDescriptor builds the gaze stream descriptor with its coordinate
// system metadata.
func NewDescriptor(cfg DescriptorConfig) (stream.Descriptor, error) {
	return stream.NewDescriptor(stream.DescriptorConfig{
		Name:        cfg.Name,
		Type:        cfg.Type,
		SourceID:    cfg.SourceID,
		NominalRate: cfg.NominalRate,
		Labels:      Labels,
		Metadata: map[string]any{
			"gaze_coordinate_system": map[string]any{
				"convention": "TopLeft",
				"units":      "Normalized",
				"range_x":    "[0.0, 1.0]",
				"range_y":    "[0.0, 1.0]",
				"blink":      "0=eyes_open, 1=blink_detected",
			},
		},
	})
}

var (
	errBlinkFlag = errors.New("blink channel must be 0 or 1")
	errBlinkGaze = errors.New("blink sample must carry gaze (0, 0)")
)

// Bounds is the final range contract of a gaze sample: x and y in [0, 1],
// blink in {0, 1}, and a blink sample is exactly (0, 0, 1).
func Bounds(absMax float64) publish.Bounds {
	return publish.Bounds{
		Group:  Channels,
		Lo:     []float64{0, 0, 0},
		Hi:     []float64{1, 1, 1},
		AbsMax: absMax,
		Check:  checkBlink,
	}
}

func checkBlink(v []float64) error {
	switch v[2] {
	case 0:
		return nil
	case 1:
		if v[0] != 0 || v[1] != 0 {
			return errBlinkGaze
		}
		return nil
	}
	return errBlinkFlag
}
