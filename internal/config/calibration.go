package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/gazestream/internal/smoothing"
)

// LoadCalibration reads the fixation samples at path: a JSON list of [x, y]
// raw pixel predictions collected by the calibration routine. An empty path
// yields no samples.
func LoadCalibration(path string) ([]smoothing.Point, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration file: %w", err)
	}

	var raw [][]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse calibration JSON: %w", err)
	}
	out := make([]smoothing.Point, 0, len(raw))
	for i, p := range raw {
		if len(p) != 2 {
			return nil, fmt.Errorf("calibration sample %d has %d values, want 2", i, len(p))
		}
		out = append(out, smoothing.Point{X: p[0], Y: p[1]})
	}
	return out, nil
}
