package main

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/gazestream/internal/stream"
)

func TestFormatSample(t *testing.T) {
	tests := []struct {
		name string
		s    stream.Sample
		prec int
		want string
	}{
		{"gaze", stream.Sample{Timestamp: 1.5, Values: []float64{0.5, 0.25, 0}}, 3, "1.500000 0.500 0.250 0.000"},
		{"sentinel", stream.Sample{Timestamp: 2, Values: []float64{math.NaN(), math.NaN()}}, 2, "2.000000 NaN NaN"},
		{"empty", stream.Sample{Timestamp: 0}, 2, "0.000000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatSample(tt.s, tt.prec))
		})
	}
}
