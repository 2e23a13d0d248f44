// Package validate holds the pure numeric predicates shared by the sample
// builders and the publisher's final check.
package validate

import "math"

// IsFinite reports whether v is neither NaN nor ±Inf.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// IsInBound reports whether lo <= v <= hi. NaN is never in bound.
func IsInBound(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}

// IsExtreme reports whether |v| exceeds threshold. It is the fast reject
// applied before clamping; a non-finite v is always extreme.
func IsExtreme(v, threshold float64) bool {
	if !IsFinite(v) {
		return true
	}
	return math.Abs(v) > threshold
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// AllFinite reports whether every value in vs is finite.
func AllFinite(vs ...float64) bool {
	for _, v := range vs {
		if !IsFinite(v) {
			return false
		}
	}
	return true
}

// AnyExtreme reports whether any value in vs is extreme for threshold.
func AnyExtreme(threshold float64, vs ...float64) bool {
	for _, v := range vs {
		if IsExtreme(v, threshold) {
			return true
		}
	}
	return false
}

// AllNaN reports whether vs is non-empty and every value is NaN.
func AllNaN(vs []float64) bool {
	if len(vs) == 0 {
		return false
	}
	for _, v := range vs {
		if !math.IsNaN(v) {
			return false
		}
	}
	return true
}

// Sentinel returns a vector of n NaN values, the reserved "no valid data"
// marker.
func Sentinel(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
