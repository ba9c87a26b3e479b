package utils

import "math"

// NormalizeL2 scales x in place to unit length and reports whether it did.
// A zero vector has no direction and is left as is.
func NormalizeL2(x []float32) bool {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return false
	}
	norm := math.Sqrt(sum)
	for i := range x {
		x[i] = float32(float64(x[i]) / norm)
	}
	return true
}
