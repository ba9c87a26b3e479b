package vector

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/viant/vec/search"
)

// L2Distance returns the Euclidean distance between a and b.
func L2Distance(a, b []float32) float32 {
	if len(a) != len(b) {
		return float32(math.Inf(1))
	}
	return search.Float32s(a).EuclideanDistance(b)
}

// Norm returns the L2 norm of x.
func Norm(x []float32) float32 {
	if len(x) == 0 {
		return 0
	}
	return search.Float32s(x).Magnitude()
}

// checkDims validates a vector against the index dimensionality.
func checkDims(vector []float32, dims int) error {
	if len(vector) != dims {
		return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(vector), dims)
	}
	return nil
}

func encodeVector(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func decodeVector(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
