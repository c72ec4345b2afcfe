package mathutil

import "math"

// DotProduct computes the dot product of two vectors.
// Extra components of the longer vector are ignored.
func DotProduct(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Norm computes the L2 norm (magnitude) of a vector.
func Norm(v []float32) float64 {
	return math.Sqrt(DotProduct(v, v))
}

// Normalize returns a unit vector in the same direction.
// Zero vectors are returned unchanged.
func Normalize(v []float32) []float32 {
	norm := Norm(v)
	if norm == 0 {
		return v
	}
	result := make([]float32, len(v))
	for i := range v {
		result[i] = float32(float64(v[i]) / norm)
	}
	return result
}

// CosineSimilarity computes cosine similarity between two vectors.
// Returns 1 for identical directions, 0 for perpendicular, -1 for opposite.
// Empty vectors, vectors of different length and zero vectors score 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	dot := DotProduct(a, b)
	normsSquared := DotProduct(a, a) * DotProduct(b, b)
	if normsSquared == 0 {
		return 0
	}
	return float32(dot / math.Sqrt(normsSquared))
}

// Clone returns a copy of v, or nil for a nil slice.
func Clone(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
