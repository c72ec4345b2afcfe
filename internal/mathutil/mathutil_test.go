package mathutil

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical unit", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"identical non-unit", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 0},
		{"opposite", []float32{1, 2}, []float32{-1, -2}, -1},
		{"empty", nil, []float32{1}, 0},
		{"both empty", []float32{}, []float32{}, 0},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CosineSimilarity(tt.a, tt.b))
		})
	}
}

func TestCosineSimilarity_Scaled(t *testing.T) {
	got := CosineSimilarity([]float32{1, 1}, []float32{2, 0})
	assert.InDelta(t, 1/math.Sqrt2, got, 1e-6)
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
	assert.InDelta(t, 1.0, Norm(v), 1e-6)

	zero := []float32{0, 0}
	assert.Equal(t, zero, Normalize(zero))
}

func TestClone(t *testing.T) {
	assert.Nil(t, Clone(nil))

	src := []float32{1, 2}
	dst := Clone(src)
	dst[0] = 9
	assert.Equal(t, float32(1), src[0])
}
