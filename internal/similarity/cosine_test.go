package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineIdenticalVectorsIsOne(t *testing.T) {
	v := []float32{1, 2, 3}
	assert.InDelta(t, 1.0, Cosine(v, v), 1e-9)
}

func TestCosineOrthogonalVectorsIsZero(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	assert.InDelta(t, 0.0, Cosine(a, b), 1e-9)
}

func TestCosineOppositeVectorsIsNegativeOne(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{-1, 0}
	assert.InDelta(t, -1.0, Cosine(a, b), 1e-9)
}

func TestCosineMismatchedLengthIsZero(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{1, 2}
	assert.Equal(t, 0.0, Cosine(a, b))
}

func TestCosineZeroVectorIsZero(t *testing.T) {
	a := []float32{0, 0, 0}
	b := []float32{1, 2, 3}
	assert.Equal(t, 0.0, Cosine(a, b))
}

func TestCosineIsSymmetric(t *testing.T) {
	a := []float32{0.5, -1.2, 3.3}
	b := []float32{1.1, 0.2, -2.5}
	assert.Equal(t, Cosine(a, b), Cosine(b, a))
}

func TestCosineDistanceBounds(t *testing.T) {
	identical := []float32{1, 2, 3}
	assert.InDelta(t, 0.0, CosineDistance(identical, identical), 1e-9)

	opposite := []float32{1, 0}
	oppositeB := []float32{-1, 0}
	assert.InDelta(t, 2.0, CosineDistance(opposite, oppositeB), 1e-9)
}
