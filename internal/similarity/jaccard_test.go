package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJaccardIdenticalTextIsOne(t *testing.T) {
	assert.InDelta(t, 1.0, Jaccard("the quick brown fox", "the quick brown fox"), 1e-9)
}

func TestJaccardDisjointTextIsZero(t *testing.T) {
	assert.Equal(t, 0.0, Jaccard("alpha beta", "gamma delta"))
}

func TestJaccardPartialOverlap(t *testing.T) {
	// shared: {the, fox}; union: {the, quick, brown, fox, jumped, lazily}
	got := Jaccard("the quick brown fox", "the fox jumped lazily")
	assert.InDelta(t, 2.0/6.0, got, 1e-9)
}

func TestJaccardIsSymmetric(t *testing.T) {
	a := "retry loop swallows cancellation"
	b := "the loop swallows context cancellation errors"
	assert.Equal(t, Jaccard(a, b), Jaccard(b, a))
}

func TestJaccardBothEmptyIsOne(t *testing.T) {
	assert.Equal(t, 1.0, Jaccard("", ""))
}

func TestJaccardOneEmptyIsZero(t *testing.T) {
	assert.Equal(t, 0.0, Jaccard("", "something"))
}

func TestJaccardIsBounded(t *testing.T) {
	got := Jaccard("a b c d e", "a b x y z")
	assert.GreaterOrEqual(t, got, 0.0)
	assert.LessOrEqual(t, got, 1.0)
}
