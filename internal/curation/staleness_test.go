package curation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectContradictionNegation(t *testing.T) {
	reason, found := detectContradiction("the retry cap is 5", "turns out the retry cap was wrong")
	assert.True(t, found)
	assert.Equal(t, "negation", reason)
}

func TestDetectContradictionReplacement(t *testing.T) {
	reason, found := detectContradiction("uses postgres", "migrated to cockroachdb instead of postgres")
	assert.True(t, found)
	assert.Equal(t, "replacement", reason)
}

func TestDetectContradictionStatusChange(t *testing.T) {
	reason, found := detectContradiction("the old auth flow", "the old auth flow is deprecated")
	assert.True(t, found)
	assert.Equal(t, "status_change", reason)
}

func TestDetectContradictionNoMatch(t *testing.T) {
	_, found := detectContradiction("the retry loop works", "added a new integration test")
	assert.False(t, found)
}

func TestDetectContradictionIsCaseInsensitive(t *testing.T) {
	_, found := detectContradiction("x", "This Was WRONG all along")
	assert.True(t, found)
}
