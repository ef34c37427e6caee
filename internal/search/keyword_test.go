package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFTSQueryStripsOperatorSyntax(t *testing.T) {
	got := SanitizeFTSQuery(`foo* (bar) "baz"`)
	assert.Equal(t, `"foo" "bar" "baz"`, got)
}

func TestSanitizeFTSQueryStripsBooleanKeywords(t *testing.T) {
	got := SanitizeFTSQuery("retry AND timeout OR NOT cancel NEAR context")
	assert.Equal(t, `"retry" "timeout" "cancel" "context"`, got)
}

func TestSanitizeFTSQueryEmptyInputIsEmptyOutput(t *testing.T) {
	assert.Equal(t, "", SanitizeFTSQuery(""))
	assert.Equal(t, "", SanitizeFTSQuery("   "))
}

func TestSanitizeFTSQueryPreservesPlainWords(t *testing.T) {
	got := SanitizeFTSQuery("context cancellation bug")
	assert.Equal(t, `"context" "cancellation" "bug"`, got)
}

func TestSanitizeFTSQueryCaseInsensitiveOperatorStrip(t *testing.T) {
	got := SanitizeFTSQuery("alpha and beta or gamma")
	assert.Equal(t, `"alpha" "beta" "gamma"`, got)
}
