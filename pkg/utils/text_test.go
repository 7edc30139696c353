package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashString_Stable(t *testing.T) {
	assert.Equal(t, HashString("budget"), HashString("budget"))
	assert.NotEqual(t, HashString("budget"), HashString("Budget"))
	assert.Len(t, HashString(""), 64)
}

func TestCounting(t *testing.T) {
	assert.Equal(t, 3, CountWords("  one two\nthree "))
	assert.Equal(t, 5, CountChars("héllo"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hé", Truncate("héllo", 2))
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "", Truncate("abc", 0))
}
