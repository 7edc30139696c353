package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"
)

// HashString returns a stable hex key for cache entries and chunk ids.
func HashString(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

func CountWords(text string) int {
	return len(strings.Fields(text))
}

func CountChars(text string) int {
	return utf8.RuneCountInString(text)
}

// Truncate cuts text to at most n runes.
func Truncate(text string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n])
}
