package moderation

import (
	"strings"
	"unicode/utf8"
)

var markupReplacer = strings.NewReplacer("<", "", ">", "", "'", "", "\"", "", "&", "")

// Sanitize strips markup-significant characters and surrounding whitespace.
func Sanitize(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.TrimSpace(markupReplacer.Replace(s))
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// TooLong reports whether s is longer than n runes.
func TooLong(s string, n int) bool {
	return utf8.RuneCountInString(s) > n
}
