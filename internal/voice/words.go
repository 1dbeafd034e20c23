package voice

import (
	"strings"
	"unicode"
)

// SplitWords splits text into word tokens for the interruption word gate.
// Whitespace separates tokens; runs of CJK characters count one token per
// rune since those scripts do not use spaces.
func SplitWords(text string) []string {
	var words []string
	for _, field := range strings.Fields(text) {
		start := -1
		for i, r := range field {
			if isCJK(r) {
				if start >= 0 {
					words = append(words, field[start:i])
					start = -1
				}
				words = append(words, string(r))
				continue
			}
			if start < 0 {
				start = i
			}
		}
		if start >= 0 {
			words = append(words, field[start:])
		}
	}
	return words
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}
