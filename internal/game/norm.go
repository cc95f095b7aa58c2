package game

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeClue is the server-side safety net behind the client input
// filter: trim, NFKC, then the whole string must be hiragana (plus the
// long-vowel mark and dakuten/handakuten). Anything else collapses to
// the empty string, and an empty clue never matches.
func NormalizeClue(input string) string {
	text := strings.TrimSpace(input)
	text = norm.NFKC.String(text)
	if text == "" {
		return ""
	}
	for _, r := range text {
		if !isHiragana(r) {
			return ""
		}
	}
	return text
}

func isHiragana(r rune) bool {
	return (r >= 'ぁ' && r <= 'ゖ') || r == 'ー' || r == '゛' || r == '゜'
}

// CluesMatch requires both sides non-empty and equal after normalization.
func CluesMatch(a, b string) bool {
	return a != "" && b != "" && a == b
}
