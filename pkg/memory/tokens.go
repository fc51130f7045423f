package memory

import (
	"strings"
	"unicode"
)

// EstimateTokens approximates the token count of a set of turns without
// an external tokenizer:
//
//	tokens ≈ ⌊1.5 × CJK codepoints + alphabetic whitespace-split words⌋
//
// CJK characters typically map to more than one model token while
// alphabetic words map to about one. The constant is fixed so tests can
// match exact values.
func EstimateTokens(turns []Turn) int {
	total := 0.0
	for _, t := range turns {
		total += estimateText(t.Message)
		total += estimateText(t.Response)
	}
	return int(total)
}

func estimateText(s string) float64 {
	cjk := 0
	for _, r := range s {
		if r >= 0x4e00 && r <= 0x9fff {
			cjk++
		}
	}
	words := 0
	for _, w := range strings.Fields(s) {
		if isAlpha(w) {
			words++
		}
	}
	return 1.5*float64(cjk) + float64(words)
}

func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
