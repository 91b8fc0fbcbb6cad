package pattern

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonTokenChars = regexp.MustCompile(`[^\pL\pN\s]+`)

// Lower-cases text and folds away combining marks, so "Frée" and "free" compare equal.
func foldText(text string) string {
	// transformers carry state, so this needs to be built per call
	normFunc := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	lower := strings.ToLower(text)
	folded, _, err := transform.String(normFunc, lower)
	if err != nil {
		slog.Warn("unicode normalization error", "err", err)
		return lower
	}
	return folded
}

// Splits free-form message text in to folded tokens. Punctuation and symbols separate tokens.
//
// For example, "FREE money!!1 now" becomes ["free", "money", "1", "now"].
func TokenizeText(text string) []string {
	return strings.Fields(nonTokenChars.ReplaceAllString(foldText(text), " "))
}

// Reports whether the token sequence needle appears contiguously in haystack.
func containsSeq(haystack, needle []string) bool {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j, tok := range needle {
			if haystack[i+j] != tok {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
