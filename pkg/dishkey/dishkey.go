// Package dishkey canonicalizes dish names into stable lookup keys.
//
// Two photos of the same menu rarely OCR identically: full-width digits,
// stray punctuation, spacing and casing all drift between reads. The key
// keeps only the characters that identify the dish so that every variant of
// a name lands on the same knowledge row.
package dishkey

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize returns the canonical key for a dish name: NFKC-folded,
// lowercased, with everything dropped except ASCII digits and letters,
// kana, and the common CJK ideograph ranges. The empty string means the
// name had no identifying characters and must not be used as a key.
func Normalize(name string) string {
	s := strings.ToLower(norm.NFKC.String(strings.TrimSpace(name)))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 0x3040 && r <= 0x30FF: // hiragana + katakana
			b.WriteRune(r)
		case r >= 0x3400 && r <= 0x4DBF: // CJK extension A
			b.WriteRune(r)
		case r >= 0x4E00 && r <= 0x9FFF: // CJK unified ideographs
			b.WriteRune(r)
		}
	}
	return b.String()
}
