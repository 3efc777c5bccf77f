// Package names normalises entity names so that the same brand written in
// different markets, scripts or casings compares equal.
package names

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// Fold lowercases s, strips diacritics and collapses runs of whitespace and
// punctuation into single spaces.
func Fold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	stripped = folder.String(stripped)

	var b strings.Builder
	space := false
	for _, r := range stripped {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		if r == '&' || r == '+' {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			space = true
			continue
		}
		space = true
	}
	return b.String()
}

// Compact is Fold with every separator removed: "Sales-Force Inc." and
// "salesforce inc" both become "salesforceinc".
func Compact(s string) string {
	return strings.ReplaceAll(Fold(s), " ", "")
}

// Contains reports whether the folded form of needle appears in haystack on
// word boundaries.
func Contains(haystack, needle string) bool {
	h, n := " "+Fold(haystack)+" ", Fold(needle)
	if n == "" {
		return false
	}
	return strings.Contains(h, " "+n+" ")
}
