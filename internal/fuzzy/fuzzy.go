// Package fuzzy provides the text normalization and approximate keyword
// matching shared by the classifier and the router.
package fuzzy

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Match weights.
const (
	ExactWeight    = 1.0
	PhoneticWeight = 0.8
	MaxDistance    = 2
)

// minFuzzyLen is the shortest keyword/token eligible for edit-distance matching.
const minFuzzyLen = 4

// minFoldLen is the shortest folded keyword eligible for phonetic matching.
const minFoldLen = 3

var phoneticReplacer = strings.NewReplacer(
	"ß", "ss",
	"ae", "a",
	"oe", "o",
	"ue", "u",
	"ie", "i",
	"ph", "f",
	"th", "t",
	"dt", "t",
	"ck", "k",
	"qu", "kw",
	"v", "f",
	"y", "i",
)

// Normalize lowercases s, applies NFC and collapses runs of whitespace.
func Normalize(s string) string {
	s = norm.NFC.String(strings.ToLower(s))
	return strings.Join(strings.Fields(s), " ")
}

// Tokens splits s into normalized word tokens. Letters, digits and inner
// hyphens are kept so "e-rechnung" and "03458-0-051" survive as one token.
func Tokens(s string) []string {
	return strings.FieldsFunc(Normalize(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
}

// StripMarks removes combining diacritics ("é" -> "e", "ä" -> "a").
func StripMarks(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Fold reduces s to a coarse phonetic key: diacritics and umlaut digraphs
// collapse to their base vowel, a silent h after a vowel is dropped, common
// German spelling variants are unified and doubled letters are squeezed.
func Fold(s string) string {
	s = phoneticReplacer.Replace(StripMarks(Normalize(s)))

	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		switch {
		case r == 'h' && isVowel(prev):
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if r == prev {
				continue
			}
		case r == ' ':
			if prev == ' ' || prev == 0 {
				continue
			}
		default:
			continue
		}
		b.WriteRune(r)
		prev = r
	}
	return strings.TrimSpace(b.String())
}

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}

// Distance returns the Levenshtein distance between a and b in runes.
func Distance(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// similarity is 1 - distance/maxLen for words of la and lb runes, in [0,1].
func similarity(distance, la, lb int) float64 {
	maxLen := max(la, lb)
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(distance)/float64(maxLen)
}

// allowedDistance caps edits for short words, where two edits would match
// almost anything.
func allowedDistance(n int) int {
	if n <= 5 {
		return 1
	}
	return MaxDistance
}
