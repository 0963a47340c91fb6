package fuzzy

import (
	"strings"
	"unicode/utf8"
)

// Keyword is a table keyword prepared once for repeated matching.
type Keyword struct {
	Raw    string
	Norm   string
	Folded string
	single bool
	length int
}

// NewKeyword prepares kw for matching.
func NewKeyword(kw string) Keyword {
	n := Normalize(kw)
	return Keyword{
		Raw:    kw,
		Norm:   n,
		Folded: Fold(n),
		single: !strings.ContainsRune(n, ' '),
		length: utf8.RuneCountInString(n),
	}
}

// NewKeywords prepares a keyword list, skipping blanks.
func NewKeywords(kws []string) []Keyword {
	out := make([]Keyword, 0, len(kws))
	for _, kw := range kws {
		k := NewKeyword(kw)
		if k.Norm == "" {
			continue
		}
		out = append(out, k)
	}
	return out
}

// Text is an utterance prepared for matching against many keywords.
type Text struct {
	Norm   string
	Folded string
	Tokens []string
}

// NewText prepares s for matching.
func NewText(s string) Text {
	n := Normalize(s)
	return Text{
		Norm:   n,
		Folded: Fold(n),
		Tokens: Tokens(n),
	}
}

// Empty reports whether the text has no content.
func (t Text) Empty() bool {
	return t.Norm == ""
}

// Contains reports an exact substring match of the keyword.
func (t Text) Contains(k Keyword) bool {
	return k.Norm != "" && strings.Contains(t.Norm, k.Norm)
}

// ContainsAny reports whether any keyword occurs as an exact substring.
func (t Text) ContainsAny(ks []Keyword) bool {
	for _, k := range ks {
		if t.Contains(k) {
			return true
		}
	}
	return false
}

// HasToken reports whether the text contains tok as a whole word.
func (t Text) HasToken(tok string) bool {
	tok = Normalize(tok)
	for _, tt := range t.Tokens {
		if tt == tok {
			return true
		}
	}
	return false
}

// Score returns the weight contributed by k: ExactWeight for a substring
// match, the best token similarity for an edit-distance match, or
// PhoneticWeight for a folded match. Zero means no match.
func (t Text) Score(k Keyword) float64 {
	if k.Norm == "" || t.Norm == "" {
		return 0
	}
	if strings.Contains(t.Norm, k.Norm) {
		return ExactWeight
	}
	if sim := t.bestSimilarity(k); sim > 0 {
		return sim
	}
	if len(k.Folded) >= minFoldLen && strings.Contains(t.Folded, k.Folded) {
		return PhoneticWeight
	}
	return 0
}

func (t Text) bestSimilarity(k Keyword) float64 {
	if !k.single || k.length < minFuzzyLen {
		return 0
	}
	limit := allowedDistance(k.length)
	best := 0.0
	for _, tok := range t.Tokens {
		n := utf8.RuneCountInString(tok)
		if n < minFuzzyLen || abs(n-k.length) > limit {
			continue
		}
		d := Distance(tok, k.Norm)
		if d == 0 || d > limit {
			continue
		}
		if sim := similarity(d, n, k.length); sim > best {
			best = sim
		}
	}
	return best
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
