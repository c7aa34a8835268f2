package store

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// stopwords excluded from the keyword pre-filter. Deliberately small; the
// scan is recall-oriented and the scorer does the real ranking.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "in": {}, "into": {}, "is": {}, "it": {},
	"of": {}, "on": {}, "or": {}, "that": {}, "the": {}, "then": {}, "this": {},
	"to": {}, "with": {},
}

var fold = cases.Fold()

// Normalize canonicalizes goal text: NFKC normalization, Unicode case
// folding, punctuation stripped, whitespace collapsed. Two goals differing
// only in casing, spacing or punctuation normalize identically.
func Normalize(goal string) string {
	s := norm.NFKC.String(goal)
	s = fold.String(s)

	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// Signature derives the stable identifier a goal is indexed under.
func Signature(goal string) string {
	sum := sha256.Sum256([]byte(Normalize(goal)))
	return hex.EncodeToString(sum[:16])
}

// Keywords returns the stopword-filtered token set of a goal, for the
// candidate scan pre-filter.
func Keywords(goal string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tok := range strings.Fields(Normalize(goal)) {
		if _, skip := stopwords[tok]; skip {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

// KeywordOverlap returns the Jaccard similarity of two keyword sets.
func KeywordOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	shared := 0
	for _, t := range b {
		if _, ok := set[t]; ok {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}
