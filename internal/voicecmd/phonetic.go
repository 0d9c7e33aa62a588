package voicecmd

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.88
)

// matcher compares a normalised utterance with a normalised phrase in two
// stages:
//
//  1. Phonetic alignment: both must have the same number of words and every
//     word pair must share a Double Metaphone code. Aligned pairs are accepted
//     when their mean Jaro-Winkler score reaches phoneticThreshold.
//  2. Fuzzy fallback: otherwise the full strings must reach fuzzyThreshold.
type matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

func newMatcher() *matcher {
	return &matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
}

// match returns the similarity score and whether it clears the thresholds.
func (m *matcher) match(utterance, phrase string) (float64, bool) {
	if utterance == "" || phrase == "" {
		return 0, false
	}
	if utterance == phrase {
		return 1, true
	}

	uTokens := strings.Fields(utterance)
	pTokens := strings.Fields(phrase)

	if score, aligned := alignedScore(uTokens, pTokens); aligned && score >= m.phoneticThreshold {
		return score, true
	}

	full := matchr.JaroWinkler(utterance, phrase, false)
	if concat := matchr.JaroWinkler(strings.Join(uTokens, ""), strings.Join(pTokens, ""), false); concat > full {
		full = concat
	}
	return full, full >= m.fuzzyThreshold
}

// alignedScore reports whether a and b align word by word phonetically, and
// their mean per-word Jaro-Winkler similarity.
func alignedScore(a, b []string) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var total float64
	for i := range a {
		if a[i] != b[i] && !codesOverlap(codes(a[i]), codes(b[i])) {
			return 0, false
		}
		total += matchr.JaroWinkler(a[i], b[i], false)
	}
	return total / float64(len(a)), true
}

// codes returns the non-empty Double Metaphone codes of word.
func codes(word string) []string {
	p, s := matchr.DoubleMetaphone(word)
	out := make([]string, 0, 2)
	if p != "" {
		out = append(out, p)
	}
	if s != "" && s != p {
		out = append(out, s)
	}
	return out
}

func codesOverlap(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
