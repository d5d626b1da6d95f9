// Package similarity holds the tokenizers and token-overlap measures shared by
// the index, the preference graph and the learning pipeline.
package similarity

import (
	"strings"
	"unicode"
)

// Strategy scores how much of a is covered by b, in [0,1].
type Strategy interface {
	Score(a, b []string) float64
}

// Overlap is the directional measure |a∩b| / |a|.
type Overlap struct{}

func (Overlap) Score(a, b []string) float64 {
	set := toSet(a)
	if len(set) == 0 {
		return 0
	}
	return float64(Shared(a, b)) / float64(len(set))
}

// Jaccard is the symmetric measure |a∩b| / |a∪b|.
type Jaccard struct{}

func (Jaccard) Score(a, b []string) float64 {
	sa, sb := toSet(a), toSet(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	shared := 0
	for w := range sa {
		if sb[w] {
			shared++
		}
	}
	return float64(shared) / float64(len(sa)+len(sb)-shared)
}

// Shared counts distinct tokens present in both a and b.
func Shared(a, b []string) int {
	sb := toSet(b)
	n := 0
	for w := range toSet(a) {
		if sb[w] {
			n++
		}
	}
	return n
}

// Words lower-cases s and splits it on whitespace.
func Words(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

// Terms is Words with surrounding punctuation trimmed. Apostrophes inside a
// word survive, so "don't" stays one term.
func Terms(s string) []string {
	fields := Words(s)
	out := fields[:0]
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
		})
		f = strings.Trim(f, "'")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Tokenize lower-cases s, keeps alphabetic runs and drops stop words and
// tokens of two letters or fewer.
func Tokenize(s string) []string {
	runs := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r < 'a' || r > 'z'
	})
	out := runs[:0]
	for _, t := range runs {
		if len(t) > 2 && !stopWords[t] {
			out = append(out, t)
		}
	}
	return out
}

func toSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "being": true, "have": true, "has": true, "had": true, "do": true,
	"does": true, "did": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "must": true, "shall": true, "to": true, "of": true, "in": true,
	"for": true, "on": true, "with": true, "at": true, "by": true, "from": true, "as": true,
	"into": true, "through": true, "during": true, "before": true, "after": true, "above": true,
	"below": true, "between": true, "under": true, "again": true, "further": true, "then": true,
	"once": true, "and": true, "but": true, "or": true, "nor": true, "so": true, "yet": true,
	"both": true, "either": true, "neither": true, "not": true, "only": true, "own": true,
	"same": true, "than": true, "too": true, "very": true, "just": true, "also": true, "now": true,
	"here": true, "there": true, "when": true, "where": true, "why": true, "how": true, "all": true,
	"each": true, "every": true, "few": true, "more": true, "most": true, "other": true,
	"some": true, "such": true, "no": true, "can": true, "don": true, "i": true, "me": true,
	"my": true, "myself": true, "we": true, "our": true, "ours": true, "you": true, "your": true,
	"yours": true, "he": true, "him": true, "his": true, "she": true, "her": true, "hers": true,
	"it": true, "its": true, "they": true, "them": true, "their": true, "theirs": true,
	"what": true, "which": true, "who": true, "whom": true, "this": true, "that": true,
	"these": true, "those": true, "am": true,
}
