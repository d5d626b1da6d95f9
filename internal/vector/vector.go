// Package vector provides the TF-IDF vocabulary, cosine similarity and
// recency-weighted similarity search over stored memories.
package vector

import (
	"math"
	"sort"
)

// Vocabulary is an ordered term list with inverse document frequencies.
// Vectors built from different vocabularies are not comparable.
type Vocabulary struct {
	index map[string]int
	terms []string
	idf   []float64
}

// NewVocabulary builds a vocabulary from tokenized documents. Terms are
// sorted so the same corpus always yields the same layout.
func NewVocabulary(docs [][]string) *Vocabulary {
	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]bool, len(doc))
		for _, tok := range doc {
			if !seen[tok] {
				seen[tok] = true
				df[tok]++
			}
		}
	}

	terms := make([]string, 0, len(df))
	for t := range df {
		terms = append(terms, t)
	}
	sort.Strings(terms)

	n := float64(len(docs))
	v := &Vocabulary{
		index: make(map[string]int, len(terms)),
		terms: terms,
		idf:   make([]float64, len(terms)),
	}
	for i, t := range terms {
		v.index[t] = i
		v.idf[i] = math.Log(n / float64(1+df[t]))
	}
	return v
}

// Size returns the vector dimension.
func (v *Vocabulary) Size() int {
	if v == nil {
		return 0
	}
	return len(v.terms)
}

// Terms returns the vocabulary terms in vector order.
func (v *Vocabulary) Terms() []string {
	return append([]string(nil), v.terms...)
}

// Embed weights tokens by term frequency times IDF and L2-normalizes the
// result. Unknown tokens are ignored. A token list with no known terms
// yields the zero vector.
func (v *Vocabulary) Embed(tokens []string) []float64 {
	vec := make([]float64, len(v.terms))
	if len(tokens) == 0 {
		return vec
	}
	counts := make(map[int]int)
	for _, tok := range tokens {
		if i, ok := v.index[tok]; ok {
			counts[i]++
		}
	}
	total := float64(len(tokens))
	for i, c := range counts {
		vec[i] = float64(c) / total * v.idf[i]
	}

	var norm float64
	for _, x := range vec {
		norm += x * x
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

// CosineSimilarity computes cosine similarity between two vectors. The
// shorter vector is treated as zero-padded. Zero vectors score 0.
func CosineSimilarity(a, b []float64) float64 {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		var x, y float64
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Score blends similarity with recency and scales by importance:
//
//	((1-rw)*cos + rw*exp(-days/decayDays)) * (0.5 + 0.5*importance)
//
// A zero recency weight scores on similarity alone.
func Score(cos, importance, ageDays, recencyWeight, decayDays float64) float64 {
	base := cos
	if recencyWeight > 0 {
		if decayDays <= 0 {
			decayDays = 30
		}
		base = (1-recencyWeight)*cos + recencyWeight*math.Exp(-ageDays/decayDays)
	}
	return base * (0.5 + 0.5*importance)
}
