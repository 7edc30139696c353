// Package hybrid blends vector similarity with a lexical rank using a fixed
// 50/50 weighting.
package hybrid

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

const (
	VectorWeight  = 0.5
	LexicalWeight = 0.5
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {}, "for": {},
	"from": {}, "has": {}, "have": {}, "how": {}, "in": {}, "is": {}, "it": {}, "its": {}, "of": {},
	"on": {}, "or": {}, "that": {}, "the": {}, "this": {}, "to": {}, "was": {}, "were": {},
	"what": {}, "when": {}, "which": {}, "who": {}, "will": {}, "with": {},
}

// Candidate is anything a chunk store can score.
type Candidate struct {
	ID          string
	ReferenceID string
	Text        string
	Embedding   []float32
}

type Scored struct {
	Candidate
	Vector  float64
	Lexical float64
	Score   float64
}

func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Tokenize lower-cases text and splits it on anything that is not a letter
// or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Terms returns the distinct non-stop-word query terms in first-seen order.
func Terms(query string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, tok := range Tokenize(query) {
		if _, stop := stopWords[tok]; stop || seen[tok] {
			continue
		}
		seen[tok] = true
		terms = append(terms, tok)
	}
	return terms
}

// LexicalRank is a boolean-AND match over terms: zero unless every term
// occurs in text, otherwise the mean of tf/(tf+1) over the terms, in [0.5, 1).
func LexicalRank(text string, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	tf := make(map[string]int)
	for _, tok := range Tokenize(text) {
		tf[tok]++
	}
	var sum float64
	for _, term := range terms {
		n := tf[term]
		if n == 0 {
			return 0
		}
		sum += float64(n) / float64(n+1)
	}
	return sum / float64(len(terms))
}

func Score(vector, lexical float64) float64 {
	return VectorWeight*vector + LexicalWeight*lexical
}

// Rank scores candidates against the query and returns the best topK in
// descending score order. Ties keep candidate order.
func Rank(query string, queryEmbedding []float32, candidates []Candidate, topK int) []Scored {
	terms := Terms(query)
	scored := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		vec := CosineSimilarity(queryEmbedding, c.Embedding)
		lex := LexicalRank(c.Text, terms)
		scored = append(scored, Scored{
			Candidate: c,
			Vector:    vec,
			Lexical:   lex,
			Score:     Score(vec, lex),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}
