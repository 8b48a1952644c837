package service

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// k1 and b are the classic Okapi BM25 free parameters (spec §4.4).
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// englishStopwords is a conservative, frequent-term stopword list; it is not
// meant to be exhaustive, only to keep noise terms out of document
// statistics (spec §4.4).
var englishStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"being": true, "of": true, "to": true, "in": true, "on": true, "at": true,
	"for": true, "with": true, "by": true, "from": true, "as": true, "it": true,
	"this": true, "that": true, "these": true, "those": true, "we": true, "our": true,
	"they": true, "their": true, "which": true, "what": true, "can": true, "will": true,
	"not": true, "no": true, "do": true, "does": true, "did": true, "has": true,
	"have": true, "had": true, "its": true, "than": true, "then": true, "also": true,
}

// tokenize lowercases, splits on Unicode word boundaries, drops stopwords
// and clamps token length to [2, 30] (spec §4.4).
func tokenize(text string) []string {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) < 2 || len(w) > 30 {
			continue
		}
		if englishStopwords[w] {
			continue
		}
		tokens = append(tokens, w)
	}
	return tokens
}

// bm25Doc is one indexed chunk's term frequencies and length.
type bm25Doc struct {
	id     string
	tf     map[string]int
	length int
}

// bm25Model is a classic Okapi BM25 index over a fixed snapshot of
// documents. It is immutable once built: re-fitting produces a new
// bm25Model rather than mutating this one, so a reader holding a reference
// during a concurrent re-fit always sees a consistent snapshot.
type bm25Model struct {
	docs     []bm25Doc
	df       map[string]int // document frequency per term
	avgLen   float64
	docCount int
}

// fitBM25 builds a bm25Model over docs (chunkID -> text). Docs beyond
// maxDocs are dropped; callers are responsible for enforcing
// LEXICAL_FIT_TIMEOUT around this call since fitting is pure CPU work.
func fitBM25(docs map[string]string, maxDocs int) *bm25Model {
	m := &bm25Model{df: make(map[string]int)}

	count := 0
	var totalLen int
	for id, text := range docs {
		if maxDocs > 0 && count >= maxDocs {
			break
		}
		tokens := tokenize(text)
		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		m.docs = append(m.docs, bm25Doc{id: id, tf: tf, length: len(tokens)})
		for term := range tf {
			m.df[term]++
		}
		totalLen += len(tokens)
		count++
	}

	m.docCount = count
	if count > 0 {
		m.avgLen = float64(totalLen) / float64(count)
	}
	return m
}

// score returns the raw BM25 score of doc for the given query tokens.
func (m *bm25Model) score(doc bm25Doc, queryTokens []string) float64 {
	if m.docCount == 0 || m.avgLen == 0 {
		return 0
	}
	var score float64
	for _, term := range queryTokens {
		df := m.df[term]
		if df == 0 {
			continue
		}
		tf := float64(doc.tf[term])
		if tf == 0 {
			continue
		}
		idf := math.Log(1 + (float64(m.docCount)-float64(df)+0.5)/(float64(df)+0.5))
		denom := tf + bm25K1*(1-bm25B+bm25B*float64(doc.length)/m.avgLen)
		score += idf * (tf * (bm25K1 + 1) / denom)
	}
	return score
}

// topK returns the topK highest-scoring document IDs with their raw BM25
// scores for the query, descending by score. Zero-score documents are
// excluded.
func (m *bm25Model) topK(query string, k int) []lexicalHit {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 || m.docCount == 0 {
		return nil
	}

	hits := make([]lexicalHit, 0, len(m.docs))
	for _, doc := range m.docs {
		s := m.score(doc, queryTokens)
		if s > 0 {
			hits = append(hits, lexicalHit{ChunkID: doc.id, Score: s})
		}
	}

	sortHitsDescending(hits)
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// lexicalHit is one BM25 match: a chunk ID and its raw (unnormalised)
// score. Normalisation into [0,1] happens in the fusion stage.
type lexicalHit struct {
	ChunkID string
	Score   float64
}

func sortHitsDescending(hits []lexicalHit) {
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
}
