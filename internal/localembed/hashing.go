// Package localembed implements an in-process embedding backend: no network
// round-trip, no model weights to load, deterministic for a given
// dimensions size. The Embedder must never touch the network on the query
// path (spec §4.2's "a shared process-level singleton... never touches the
// network from the query path"), which rules out any HTTP-based provider
// client for this role.
package localembed

import (
	"context"
	"hash/fnv"
	"strings"
)

// HashingEmbedder implements service.EmbeddingClient with the hashing trick
// (Weinberger et al.): each token is hashed into one of dimensions buckets,
// with the hash's low bit choosing the bucket's sign, and a chunk or query's
// vector is the bag-of-tokens sum over those buckets. Same text always maps
// to the same vector, which is what the Lexical Index's companion BM25 path
// and the retrieval pipeline's determinism property (spec's P2) both need.
type HashingEmbedder struct {
	dimensions int
}

// NewHashingEmbedder creates a HashingEmbedder producing vectors of the
// given width.
func NewHashingEmbedder(dimensions int) *HashingEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &HashingEmbedder{dimensions: dimensions}
}

// EmbedTexts implements service.EmbeddingClient. Context is accepted for
// interface compatibility; hashing never blocks, so ctx is never checked.
func (h *HashingEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = h.embedOne(text)
	}
	return vectors, nil
}

func (h *HashingEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, h.dimensions)
	for _, token := range tokenize(text) {
		bucket, sign := hashToken(token, h.dimensions)
		vec[bucket] += sign
	}
	return vec
}

// tokenize lower-cases and splits on anything that isn't an ASCII letter
// (a-z) or digit, so non-ASCII letters act as separators. Unlike the Lexical
// Index's BM25 tokenizer, it keeps stopwords and tokens of any length.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

// hashToken hashes a token with FNV-1a, using the low bit of the hash to
// pick a +1/-1 sign (so colliding tokens partially cancel rather than only
// ever reinforcing) and the rest to pick a bucket in [0, dimensions).
func hashToken(token string, dimensions int) (bucket int, sign float32) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	sum := h.Sum32()
	sign = 1
	if sum&1 == 1 {
		sign = -1
	}
	return int((sum >> 1) % uint32(dimensions)), sign
}
