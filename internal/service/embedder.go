package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/prof-schacht/academic-citation-assistant-sub000/internal/cache"
)

// defaultMaxBatchSize caps how many texts go into a single provider call.
const defaultMaxBatchSize = 250

// EmbeddingClient abstracts the embedding provider for testability.
type EmbeddingClient interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedderService generates vector embeddings for chunks and queries,
// L2-normalizing every vector and caching single-query embeddings so
// repeated or overlapping focus text skips a round-trip to the provider
// (spec §4.2).
type EmbedderService struct {
	client     EmbeddingClient
	cache      *cache.EmbeddingCache
	dimensions int
	batchSize  int
}

// NewEmbedderService creates an EmbedderService. dimensions is the expected
// vector width (spec default 384); queryCache may be nil to disable caching.
func NewEmbedderService(client EmbeddingClient, queryCache *cache.EmbeddingCache, dimensions int) *EmbedderService {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &EmbedderService{
		client:     client,
		cache:      queryCache,
		dimensions: dimensions,
		batchSize:  defaultMaxBatchSize,
	}
}

// Embed generates one L2-normalized vector per input text, batching as
// needed. Used for chunk ingestion, where every text is distinct and
// caching would not help. Any provider failure or dimension mismatch is
// reported as ErrEmbeddingUnavailable so the ingestion pipeline can mark
// the paper failed with the right reason.
func (s *EmbedderService) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("service.Embed: no texts provided")
	}

	allVectors := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += s.batchSize {
		end := i + s.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]

		vectors, err := s.client.EmbedTexts(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("service.Embed: batch %d-%d: %w", i, end, errors.Join(err, ErrEmbeddingUnavailable))
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("service.Embed: got %d vectors for %d texts: %w", len(vectors), len(batch), ErrEmbeddingUnavailable)
		}

		for j, vec := range vectors {
			if len(vec) != s.dimensions {
				return nil, fmt.Errorf("service.Embed: vector %d has %d dimensions, want %d: %w", i+j, len(vec), s.dimensions, ErrEmbeddingUnavailable)
			}
			vectors[j] = l2Normalize(vec)
		}

		allVectors = append(allVectors, vectors...)
	}

	return allVectors, nil
}

// EmbedQuery embeds a single piece of focus text, checking the query
// embedding cache first and populating it on miss. Returns
// ErrEmbeddingUnavailable (wrapped) if the provider call fails, so the
// retrieval pipeline can fall back to lexical-only search (spec §4.3).
func (s *EmbedderService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var hash string
	if s.cache != nil {
		hash = cache.EmbeddingQueryHash(text)
		if vec, ok := s.cache.Get(hash); ok {
			return vec, nil
		}
	}

	vectors, err := s.client.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("service.EmbedQuery: %w", errors.Join(err, ErrEmbeddingUnavailable))
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("service.EmbedQuery: got %d vectors for 1 text: %w", len(vectors), ErrEmbeddingUnavailable)
	}
	if len(vectors[0]) != s.dimensions {
		return nil, fmt.Errorf("service.EmbedQuery: vector has %d dimensions, want %d: %w", len(vectors[0]), s.dimensions, ErrEmbeddingUnavailable)
	}

	vec := l2Normalize(vectors[0])
	if s.cache != nil {
		s.cache.Set(hash, vec)
	}
	return vec, nil
}

// l2Normalize normalizes a vector to unit length (L2 norm = 1).
func l2Normalize(vec []float32) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return vec
	}

	result := make([]float32, len(vec))
	for i, v := range vec {
		result[i] = float32(float64(v) / norm)
	}
	return result
}
