package cache

import "testing"

func TestEmbeddingCache_HitMiss(t *testing.T) {
	c := NewEmbeddingCache(10)

	hash := EmbeddingQueryHash("test query")

	if _, ok := c.Get(hash); ok {
		t.Fatal("expected miss on empty cache")
	}

	vec := []float32{0.1, 0.2, 0.3}
	c.Set(hash, vec)

	got, ok := c.Get(hash)
	if !ok {
		t.Fatal("expected hit after set")
	}
	if len(got) != 3 || got[0] != 0.1 || got[1] != 0.2 || got[2] != 0.3 {
		t.Fatalf("unexpected vector: %v", got)
	}
}

func TestEmbeddingCache_LRUEviction(t *testing.T) {
	c := NewEmbeddingCache(2)

	c.Set("a", []float32{1})
	c.Set("b", []float32{2})
	c.Set("c", []float32{3}) // evicts "a", the least-recently-used

	if _, ok := c.Get("a"); ok {
		t.Fatal("expected a to be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Fatal("expected b to remain")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatal("expected c to remain")
	}
	if c.Len() != 2 {
		t.Fatalf("expected len 2, got %d", c.Len())
	}
}

func TestEmbeddingCache_GetPromotesToMostRecentlyUsed(t *testing.T) {
	c := NewEmbeddingCache(2)

	c.Set("a", []float32{1})
	c.Set("b", []float32{2})
	c.Get("a")          // promote a, so b is now LRU
	c.Set("c", []float32{3}) // evicts "b"

	if _, ok := c.Get("b"); ok {
		t.Fatal("expected b to be evicted after a was promoted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a to remain")
	}
}

func TestEmbeddingCache_Len(t *testing.T) {
	c := NewEmbeddingCache(100)

	if c.Len() != 0 {
		t.Fatalf("expected 0, got %d", c.Len())
	}

	c.Set("a", []float32{1.0})
	c.Set("b", []float32{2.0})
	if c.Len() != 2 {
		t.Fatalf("expected 2, got %d", c.Len())
	}
}

func TestEmbeddingQueryHash_Deterministic(t *testing.T) {
	h1 := EmbeddingQueryHash("What is a transformer?")
	h2 := EmbeddingQueryHash("what is a transformer?")
	h3 := EmbeddingQueryHash("  What   is  a transformer?  ")

	if h1 != h2 {
		t.Fatalf("case-insensitive mismatch: %s != %s", h1, h2)
	}
	if h1 != h3 {
		t.Fatalf("whitespace-insensitive mismatch: %s != %s", h1, h3)
	}
}

func TestEmbeddingQueryHash_Different(t *testing.T) {
	h1 := EmbeddingQueryHash("query one")
	h2 := EmbeddingQueryHash("query two")

	if h1 == h2 {
		t.Fatal("different queries should produce different hashes")
	}
}

func TestEmbeddingCache_Roundtrip384(t *testing.T) {
	c := NewEmbeddingCache(10)

	vec := make([]float32, 384)
	for i := range vec {
		vec[i] = float32(i) * 0.001
	}

	hash := EmbeddingQueryHash("roundtrip test")
	c.Set(hash, vec)

	got, ok := c.Get(hash)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if len(got) != 384 {
		t.Fatalf("expected 384 dims, got %d", len(got))
	}
	if got[0] != 0.0 || got[383] != float32(383)*0.001 {
		t.Fatalf("vector data corrupted: first=%f last=%f", got[0], got[383])
	}
}
