// Package config loads the service's environment-driven configuration into
// a single immutable Config, constructed once at process start.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// It is immutable after Load() returns.
type Config struct {
	Port        int
	Environment string

	DatabaseURL      string
	DatabaseMaxConns int

	// Embedding (spec §4.2): a local, network-free hashing embedder — see
	// internal/localembed — so there is no provider endpoint or model name
	// to configure, only the vector width and cache size.
	EmbeddingDimensions int
	EmbeddingCacheCap   int
	EmbeddingTimeout    time.Duration

	// Chunker (spec §4.1)
	ChunkTargetWords int
	ChunkOverlapWords int
	ChunkMinWords     int
	ChunkMaxWords     int

	// Retrieval pipeline (spec §4.6, §6)
	MinQueryChars      int
	KVec               int
	KBM                int
	WeightVector       float64
	WeightBM25         float64
	RerankInputCap     int
	RerankBatch        int
	MaxChunksPerPaper  int
	MaxSuggestions     int
	RetrievalTimeout   time.Duration
	RerankTimeout      time.Duration
	SuggestTimeout     time.Duration

	// Lexical index (spec §4.4)
	LexicalFitMaxDocs int
	LexicalFitTimeout time.Duration

	// Session layer (spec §4.7)
	RateLimitPerMinute int
	RateLimitBurst     int
	DebounceMs         int
	IdlePing           time.Duration
	PingTimeout        time.Duration

	// Worker pool (§5)
	WorkerPoolSize int
}

// Load reads configuration from environment variables. DATABASE_URL is the
// only required variable; everything else falls back to the defaults spec.md
// §6 names.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("config.Load: DATABASE_URL is required")
	}

	cfg := &Config{
		Port:        envInt("PORT", 8080),
		Environment: envStr("ENVIRONMENT", "development"),

		DatabaseURL:      dbURL,
		DatabaseMaxConns: envInt("DATABASE_MAX_CONNS", 25),

		EmbeddingDimensions: envInt("EMBEDDING_DIMENSIONS", 384),
		EmbeddingCacheCap:   envInt("EMBEDDING_CACHE_CAPACITY", 10000),
		EmbeddingTimeout:    envDuration("EMBEDDING_TIMEOUT", 5*time.Second),

		ChunkTargetWords:  envInt("CHUNK_TARGET_WORDS", 250),
		ChunkOverlapWords: envInt("CHUNK_OVERLAP_WORDS", 50),
		ChunkMinWords:     envInt("CHUNK_MIN_WORDS", 30),
		ChunkMaxWords:     envInt("CHUNK_MAX_WORDS", 500),

		MinQueryChars:     envInt("MIN_QUERY_CHARS", 10),
		KVec:              envInt("K_VEC", 30),
		KBM:               envInt("K_BM", 30),
		WeightVector:      envFloat("WEIGHT_VECTOR", 0.6),
		WeightBM25:        envFloat("WEIGHT_BM25", 0.4),
		RerankInputCap:    envInt("RERANK_INPUT_CAP", 20),
		RerankBatch:       envInt("RERANK_BATCH", 64),
		MaxChunksPerPaper: envInt("MAX_CHUNKS_PER_PAPER", 2),
		MaxSuggestions:    envInt("MAX_SUGGESTIONS", 15),
		RetrievalTimeout:  envDuration("RETRIEVAL_TIMEOUT", 10*time.Second),
		RerankTimeout:     envDuration("RERANK_TIMEOUT", 10*time.Second),
		SuggestTimeout:    envDuration("SUGGEST_TIMEOUT", 20*time.Second),

		LexicalFitMaxDocs: envInt("LEXICAL_FIT_MAX_DOCS", 10000),
		LexicalFitTimeout: envDuration("LEXICAL_FIT_TIMEOUT", 15*time.Second),

		RateLimitPerMinute: envInt("RATE_LIMIT", 60),
		RateLimitBurst:     envInt("RATE_LIMIT_BURST", 10),
		DebounceMs:         envInt("DEBOUNCE_MS", 300),
		IdlePing:           envDuration("IDLE_PING", 30*time.Second),
		PingTimeout:        envDuration("PING_TIMEOUT", 5*time.Second),

		WorkerPoolSize: envInt("WORKER_POOL_SIZE", 0),
	}

	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
