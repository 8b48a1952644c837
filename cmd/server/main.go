package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/prof-schacht/academic-citation-assistant-sub000/internal/cache"
	"github.com/prof-schacht/academic-citation-assistant-sub000/internal/config"
	"github.com/prof-schacht/academic-citation-assistant-sub000/internal/handler"
	"github.com/prof-schacht/academic-citation-assistant-sub000/internal/localembed"
	"github.com/prof-schacht/academic-citation-assistant-sub000/internal/middleware"
	"github.com/prof-schacht/academic-citation-assistant-sub000/internal/repository"
	"github.com/prof-schacht/academic-citation-assistant-sub000/internal/router"
	"github.com/prof-schacht/academic-citation-assistant-sub000/internal/service"
	"github.com/prof-schacht/academic-citation-assistant-sub000/internal/ws"
)

// Version is the running build's version string, reported on /api/health.
const Version = "0.1.0"

// stack bundles everything buildStack starts that needs an orderly
// shutdown: the DB pool and the background goroutines (worker pool,
// rate-limiter cleanup) the request path depends on.
type stack struct {
	deps    *router.Dependencies
	pool    *pgxpool.Pool
	workers *service.WorkerPool
	limiter *middleware.RateLimiter
}

func (s *stack) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.workers != nil {
		s.workers.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// buildStack wires the seven SPEC_FULL.md components into the router's
// Dependencies: a Postgres pool backs both the Vector Index and the paper
// repository, a local hashing Embedder feeds the ingestion pipeline and the
// Retrieval Pipeline, and the Session Layer sits on top of the Retrieval
// Pipeline by way of the Suggester interface.
func buildStack(ctx context.Context, cfg *config.Config) (*stack, error) {
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return nil, fmt.Errorf("main: %w", err)
	}

	vectorIndex := repository.NewVectorIndexRepo(pool)
	paperRepo := repository.NewPaperRepo(pool)

	embedCache := cache.NewEmbeddingCache(cfg.EmbeddingCacheCap)
	embedClient := localembed.NewHashingEmbedder(cfg.EmbeddingDimensions)
	embedder := service.NewEmbedderService(embedClient, embedCache, cfg.EmbeddingDimensions)

	workers := service.NewWorkerPool(cfg.WorkerPoolSize)
	lexical := service.NewLexicalIndex(vectorIndex, workers, cfg.LexicalFitMaxDocs, cfg.LexicalFitTimeout)

	chunker := service.NewChunkerService(cfg.ChunkTargetWords, cfg.ChunkOverlapWords, cfg.ChunkMinWords, cfg.ChunkMaxWords)
	ingestion := service.NewIngestionService(chunker, embedder, vectorIndex, paperRepo, lexical)

	retrieverCfg := service.RetrieverConfig{
		MinQueryChars:     cfg.MinQueryChars,
		KVec:              cfg.KVec,
		KBM:               cfg.KBM,
		WeightVector:      cfg.WeightVector,
		WeightBM25:        cfg.WeightBM25,
		RerankInputCap:    cfg.RerankInputCap,
		MaxChunksPerPaper: cfg.MaxChunksPerPaper,
		MaxSuggestions:    cfg.MaxSuggestions,
		EmbeddingTimeout:  cfg.EmbeddingTimeout,
		RetrievalTimeout:  cfg.RetrievalTimeout,
		RerankTimeout:     cfg.RerankTimeout,
	}

	// Reranking (spec §4.5) is optional, and spec §9's design note that the
	// query path must never touch the network rules out every concrete
	// GenAIClient this tree could ship (all are remote LLM backends). A nil
	// reranker is the documented degrade-to-fused-order path, not a missing
	// feature: RetrieverService already treats it that way.
	retriever := service.NewRetrieverService(embedder, vectorIndex, lexical, vectorIndex, nil, retrieverCfg)

	metricsReg := prometheus.NewRegistry()
	metrics := middleware.NewMetrics(metricsReg)

	sessions := ws.NewManager(retriever, ws.Config{
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		RateLimitBurst:     cfg.RateLimitBurst,
		DebounceMs:         cfg.DebounceMs,
		IdlePing:           cfg.IdlePing,
		PingTimeout:        cfg.PingTimeout,
		SuggestTimeout:     cfg.SuggestTimeout,
		Metrics:            metrics,
	})

	generalLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		MaxRequests: cfg.RateLimitPerMinute,
		Window:      time.Minute,
	})

	deps := &router.Dependencies{
		DB:         pool,
		Version:    Version,
		Metrics:    metrics,
		MetricsReg: metricsReg,
		Papers: handler.PaperDeps{
			Store:    paperRepo,
			Ingester: ingestion,
		},
		Sessions:           sessions,
		GeneralRateLimiter: generalLimiter,
	}

	return &stack{deps: deps, pool: pool, workers: workers, limiter: generalLimiter}, nil
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("main: %w", err)
	}

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	st, err := buildStack(bootCtx, cfg)
	bootCancel()
	if err != nil {
		return err
	}
	defer st.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router.New(st.deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "version", Version, "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received signal, shutting down gracefully", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
