package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prof-schacht/academic-citation-assistant-sub000/internal/model"
)

// PaperStore is the subset of paper persistence the ingestion pipeline
// needs: advancing an existing paper's status and recording the final chunk
// count once indexing completes.
type PaperStore interface {
	UpdateStatus(ctx context.Context, id string, status model.Status, reason model.FailureReason) error
	UpdateChunkCount(ctx context.Context, id string, count int) error
}

// ChunkWriter persists a paper's chunks and their embeddings atomically
// enough that a reader never observes a partial set (spec §4.3's ingestion
// atomicity requirement).
type ChunkWriter interface {
	WriteChunks(ctx context.Context, chunks []model.Chunk, embeddings [][]float32) error
	DeleteChunksByPaper(ctx context.Context, paperID string) error
}

// IndexInvalidator is notified when a paper's chunks change, so the
// Lexical Index's cached BM25 fit is marked stale (spec §4.4).
type IndexInvalidator interface {
	Invalidate(ownerID string)
}

// IngestionService drives the write path (spec §4.1-§4.3, §7): Chunker →
// Embedder → Vector Index, advancing a paper through the
// pending → processing → {indexed | failed} state machine, with
// step-by-step pipeline logging and a per-paper duplicate-run guard.
type IngestionService struct {
	chunker  Chunker
	embedder *EmbedderService
	chunks   ChunkWriter
	papers   PaperStore
	lexical  IndexInvalidator

	processingMu sync.Mutex
	processing   map[string]bool
}

// NewIngestionService creates an IngestionService.
func NewIngestionService(chunker Chunker, embedder *EmbedderService, chunks ChunkWriter, papers PaperStore, lexical IndexInvalidator) *IngestionService {
	return &IngestionService{
		chunker:    chunker,
		embedder:   embedder,
		chunks:     chunks,
		papers:     papers,
		lexical:    lexical,
		processing: make(map[string]bool),
	}
}

// Ingest runs the full write path for one paper's extracted text: chunk,
// embed, write, then mark indexed. A second call for a paper already being
// ingested is a no-op, since retries enter through the same call with a
// fresh context rather than overlapping it.
func (s *IngestionService) Ingest(ctx context.Context, paper model.Paper, text string) error {
	if !s.startProcessing(paper.ID) {
		slog.Info("service.Ingest: already in flight, skipping", "paper_id", paper.ID)
		return nil
	}
	defer s.stopProcessing(paper.ID)

	if err := s.papers.UpdateStatus(ctx, paper.ID, model.StatusProcessing, ""); err != nil {
		return fmt.Errorf("service.Ingest: mark processing: %w", err)
	}
	slog.Info("service.Ingest: chunking", "paper_id", paper.ID)

	chunks, err := s.chunker.Chunk(ctx, text, paper.ID)
	if err != nil {
		reason := model.FailureIndexWrite
		if errors.Is(err, ErrNoContent) {
			reason = model.FailureNoContent
		}
		return s.fail(ctx, paper.ID, reason, fmt.Errorf("service.Ingest: chunk: %w", err))
	}
	if len(chunks) == 0 {
		return s.fail(ctx, paper.ID, model.FailureNoContent, fmt.Errorf("service.Ingest: chunker produced zero chunks"))
	}

	slog.Info("service.Ingest: embedding", "paper_id", paper.ID, "chunks", len(chunks))
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embeddings, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return s.fail(ctx, paper.ID, model.FailureEmbeddingFault, fmt.Errorf("service.Ingest: embed: %w", err))
	}

	// Drop any chunks from a prior failed attempt before writing the new
	// set, so a retry never leaves stale chunks alongside fresh ones.
	if err := s.chunks.DeleteChunksByPaper(ctx, paper.ID); err != nil {
		return s.fail(ctx, paper.ID, model.FailureIndexWrite, fmt.Errorf("service.Ingest: clear prior chunks: %w", err))
	}

	slog.Info("service.Ingest: writing to vector index", "paper_id", paper.ID)
	if err := s.chunks.WriteChunks(ctx, chunks, embeddings); err != nil {
		return s.fail(ctx, paper.ID, model.FailureIndexWrite, fmt.Errorf("service.Ingest: write chunks: %w", err))
	}

	if err := s.papers.UpdateChunkCount(ctx, paper.ID, len(chunks)); err != nil {
		return s.fail(ctx, paper.ID, model.FailureIndexWrite, fmt.Errorf("service.Ingest: update chunk count: %w", err))
	}
	if err := s.papers.UpdateStatus(ctx, paper.ID, model.StatusIndexed, ""); err != nil {
		return s.fail(ctx, paper.ID, model.FailureIndexWrite, fmt.Errorf("service.Ingest: mark indexed: %w", err))
	}

	if s.lexical != nil {
		s.lexical.Invalidate(paper.OwnerID)
	}
	slog.Info("service.Ingest: indexed", "paper_id", paper.ID, "chunks", len(chunks))
	return nil
}

func (s *IngestionService) fail(ctx context.Context, paperID string, reason model.FailureReason, cause error) error {
	slog.Warn("service.Ingest: failed", "paper_id", paperID, "reason", reason, "error", cause)
	if err := s.papers.UpdateStatus(ctx, paperID, model.StatusFailed, reason); err != nil {
		return fmt.Errorf("service.Ingest: mark failed after %w: %w", cause, err)
	}
	return cause
}

func (s *IngestionService) startProcessing(paperID string) bool {
	s.processingMu.Lock()
	defer s.processingMu.Unlock()
	if s.processing[paperID] {
		return false
	}
	s.processing[paperID] = true
	return true
}

func (s *IngestionService) stopProcessing(paperID string) {
	s.processingMu.Lock()
	defer s.processingMu.Unlock()
	delete(s.processing, paperID)
}
