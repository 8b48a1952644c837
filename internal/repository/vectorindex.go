package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/prof-schacht/academic-citation-assistant-sub000/internal/model"
	"github.com/prof-schacht/academic-citation-assistant-sub000/internal/service"
)

// VectorIndexRepo is the Vector Index (spec §4.3): chunk embeddings stored
// in the `chunks` table and searched with pgvector's cosine operator. It
// also serves as the Lexical Index's chunk-text source and the ingestion
// pipeline's bulk writer, using a pgx.Batch to write a paper's chunks in
// one round trip.
type VectorIndexRepo struct {
	pool *pgxpool.Pool
}

// NewVectorIndexRepo creates a VectorIndexRepo.
func NewVectorIndexRepo(pool *pgxpool.Pool) *VectorIndexRepo {
	return &VectorIndexRepo{pool: pool}
}

var (
	_ service.VectorSearcher    = (*VectorIndexRepo)(nil)
	_ service.ChunkFetcher      = (*VectorIndexRepo)(nil)
	_ service.ChunkTextProvider = (*VectorIndexRepo)(nil)
)

const candidateSelectCols = `
	c.id, c.paper_id, c.ordinal, c.text, c.section_label, c.page_first, c.page_last,
	c.word_count, c.token_count,
	p.id, p.owner_id, p.title, p.authors, p.year, p.venue, p.doi, p.arxiv_id, p.semantic_id,
	p.citation_count, p.status, p.failure_reason, p.chunk_count, p.has_file,
	p.created_at, p.updated_at`

// SimilaritySearch returns the k nearest chunks to queryVec within ownerID's
// corpus, ordered by cosine distance with (paper_id, ordinal) as a stable
// tie-break (spec §4.3).
func (r *VectorIndexRepo) SimilaritySearch(ctx context.Context, ownerID string, queryVec []float32, k int) ([]service.VectorCandidate, error) {
	qv := pgvector.NewVector(queryVec)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s, 1 - (c.embedding <=> $1) AS similarity
		FROM chunks c
		JOIN papers p ON p.id = c.paper_id
		WHERE p.owner_id = $2 AND p.status = 'indexed' AND c.embedding IS NOT NULL
		ORDER BY c.embedding <=> $1, c.paper_id, c.ordinal
		LIMIT $3`, candidateSelectCols), qv, ownerID, k)
	if err != nil {
		return nil, fmt.Errorf("repository.SimilaritySearch: %w", err)
	}
	defer rows.Close()

	var out []service.VectorCandidate
	for rows.Next() {
		cand, err := scanCandidate(rows, true)
		if err != nil {
			return nil, fmt.Errorf("repository.SimilaritySearch: %w", err)
		}
		out = append(out, *cand)
	}
	return out, rows.Err()
}

// FetchChunks resolves chunk IDs (as surfaced by the Lexical Index) into
// full candidates with parent paper metadata. Similarity is left at zero;
// the caller supplies the lexical score separately.
func (r *VectorIndexRepo) FetchChunks(ctx context.Context, chunkIDs []string) ([]service.VectorCandidate, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM chunks c
		JOIN papers p ON p.id = c.paper_id
		WHERE c.id = ANY($1)`, candidateSelectCols), chunkIDs)
	if err != nil {
		return nil, fmt.Errorf("repository.FetchChunks: %w", err)
	}
	defer rows.Close()

	var out []service.VectorCandidate
	for rows.Next() {
		cand, err := scanCandidate(rows, false)
		if err != nil {
			return nil, fmt.Errorf("repository.FetchChunks: %w", err)
		}
		out = append(out, *cand)
	}
	return out, rows.Err()
}

// ChunkTextsByOwner returns every chunk ID and text owned by ownerID, the
// snapshot the Lexical Index fits its BM25 model against (spec §4.4).
func (r *VectorIndexRepo) ChunkTextsByOwner(ctx context.Context, ownerID string) (map[string]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT c.id, c.text FROM chunks c
		JOIN papers p ON p.id = c.paper_id
		WHERE p.owner_id = $1 AND p.status = 'indexed'`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("repository.ChunkTextsByOwner: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, text string
		if err := rows.Scan(&id, &text); err != nil {
			return nil, fmt.Errorf("repository.ChunkTextsByOwner: %w", err)
		}
		out[id] = text
	}
	return out, rows.Err()
}

// WriteChunks bulk-inserts a paper's chunks and their embeddings in one
// round-trip, used by the ingestion pipeline once chunking and embedding
// have both completed for a paper.
func (r *VectorIndexRepo) WriteChunks(ctx context.Context, chunks []model.Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("repository.WriteChunks: %d chunks but %d embeddings", len(chunks), len(embeddings))
	}
	batch := &pgx.Batch{}
	for i, c := range chunks {
		vec := pgvector.NewVector(embeddings[i])
		batch.Queue(`
			INSERT INTO chunks (paper_id, ordinal, text, section_label, page_first, page_last,
				word_count, token_count, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (paper_id, ordinal) DO UPDATE SET
				text = EXCLUDED.text, section_label = EXCLUDED.section_label,
				page_first = EXCLUDED.page_first, page_last = EXCLUDED.page_last,
				word_count = EXCLUDED.word_count, token_count = EXCLUDED.token_count,
				embedding = EXCLUDED.embedding`,
			c.PaperID, c.Ordinal, c.Text, c.SectionLabel, c.PageFirst, c.PageLast,
			c.WordCount, c.TokenCount, vec,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range chunks {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("repository.WriteChunks: %w", err)
		}
	}
	return nil
}

// DeleteChunksByPaper removes all chunks for a paper, used when ingestion
// is retried and stale chunks must not linger alongside new ones.
func (r *VectorIndexRepo) DeleteChunksByPaper(ctx context.Context, paperID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM chunks WHERE paper_id = $1`, paperID)
	if err != nil {
		return fmt.Errorf("repository.DeleteChunksByPaper: %w", err)
	}
	return nil
}

func scanCandidate(row rowScanner, withSimilarity bool) (*service.VectorCandidate, error) {
	var cand service.VectorCandidate
	var authorsJSON []byte
	var doi, arxiv, semant string

	dest := []interface{}{
		&cand.Chunk.ID, &cand.Chunk.PaperID, &cand.Chunk.Ordinal, &cand.Chunk.Text,
		&cand.Chunk.SectionLabel, &cand.Chunk.PageFirst, &cand.Chunk.PageLast,
		&cand.Chunk.WordCount, &cand.Chunk.TokenCount,
		&cand.Paper.ID, &cand.Paper.OwnerID, &cand.Paper.Title, &authorsJSON, &cand.Paper.Year,
		&cand.Paper.Venue, &doi, &arxiv, &semant, &cand.Paper.CitationCount, &cand.Paper.Status,
		&cand.Paper.FailureReason, &cand.Paper.ChunkCount, &cand.Paper.HasFile,
		&cand.Paper.CreatedAt, &cand.Paper.UpdatedAt,
	}
	if withSimilarity {
		dest = append(dest, &cand.Similarity)
	}

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	cand.Paper.ExternalIDs = model.ExternalIDs{DOI: doi, ArXiv: arxiv, Semant: semant}
	if len(authorsJSON) > 0 {
		if err := json.Unmarshal(authorsJSON, &cand.Paper.Authors); err != nil {
			return nil, err
		}
	}
	return &cand, nil
}
