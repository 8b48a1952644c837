package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prof-schacht/academic-citation-assistant-sub000/internal/model"
)

// PaperRepo persists papers (spec §3, §6) with pgx against the `papers`
// table, following the same Create/GetByID/UpdateStatus shape as the
// chunk repository this package also owns.
type PaperRepo struct {
	pool *pgxpool.Pool
}

// NewPaperRepo creates a PaperRepo.
func NewPaperRepo(pool *pgxpool.Pool) *PaperRepo {
	return &PaperRepo{pool: pool}
}

// Create inserts a new paper in model.StatusPending.
func (r *PaperRepo) Create(ctx context.Context, p *model.Paper) error {
	authors, err := json.Marshal(p.Authors)
	if err != nil {
		return fmt.Errorf("repository.Create: marshal authors: %w", err)
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	if p.Status == "" {
		p.Status = model.StatusPending
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO papers (id, owner_id, title, authors, year, venue, doi, arxiv_id,
			semantic_id, citation_count, status, has_file, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.OwnerID, p.Title, authors, p.Year, p.Venue, p.ExternalIDs.DOI,
		p.ExternalIDs.ArXiv, p.ExternalIDs.Semant, p.CitationCount, p.Status, p.HasFile,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository.Create: %w", err)
	}
	return nil
}

// GetByID fetches one paper scoped to ownerID. A paper owned by a different
// user is reported as not found, never leaked (spec P5).
func (r *PaperRepo) GetByID(ctx context.Context, id, ownerID string) (*model.Paper, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, owner_id, title, authors, year, venue, doi, arxiv_id, semantic_id,
			citation_count, status, failure_reason, chunk_count, has_file, created_at, updated_at
		FROM papers WHERE id = $1 AND owner_id = $2`, id, ownerID)
	return scanPaper(row)
}

// UpdateStatus transitions a paper's processing state (spec §4.6 state
// machine), optionally recording a failure reason.
func (r *PaperRepo) UpdateStatus(ctx context.Context, id string, status model.Status, reason model.FailureReason) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE papers SET status = $2, failure_reason = $3, updated_at = now() WHERE id = $1`,
		id, status, reason)
	if err != nil {
		return fmt.Errorf("repository.UpdateStatus: %w", err)
	}
	return nil
}

// UpdateChunkCount records how many chunks a paper ended up with, set once
// ingestion has written them all.
func (r *PaperRepo) UpdateChunkCount(ctx context.Context, id string, count int) error {
	_, err := r.pool.Exec(ctx, `UPDATE papers SET chunk_count = $2, updated_at = now() WHERE id = $1`, id, count)
	if err != nil {
		return fmt.Errorf("repository.UpdateChunkCount: %w", err)
	}
	return nil
}

// UpdateMetadata overwrites the descriptive fields an external metadata
// lookup resolves (spec §2's write path: "only identifiers and resolved
// metadata reach the core").
func (r *PaperRepo) UpdateMetadata(ctx context.Context, id string, title string, authors []model.Author, year *int, venue string, citationCount *int) error {
	authorsJSON, err := json.Marshal(authors)
	if err != nil {
		return fmt.Errorf("repository.UpdateMetadata: marshal authors: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE papers SET title = $2, authors = $3, year = $4, venue = $5, citation_count = $6,
			updated_at = now()
		WHERE id = $1`, id, title, authorsJSON, year, venue, citationCount)
	if err != nil {
		return fmt.Errorf("repository.UpdateMetadata: %w", err)
	}
	return nil
}

// Delete removes a paper; its chunks cascade-delete via the FK constraint
// (spec §3: "removal cascades to its chunks").
func (r *PaperRepo) Delete(ctx context.Context, id, ownerID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM papers WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("repository.Delete: %w", err)
	}
	return nil
}

// ListByOwner lists papers owned by ownerID, most recently created first.
func (r *PaperRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.Paper, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, owner_id, title, authors, year, venue, doi, arxiv_id, semantic_id,
			citation_count, status, failure_reason, chunk_count, has_file, created_at, updated_at
		FROM papers WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("repository.ListByOwner: %w", err)
	}
	defer rows.Close()

	var out []model.Paper
	for rows.Next() {
		p, err := scanPaperRows(rows)
		if err != nil {
			return nil, fmt.Errorf("repository.ListByOwner: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPaper(row pgx.Row) (*model.Paper, error) {
	return scanPaperRows(row)
}

func scanPaperRows(row rowScanner) (*model.Paper, error) {
	var p model.Paper
	var authorsJSON []byte
	var doi, arxiv, semant string
	err := row.Scan(
		&p.ID, &p.OwnerID, &p.Title, &authorsJSON, &p.Year, &p.Venue, &doi, &arxiv, &semant,
		&p.CitationCount, &p.Status, &p.FailureReason, &p.ChunkCount, &p.HasFile,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.ExternalIDs = model.ExternalIDs{DOI: doi, ArXiv: arxiv, Semant: semant}
	if len(authorsJSON) > 0 {
		if err := json.Unmarshal(authorsJSON, &p.Authors); err != nil {
			return nil, fmt.Errorf("unmarshal authors: %w", err)
		}
	}
	return &p, nil
}
