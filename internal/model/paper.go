package model

import "time"

// Status is a paper's position in the ingestion state machine.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusIndexed    Status = "indexed"
	StatusFailed     Status = "failed"
)

// FailureReason classifies why a paper transitioned to StatusFailed.
type FailureReason string

const (
	FailureNoContent      FailureReason = "no_content"
	FailureEmbeddingFault FailureReason = "embedding_failed"
	FailureIndexWrite     FailureReason = "index_write_failed"
)

// Author is one entry in a paper's ordered author list.
type Author struct {
	FullName string `json:"fullName"`
	Surname  string `json:"surname"`
}

// ExternalIDs holds optional cross-references to other catalogs.
type ExternalIDs struct {
	DOI    string `json:"doi,omitempty"`
	ArXiv  string `json:"arxiv,omitempty"`
	Semant string `json:"semanticScholarId,omitempty"`
}

// Paper is a logical work with stable identity, owned by the persistent store.
// Mutated only by the ingestion pipeline (status, counts) and by external
// metadata resolution (descriptive fields) — never destroyed implicitly.
type Paper struct {
	ID             string        `json:"id"`
	OwnerID        string        `json:"ownerId"`
	Title          string        `json:"title"`
	Authors        []Author      `json:"authors"`
	Year           *int          `json:"year,omitempty"`
	Venue          string        `json:"venue,omitempty"`
	ExternalIDs    ExternalIDs   `json:"externalIds"`
	CitationCount  *int          `json:"citationCount,omitempty"`
	Status         Status        `json:"status"`
	FailureReason  FailureReason `json:"failureReason,omitempty"`
	ChunkCount     int           `json:"chunkCount"`
	HasFile        bool          `json:"hasFile"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// FirstAuthorSurname returns the surname of the first author, or "" if none.
func (p Paper) FirstAuthorSurname() string {
	if len(p.Authors) == 0 {
		return ""
	}
	return p.Authors[0].Surname
}
