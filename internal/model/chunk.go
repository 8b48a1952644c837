package model

import "time"

// Chunk is a retrievable passage of one paper. Every chunk belongs to
// exactly one paper; (PaperID, Ordinal) is unique and ordinals are dense
// starting at 0. A chunk either has an Embedding set or its paper's status
// is not Indexed.
type Chunk struct {
	ID           string    `json:"id"`
	PaperID      string    `json:"paperId"`
	Ordinal      int       `json:"ordinal"`
	Text         string    `json:"text"`
	SectionLabel string    `json:"sectionLabel,omitempty"`
	PageFirst    *int      `json:"pageFirst,omitempty"`
	PageLast     *int      `json:"pageLast,omitempty"`
	WordCount    int       `json:"wordCount"`
	TokenCount   int       `json:"tokenCount"`
	Embedding    []float32 `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}
