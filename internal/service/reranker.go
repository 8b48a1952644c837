package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// GenAIClient abstracts the cross-encoder-as-LLM call (spec §4.5). Kept
// narrow to exactly what LLMReranker needs, so tests can fake it without
// pulling in Vertex AI.
type GenAIClient interface {
	GenerateContent(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// LLMReranker scores candidate chunks against the query with an LLM used as
// a cross-encoder: the model sees query and chunk text together, producing
// a relevance score the vector/BM25 stages can't. A batch whose call or
// parse fails gets a neutral 0.5 score per item rather than failing the
// request.
type LLMReranker struct {
	llm      GenAIClient
	model    string
	inputCap int
	batch    int
}

// NewLLMReranker creates an LLMReranker. inputCap bounds how many candidates
// are ever sent for scoring (RERANK_INPUT_CAP); batch bounds how many are
// scored in a single prompt (RERANK_BATCH).
func NewLLMReranker(llm GenAIClient, model string, inputCap, batch int) *LLMReranker {
	if inputCap <= 0 {
		inputCap = 20
	}
	if batch <= 0 {
		batch = 64
	}
	return &LLMReranker{llm: llm, model: model, inputCap: inputCap, batch: batch}
}

var _ Reranker = (*LLMReranker)(nil)

type rerankDocScore struct {
	DocIndex int     `json:"doc_index"`
	Score    float64 `json:"score"`
}

type rerankResponse struct {
	Scores []rerankDocScore `json:"scores"`
}

// Rerank scores each item's relevance to query, batching calls of at most
// r.batch items and capping total input at r.inputCap (spec §4.5). A failed
// or malformed LLM response falls back to a neutral 0.5 score for that
// batch rather than surfacing an error to the pipeline.
func (r *LLMReranker) Rerank(ctx context.Context, query string, items []RerankItem) ([]RerankScore, error) {
	if len(items) == 0 {
		return nil, nil
	}
	if len(items) > r.inputCap {
		items = items[:r.inputCap]
	}

	scores := make([]RerankScore, 0, len(items))
	for start := 0; start < len(items); start += r.batch {
		end := start + r.batch
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]

		batchScores, err := r.rerankBatch(ctx, query, batch)
		if err != nil {
			slog.Warn("service.Rerank: batch degraded to fallback", "error", err)
			batchScores = fallbackScores(batch)
		}
		scores = append(scores, batchScores...)
	}
	return scores, nil
}

func (r *LLMReranker) rerankBatch(ctx context.Context, query string, items []RerankItem) ([]RerankScore, error) {
	systemPrompt := "You are a relevance scoring system for academic citation retrieval. " +
		"Score each passage from 0.0 to 1.0 for how well it supports or relates to the query. " +
		"Be strict: irrelevant passages score below 0.3, somewhat relevant 0.3-0.7, highly relevant above 0.7. " +
		"Output ONLY valid JSON in this exact format: " +
		`{"scores": [{"doc_index": 0, "score": 0.9}, {"doc_index": 1, "score": 0.3}]}` +
		" No explanation, no markdown fences."

	userPrompt := buildRerankPrompt(query, items)

	resp, err := r.llm.GenerateContent(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("service.rerankBatch: %w", err)
	}

	parsed, err := parseRerankResponse(resp, len(items))
	if err != nil {
		return nil, fmt.Errorf("service.rerankBatch: %w", err)
	}

	out := make([]RerankScore, len(items))
	for i, it := range items {
		out[i] = RerankScore{ChunkID: it.ChunkID, Score: parsed[i]}
	}
	return out, nil
}

func buildRerankPrompt(query string, items []RerankItem) string {
	var sb strings.Builder
	sb.WriteString("Query: ")
	sb.WriteString(query)
	sb.WriteString("\n\nPassages to score:\n")
	for i, it := range items {
		text := it.Text
		if len(text) > 500 {
			text = text[:500] + "..."
		}
		fmt.Fprintf(&sb, "[Doc %d]: %s\n\n", i, text)
	}
	return sb.String()
}

func parseRerankResponse(resp string, n int) ([]float64, error) {
	resp = strings.TrimSpace(resp)
	if idx := strings.Index(resp, "```json"); idx != -1 {
		rest := resp[idx+7:]
		if end := strings.Index(rest, "```"); end != -1 {
			resp = rest[:end]
		}
	} else if idx := strings.Index(resp, "```"); idx != -1 {
		rest := resp[idx+3:]
		if end := strings.Index(rest, "```"); end != -1 {
			resp = rest[:end]
		}
	}
	resp = strings.TrimSpace(resp)

	var parsed rerankResponse
	if err := json.Unmarshal([]byte(resp), &parsed); err != nil {
		return nil, fmt.Errorf("parse rerank response: %w", err)
	}

	scores := make([]float64, n)
	for i := range scores {
		scores[i] = 0.5
	}
	for _, s := range parsed.Scores {
		if s.DocIndex < 0 || s.DocIndex >= n {
			continue
		}
		scores[s.DocIndex] = clamp01(s.Score)
	}
	return scores, nil
}

func fallbackScores(items []RerankItem) []RerankScore {
	out := make([]RerankScore, len(items))
	for i, it := range items {
		out[i] = RerankScore{ChunkID: it.ChunkID, Score: 0.5}
	}
	return out
}
