package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/prof-schacht/academic-citation-assistant-sub000/internal/model"
	"golang.org/x/sync/errgroup"
)

// VectorCandidate is one chunk returned by the Vector Index, carrying enough
// of its parent paper's metadata to skip a second round-trip.
type VectorCandidate struct {
	Chunk      model.Chunk
	Paper      model.Paper
	Similarity float64
}

// VectorSearcher abstracts nearest-neighbour search over the Vector Index,
// scoped to one owner's corpus (spec §4.3).
type VectorSearcher interface {
	SimilaritySearch(ctx context.Context, ownerID string, queryVec []float32, k int) ([]VectorCandidate, error)
}

// QueryEmbedder abstracts single-query embedding for testability.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// BM25Searcher abstracts the Lexical Index's lazily-fit BM25 model
// (spec §4.4). ok is false when no usable snapshot exists yet.
type BM25Searcher interface {
	TopK(ctx context.Context, ownerID string, query string, k int) (hits []lexicalHit, ok bool)
	Degraded(ownerID string) bool
}

// ChunkFetcher resolves chunk IDs (as returned by the Lexical Index, which
// only carries IDs and raw scores) into full chunks with parent paper
// metadata.
type ChunkFetcher interface {
	FetchChunks(ctx context.Context, chunkIDs []string) ([]VectorCandidate, error)
}

// RerankItem is one (chunk, text) pair offered to the Reranker.
type RerankItem struct {
	ChunkID string
	Text    string
}

// RerankScore is one cross-encoder relevance score, monotone in predicted
// relevance.
type RerankScore struct {
	ChunkID string
	Score   float64
}

// Reranker abstracts the cross-encoder relevance scorer (spec §4.5). An
// error or a context deadline is treated as a soft degradation by the
// pipeline, never surfaced to the caller.
type Reranker interface {
	Rerank(ctx context.Context, query string, items []RerankItem) ([]RerankScore, error)
}

// RetrieverConfig carries the subset of config.Config the pipeline needs,
// copied in rather than depending on the config package directly so the
// pipeline stays independently testable.
type RetrieverConfig struct {
	MinQueryChars     int
	KVec              int
	KBM               int
	WeightVector      float64
	WeightBM25        float64
	RerankInputCap    int
	MaxChunksPerPaper int
	MaxSuggestions    int
	EmbeddingTimeout  time.Duration
	RetrievalTimeout  time.Duration
	RerankTimeout     time.Duration
}

// RetrieverService is the Retrieval Pipeline: the central orchestrator
// (spec §4.6) that turns a query context into a ranked, confidence-scored
// suggestion set, fetching from the vector and lexical indexes in parallel
// (errgroup.WithContext) through the VectorSearcher/BM25Searcher interfaces
// before aggregating and scoring.
type RetrieverService struct {
	embedder QueryEmbedder
	vector   VectorSearcher
	bm25     BM25Searcher
	chunks   ChunkFetcher
	reranker Reranker // nil disables stage 6 entirely
	cfg      RetrieverConfig
}

// NewRetrieverService creates a RetrieverService. reranker may be nil.
func NewRetrieverService(embedder QueryEmbedder, vector VectorSearcher, bm25 BM25Searcher, chunks ChunkFetcher, reranker Reranker, cfg RetrieverConfig) *RetrieverService {
	return &RetrieverService{
		embedder: embedder,
		vector:   vector,
		bm25:     bm25,
		chunks:   chunks,
		reranker: reranker,
		cfg:      cfg,
	}
}

// candidate is one chunk in flight through the pipeline's later stages,
// carrying every score it has accumulated so far.
type candidate struct {
	chunk      model.Chunk
	paper      model.Paper
	vecScore   *float64 // raw cosine similarity
	bm25Score  *float64 // raw BM25 score
	vNorm      float64
	bNorm      float64
	fused      float64 // step-4 fused score, kept as a side channel even after rerank
	ranking    float64 // fused, then replaced by rerank score if stage 6 runs
	rerankUsed bool
}

// Suggest runs the full 10-step retrieval pipeline for one query. ownerID
// scopes every lookup so a retrieval never returns another user's paper
// (spec P5). ctx's deadline is the whole-suggest 20s ceiling; every stage
// below derives a child context from it, so the cumulative budget is
// enforced by ordinary context composition rather than separate bookkeeping.
func (s *RetrieverService) Suggest(ctx context.Context, ownerID string, qctx model.QueryContext, prefs model.Preferences) (*model.SuggestionSet, error) {
	var diag model.Diagnostics

	// Step 1: focus extraction.
	focus := extractFocus(qctx, s.cfg.MinQueryChars)
	if focus == "" {
		return &model.SuggestionSet{Results: []model.Suggestion{}}, nil
	}

	useVector := prefs.SearchStrategy == model.StrategyVector || prefs.SearchStrategy == model.StrategyHybrid || !prefs.UseEnhanced
	useBM25 := prefs.UseEnhanced && (prefs.SearchStrategy == model.StrategyBM25 || prefs.SearchStrategy == model.StrategyHybrid)
	hybrid := useVector && useBM25

	// Step 2: query embedding.
	var queryVec []float32
	embedCtx, cancel := context.WithTimeout(ctx, s.cfg.EmbeddingTimeout)
	vec, err := s.embedder.EmbedQuery(embedCtx, focus)
	cancel()
	if err != nil {
		if !useBM25 {
			return nil, fmt.Errorf("service.Suggest: %w", ErrEmbeddingUnavailable)
		}
		if s.bm25.Degraded(ownerID) {
			return nil, fmt.Errorf("service.Suggest: embedding failed and lexical index is degraded: %w", ErrEmbeddingUnavailable)
		}
		slog.Warn("embedding failed, falling back to lexical-only", "owner", ownerID, "err", err)
		useVector = false
		hybrid = false
	} else {
		queryVec = vec
	}

	// Step 3: parallel candidate retrieval.
	var vecCandidates, bm25Candidates []VectorCandidate
	g, gctx := errgroup.WithContext(ctx)

	var vectorTimedOut, bm25TimedOut, lexicalDegraded bool

	if useVector {
		g.Go(func() error {
			branchCtx, cancel := context.WithTimeout(gctx, s.cfg.RetrievalTimeout)
			defer cancel()
			results, err := s.vector.SimilaritySearch(branchCtx, ownerID, queryVec, s.cfg.KVec)
			if err != nil {
				if errors.Is(branchCtx.Err(), context.DeadlineExceeded) {
					vectorTimedOut = true
					return nil
				}
				return fmt.Errorf("vector search: %w", err)
			}
			vecCandidates = results
			return nil
		})
	}

	if useBM25 {
		g.Go(func() error {
			branchCtx, cancel := context.WithTimeout(gctx, s.cfg.RetrievalTimeout)
			defer cancel()
			hits, ok := s.bm25.TopK(branchCtx, ownerID, focus, s.cfg.KBM)
			if !ok {
				lexicalDegraded = true
				return nil
			}
			if len(hits) == 0 {
				return nil
			}
			ids := make([]string, len(hits))
			scoreByID := make(map[string]float64, len(hits))
			for i, h := range hits {
				ids[i] = h.ChunkID
				scoreByID[h.ChunkID] = h.Score
			}
			resolved, err := s.chunks.FetchChunks(branchCtx, ids)
			if err != nil {
				if errors.Is(branchCtx.Err(), context.DeadlineExceeded) {
					bm25TimedOut = true
					return nil
				}
				return fmt.Errorf("bm25 chunk fetch: %w", err)
			}
			for i, c := range resolved {
				resolved[i].Similarity = scoreByID[c.Chunk.ID]
			}
			bm25Candidates = resolved
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("service.Suggest: %w", err)
	}
	diag.VectorTimedOut = vectorTimedOut
	diag.BM25TimedOut = bm25TimedOut
	diag.LexicalDegraded = lexicalDegraded

	if len(vecCandidates) == 0 && len(bm25Candidates) == 0 {
		return &model.SuggestionSet{Results: []model.Suggestion{}, Diagnostics: diag}, nil
	}

	// Step 4: score fusion.
	merged := mergeCandidates(vecCandidates, bm25Candidates, hybrid, s.cfg.WeightVector, s.cfg.WeightBM25)

	// Step 5: pre-rerank trim.
	if s.cfg.RerankInputCap > 0 && len(merged) > s.cfg.RerankInputCap {
		merged = merged[:s.cfg.RerankInputCap]
	}

	// Step 6: optional rerank.
	if prefs.UseReranking && s.reranker != nil && len(merged) > 0 {
		rerankCtx, cancel := context.WithTimeout(ctx, s.cfg.RerankTimeout)
		items := make([]RerankItem, len(merged))
		for i, c := range merged {
			items[i] = RerankItem{ChunkID: c.chunk.ID, Text: c.chunk.Text}
		}
		scores, err := s.reranker.Rerank(rerankCtx, focus, items)
		cancel()
		if err != nil {
			diag.RerankSkipped = true
			slog.Warn("rerank degraded, keeping fused order", "err", err)
		} else {
			byID := make(map[string]float64, len(scores))
			for _, sc := range scores {
				byID[sc.ChunkID] = sc.Score
			}
			for i := range merged {
				if sc, ok := byID[merged[i].chunk.ID]; ok {
					merged[i].ranking = sc
					merged[i].rerankUsed = true
				}
			}
			sort.SliceStable(merged, func(i, j int) bool { return merged[i].ranking > merged[j].ranking })
		}
	} else if prefs.UseReranking && s.reranker == nil {
		diag.RerankSkipped = true
	}

	// Step 7: paper-level aggregation.
	papers := aggregateByPaper(merged, s.cfg.MaxChunksPerPaper)

	// Step 8: confidence composition, step 9: assembly.
	currentYear := time.Now().Year()
	suggestions := make([]model.Suggestion, 0, len(papers))
	for _, p := range papers {
		best := p.parts[0]
		similarity := best.ranking
		contextRelevance := jaccard(focus, best.chunk.Text)
		quality := paperQuality(best.paper.CitationCount)
		rec := recency(best.paper.Year, currentYear)
		confidence := composeConfidence(similarity, contextRelevance, quality, rec)

		suggestions = append(suggestions, buildSuggestion(best, confidence))
	}

	// Step 9: sort, tie-break, truncate.
	sort.SliceStable(suggestions, func(i, j int) bool {
		a, b := suggestions[i], suggestions[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		av, bv := scoreOrZero(a.Scores.Vector), scoreOrZero(b.Scores.Vector)
		if av != bv {
			return av > bv
		}
		ay, by := yearOrZero(a.Year), yearOrZero(b.Year)
		if ay != by {
			return ay > by
		}
		return a.Title < b.Title
	})

	if s.cfg.MaxSuggestions > 0 && len(suggestions) > s.cfg.MaxSuggestions {
		suggestions = suggestions[:s.cfg.MaxSuggestions]
	}

	return &model.SuggestionSet{Results: suggestions, Diagnostics: diag}, nil
}

// extractFocus implements spec §4.6 step 1: the focus sentence alone if it
// meets MinQueryChars after trimming, concatenated with up to one previous
// and one next sentence as loose context. Returns "" when too short
// (caller returns an empty suggestion set, not an error).
func extractFocus(qctx model.QueryContext, minChars int) string {
	trimmed := strings.TrimSpace(qctx.CurrentSentence)
	if len(trimmed) < minChars {
		return ""
	}
	parts := make([]string, 0, 3)
	if p := strings.TrimSpace(qctx.PreviousSentence); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, trimmed)
	if n := strings.TrimSpace(qctx.NextSentence); n != "" {
		parts = append(parts, n)
	}
	return strings.Join(parts, " ")
}

// mergeCandidates implements spec §4.6 step 4: min-max normalise each
// score list, fuse per chunk, sort fused desc with the stated tie-break.
// In non-hybrid mode the single active branch's normalised score becomes
// the ranking score directly.
func mergeCandidates(vec, bm25 []VectorCandidate, hybrid bool, wVec, wBM25 float64) []candidate {
	byID := make(map[string]*candidate)
	order := make([]string, 0, len(vec)+len(bm25))

	vecScores := make(map[string]float64, len(vec))
	for _, c := range vec {
		vecScores[c.Chunk.ID] = c.Similarity
	}
	bm25Scores := make(map[string]float64, len(bm25))
	for _, c := range bm25 {
		bm25Scores[c.Chunk.ID] = c.Similarity
	}

	vNorm := normalize(vecScores)
	bNorm := normalize(bm25Scores)

	upsert := func(c VectorCandidate) *candidate {
		if existing, ok := byID[c.Chunk.ID]; ok {
			return existing
		}
		cd := &candidate{chunk: c.Chunk, paper: c.Paper}
		byID[c.Chunk.ID] = cd
		order = append(order, c.Chunk.ID)
		return cd
	}

	for _, c := range vec {
		cd := upsert(c)
		s := c.Similarity
		cd.vecScore = &s
		cd.vNorm = vNorm[c.Chunk.ID]
	}
	for _, c := range bm25 {
		cd := upsert(c)
		s := c.Similarity
		cd.bm25Score = &s
		cd.bNorm = bNorm[c.Chunk.ID]
	}

	out := make([]candidate, 0, len(order))
	for _, id := range order {
		cd := byID[id]
		switch {
		case hybrid:
			cd.fused = fuse(cd.vNorm, cd.bNorm, wVec, wBM25)
		case cd.vecScore != nil:
			cd.fused = cd.vNorm
		default:
			cd.fused = cd.bNorm
		}
		cd.ranking = cd.fused
		out = append(out, *cd)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ranking != out[j].ranking {
			return out[i].ranking > out[j].ranking
		}
		iv, jv := scoreOrZeroPtr(out[i].vecScore), scoreOrZeroPtr(out[j].vecScore)
		if iv != jv {
			return iv > jv
		}
		if out[i].chunk.PaperID != out[j].chunk.PaperID {
			return out[i].chunk.PaperID < out[j].chunk.PaperID
		}
		return out[i].chunk.Ordinal < out[j].chunk.Ordinal
	})

	return out
}

// paperGroup is one paper's surviving chunks after step 7's aggregation,
// best-scoring first.
type paperGroup struct {
	paperID string
	parts   []candidate
}

// aggregateByPaper implements spec §4.6 step 7: group by paper, keep at
// most maxChunks best-scoring chunks per paper.
func aggregateByPaper(ranked []candidate, maxChunks int) []paperGroup {
	byPaper := make(map[string][]candidate)
	order := make([]string, 0)
	for _, c := range ranked {
		if _, ok := byPaper[c.chunk.PaperID]; !ok {
			order = append(order, c.chunk.PaperID)
		}
		byPaper[c.chunk.PaperID] = append(byPaper[c.chunk.PaperID], c)
	}

	groups := make([]paperGroup, 0, len(order))
	for _, pid := range order {
		parts := byPaper[pid]
		sort.SliceStable(parts, func(i, j int) bool { return parts[i].ranking > parts[j].ranking })
		if maxChunks > 0 && len(parts) > maxChunks {
			parts = parts[:maxChunks]
		}
		groups = append(groups, paperGroup{paperID: pid, parts: parts})
	}
	return groups
}

// buildSuggestion assembles a model.Suggestion for a paper's best chunk,
// including the (FirstAuthor et al., Year)-style display citation (spec
// §4.6 step 9).
func buildSuggestion(best candidate, confidence float64) model.Suggestion {
	ordinal := best.chunk.Ordinal
	authors := make([]string, len(best.paper.Authors))
	for i, a := range best.paper.Authors {
		authors[i] = a.FullName
	}

	return model.Suggestion{
		PaperID:       best.paper.ID,
		Title:         best.paper.Title,
		Authors:       authors,
		Year:          best.paper.Year,
		Confidence:    clamp01(confidence),
		CitationStyle: model.CitationInline,
		DisplayText:   displayText(best.paper),
		ChunkID:       best.chunk.ID,
		ChunkPreview:  previewWindow(best.chunk.Text),
		ChunkSection:  best.chunk.SectionLabel,
		ChunkOrdinal:  &ordinal,
		Scores: model.ScoreBreakdown{
			Vector:  best.vecScore,
			Lexical: best.bm25Score,
			Fused:   fusedScorePtr(best),
			Rerank:  rerankScorePtr(best),
		},
	}
}

// fusedScorePtr reports the step-4 fused score, kept as a side channel even
// when the final ranking was later replaced by rerank (spec §4.6 step 6).
func fusedScorePtr(c candidate) *float64 {
	if c.vecScore == nil && c.bm25Score == nil {
		return nil
	}
	v := c.fused
	return &v
}

func rerankScorePtr(c candidate) *float64 {
	if !c.rerankUsed {
		return nil
	}
	v := c.ranking
	return &v
}

func displayText(p model.Paper) string {
	year := "n.d."
	if p.Year != nil {
		year = fmt.Sprintf("%d", *p.Year)
	}
	switch {
	case len(p.Authors) >= 2:
		return fmt.Sprintf("(%s et al., %s)", p.FirstAuthorSurname(), year)
	case len(p.Authors) == 1:
		return fmt.Sprintf("(%s, %s)", p.FirstAuthorSurname(), year)
	default:
		prefix := p.ID
		if len(prefix) > 8 {
			prefix = prefix[:8]
		}
		return fmt.Sprintf("[%s]", prefix)
	}
}

// previewWindow trims a chunk's text to a display-friendly window.
func previewWindow(text string) string {
	const maxRunes = 280
	r := []rune(strings.TrimSpace(text))
	if len(r) <= maxRunes {
		return string(r)
	}
	return string(r[:maxRunes]) + "…"
}

func scoreOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func scoreOrZeroPtr(v *float64) float64 {
	return scoreOrZero(v)
}

func yearOrZero(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
