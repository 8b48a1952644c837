package service

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/prof-schacht/academic-citation-assistant-sub000/internal/model"
)

// Chunker splits an extracted paper's text into an ordered sequence of
// chunks. Implemented by ChunkerService.
type Chunker interface {
	Chunk(ctx context.Context, text string, paperID string) ([]model.Chunk, error)
}

// ChunkerService implements sentence-aware sliding-window chunking (spec
// §4.1): sentences are packed greedily into chunks of targetWords words with
// overlapWords carried from the tail of chunk i into the head of chunk i+1,
// computed at sentence granularity. Section boundaries force a flush and
// reset overlap so no chunk straddles two sections.
type ChunkerService struct {
	targetWords  int
	overlapWords int
	minWords     int
	maxWords     int
}

// NewChunkerService creates a ChunkerService with sensible default knobs
// (W=250, O=50, MIN=30, MAX=2W) unless overridden.
func NewChunkerService(targetWords, overlapWords, minWords, maxWords int) *ChunkerService {
	if targetWords <= 0 {
		targetWords = 250
	}
	if overlapWords <= 0 {
		overlapWords = 50
	}
	if minWords <= 0 {
		minWords = 30
	}
	if maxWords <= 0 {
		maxWords = 2 * targetWords
	}
	return &ChunkerService{
		targetWords:  targetWords,
		overlapWords: overlapWords,
		minWords:     minWords,
		maxWords:     maxWords,
	}
}

// sentence is one segmented unit carrying its section label and page (a
// counter advanced by form feeds in the input). Chunk copies the first
// sentence's section label onto each chunk; it does not set the chunk's
// page span.
type sentence struct {
	text         string
	words        int
	sectionLabel string
	page         int
	isBoundary   bool // true if this sentence starts a new section
}

// Chunk splits text into sentence-aligned, overlapping chunks.
// Implements the Chunker interface used by the ingestion pipeline.
func (s *ChunkerService) Chunk(ctx context.Context, text string, paperID string) ([]model.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("service.Chunk: empty input: %w", ErrNoContent)
	}

	sentences := segmentIntoSentences(text)
	if len(sentences) == 0 {
		return nil, fmt.Errorf("service.Chunk: no content after segmentation: %w", ErrNoContent)
	}

	groups := s.packIntoGroups(sentences)
	groups = s.mergeShortTrailingGroup(groups)

	chunks := make([]model.Chunk, 0, len(groups))
	for i, g := range groups {
		content := strings.TrimSpace(joinSentences(g))
		if content == "" {
			continue
		}
		wc := wordCount(content)
		chunks = append(chunks, model.Chunk{
			PaperID:      paperID,
			Ordinal:      i,
			Text:         content,
			SectionLabel: g[0].sectionLabel,
			WordCount:    wc,
			TokenCount:   estimateTokens(content),
		})
	}

	for i := range chunks {
		chunks[i].Ordinal = i
	}

	return chunks, nil
}

// packIntoGroups greedily packs sentences into groups of ~targetWords words,
// flushing on section boundaries and carrying a sentence-granular overlap
// from the tail of one group into the head of the next.
func (s *ChunkerService) packIntoGroups(sentences []sentence) [][]sentence {
	var groups [][]sentence
	var current []sentence
	currentWords := 0

	flush := func() {
		if len(current) > 0 {
			groups = append(groups, current)
		}
	}

	for i, sent := range sentences {
		if sent.isBoundary && i > 0 {
			flush()
			current = nil
			currentWords = 0
		}

		// A single sentence longer than targetWords becomes its own chunk,
		// without splitting (spec §4.1 edge case).
		if sent.words > s.targetWords {
			flush()
			groups = append(groups, []sentence{sent})
			current = nil
			currentWords = 0
			continue
		}

		if currentWords > 0 && currentWords+sent.words > s.targetWords {
			flush()
			current = s.carryOverlap(current)
			currentWords = sumWords(current)
		}

		current = append(current, sent)
		currentWords += sent.words
	}
	flush()

	return groups
}

// carryOverlap returns the shortest run of trailing sentences of a
// just-flushed group whose combined word count reaches overlapWords (the
// whole group if it has fewer words), to seed the next group. Overlap is computed at sentence
// granularity, never mid-sentence.
func (s *ChunkerService) carryOverlap(group []sentence) []sentence {
	if s.overlapWords <= 0 || len(group) == 0 {
		return nil
	}
	var tail []sentence
	total := 0
	for i := len(group) - 1; i >= 0; i-- {
		if total >= s.overlapWords {
			break
		}
		tail = append([]sentence{group[i]}, tail...)
		total += group[i].words
	}
	return tail
}

// mergeShortTrailingGroup merges a final group shorter than minWords into
// the preceding one, unless that would exceed maxWords, in which case it
// stands alone (spec §4.1 edge case).
func (s *ChunkerService) mergeShortTrailingGroup(groups [][]sentence) [][]sentence {
	if len(groups) < 2 {
		return groups
	}
	last := groups[len(groups)-1]
	if sumWords(last) >= s.minWords {
		return groups
	}
	prev := groups[len(groups)-2]
	if sumWords(prev)+sumWords(last) > s.maxWords {
		return groups
	}
	merged := append(append([]sentence{}, prev...), last...)
	out := append([][]sentence{}, groups[:len(groups)-2]...)
	out = append(out, merged)
	return out
}

func joinSentences(group []sentence) string {
	parts := make([]string, len(group))
	for i, s := range group {
		parts[i] = s.text
	}
	return strings.Join(parts, " ")
}

func sumWords(group []sentence) int {
	total := 0
	for _, s := range group {
		total += s.words
	}
	return total
}

// segmentIntoSentences splits paper text into sentences, detecting section
// boundaries (markdown-style headers, or short ALL-CAPS lines — a common
// PDF-extraction heading artifact) along the way.
func segmentIntoSentences(text string) []sentence {
	blocks := strings.Split(text, "\n\n")
	var sentences []sentence
	currentSection := ""
	page := 1

	for bi, raw := range blocks {
		block := strings.TrimSpace(raw)
		if block == "" {
			continue
		}
		if strings.Contains(block, "\f") {
			page++
		}
		if title := detectSectionTitle(block); title != "" {
			currentSection = title
			sentences = append(sentences, sentence{
				text:         title,
				words:        wordCount(title),
				sectionLabel: currentSection,
				page:         page,
				isBoundary:   true,
			})
			continue
		}

		for si, sraw := range splitSentenceBoundaries(block) {
			st := strings.TrimSpace(sraw)
			if st == "" {
				continue
			}
			sentences = append(sentences, sentence{
				text:         st,
				words:        wordCount(st),
				sectionLabel: currentSection,
				page:         page,
				isBoundary:   bi == 0 && si == 0 && currentSection == "" && len(sentences) == 0,
			})
		}
	}
	return sentences
}

// detectSectionTitle recognises markdown headers ("# Title") and short
// all-caps lines (a frequent PDF-extraction heading artifact) as section
// boundaries.
func detectSectionTitle(block string) string {
	trimmed := strings.TrimSpace(block)
	if strings.HasPrefix(trimmed, "#") {
		title := strings.TrimLeft(trimmed, "# ")
		if title != "" {
			return title
		}
	}
	if len(trimmed) > 0 && len(trimmed) <= 60 && !strings.Contains(trimmed, ".") {
		letters := 0
		upper := 0
		for _, r := range trimmed {
			if unicode.IsLetter(r) {
				letters++
				if unicode.IsUpper(r) {
					upper++
				}
			}
		}
		if letters > 2 && upper == letters {
			return trimmed
		}
	}
	return ""
}

// splitSentenceBoundaries splits a block into sentences on ".", "!", "?"
// followed by whitespace and an uppercase letter, preserving common
// abbreviations (single-letter-initial or "et al." style periods do not
// terminate a sentence because the following token is not capitalised-word
// starting a new clause in the common case — a conservative, non-ML
// approximation matching what a systems-language rewrite can do without an
// NLP dependency).
func splitSentenceBoundaries(text string) []string {
	var sentences []string
	var current strings.Builder
	runes := []rune(text)

	for i := 0; i < len(runes); i++ {
		current.WriteRune(runes[i])
		if (runes[i] == '.' || runes[i] == '!' || runes[i] == '?') &&
			i+2 < len(runes) && runes[i+1] == ' ' && unicode.IsUpper(runes[i+2]) {
			sentences = append(sentences, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	if rest := strings.TrimSpace(current.String()); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}

// estimateTokens approximates token count as words * 1.3, rounded to the
// nearest integer.
func estimateTokens(text string) int {
	words := wordCount(text)
	if words == 0 {
		return 0
	}
	return int(float64(words)*1.3 + 0.5)
}

