package service

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestChunker_BasicChunking(t *testing.T) {
	svc := NewChunkerService(30, 10, 5, 60) // small target for testing

	var sentences []string
	for i := 0; i < 20; i++ {
		sentences = append(sentences, "This is a test sentence with enough words to contribute to the count.")
	}
	text := strings.Join(sentences, " ")

	chunks, err := svc.Chunk(context.Background(), text, "paper-1")
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}

	if len(chunks) < 2 {
		t.Errorf("expected at least 2 chunks, got %d", len(chunks))
	}

	for i, c := range chunks {
		if c.Text == "" {
			t.Errorf("chunk[%d] has empty text", i)
		}
		if c.TokenCount <= 0 {
			t.Errorf("chunk[%d] has token count %d", i, c.TokenCount)
		}
		if c.PaperID != "paper-1" {
			t.Errorf("chunk[%d] PaperID = %q, want %q", i, c.PaperID, "paper-1")
		}
		if c.Ordinal != i {
			t.Errorf("chunk[%d] Ordinal = %d, want %d", i, c.Ordinal, i)
		}
	}
}

func TestChunker_OverlapCarriesWholeSentences(t *testing.T) {
	svc := NewChunkerService(20, 8, 5, 60)

	var sentences []string
	for i := 0; i < 15; i++ {
		sentences = append(sentences, "Alpha beta gamma delta epsilon zeta eta theta iota kappa.")
	}
	text := strings.Join(sentences, " ")

	chunks, err := svc.Chunk(context.Background(), text, "paper-overlap")
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", len(chunks))
	}

	// chunk[1] should contain the trailing sentence of chunk[0] as overlap.
	words0 := strings.Fields(chunks[0].Text)
	lastSentenceTail := strings.Join(words0[len(words0)-3:], " ")
	if !strings.Contains(chunks[1].Text, lastSentenceTail) {
		t.Errorf("chunk[1] should contain overlap from chunk[0]'s tail, looking for %q in %q", lastSentenceTail, chunks[1].Text)
	}
}

func TestChunker_EmptyText(t *testing.T) {
	svc := NewChunkerService(250, 50, 30, 500)

	_, err := svc.Chunk(context.Background(), "", "paper-empty")
	if err == nil {
		t.Fatal("expected error for empty text")
	}
	if !errors.Is(err, ErrNoContent) {
		t.Errorf("expected ErrNoContent, got %v", err)
	}
}

func TestChunker_WhitespaceOnly(t *testing.T) {
	svc := NewChunkerService(250, 50, 30, 500)

	_, err := svc.Chunk(context.Background(), "   \n\n\t  \n  ", "paper-ws")
	if err == nil {
		t.Fatal("expected error for whitespace-only text")
	}
}

func TestChunker_SectionBoundaryForcesFlush(t *testing.T) {
	svc := NewChunkerService(250, 50, 30, 500)

	text := `# Introduction

This document covers transformer architectures for language modelling in depth.

## Related Work

Prior work on attention mechanisms established the foundation for this approach.`

	chunks, err := svc.Chunk(context.Background(), text, "paper-sections")
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected section boundary to force at least 2 chunks, got %d", len(chunks))
	}

	sections := map[string]bool{}
	for _, c := range chunks {
		if c.SectionLabel != "" {
			sections[c.SectionLabel] = true
		}
	}
	if len(sections) < 2 {
		t.Errorf("expected chunks to carry at least 2 distinct section labels, got %v", sections)
	}
}

func TestChunker_NoEmptyChunks(t *testing.T) {
	svc := NewChunkerService(30, 10, 5, 60)

	text := "First sentence here.\n\n\n\n\n\nSecond sentence stands alone.\n\n\n\n\n\nThird one too."
	chunks, err := svc.Chunk(context.Background(), text, "paper-gaps")
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	for i, c := range chunks {
		if strings.TrimSpace(c.Text) == "" {
			t.Errorf("chunk[%d] is empty after trim", i)
		}
	}
}

func TestChunker_SingleSentenceLongerThanTargetStaysWhole(t *testing.T) {
	svc := NewChunkerService(10, 3, 2, 20)

	text := "This single sentence intentionally contains far more than ten words so it must not be split mid-sentence by the packer."
	chunks, err := svc.Chunk(context.Background(), text, "paper-long-sentence")
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected the oversized sentence to become exactly one chunk, got %d", len(chunks))
	}
	if !strings.Contains(chunks[0].Text, "mid-sentence") {
		t.Error("expected the oversized sentence to remain intact, not split")
	}
}

func TestChunker_SingleShortInput(t *testing.T) {
	svc := NewChunkerService(250, 50, 30, 500)

	text := "A simple short sentence that fits in one chunk."
	chunks, err := svc.Chunk(context.Background(), text, "paper-single")
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	if len(chunks) != 1 {
		t.Errorf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Ordinal != 0 {
		t.Errorf("Ordinal = %d, want 0", chunks[0].Ordinal)
	}
}

func TestChunker_DefaultParameters(t *testing.T) {
	svc := NewChunkerService(0, -1, 0, -1)
	if svc.targetWords != 250 {
		t.Errorf("targetWords = %d, want 250 (default)", svc.targetWords)
	}
	if svc.overlapWords != 50 {
		t.Errorf("overlapWords = %d, want 50 (default)", svc.overlapWords)
	}
	if svc.minWords != 30 {
		t.Errorf("minWords = %d, want 30 (default)", svc.minWords)
	}
	if svc.maxWords != 500 {
		t.Errorf("maxWords = %d, want 500 (default, 2x target)", svc.maxWords)
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		min  int
		max  int
	}{
		{"", 0, 0},
		{"hello", 1, 3},
		{"one two three four five", 5, 10},
	}

	for _, tt := range tests {
		got := estimateTokens(tt.text)
		if got < tt.min || got > tt.max {
			t.Errorf("estimateTokens(%q) = %d, want [%d, %d]", tt.text, got, tt.min, tt.max)
		}
	}
}

func TestDetectSectionTitle(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"# Introduction", "Introduction"},
		{"## Related Work", "Related Work"},
		{"METHODS", "METHODS"},
		{"Normal paragraph with lowercase text.", ""},
		{"", ""},
	}

	for _, tt := range tests {
		got := detectSectionTitle(tt.input)
		if got != tt.want {
			t.Errorf("detectSectionTitle(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
