package service

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ChunkTextProvider supplies the chunk corpus to (re)fit against, scoped to
// an owner. Implemented by the chunk repository.
type ChunkTextProvider interface {
	ChunkTextsByOwner(ctx context.Context, ownerID string) (map[string]string, error)
}

// ownerIndex holds one owner's BM25 snapshot plus the generation it was
// built for. A fit for a stale generation is discarded on completion
// rather than published (spec §4.4).
type ownerIndex struct {
	mu         sync.RWMutex
	model      *bm25Model // nil until first successful fit
	generation int64      // generation this model was fit for
	fitting    bool
	degraded   bool
}

// LexicalIndex maintains one BM25 model per owner, lazily (re)fit on first
// query after an invalidating event (paper added/removed/reprocessed).
// Fitting runs on the shared worker pool and is capped at maxDocs chunks,
// bounded by fitTimeout; a timed-out fit marks the owner's index degraded
// and TopK reports no result so callers fall back to vector-only.
type LexicalIndex struct {
	mu      sync.Mutex
	owners  map[string]*ownerIndex
	current map[string]int64 // owner -> current generation (bumped by Invalidate)

	chunks     ChunkTextProvider
	pool       *WorkerPool
	maxDocs    int
	fitTimeout time.Duration
}

// NewLexicalIndex creates a LexicalIndex. pool dispatches fit work; a nil
// pool runs fits inline (acceptable for tests).
func NewLexicalIndex(chunks ChunkTextProvider, pool *WorkerPool, maxDocs int, fitTimeout time.Duration) *LexicalIndex {
	if maxDocs <= 0 {
		maxDocs = 10000
	}
	if fitTimeout <= 0 {
		fitTimeout = 15 * time.Second
	}
	return &LexicalIndex{
		owners:     make(map[string]*ownerIndex),
		current:    make(map[string]int64),
		chunks:     chunks,
		pool:       pool,
		maxDocs:    maxDocs,
		fitTimeout: fitTimeout,
	}
}

// Invalidate bumps an owner's generation counter, marking any in-flight or
// cached model for that owner stale. Called on paper add/remove/reprocess.
func (idx *LexicalIndex) Invalidate(ownerID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.current[ownerID]++
}

func (idx *LexicalIndex) generation(ownerID string) int64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.current[ownerID]
}

func (idx *LexicalIndex) ownerState(ownerID string) *ownerIndex {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	oi, ok := idx.owners[ownerID]
	if !ok {
		oi = &ownerIndex{}
		idx.owners[ownerID] = oi
	}
	return oi
}

// TopK returns the topK BM25 matches for query within ownerID's corpus.
// Triggers a lazy (re)fit if the cached model is missing or stale; while a
// fit is in flight, reads the prior snapshot. A nil pool runs the fit inline,
// so its result is already visible to this same call. Returns (nil, false)
// if no usable snapshot exists (no fit has finished yet, the owner's index is
// degraded because its latest fit attempt failed or timed out, or the owner
// has no chunks) — the Retrieval Pipeline then falls back to vector-only for
// this query (spec §4.4, §5).
func (idx *LexicalIndex) TopK(ctx context.Context, ownerID string, query string, k int) ([]lexicalHit, bool) {
	oi := idx.ownerState(ownerID)
	wantGen := idx.generation(ownerID)

	oi.mu.RLock()
	model := oi.model
	curGen := oi.generation
	fitting := oi.fitting
	oi.mu.RUnlock()

	if model == nil || curGen != wantGen {
		if !fitting {
			idx.triggerFit(ownerID, wantGen, oi)
		}
	}

	oi.mu.RLock()
	model = oi.model
	degraded := oi.degraded
	oi.mu.RUnlock()

	if model == nil || degraded || model.docCount == 0 {
		return nil, false
	}
	return model.topK(query, k), true
}

// triggerFit schedules a (re)fit for ownerID at generation targetGen,
// dispatched through the worker pool so it never blocks the session loop
// calling TopK.
func (idx *LexicalIndex) triggerFit(ownerID string, targetGen int64, oi *ownerIndex) {
	oi.mu.Lock()
	if oi.fitting {
		oi.mu.Unlock()
		return
	}
	oi.fitting = true
	oi.mu.Unlock()

	run := func() {
		defer func() {
			oi.mu.Lock()
			oi.fitting = false
			oi.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), idx.fitTimeout)
		defer cancel()

		docs, err := idx.chunks.ChunkTextsByOwner(ctx, ownerID)
		if err != nil {
			slog.Warn("lexical index fit failed to load chunks", "owner", ownerID, "err", err)
			oi.mu.Lock()
			oi.degraded = true
			oi.mu.Unlock()
			return
		}

		done := make(chan *bm25Model, 1)
		go func() { done <- fitBM25(docs, idx.maxDocs) }()

		select {
		case m := <-done:
			if idx.generation(ownerID) != targetGen {
				// A newer invalidation arrived while fitting; discard.
				return
			}
			oi.mu.Lock()
			oi.model = m
			oi.generation = targetGen
			oi.degraded = false
			oi.mu.Unlock()
		case <-ctx.Done():
			slog.Warn("lexical index fit timed out, marking degraded", "owner", ownerID)
			oi.mu.Lock()
			oi.degraded = true
			oi.mu.Unlock()
		}
	}

	if idx.pool != nil {
		idx.pool.Submit(run)
	} else {
		run()
	}
}

// Degraded reports whether ownerID's index is currently in a degraded
// state (most recent fit attempt timed out or failed).
func (idx *LexicalIndex) Degraded(ownerID string) bool {
	oi := idx.ownerState(ownerID)
	oi.mu.RLock()
	defer oi.mu.RUnlock()
	return oi.degraded
}
