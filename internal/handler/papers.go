package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/go-chi/chi/v5"

	"github.com/prof-schacht/academic-citation-assistant-sub000/internal/model"
)

// PaperStore is the persistence surface the paper handlers need.
type PaperStore interface {
	Create(ctx context.Context, p *model.Paper) error
	GetByID(ctx context.Context, id, ownerID string) (*model.Paper, error)
	ListByOwner(ctx context.Context, ownerID string) ([]model.Paper, error)
	Delete(ctx context.Context, id, ownerID string) error
}

// PaperIngester runs the write path (spec §4.1-§4.3) for one paper once its
// text has been extracted (extraction itself is out of core scope — spec
// §4.1 Non-goals).
type PaperIngester interface {
	Ingest(ctx context.Context, paper model.Paper, text string) error
}

// PaperDeps bundles the paper handlers' dependencies.
type PaperDeps struct {
	Store    PaperStore
	Ingester PaperIngester
}

type createPaperRequest struct {
	Title   string         `json:"title"`
	Authors []model.Author `json:"authors"`
	Year    *int           `json:"year,omitempty"`
	Venue   string         `json:"venue,omitempty"`
	DOI     string         `json:"doi,omitempty"`
	ArXiv   string         `json:"arxivId,omitempty"`
	Text    string         `json:"text"`
}

func ownerIDFromRequest(r *http.Request) string {
	if id := r.Header.Get("X-Owner-Id"); id != "" {
		return id
	}
	return r.URL.Query().Get("owner_id")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// CreatePaper handles POST /api/papers: registers a paper and kicks off
// ingestion of its extracted text (spec §2 write path, §4.1-§4.3). Text
// extraction itself happens upstream of this call.
func CreatePaper(deps PaperDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := ownerIDFromRequest(r)
		if ownerID == "" {
			writeErr(w, http.StatusBadRequest, "owner id is required")
			return
		}

		var req createPaperRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Title == "" {
			writeErr(w, http.StatusBadRequest, "title is required")
			return
		}

		paper := model.Paper{
			ID:      uuid.NewString(),
			OwnerID: ownerID,
			Title:   req.Title,
			Authors: req.Authors,
			Year:    req.Year,
			Venue:   req.Venue,
			ExternalIDs: model.ExternalIDs{
				DOI:   req.DOI,
				ArXiv: req.ArXiv,
			},
			Status: model.StatusPending,
		}

		if err := deps.Store.Create(r.Context(), &paper); err != nil {
			writeErr(w, http.StatusInternalServerError, "failed to create paper")
			return
		}

		go func() {
			if err := deps.Ingester.Ingest(context.Background(), paper, req.Text); err != nil {
				return // the ingestion pipeline has already recorded the failure reason
			}
		}()

		writeJSON(w, http.StatusAccepted, paper)
	}
}

// ListPapers handles GET /api/papers.
func ListPapers(deps PaperDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := ownerIDFromRequest(r)
		if ownerID == "" {
			writeErr(w, http.StatusBadRequest, "owner id is required")
			return
		}
		papers, err := deps.Store.ListByOwner(r.Context(), ownerID)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, "failed to list papers")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"papers": papers})
	}
}

// GetPaper handles GET /api/papers/{id}.
func GetPaper(deps PaperDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := ownerIDFromRequest(r)
		id := chi.URLParam(r, "id")
		paper, err := deps.Store.GetByID(r.Context(), id, ownerID)
		if err != nil {
			writeErr(w, http.StatusNotFound, "paper not found")
			return
		}
		writeJSON(w, http.StatusOK, paper)
	}
}

// DeletePaper handles DELETE /api/papers/{id}; the papers table's cascade
// delete removes its chunks (spec §3).
func DeletePaper(deps PaperDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := ownerIDFromRequest(r)
		id := chi.URLParam(r, "id")
		if err := deps.Store.Delete(r.Context(), id, ownerID); err != nil {
			writeErr(w, http.StatusInternalServerError, "failed to delete paper")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
