package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/prof-schacht/academic-citation-assistant-sub000/internal/model"
)

type fakePaperStore struct {
	created []model.Paper
	papers  map[string]model.Paper
}

func newFakePaperStore() *fakePaperStore {
	return &fakePaperStore{papers: make(map[string]model.Paper)}
}

func (f *fakePaperStore) Create(ctx context.Context, p *model.Paper) error {
	f.created = append(f.created, *p)
	f.papers[p.ID] = *p
	return nil
}

func (f *fakePaperStore) GetByID(ctx context.Context, id, ownerID string) (*model.Paper, error) {
	p, ok := f.papers[id]
	if !ok || p.OwnerID != ownerID {
		return nil, errNotFound
	}
	return &p, nil
}

func (f *fakePaperStore) ListByOwner(ctx context.Context, ownerID string) ([]model.Paper, error) {
	var out []model.Paper
	for _, p := range f.papers {
		if p.OwnerID == ownerID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePaperStore) Delete(ctx context.Context, id, ownerID string) error {
	delete(f.papers, id)
	return nil
}

type errString string

func (e errString) Error() string { return string(e) }

const errNotFound = errString("not found")

type fakeIngester struct {
	calls int
}

func (f *fakeIngester) Ingest(ctx context.Context, paper model.Paper, text string) error {
	f.calls++
	return nil
}

func TestCreatePaper_RequiresOwnerAndTitle(t *testing.T) {
	deps := PaperDeps{Store: newFakePaperStore(), Ingester: &fakeIngester{}}
	handler := CreatePaper(deps)

	req := httptest.NewRequest(http.MethodPost, "/api/papers", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (missing owner)", rec.Code)
	}
}

func TestCreatePaper_Success(t *testing.T) {
	store := newFakePaperStore()
	deps := PaperDeps{Store: store, Ingester: &fakeIngester{}}
	handler := CreatePaper(deps)

	body := `{"title":"Attention Is All You Need","text":"the transformer architecture."}`
	req := httptest.NewRequest(http.MethodPost, "/api/papers?owner_id=u1", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", rec.Code, rec.Body.String())
	}
	var p model.Paper
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Title != "Attention Is All You Need" || p.OwnerID != "u1" {
		t.Errorf("paper = %+v", p)
	}
	if len(store.created) != 1 {
		t.Errorf("expected paper persisted, got %d", len(store.created))
	}
}

func TestGetPaper_NotFound(t *testing.T) {
	store := newFakePaperStore()
	deps := PaperDeps{Store: store}
	r := chi.NewRouter()
	r.Get("/api/papers/{id}", GetPaper(deps))

	req := httptest.NewRequest(http.MethodGet, "/api/papers/missing?owner_id=u1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListPapers_ScopedToOwner(t *testing.T) {
	store := newFakePaperStore()
	store.papers["p1"] = model.Paper{ID: "p1", OwnerID: "u1", Title: "A"}
	store.papers["p2"] = model.Paper{ID: "p2", OwnerID: "u2", Title: "B"}
	deps := PaperDeps{Store: store}

	req := httptest.NewRequest(http.MethodGet, "/api/papers?owner_id=u1", nil)
	rec := httptest.NewRecorder()
	ListPapers(deps).ServeHTTP(rec, req)

	var resp struct {
		Papers []model.Paper `json:"papers"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Papers) != 1 || resp.Papers[0].ID != "p1" {
		t.Errorf("papers = %+v", resp.Papers)
	}
}
