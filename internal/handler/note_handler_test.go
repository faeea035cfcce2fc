package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/notekeeper/internal/model"
)

type mockNoteService struct {
	createFn func(ctx context.Context, p model.Principal, title, content string) (*model.Note, error)
	listFn   func(ctx context.Context, p model.Principal) ([]*model.Note, error)
	getFn    func(ctx context.Context, p model.Principal, id string) (*model.Note, error)
	deleteFn func(ctx context.Context, p model.Principal, id string) error
}

func (m *mockNoteService) Create(ctx context.Context, p model.Principal, title, content string) (*model.Note, error) {
	return m.createFn(ctx, p, title, content)
}

func (m *mockNoteService) List(ctx context.Context, p model.Principal) ([]*model.Note, error) {
	return m.listFn(ctx, p)
}

func (m *mockNoteService) Get(ctx context.Context, p model.Principal, id string) (*model.Note, error) {
	return m.getFn(ctx, p, id)
}

func (m *mockNoteService) Delete(ctx context.Context, p model.Principal, id string) error {
	return m.deleteFn(ctx, p, id)
}

// withURLParam はchiのURLパラメータをリクエストに設定する。
func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func sampleNote(id string) *model.Note {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &model.Note{
		ID:        id,
		OwnerID:   testPrincipal.ID,
		Title:     "買い物",
		Content:   "<p>牛乳</p>",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestNoteHandler_Create(t *testing.T) {
	svc := &mockNoteService{
		createFn: func(ctx context.Context, p model.Principal, title, content string) (*model.Note, error) {
			if p.ID != testPrincipal.ID || title != "買い物" {
				t.Errorf("Create(%q, %q) unexpected arguments", p.ID, title)
			}
			return sampleNote("note-1"), nil
		},
	}
	h := NewNoteHandler(svc)

	body := `{"title":"買い物","content":"<p>牛乳</p>"}`
	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/api/notes", strings.NewReader(body)), testPrincipal)
	w := httptest.NewRecorder()
	h.Create(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if got := w.Header().Get("Location"); got != "/api/notes/note-1" {
		t.Errorf("Location = %q", got)
	}
}

func TestNoteHandler_Create_Validation(t *testing.T) {
	svc := &mockNoteService{
		createFn: func(ctx context.Context, p model.Principal, title, content string) (*model.Note, error) {
			return nil, model.NewValidationError("タイトルは必須です")
		},
	}
	h := NewNoteHandler(svc)

	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/api/notes", strings.NewReader(`{"title":""}`)), testPrincipal)
	w := httptest.NewRecorder()
	h.Create(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestNoteHandler_List_EmptyIsArray(t *testing.T) {
	svc := &mockNoteService{
		listFn: func(ctx context.Context, p model.Principal) ([]*model.Note, error) {
			return nil, nil
		},
	}
	h := NewNoteHandler(svc)

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/api/notes", nil), testPrincipal)
	w := httptest.NewRecorder()
	h.List(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}

func TestNoteHandler_Get(t *testing.T) {
	svc := &mockNoteService{
		getFn: func(ctx context.Context, p model.Principal, id string) (*model.Note, error) {
			if id != "note-1" {
				return nil, model.NewNoteNotFoundError(id)
			}
			return sampleNote(id), nil
		},
	}
	h := NewNoteHandler(svc)

	t.Run("found", func(t *testing.T) {
		req := withURLParam(withPrincipal(httptest.NewRequest(http.MethodGet, "/api/notes/note-1", nil), testPrincipal), "id", "note-1")
		w := httptest.NewRecorder()
		h.Get(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		var resp noteResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.ID != "note-1" || resp.Title != "買い物" {
			t.Errorf("response = %+v", resp)
		}
	})

	t.Run("missing", func(t *testing.T) {
		req := withURLParam(withPrincipal(httptest.NewRequest(http.MethodGet, "/api/notes/other", nil), testPrincipal), "id", "other")
		w := httptest.NewRecorder()
		h.Get(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

func TestNoteHandler_Delete(t *testing.T) {
	var deleted string
	svc := &mockNoteService{
		deleteFn: func(ctx context.Context, p model.Principal, id string) error {
			deleted = id
			return nil
		},
	}
	h := NewNoteHandler(svc)

	req := withURLParam(withPrincipal(httptest.NewRequest(http.MethodDelete, "/api/notes/note-1", nil), testPrincipal), "id", "note-1")
	w := httptest.NewRecorder()
	h.Delete(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if deleted != "note-1" {
		t.Errorf("deleted = %q", deleted)
	}
}

func TestNoteHandler_WithoutPrincipal(t *testing.T) {
	h := NewNoteHandler(&mockNoteService{})

	req := httptest.NewRequest(http.MethodGet, "/api/notes", nil)
	w := httptest.NewRecorder()
	h.List(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}
