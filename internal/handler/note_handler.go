package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/notekeeper/internal/model"
)

// NoteServiceInterface はメモハンドラーが必要とするサービスインターフェース。
type NoteServiceInterface interface {
	Create(ctx context.Context, p model.Principal, title, content string) (*model.Note, error)
	List(ctx context.Context, p model.Principal) ([]*model.Note, error)
	Get(ctx context.Context, p model.Principal, id string) (*model.Note, error)
	Delete(ctx context.Context, p model.Principal, id string) error
}

// NoteHandler はメモ管理のHTTPハンドラー。
type NoteHandler struct {
	service NoteServiceInterface
}

// NewNoteHandler はNoteHandlerを生成する。
func NewNoteHandler(service NoteServiceInterface) *NoteHandler {
	return &NoteHandler{service: service}
}

type createNoteRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type noteResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toNoteResponse(n *model.Note) noteResponse {
	return noteResponse{
		ID:        n.ID,
		Title:     n.Title,
		Content:   n.Content,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}

// Create はメモを作成する。
// POST /api/notes
func (h *NoteHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req createNoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	n, err := h.service.Create(r.Context(), p, req.Title, req.Content)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/notes/"+n.ID)
	writeJSON(w, http.StatusCreated, toNoteResponse(n))
}

// List は本人のメモ一覧を返す。
// GET /api/notes
func (h *NoteHandler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}

	notes, err := h.service.List(r.Context(), p)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]noteResponse, len(notes))
	for i, n := range notes {
		resp[i] = toNoteResponse(n)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get はメモを1件返す。
// GET /api/notes/{id}
func (h *NoteHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}

	n, err := h.service.Get(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toNoteResponse(n))
}

// Delete はメモを削除する。
// DELETE /api/notes/{id}
func (h *NoteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), p, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
