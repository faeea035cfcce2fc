package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/notekeeper/internal/model"
)

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) ErrorResponseBody {
	t.Helper()
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	return body
}

// TestWriteError_MapsDomainErrors はドメインエラーごとのステータスとボディを検証する。
func TestWriteError_MapsDomainErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unauthorized", model.NewUnauthorizedError(), http.StatusUnauthorized, model.ErrCodeUnauthorized},
		{"forbidden", model.NewForbiddenError(), http.StatusForbidden, model.ErrCodeForbidden},
		{"username taken", model.NewUsernameConflictError("alice"), http.StatusConflict, model.ErrCodeUsernameConflict},
		{"appuser gone", model.NewAppuserNotFoundError(), http.StatusNotFound, model.ErrCodeAppuserNotFound},
		{"wrapped note miss", fmt.Errorf("lookup: %w", model.NewNoteNotFoundError("n1")), http.StatusNotFound, model.ErrCodeNoteNotFound},
		{"validation", model.NewValidationError("title is required"), http.StatusBadRequest, model.ErrCodeValidation},
		{"rate limited", model.NewRateLimitedError(), http.StatusTooManyRequests, model.ErrCodeRateLimited},
		{"internal", model.NewInternalError(), http.StatusInternalServerError, model.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, httptest.NewRequest(http.MethodGet, "/api/notes", nil), tt.err)

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			body := decodeErrorBody(t, w)
			if body.Code != tt.code {
				t.Errorf("code = %q, want %q", body.Code, tt.code)
			}
			if body.Message == "" || body.Category == "" || body.Action == "" {
				t.Errorf("body has empty fields: %+v", body)
			}
		})
	}
}

func TestStatusForCode_UnknownIsInternal(t *testing.T) {
	if got := StatusForCode("SOMETHING_ELSE"); got != http.StatusInternalServerError {
		t.Errorf("StatusForCode() = %d, want 500", got)
	}
}

// 既知コード以外のエラー文字列はレスポンスに出さない。
func TestWriteError_PlainErrorHidesDetails(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/notes", nil)

	WriteError(w, r, errors.New("pq: password authentication failed for user \"notekeeper\""))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if got := w.Body.String(); strings.Contains(got, "pq:") {
		t.Errorf("response leaked internal error: %s", got)
	}
	if body := decodeErrorBody(t, w); body.Code != model.ErrCodeInternal {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInternal)
	}
}

func TestWriteErrorResponse_UsesGivenStatus(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewInternalError())

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}

	var raw map[string]any
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	for _, field := range []string{"code", "message", "category", "action"} {
		if _, ok := raw[field]; !ok {
			t.Errorf("missing field %q", field)
		}
	}
}
