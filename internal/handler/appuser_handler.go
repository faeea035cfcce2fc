package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/notekeeper/internal/appuser"
	"github.com/hitoshi/notekeeper/internal/middleware"
	"github.com/hitoshi/notekeeper/internal/model"
)

// AppuserServiceInterface はアカウントハンドラーが必要とするサービスインターフェース。
type AppuserServiceInterface interface {
	Register(ctx context.Context, username, password string) (*model.Appuser, error)
	Login(ctx context.Context, username, password string) (*appuser.Token, error)
	Get(ctx context.Context, p model.Principal) (*model.Appuser, error)
	Update(ctx context.Context, p model.Principal, in appuser.UpdateInput) (*model.Appuser, error)
	Delete(ctx context.Context, p model.Principal) error
	List(ctx context.Context, p model.Principal, page, size int) (*appuser.Page, error)
}

// AppuserHandler はアカウント管理のHTTPハンドラー。
type AppuserHandler struct {
	service AppuserServiceInterface
}

// NewAppuserHandler はAppuserHandlerを生成する。
func NewAppuserHandler(service AppuserServiceInterface) *AppuserHandler {
	return &AppuserHandler{service: service}
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type updateAppuserRequest struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
}

// appuserResponse はアカウント情報のAPIレスポンス。パスワードハッシュは含めない。
type appuserResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Scopes    []string  `json:"scopes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

type appuserListResponse struct {
	Items []appuserResponse `json:"items"`
	Page  int               `json:"page"`
	Size  int               `json:"size"`
	Total int               `json:"total"`
}

func toAppuserResponse(a *model.Appuser) appuserResponse {
	return appuserResponse{
		ID:        a.ID,
		Username:  a.Username,
		Scopes:    a.Scopes.Strings(),
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

// Register は利用者登録を処理する。
// POST /api/appusers
func (h *AppuserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	created, err := h.service.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/appusers/me")
	writeJSON(w, http.StatusCreated, toAppuserResponse(created))
}

// IssueToken はBasic認証の資格情報を検証してトークンを発行する。
// POST /api/token
func (h *AppuserHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	username, password, ok := r.BasicAuth()
	if !ok {
		w.Header().Set("WWW-Authenticate", `Basic realm="notekeeper"`)
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	token, err := h.service.Login(r.Context(), username, password)
	if err != nil {
		if model.HasCode(err, model.ErrCodeUnauthorized) {
			w.Header().Set("WWW-Authenticate", `Basic realm="notekeeper"`)
		}
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token.Value,
		TokenType: "Bearer",
		ExpiresAt: token.ExpiresAt,
	})
}

// GetMe は本人のアカウント情報を返す。
// GET /api/appusers/me
func (h *AppuserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}

	a, err := h.service.Get(r.Context(), p)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppuserResponse(a))
}

// UpdateMe は本人のusernameまたはパスワードを更新する。
// PUT /api/appusers/me
func (h *AppuserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req updateAppuserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	a, err := h.service.Update(r.Context(), p, appuser.UpdateInput{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppuserResponse(a))
}

// DeleteMe は本人のアカウントを削除する。所有メモは非同期に削除される。
// DELETE /api/appusers/me
func (h *AppuserHandler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), p); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// List は利用者一覧を返す。
// GET /api/appusers?page=&size=
func (h *AppuserHandler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}

	page, err := queryInt(r, "page")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	size, err := queryInt(r, "size")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	result, err := h.service.List(r.Context(), p, page, size)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	items := make([]appuserResponse, len(result.Items))
	for i, a := range result.Items {
		items[i] = toAppuserResponse(a)
	}
	writeJSON(w, http.StatusOK, appuserListResponse{
		Items: items,
		Page:  result.Page,
		Size:  result.Size,
		Total: result.Total,
	})
}

// queryInt はクエリパラメータを整数として読み取る。未指定の場合は0を返す。
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, model.NewValidationError(name + "は整数で指定してください")
	}
	return v, nil
}
