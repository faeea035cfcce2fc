// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/notekeeper/internal/auth"
	"github.com/hitoshi/notekeeper/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey はリクエストコンテキストにPrincipalを格納するためのキー。
var principalContextKey = contextKey("principal")

// PrincipalAuthenticator は提示された資格情報をPrincipalに解決する。
type PrincipalAuthenticator interface {
	Authenticate(ctx context.Context, p auth.Presentation) (model.Principal, error)
}

// AuthFailureRecorder は認証失敗を記録する。
type AuthFailureRecorder interface {
	RecordAuthFailure(kind string)
}

// PresentationFromRequest はAuthorizationヘッダーからPresentationを組み立てる。
// BasicとBearerのみを受け付け、ヘッダーがない場合や形式が不正な場合はfalseを返す。
func PresentationFromRequest(r *http.Request) (auth.Presentation, bool) {
	if username, password, ok := r.BasicAuth(); ok {
		return auth.BasicPresentation(username, password), true
	}

	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return auth.Presentation{}, false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return auth.Presentation{}, false
	}
	return auth.BearerPresentation(token), true
}

// NewAuthMiddleware はAuthorizationヘッダーを検証し、
// 解決したPrincipalをリクエストコンテキストに注入するミドルウェアを返す。
// 資格情報がない場合や検証に失敗した場合は401 Unauthorizedを返す。
func NewAuthMiddleware(authenticator PrincipalAuthenticator, recorder AuthFailureRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presentation, ok := PresentationFromRequest(r)
			if !ok {
				recordAuthFailure(recorder, "missing")
				writeUnauthorized(w)
				return
			}

			principal, err := authenticator.Authenticate(r.Context(), presentation)
			if err != nil {
				if model.HasCode(err, model.ErrCodeUnauthorized) {
					recordAuthFailure(recorder, strings.ToLower(presentation.Kind.String()))
					writeUnauthorized(w)
					return
				}
				WriteError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireRouteClass はPrincipalが経路種別の必要スコープを持つことを確認するミドルウェアを返す。
// NewAuthMiddlewareの後に配置する。スコープが不足する場合は403 Forbiddenを返す。
func RequireRouteClass(class auth.RouteClass) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeUnauthorized(w)
				return
			}
			if err := auth.Check(principal, class); err != nil {
				slog.Warn("スコープが不足しています",
					slog.String("appuser_id", principal.ID),
					slog.String("scopes", principal.Scopes.String()),
					slog.String("path", r.URL.Path),
				)
				WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PrincipalFromContext はリクエストコンテキストからPrincipalを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func PrincipalFromContext(ctx context.Context) (model.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(model.Principal)
	if !ok || p.ID == "" {
		return model.Principal{}, false
	}
	return p, true
}

// ContextWithPrincipal はコンテキストにPrincipalを注入する。
func ContextWithPrincipal(ctx context.Context, p model.Principal) context.Context {
	if h, ok := ctx.Value(holderContextKey).(*principalHolder); ok {
		h.id = p.ID
	}
	return context.WithValue(ctx, principalContextKey, p)
}

// holderContextKey は外側のミドルウェアへ認証結果を伝えるためのキー。
var holderContextKey = contextKey("principal_holder")

type principalHolder struct {
	id string
}

func contextWithHolder(ctx context.Context, h *principalHolder) context.Context {
	return context.WithValue(ctx, holderContextKey, h)
}

func recordAuthFailure(recorder AuthFailureRecorder, kind string) {
	if recorder != nil {
		recorder.RecordAuthFailure(kind)
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="notekeeper", Bearer`)
	WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
}
