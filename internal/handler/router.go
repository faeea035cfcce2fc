// Package handler はHTTP APIのハンドラーとルーティングを提供する。
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/notekeeper/internal/auth"
	"github.com/hitoshi/notekeeper/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger              *slog.Logger
	Authenticator       middleware.PrincipalAuthenticator
	AuthFailureRecorder middleware.AuthFailureRecorder
	HTTPStatusRecorder  middleware.HTTPStatusRecorder
	CORSAllowedOrigin   string
	RateLimiter         *middleware.RateLimiter

	// ヘルスチェック
	HealthChecker HealthChecker

	// /metrics。nilの場合は公開しない。
	MetricsHandler http.Handler

	AppuserService AppuserServiceInterface
	NoteService    NoteServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS
//
// 認証が必要なルートではさらに RateLimit(Basic) → Auth → RequireRouteClass → RateLimit(General) を適用する。
// Basic資格情報の試行は/api/tokenと同じクライアントIP単位の枠で数える。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.HTTPStatusRecorder))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	appuserHandler := NewAppuserHandler(deps.AppuserService)
	noteHandler := NewNoteHandler(deps.NoteService)

	// --- 認証不要のルート ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Post("/api/appusers", appuserHandler.Register)
	r.With(deps.RateLimiter.LoginMiddleware()).Post("/api/token", appuserHandler.IssueToken)

	authenticate := middleware.NewAuthMiddleware(deps.Authenticator, deps.AuthFailureRecorder)
	limitBasic := deps.RateLimiter.BasicCredentialMiddleware()

	// --- 一般利用者のルート ---
	r.Group(func(r chi.Router) {
		r.Use(limitBasic)
		r.Use(authenticate)
		r.Use(middleware.RequireRouteClass(auth.RouteGeneral))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/appusers/me", func(r chi.Router) {
			r.Get("/", appuserHandler.GetMe)
			r.Put("/", appuserHandler.UpdateMe)
			r.Delete("/", appuserHandler.DeleteMe)
		})

		r.Route("/api/notes", func(r chi.Router) {
			r.Get("/", noteHandler.List)
			r.Post("/", noteHandler.Create)
			r.Get("/{id}", noteHandler.Get)
			r.Delete("/{id}", noteHandler.Delete)
		})
	})

	// --- 管理者のルート ---
	r.Group(func(r chi.Router) {
		r.Use(limitBasic)
		r.Use(authenticate)
		r.Use(middleware.RequireRouteClass(auth.RouteAdmin))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/appusers", appuserHandler.List)
	})

	return r
}
