package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/ssolink/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder  middleware.SessionFinder
	RateLimiter    *middleware.RateLimiter
	StatusRecorder middleware.HTTPStatusRecorder // nilの場合は記録しない
	Logger         *slog.Logger // nilの場合はリクエストログを出力しない

	// SSO
	SSOHandler *SSOHandler

	// セッション。AuthConfig.LoginPath は未認証時のリダイレクト先にもなる
	SessionService SessionServiceInterface
	AuthConfig     AuthHandlerConfig
	// AllowedOrigin は /auth への状態変更リクエストを許可する origin。空の場合は検証しない
	AllowedOrigin string

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → Metrics → SecurityHeaders
//
// /sso/redirect はさらに Session → RateLimit(Redirect)、
// /sso/callback は RateLimit(Callback) を通る。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())

	// --- 運用エンドポイント ---
	r.Get("/health", HealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	loginPath := deps.AuthConfig.LoginPath
	if loginPath == "" {
		loginPath = "/login"
	}

	// --- SSO ---
	h := deps.SSOHandler
	r.Route("/sso", func(r chi.Router) {
		r.Get("/login", h.LoginPage)
		r.With(deps.RateLimiter.CallbackMiddleware()).Get("/callback", h.Callback)

		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.SessionFinder, middleware.WithLoginRedirect(loginPath)))
			r.Use(deps.RateLimiter.RedirectMiddleware())
			r.Get("/redirect/{partnerIdentifier}", h.Redirect)
		})
	})

	// --- ローカルセッション ---
	if deps.SessionService != nil {
		authHandler := NewAuthHandler(deps.SessionService, deps.AuthConfig)
		r.Route("/auth", func(r chi.Router) {
			if deps.AllowedOrigin != "" {
				r.Use(middleware.NewSameOriginMiddleware(deps.AllowedOrigin))
			}
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
		})
	}

	return r
}
