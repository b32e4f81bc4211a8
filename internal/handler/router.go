package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/passgate/internal/metrics"
	"github.com/hitoshi/passgate/internal/middleware"
	"github.com/hitoshi/passgate/internal/model"
	"github.com/hitoshi/passgate/internal/view"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// セッション
	Sessions middleware.SessionStore
	Cookie   middleware.SessionCookie

	// 認証
	AuthService AuthServiceInterface
	Flash       FlashStore

	// 描画・観測
	View           view.View
	Logger         *slog.Logger
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler
	HealthChecks   []Pinger

	// HSTS はTLS終端の背後で動作する場合にStrict-Transport-Securityを付与する。
	HSTS bool
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → Recovery → SecurityHeaders → Session → (RequireLogin)
//
// /health と /metrics はセッションを発行しないようSessionミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewRecoveryMiddleware(deps.View))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		middleware.WriteErrorResponse(w, req, deps.View, http.StatusNotFound, model.NewNotFoundError(req.URL.Path))
	})

	// --- セッション不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecks...))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	h := NewAuthHandler(deps.AuthService, deps.Flash, deps.View, deps.Cookie)

	// --- セッション付きのルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Sessions, deps.Cookie, deps.View, deps.Metrics))

		r.Get("/", h.Home)
		r.Get("/signup", h.SignupForm)
		r.Post("/signup", h.Signup)
		r.Get("/login", h.LoginForm)
		r.Post("/login", h.Login)
		r.Get("/logout", h.Logout)
		r.Post("/logout", h.Logout)

		// 外部IdPログイン
		r.Get("/auth/external", h.ExternalLogin)
		r.Get("/auth/external/callback", h.ExternalCallback)

		// 認証が必要なルート
		r.With(middleware.RequireLogin(pathLogin)).Get("/profile", h.Profile)
	})

	return r
}
