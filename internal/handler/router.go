package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/atelier/internal/auth"
	"github.com/hitoshi/atelier/internal/csrf"
	"github.com/hitoshi/atelier/internal/metrics"
	"github.com/hitoshi/atelier/internal/middleware"
	"github.com/hitoshi/atelier/internal/model"
	"github.com/hitoshi/atelier/internal/project"
)

// AdminAuthService は認証APIと管理画面の両方が必要とする認証サービスのインターフェース。
type AdminAuthService interface {
	AuthServiceInterface
	ResolveSession(ctx context.Context, token string) (*model.Authentication, error)
}

// 実装がハンドラーの要求を満たすことをコンパイル時に保証する
var (
	_ AdminAuthService        = (*auth.Service)(nil)
	_ ProjectServiceInterface = (*project.Service)(nil)
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CSRF              *csrf.Service
	RateLimiter       *middleware.RateLimiter
	Metrics           metrics.MetricsCollector
	CORSAllowedOrigin string
	TrustProxy        bool
	AdminGate         middleware.AdminGateConfig

	// 認証
	AuthService AdminAuthService
	Cookie      auth.CookieConfig

	// プロジェクト
	ProjectService ProjectServiceInterface
	ProjectConfig  ProjectHandlerConfig

	// 運用
	DB             Pinger
	StoreTimeout   time.Duration
	MetricsHandler http.Handler

	// MediaRoot が空でなければ MediaPrefix 配下でファイルシステムの画像を配信する。
	MediaPrefix string
	MediaRoot   string
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → (RealIP) → Logging → Recovery → SecurityHeaders → CORS
//	  → RateLimit(General) → AccessControl(CSRF → AdminGate)
//
// /health、/metrics、画像配信はRateLimit以降のチェーンの外に配置する。
// プロジェクトの更新系APIはSessionで認証し、作成・更新にはアップロード用のレート制限を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	if deps.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.Metrics))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.Cookie, deps.Metrics)
	projectHandler := NewProjectHandler(deps.ProjectService, deps.ProjectConfig)
	pageHandler := NewPageHandler(deps.AuthService, PageHandlerConfig{
		LoginPath:    deps.AdminGate.LoginPath,
		StoreTimeout: deps.StoreTimeout,
		Cookie:       deps.Cookie,
	})

	// --- 運用エンドポイント ---
	if deps.DB != nil {
		r.Method(http.MethodGet, "/health", NewHealthHandler(deps.DB, deps.StoreTimeout))
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	if deps.MediaRoot != "" {
		prefix := strings.TrimRight(deps.MediaPrefix, "/")
		r.Method(http.MethodGet, prefix+"/*", NewMediaHandler(prefix, deps.MediaRoot))
	}

	// --- アクセス制御下のルート ---
	// ミドルウェアスタック: RateLimit(General) → CSRF → AdminGate
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewAccessControl(deps.CSRF, deps.Metrics, deps.AdminGate))

		requireSession := middleware.NewSessionMiddleware(deps.AuthService)
		uploadLimit := deps.RateLimiter.UploadMiddleware()

		r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler())

		// プロジェクト
		r.Route("/api/projects", func(r chi.Router) {
			r.Get("/", projectHandler.ListProjects)
			r.With(requireSession, uploadLimit).Post("/", projectHandler.CreateProject)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", projectHandler.GetProject)
				r.With(requireSession, uploadLimit).Put("/", projectHandler.UpdateProject)
				r.With(requireSession).Delete("/", projectHandler.DeleteProject)

				// GET /api/projects/{id}/images/{index} - 画像の実体
				r.Get("/images/{index}", projectHandler.GetImage)
			})
		})

		// 管理者認証
		r.Route("/api/admin-auth", func(r chi.Router) {
			r.Get("/status", authHandler.Status)
			r.Post("/logout", authHandler.Logout)
			r.Post("/{action}", authHandler.Action)
		})

		// 管理画面
		r.Get(deps.AdminGate.LoginPath, pageHandler.Login)
		r.Get(deps.AdminGate.Prefix, pageHandler.Admin)
	})

	return r
}
