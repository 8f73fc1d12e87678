package handler

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/atelier/internal/auth"
	"github.com/hitoshi/atelier/internal/csrf"
	"github.com/hitoshi/atelier/internal/middleware"
	"github.com/hitoshi/atelier/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// ログイン画面に表示するエラー
const (
	loginErrorUnavailable = "unavailable"
	loginErrorExpired     = "expired"
)

var loginErrorMessages = map[string]string{
	loginErrorUnavailable: "データベースに接続できませんでした。しばらく待ってから再度お試しください。",
	loginErrorExpired:     "セッションの有効期限が切れました。再度ログインしてください。",
}

// PageServiceInterface は管理画面の描画に必要なサービスインターフェース。
type PageServiceInterface interface {
	Status(ctx context.Context) (bool, error)
	ResolveSession(ctx context.Context, token string) (*model.Authentication, error)
}

// PageHandlerConfig は管理画面ハンドラーの設定。
type PageHandlerConfig struct {
	SiteName  string
	LoginPath string
	// StoreTimeout はセッション確認でデータベースを待つ上限。
	StoreTimeout time.Duration
	Cookie       auth.CookieConfig
}

// PageHandler は管理画面のHTMLシェルを返すハンドラー。
// 画面の中身はクライアント側で描画し、サーバーはCSRFトークンを埋め込んだ最小限のHTMLのみ返す。
type PageHandler struct {
	service PageServiceInterface
	config  PageHandlerConfig
}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler(service PageServiceInterface, config PageHandlerConfig) *PageHandler {
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = 5 * time.Second
	}
	if config.SiteName == "" {
		config.SiteName = "Atelier"
	}
	return &PageHandler{service: service, config: config}
}

type loginPageData struct {
	SiteName    string
	CSRFToken   string
	PasswordSet bool
	Error       string
}

type adminPageData struct {
	SiteName  string
	CSRFToken string
	ExpiresAt string
}

// Login はログイン画面を返す。
// GET /admin/login
func (h *PageHandler) Login(w http.ResponseWriter, r *http.Request) {
	data := loginPageData{
		SiteName:  h.config.SiteName,
		CSRFToken: csrf.TokenFromContext(r),
		Error:     loginErrorMessages[r.URL.Query().Get("error")],
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.config.StoreTimeout)
	defer cancel()

	isSet, err := h.service.Status(ctx)
	if err != nil {
		slog.Error("failed to load password status", slog.String("error", err.Error()))
		data.Error = loginErrorMessages[loginErrorUnavailable]
	}
	data.PasswordSet = isSet

	h.render(w, "login.html", data)
}

// Admin は管理画面を返す。
// GET /admin
// ミドルウェアはCookieの有無しか見ないため、ここでセッションの有効期限と失効を確認する。
// データベースが時間内に応答しない場合はエラー付きでログイン画面へリダイレクトする。
func (h *PageHandler) Admin(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.config.StoreTimeout)
	defer cancel()

	token := auth.SessionToken(r)
	record, err := h.service.ResolveSession(ctx, token)
	if err != nil {
		slog.Error("failed to resolve admin session",
			slog.Bool("timeout", errors.Is(err, context.DeadlineExceeded)),
			slog.String("error", err.Error()),
		)
		http.Redirect(w, r, h.config.LoginPath+"?error="+loginErrorUnavailable, http.StatusFound)
		return
	}
	if record == nil {
		auth.ClearSessionCookie(w, h.config.Cookie)
		target := h.config.LoginPath
		if token != "" {
			target += "?error=" + loginErrorExpired
		}
		http.Redirect(w, r, target, http.StatusFound)
		return
	}

	data := adminPageData{
		SiteName:  h.config.SiteName,
		CSRFToken: csrf.TokenFromContext(r),
	}
	for _, s := range record.Sessions {
		if s.Token == token {
			data.ExpiresAt = s.ExpiresAt.UTC().Format(time.RFC3339)
		}
	}

	h.render(w, "admin.html", data)
}

func (h *PageHandler) render(w http.ResponseWriter, name string, data any) {
	var buf bytes.Buffer
	if err := pageTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("failed to render page", slog.String("template", name), slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}
