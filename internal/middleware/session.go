// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/atelier/internal/auth"
	"github.com/hitoshi/atelier/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// sessionContextKey はリクエストコンテキストに管理者の資格情報を格納するためのキー。
var sessionContextKey = contextKey("admin_session")

// AdminGateConfig は管理画面ゲートの設定。
type AdminGateConfig struct {
	// Prefix は保護対象のパスの接頭辞（例: /admin）。
	Prefix string
	// LoginPath はログイン画面のパス。保護対象から除外し、未ログイン時の遷移先にする。
	LoginPath string
}

// NewAdminGate は管理画面配下のパスでセッションCookieの有無だけを確認するミドルウェアを返す。
// データベースは参照しない。有効期限や失効の確認はページ側のResolveSessionで行う。
// Cookieがない場合はログイン画面へリダイレクトする。
func NewAdminGate(config AdminGateConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isAdminPath(r.URL.Path, config) || auth.SessionToken(r) != "" {
				next.ServeHTTP(w, r)
				return
			}
			http.Redirect(w, r, config.LoginPath, http.StatusFound)
		})
	}
}

func isAdminPath(path string, config AdminGateConfig) bool {
	if path == config.LoginPath {
		return false
	}
	return path == config.Prefix || strings.HasPrefix(path, config.Prefix+"/")
}

// SessionResolver はセッショントークンから有効な資格情報を解決する。
// auth.Serviceの部分集合として定義する。
type SessionResolver interface {
	ResolveSession(ctx context.Context, token string) (*model.Authentication, error)
}

// NewSessionMiddleware はセッションCookieを検証し、有効な場合のみ後続を実行するミドルウェアを返す。
// APIクライアント向けに未認証は401、ストア障害は500のJSONを返す。
// 解決した資格情報はリクエストコンテキストに注入する。
func NewSessionMiddleware(resolver SessionResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.SessionToken(r)
			if token == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			record, err := resolver.ResolveSession(r.Context(), token)
			if err != nil {
				slog.Error("failed to resolve session",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if record == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), record)))
		})
	}
}

// SessionFromContext はリクエストコンテキストから管理者の資格情報を取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func SessionFromContext(ctx context.Context) (*model.Authentication, bool) {
	record, ok := ctx.Value(sessionContextKey).(*model.Authentication)
	return record, ok && record != nil
}

// ContextWithSession はコンテキストに資格情報を注入する。
func ContextWithSession(ctx context.Context, record *model.Authentication) context.Context {
	return context.WithValue(ctx, sessionContextKey, record)
}
