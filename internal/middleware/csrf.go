package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/atelier/internal/csrf"
	"github.com/hitoshi/atelier/internal/metrics"
	"github.com/hitoshi/atelier/internal/model"
)

// NewCSRFMiddleware はCSRFトークンの発行と検証を行うミドルウェアを返す。
// 安全なメソッド（GET, HEAD, OPTIONS）と除外パスは検証をスキップし、
// CSRFトークンCookieが未設定なら発行する。
// 状態変更メソッドは検証に失敗すると新しいトークンを発行したうえで403を返し、
// 後続のハンドラーは実行しない。
// いずれの場合も有効なトークンをリクエストコンテキストに格納する。
func NewCSRFMiddleware(svc *csrf.Service, collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if svc.Skip(r) {
				token := csrf.CookieToken(r)
				if token == "" {
					var err error
					token, err = csrf.GenerateToken()
					if err != nil {
						slog.Error("failed to generate CSRF token", slog.String("error", err.Error()))
						WriteInternalServerError(w)
						return
					}
					svc.Issue(w, token)
				}
				next.ServeHTTP(w, r.WithContext(csrf.ContextWithToken(r.Context(), token)))
				return
			}

			result := svc.Validate(r)
			if result.Valid {
				ctx := csrf.ContextWithToken(r.Context(), csrf.CookieToken(r))
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			// 拒否する前に新しいトークンへ差し替える
			if token, err := csrf.GenerateToken(); err == nil {
				svc.Issue(w, token)
			} else {
				slog.Error("failed to rotate CSRF token", slog.String("error", err.Error()))
			}

			collector.RecordCSRFFailure(string(result.Reason))
			slog.Warn("CSRF validation failed",
				slog.String("reason", string(result.Reason)),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("client_ip", csrf.ClientIP(r)),
			)

			w.Header().Set("Cache-Control", "no-store")
			WriteErrorResponse(w, http.StatusForbidden, model.NewCSRFFailedError(string(result.Reason)))
		})
	}
}

// NewCSRFTokenHandler はCSRFトークン取得エンドポイントのハンドラーを返す。
// GET /api/csrf-token
// CSRFミドルウェアの内側に配置し、ミドルウェアが確定したトークンを返す。
func NewCSRFTokenHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := csrf.TokenFromContext(r)
		if token == "" {
			slog.Error("CSRF token handler mounted outside CSRF middleware")
			WriteInternalServerError(w)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		json.NewEncoder(w).Encode(map[string]string{
			"token": token,
		})
	})
}
