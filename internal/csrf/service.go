// Package csrf はダブルサブミット方式のCSRFトークンの発行と検証を提供する。
package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	// CookieName はCSRFトークンを保持するCookieの名前。
	CookieName = "csrf_token"
	// HeaderName はクライアントがトークンを送り返すヘッダー名。
	HeaderName = "X-CSRF-Token"

	tokenBytes = 32
)

// Reason は検証失敗の機械可読な理由。
type Reason string

const (
	ReasonMissingToken  Reason = "MissingToken"
	ReasonTokenMismatch Reason = "TokenMismatch"
	ReasonRateLimited   Reason = "RateLimited"
)

// Result は検証結果。Validがfalseの場合のみReasonが設定される。
type Result struct {
	Valid  bool
	Reason Reason
}

// Config はCSRFサービスの設定。
type Config struct {
	CookieSecure bool
	CookieDomain string
	TokenMaxAge  time.Duration
	// ExemptPaths は検証を行わない公開の更新系エンドポイント。
	ExemptPaths []string
	// SessionCookieName はレート制限で認証済みとみなすCookieの名前。
	SessionCookieName string
}

// Service はCSRFトークンの発行と検証を行う。
type Service struct {
	config  Config
	limiter AttemptLimiter
}

// NewService はServiceを生成する。
func NewService(config Config, limiter AttemptLimiter) *Service {
	if config.TokenMaxAge <= 0 {
		config.TokenMaxAge = time.Hour
	}
	return &Service{config: config, limiter: limiter}
}

// GenerateToken は32バイトの乱数を16進文字列にしたトークンを返す。
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate csrf token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Issue はトークンをCookieとしてレスポンスに設定する。
func (s *Service) Issue(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Domain:   s.config.CookieDomain,
		MaxAge:   int(s.config.TokenMaxAge / time.Second),
		HttpOnly: true,
		Secure:   s.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Skip は検証不要なリクエスト（安全なメソッドまたは除外パス）ならtrueを返す。
func (s *Service) Skip(r *http.Request) bool {
	if isSafeMethod(r.Method) {
		return true
	}
	for _, p := range s.config.ExemptPaths {
		if r.URL.Path == p {
			return true
		}
	}
	return false
}

// CookieToken はリクエストのCSRF Cookieの値を返す。未設定なら空文字。
func CookieToken(r *http.Request) string {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// Validate はリクエストのCSRFトークンを検証する。
// トークンを比較する前にレート制限を確認し、上限に達していればトークンの正否に関わらずRateLimitedを返す。
// 検証に失敗した場合は失敗回数を記録する。
func (s *Service) Validate(r *http.Request) Result {
	if s.Skip(r) {
		return Result{Valid: true}
	}

	ctx := r.Context()
	key := s.ClientKey(r)

	allowed, err := s.limiter.Allow(ctx, key)
	if err != nil {
		slog.Error("csrf rate limiter unavailable",
			slog.String("client_ip", key.IP),
			slog.String("error", err.Error()),
		)
		return Result{Reason: ReasonRateLimited}
	}
	if !allowed {
		return Result{Reason: ReasonRateLimited}
	}

	reason := compareTokens(CookieToken(r), r.Header.Get(HeaderName))
	if reason == "" {
		return Result{Valid: true}
	}

	s.recordFailure(ctx, key)
	return Result{Reason: reason}
}

// ClientKey はリクエストのクライアントIPとセッションCookieの有無からキーを作る。
func (s *Service) ClientKey(r *http.Request) ClientKey {
	authenticated := false
	if s.config.SessionCookieName != "" {
		if c, err := r.Cookie(s.config.SessionCookieName); err == nil && c.Value != "" {
			authenticated = true
		}
	}
	return ClientKey{IP: ClientIP(r), Authenticated: authenticated}
}

// Close はレートリミッターを解放する。
func (s *Service) Close() error {
	return s.limiter.Close()
}

func (s *Service) recordFailure(ctx context.Context, key ClientKey) {
	if err := s.limiter.RecordFailure(ctx, key); err != nil {
		slog.Error("failed to record csrf failure",
			slog.String("client_ip", key.IP),
			slog.String("error", err.Error()),
		)
	}
}

func compareTokens(cookieToken, headerToken string) Reason {
	if cookieToken == "" || headerToken == "" {
		return ReasonMissingToken
	}
	if subtle.ConstantTimeCompare([]byte(cookieToken), []byte(headerToken)) != 1 {
		return ReasonTokenMismatch
	}
	return ""
}

// ClientIP はRemoteAddrからポートを除いたIPを返す。
// プロキシ配下ではchiのRealIPミドルウェアがRemoteAddrを書き換えている前提。
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

type contextKey struct{}

// ContextWithToken はリクエストで有効なトークンをコンテキストに格納する。
// 同じリクエスト内で新しく発行したトークンをページ描画に渡すために使う。
func ContextWithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, contextKey{}, token)
}

// TokenFromContext はコンテキストのトークンを返す。なければCookieの値を返す。
func TokenFromContext(r *http.Request) string {
	if token, ok := r.Context().Value(contextKey{}).(string); ok && token != "" {
		return token
	}
	return CookieToken(r)
}
