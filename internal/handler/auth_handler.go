package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/atelier/internal/auth"
	"github.com/hitoshi/atelier/internal/metrics"
	"github.com/hitoshi/atelier/internal/model"
)

// authRequestMaxBytes は認証リクエストボディの上限。
const authRequestMaxBytes = 4 << 10

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Status(ctx context.Context) (bool, error)
	SetPassword(ctx context.Context, password, confirmPassword string) error
	ChangePassword(ctx context.Context, oldPassword, newPassword, confirmPassword string) error
	Login(ctx context.Context, password string) (*model.AdminSession, error)
	Logout(ctx context.Context, token string) error
}

// AuthHandler は管理者認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	cookie  auth.CookieConfig
	metrics metrics.MetricsCollector
	now     func() time.Time
}

// NewAuthHandler はAuthHandlerを生成する。collectorがnilの場合は記録しない。
func NewAuthHandler(service AuthServiceInterface, cookie auth.CookieConfig, collector metrics.MetricsCollector) *AuthHandler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &AuthHandler{
		service: service,
		cookie:  cookie,
		metrics: collector,
		now:     time.Now,
	}
}

// authRequest は /api/admin-auth/{action} のリクエストボディを表す。
// actionごとに具体的な型へデコードしてから処理する。
type authRequest interface {
	action() string
}

type setPasswordRequest struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type changePasswordRequest struct {
	OldPassword     string `json:"oldPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

type loginRequest struct {
	Password string `json:"password"`
}

func (setPasswordRequest) action() string { return "set" }
func (changePasswordRequest) action() string { return "change" }
func (loginRequest) action() string { return "login" }

// decodeAuthRequest はactionに対応する型でボディをデコードする。
// 未定義のactionはActionNotFound、JSONとして不正なボディはInvalidRequestを返す。
func decodeAuthRequest(action string, body io.Reader) (authRequest, error) {
	var req authRequest
	switch action {
	case "set":
		req = &setPasswordRequest{}
	case "change":
		req = &changePasswordRequest{}
	case "login":
		req = &loginRequest{}
	default:
		return nil, model.NewActionNotFoundError(action)
	}

	if err := json.NewDecoder(body).Decode(req); err != nil {
		return nil, model.NewInvalidRequestError("JSON形式で送信してください")
	}
	return req, nil
}

// statusResponse はパスワード設定状態のレスポンス。
type statusResponse struct {
	IsSet bool `json:"isSet"`
}

// Status はパスワードが設定済みかどうかを返す。
// GET /api/admin-auth/status
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	isSet, err := h.service.Status(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{IsSet: isSet})
}

// Action はパスワード設定・変更・ログインを処理する。
// POST /api/admin-auth/{action}  (action: set | change | login)
func (h *AuthHandler) Action(w http.ResponseWriter, r *http.Request) {
	req, err := decodeAuthRequest(chi.URLParam(r, "action"), http.MaxBytesReader(w, r.Body, authRequestMaxBytes))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	switch req := req.(type) {
	case *setPasswordRequest:
		err = h.service.SetPassword(r.Context(), req.Password, req.ConfirmPassword)
	case *changePasswordRequest:
		err = h.service.ChangePassword(r.Context(), req.OldPassword, req.NewPassword, req.ConfirmPassword)
	case *loginRequest:
		h.login(w, r, req)
		return
	}
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request, req *loginRequest) {
	session, err := h.service.Login(r.Context(), req.Password)
	if err != nil {
		h.metrics.RecordLoginAttempt(loginResult(err))
		handleServiceError(w, r, err)
		return
	}
	h.metrics.RecordLoginAttempt("success")

	auth.SetSessionCookie(w, h.cookie, session.Token, session.ExpiresAt.Sub(h.now()))
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// Logout はセッションを削除し、Cookieを必ずクリアする。
// POST /api/admin-auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := auth.SessionToken(r); token != "" {
		if err := h.service.Logout(r.Context(), token); err != nil {
			// ログアウト失敗してもCookieはクリアする
			slog.Error("failed to logout", slog.String("error", err.Error()))
		}
	}

	auth.ClearSessionCookie(w, h.cookie)
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func loginResult(err error) string {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		return "error"
	}
	switch apiErr.Code {
	case model.ErrCodeInvalidCredentials:
		return "invalid"
	case model.ErrCodePasswordNotSet:
		return "not_set"
	default:
		return "error"
	}
}
