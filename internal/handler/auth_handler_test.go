package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/atelier/internal/auth"
	"github.com/hitoshi/atelier/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	statusFn         func(ctx context.Context) (bool, error)
	setPasswordFn    func(ctx context.Context, password, confirmPassword string) error
	changePasswordFn func(ctx context.Context, oldPassword, newPassword, confirmPassword string) error
	loginFn          func(ctx context.Context, password string) (*model.AdminSession, error)
	logoutFn         func(ctx context.Context, token string) error
	resolveFn        func(ctx context.Context, token string) (*model.Authentication, error)
}

func (m *mockAuthService) Status(ctx context.Context) (bool, error) {
	if m.statusFn != nil {
		return m.statusFn(ctx)
	}
	return false, nil
}

func (m *mockAuthService) SetPassword(ctx context.Context, password, confirmPassword string) error {
	if m.setPasswordFn != nil {
		return m.setPasswordFn(ctx, password, confirmPassword)
	}
	return nil
}

func (m *mockAuthService) ChangePassword(ctx context.Context, oldPassword, newPassword, confirmPassword string) error {
	if m.changePasswordFn != nil {
		return m.changePasswordFn(ctx, oldPassword, newPassword, confirmPassword)
	}
	return nil
}

func (m *mockAuthService) Login(ctx context.Context, password string) (*model.AdminSession, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, password)
	}
	return nil, model.NewInvalidCredentialsError()
}

func (m *mockAuthService) Logout(ctx context.Context, token string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, token)
	}
	return nil
}

func (m *mockAuthService) ResolveSession(ctx context.Context, token string) (*model.Authentication, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, token)
	}
	return nil, nil
}

type loginMetricsRecorder struct {
	results []string
}

func (r *loginMetricsRecorder) RecordCSRFFailure(string) {}
func (r *loginMetricsRecorder) RecordLoginAttempt(result string) { r.results = append(r.results, result) }
func (r *loginMetricsRecorder) RecordReconciliation(string, string) {}
func (r *loginMetricsRecorder) RecordImagesStored(int) {}
func (r *loginMetricsRecorder) RecordHTTPStatus(int) {}
func (r *loginMetricsRecorder) RecordRequestLatency(time.Duration) {}

func postAction(h *AuthHandler, action, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/admin-auth/"+action, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = withURLParams(req, map[string]string{"action": action})
	w := httptest.NewRecorder()
	h.Action(w, req)
	return w
}

func findResponseCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// --- テスト ---

func TestAuthHandler_Status(t *testing.T) {
	for _, isSet := range []bool{false, true} {
		h := NewAuthHandler(&mockAuthService{
			statusFn: func(context.Context) (bool, error) { return isSet, nil },
		}, auth.CookieConfig{}, nil)

		w := httptest.NewRecorder()
		h.Status(w, httptest.NewRequest(http.MethodGet, "/api/admin-auth/status", nil))

		var body statusResponse
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if w.Code != http.StatusOK || body.IsSet != isSet {
			t.Errorf("status = %d, isSet = %v, want 200 %v", w.Code, body.IsSet, isSet)
		}
	}
}

func TestAuthHandler_Status_StoreErrorIs500(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{
		statusFn: func(context.Context) (bool, error) { return false, errors.New("db down") },
	}, auth.CookieConfig{}, nil)

	w := httptest.NewRecorder()
	h.Status(w, httptest.NewRequest(http.MethodGet, "/api/admin-auth/status", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestAuthHandler_Set_DispatchesDecodedFields(t *testing.T) {
	var gotPassword, gotConfirm string
	h := NewAuthHandler(&mockAuthService{
		setPasswordFn: func(ctx context.Context, password, confirmPassword string) error {
			gotPassword, gotConfirm = password, confirmPassword
			return nil
		},
	}, auth.CookieConfig{}, nil)

	w := postAction(h, "set", `{"password":"Abc123!@","confirmPassword":"Abc123!@"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotPassword != "Abc123!@" || gotConfirm != "Abc123!@" {
		t.Errorf("SetPassword(%q, %q)", gotPassword, gotConfirm)
	}
	var body successResponse
	json.NewDecoder(w.Body).Decode(&body)
	if !body.Success {
		t.Error("expected success: true")
	}
}

func TestAuthHandler_Change_DispatchesDecodedFields(t *testing.T) {
	var got [3]string
	h := NewAuthHandler(&mockAuthService{
		changePasswordFn: func(ctx context.Context, oldPassword, newPassword, confirmPassword string) error {
			got = [3]string{oldPassword, newPassword, confirmPassword}
			return nil
		},
	}, auth.CookieConfig{}, nil)

	w := postAction(h, "change", `{"oldPassword":"Old123!@","newPassword":"New123!@","confirmPassword":"New123!@"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got != [3]string{"Old123!@", "New123!@", "New123!@"} {
		t.Errorf("ChangePassword args = %v", got)
	}
}

func TestAuthHandler_Action_Errors(t *testing.T) {
	svc := &mockAuthService{
		setPasswordFn: func(context.Context, string, string) error { return model.NewPasswordAlreadySetError() },
		changePasswordFn: func(context.Context, string, string, string) error {
			return model.NewInvalidCredentialsError()
		},
	}
	h := NewAuthHandler(svc, auth.CookieConfig{}, nil)

	tests := []struct {
		name       string
		action     string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"未定義のaction", "reset", `{}`, http.StatusNotFound, model.ErrCodeActionNotFound},
		{"不正なJSON", "set", `{"password":`, http.StatusBadRequest, model.ErrCodeInvalidRequest},
		{"設定済み", "set", `{"password":"a","confirmPassword":"a"}`, http.StatusBadRequest, model.ErrCodePasswordAlreadySet},
		{"旧パスワード不一致", "change", `{"oldPassword":"x"}`, http.StatusUnauthorized, model.ErrCodeInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postAction(h, tt.action, tt.body)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if body := decodeErrorBody(t, w); body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}

func TestAuthHandler_Login_SetsSessionCookie(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := &loginMetricsRecorder{}
	h := NewAuthHandler(&mockAuthService{
		loginFn: func(ctx context.Context, password string) (*model.AdminSession, error) {
			if password != "Abc123!@" {
				t.Errorf("password = %q", password)
			}
			return &model.AdminSession{Token: "session-token", CreatedAt: now, ExpiresAt: now.Add(24 * time.Hour)}, nil
		},
	}, auth.CookieConfig{Secure: true}, rec)
	h.now = func() time.Time { return now }

	w := postAction(h, "login", `{"password":"Abc123!@"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	cookie := findResponseCookie(w, auth.SessionCookieName)
	if cookie == nil {
		t.Fatal("expected admin_session cookie")
	}
	if cookie.Value != "session-token" || !cookie.HttpOnly || !cookie.Secure || cookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("cookie = %+v", cookie)
	}
	if cookie.MaxAge != 86400 {
		t.Errorf("MaxAge = %d, want 86400", cookie.MaxAge)
	}
	if len(rec.results) != 1 || rec.results[0] != "success" {
		t.Errorf("login metrics = %v", rec.results)
	}
}

func TestAuthHandler_Login_Failures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantResult string
	}{
		{"パスワード不一致", model.NewInvalidCredentialsError(), http.StatusUnauthorized, "invalid"},
		{"未設定", model.NewPasswordNotSetError(), http.StatusBadRequest, "not_set"},
		{"ストア障害", errors.New("db down"), http.StatusInternalServerError, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &loginMetricsRecorder{}
			h := NewAuthHandler(&mockAuthService{
				loginFn: func(context.Context, string) (*model.AdminSession, error) { return nil, tt.err },
			}, auth.CookieConfig{}, rec)

			w := postAction(h, "login", `{"password":"wrong"}`)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if findResponseCookie(w, auth.SessionCookieName) != nil {
				t.Error("failed login must not set a session cookie")
			}
			if len(rec.results) != 1 || rec.results[0] != tt.wantResult {
				t.Errorf("login metrics = %v, want [%s]", rec.results, tt.wantResult)
			}
		})
	}
}

func TestAuthHandler_Logout_AlwaysClearsCookie(t *testing.T) {
	tests := []struct {
		name       string
		cookie     string
		logoutErr  error
		wantCalled bool
	}{
		{"セッションあり", "session-token", nil, true},
		{"セッションなし", "", nil, false},
		{"削除に失敗", "session-token", errors.New("db down"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := NewAuthHandler(&mockAuthService{
				logoutFn: func(ctx context.Context, token string) error {
					called = true
					if token != tt.cookie {
						t.Errorf("token = %q, want %q", token, tt.cookie)
					}
					return tt.logoutErr
				},
			}, auth.CookieConfig{}, nil)

			req := httptest.NewRequest(http.MethodPost, "/api/admin-auth/logout", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: tt.cookie})
			}
			w := httptest.NewRecorder()
			h.Logout(w, req)

			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
			}
			if called != tt.wantCalled {
				t.Errorf("Logout called = %v, want %v", called, tt.wantCalled)
			}
			cleared := findResponseCookie(w, auth.SessionCookieName)
			if cleared == nil || cleared.MaxAge >= 0 || cleared.Value != "" {
				t.Errorf("expected cleared cookie, got %+v", cleared)
			}
		})
	}
}

func TestDecodeAuthRequest_Variants(t *testing.T) {
	tests := []struct {
		action string
		body   string
		check  func(t *testing.T, req authRequest)
	}{
		{"set", `{"password":"p","confirmPassword":"c"}`, func(t *testing.T, req authRequest) {
			r, ok := req.(*setPasswordRequest)
			if !ok || r.Password != "p" || r.ConfirmPassword != "c" {
				t.Errorf("req = %#v", req)
			}
		}},
		{"change", `{"oldPassword":"o","newPassword":"n","confirmPassword":"c"}`, func(t *testing.T, req authRequest) {
			r, ok := req.(*changePasswordRequest)
			if !ok || r.OldPassword != "o" || r.NewPassword != "n" || r.ConfirmPassword != "c" {
				t.Errorf("req = %#v", req)
			}
		}},
		{"login", `{"password":"p"}`, func(t *testing.T, req authRequest) {
			if r, ok := req.(*loginRequest); !ok || r.Password != "p" {
				t.Errorf("req = %#v", req)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			req, err := decodeAuthRequest(tt.action, strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if req.action() != tt.action {
				t.Errorf("action() = %q, want %q", req.action(), tt.action)
			}
			tt.check(t, req)
		})
	}
}
