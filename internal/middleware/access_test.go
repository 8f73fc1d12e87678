package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/atelier/internal/auth"
	"github.com/hitoshi/atelier/internal/csrf"
)

func newAccessControlledRouter(t *testing.T) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	r.Use(NewAccessControl(newTestCSRFService(t, 10), nil, AdminGateConfig{Prefix: "/admin", LoginPath: "/admin/login"}))

	r.Get("/admin/login", okHandler().ServeHTTP)
	r.Get("/admin", okHandler().ServeHTTP)
	r.Post("/admin/projects", okHandler().ServeHTTP)
	r.Get("/api/csrf-token", NewCSRFTokenHandler().ServeHTTP)
	return r
}

func TestAccessControl_FirstVisitGetsTokenOnly(t *testing.T) {
	router := newAccessControlledRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/login", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if findCookie(w.Result(), csrf.CookieName) == nil {
		t.Error("first visit should receive a csrf_token cookie")
	}
}

func TestAccessControl_MutationWithoutCookie_IssuesTokenAndRejects(t *testing.T) {
	router := newAccessControlledRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/projects", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: "s"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if findCookie(w.Result(), csrf.CookieName) == nil {
		t.Error("rejected request should receive a fresh csrf_token cookie")
	}
}

func TestAccessControl_AdminWithoutSession_RedirectsAfterCSRF(t *testing.T) {
	router := newAccessControlledRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))

	if w.Code != http.StatusFound || w.Header().Get("Location") != "/admin/login" {
		t.Errorf("status = %d, Location = %q, want 302 /admin/login", w.Code, w.Header().Get("Location"))
	}
	// リダイレクトでもトークンは発行される
	if findCookie(w.Result(), csrf.CookieName) == nil {
		t.Error("expected csrf_token cookie on redirect")
	}
}

func TestAccessControl_AdminMutationWithTokenAndSession_Passes(t *testing.T) {
	router := newAccessControlledRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/projects", nil)
	req.AddCookie(&http.Cookie{Name: csrf.CookieName, Value: testToken})
	req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: "s"})
	req.Header.Set(csrf.HeaderName, testToken)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAccessControl_AdminMutationWithTokenButNoSession_Redirects(t *testing.T) {
	router := newAccessControlledRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/projects", nil)
	req.AddCookie(&http.Cookie{Name: csrf.CookieName, Value: testToken})
	req.Header.Set(csrf.HeaderName, testToken)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusFound)
	}
}
