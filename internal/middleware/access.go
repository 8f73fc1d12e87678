package middleware

import (
	"net/http"

	"github.com/hitoshi/atelier/internal/csrf"
	"github.com/hitoshi/atelier/internal/metrics"
)

// NewAccessControl はすべてのリクエストに適用するアクセス制御を返す。
// CSRFの発行・検証を先に行い、通過したリクエストのうち管理画面配下のものだけ
// セッションCookieの有無を確認する。
func NewAccessControl(svc *csrf.Service, collector metrics.MetricsCollector, gate AdminGateConfig) func(next http.Handler) http.Handler {
	csrfStage := NewCSRFMiddleware(svc, collector)
	gateStage := NewAdminGate(gate)
	return func(next http.Handler) http.Handler {
		return csrfStage(gateStage(next))
	}
}
