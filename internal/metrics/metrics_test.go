package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は名前とラベルが一致するメトリクスを探す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if want, ok := labels[lp.GetName()]; ok {
			if lp.GetValue() != want {
				return false
			}
			matched++
		}
	}
	return matched == len(labels)
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func TestRecordCSRFFailure_CountsByReason(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCSRFFailure("TokenMismatch")
	c.RecordCSRFFailure("TokenMismatch")
	c.RecordCSRFFailure("RateLimited")

	if v := findMetric(t, reg, "atelier_csrf_failures_total", map[string]string{"reason": "TokenMismatch"}).GetCounter().GetValue(); v != 2 {
		t.Errorf("TokenMismatch = %v, want 2", v)
	}
	if v := findMetric(t, reg, "atelier_csrf_failures_total", map[string]string{"reason": "RateLimited"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("RateLimited = %v, want 1", v)
	}
}

func TestRecordLoginAttempt_CountsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLoginAttempt("success")
	c.RecordLoginAttempt("invalid")
	c.RecordLoginAttempt("invalid")

	if v := findMetric(t, reg, "atelier_login_attempts_total", map[string]string{"result": "invalid"}).GetCounter().GetValue(); v != 2 {
		t.Errorf("invalid = %v, want 2", v)
	}
}

func TestRecordReconciliation_CountsByOpAndResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordReconciliation("update", "success")
	c.RecordReconciliation("update", "validation")
	c.RecordImagesStored(3)

	m := findMetric(t, reg, "atelier_project_reconciliations_total", map[string]string{"op": "update", "result": "validation"})
	if v := m.GetCounter().GetValue(); v != 1 {
		t.Errorf("update/validation = %v, want 1", v)
	}
	if v := findMetric(t, reg, "atelier_images_stored_total", nil).GetCounter().GetValue(); v != 3 {
		t.Errorf("images_stored_total = %v, want 3", v)
	}
}

// TestRecordHTTPStatus_CountsByStatusCode はステータスコード別に集計されることを検証する。
func TestRecordHTTPStatus_CountsByStatusCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(403)
	c.RecordHTTPStatus(403)
	c.RecordRequestLatency(150 * time.Millisecond)

	if v := findMetric(t, reg, "atelier_http_status_total", map[string]string{"status_code": "403"}).GetCounter().GetValue(); v != 2 {
		t.Errorf("403 = %v, want 2", v)
	}
	if n := findMetric(t, reg, "atelier_request_latency_seconds", nil).GetHistogram().GetSampleCount(); n != 1 {
		t.Errorf("latency sample count = %d, want 1", n)
	}
}

// TestNewCollector_DuplicateRegistration_Panics は同一レジストリへの二重登録でパニックすることを検証する。
func TestNewCollector_DuplicateRegistration_Panics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	NewCollector(reg)
}
