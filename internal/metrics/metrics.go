// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェアやサービス層から利用する。
type MetricsCollector interface {
	RecordCSRFFailure(reason string)
	RecordLoginAttempt(result string)
	RecordReconciliation(op, result string)
	RecordImagesStored(count int)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	csrfFailures    *prometheus.CounterVec
	loginAttempts   *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	imagesStored    prometheus.Counter
	httpStatus      *prometheus.CounterVec
	requestLatency  prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		csrfFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atelier_csrf_failures_total",
			Help: "CSRF検証失敗の理由別の合計数",
		}, []string{"reason"}),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atelier_login_attempts_total",
			Help: "管理者ログイン試行の結果別の合計数",
		}, []string{"result"}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atelier_project_reconciliations_total",
			Help: "プロジェクトの作成・更新・削除の結果別の合計数",
		}, []string{"op", "result"}),
		imagesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "atelier_images_stored_total",
			Help: "新規に保存した画像の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atelier_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "atelier_request_latency_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.csrfFailures,
		c.loginAttempts,
		c.reconciliations,
		c.imagesStored,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordCSRFFailure はCSRF検証失敗を理由別に記録する。
func (c *Collector) RecordCSRFFailure(reason string) {
	c.csrfFailures.WithLabelValues(reason).Inc()
}

// RecordLoginAttempt はログイン試行を結果別に記録する（success, invalid, not_set）。
func (c *Collector) RecordLoginAttempt(result string) {
	c.loginAttempts.WithLabelValues(result).Inc()
}

// RecordReconciliation はプロジェクト操作の結果を記録する。
func (c *Collector) RecordReconciliation(op, result string) {
	c.reconciliations.WithLabelValues(op, result).Inc()
}

// RecordImagesStored は保存した画像数を記録する。
func (c *Collector) RecordImagesStored(count int) {
	c.imagesStored.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordCSRFFailure(string)            {}
func (Nop) RecordLoginAttempt(string)           {}
func (Nop) RecordReconciliation(string, string) {}
func (Nop) RecordImagesStored(int)              {}
func (Nop) RecordHTTPStatus(int)                {}
func (Nop) RecordRequestLatency(time.Duration)  {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
