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
// 認証サービスとカレンダーハンドラーから利用する。
type MetricsCollector interface {
	RecordLoginSuccess(isNewUser bool)
	RecordLoginFailure(reason string)
	RecordTokenRefresh(result string)
	RecordProviderHTTPStatus(endpoint string, statusCode int)
	RecordProviderLatency(endpoint string, duration time.Duration)
	RecordCalendarRequest(operation string, statusCode int)
}

// リフレッシュ結果のラベル値。
const (
	RefreshResultSuccess = "success"
	RefreshResultFailure = "failure"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	loginSuccess     *prometheus.CounterVec
	loginFail        *prometheus.CounterVec
	tokenRefresh     *prometheus.CounterVec
	providerStatus   *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	calendarRequests *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calbridge_login_success_total",
			Help: "ログイン成功の合計数",
		}, []string{"is_new_user"}),
		loginFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calbridge_login_fail_total",
			Help: "ログイン失敗の合計数（理由別）",
		}, []string{"reason"}),
		tokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calbridge_token_refresh_total",
			Help: "アクセストークンリフレッシュの合計数（結果別）",
		}, []string{"result"}),
		providerStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calbridge_provider_http_status_total",
			Help: "プロバイダーAPIのHTTPステータスコード別レスポンス数",
		}, []string{"endpoint", "status_code"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "calbridge_provider_latency_seconds",
			Help:    "プロバイダーAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		calendarRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calbridge_calendar_requests_total",
			Help: "カレンダープロキシのリクエスト数（操作・ステータス別）",
		}, []string{"operation", "status_code"}),
	}

	reg.MustRegister(
		c.loginSuccess,
		c.loginFail,
		c.tokenRefresh,
		c.providerStatus,
		c.providerLatency,
		c.calendarRequests,
	)

	return c
}

// RecordLoginSuccess はログイン成功を記録する。
func (c *Collector) RecordLoginSuccess(isNewUser bool) {
	c.loginSuccess.WithLabelValues(strconv.FormatBool(isNewUser)).Inc()
}

// RecordLoginFailure はログイン失敗を理由付きで記録する。
func (c *Collector) RecordLoginFailure(reason string) {
	c.loginFail.WithLabelValues(reason).Inc()
}

// RecordTokenRefresh はリフレッシュの結果を記録する。
func (c *Collector) RecordTokenRefresh(result string) {
	c.tokenRefresh.WithLabelValues(result).Inc()
}

// RecordProviderHTTPStatus はプロバイダーAPIのHTTPステータスを記録する。
func (c *Collector) RecordProviderHTTPStatus(endpoint string, statusCode int) {
	c.providerStatus.WithLabelValues(endpoint, strconv.Itoa(statusCode)).Inc()
}

// RecordProviderLatency はプロバイダーAPI呼び出しのレイテンシを記録する。
func (c *Collector) RecordProviderLatency(endpoint string, duration time.Duration) {
	c.providerLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordCalendarRequest はカレンダープロキシのリクエスト結果を記録する。
func (c *Collector) RecordCalendarRequest(operation string, statusCode int) {
	c.calendarRequests.WithLabelValues(operation, strconv.Itoa(statusCode)).Inc()
}

// NopCollector は何も記録しないCollector。テストで使用する。
type NopCollector struct{}

func (NopCollector) RecordLoginSuccess(isNewUser bool)                             {}
func (NopCollector) RecordLoginFailure(reason string)                              {}
func (NopCollector) RecordTokenRefresh(result string)                              {}
func (NopCollector) RecordProviderHTTPStatus(endpoint string, statusCode int)      {}
func (NopCollector) RecordProviderLatency(endpoint string, duration time.Duration) {}
func (NopCollector) RecordCalendarRequest(operation string, statusCode int)        {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
