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
// ミドルウェア、アクセス層、通知、ワーカーから利用する。
type MetricsCollector interface {
	RecordIdentityResolution(outcome string)
	RecordCredentialRefresh(success bool)
	RecordGateDecision(category, outcome string)
	RecordAccessDenied(resource string)
	RecordNotificationEmit(notificationType string, success bool)
	RecordUpstreamRetry(operation string)
	RecordQueryLatency(operation string, duration time.Duration)
	RecordDroppedCookieMutation()
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	identityResolutions *prometheus.CounterVec
	credentialRefreshes *prometheus.CounterVec
	gateDecisions       *prometheus.CounterVec
	accessDenied        *prometheus.CounterVec
	notificationEmits   *prometheus.CounterVec
	upstreamRetries     *prometheus.CounterVec
	queryLatency        *prometheus.HistogramVec
	droppedMutations    prometheus.Counter
	httpStatus          *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		identityResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skillswap_identity_resolutions_total",
			Help: "結果別のアイデンティティ解決数",
		}, []string{"outcome"}),
		credentialRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skillswap_credential_refreshes_total",
			Help: "クレデンシャル更新の試行数",
		}, []string{"result"}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skillswap_gate_decisions_total",
			Help: "ルートゲートキーパーの判定数",
		}, []string{"category", "outcome"}),
		accessDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skillswap_access_denied_total",
			Help: "リソース種別ごとのアクセス拒否数",
		}, []string{"resource"}),
		notificationEmits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skillswap_notification_emits_total",
			Help: "通知の作成数",
		}, []string{"type", "result"}),
		upstreamRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skillswap_upstream_retries_total",
			Help: "一時的な障害による読み取りの再試行数",
		}, []string{"operation"}),
		queryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "skillswap_query_latency_seconds",
			Help:    "アクセス層の操作のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		droppedMutations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skillswap_dropped_cookie_mutations_total",
			Help: "レスポンス確定後に破棄されたCookie変更の数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skillswap_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.identityResolutions,
		c.credentialRefreshes,
		c.gateDecisions,
		c.accessDenied,
		c.notificationEmits,
		c.upstreamRetries,
		c.queryLatency,
		c.droppedMutations,
		c.httpStatus,
	)

	return c
}

// RecordIdentityResolution はアイデンティティ解決の結果を記録する。
func (c *Collector) RecordIdentityResolution(outcome string) {
	c.identityResolutions.WithLabelValues(outcome).Inc()
}

// RecordCredentialRefresh はクレデンシャル更新の試行を記録する。
func (c *Collector) RecordCredentialRefresh(success bool) {
	c.credentialRefreshes.WithLabelValues(resultLabel(success)).Inc()
}

// RecordGateDecision はゲートキーパーの判定を記録する。
func (c *Collector) RecordGateDecision(category, outcome string) {
	c.gateDecisions.WithLabelValues(category, outcome).Inc()
}

// RecordAccessDenied はアクセス拒否を記録する。
func (c *Collector) RecordAccessDenied(resource string) {
	c.accessDenied.WithLabelValues(resource).Inc()
}

// RecordNotificationEmit は通知作成の結果を記録する。
func (c *Collector) RecordNotificationEmit(notificationType string, success bool) {
	c.notificationEmits.WithLabelValues(notificationType, resultLabel(success)).Inc()
}

// RecordUpstreamRetry は読み取りの再試行を記録する。
func (c *Collector) RecordUpstreamRetry(operation string) {
	c.upstreamRetries.WithLabelValues(operation).Inc()
}

// RecordQueryLatency はアクセス層の操作のレイテンシを記録する。
func (c *Collector) RecordQueryLatency(operation string, duration time.Duration) {
	c.queryLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordDroppedCookieMutation は破棄されたCookie変更を記録する。
func (c *Collector) RecordDroppedCookieMutation() {
	c.droppedMutations.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// NopCollector は何も記録しないMetricsCollector。テストや未設定時に使う。
type NopCollector struct{}

func (NopCollector) RecordIdentityResolution(string) {}
func (NopCollector) RecordCredentialRefresh(bool) {}
func (NopCollector) RecordGateDecision(string, string) {}
func (NopCollector) RecordAccessDenied(string) {}
func (NopCollector) RecordNotificationEmit(string, bool) {}
func (NopCollector) RecordUpstreamRetry(string) {}
func (NopCollector) RecordQueryLatency(string, time.Duration) {}
func (NopCollector) RecordDroppedCookieMutation() {}
func (NopCollector) RecordHTTPStatus(int) {}

// OrNop はcがnilの場合にNopCollectorを返す。
func OrNop(c MetricsCollector) MetricsCollector {
	if c == nil {
		return NopCollector{}
	}
	return c
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
