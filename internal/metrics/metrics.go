// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// SSOサービス、クリーンアップワーカー、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	TokenIssued(partner string)
	TokenRedeemed()
	RedeemFailed(reason string)
	RecordTokensCleaned(count int64)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	tokensIssued   *prometheus.CounterVec
	tokensRedeemed prometheus.Counter
	redeemFailures *prometheus.CounterVec
	tokensCleaned  prometheus.Counter
	httpStatus     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ssolink_tokens_issued_total",
			Help: "パートナー別のSSOトークン発行数",
		}, []string{"partner"}),
		tokensRedeemed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ssolink_tokens_redeemed_total",
			Help: "SSOトークン引き換え成功の合計数",
		}),
		redeemFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ssolink_redeem_failures_total",
			Help: "理由別のSSOトークン引き換え失敗数",
		}, []string{"reason"}),
		tokensCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ssolink_tokens_cleaned_total",
			Help: "削除された期限切れトークンの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ssolink_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.tokensIssued,
		c.tokensRedeemed,
		c.redeemFailures,
		c.tokensCleaned,
		c.httpStatus,
	)

	return c
}

// TokenIssued はトークン発行を記録する。
func (c *Collector) TokenIssued(partner string) {
	c.tokensIssued.WithLabelValues(partner).Inc()
}

// TokenRedeemed はトークン引き換え成功を記録する。
func (c *Collector) TokenRedeemed() {
	c.tokensRedeemed.Inc()
}

// RedeemFailed はトークン引き換え失敗を記録する。
func (c *Collector) RedeemFailed(reason string) {
	c.redeemFailures.WithLabelValues(reason).Inc()
}

// RecordTokensCleaned は削除したトークン数を記録する。
func (c *Collector) RecordTokensCleaned(count int64) {
	c.tokensCleaned.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
