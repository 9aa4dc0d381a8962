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
// サービス層とミドルウェアから利用する。
type MetricsCollector interface {
	RecordPaymentCreated()
	RecordPaymentSettled()
	RecordGatewayFailure(reason string)
	RecordSettleLatency(duration time.Duration)
	RecordAuthFailure(reason string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	paymentsCreated prometheus.Counter
	paymentsSettled prometheus.Counter
	gatewayFailures *prometheus.CounterVec
	settleLatency   prometheus.Histogram
	authFailures    *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		paymentsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paygate_payments_created_total",
			Help: "作成された決済の合計数",
		}),
		paymentsSettled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paygate_payments_settled_total",
			Help: "PAIDに遷移した決済の合計数",
		}),
		gatewayFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paygate_gateway_failures_total",
			Help: "決済ゲートウェイ呼び出し失敗の合計数",
		}, []string{"reason"}),
		settleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "paygate_settle_latency_seconds",
			Help:    "決済ゲートウェイ呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paygate_auth_failures_total",
			Help: "ベアラートークン認証失敗の合計数",
		}, []string{"reason"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paygate_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.paymentsCreated,
		c.paymentsSettled,
		c.gatewayFailures,
		c.settleLatency,
		c.authFailures,
		c.httpStatus,
	)

	return c
}

// RecordPaymentCreated は決済作成を記録する。
func (c *Collector) RecordPaymentCreated() {
	c.paymentsCreated.Inc()
}

// RecordPaymentSettled は決済のPAID遷移を記録する。
func (c *Collector) RecordPaymentSettled() {
	c.paymentsSettled.Inc()
}

// RecordGatewayFailure はゲートウェイ呼び出し失敗を理由別に記録する。
func (c *Collector) RecordGatewayFailure(reason string) {
	c.gatewayFailures.WithLabelValues(reason).Inc()
}

// RecordSettleLatency はゲートウェイ呼び出しのレイテンシを記録する。
func (c *Collector) RecordSettleLatency(duration time.Duration) {
	c.settleLatency.Observe(duration.Seconds())
}

// RecordAuthFailure は認証失敗を理由別に記録する。
func (c *Collector) RecordAuthFailure(reason string) {
	c.authFailures.WithLabelValues(reason).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。メトリクス不要なテストやコマンドで使用する。
type Nop struct{}

func (Nop) RecordPaymentCreated()             {}
func (Nop) RecordPaymentSettled()             {}
func (Nop) RecordGatewayFailure(string)       {}
func (Nop) RecordSettleLatency(time.Duration) {}
func (Nop) RecordAuthFailure(string)          {}
func (Nop) RecordHTTPStatus(int)              {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
