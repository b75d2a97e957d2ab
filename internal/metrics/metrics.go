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
// 認証層・サービス層・ミドルウェアから利用する。
type MetricsCollector interface {
	RecordTokenVerification(result string)
	RecordJWKSFetch(result string)
	RecordOrderCreated(totalCents int64)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	tokenVerifications *prometheus.CounterVec
	jwksFetches        *prometheus.CounterVec
	ordersCreated      prometheus.Counter
	orderTotal         prometheus.Histogram
	httpStatus         *prometheus.CounterVec
	requestLatency     prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tokenVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pizza42_token_verifications_total",
			Help: "トークン検証の結果別の合計数",
		}, []string{"result"}),
		jwksFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pizza42_jwks_fetch_total",
			Help: "鍵セット取得の結果別の合計数",
		}, []string{"result"}),
		ordersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pizza42_orders_created_total",
			Help: "作成された注文の合計数",
		}),
		orderTotal: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pizza42_order_total_cents",
			Help:    "注文金額（セント）の分布",
			Buckets: []float64{500, 1000, 2000, 5000, 10000, 25000, 50000, 100000},
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pizza42_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pizza42_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.tokenVerifications,
		c.jwksFetches,
		c.ordersCreated,
		c.orderTotal,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordTokenVerification はトークン検証の結果（"success" または拒否理由）を記録する。
func (c *Collector) RecordTokenVerification(result string) {
	c.tokenVerifications.WithLabelValues(result).Inc()
}

// RecordJWKSFetch は鍵セット取得の結果を記録する。
func (c *Collector) RecordJWKSFetch(result string) {
	c.jwksFetches.WithLabelValues(result).Inc()
}

// RecordOrderCreated は注文作成を記録する。
func (c *Collector) RecordOrderCreated(totalCents int64) {
	c.ordersCreated.Inc()
	c.orderTotal.Observe(float64(totalCents))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

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
