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
// 認証サービス、セッション掃除ワーカー、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordSignup(result string)
	RecordLogin(method, result string)
	RecordLogout()
	RecordSessionCreated()
	RecordSessionsSwept(count int64)
	RecordHashLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	signups         *prometheus.CounterVec
	logins          *prometheus.CounterVec
	logouts         prometheus.Counter
	sessionsCreated prometheus.Counter
	sessionsSwept   prometheus.Counter
	hashLatency     prometheus.Histogram
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "passgate_signups_total",
			Help: "サインアップ試行数（結果別）",
		}, []string{"result"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "passgate_logins_total",
			Help: "ログイン試行数（方式・結果別）",
		}, []string{"method", "result"}),
		logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "passgate_logouts_total",
			Help: "ログアウト数",
		}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "passgate_sessions_created_total",
			Help: "発行されたセッション数",
		}),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "passgate_sessions_swept_total",
			Help: "期限切れで削除されたセッション数",
		}),
		hashLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "passgate_password_hash_seconds",
			Help:    "パスワードハッシュ計算・照合のレイテンシ（秒）",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "passgate_http_responses_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.signups,
		c.logins,
		c.logouts,
		c.sessionsCreated,
		c.sessionsSwept,
		c.hashLatency,
		c.httpStatus,
	)

	return c
}

// RecordSignup はサインアップ結果を記録する。resultは"success"または失敗理由。
func (c *Collector) RecordSignup(result string) {
	c.signups.WithLabelValues(result).Inc()
}

// RecordLogin はログイン結果を記録する。
func (c *Collector) RecordLogin(method, result string) {
	c.logins.WithLabelValues(method, result).Inc()
}

func (c *Collector) RecordLogout() {
	c.logouts.Inc()
}

func (c *Collector) RecordSessionCreated() {
	c.sessionsCreated.Inc()
}

// RecordSessionsSwept は掃除で削除されたセッション数を加算する。
func (c *Collector) RecordSessionsSwept(count int64) {
	if count <= 0 {
		return
	}
	c.sessionsSwept.Add(float64(count))
}

func (c *Collector) RecordHashLatency(duration time.Duration) {
	c.hashLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。メトリクス未設定時とテストで使う。
type Nop struct{}

func (Nop) RecordSignup(string) {}
func (Nop) RecordLogin(string, string) {}
func (Nop) RecordLogout() {}
func (Nop) RecordSessionCreated() {}
func (Nop) RecordSessionsSwept(int64) {}
func (Nop) RecordHashLatency(time.Duration) {}
func (Nop) RecordHTTPStatus(int) {}

// compile-time interface checks
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
