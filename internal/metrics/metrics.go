// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 認証結果ラベルの値
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultError   = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービス、HTTPミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordLogin(result string)
	RecordRegistration()
	RecordPasswordResetRequest()
	RecordPasswordReset(result string)
	RecordOAuthLogin(result string)
	RecordMailFailure()
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordResetTokensCleaned(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	login              *prometheus.CounterVec
	registrations      prometheus.Counter
	resetRequests      prometheus.Counter
	resets             *prometheus.CounterVec
	oauthLogins        *prometheus.CounterVec
	mailFailures       prometheus.Counter
	httpStatus         *prometheus.CounterVec
	requestLatency     prometheus.Histogram
	resetTokensCleaned prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		login: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskdesk_login_total",
			Help: "ローカル認証によるログイン試行数（結果別）",
		}, []string{"result"}),
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskdesk_registrations_total",
			Help: "ローカル認証によるユーザー登録数",
		}),
		resetRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskdesk_password_reset_requests_total",
			Help: "パスワードリセット申請数（ユーザー存在有無を問わない）",
		}),
		resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskdesk_password_resets_total",
			Help: "パスワードリセット実行数（結果別）",
		}, []string{"result"}),
		oauthLogins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskdesk_oauth_logins_total",
			Help: "OAuthログイン数（結果別）",
		}, []string{"result"}),
		mailFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskdesk_mail_failures_total",
			Help: "メール送信失敗数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskdesk_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskdesk_request_latency_seconds",
			Help:    "HTTPリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		resetTokensCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskdesk_reset_tokens_cleaned_total",
			Help: "クリーンアップジョブでクリアされた期限切れリセットトークン数",
		}),
	}

	reg.MustRegister(
		c.login,
		c.registrations,
		c.resetRequests,
		c.resets,
		c.oauthLogins,
		c.mailFailures,
		c.httpStatus,
		c.requestLatency,
		c.resetTokensCleaned,
	)

	return c
}

// RecordLogin はログイン試行を記録する。
func (c *Collector) RecordLogin(result string) {
	c.login.WithLabelValues(result).Inc()
}

// RecordRegistration はユーザー登録を記録する。
func (c *Collector) RecordRegistration() {
	c.registrations.Inc()
}

// RecordPasswordResetRequest はパスワードリセット申請を記録する。
func (c *Collector) RecordPasswordResetRequest() {
	c.resetRequests.Inc()
}

// RecordPasswordReset はパスワードリセット実行を記録する。
func (c *Collector) RecordPasswordReset(result string) {
	c.resets.WithLabelValues(result).Inc()
}

// RecordOAuthLogin はOAuthログインを記録する。
func (c *Collector) RecordOAuthLogin(result string) {
	c.oauthLogins.WithLabelValues(result).Inc()
}

// RecordMailFailure はメール送信失敗を記録する。
func (c *Collector) RecordMailFailure() {
	c.mailFailures.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はHTTPリクエストのレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordResetTokensCleaned はクリアされたリセットトークン数を記録する。
func (c *Collector) RecordResetTokensCleaned(count int64) {
	c.resetTokensCleaned.Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordLogin(string) {}
func (Nop) RecordRegistration() {}
func (Nop) RecordPasswordResetRequest() {}
func (Nop) RecordPasswordReset(string) {}
func (Nop) RecordOAuthLogin(string) {}
func (Nop) RecordMailFailure() {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordRequestLatency(time.Duration) {}
func (Nop) RecordResetTokensCleaned(int64) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
