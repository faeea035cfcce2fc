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
// 認証、アウトボックス、ワーカーから利用する。
type MetricsCollector interface {
	RecordAuthFailure(kind string)
	RecordTokenIssued()
	RecordHTTPStatus(statusCode int)
	RecordEventAppended(eventType string)
	RecordEventDelivered(eventType string)
	RecordEventFailed(eventType string)
	RecordEventPoisoned(eventType string)
	RecordPublicationsReaped(count int64)
	RecordResubmitLatency(duration time.Duration)
	RecordNotesCascaded(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authFailures       *prometheus.CounterVec
	tokensIssued       prometheus.Counter
	httpStatus         *prometheus.CounterVec
	eventsAppended     *prometheus.CounterVec
	eventsDelivered    *prometheus.CounterVec
	eventsFailed       *prometheus.CounterVec
	eventsPoisoned     *prometheus.CounterVec
	publicationsReaped prometheus.Counter
	resubmitLatency    prometheus.Histogram
	notesCascaded      prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notekeeper_auth_failures_total",
			Help: "提示方式別の認証失敗数",
		}, []string{"kind"}),
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notekeeper_tokens_issued_total",
			Help: "発行したトークンの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notekeeper_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notekeeper_outbox_events_appended_total",
			Help: "アウトボックスに追記したイベント数",
		}, []string{"event_type"}),
		eventsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notekeeper_outbox_events_delivered_total",
			Help: "配信が完了したイベント数",
		}, []string{"event_type"}),
		eventsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notekeeper_outbox_events_failed_total",
			Help: "配信に失敗したイベント数（再送対象）",
		}, []string{"event_type"}),
		eventsPoisoned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notekeeper_outbox_events_poisoned_total",
			Help: "試行回数が閾値を超えたイベント数",
		}, []string{"event_type"}),
		publicationsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notekeeper_outbox_publications_reaped_total",
			Help: "保持期間を過ぎて削除した完了済みエントリ数",
		}),
		resubmitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "notekeeper_outbox_resubmit_duration_seconds",
			Help:    "再送パス1回あたりの所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		notesCascaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notekeeper_notes_cascaded_total",
			Help: "退会に伴いカスケード削除したメモ数",
		}),
	}

	reg.MustRegister(
		c.authFailures,
		c.tokensIssued,
		c.httpStatus,
		c.eventsAppended,
		c.eventsDelivered,
		c.eventsFailed,
		c.eventsPoisoned,
		c.publicationsReaped,
		c.resubmitLatency,
		c.notesCascaded,
	)

	return c
}

// RecordAuthFailure は認証失敗を記録する。
func (c *Collector) RecordAuthFailure(kind string) {
	c.authFailures.WithLabelValues(kind).Inc()
}

// RecordTokenIssued はトークン発行を記録する。
func (c *Collector) RecordTokenIssued() {
	c.tokensIssued.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordEventAppended はアウトボックスへの追記を記録する。
func (c *Collector) RecordEventAppended(eventType string) {
	c.eventsAppended.WithLabelValues(eventType).Inc()
}

// RecordEventDelivered は配信完了を記録する。
func (c *Collector) RecordEventDelivered(eventType string) {
	c.eventsDelivered.WithLabelValues(eventType).Inc()
}

// RecordEventFailed は配信失敗を記録する。
func (c *Collector) RecordEventFailed(eventType string) {
	c.eventsFailed.WithLabelValues(eventType).Inc()
}

// RecordEventPoisoned はエスカレーション対象のイベントを記録する。
func (c *Collector) RecordEventPoisoned(eventType string) {
	c.eventsPoisoned.WithLabelValues(eventType).Inc()
}

// RecordPublicationsReaped は削除した完了済みエントリ数を記録する。
func (c *Collector) RecordPublicationsReaped(count int64) {
	c.publicationsReaped.Add(float64(count))
}

// RecordResubmitLatency は再送パスの所要時間を記録する。
func (c *Collector) RecordResubmitLatency(duration time.Duration) {
	c.resubmitLatency.Observe(duration.Seconds())
}

// RecordNotesCascaded はカスケード削除したメモ数を記録する。
func (c *Collector) RecordNotesCascaded(count int64) {
	c.notesCascaded.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントのみを提供するHTTPハンドラーを返す。
// ワーカープロセスのメトリクスサーバーで使用する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

var _ MetricsCollector = (*Collector)(nil)
