// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 同期オーケストレーターとワーカーから利用する。
type MetricsCollector interface {
	RecordPassSuccess(granularity string)
	RecordPassFailure(granularity string, stage string)
	RecordEventsPushed(count int)
	RecordLeftoverCombinations(count int)
	RecordPassLatency(duration time.Duration)
	RecordTriggerIgnored(updateType string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	passSuccess    *prometheus.CounterVec
	passFail       *prometheus.CounterVec
	eventsPushed   prometheus.Counter
	leftoverCombos prometheus.Counter
	passLatency    prometheus.Histogram
	triggerIgnored *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		passSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_sync_pass_success_total",
			Help: "同期パス成功の合計数（粒度別）",
		}, []string{"granularity"}),
		passFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_sync_pass_fail_total",
			Help: "同期パス失敗の合計数（粒度・失敗ステージ別）",
		}, []string{"granularity", "stage"}),
		eventsPushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_events_pushed_total",
			Help: "Pryvへ書き込んだイベントの合計数",
		}),
		leftoverCombos: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_leftover_combinations_total",
			Help: "変換できなかった計測値の合計数",
		}),
		passLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_sync_pass_latency_seconds",
			Help:    "同期パスのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		triggerIgnored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_trigger_ignored_total",
			Help: "同期を伴わなかったトリガーの合計数（updateType別）",
		}, []string{"update_type"}),
	}

	reg.MustRegister(
		c.passSuccess,
		c.passFail,
		c.eventsPushed,
		c.leftoverCombos,
		c.passLatency,
		c.triggerIgnored,
	)

	return c
}

// RecordPassSuccess は同期パス成功を記録する。
func (c *Collector) RecordPassSuccess(granularity string) {
	c.passSuccess.WithLabelValues(granularity).Inc()
}

// RecordPassFailure は同期パス失敗を失敗ステージ（fetch/push）付きで記録する。
func (c *Collector) RecordPassFailure(granularity string, stage string) {
	c.passFail.WithLabelValues(granularity, stage).Inc()
}

// RecordEventsPushed は書き込んだイベント数を記録する。
func (c *Collector) RecordEventsPushed(count int) {
	c.eventsPushed.Add(float64(count))
}

// RecordLeftoverCombinations は変換できなかった計測値数を記録する。
func (c *Collector) RecordLeftoverCombinations(count int) {
	c.leftoverCombos.Add(float64(count))
}

// RecordPassLatency は同期パスのレイテンシを記録する。
func (c *Collector) RecordPassLatency(duration time.Duration) {
	c.passLatency.Observe(duration.Seconds())
}

// RecordTriggerIgnored は同期を伴わなかったトリガー（NEW/DELETED/未知）を記録する。
func (c *Collector) RecordTriggerIgnored(updateType string) {
	c.triggerIgnored.WithLabelValues(updateType).Inc()
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
