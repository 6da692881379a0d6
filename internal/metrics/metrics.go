// Package metrics はPrometheusメトリクスの収集と出力を提供する。
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// サインイン結果のラベル値
const (
	OutcomeSuccess   = "success"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証コーディネータから利用する。
type MetricsCollector interface {
	RecordSignIn(provider, outcome string)
	RecordSignOut()
	RecordIdentityCacheLookup(hit bool)
	RecordProviderLatency(provider string, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	signIns         *prometheus.CounterVec
	signOuts        prometheus.Counter
	cacheLookups    *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gofinances_signin_total",
			Help: "プロバイダー・結果別のサインイン試行数",
		}, []string{"provider", "outcome"}),
		signOuts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gofinances_signout_total",
			Help: "サインアウトの合計数",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gofinances_identity_cache_lookups_total",
			Help: "identityキャッシュの参照数（hit/miss）",
		}, []string{"result"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gofinances_provider_latency_seconds",
			Help:    "外部認証フローの所要時間（秒）",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"provider"}),
	}

	reg.MustRegister(
		c.signIns,
		c.signOuts,
		c.cacheLookups,
		c.providerLatency,
	)

	return c
}

// RecordSignIn はサインイン試行の結果を記録する。
func (c *Collector) RecordSignIn(provider, outcome string) {
	c.signIns.WithLabelValues(provider, outcome).Inc()
}

// RecordSignOut はサインアウトを記録する。
func (c *Collector) RecordSignOut() {
	c.signOuts.Inc()
}

// RecordIdentityCacheLookup はidentityキャッシュの参照結果を記録する。
func (c *Collector) RecordIdentityCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

// RecordProviderLatency は外部認証フローの所要時間を記録する。
func (c *Collector) RecordProviderLatency(provider string, duration time.Duration) {
	c.providerLatency.WithLabelValues(provider).Observe(duration.Seconds())
}

// WriteTextfile はnode_exporterのtextfileコレクタ形式でメトリクスをファイルに書き出す。
func WriteTextfile(path string, gatherer prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, gatherer); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// NoopCollector は何も記録しないMetricsCollector。
type NoopCollector struct{}

func (NoopCollector) RecordSignIn(string, string) {}
func (NoopCollector) RecordSignOut() {}
func (NoopCollector) RecordIdentityCacheLookup(bool) {}
func (NoopCollector) RecordProviderLatency(string, time.Duration) {}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NoopCollector{}
)
