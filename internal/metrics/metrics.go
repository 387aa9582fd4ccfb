// Package metrics はプロキシの稼働状況をPrometheus形式で公開する.
// teacherのusecase/metrics.go + interface/repository/metricsが持っていた
// 手組みのPrometheusテキスト生成を、prometheus/client_golangに置き換える.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector はプロキシの各種カウンタ/ゲージをまとめる.
type Collector struct {
	Registry *prometheus.Registry

	ActiveConnections prometheus.Gauge
	RequestsTotal     *prometheus.CounterVec
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
	CacheEvictions    *prometheus.CounterVec
	TunnelsOpened     prometheus.Counter
	BytesTransferred  prometheus.Counter
	Errors            *prometheus.CounterVec

	startTime time.Time
	requests  int64
	blocked   int64
}

// New はメトリクス一式を新しいレジストリに登録する.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry:  reg,
		startTime: time.Now(),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proxy_active_connections",
			Help: "Current number of accepted client connections being handled.",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proxy_requests_total",
			Help: "Total number of requests processed, by method.",
		}, []string{"method"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proxy_cache_hits_total",
			Help: "Total number of GET requests served from a valid cache entry.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proxy_cache_misses_total",
			Help: "Total number of GET requests not served from cache.",
		}),
		CacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proxy_cache_evictions_total",
			Help: "Total number of cache entries removed, by reason (evicted|swept).",
		}, []string{"reason"}),
		TunnelsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proxy_tunnels_opened_total",
			Help: "Total number of CONNECT tunnels established.",
		}),
		BytesTransferred: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proxy_bytes_transferred_total",
			Help: "Total bytes relayed between clients and origin servers.",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proxy_errors_total",
			Help: "Total number of handler errors, by kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.ActiveConnections, c.RequestsTotal, c.CacheHits, c.CacheMisses,
		c.CacheEvictions, c.TunnelsOpened, c.BytesTransferred, c.Errors,
	)
	return c
}

// RecordRequest はメソッド別リクエスト数を加算する.
func (c *Collector) RecordRequest(method string) {
	atomic.AddInt64(&c.requests, 1)
	c.RequestsTotal.WithLabelValues(method).Inc()
}

// RecordBlocked はアクセス制御でブロックされたリクエストを数える.
func (c *Collector) RecordBlocked() {
	atomic.AddInt64(&c.blocked, 1)
}

// Snapshot はJSON公開用の軽量なスナップショットを返す.
type Snapshot struct {
	Timestamp       time.Time `json:"timestamp"`
	StartTime       time.Time `json:"start_time"`
	Uptime          string    `json:"uptime"`
	TotalRequests   int64     `json:"total_requests"`
	BlockedRequests int64     `json:"blocked_requests"`
}

// Snapshot は現在のカウンタの軽量な要約を返す (/statsハンドラ用).
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Timestamp:       time.Now(),
		StartTime:       c.startTime,
		Uptime:          time.Since(c.startTime).String(),
		TotalRequests:   atomic.LoadInt64(&c.requests),
		BlockedRequests: atomic.LoadInt64(&c.blocked),
	}
}
