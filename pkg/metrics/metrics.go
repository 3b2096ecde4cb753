// Package metrics 定义服务暴露给 Prometheus 的指标。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 持有独立的 registry，测试中可多次创建而不冲突。
type Metrics struct {
	registry *prometheus.Registry

	turnTotal     *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	persistTotal  *prometheus.CounterVec
	persistQueue  prometheus.Gauge
	persistDrop   *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
}

// New 创建并注册全部指标。
func New() *Metrics {
	registry := prometheus.NewRegistry()

	turnTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finpro",
			Subsystem: "chat",
			Name:      "turn_total",
			Help:      "Chat turns by final status.",
		},
		[]string{"status"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "finpro",
			Subsystem: "chat",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each turn stage.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"stage", "status"},
	)
	persistTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finpro",
			Subsystem: "persistence",
			Name:      "turn_total",
			Help:      "Background turn persistence outcomes.",
		},
		[]string{"mode", "status"},
	)
	persistQueue := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "finpro",
			Subsystem: "persistence",
			Name:      "queue_depth",
			Help:      "Turns waiting in the write-behind queue.",
		},
	)
	persistDrop := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finpro",
			Subsystem: "persistence",
			Name:      "dropped_total",
			Help:      "Turns dropped before delivery, by reason.",
		},
		[]string{"mode", "reason"},
	)
	httpRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finpro",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		},
		[]string{"method", "route", "code"},
	)

	registry.MustRegister(
		turnTotal, stageDuration, persistTotal, persistQueue, persistDrop, httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		registry:      registry,
		turnTotal:     turnTotal,
		stageDuration: stageDuration,
		persistTotal:  persistTotal,
		persistQueue:  persistQueue,
		persistDrop:   persistDrop,
		httpRequests:  httpRequests,
	}
}

// Handler 返回 /metrics 的 http.Handler。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 暴露底层 registry，便于测试读取。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveStage 记录一个阶段的耗时。
func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage, statusOf(err)).Observe(d.Seconds())
}

// FinishTurn 记录一轮对话的结果。
func (m *Metrics) FinishTurn(err error) {
	if m == nil {
		return
	}
	m.turnTotal.WithLabelValues(statusOf(err)).Inc()
}

// ObservePersist 记录一次后台落库的结果。
func (m *Metrics) ObservePersist(mode string, err error) {
	if m == nil {
		return
	}
	m.persistTotal.WithLabelValues(mode, statusOf(err)).Inc()
}

// ObservePersistDropped 记录一次未能投递就被丢弃的轮次。
func (m *Metrics) ObservePersistDropped(mode, reason string) {
	if m == nil {
		return
	}
	m.persistDrop.WithLabelValues(mode, reason).Inc()
}

// SetPersistQueueDepth 更新写回队列长度。
func (m *Metrics) SetPersistQueueDepth(n int) {
	if m == nil {
		return
	}
	m.persistQueue.Set(float64(n))
}

// ObserveHTTP 记录一次 HTTP 请求。
func (m *Metrics) ObserveHTTP(method, route, code string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, code).Inc()
}
