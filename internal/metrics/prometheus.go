package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics Prometheus 指标收集器, nil 时所有记录方法为空操作
type Metrics struct {
	logger   *logrus.Logger
	registry *prometheus.Registry

	// HTTP 请求指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 构建指标
	buildsTotal      *prometheus.CounterVec
	buildsInProgress prometheus.Gauge
	buildDuration    *prometheus.HistogramVec
	stagesTotal      *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec

	// Worker Pool 指标
	workerPoolSize      prometheus.Gauge
	workerPoolActive    prometheus.Gauge
	workerPoolQueueSize prometheus.Gauge

	// mapping 热加载
	mappingReloadsTotal *prometheus.CounterVec
}

// New 创建指标收集器, 指标注册到独立的 registry
func New(logger *logrus.Logger, namespace string) *Metrics {
	if namespace == "" {
		namespace = "resguard"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		logger:   logger,
		registry: reg,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latencies in seconds",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path"},
		),

		buildsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "builds_total",
				Help:      "Total number of apk builds",
			},
			[]string{"status"}, // queued, running, completed, failed
		),
		buildsInProgress: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "builds_in_progress",
				Help:      "Number of builds currently in progress",
			},
		),
		buildDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "build_duration_seconds",
				Help:      "Build duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),
		stagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stages_total",
				Help:      "Total number of pipeline stages by outcome",
			},
			[]string{"stage", "status"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Pipeline stage duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"stage"},
		),

		workerPoolSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_pool_size",
				Help:      "Number of workers in the pool",
			},
		),
		workerPoolActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_pool_active",
				Help:      "Number of active workers",
			},
		),
		workerPoolQueueSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_pool_queue_size",
				Help:      "Number of builds waiting in queue",
			},
		),

		mappingReloadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mapping_reloads_total",
				Help:      "Total number of legacy mapping reloads",
			},
			[]string{"result"}, // success, failure
		),
	}

	logger.Debug("Prometheus metrics initialized")
	return m
}

// Registry 返回指标 registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPMiddleware HTTP 请求监控中间件
func (m *Metrics) HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		if m == nil {
			return
		}

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		m.httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

// Handler 返回 Prometheus HTTP Handler
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordBuildQueued 记录构建入队
func (m *Metrics) RecordBuildQueued() {
	if m == nil {
		return
	}
	m.buildsTotal.WithLabelValues("queued").Inc()
}

// RecordBuildStarted 记录构建开始
func (m *Metrics) RecordBuildStarted() {
	if m == nil {
		return
	}
	m.buildsTotal.WithLabelValues("running").Inc()
	m.buildsInProgress.Inc()
}

// RecordBuildFinished 记录构建结束
func (m *Metrics) RecordBuildFinished(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.buildsTotal.WithLabelValues(status).Inc()
	m.buildsInProgress.Dec()
	m.buildDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordStage 记录单个阶段
func (m *Metrics) RecordStage(stage, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stagesTotal.WithLabelValues(stage, status).Inc()
	if status != "skipped" {
		m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
	}
}

// UpdateWorkerPoolStats 更新 Worker Pool 统计
func (m *Metrics) UpdateWorkerPoolStats(size, active, queueSize int) {
	if m == nil {
		return
	}
	m.workerPoolSize.Set(float64(size))
	m.workerPoolActive.Set(float64(active))
	m.workerPoolQueueSize.Set(float64(queueSize))
}

// RecordMappingReload 记录 mapping 重新加载结果
func (m *Metrics) RecordMappingReload(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.mappingReloadsTotal.WithLabelValues(result).Inc()
}
