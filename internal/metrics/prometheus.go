// Package metrics Prometheus指标收集
// 覆盖HTTP请求与安全闸门（提示词检查、SQL验证、拦截执行）的关键指标
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// GateMetrics 安全闸门指标收集器
type GateMetrics struct {
	// HTTP请求指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 提示词防护指标
	promptChecksTotal   *prometheus.CounterVec
	promptCheckDuration prometheus.Histogram

	// SQL验证指标
	sqlValidationsTotal   *prometheus.CounterVec
	sqlValidationDuration prometheus.Histogram

	// 执行层指标
	executionsTotal *prometheus.CounterVec

	registry *prometheus.Registry
	logger   *zap.Logger
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Namespace string // 指标命名空间
	Subsystem string // 指标子系统
}

// DefaultMetricsConfig 默认指标配置
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Namespace: "tenantgate",
		Subsystem: "gate",
	}
}

// NewGateMetrics 创建指标收集器
func NewGateMetrics(config *MetricsConfig, logger *zap.Logger) *GateMetrics {
	if config == nil {
		config = DefaultMetricsConfig()
	}
	m := &GateMetrics{
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}

	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	m.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	m.promptChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "prompt_checks_total",
			Help:      "Total number of prompt injection checks",
		},
		[]string{"result", "confidence"},
	)

	m.promptCheckDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "prompt_check_duration_seconds",
			Help:      "Prompt injection check duration in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
	)

	m.sqlValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "sql_validations_total",
			Help:      "Total number of SQL tenant isolation validations",
		},
		[]string{"result", "violation_type"},
	)

	m.sqlValidationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "sql_validation_duration_seconds",
			Help:      "SQL validation duration in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
	)

	m.executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "executor",
			Name:      "executions_total",
			Help:      "Total number of gated SQL executions",
		},
		[]string{"status"},
	)

	m.registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.promptChecksTotal,
		m.promptCheckDuration,
		m.sqlValidationsTotal,
		m.sqlValidationDuration,
		m.executionsTotal,
	)

	return m
}

// RecordPromptCheck 记录一次提示词检查
func (m *GateMetrics) RecordPromptCheck(blocked bool, confidence string, duration time.Duration) {
	result := "allowed"
	if blocked {
		result = "blocked"
	}
	m.promptChecksTotal.WithLabelValues(result, confidence).Inc()
	m.promptCheckDuration.Observe(duration.Seconds())
}

// RecordSQLValidation 记录一次SQL验证
func (m *GateMetrics) RecordSQLValidation(valid bool, violationType string, duration time.Duration) {
	result := "allowed"
	if !valid {
		result = "blocked"
	}
	if violationType == "" {
		violationType = "none"
	}
	m.sqlValidationsTotal.WithLabelValues(result, violationType).Inc()
	m.sqlValidationDuration.Observe(duration.Seconds())
}

// RecordExecution 记录一次执行层判定
func (m *GateMetrics) RecordExecution(status string) {
	m.executionsTotal.WithLabelValues(status).Inc()
}

// HTTPMetricsMiddleware HTTP指标收集中间件
func (m *GateMetrics) HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		m.httpRequestsTotal.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpRequestDuration.WithLabelValues(
			c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// GetMetricsHandler 返回/metrics端点处理器
func (m *GateMetrics) GetMetricsHandler() gin.HandlerFunc {
	handler := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		handler.ServeHTTP(c.Writer, c.Request)
	}
}
