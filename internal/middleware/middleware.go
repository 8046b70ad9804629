// Package middleware HTTP中间件链
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// MiddlewareConfig 中间件配置
type MiddlewareConfig struct {
	Logger    *zap.Logger
	RateLimit *RateLimitConfig
	CORS      *CORSConfig
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	RequestsPerSecond int           // 每秒请求数限制
	Burst             int           // 突发请求数
	CleanupInterval   time.Duration // 空闲限流器清理间隔
}

// CORSConfig CORS配置
type CORSConfig struct {
	AllowOrigins     []string // 允许的源
	AllowMethods     []string // 允许的HTTP方法
	AllowHeaders     []string // 允许的请求头
	AllowCredentials bool     // 是否允许凭据
	MaxAge           int      // 预检请求缓存时间(秒)
}

// DefaultMiddlewareConfig 默认中间件配置
func DefaultMiddlewareConfig(logger *zap.Logger) *MiddlewareConfig {
	return &MiddlewareConfig{
		Logger: logger,
		RateLimit: &RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
			CleanupInterval:   5 * time.Minute,
		},
		CORS: &CORSConfig{
			AllowOrigins:     []string{"*"},
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept-Encoding", "Authorization", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           86400,
		},
	}
}

// SetupMiddleware 配置基础中间件链
// 认证与指标中间件由路由层按分组挂载
func SetupMiddleware(r *gin.Engine, config *MiddlewareConfig) {
	r.Use(RecoveryMiddleware(config.Logger))
	r.Use(RequestIDMiddleware())
	r.Use(StructuredLogger(config.Logger))
	r.Use(SecurityHeaders())
	r.Use(CORSMiddleware(config.CORS))
	r.Use(RateLimitMiddleware(config.RateLimit))
}

// RecoveryMiddleware 恢复中间件
// 捕获panic并记录详细错误日志，防止服务崩溃
func RecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		if logger != nil {
			logger.Error("Request panic recovered",
				zap.Any("panic", recovered),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.String("remote_addr", c.ClientIP()),
			)
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"code":      "INTERNAL_ERROR",
			"message":   "服务器内部错误",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})
}

// StructuredLogger 结构化日志中间件
// 记录每个HTTP请求的响应时间、状态码和请求ID
func StructuredLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		if logger == nil {
			return
		}
		logger.Info("HTTP Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("remote_addr", c.ClientIP()),
			zap.String("request_id", c.GetString("request_id")),
			zap.Int("body_size", c.Writer.Size()),
		)
	}
}

// SecurityHeaders 安全头中间件
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Content-Security-Policy", "default-src 'none'")

		if c.Request.TLS != nil {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}

// CORSMiddleware CORS跨域中间件
// 处理跨域请求，支持预检请求和实际请求
func CORSMiddleware(config *CORSConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if len(config.AllowOrigins) > 0 && (config.AllowOrigins[0] == "*" || contains(config.AllowOrigins, origin)) {
			c.Header("Access-Control-Allow-Origin", origin)
		}
		if len(config.AllowMethods) > 0 {
			c.Header("Access-Control-Allow-Methods", strings.Join(config.AllowMethods, ", "))
		}
		if len(config.AllowHeaders) > 0 {
			c.Header("Access-Control-Allow-Headers", strings.Join(config.AllowHeaders, ", "))
		}
		if config.AllowCredentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		if config.MaxAge > 0 {
			c.Header("Access-Control-Max-Age", strconv.Itoa(config.MaxAge))
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RateLimiter 按调用方维度的限流器集合
type RateLimiter struct {
	limiters        sync.Map
	rate            rate.Limit
	burst           int
	cleanupInterval time.Duration
	lastCleanup     time.Time
	mu              sync.Mutex
}

// NewRateLimiter 创建限流器实例
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		rate:            rate.Limit(config.RequestsPerSecond),
		burst:           config.Burst,
		cleanupInterval: config.CleanupInterval,
		lastCleanup:     time.Now(),
	}
}

// Allow 检查是否允许请求
func (rl *RateLimiter) Allow(key string) bool {
	rl.cleanup()

	limiterInterface, _ := rl.limiters.LoadOrStore(key, rate.NewLimiter(rl.rate, rl.burst))
	limiter := limiterInterface.(*rate.Limiter)

	return limiter.Allow()
}

// cleanup 周期性重建限流器集合，避免key无限增长
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastCleanup) < rl.cleanupInterval {
		return
	}

	rl.limiters.Range(func(key, _ any) bool {
		rl.limiters.Delete(key)
		return true
	})
	rl.lastCleanup = time.Now()
}

// RateLimitMiddleware 请求限流中间件
// 优先按已认证租户限流，未认证时退化为按IP限流
func RateLimitMiddleware(config *RateLimitConfig) gin.HandlerFunc {
	limiter := NewRateLimiter(config)

	return func(c *gin.Context) {
		var limitKey string
		if tenantID, ok := TenantIDFromContext(c); ok {
			limitKey = "tenant:" + tenantID
		} else {
			limitKey = "ip:" + c.ClientIP()
		}

		if !limiter.Allow(limitKey) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"code":        "RATE_LIMIT_EXCEEDED",
				"message":     "请求频率超过限制，请稍后重试",
				"retry_after": 60,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequestIDMiddleware 请求ID中间件
// 为每个请求生成唯一ID，用于日志追踪和调试
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

// contains 检查字符串切片是否包含指定字符串
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
