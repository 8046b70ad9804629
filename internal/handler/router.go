package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"tenantgate-go/internal/metrics"
)

// RouterConfig 路由配置结构
type RouterConfig struct {
	SecurityHandler *SecurityHandler
	TenantAuth      TenantAuthMiddleware // 租户认证中间件接口
	Metrics         *metrics.GateMetrics
	DBPinger        DBPinger // 就绪检查使用，可为nil
}

// TenantAuthMiddleware 租户认证中间件接口
type TenantAuthMiddleware interface {
	TenantAuth() gin.HandlerFunc
}

// DBPinger 数据库连通性检查接口
type DBPinger interface {
	Ping(ctx context.Context) error
}

// SetupRoutes 配置所有API路由
// 基础中间件链由 middleware.SetupMiddleware 先行挂载
func SetupRoutes(r *gin.Engine, config *RouterConfig) {
	if config.Metrics != nil {
		r.Use(config.Metrics.HTTPMetricsMiddleware())
	}

	v1 := r.Group("/api/v1")
	{
		// 受保护API - 需要租户JWT认证
		protected := v1.Group("/")
		if config.TenantAuth != nil {
			protected.Use(config.TenantAuth.TenantAuth())
		}
		{
			guard := protected.Group("/guard")
			{
				guard.POST("/check", config.SecurityHandler.CheckPrompt) // 提示词注入检查
			}

			sql := protected.Group("/sql")
			{
				sql.POST("/validate", config.SecurityHandler.ValidateSQL)           // 租户隔离验证
				sql.POST("/quick-validate", config.SecurityHandler.QuickValidateSQL) // 轻量预检
				sql.POST("/execute", config.SecurityHandler.ExecuteSQL)             // 验证并执行
			}
		}
	}

	setupSystemRoutes(r, config)
}

// setupSystemRoutes 配置系统级路由
func setupSystemRoutes(r *gin.Engine, config *RouterConfig) {
	r.GET("/health", healthCheck)
	r.GET("/ready", readinessCheck(config.DBPinger))

	if config.Metrics != nil {
		r.GET("/metrics", config.Metrics.GetMetricsHandler())
	}
}

// healthCheck 健康检查处理器
func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"service":   "tenantgate-api",
	})
}

// readinessCheck 就绪状态检查
func readinessCheck(pinger DBPinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		dbStatus := "skipped"
		if pinger != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
			defer cancel()

			if err := pinger.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status": "not_ready",
					"checks": gin.H{"database": err.Error()},
				})
				return
			}
			dbStatus = "ok"
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "ready",
			"checks": gin.H{"database": dbStatus},
		})
	}
}

func init() {
	// 配置JSON绑定选项，拒绝未知字段
	binding.EnableDecoderUseNumber = true
	binding.EnableDecoderDisallowUnknownFields = true
}
