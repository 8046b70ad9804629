package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"tenantgate-go/internal/auth"
	"tenantgate-go/internal/config"
	"tenantgate-go/internal/executor"
	"tenantgate-go/internal/gate"
	"tenantgate-go/internal/handler"
	"tenantgate-go/internal/metrics"
	"tenantgate-go/internal/middleware"
)

func main() {
	// 初始化日志
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting TenantGate Server",
		zap.String("version", "0.1.0"),
		zap.String("go_version", runtime.Version()))

	// 加载环境变量
	if err := config.LoadEnv(".env"); err != nil {
		logger.Warn("Failed to load .env file", zap.Error(err))
	}

	// 初始化配置
	securityConfig := config.LoadSecurityConfigFromEnv()
	if err := securityConfig.Validate(); err != nil {
		logger.Fatal("安全配置无效", zap.Error(err))
	}
	dbConfig := config.LoadDatabaseConfigFromEnv()

	// 初始化数据库连接池
	poolConfig, err := dbConfig.GetPoolConfig(logger)
	if err != nil {
		logger.Fatal("Failed to build pool config", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	cancel()
	if err != nil {
		logger.Fatal("Failed to initialize database pool", zap.Error(err))
	}
	defer pool.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := pool.Ping(pingCtx); err != nil {
		logger.Warn("数据库连通性检查失败，仅验证端点可用", zap.Error(err))
	} else {
		logger.Info("Database connection established successfully")
	}
	pingCancel()

	// 初始化JWT服务
	jwtService, err := auth.NewJWTService(auth.DefaultJWTConfig(securityConfig.JWTSecret), logger)
	if err != nil {
		logger.Fatal("Failed to initialize JWT service", zap.Error(err))
	}

	// 初始化Prometheus指标
	gateMetrics := metrics.NewGateMetrics(metrics.DefaultMetricsConfig(), logger)

	// 初始化安全闸门与执行器
	securityGate := gate.NewGate(&gate.GateConfig{
		EnforceBlock: securityConfig.EnforceBlock,
	}, gateMetrics, logger)

	readExecutor := executor.NewReadOnlyExecutor(pool, &executor.ExecutorConfig{
		QueryTimeout: securityConfig.QueryTimeout,
		MaxRows:      securityConfig.MaxRows,
		MaxResultMB:  securityConfig.MaxResultMB,
	}, logger)

	// 初始化处理器与中间件
	securityHandler := handler.NewSecurityHandler(securityGate, readExecutor, &handler.SecurityHandlerConfig{
		TenantColumn:     securityConfig.TenantColumn,
		MaxSubqueryDepth: securityConfig.MaxSubqueryDepth,
		StrictMode:       securityConfig.StrictMode,
		AllowedTables:    securityConfig.AllowedTables,
	}, gateMetrics, logger)

	tenantAuth := middleware.NewTenantAuthMiddleware(jwtService, logger)

	middlewareConfig := middleware.DefaultMiddlewareConfig(logger)
	middlewareConfig.RateLimit.RequestsPerSecond = securityConfig.RateLimitRPS
	middlewareConfig.RateLimit.Burst = securityConfig.RateBurst

	// 初始化Gin路由器
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	middleware.SetupMiddleware(r, middlewareConfig)

	handler.SetupRoutes(r, &handler.RouterConfig{
		SecurityHandler: securityHandler,
		TenantAuth:      tenantAuth,
		Metrics:         gateMetrics,
		DBPinger:        readExecutor,
	})

	// 启动HTTP服务器
	srv := &http.Server{
		Addr:           securityConfig.ServerAddr,
		Handler:        r,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	go func() {
		logger.Info("TenantGate server starting",
			zap.String("addr", srv.Addr),
			zap.String("mode", gin.Mode()))

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 优雅关闭处理
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	} else {
		logger.Info("Server gracefully stopped")
	}

	pool.Close()
	logger.Info("Database connections closed")

	logger.Info("TenantGate server exited")
}
