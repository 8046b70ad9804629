package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"go.uber.org/zap"
)

// DatabaseConfig PostgreSQL数据库连接配置
// 支持环境变量配置，适用于容器化部署
type DatabaseConfig struct {
	Host     string `json:"host"`     // 数据库主机地址
	Port     int    `json:"port"`     // 数据库端口
	User     string `json:"user"`     // 数据库用户名
	Password string `json:"-"`        // 数据库密码（不输出到JSON）
	Database string `json:"database"` // 数据库名称

	SSLMode string `json:"ssl_mode"` // SSL模式：disable, require, verify-ca, verify-full

	// 连接池配置 - 基于pgxpool最佳实践
	MaxConns          int32         `json:"max_conns"`           // 最大连接数
	MinConns          int32         `json:"min_conns"`           // 最小连接数（保持热连接）
	MaxConnLifetime   time.Duration `json:"max_conn_lifetime"`   // 连接最大生命周期
	MaxConnIdleTime   time.Duration `json:"max_conn_idle_time"`  // 连接最大空闲时间
	HealthCheckPeriod time.Duration `json:"health_check_period"` // 健康检查周期

	ConnectTimeout time.Duration `json:"connect_timeout"` // 连接超时
	LogLevel       string        `json:"log_level"`       // pgx日志级别：trace, debug, info, warn, error, none

	ApplicationName string `json:"application_name"` // 应用名称（用于数据库监控）
}

// DefaultDatabaseConfig 返回默认的数据库配置
// 适用于开发环境的默认设置
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Database: "tenantgate",
		SSLMode:  "prefer",

		MaxConns:          50,
		MinConns:          5,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: 5 * time.Minute,

		ConnectTimeout: 30 * time.Second,
		LogLevel:       "warn",

		ApplicationName: "tenantgate",
	}
}

// LoadDatabaseConfigFromEnv 从环境变量加载数据库配置
func LoadDatabaseConfigFromEnv() *DatabaseConfig {
	c := DefaultDatabaseConfig()

	if host := os.Getenv("DB_HOST"); host != "" {
		c.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		c.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		c.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		c.Database = name
	}
	if sslMode := os.Getenv("DB_SSL_MODE"); sslMode != "" {
		c.SSLMode = sslMode
	}
	if maxConns := os.Getenv("DB_MAX_CONNS"); maxConns != "" {
		if n, err := strconv.ParseInt(maxConns, 10, 32); err == nil && n > 0 {
			c.MaxConns = int32(n)
		}
	}
	if logLevel := os.Getenv("DB_LOG_LEVEL"); logLevel != "" {
		c.LogLevel = logLevel
	}

	return c
}

// GetConnectionString 构建PostgreSQL连接字符串
func (c *DatabaseConfig) GetConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s application_name=%s connect_timeout=%d",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
		c.ApplicationName, int(c.ConnectTimeout.Seconds()),
	)
}

// Validate 验证数据库配置的有效性
func (c *DatabaseConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("数据库主机地址不能为空")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("数据库端口必须在1-65535范围内")
	}
	if c.User == "" {
		return fmt.Errorf("数据库用户名不能为空")
	}
	if c.Database == "" {
		return fmt.Errorf("数据库名称不能为空")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("最大连接数必须大于0")
	}
	if c.MinConns < 0 {
		return fmt.Errorf("最小连接数不能小于0")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("最小连接数不能大于最大连接数")
	}

	validSSLModes := []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}
	valid := false
	for _, mode := range validSSLModes {
		if c.SSLMode == mode {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("无效的SSL模式: %s", c.SSLMode)
	}

	return nil
}

// GetPoolConfig 获取pgxpool连接池配置
// pgx的查询日志通过tracelog重定向到zap
func (c *DatabaseConfig) GetPoolConfig(logger *zap.Logger) (*pgxpool.Config, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("数据库配置验证失败: %w", err)
	}

	config, err := pgxpool.ParseConfig(c.GetConnectionString())
	if err != nil {
		return nil, fmt.Errorf("解析数据库连接字符串失败: %w", err)
	}

	config.MaxConns = c.MaxConns
	config.MinConns = c.MinConns
	config.MaxConnLifetime = c.MaxConnLifetime
	config.MaxConnIdleTime = c.MaxConnIdleTime
	config.HealthCheckPeriod = c.HealthCheckPeriod

	pgxLogger := NewPgxZapLogger(logger, c.LogLevel)
	config.ConnConfig.Tracer = &tracelog.TraceLog{
		Logger:   pgxLogger,
		LogLevel: pgxLogger.GetLogLevel(),
	}

	return config, nil
}
