package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// SecurityConfig 安全闸门与服务配置
type SecurityConfig struct {
	// 提示词闸门
	EnforceBlock bool `json:"enforce_block"` // 是否实际拦截高危消息（false为仅监控）

	// 租户隔离验证
	TenantColumn     string   `json:"tenant_column"`      // 租户标识列名，默认venue_id
	MaxSubqueryDepth int      `json:"max_subquery_depth"` // 子查询最大嵌套深度
	StrictMode       bool     `json:"strict_mode"`        // 严格模式：警告升级为错误
	AllowedTables    []string `json:"allowed_tables"`     // 表访问白名单，空表示不限制

	// 执行器
	QueryTimeout time.Duration `json:"query_timeout"` // 查询超时时间
	MaxRows      int32         `json:"max_rows"`      // 最大返回行数
	MaxResultMB  int32         `json:"max_result_mb"` // 最大结果集大小(MB)

	// 服务
	ServerAddr   string `json:"server_addr"`    // HTTP监听地址
	JWTSecret    string `json:"-"`              // JWT签名密钥（不输出到JSON）
	RateLimitRPS int    `json:"rate_limit_rps"` // 每IP每秒请求数上限
	RateBurst    int    `json:"rate_burst"`     // 突发请求上限
}

// DefaultSecurityConfig 返回默认的安全配置
func DefaultSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		EnforceBlock:     true,
		TenantColumn:     "venue_id",
		MaxSubqueryDepth: 3,
		StrictMode:       false,
		AllowedTables:    nil,

		QueryTimeout: 30 * time.Second,
		MaxRows:      1000,
		MaxResultMB:  10,

		ServerAddr:   ":8080",
		RateLimitRPS: 20,
		RateBurst:    40,
	}
}

// LoadSecurityConfigFromEnv 从环境变量加载安全配置
func LoadSecurityConfigFromEnv() *SecurityConfig {
	c := DefaultSecurityConfig()

	if v := os.Getenv("GATE_ENFORCE_BLOCK"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.EnforceBlock = b
		}
	}
	if v := os.Getenv("GATE_TENANT_COLUMN"); v != "" {
		c.TenantColumn = v
	}
	if v := os.Getenv("GATE_MAX_SUBQUERY_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.MaxSubqueryDepth = n
		}
	}
	if v := os.Getenv("GATE_STRICT_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.StrictMode = b
		}
	}
	if v := os.Getenv("GATE_ALLOWED_TABLES"); v != "" {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				c.AllowedTables = append(c.AllowedTables, t)
			}
		}
	}
	if v := os.Getenv("GATE_QUERY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.QueryTimeout = d
		}
	}
	if v := os.Getenv("GATE_MAX_ROWS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil && n > 0 {
			c.MaxRows = int32(n)
		}
	}
	if v := os.Getenv("GATE_MAX_RESULT_MB"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil && n > 0 {
			c.MaxResultMB = int32(n)
		}
	}
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		c.ServerAddr = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.RateLimitRPS = n
		}
	}
	if v := os.Getenv("RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.RateBurst = n
		}
	}

	return c
}

// Validate 验证安全配置的有效性
func (c *SecurityConfig) Validate() error {
	if c.TenantColumn == "" {
		return fmt.Errorf("租户标识列名不能为空")
	}
	if c.MaxSubqueryDepth < 0 {
		return fmt.Errorf("子查询最大嵌套深度不能为负数")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT签名密钥不能为空，请设置JWT_SECRET环境变量")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT签名密钥长度不能少于32字符")
	}
	if c.RateLimitRPS <= 0 || c.RateBurst < c.RateLimitRPS {
		return fmt.Errorf("限流配置无效: rps=%d burst=%d", c.RateLimitRPS, c.RateBurst)
	}
	return nil
}
