// Package gate 两级安全闸门的组合层
// 请求流向: 用户消息 -> 提示词防护(拦截/放行) -> [外部LLM生成SQL]
//        -> 租户隔离SQL验证(拦截/放行) -> 数据库执行
package gate

import (
	"time"

	"go.uber.org/zap"

	"tenantgate-go/internal/guard"
	"tenantgate-go/internal/metrics"
	"tenantgate-go/internal/validator"
)

// Gate 安全闸门
// 两个组件各自无状态，闸门本身也只做组合与指标上报，可无限并发调用
type Gate struct {
	guard     *guard.PromptGuard
	validator *validator.TenantValidator
	metrics   *metrics.GateMetrics
	logger    *zap.Logger

	// enforceBlock 为false时进入监控模式：只记录不拦截，
	// 并返回消毒后的降级文本。消毒不是安全边界，仅用于灰度观察期
	enforceBlock bool
}

// GateConfig 闸门配置
type GateConfig struct {
	EnforceBlock bool `json:"enforce_block"` // 是否实际拦截（false为仅监控）
}

// DefaultGateConfig 默认闸门配置：生产环境实际拦截
func DefaultGateConfig() *GateConfig {
	return &GateConfig{EnforceBlock: true}
}

// NewGate 创建安全闸门
func NewGate(config *GateConfig, m *metrics.GateMetrics, logger *zap.Logger) *Gate {
	if config == nil {
		config = DefaultGateConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		guard:        guard.NewPromptGuard(logger),
		validator:    validator.NewTenantValidator(logger),
		metrics:      m,
		logger:       logger,
		enforceBlock: config.EnforceBlock,
	}
}

// PromptDecision 提示词闸门判定
type PromptDecision struct {
	Allowed          bool                      `json:"allowed"`                     // 是否放行给LLM
	Result           *guard.ComprehensiveResult `json:"result"`                     // 双信号检查结果
	SanitizedMessage string                    `json:"sanitized_message,omitempty"` // 监控模式下的降级文本
}

// CheckPrompt 第一级闸门：检查自然语言消息
func (g *Gate) CheckPrompt(message string) *PromptDecision {
	start := time.Now()
	result := g.guard.ComprehensiveCheck(message)

	decision := &PromptDecision{
		Allowed: !result.ShouldBlock,
		Result:  result,
	}
	if result.ShouldBlock && !g.enforceBlock {
		// 监控模式：放行消毒后的文本，原始判定仍进入日志与指标
		decision.Allowed = true
		decision.SanitizedMessage = g.guard.Sanitize(message)
	}

	if g.metrics != nil {
		g.metrics.RecordPromptCheck(result.ShouldBlock,
			string(result.Detection.Confidence), time.Since(start))
	}
	return decision
}

// CheckSQL 第二级闸门：验证LLM生成的SQL
// 返回结果中 Valid=false 必须无条件阻止执行，没有部分执行的回退路径
func (g *Gate) CheckSQL(sql string, opts *validator.ValidationOptions) *validator.AstValidationResult {
	start := time.Now()
	result := g.validator.ValidateQuery(sql, opts)

	if g.metrics != nil {
		g.metrics.RecordSQLValidation(result.Valid,
			string(result.ViolationType), time.Since(start))
	}
	return result
}

// QuickValidateSQL 轻量SQL预检，供编辑器即时反馈类调用方使用
func (g *Gate) QuickValidateSQL(sql string) *validator.QuickValidationResult {
	return g.validator.QuickValidate(sql)
}
