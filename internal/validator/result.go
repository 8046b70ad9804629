package validator

// ViolationType 违规类型分类
// 用于审计日志按违规类别聚合统计
type ViolationType string

const (
	// ViolationMissingTenantFilter WHERE子句中不存在AND可达的租户过滤条件
	ViolationMissingTenantFilter ViolationType = "MISSING_TENANT_FILTER"
	// ViolationCrossTenantAccess 租户过滤条件的字面量与授权租户不一致
	ViolationCrossTenantAccess ViolationType = "CROSS_TENANT_ACCESS"
	// ViolationUnauthorizedTable 访问了允许列表之外的表
	ViolationUnauthorizedTable ViolationType = "UNAUTHORIZED_TABLE"
	// ViolationDangerousOperation 非SELECT语句、危险函数或无ON条件的JOIN
	ViolationDangerousOperation ViolationType = "DANGEROUS_OPERATION"
	// ViolationInjectionAttempt 无法解析的SQL或注入形态的结构
	ViolationInjectionAttempt ViolationType = "INJECTION_ATTEMPT"
)

// ValidationOptions SQL验证器的输入契约
type ValidationOptions struct {
	// RequiredTenantID 必须以等值条件出现的租户标识
	RequiredTenantID string `json:"required_tenant_id"`
	// TenantColumn 租户标识列名，默认venue_id
	// 比较时忽略大小写和下划线，venueId与venue_id视为同一列
	TenantColumn string `json:"tenant_column,omitempty"`
	// AllowedTables 可访问表的允许列表，为空时不限制表名
	AllowedTables []string `json:"allowed_tables,omitempty"`
	// MaxSubqueryDepth 子查询最大嵌套深度，默认3
	MaxSubqueryDepth int `json:"max_subquery_depth,omitempty"`
	// StrictMode 严格模式：警告升级为错误
	StrictMode bool `json:"strict_mode,omitempty"`
}

// ValidationDetails 验证过程细节
// 无论验证是否通过都会填充，供审计日志还原查询结构
type ValidationDetails struct {
	TenantFilterFound  bool     `json:"tenant_filter_found"`            // 是否找到租户过滤条件
	TenantFilterValue  string   `json:"tenant_filter_value,omitempty"`  // 过滤条件中的字面量值
	HasSubqueries      bool     `json:"has_subqueries"`                 // 是否包含子查询
	HasJoins           bool     `json:"has_joins"`                      // 是否包含JOIN
	TablesAccessed     []string `json:"tables_accessed"`                // 涉及的全部表名（含子查询）
	SuspiciousPatterns []string `json:"suspicious_patterns,omitempty"`  // 检测到的可疑结构描述
}

// AstValidationResult 验证结果
// 每次验证独立构造，不可变，除计入审计日志外不做持久化
type AstValidationResult struct {
	Valid         bool              `json:"valid"`                    // 是否通过（错误列表为空）
	Errors        []string          `json:"errors"`                   // 终止性拒绝原因
	Warnings      []string          `json:"warnings"`                 // 非致命提示
	ViolationType ViolationType     `json:"violation_type,omitempty"` // 首个违规分类
	Details       ValidationDetails `json:"details"`                  // 结构细节
}

// addError 追加错误并记录首个违规分类
func (r *AstValidationResult) addError(msg string, vt ViolationType) {
	r.Errors = append(r.Errors, msg)
	r.Valid = false
	if r.ViolationType == "" {
		r.ViolationType = vt
	}
}

// addWarning 追加警告，严格模式下升级为错误
func (r *AstValidationResult) addWarning(msg string, strict bool, vt ViolationType) {
	if strict {
		r.addError(msg, vt)
		return
	}
	r.Warnings = append(r.Warnings, msg)
}

// WhereClauseAnalysis WHERE子句分析结果（内部结构，不对外暴露）
type WhereClauseAnalysis struct {
	HasTenantFilter    bool     // 是否存在AND可达的租户等值条件
	TenantValue        string   // 等值条件中的字面量
	MismatchedValues   []string // AND可达但与授权租户不一致的字面量
	HasOrCondition     bool     // 是否存在OR分支
	SuspiciousPatterns []string // WHERE树中发现的可疑结构
}

// QuickValidationResult 轻量预检结果
type QuickValidationResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}
