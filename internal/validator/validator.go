// Package validator 租户隔离SQL验证器
// 在LLM生成的SQL执行之前，基于解析树静态证明查询只能触达授权租户的数据
package validator

import (
	"fmt"
	"strings"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/format"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"
	"go.uber.org/zap"
)

const (
	// DefaultTenantColumn 默认租户标识列
	DefaultTenantColumn = "venue_id"
	// DefaultMaxSubqueryDepth 默认子查询最大嵌套深度
	DefaultMaxSubqueryDepth = 3
)

// TenantValidator 租户隔离SQL验证器
// 无状态：每次验证独立解析、独立分配结果对象，可无限并发调用
type TenantValidator struct {
	logger *zap.Logger
}

// NewTenantValidator 创建租户隔离验证器
func NewTenantValidator(logger *zap.Logger) *TenantValidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TenantValidator{logger: logger}
}

// applyDefaults 填充选项默认值，返回副本避免修改调用方数据
func applyDefaults(opts *ValidationOptions) ValidationOptions {
	o := ValidationOptions{}
	if opts != nil {
		o = *opts
	}
	if o.TenantColumn == "" {
		o.TenantColumn = DefaultTenantColumn
	}
	if o.MaxSubqueryDepth <= 0 {
		o.MaxSubqueryDepth = DefaultMaxSubqueryDepth
	}
	return o
}

// ValidateQuery 验证SQL查询的租户隔离性
// 除解析失败外所有阶段都完整执行，错误和警告聚合到同一结果中，
// 保证审计日志能看到全部违规而不只是第一条
func (v *TenantValidator) ValidateQuery(sql string, opts *ValidationOptions) *AstValidationResult {
	o := applyDefaults(opts)
	result := v.validateAtDepth(sql, &o, 0)

	if !result.Valid {
		v.logger.Warn("SQL租户隔离验证未通过",
			zap.String("violation_type", string(result.ViolationType)),
			zap.Strings("errors", result.Errors),
			zap.Strings("tables", result.Details.TablesAccessed),
			zap.String("sql_excerpt", excerpt(sql, 120)))
	} else if len(result.Warnings) > 0 {
		v.logger.Info("SQL验证通过但存在警告",
			zap.Strings("warnings", result.Warnings),
			zap.String("sql_excerpt", excerpt(sql, 120)))
	}
	return result
}

// validateAtDepth 带显式深度计数的验证管线
// 深度计数由调用链显式传递而非依赖调用栈，防御对抗性深层嵌套
func (v *TenantValidator) validateAtDepth(sql string, opts *ValidationOptions, depth int) *AstValidationResult {
	result := &AstValidationResult{
		Valid:    true,
		Errors:   []string{},
		Warnings: []string{},
		Details: ValidationDetails{
			TablesAccessed: []string{},
		},
	}

	if depth > opts.MaxSubqueryDepth {
		result.addError(
			fmt.Sprintf("子查询嵌套深度超过限制: %d, 最大允许: %d", depth, opts.MaxSubqueryDepth),
			ViolationDangerousOperation)
		return result
	}

	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		result.addError("SQL查询不能为空", ViolationInjectionAttempt)
		return result
	}

	// 原始文本危险函数黑名单，先于解析执行：
	// 解析失败的输入同样要被黑名单命中，字符串字面量里的危险函数也不放过
	v.checkDangerousFunctions(sql, result)

	// 阶段1: 解析为语法树
	// 解析失败本身就是注入信号（畸形输入），管线中唯一的短路点
	stmts, _, err := parser.New().ParseSQL(sql)
	if err != nil {
		result.addError(fmt.Sprintf("SQL解析失败，疑似注入攻击: %v", err), ViolationInjectionAttempt)
		return result
	}
	if len(stmts) == 0 {
		result.addError("未解析到任何SQL语句", ViolationInjectionAttempt)
		return result
	}
	if len(stmts) > 1 {
		result.addError(
			fmt.Sprintf("检测到多条SQL语句(%d条)，疑似堆叠查询", len(stmts)),
			ViolationInjectionAttempt)
	}

	for _, stmt := range stmts {
		v.validateStmt(stmt, opts, depth, result)
	}

	return result
}

// validateStmt 验证单条语句
func (v *TenantValidator) validateStmt(stmt ast.StmtNode, opts *ValidationOptions, depth int, result *AstValidationResult) {
	// 阶段2: 语句类型检查，数据变更语句无论租户过滤如何一律拒绝
	sel, ok := stmt.(*ast.SelectStmt)
	if !ok {
		switch stmt.(type) {
		case *ast.SetOprStmt:
			result.addError("检测到UNION等集合操作语句，存在跨租户数据拼接风险", ViolationInjectionAttempt)
		default:
			result.addError(fmt.Sprintf("仅允许SELECT查询，检测到: %T", stmt), ViolationDangerousOperation)
		}
		return
	}
	v.validateSelect(sel, opts, depth, result)
}

// validateSelect 对单个SELECT执行阶段3~7
func (v *TenantValidator) validateSelect(sel *ast.SelectStmt, opts *ValidationOptions, depth int, result *AstValidationResult) {
	// 阶段3: 提取全部表名（含子查询内嵌套的）并核对允许列表
	tables := collectTables(sel)
	result.Details.TablesAccessed = mergeTables(result.Details.TablesAccessed, tables)
	if len(opts.AllowedTables) > 0 {
		for _, table := range tables {
			if !tableAllowed(table, opts.AllowedTables) {
				result.addError(fmt.Sprintf("访问了未授权的表: %s", table), ViolationUnauthorizedTable)
			}
		}
	}

	// 阶段4+5: 顶层WHERE的租户过滤证明与可疑结构扫描
	wa := analyzeWhereClause(sel.Where, opts)
	result.Details.TenantFilterFound = wa.HasTenantFilter
	result.Details.TenantFilterValue = wa.TenantValue
	result.Details.SuspiciousPatterns = append(result.Details.SuspiciousPatterns, wa.SuspiciousPatterns...)

	for _, mismatched := range wa.MismatchedValues {
		result.addError(
			fmt.Sprintf("租户过滤值不匹配: 查询中为 %q, 授权租户为 %q", mismatched, opts.RequiredTenantID),
			ViolationCrossTenantAccess)
	}
	if !wa.HasTenantFilter && len(wa.MismatchedValues) == 0 {
		result.addError(
			fmt.Sprintf("缺少租户过滤条件: WHERE子句中不存在AND可达的 %s 等值过滤", opts.TenantColumn),
			ViolationMissingTenantFilter)
	}
	if wa.HasOrCondition {
		result.addWarning("WHERE子句包含OR分支，OR分支内的租户过滤不计入隔离证明", opts.StrictMode, ViolationMissingTenantFilter)
	}
	for _, pattern := range wa.SuspiciousPatterns {
		result.addWarning(fmt.Sprintf("可疑的WHERE结构: %s", pattern), opts.StrictMode, ViolationInjectionAttempt)
	}

	// 阶段7: JOIN必须携带ON条件
	if sel.From != nil && sel.From.TableRefs != nil {
		v.validateJoins(sel.From.TableRefs, opts, result)
	}

	// 阶段6: 递归验证FROM、SELECT列、WHERE、HAVING中的子查询
	subqueries := collectSubqueries(sel)
	if len(subqueries) > 0 {
		result.Details.HasSubqueries = true
	}
	for _, sub := range subqueries {
		subSQL, err := restoreNode(sub)
		if err != nil {
			result.addError(fmt.Sprintf("无法还原子查询文本: %v", err), ViolationInjectionAttempt)
			continue
		}
		subResult := v.validateAtDepth(subSQL, opts, depth+1)
		mergeSubqueryResult(result, subResult, depth+1)
	}
}

// mergeSubqueryResult 将子查询验证结果合并到外层结果
func mergeSubqueryResult(outer, sub *AstValidationResult, depth int) {
	for _, e := range sub.Errors {
		outer.addError(fmt.Sprintf("子查询(第%d层): %s", depth, e), sub.ViolationType)
	}
	for _, w := range sub.Warnings {
		outer.Warnings = append(outer.Warnings, fmt.Sprintf("子查询(第%d层): %s", depth, w))
	}
	outer.Details.TablesAccessed = mergeTables(outer.Details.TablesAccessed, sub.Details.TablesAccessed)
	outer.Details.SuspiciousPatterns = append(outer.Details.SuspiciousPatterns, sub.Details.SuspiciousPatterns...)
	if sub.Details.HasSubqueries {
		outer.Details.HasSubqueries = true
	}
	if sub.Details.HasJoins {
		outer.Details.HasJoins = true
	}
}

// QuickValidate 轻量预检：仅检查可解析且为单条SELECT
// 供编辑器即时反馈等只需快速判定的调用方使用，不做租户隔离证明
func (v *TenantValidator) QuickValidate(sql string) *QuickValidationResult {
	if strings.TrimSpace(sql) == "" {
		return &QuickValidationResult{Valid: false, Error: "SQL查询不能为空"}
	}
	stmts, _, err := parser.New().ParseSQL(sql)
	if err != nil {
		return &QuickValidationResult{Valid: false, Error: fmt.Sprintf("SQL解析失败: %v", err)}
	}
	if len(stmts) != 1 {
		return &QuickValidationResult{Valid: false, Error: fmt.Sprintf("仅允许单条语句，检测到%d条", len(stmts))}
	}
	if _, ok := stmts[0].(*ast.SelectStmt); !ok {
		return &QuickValidationResult{Valid: false, Error: fmt.Sprintf("仅允许SELECT查询，检测到: %T", stmts[0])}
	}
	return &QuickValidationResult{Valid: true}
}

// restoreNode 将AST节点还原为SQL文本
func restoreNode(node ast.Node) (string, error) {
	var sb strings.Builder
	ctx := format.NewRestoreCtx(format.DefaultRestoreFlags, &sb)
	if err := node.Restore(ctx); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// excerpt 截断文本用于日志记录，按rune截断避免切断多字节字符
func excerpt(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// mergeTables 合并表名并去重（忽略大小写）
func mergeTables(existing, incoming []string) []string {
	for _, t := range incoming {
		found := false
		for _, e := range existing {
			if strings.EqualFold(e, t) {
				found = true
				break
			}
		}
		if !found {
			existing = append(existing, t)
		}
	}
	return existing
}

// tableAllowed 检查表名是否在允许列表中（忽略大小写）
func tableAllowed(table string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(a, table) {
			return true
		}
	}
	return false
}
