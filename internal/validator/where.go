package validator

import (
	"fmt"
	"strings"

	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/opcode"
)

// analyzeWhereClause 分析顶层WHERE表达式树
// 租户过滤证明只沿AND合取下降：OR分支中出现的租户等值条件可以被
// 另一分支整体旁路（WHERE venue_id='v1' OR 1=1），因此永远不计入证明
func analyzeWhereClause(where ast.ExprNode, opts *ValidationOptions) *WhereClauseAnalysis {
	wa := &WhereClauseAnalysis{}
	if where == nil {
		return wa
	}

	findTenantFilter(where, opts, wa)
	scanSuspiciousShapes(where, opts, wa, false, true)
	return wa
}

// findTenantFilter 在AND可达范围内搜索租户等值条件
// 只下降到AND两侧和括号内部，遇到OR或其他节点即停止下降
func findTenantFilter(expr ast.ExprNode, opts *ValidationOptions, wa *WhereClauseAnalysis) {
	switch node := expr.(type) {
	case *ast.ParenthesesExpr:
		findTenantFilter(node.Expr, opts, wa)
	case *ast.BinaryOperationExpr:
		switch node.Op {
		case opcode.LogicAnd:
			findTenantFilter(node.L, opts, wa)
			findTenantFilter(node.R, opts, wa)
		case opcode.EQ:
			col, value, ok := extractEquality(node)
			if !ok || !columnMatchesTenant(col, opts.TenantColumn) {
				return
			}
			if value == opts.RequiredTenantID {
				wa.HasTenantFilter = true
				wa.TenantValue = value
			} else {
				wa.MismatchedValues = append(wa.MismatchedValues, value)
				if wa.TenantValue == "" {
					wa.TenantValue = value
				}
			}
		}
	}
}

// extractEquality 从等值比较中提取列名和字面量
// 列和字面量的左右位置不固定，venue_id='v1'与'v1'=venue_id等价
func extractEquality(eq *ast.BinaryOperationExpr) (column string, value string, ok bool) {
	if col, lit := asColumnLiteral(eq.L, eq.R); col != "" {
		return col, lit, true
	}
	if col, lit := asColumnLiteral(eq.R, eq.L); col != "" {
		return col, lit, true
	}
	return "", "", false
}

// asColumnLiteral 尝试将一侧解释为列引用、另一侧解释为字面量
func asColumnLiteral(colSide, litSide ast.ExprNode) (string, string) {
	colExpr, ok := colSide.(*ast.ColumnNameExpr)
	if !ok || colExpr.Name == nil {
		return "", ""
	}
	lit, ok := litSide.(ast.ValueExpr)
	if !ok {
		return "", ""
	}
	return colExpr.Name.Name.L, fmt.Sprintf("%v", lit.GetValue())
}

// columnMatchesTenant 判断列名是否为租户标识列
// 规范化比较：忽略大小写和下划线，venueId、venue_id、VENUEID视为同列
func columnMatchesTenant(column, tenantColumn string) bool {
	return normalizeColumn(column) == normalizeColumn(tenantColumn)
}

func normalizeColumn(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "_", "")
}

// scanSuspiciousShapes 扫描WHERE树中的可疑结构
// 与租户过滤证明相互独立：遍历包括OR分支在内的整棵树，
// 但不进入子查询（子查询由递归管线独立验证）。
// boolCtx 标记当前节点是否处于布尔判定位置，
// 裸字面量只有在布尔位置才构成恒真条件（比较运算的操作数不算）
func scanSuspiciousShapes(expr ast.ExprNode, opts *ValidationOptions, wa *WhereClauseAnalysis, underNot, boolCtx bool) {
	if expr == nil {
		return
	}
	switch node := expr.(type) {
	case *ast.ParenthesesExpr:
		scanSuspiciousShapes(node.Expr, opts, wa, underNot, boolCtx)
	case *ast.BinaryOperationExpr:
		switch node.Op {
		case opcode.LogicOr:
			wa.HasOrCondition = true
			scanSuspiciousShapes(node.L, opts, wa, underNot, true)
			scanSuspiciousShapes(node.R, opts, wa, underNot, true)
		case opcode.LogicAnd:
			scanSuspiciousShapes(node.L, opts, wa, underNot, true)
			scanSuspiciousShapes(node.R, opts, wa, underNot, true)
		case opcode.EQ:
			if isAlwaysTrueEquality(node) {
				wa.SuspiciousPatterns = append(wa.SuspiciousPatterns, "恒真等值条件(如1=1)")
			}
			if underNot {
				if col, _, ok := extractEquality(node); ok && columnMatchesTenant(col, opts.TenantColumn) {
					wa.SuspiciousPatterns = append(wa.SuspiciousPatterns, "NOT运算符作用于租户过滤条件，可能反转过滤语义")
				}
			}
		default:
			scanSuspiciousShapes(node.L, opts, wa, underNot, false)
			scanSuspiciousShapes(node.R, opts, wa, underNot, false)
		}
	case *ast.UnaryOperationExpr:
		if node.Op == opcode.Not {
			wa.SuspiciousPatterns = append(wa.SuspiciousPatterns, "WHERE条件中出现NOT运算符")
			scanSuspiciousShapes(node.V, opts, wa, true, true)
		} else {
			scanSuspiciousShapes(node.V, opts, wa, underNot, boolCtx)
		}
	case *ast.PatternInExpr:
		if node.Sel != nil {
			wa.SuspiciousPatterns = append(wa.SuspiciousPatterns, "IN条件的右侧为子查询，可能引入多租户结果集")
		}
		scanSuspiciousShapes(node.Expr, opts, wa, underNot, false)
		for _, item := range node.List {
			scanSuspiciousShapes(item, opts, wa, underNot, false)
		}
	case ast.ValueExpr:
		if boolCtx && isTruthyLiteral(node) {
			wa.SuspiciousPatterns = append(wa.SuspiciousPatterns, "布尔字面量直接作为过滤条件")
		}
	case *ast.SubqueryExpr, *ast.ExistsSubqueryExpr:
		// 子查询内部由递归验证覆盖，这里不再下降
	}
}

// isAlwaysTrueEquality 判断两侧均为字面量且相等的恒真条件
func isAlwaysTrueEquality(eq *ast.BinaryOperationExpr) bool {
	l, lok := eq.L.(ast.ValueExpr)
	r, rok := eq.R.(ast.ValueExpr)
	if !lok || !rok {
		return false
	}
	return fmt.Sprintf("%v", l.GetValue()) == fmt.Sprintf("%v", r.GetValue())
}

// isTruthyLiteral 判断字面量在布尔上下文中是否恒真
// MySQL方言中TRUE解析为整数1
func isTruthyLiteral(lit ast.ValueExpr) bool {
	switch v := lit.GetValue().(type) {
	case int64:
		return v != 0
	case uint64:
		return v != 0
	case string:
		return v != ""
	default:
		return false
	}
}
